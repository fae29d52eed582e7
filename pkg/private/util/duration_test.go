// Copyright 2026 SCION Association
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/pkg/private/util"
)

func TestParseDuration(t *testing.T) {
	testCases := map[string]struct {
		input     string
		want      time.Duration
		assertErr assert.ErrorAssertionFunc
	}{
		"seconds":       {input: "15s", want: 15 * time.Second, assertErr: assert.NoError},
		"plain integer": {input: "300", want: 300 * time.Second, assertErr: assert.NoError},
		"days":          {input: "7d", want: 7 * 24 * time.Hour, assertErr: assert.NoError},
		"milliseconds":  {input: "250ms", want: 250 * time.Millisecond, assertErr: assert.NoError},
		"garbage":       {input: "soon", assertErr: assert.Error},
		"empty":         {input: "", assertErr: assert.Error},
		"mixed units":   {input: "1h30m", assertErr: assert.Error},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := util.ParseDuration(tc.input)
			tc.assertErr(t, err)
			if err == nil {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestFmtDurationRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		0, 5 * time.Second, 90 * time.Second, 24 * time.Hour, 120 * time.Second, time.Millisecond,
	} {
		parsed, err := util.ParseDuration(util.FmtDuration(d))
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}

func TestDurWrap(t *testing.T) {
	var d util.DurWrap
	require.NoError(t, d.UnmarshalText([]byte("2m")))
	assert.Equal(t, 2*time.Minute, d.Duration)
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2m", string(text))

	d.InitDefault(time.Hour)
	assert.Equal(t, 2*time.Minute, d.Duration)
	var unset util.DurWrap
	unset.InitDefault(time.Hour)
	assert.Equal(t, "1h", unset.String())
	assert.Error(t, unset.UnmarshalText([]byte("2 minutes")))
}
