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

package config_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/private/config"
)

type block struct {
	config.NoDefaulter
	config.NoValidator
	Tick string `toml:"tick,omitempty"`
}

func (b *block) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, "\ntick = \"15s\"\n")
}

func (b *block) ConfigName() string {
	return "controller"
}

func TestDecode(t *testing.T) {
	testCases := map[string]struct {
		Input          string
		Expected       string
		ErrorAssertion assert.ErrorAssertionFunc
	}{
		"valid": {
			Input:          `tick = "10s"`,
			Expected:       "10s",
			ErrorAssertion: assert.NoError,
		},
		"unknown field": {
			Input:          `tock = "10s"`,
			ErrorAssertion: assert.Error,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			var b block
			err := config.Decode([]byte(tc.Input), &b)
			tc.ErrorAssertion(t, err)
			assert.Equal(t, tc.Expected, b.Tick)
		})
	}
}

func TestWriteSampleTable(t *testing.T) {
	var buf bytes.Buffer
	config.WriteSample(&buf, config.Path{"rcp"}, nil, &block{})
	assert.Equal(t, "\n[rcp.controller]\n    tick = \"15s\"\n", buf.String())
}

type plain struct{}

func (plain) Sample(dst io.Writer, _ config.Path, ctx config.CtxMap) {
	config.WriteString(dst, "id = \""+ctx[config.ID]+"\"\n\n")
}

func TestWriteSampleMixed(t *testing.T) {
	var buf bytes.Buffer
	config.WriteSample(&buf, config.Path{"rcp"}, config.CtxMap{config.ID: "rcp-1"},
		plain{}, &block{})
	assert.Equal(t, "id = \"rcp-1\"\n\n\n[rcp.controller]\n    tick = \"15s\"\n", buf.String())
}

func TestDigest(t *testing.T) {
	a, err := config.Digest(&block{Tick: "15s"})
	require.NoError(t, err)
	b, err := config.Digest(&block{Tick: "15s"})
	require.NoError(t, err)
	c, err := config.Digest(&block{Tick: "10s"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}
