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

package cleaner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/private/storage/cleaner"
)

func TestCleaner(t *testing.T) {
	testCases := map[string]struct {
		Count   int
		Err     error
		Runs    float64
		Errors  float64
		Deleted float64
	}{
		"deleted":    {Count: 3, Runs: 1, Deleted: 3},
		"nothing":    {Count: 0, Runs: 1},
		"error":      {Err: errors.New("boom"), Errors: 1},
		"error skip": {Count: 5, Err: errors.New("boom"), Errors: 1},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			c := clock.NewFake(1_700_000_000)
			m := cleaner.Metrics{
				ErrorsTotal:  metrics.NewTestCounter(),
				RunsTotal:    metrics.NewTestCounter(),
				DeletedTotal: metrics.NewTestCounter(),
			}
			var called time.Time
			cl := cleaner.New(func(_ context.Context, now time.Time) (int, error) {
				called = now
				return tc.Count, tc.Err
			}, "deltas", c, m)
			assert.Equal(t, "deltas_cleaner", cl.Name())

			cl.Run(context.Background())
			assert.Equal(t, c.Now(), called)
			assert.Equal(t, tc.Runs, metrics.CounterValue(m.RunsTotal))
			assert.Equal(t, tc.Errors, metrics.CounterValue(m.ErrorsTotal))
			assert.Equal(t, tc.Deleted, metrics.CounterValue(m.DeletedTotal))
		})
	}
}
