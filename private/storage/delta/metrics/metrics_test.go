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

package metrics_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/pkg/delta"
	libmetrics "github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/private/storage/delta/dbtest"
	"github.com/siterm/rcp/private/storage/delta/metrics"
	"github.com/siterm/rcp/private/storage/delta/sqlite"
)

type TestDB struct {
	delta.DB
	queries *libmetrics.TestCounter
}

func (b *TestDB) Prepare(t *testing.T, _ context.Context) {
	backend, err := sqlite.New(filepath.Join(t.TempDir(), "delta.db"))
	require.NoError(t, err)
	b.queries = libmetrics.NewTestCounter()
	b.DB = metrics.WrapDB(backend, metrics.Config{Driver: "sqlite", QueriesTotal: b.queries})
	t.Cleanup(func() { backend.Close() })
}

func TestMetricWrapperSuite(t *testing.T) {
	dbtest.Run(t, &TestDB{})
}

func TestQueriesCounted(t *testing.T) {
	tdb := &TestDB{}
	ctx := context.Background()
	tdb.Prepare(t, ctx)
	require.NoError(t, tdb.Insert(ctx, dbtest.NewDelta("d1", "conn-1", 0)))
	_, err := tdb.Get(ctx, "d1")
	require.NoError(t, err)
	_, err = tdb.Get(ctx, "d2")
	require.Error(t, err)

	get := func(result string) float64 {
		return libmetrics.CounterValue(tdb.queries.With(
			"driver", "sqlite", "operation", "get", "result", result))
	}
	assert.Equal(t, float64(1), get("ok_success"))
	assert.Equal(t, float64(1), get("err_not_found"))
	assert.Equal(t, float64(1), libmetrics.CounterValue(tdb.queries.With(
		"driver", "sqlite", "operation", "insert", "result", "ok_success")))
}
