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

package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/private/storage"
	"github.com/siterm/rcp/private/storage/delta/dbtest"
	"github.com/siterm/rcp/private/storage/model"
)

func TestSetID(t *testing.T) {
	c := storage.SetID(storage.SampleDeltaDB, "ctrl-1")
	assert.Equal(t, "/share/data/ctrl-1.delta.db", c.Connection)
	assert.Equal(t, storage.DefaultDeltaDBPath, storage.SampleDeltaDB.Connection)

	m := storage.SetModelID(storage.SampleModelDB, "ctrl-1")
	assert.Equal(t, "/share/cache/ctrl-1.model.db", m.Connection)
	assert.Equal(t, "/share/cache/ctrl-1.model.bolt", m.BlobPath)
}

func TestFactories(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	queries := metrics.NewTestCounter()
	opts := storage.Options{
		Clock:         clock.NewFake(1_700_000_000),
		QueriesTotal:  queries,
		CleanerPeriod: time.Hour,
	}

	deltas, err := storage.NewDeltaStorage(
		storage.DBConfig{Connection: filepath.Join(dir, "delta.db")}, time.Hour, opts)
	require.NoError(t, err)
	require.NoError(t, deltas.Insert(ctx, dbtest.NewDelta("d1", "conn-1", 0)))
	_, err = deltas.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), metrics.CounterValue(queries.With(
		"driver", "sqlite", "operation", "get", "result", "ok_success")))
	require.NoError(t, deltas.Close())

	set, err := storage.NewActiveSetStorage(
		storage.DBConfig{Connection: filepath.Join(dir, "reservation.db")}, 0, opts)
	require.NoError(t, err)
	require.NoError(t, set.Save(ctx, 1, time.Unix(1_700_000_000, 0), []byte("[]")))
	version, doc, err := set.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, []byte("[]"), doc)
	require.NoError(t, set.Close())

	models, err := storage.NewModelStorage(storage.ModelDBConfig{
		DBConfig: storage.DBConfig{Connection: filepath.Join(dir, "model.db")},
		BlobPath: filepath.Join(dir, "model.bolt"),
	}, 7*24*time.Hour, 1000, opts)
	require.NoError(t, err)
	_, stored, err := models.Save(ctx, &model.Snapshot{
		ID:           "m1",
		CreationTime: time.Unix(1_700_000_000, 0).UTC(),
		ContentHash:  "h",
		Graph:        []byte("{}"),
	})
	require.NoError(t, err)
	assert.True(t, stored)
	latest, err := models.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", latest.ID)
	require.NoError(t, models.Close())
}
