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

// Package dbtest contains a test suite that every delta.DB implementation
// has to pass.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/errkind"
)

const timeout = 3 * time.Second

var t0 = time.Unix(1_700_000_000, 0).UTC()

// TestableDB extends the delta DB interface with methods that are needed
// for testing.
type TestableDB interface {
	delta.DB
	// Prepare should reset the internal state so that the DB is empty and
	// is ready to be tested.
	Prepare(t *testing.T, ctx context.Context)
}

// Run should be used to test any implementation of the delta.DB interface.
// An implementation of the delta.DB interface should at least have one test
// method that calls this test-suite.
func Run(t *testing.T, db TestableDB) {
	run := func(name string, test func(*testing.T, context.Context, delta.DB)) {
		t.Run(name, func(t *testing.T) {
			ctx, cancelF := context.WithTimeout(context.Background(), timeout)
			defer cancelF()
			db.Prepare(t, ctx)
			test(t, ctx, db)
		})
	}
	run("insert and get", testInsertGet)
	run("insert duplicate", testInsertDuplicate)
	run("list", testList)
	run("update state", testUpdateState)
	run("linked reduction", testLinkedReduction)
	run("render failures", testRenderFailures)
	run("delete terminal", testDeleteTerminal)
}

// NewDelta returns a delta in state accepting inserted at t0+offset seconds.
func NewDelta(id, conn string, offset int64) *delta.Delta {
	at := t0.Add(time.Duration(offset) * time.Second)
	return &delta.Delta{
		ID:           id,
		InsertTime:   at,
		UpdateTime:   at,
		State:        delta.Accepting,
		Kind:         delta.Addition,
		Content:      []byte(`{"vsw":{"` + conn + `":{}}}`),
		ModelID:      "model-1",
		ConnectionID: conn,
	}
}

func testInsertGet(t *testing.T, ctx context.Context, db delta.DB) {
	d := NewDelta("d1", "conn-1", 0)
	require.NoError(t, db.Insert(ctx, d))
	got, err := db.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	_, err = db.Get(ctx, "unknown")
	assert.ErrorIs(t, err, delta.ErrNotFound)
	assert.Equal(t, errkind.NotFound, errkind.Of(err))

	history, err := db.History(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []delta.Transition{{ID: "d1", State: delta.Accepting, Time: t0}}, history)
}

func testInsertDuplicate(t *testing.T, ctx context.Context, db delta.DB) {
	require.NoError(t, db.Insert(ctx, NewDelta("d1", "conn-1", 0)))
	err := db.Insert(ctx, NewDelta("d1", "conn-2", 5))
	assert.ErrorIs(t, err, delta.ErrExists)
	assert.Equal(t, errkind.Conflict, errkind.Of(err))
	got, err := db.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", got.ConnectionID)
}

func testList(t *testing.T, ctx context.Context, db delta.DB) {
	// d2 and d3 share the insert time, the ID breaks the tie.
	for _, d := range []*delta.Delta{
		NewDelta("d3", "conn-2", 10),
		NewDelta("d1", "conn-1", 0),
		NewDelta("d2", "conn-1", 10),
		NewDelta("d4", "conn-3", 20),
	} {
		require.NoError(t, db.Insert(ctx, d))
	}
	require.NoError(t, db.UpdateState(ctx, "d4", delta.Accepting, delta.Accepted,
		t0.Add(30*time.Second), ""))

	ids := func(ds []*delta.Delta) []string {
		var res []string
		for _, d := range ds {
			res = append(res, d.ID)
		}
		return res
	}
	testCases := map[string]struct {
		Filter   delta.ListFilter
		Expected []string
	}{
		"all": {
			Expected: []string{"d1", "d2", "d3", "d4"},
		},
		"limit": {
			Filter:   delta.ListFilter{Limit: 2},
			Expected: []string{"d1", "d2"},
		},
		"updated since": {
			Filter:   delta.ListFilter{UpdatedSince: t0.Add(10 * time.Second)},
			Expected: []string{"d2", "d3", "d4"},
		},
		"states": {
			Filter:   delta.ListFilter{States: []delta.State{delta.Accepted, delta.Failed}},
			Expected: []string{"d4"},
		},
		"connection": {
			Filter:   delta.ListFilter{ConnectionID: "conn-1"},
			Expected: []string{"d1", "d2"},
		},
		"combined": {
			Filter: delta.ListFilter{
				States:       []delta.State{delta.Accepting},
				UpdatedSince: t0.Add(5 * time.Second),
			},
			Expected: []string{"d2", "d3"},
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			res, err := db.List(ctx, tc.Filter)
			require.NoError(t, err)
			assert.Equal(t, tc.Expected, ids(res))
		})
	}
}

func testUpdateState(t *testing.T, ctx context.Context, db delta.DB) {
	require.NoError(t, db.Insert(ctx, NewDelta("d1", "conn-1", 0)))
	t1 := t0.Add(15 * time.Second)
	require.NoError(t, db.UpdateState(ctx, "d1", delta.Accepting, delta.Accepted, t1, ""))

	err := db.UpdateState(ctx, "d1", delta.Accepting, delta.Failed, t1, "late")
	assert.ErrorIs(t, err, delta.ErrStateMismatch)
	assert.Equal(t, errkind.PreconditionFailed, errkind.Of(err))

	err = db.UpdateState(ctx, "unknown", delta.Accepting, delta.Failed, t1, "")
	assert.ErrorIs(t, err, delta.ErrNotFound)

	t2 := t1.Add(300 * time.Second)
	require.NoError(t, db.UpdateState(ctx, "d1", delta.Accepted, delta.Failed, t2,
		"commit timeout"))
	got, err := db.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, delta.Failed, got.State)
	assert.Equal(t, t2, got.UpdateTime)
	assert.Equal(t, t0, got.InsertTime)
	assert.Equal(t, "commit timeout", got.Reason)

	history, err := db.History(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []delta.Transition{
		{ID: "d1", State: delta.Accepting, Time: t0},
		{ID: "d1", State: delta.Accepted, Time: t1},
		{ID: "d1", State: delta.Failed, Time: t2, Reason: "commit timeout"},
	}, history)
}

func testLinkedReduction(t *testing.T, ctx context.Context, db delta.DB) {
	require.NoError(t, db.Insert(ctx, NewDelta("d1", "conn-1", 0)))
	require.NoError(t, db.SetLinkedReduction(ctx, "d1", "r1"))
	got, err := db.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.LinkedReductionID)
	assert.ErrorIs(t, db.SetLinkedReduction(ctx, "unknown", "r1"), delta.ErrNotFound)
}

func testRenderFailures(t *testing.T, ctx context.Context, db delta.DB) {
	require.NoError(t, db.Insert(ctx, NewDelta("d1", "conn-1", 0)))
	for want := 1; want <= 2; want++ {
		n, err := db.AddRenderFailure(ctx, "d1", delta.Accepting)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	got, err := db.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RenderFailures)

	_, err = db.AddRenderFailure(ctx, "d1", delta.Activating)
	assert.ErrorIs(t, err, delta.ErrStateMismatch)
	_, err = db.AddRenderFailure(ctx, "unknown", delta.Accepting)
	assert.ErrorIs(t, err, delta.ErrNotFound)

	// A transition starts counting anew.
	require.NoError(t, db.UpdateState(ctx, "d1", delta.Accepting, delta.Accepted,
		t0.Add(time.Second), ""))
	got, err = db.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Zero(t, got.RenderFailures)
	n, err := db.AddRenderFailure(ctx, "d1", delta.Accepted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testDeleteTerminal(t *testing.T, ctx context.Context, db delta.DB) {
	require.NoError(t, db.Insert(ctx, NewDelta("d1", "conn-1", 0)))
	require.NoError(t, db.Insert(ctx, NewDelta("d2", "conn-2", 0)))
	require.NoError(t, db.Insert(ctx, NewDelta("d3", "conn-3", 0)))
	require.NoError(t, db.UpdateState(ctx, "d1", delta.Accepting, delta.Failed,
		t0.Add(10*time.Second), "rejected"))
	require.NoError(t, db.UpdateState(ctx, "d2", delta.Accepting, delta.Failed,
		t0.Add(100*time.Second), "rejected"))

	n, err := db.DeleteTerminalBefore(ctx, t0.Add(50*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = db.Get(ctx, "d1")
	assert.ErrorIs(t, err, delta.ErrNotFound)
	_, err = db.History(ctx, "d1")
	assert.ErrorIs(t, err, delta.ErrNotFound)

	// Non terminal deltas are never deleted.
	n, err = db.DeleteTerminalBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = db.Get(ctx, "d3")
	assert.NoError(t, err)
}
