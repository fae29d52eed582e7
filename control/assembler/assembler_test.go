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

package assembler_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/control/assembler"
	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/identity"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/pkg/reservation/restest"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/storage/activeset/settest"
	"github.com/siterm/rcp/private/storage/model"
	"github.com/siterm/rcp/private/storage/model/blob"
	"github.com/siterm/rcp/private/storage/model/sqlite"
	"github.com/siterm/rcp/private/topology"
	"github.com/siterm/rcp/private/topology/topotest"
)

const now = 1_700_000_000

type env struct {
	clock  *clock.Fake
	topo   *topology.Model
	set    *activeset.Store
	asm    *assembler.Assembler
	builds *metrics.TestCounter
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	meta, err := sqlite.New(filepath.Join(dir, "models.db"))
	require.NoError(t, err)
	blobs, err := blob.New(filepath.Join(dir, "models.bolt"))
	require.NoError(t, err)
	db, err := model.NewStore(meta, blobs, 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := clock.NewFake(now)
	builds := metrics.NewTestCounter()
	return &env{
		clock:  c,
		topo:   topotest.NewModel(t),
		set:    settest.NewStore(t, c),
		asm:    assembler.New(db, c, identity.NewDeterministic("test"), assembler.Metrics{Builds: builds}),
		builds: builds,
	}
}

func (e *env) build(t *testing.T) (*model.Snapshot, bool) {
	t.Helper()
	snap, stored, err := e.asm.Build(context.Background(), e.topo.Snapshot(), e.set.Snapshot())
	require.NoError(t, err)
	return snap, stored
}

func (e *env) insert(t *testing.T, id string, end int64, state delta.State) *reservation.Reservation {
	t.Helper()
	rs, err := reservation.Parse(restest.VSwitch(t, restest.Conn{
		ID: id, Start: now, End: end,
		Endpoints: []restest.Endpoint{{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3610, Mbps: 1000}},
	}))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	r := rs[0]
	r.VSwitch.Endpoints[0].Port = topology.Normalize(r.VSwitch.Endpoints[0].Port)
	r.DeltaID, r.State = "d-"+id, state
	require.NoError(t, e.set.Insert(context.Background(), r))
	return r
}

func TestBuildTagsReservations(t *testing.T) {
	e := newEnv(t)
	e.insert(t, "c1", now+3600, delta.Activated)

	snap, stored := e.build(t)
	assert.True(t, stored)
	assert.Equal(t, assembler.Hash(snap.Graph), snap.ContentHash)
	assert.Equal(t, int64(now), snap.CreationTime.Unix())

	g, err := assembler.Unmarshal(snap.Graph)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "vsw:c1", g.Nodes[0].URI)
	assert.Equal(t, "monitor:status:activated", g.Nodes[0].Tag)
	assert.Equal(t, []string{"sw0:Ethernet_1-1"}, g.Nodes[0].Ports)
	assert.Equal(t, []string{"sw0"}, g.Nodes[0].Devices)
	var names []string
	for _, d := range g.Devices {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"host0", "sw0", "sw1"}, names)
	assert.Equal(t, 1.0, metrics.CounterValue(e.builds.With("result", assembler.ResultStored)))
}

func TestBuildUnchanged(t *testing.T) {
	e := newEnv(t)
	r := e.insert(t, "c1", now+3600, delta.Activating)

	first, stored := e.build(t)
	require.True(t, stored)

	e.clock.AdvanceSeconds(15)
	second, stored := e.build(t)
	assert.False(t, stored)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1.0, metrics.CounterValue(e.builds.With("result", assembler.ResultUnchanged)))

	r.State = delta.Activated
	require.NoError(t, e.set.Replace(context.Background(), r))
	third, stored := e.build(t)
	assert.True(t, stored)
	assert.NotEqual(t, first.ID, third.ID)
	assert.NotEqual(t, first.ContentHash, third.ContentHash)
}

func TestBuildExcludesEnded(t *testing.T) {
	e := newEnv(t)
	e.insert(t, "c1", now+10, delta.Activated)

	snap, _ := e.build(t)
	g, err := assembler.Unmarshal(snap.Graph)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)

	e.clock.AdvanceSeconds(10)
	snap, stored := e.build(t)
	assert.True(t, stored)
	g, err = assembler.Unmarshal(snap.Graph)
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)
}

func TestMarshalDeterministic(t *testing.T) {
	a := topotest.NewModel(t).Snapshot()
	b := topotest.NewModel(t).Snapshot()
	rs, err := reservation.Parse(restest.VSwitch(t,
		restest.Conn{ID: "c2", Endpoints: []restest.Endpoint{
			{Device: "sw1", Port: "Ethernet 1/2", VLAN: 3601},
			{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3601},
		}},
		restest.Conn{ID: "c1", Endpoints: []restest.Endpoint{
			{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3602},
		}},
	))
	require.NoError(t, err)
	reversed := []*reservation.Reservation{rs[1], rs[0]}

	ga, err := assembler.Marshal(a, rs, now)
	require.NoError(t, err)
	gb, err := assembler.Marshal(b, reversed, now)
	require.NoError(t, err)
	assert.Equal(t, string(ga), string(gb))
	assert.Equal(t, assembler.Hash(ga), assembler.Hash(gb))
}

func TestGet(t *testing.T) {
	e := newEnv(t)
	_, err := e.asm.Get(context.Background(), "", time.Time{})
	assert.ErrorIs(t, err, model.ErrNotFound)

	snap, _ := e.build(t)
	created := time.Unix(now, 0)

	testCases := map[string]struct {
		ID              string
		IfModifiedSince time.Time
		NotModified     bool
		NotFound        bool
	}{
		"latest": {},
		"by id": {
			ID: snap.ID,
		},
		"modified since": {
			IfModifiedSince: created.Add(-time.Second),
		},
		"not modified at creation": {
			IfModifiedSince: created,
			NotModified:     true,
		},
		"not modified after creation": {
			ID:              snap.ID,
			IfModifiedSince: created.Add(time.Hour),
			NotModified:     true,
		},
		"unknown id": {
			ID:       "unknown",
			NotFound: true,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := e.asm.Get(context.Background(), tc.ID, tc.IfModifiedSince)
			switch {
			case tc.NotModified:
				assert.True(t, assembler.IsNotModified(err), "err: %v", err)
			case tc.NotFound:
				assert.ErrorIs(t, err, model.ErrNotFound)
			default:
				require.NoError(t, err)
				assert.Equal(t, snap.ID, got.ID)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	e := newEnv(t)
	e.insert(t, "c1", now+3600, delta.Activated)
	snap, _ := e.build(t)

	raw, err := assembler.Encode(snap, assembler.JSON)
	require.NoError(t, err)
	assert.Equal(t, snap.Graph, raw)

	raw, err = assembler.Encode(snap, assembler.NTriples)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	assert.IsIncreasing(t, lines)
	assert.Contains(t, lines,
		`<urn:rcp:port:sw0:Ethernet_1-1> <urn:rcp:hasReservation> <urn:rcp:reservation:vsw:c1> .`)
	assert.Contains(t, lines,
		`<urn:rcp:reservation:vsw:c1> <urn:rcp:tag> "monitor:status:activated" .`)
	assert.Contains(t, lines,
		`<urn:rcp:device:sw0> <urn:rcp:hasPort> <urn:rcp:port:sw0:Ethernet_1-3> .`)
	assert.Contains(t, lines,
		`<urn:rcp:port:sw0:Ethernet_1-3> <urn:rcp:vlanRange> "3650" .`)

	// The encoding does not depend on the map order of the graph.
	again, err := assembler.Encode(snap, assembler.NTriples)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestParseEncoding(t *testing.T) {
	testCases := map[string]struct {
		Input     string
		Encoding  assembler.Encoding
		Assertion assert.ErrorAssertionFunc
	}{
		"empty":    {Input: "", Encoding: assembler.JSON, Assertion: assert.NoError},
		"json":     {Input: "json", Encoding: assembler.JSON, Assertion: assert.NoError},
		"ntriples": {Input: "NTriples", Encoding: assembler.NTriples, Assertion: assert.NoError},
		"turtle":   {Input: "turtle", Assertion: assert.Error},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			enc, err := assembler.ParseEncoding(tc.Input)
			tc.Assertion(t, err)
			assert.Equal(t, tc.Encoding, enc)
		})
	}
}
