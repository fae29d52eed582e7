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

package render_test

import (
	"fmt"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/pkg/reservation/restest"
	"github.com/siterm/rcp/private/topology"
	"github.com/siterm/rcp/private/topology/topotest"
)

const now = 1_700_000_000

// parse returns the reservations of the content in the given state with
// normalized port names.
func parse(t *testing.T, content []byte, state delta.State) []*reservation.Reservation {
	t.Helper()
	rs, err := reservation.Parse(content)
	require.NoError(t, err)
	for _, r := range rs {
		if r.VSwitch != nil {
			for i := range r.VSwitch.Endpoints {
				r.VSwitch.Endpoints[i].Port = topology.Normalize(r.VSwitch.Endpoints[i].Port)
			}
		}
		r.State = state
		r.DeltaID = "d-" + r.ConnectionID
	}
	return rs
}

func vsw(t *testing.T, state delta.State, id string, eps ...restest.Endpoint) []*reservation.Reservation {
	return parse(t, restest.VSwitch(t, restest.Conn{
		ID: id, Start: now - 10, End: now + 3600, Endpoints: eps,
	}), state)
}

func TestRenderPresent(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	rs := vsw(t, delta.Activated, "c1",
		restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3610, Mbps: 1000},
		restest.Endpoint{Device: "host0", Port: "mlx5p1", VLAN: 3610, IPv4: "10.1.0.10/24"},
	)

	sw0, err := render.Render(render.Input{
		Device: "sw0", Topology: topo, Reservations: rs, Now: now,
	})
	require.NoError(t, err)
	require.Contains(t, sw0.Interface, "Vlan3610")
	intf := sw0.Interface["Vlan3610"]
	assert.Equal(t, 3610, intf.VLANID)
	assert.Equal(t, "lhcone", intf.VRF)
	assert.Equal(t, render.Present, intf.State)
	assert.Equal(t, "SENSE-VLAN-Without-Tag", intf.Description)
	assert.Equal(t, map[string]string{"Ethernet 1/3": render.Present}, intf.TaggedMembers)
	assert.Empty(t, intf.IPv4Address)

	require.Contains(t, sw0.QoS, "Ethernet_1-3-3610")
	assert.Equal(t, &render.QoS{
		Port:      "Ethernet 1/3",
		VLAN:      3610,
		MinRate:   1000,
		MaxRate:   1000,
		Unit:      render.RateUnit,
		BurstSize: 50,
		QoSNumber: 7,
		QoSName:   "guaranteedCapped",
		State:     render.Present,
	}, sw0.QoS["Ethernet_1-3-3610"])

	require.NotNil(t, sw0.BGP)
	assert.Equal(t, uint32(65000), sw0.BGP.ASN)
	assert.Equal(t, render.Present, sw0.BGP.State)
	assert.Equal(t, map[string]uint64{"vsw:c1": rs[0].Fingerprint()}, sw0.Present())

	host0, err := render.Render(render.Input{
		Device: "host0", Topology: topo, Reservations: rs, Now: now,
	})
	require.NoError(t, err)
	require.Contains(t, host0.Interface, "Vlan3610")
	assert.Equal(t, map[string]string{"mlx5p1": render.Present},
		host0.Interface["Vlan3610"].TaggedMembers)
	assert.Equal(t, map[string]string{"10.1.0.10/24": render.Present},
		host0.Interface["Vlan3610"].IPv4Address)
	assert.Empty(t, host0.QoS)
	assert.Nil(t, host0.BGP)
}

func TestRenderStates(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	ep := restest.Endpoint{Device: "host0", Port: "mlx5p1", VLAN: 3610}

	testCases := map[string]struct {
		Reservations []*reservation.Reservation
		Tombstones   []*reservation.Reservation
		State        string
	}{
		"committed is not rendered": {
			Reservations: vsw(t, delta.Committed, "c1", ep),
		},
		"activating is present": {
			Reservations: vsw(t, delta.Activating, "c1", ep),
			State:        render.Present,
		},
		"deactivating is absent": {
			Reservations: vsw(t, delta.Deactivating, "c1", ep),
			State:        render.Absent,
		},
		"tombstone is absent": {
			Tombstones: vsw(t, delta.Activated, "c1", ep),
			State:      render.Absent,
		},
		"not started is not rendered": {
			Reservations: parse(t, restest.VSwitch(t, restest.Conn{
				ID: "c1", Start: now + 60, End: now + 3600,
				Endpoints: []restest.Endpoint{ep},
			}), delta.Activated),
		},
		"present wins over absent": {
			Reservations: append(vsw(t, delta.Activated, "c1", ep),
				vsw(t, delta.Deactivating, "c2", ep)...),
			State: render.Present,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			doc, err := render.Render(render.Input{
				Device:       "host0",
				Topology:     topo,
				Reservations: tc.Reservations,
				Tombstones:   tc.Tombstones,
				Now:          now,
			})
			require.NoError(t, err)
			if tc.State == "" {
				assert.True(t, doc.Empty())
				return
			}
			require.Contains(t, doc.Interface, "Vlan3610")
			assert.Equal(t, tc.State, doc.Interface["Vlan3610"].State)
			assert.Equal(t, map[string]string{"mlx5p1": tc.State},
				doc.Interface["Vlan3610"].TaggedMembers)
			if tc.State == render.Absent {
				assert.Empty(t, doc.Present())
			}
		})
	}
}

func TestRenderQoS(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()

	testCases := map[string]struct {
		Endpoint restest.Endpoint
		Key      string
		MinRate  int64
		MaxRate  int64
		Class    int
	}{
		"guaranteed": {
			Endpoint: restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3600, Mbps: 5000},
			Key:      "Ethernet_1-1-3600",
			MinRate:  5000,
			MaxRate:  5000,
			Class:    7,
		},
		"guaranteed above policy": {
			Endpoint: restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3600, Mbps: 30000},
			Key:      "Ethernet_1-1-3600",
			MinRate:  20000,
			Class:    7,
		},
		"soft capped": {
			Endpoint: restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3610,
				Mbps: 3000, Service: "softCapped"},
			Key:     "Ethernet_1-3-3610",
			MinRate: 3000,
			MaxRate: 4000,
			Class:   4,
		},
		"best effort above policy": {
			Endpoint: restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3600,
				Mbps: 25000, Service: "bestEffort"},
			Key:     "Ethernet_1-1-3600",
			MinRate: 20000,
			MaxRate: 20000,
			Class:   2,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			doc, err := render.Render(render.Input{
				Device:       "sw0",
				Topology:     topo,
				Reservations: vsw(t, delta.Activated, "c1", tc.Endpoint),
				Now:          now,
			})
			require.NoError(t, err)
			require.Contains(t, doc.QoS, tc.Key)
			q := doc.QoS[tc.Key]
			assert.Equal(t, tc.MinRate, q.MinRate)
			assert.Equal(t, tc.MaxRate, q.MaxRate)
			assert.Equal(t, tc.Class, q.QoSNumber)
			assert.Equal(t, render.RateUnit, q.Unit)
		})
	}
}

func TestRenderRouting(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	rs := parse(t, restest.Routing(t, restest.Conn{
		ID: "r1",
		Routing: []restest.RoutingEndpoint{{
			Device: "sw0",
			Family: "ipv6",
			Routes: []restest.Route{{
				Tag:       "route1",
				NextHop:   "fd00:2::1",
				RouteFrom: "fd00:3::/64",
				RouteTo:   "fd00:4::/64",
				ASN:       65100,
			}},
		}},
	}), delta.Activated)

	doc, err := render.Render(render.Input{
		Device: "sw0", Topology: topo, Reservations: rs, Now: now,
	})
	require.NoError(t, err)
	id := fmt.Sprintf("sense-%08x", uint32(xxhash.Sum64String("route1")))
	bgp := doc.BGP
	require.NotNil(t, bgp)
	assert.Equal(t, uint32(65000), bgp.ASN)
	assert.Equal(t, map[string]string{"fd00:3::/64": render.Present}, bgp.IPv6Network)
	assert.Equal(t, map[string]map[string]map[string]string{
		"ipv6": {
			"fd00:3::/64": {id + "-to": render.Present},
			"fd00:4::/64": {id + "-from": render.Present},
		},
	}, bgp.PrefixList)
	assert.Equal(t, map[string]map[string]map[int]map[string]string{
		"ipv6": {
			id + "-mapout": {10: {id + "-to": render.Present}},
			id + "-mapin":  {10: {id + "-from": render.Present}},
		},
	}, bgp.RouteMap)
	require.Contains(t, bgp.Neighbor["ipv6"], "fd00:2::1")
	n := bgp.Neighbor["ipv6"]["fd00:2::1"]
	assert.Equal(t, uint32(65100), n.RemoteASN)
	assert.Equal(t, map[string]map[string]string{
		"in":  {id + "-mapin": render.Present},
		"out": {id + "-mapout": render.Present},
	}, n.RouteMap)
}

func TestRenderDeterministic(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	rs := append(
		vsw(t, delta.Activated, "c1",
			restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3600, Mbps: 100}),
		vsw(t, delta.Deactivating, "c2",
			restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3611, Mbps: 100})...,
	)
	reversed := []*reservation.Reservation{rs[1], rs[0]}

	a, err := render.Render(render.Input{Device: "sw0", Topology: topo, Reservations: rs, Now: now})
	require.NoError(t, err)
	b, err := render.Render(render.Input{Device: "sw0", Topology: topo, Reservations: reversed, Now: now})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(a, b, cmpopts.IgnoreUnexported(render.Document{})))
	rawA, err := a.Encode()
	require.NoError(t, err)
	rawB, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(rawA), string(rawB))

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	y, err := a.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(y), "sense_bgp:")
}

func TestRenderUnknownDevice(t *testing.T) {
	_, err := render.Render(render.Input{
		Device:   "sw9",
		Topology: topotest.NewModel(t).Snapshot(),
		Now:      now,
	})
	assert.Error(t, err)
}

func TestRenderTombstones(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	old := vsw(t, delta.Activated, "c1",
		restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3610, Mbps: 1000},
		restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3600},
	)
	cur := vsw(t, delta.Activated, "c1",
		restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3611, Mbps: 1000},
		restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3600},
	)
	doc, err := render.Render(render.Input{
		Device: "sw0", Topology: topo, Reservations: cur, Tombstones: old, Now: now,
	})
	require.NoError(t, err)
	assert.Equal(t, render.Absent, doc.Interface["Vlan3610"].State)
	assert.Equal(t, render.Absent, doc.QoS["Ethernet_1-3-3610"].State)
	// Items the current revision still holds stay present.
	assert.Equal(t, render.Present, doc.Interface["Vlan3600"].State)
	assert.Equal(t, render.Present, doc.Interface["Vlan3611"].State)
	assert.Equal(t, map[string]uint64{"vsw:c1": cur[0].Fingerprint()}, doc.Present())
}
