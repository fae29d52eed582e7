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

package checker_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/control/checker"
	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/pkg/reservation/restest"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/storage/activeset/settest"
	"github.com/siterm/rcp/private/topology"
	"github.com/siterm/rcp/private/topology/topotest"
)

const now = 1_700_000_000

// existing are the reservations of the active set every case starts with.
func existing() []restest.Conn {
	return []restest.Conn{
		{
			ID: "active", Start: now - 100, End: now + 3600,
			Endpoints: []restest.Endpoint{
				{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3610, Mbps: 3000},
				{Device: "host0", Port: "mlx5p1", VLAN: 3610, IPv4: "10.1.0.10/24"},
			},
		},
		{
			ID: "ended", Start: now - 7200, End: now - 3600,
			Endpoints: []restest.Endpoint{
				{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3611, Mbps: 4000},
			},
		},
	}
}

func newActiveSet(t *testing.T) *activeset.Store {
	s := settest.NewStore(t, clock.NewFake(now))
	for _, c := range existing() {
		rs, err := reservation.Parse(restest.VSwitch(t, c))
		require.NoError(t, err)
		for _, r := range rs {
			for i := range r.VSwitch.Endpoints {
				r.VSwitch.Endpoints[i].Port = topology.Normalize(r.VSwitch.Endpoints[i].Port)
			}
			r.State = delta.Activated
			require.NoError(t, s.Insert(context.Background(), r))
		}
	}
	return s
}

func TestCheck(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	active := newActiveSet(t)

	window := func(id string, eps ...restest.Endpoint) restest.Conn {
		return restest.Conn{ID: id, Start: now, End: now + 3600, Endpoints: eps}
	}

	testCases := map[string]struct {
		Kind      delta.Kind
		Content   []byte
		Tag       checker.Tag
		ErrKind   errkind.Kind
		Competing []string
		URIs      []string
	}{
		"addition accepted": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3610, Mbps: 1000})),
			URIs: []string{"vsw:c1"},
		},
		"unknown device": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "sw9", Port: "Ethernet 1/1", VLAN: 3610})),
			Tag:     checker.UnknownEndpoint,
			ErrKind: errkind.NotFound,
		},
		"unknown port": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 9/9", VLAN: 3610})),
			Tag:     checker.UnknownEndpoint,
			ErrKind: errkind.NotFound,
		},
		"vlan out of range": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3612})),
			Tag:     checker.VlanOutOfRange,
			ErrKind: errkind.InvalidInput,
		},
		"vlan overlap": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3610})),
			Tag:       checker.OverlapException,
			ErrKind:   errkind.Conflict,
			Competing: []string{"vsw:active"},
		},
		"vlan of disjoint window": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, restest.Conn{
				ID: "c1", Start: now + 3600, End: now + 7200,
				Endpoints: []restest.Endpoint{
					{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3610},
				},
			}),
			URIs: []string{"vsw:c1"},
		},
		"vlan of ended reservation": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, restest.Conn{
				ID: "c1", Start: now - 7200, End: now + 60,
				Endpoints: []restest.Endpoint{
					{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3611},
				},
			}),
			URIs: []string{"vsw:c1"},
		},
		"address outside pool": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "host0", Port: "mlx5p1", VLAN: 3611,
					IPv4: "10.2.0.1/24"})),
			Tag:     checker.WrongIPAddress,
			ErrKind: errkind.InvalidInput,
		},
		"address overlap": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "host0", Port: "mlx5p1", VLAN: 3611,
					IPv4: "10.1.0.11/24"})),
			Tag:       checker.WrongIPAddress,
			ErrKind:   errkind.Conflict,
			Competing: []string{"vsw:active"},
		},
		"malformed address": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "host0", Port: "mlx5p1", VLAN: 3611,
					IPv4: "10.1.0.300/24"})),
			Tag:     checker.WrongIPAddress,
			ErrKind: errkind.InvalidInput,
		},
		"exceeded capacity": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3650, Mbps: 1001})),
			Tag:     checker.ExceededCapacity,
			ErrKind: errkind.CapacityExceeded,
		},
		"capacity left": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3650, Mbps: 1000})),
			URIs: []string{"vsw:c1"},
		},
		"soft capped does not count": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("c1",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3650, Mbps: 9000,
					Service: "softCapped"})),
			URIs: []string{"vsw:c1"},
		},
		"end before start": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, restest.Conn{
				ID: "c1", Start: now + 100, End: now + 50,
				Endpoints: []restest.Endpoint{
					{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3601},
				},
			}),
			Tag:     checker.InvalidTime,
			ErrKind: errkind.InvalidInput,
		},
		"end in the past": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, restest.Conn{
				ID: "c1", Start: now - 100, End: now - 1,
				Endpoints: []restest.Endpoint{
					{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3601},
				},
			}),
			Tag:     checker.InvalidTime,
			ErrKind: errkind.InvalidInput,
		},
		"end at now": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, restest.Conn{
				ID: "c1", Start: now - 100, End: now,
				Endpoints: []restest.Endpoint{
					{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3601},
				},
			}),
			Tag:     checker.InvalidTime,
			ErrKind: errkind.InvalidInput,
		},
		"duplicate within delta": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t,
				window("c1", restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3601}),
				window("c2", restest.Endpoint{Device: "sw0", Port: "Ethernet_1-1", VLAN: 3601}),
			),
			Tag:       checker.OverlapException,
			ErrKind:   errkind.Conflict,
			Competing: []string{"vsw:c1"},
		},
		"capacity within delta": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t,
				window("c1", restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3650,
					Mbps: 600}),
				window("c2", restest.Endpoint{Device: "host0", Port: "mlx5p1", VLAN: 3650}),
				window("c3", restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3602}),
			),
			URIs: []string{"vsw:c1", "vsw:c2", "vsw:c3"},
		},
		"existing uri": {
			Kind: delta.Addition,
			Content: restest.VSwitch(t, window("active",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3601})),
			Tag:       checker.OverlapException,
			ErrKind:   errkind.Conflict,
			Competing: []string{"vsw:active"},
		},
		"empty connection": {
			Kind:    delta.Addition,
			Content: restest.Params(t, "vsw", "c1"),
			Tag:     checker.MalformedContent,
			ErrKind: errkind.InvalidInput,
		},
		"malformed content": {
			Kind:    delta.Addition,
			Content: []byte(`{"vsw": 42}`),
			Tag:     checker.MalformedContent,
			ErrKind: errkind.InvalidInput,
		},
		"modify own vlan and bandwidth": {
			Kind: delta.Modify,
			Content: restest.VSwitch(t, window("active",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3610, Mbps: 4000},
				restest.Endpoint{Device: "host0", Port: "mlx5p1", VLAN: 3610,
					IPv4: "10.1.0.10/24"})),
			URIs: []string{"vsw:active"},
		},
		"modify missing": {
			Kind: delta.Modify,
			Content: restest.VSwitch(t, window("c9",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3601})),
			Tag:     checker.MissingReservation,
			ErrKind: errkind.PreconditionFailed,
		},
		"modify ended": {
			Kind: delta.Modify,
			Content: restest.VSwitch(t, window("ended",
				restest.Endpoint{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3611})),
			Tag:     checker.InvalidTime,
			ErrKind: errkind.PreconditionFailed,
		},
		"reduction": {
			Kind:    delta.Reduction,
			Content: restest.Params(t, "vsw", "active"),
			URIs:    []string{"vsw:active"},
		},
		"reduction missing": {
			Kind:    delta.Reduction,
			Content: restest.Params(t, "vsw", "c9"),
			Tag:     checker.MissingReservation,
			ErrKind: errkind.PreconditionFailed,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			in := checker.Input{
				Kind:     tc.Kind,
				Content:  tc.Content,
				Active:   active.Snapshot(),
				Topology: topo,
				Now:      now,
			}
			res, err := checker.Check(in)
			if tc.Tag != "" {
				var rej *checker.Rejection
				require.ErrorAs(t, err, &rej)
				assert.Equal(t, tc.Tag, rej.Tag, err.Error())
				assert.Equal(t, tc.ErrKind, errkind.Of(err))
				assert.Equal(t, tc.Competing, rej.Competing)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.URIs, res.URIs())

			again, err := checker.Check(in)
			require.NoError(t, err)
			assert.Equal(t, res, again)
		})
	}
}

func TestCheckNormalizesPorts(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	active := newActiveSet(t)
	res, err := checker.Check(checker.Input{
		Kind: delta.Addition,
		Content: restest.VSwitch(t, restest.Conn{
			ID: "c1",
			Endpoints: []restest.Endpoint{
				{Device: "sw0", Port: "Ethernet 1/1", VLAN: 3601, IPv6: "fd00:1::5/64"},
			},
		}),
		Active:   active.Snapshot(),
		Topology: topo,
		Now:      now,
	})
	require.NoError(t, err)
	require.Len(t, res.Reservations, 1)
	r := res.Reservations[0]
	assert.Equal(t, clock.DefaultWindow(), r.Window)
	require.Len(t, r.VSwitch.Endpoints, 1)
	assert.Equal(t, "Ethernet_1-1", r.VSwitch.Endpoints[0].Port)
	assert.Equal(t, netip.MustParsePrefix("fd00:1::5/64"), r.VSwitch.Endpoints[0].IPv6)
}

func TestCheckRouting(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	active := settest.NewStore(t, clock.NewFake(now))
	route := func(id, from string) []byte {
		return restest.Routing(t, restest.Conn{
			ID: id,
			Routing: []restest.RoutingEndpoint{{
				Device: "sw0",
				Family: "ipv6",
				Routes: []restest.Route{{
					Tag: "r1", NextHop: "fd00:1::1", RouteFrom: from,
					RouteTo: "fd00:20::/64", ASN: 65001,
				}},
			}},
		})
	}
	res, err := checker.Check(checker.Input{
		Kind: delta.Addition, Content: route("r1", "fd00:10::/64"),
		Active: active.Snapshot(), Topology: topo, Now: now,
	})
	require.NoError(t, err)
	require.NoError(t, active.Insert(context.Background(), res.Reservations[0]))

	_, err = checker.Check(checker.Input{
		Kind: delta.Addition, Content: route("r2", "fd00:10::/48"),
		Active: active.Snapshot(), Topology: topo, Now: now,
	})
	var rej *checker.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, checker.OverlapException, rej.Tag)
	assert.Equal(t, []string{"rst:r1"}, rej.Competing)

	_, err = checker.Check(checker.Input{
		Kind: delta.Addition, Content: route("r3", "fd00:11::/64"),
		Active: active.Snapshot(), Topology: topo, Now: now,
	})
	assert.NoError(t, err)
}

func TestRejectionError(t *testing.T) {
	rej := &checker.Rejection{
		Tag:       checker.OverlapException,
		Kind:      errkind.Conflict,
		URI:       "vsw:c1",
		Device:    "sw0",
		Port:      "Ethernet_1-3",
		VLAN:      3610,
		Competing: []string{"vsw:c0"},
		Detail:    "vlan already reserved",
	}
	assert.Equal(t, "OverlapException: vlan already reserved {uri=vsw:c1; device=sw0; "+
		"port=Ethernet_1-3; vlan=3610; competing=[vsw:c0]}", rej.Error())
	assert.ErrorIs(t, rej, errkind.ErrConflict)
	assert.Equal(t, 409, errkind.HTTPStatus(rej))
}

func TestCheckPending(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	active := settest.NewStore(t, clock.NewFake(now))
	earlier, err := checker.Normalize(restest.VSwitch(t, restest.Conn{
		ID: "first", Start: now, End: now + 3600,
		Endpoints: []restest.Endpoint{{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3650}},
	}), topo)
	require.NoError(t, err)
	require.Len(t, earlier, 1)
	assert.Equal(t, "Ethernet_1-3", earlier[0].VSwitch.Endpoints[0].Port)

	_, err = checker.Check(checker.Input{
		Kind: delta.Addition,
		Content: restest.VSwitch(t, restest.Conn{
			ID: "second", Start: now + 60, End: now + 120,
			Endpoints: []restest.Endpoint{{Device: "sw0", Port: "Ethernet_1-3", VLAN: 3650}},
		}),
		Active:   active.Snapshot(),
		Topology: topo,
		Now:      now,
		Pending:  earlier,
	})
	var rej *checker.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, checker.OverlapException, rej.Tag)
	assert.Equal(t, []string{"vsw:first"}, rej.Competing)
}

func TestCheckBandwidthPeak(t *testing.T) {
	topo := topotest.NewModel(t).Snapshot()
	active := settest.NewStore(t, clock.NewFake(now))
	// Two reservations of 3 Gbit/s follow each other on the 4 Gbit/s port.
	for _, c := range []restest.Conn{
		{ID: "a", Start: now, End: now + 100, Endpoints: []restest.Endpoint{
			{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3610, Mbps: 3000}}},
		{ID: "b", Start: now + 100, End: now + 200, Endpoints: []restest.Endpoint{
			{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3611, Mbps: 3000}}},
	} {
		rs, err := checker.Normalize(restest.VSwitch(t, c), topo)
		require.NoError(t, err)
		rs[0].State = delta.Activated
		require.NoError(t, active.Insert(context.Background(), rs[0]))
	}

	testCases := map[string]struct {
		Start, End int64
		Mbps       float64
		Rejected   bool
	}{
		"peak at capacity across both":  {Start: now + 50, End: now + 150, Mbps: 1000},
		"peak above capacity":           {Start: now + 50, End: now + 150, Mbps: 1001, Rejected: true},
		"inside first above capacity":   {Start: now + 10, End: now + 20, Mbps: 1001, Rejected: true},
		"after both":                    {Start: now + 200, End: now + 300, Mbps: 4000},
		"touching end of second window": {Start: now + 200, End: now + 201, Mbps: 4000},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := checker.Check(checker.Input{
				Kind: delta.Addition,
				Content: restest.VSwitch(t, restest.Conn{
					ID: "c", Start: tc.Start, End: tc.End,
					Endpoints: []restest.Endpoint{
						{Device: "sw0", Port: "Ethernet 1/3", VLAN: 3650, Mbps: tc.Mbps},
					},
				}),
				Active:   active.Snapshot(),
				Topology: topo,
				Now:      now,
			})
			if !tc.Rejected {
				assert.NoError(t, err)
				return
			}
			var rej *checker.Rejection
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, checker.ExceededCapacity, rej.Tag)
			assert.Equal(t, errkind.CapacityExceeded, errkind.Of(err))
		})
	}
}

func TestCheckAliasLoop(t *testing.T) {
	raw := `
general: {sites: [S]}
S: {switch: [a, b]}
a: {vlan_range: ["100-199"], ports: {p: {capacity: 10G, isAlias: "b:p"}}}
b: {vlan_range: ["100-199"], ports: {p: {capacity: 10G, isAlias: "b:p"}}}
`
	static, err := topology.ParseSiteConfig([]byte(raw))
	require.NoError(t, err)
	m, err := topology.NewModel(static, topology.ModelCfg{})
	require.NoError(t, err)

	_, err = checker.Check(checker.Input{
		Kind: delta.Addition,
		Content: restest.VSwitch(t, restest.Conn{
			ID: "loop", Start: now, End: now + 60,
			Endpoints: []restest.Endpoint{{Device: "a", Port: "p", VLAN: 100}},
		}),
		Active:   settest.NewStore(t, clock.NewFake(now)).Snapshot(),
		Topology: m.Snapshot(),
		Now:      now,
	})
	assert.ErrorIs(t, err, topology.ErrAliasLoop)
	assert.Equal(t, errkind.Fatal, errkind.Of(err))
	var rej *checker.Rejection
	assert.False(t, errors.As(err, &rej))
}
