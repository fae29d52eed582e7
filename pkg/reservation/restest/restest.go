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

// Package restest builds delta content for tests.
package restest

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// Endpoint is a VSwitch endpoint.
type Endpoint struct {
	Device string
	Port   string
	VLAN   int
	IPv4   string
	IPv6   string
	// Mbps is the bandwidth of the service, if any.
	Mbps float64
	// Service is the service type. Empty means guaranteedCapped.
	Service string
}

// Route is a route of a routing endpoint.
type Route struct {
	Tag       string
	NextHop   string
	RouteFrom string
	RouteTo   string
	ASN       int
}

// RoutingEndpoint is a routing endpoint.
type RoutingEndpoint struct {
	Device string
	Family string
	Routes []Route
}

// Conn is a connection of delta content. Zero Start and End leave the
// window unset.
type Conn struct {
	ID         string
	Start, End int64
	Endpoints  []Endpoint
	Routing    []RoutingEndpoint
}

// VSwitch returns content with the connections under "vsw".
func VSwitch(t testing.TB, conns ...Conn) []byte {
	t.Helper()
	return marshal(t, map[string]any{"vsw": connections(conns)})
}

// Routing returns content with the connections under "rst".
func Routing(t testing.TB, conns ...Conn) []byte {
	t.Helper()
	return marshal(t, map[string]any{"rst": connections(conns)})
}

// Params returns content that only names the connections, as used by
// reductions.
func Params(t testing.TB, kind string, ids ...string) []byte {
	t.Helper()
	m := map[string]any{}
	for _, id := range ids {
		m[id] = map[string]any{"_params": map[string]any{}}
	}
	return marshal(t, map[string]any{kind: m})
}

func connections(conns []Conn) map[string]any {
	res := map[string]any{}
	for _, c := range conns {
		cm := map[string]any{}
		if c.Start != 0 || c.End != 0 {
			cm["_params"] = map[string]any{
				"existsDuring": map[string]any{"start": c.Start, "end": c.End},
			}
		}
		for _, e := range c.Endpoints {
			dev := device(cm, e.Device)
			port := map[string]any{}
			if e.VLAN != 0 {
				port["hasLabel"] = map[string]any{"labeltype": "ethernet#vlan", "value": e.VLAN}
			}
			addrs := map[string]any{}
			if e.IPv4 != "" {
				addrs["ipv4-address"] = map[string]any{"value": e.IPv4}
			}
			if e.IPv6 != "" {
				addrs["ipv6-address"] = map[string]any{"value": e.IPv6}
			}
			if len(addrs) > 0 {
				port["hasNetworkAddress"] = addrs
			}
			if e.Mbps != 0 {
				svc := e.Service
				if svc == "" {
					svc = "guaranteedCapped"
				}
				port["hasService"] = map[string]any{
					"type":               svc,
					"reservableCapacity": e.Mbps,
					"unit":               "mbps",
				}
			}
			dev[e.Port] = port
		}
		for _, e := range c.Routing {
			dev := device(cm, e.Device)
			routes := map[string]any{}
			for _, r := range e.Routes {
				rt := map[string]any{}
				if r.NextHop != "" {
					rt["nextHop"] = map[string]any{
						e.Family + "-address": map[string]any{"value": r.NextHop},
					}
				}
				if r.RouteFrom != "" {
					rt["routeFrom"] = map[string]any{
						e.Family + "-prefix-list": map[string]any{"value": r.RouteFrom},
					}
				}
				to := map[string]any{}
				if r.RouteTo != "" {
					to[e.Family+"-prefix-list"] = map[string]any{"value": r.RouteTo}
				}
				if r.ASN != 0 {
					to["bgp-private-asn"] = map[string]any{"value": r.ASN}
				}
				if len(to) > 0 {
					rt["routeTo"] = to
				}
				routes[r.Tag] = rt
			}
			dev[e.Family] = map[string]any{"hasRoute": routes}
		}
		res[c.ID] = cm
	}
	return res
}

func device(conn map[string]any, name string) map[string]any {
	d, ok := conn[name].(map[string]any)
	if !ok {
		d = map[string]any{}
		conn[name] = d
	}
	return d
}

func marshal(t testing.TB, v any) []byte {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
