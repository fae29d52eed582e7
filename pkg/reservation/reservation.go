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

// Package reservation contains the typed projection of delta content. A
// Reservation is a tagged variant: exactly one of VSwitch (layer 2) or
// Routing (layer 3) is set, selected by Kind.
package reservation

import (
	"net/netip"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/private/serrors"
)

// Kind selects the reservation variant.
type Kind string

const (
	// VSwitchKind is a virtual switching (L2) reservation.
	VSwitchKind Kind = "vsw"
	// RoutingKind is a routing service (L3) reservation.
	RoutingKind Kind = "rst"
)

// Family is an IP address family.
type Family string

const (
	IPv4 Family = "ipv4"
	IPv6 Family = "ipv6"
)

// FamilyOf returns the family of the prefix.
func FamilyOf(p netip.Prefix) Family {
	if p.Addr().Is4() {
		return IPv4
	}
	return IPv6
}

// ServiceType is the QoS policy type of a service.
type ServiceType string

const (
	// GuaranteedCapped deducts its bandwidth from the port's reservable
	// capacity.
	GuaranteedCapped ServiceType = "guaranteedCapped"
	SoftCapped       ServiceType = "softCapped"
	BestEffort       ServiceType = "bestEffort"
)

// URI returns the reservation URI of the connection for the given kind.
func URI(kind Kind, connID string) string {
	return string(kind) + ":" + connID
}

// SplitURI is the inverse of URI.
func SplitURI(uri string) (Kind, string, error) {
	k, id, ok := strings.Cut(uri, ":")
	if !ok || id == "" || (Kind(k) != VSwitchKind && Kind(k) != RoutingKind) {
		return "", "", serrors.New("invalid reservation uri", "uri", uri)
	}
	return Kind(k), id, nil
}

// Service is the bandwidth service of an endpoint.
type Service struct {
	Type ServiceType `json:"type"`
	// Bandwidth in bits per second.
	Bandwidth int64 `json:"bandwidth"`
	Priority  int   `json:"priority,omitempty"`
}

// Guaranteed returns the bandwidth deducted from the port's reservable
// capacity. It is zero for services that are not guaranteedCapped.
func (s *Service) Guaranteed() int64 {
	if s == nil || s.Type != GuaranteedCapped {
		return 0
	}
	return s.Bandwidth
}

// VSwitchEndpoint is one (device, port, vlan) tuple of a VSwitch.
type VSwitchEndpoint struct {
	Device string `json:"device"`
	Port   string `json:"port"`
	VLAN   int    `json:"vlan"`
	// IPv4 and IPv6 are the zero prefix when no address is assigned.
	IPv4    netip.Prefix `json:"ipv4"`
	IPv6    netip.Prefix `json:"ipv6"`
	IsAlias string       `json:"isAlias,omitempty"`
	Service *Service     `json:"service,omitempty"`
}

// Prefixes returns the assigned addresses of the endpoint.
func (e VSwitchEndpoint) Prefixes() []netip.Prefix {
	var ps []netip.Prefix
	if e.IPv4.IsValid() {
		ps = append(ps, e.IPv4)
	}
	if e.IPv6.IsValid() {
		ps = append(ps, e.IPv6)
	}
	return ps
}

type VSwitch struct {
	Endpoints []VSwitchEndpoint `json:"endpoints"`
}

// Route is a single route of a routing endpoint.
type Route struct {
	Tag       string       `json:"tag"`
	NextHop   netip.Addr   `json:"nextHop"`
	RouteFrom netip.Prefix `json:"routeFrom"`
	RouteTo   netip.Prefix `json:"routeTo"`
	RemoteASN uint32       `json:"remoteASN,omitempty"`
}

type RoutingEndpoint struct {
	Device  string   `json:"device"`
	Family  Family   `json:"family"`
	Service *Service `json:"service,omitempty"`
	Routes  []Route  `json:"routes"`
}

type Routing struct {
	Endpoints []RoutingEndpoint `json:"endpoints"`
}

// Reservation is the normalized projection of one connection of a delta.
type Reservation struct {
	URI          string       `json:"uri"`
	ConnectionID string       `json:"connectionID"`
	Kind         Kind         `json:"kind"`
	Window       clock.Window `json:"existsDuring"`
	Tag          string       `json:"tag,omitempty"`
	BelongsTo    string       `json:"belongsTo,omitempty"`
	// DeltaID is the addition delta the reservation derives from.
	DeltaID string `json:"deltaID,omitempty"`
	// State is the lifecycle state of the addition delta.
	State   delta.State `json:"state,omitempty"`
	VSwitch *VSwitch    `json:"vsw,omitempty"`
	Routing *Routing    `json:"rst,omitempty"`
}

// Devices returns the sorted set of devices the reservation touches.
func (r *Reservation) Devices() []string {
	set := map[string]struct{}{}
	if r.VSwitch != nil {
		for _, e := range r.VSwitch.Endpoints {
			set[e.Device] = struct{}{}
		}
	}
	if r.Routing != nil {
		for _, e := range r.Routing.Endpoints {
			set[e.Device] = struct{}{}
		}
	}
	devs := make([]string, 0, len(set))
	for d := range set {
		devs = append(devs, d)
	}
	sort.Strings(devs)
	return devs
}

// Empty reports whether the reservation has no endpoints.
func (r *Reservation) Empty() bool {
	switch r.Kind {
	case VSwitchKind:
		return r.VSwitch == nil || len(r.VSwitch.Endpoints) == 0
	case RoutingKind:
		return r.Routing == nil || len(r.Routing.Endpoints) == 0
	}
	return true
}

// Claim is a resource held by a reservation on a (device, port). Routing
// reservations claim prefixes on the device with an empty port.
type Claim struct {
	Device string
	Port   string
	// VLAN is zero for claims that do not hold a VLAN.
	VLAN   int
	Prefix netip.Prefix
	// Bandwidth is the guaranteed bandwidth in bits per second.
	Bandwidth int64
}

// Claims returns all resource claims of the reservation.
func (r *Reservation) Claims() []Claim {
	var claims []Claim
	if r.VSwitch != nil {
		for _, e := range r.VSwitch.Endpoints {
			claims = append(claims, Claim{
				Device:    e.Device,
				Port:      e.Port,
				VLAN:      e.VLAN,
				Bandwidth: e.Service.Guaranteed(),
			})
			for _, p := range e.Prefixes() {
				claims = append(claims, Claim{Device: e.Device, Port: e.Port, Prefix: p})
			}
		}
	}
	if r.Routing != nil {
		for _, e := range r.Routing.Endpoints {
			for _, rt := range e.Routes {
				if rt.RouteFrom.IsValid() {
					claims = append(claims, Claim{Device: e.Device, Prefix: rt.RouteFrom})
				}
			}
		}
	}
	return claims
}

// Canonicalize sorts endpoints and routes so that equal reservations encode
// to equal bytes.
func (r *Reservation) Canonicalize() {
	if r.VSwitch != nil {
		eps := r.VSwitch.Endpoints
		sort.Slice(eps, func(i, j int) bool {
			if eps[i].Device != eps[j].Device {
				return eps[i].Device < eps[j].Device
			}
			if eps[i].Port != eps[j].Port {
				return eps[i].Port < eps[j].Port
			}
			return eps[i].VLAN < eps[j].VLAN
		})
	}
	if r.Routing != nil {
		eps := r.Routing.Endpoints
		sort.Slice(eps, func(i, j int) bool {
			if eps[i].Device != eps[j].Device {
				return eps[i].Device < eps[j].Device
			}
			return eps[i].Family < eps[j].Family
		})
		for _, e := range eps {
			sort.Slice(e.Routes, func(i, j int) bool { return e.Routes[i].Tag < e.Routes[j].Tag })
		}
	}
}

// Copy returns a deep copy of the reservation.
func (r *Reservation) Copy() *Reservation {
	c := *r
	if r.VSwitch != nil {
		eps := make([]VSwitchEndpoint, len(r.VSwitch.Endpoints))
		for i, e := range r.VSwitch.Endpoints {
			eps[i] = e
			if e.Service != nil {
				s := *e.Service
				eps[i].Service = &s
			}
		}
		c.VSwitch = &VSwitch{Endpoints: eps}
	}
	if r.Routing != nil {
		eps := make([]RoutingEndpoint, len(r.Routing.Endpoints))
		for i, e := range r.Routing.Endpoints {
			eps[i] = e
			eps[i].Routes = append([]Route(nil), e.Routes...)
			if e.Service != nil {
				s := *e.Service
				eps[i].Service = &s
			}
		}
		c.Routing = &Routing{Endpoints: eps}
	}
	return &c
}

// Encode returns the canonical JSON encoding of the reservations, sorted by
// URI.
func Encode(rs []*Reservation) ([]byte, error) {
	sorted := make([]*Reservation, 0, len(rs))
	for _, r := range rs {
		c := r.Copy()
		c.Canonicalize()
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URI < sorted[j].URI })
	raw, err := json.Marshal(sorted)
	if err != nil {
		return nil, serrors.Wrap("encoding reservations", err)
	}
	return raw, nil
}

// Decode parses the output of Encode.
func Decode(raw []byte) ([]*Reservation, error) {
	var rs []*Reservation
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, serrors.Wrap("decoding reservations", err)
	}
	return rs, nil
}

// Fingerprint hashes the content of the reservation that ends up on
// devices. Lifecycle state and the originating delta are not part of it.
func (r *Reservation) Fingerprint() uint64 {
	c := r.Copy()
	c.Canonicalize()
	c.State, c.DeltaID = "", ""
	raw, err := json.Marshal(c)
	if err != nil {
		// A reservation only holds marshallable values.
		panic(err)
	}
	return xxhash.Sum64(raw)
}
