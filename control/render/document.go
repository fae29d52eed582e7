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

package render

import (
	"fmt"
	"math"
	"net/netip"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/iancoleman/strcase"
	"gopkg.in/yaml.v2"

	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/topology"
)

// Item states.
const (
	Present = "present"
	Absent  = "absent"
)

// RateUnit is the unit of all QoS rates.
const RateUnit = "mbit"

// Document is the full intended state of a device. Its encoding is
// canonical: equal documents encode to equal bytes.
type Document struct {
	Device    string                `json:"device" yaml:"device"`
	Interface map[string]*Interface `json:"interface,omitempty" yaml:"interface,omitempty"`
	QoS       map[string]*QoS       `json:"qos,omitempty" yaml:"qos,omitempty"`
	BGP       *BGP                  `json:"sense_bgp,omitempty" yaml:"sense_bgp,omitempty"`

	// present maps the URIs rendered present to their fingerprint.
	present map[string]uint64
	// rendered are the reservations rendered present.
	rendered map[string]*reservation.Reservation
}

// Interface is a VLAN interface.
type Interface struct {
	Name          string            `json:"name" yaml:"name"`
	VLANID        int               `json:"vlanid" yaml:"vlanid"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	BelongsTo     string            `json:"belongsTo,omitempty" yaml:"belongsTo,omitempty"`
	VRF           string            `json:"vrf,omitempty" yaml:"vrf,omitempty"`
	TaggedMembers map[string]string `json:"tagged_members,omitempty" yaml:"tagged_members,omitempty"`
	IPv4Address   map[string]string `json:"ipv4_address,omitempty" yaml:"ipv4_address,omitempty"`
	IPv6Address   map[string]string `json:"ipv6_address,omitempty" yaml:"ipv6_address,omitempty"`
	State         string            `json:"state" yaml:"state"`
}

// QoS is the rate policy of one VLAN on a port.
type QoS struct {
	Port      string `json:"port" yaml:"port"`
	VLAN      int    `json:"vlan" yaml:"vlan"`
	MinRate   int64  `json:"min_rate" yaml:"min_rate"`
	MaxRate   int64  `json:"max_rate,omitempty" yaml:"max_rate,omitempty"`
	Unit      string `json:"unit" yaml:"unit"`
	BurstSize int64  `json:"burst_size" yaml:"burst_size"`
	QoSNumber int    `json:"qosnumber" yaml:"qosnumber"`
	QoSName   string `json:"qosname" yaml:"qosname"`
	State     string `json:"state" yaml:"state"`
}

// BGP is the routing section of a switch.
type BGP struct {
	ASN         uint32            `json:"asn,omitempty" yaml:"asn,omitempty"`
	VRF         string            `json:"vrf,omitempty" yaml:"vrf,omitempty"`
	IPv4Network map[string]string `json:"ipv4_network,omitempty" yaml:"ipv4_network,omitempty"`
	IPv6Network map[string]string `json:"ipv6_network,omitempty" yaml:"ipv6_network,omitempty"`
	// Neighbor is keyed by family and neighbor address.
	Neighbor map[string]map[string]*Neighbor `json:"neighbor,omitempty" yaml:"neighbor,omitempty"`
	// PrefixList is keyed by family and prefix; the value maps list names
	// to their state.
	PrefixList map[string]map[string]map[string]string `json:"prefix_list,omitempty" yaml:"prefix_list,omitempty"`
	// RouteMap is keyed by family, map name and sequence number; the value
	// maps the matched prefix list to its state.
	RouteMap map[string]map[string]map[int]map[string]string `json:"route_map,omitempty" yaml:"route_map,omitempty"`
	State    string                                          `json:"state" yaml:"state"`
}

// Neighbor is a BGP neighbor.
type Neighbor struct {
	RemoteASN uint32 `json:"remote_asn" yaml:"remote_asn"`
	// RouteMap maps "in" and "out" to route map names and their state.
	RouteMap map[string]map[string]string `json:"route_map" yaml:"route_map"`
	State    string                       `json:"state" yaml:"state"`
}

// Present returns the URIs rendered present, mapped to the fingerprint of
// the rendered reservation.
func (d *Document) Present() map[string]uint64 {
	res := make(map[string]uint64, len(d.present))
	for k, v := range d.present {
		res[k] = v
	}
	return res
}

// Empty reports whether the document holds no items.
func (d *Document) Empty() bool {
	return len(d.Interface) == 0 && len(d.QoS) == 0 && d.BGP == nil
}

// Encode returns the canonical JSON encoding of the document.
func (d *Document) Encode() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, serrors.Wrap("encoding intended state", err, "device", d.Device)
	}
	return raw, nil
}

// YAML returns the document in the layout of a host_vars file.
func (d *Document) YAML() ([]byte, error) {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return nil, serrors.Wrap("encoding intended state", err, "device", d.Device)
	}
	return raw, nil
}

// Fingerprint hashes the canonical encoding.
func (d *Document) Fingerprint() (uint64, error) {
	raw, err := d.Encode()
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(raw), nil
}

// Input is everything the intended state of a device depends on.
type Input struct {
	Device   string
	Topology *topology.Topology
	// Reservations is the content of the active set.
	Reservations []*reservation.Reservation
	// Tombstones are revisions applied earlier that are no longer in the
	// active set, either because the reservation left it or because a
	// modify replaced its content. Items of a tombstone that the current
	// revision still holds stay present.
	Tombstones []*reservation.Reservation
	Now        int64
}

// Render builds the intended state of a device. Reservations that are
// activating or activated inside their window are present. Deactivating
// reservations and tombstones are rendered absent, unless another
// reservation keeps the same item present. Render is deterministic.
func Render(in Input) (*Document, error) {
	dev, err := in.Topology.Device(in.Device)
	if err != nil {
		return nil, err
	}
	b := &builder{
		dev: dev,
		doc: &Document{
			Device:   in.Device,
			present:  map[string]uint64{},
			rendered: map[string]*reservation.Reservation{},
		},
	}
	var present, absent []*reservation.Reservation
	for _, r := range in.Reservations {
		switch {
		case !touches(r, in.Device):
		case r.State == delta.Deactivating:
			absent = append(absent, r)
		case (r.State == delta.Activating || r.State == delta.Activated) &&
			r.Window.Active(in.Now):
			present = append(present, r)
		}
	}
	for _, r := range in.Tombstones {
		if touches(r, in.Device) {
			absent = append(absent, r)
		}
	}
	sortByURI(present)
	sortByURI(absent)
	for _, r := range absent {
		b.add(r, Absent, nil)
	}
	committed := committedByPort(present, in.Device)
	for _, r := range present {
		b.add(r, Present, committed)
		b.doc.present[r.URI] = r.Fingerprint()
		b.doc.rendered[r.URI] = r
	}
	if dev.Kind == topology.Switch && (dev.PrivateASN != 0 || b.doc.BGP != nil) {
		b.bgp()
	}
	return b.doc, nil
}

func touches(r *reservation.Reservation, device string) bool {
	for _, d := range r.Devices() {
		if d == device {
			return true
		}
	}
	return false
}

func sortByURI(rs []*reservation.Reservation) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].URI < rs[j].URI })
}

// committedByPort sums the guaranteed bandwidth of the present
// reservations per port of the device.
func committedByPort(rs []*reservation.Reservation, device string) map[string]int64 {
	res := map[string]int64{}
	for _, r := range rs {
		for _, c := range r.Claims() {
			if c.Device == device {
				res[c.Port] += c.Bandwidth
			}
		}
	}
	return res
}

type builder struct {
	dev *topology.Device
	doc *Document
}

func (b *builder) add(r *reservation.Reservation, state string, committed map[string]int64) {
	if r.VSwitch != nil {
		for _, ep := range r.VSwitch.Endpoints {
			if ep.Device != b.dev.Name || ep.VLAN == 0 {
				continue
			}
			b.vlan(r, ep, state)
			b.qos(ep, state, committed)
		}
	}
	if r.Routing != nil {
		for _, ep := range r.Routing.Endpoints {
			if ep.Device != b.dev.Name {
				continue
			}
			for _, rt := range ep.Routes {
				b.route(ep.Family, rt, state)
			}
		}
	}
}

func (b *builder) portName(normalized string) string {
	if o, ok := b.dev.Original(normalized); ok {
		return o
	}
	return normalized
}

func (b *builder) vlan(r *reservation.Reservation, ep reservation.VSwitchEndpoint, state string) {
	if b.doc.Interface == nil {
		b.doc.Interface = map[string]*Interface{}
	}
	name := fmt.Sprintf("Vlan%d", ep.VLAN)
	intf, ok := b.doc.Interface[name]
	if !ok {
		intf = &Interface{Name: name, VLANID: ep.VLAN, VRF: b.dev.VRF}
		b.doc.Interface[name] = intf
	}
	if state == Present || intf.State != Present {
		intf.State = state
		intf.Description = orDefault(r.Tag, "SENSE-VLAN-Without-Tag")
		intf.BelongsTo = orDefault(r.BelongsTo, "SENSE-VLAN-Without-belongsTo")
	}
	setState(&intf.TaggedMembers, b.portName(ep.Port), state)
	if ep.IPv4.IsValid() {
		setState(&intf.IPv4Address, ep.IPv4.String(), state)
	}
	if ep.IPv6.IsValid() {
		setState(&intf.IPv6Address, ep.IPv6.String(), state)
	}
}

func (b *builder) qos(ep reservation.VSwitchEndpoint, state string, committed map[string]int64) {
	if ep.Service == nil || ep.Service.Bandwidth == 0 {
		return
	}
	port, ok := b.dev.Ports[ep.Port]
	if b.dev.Kind != topology.Switch || !ok || !b.dev.QoSEnabled(port) {
		return
	}
	key := fmt.Sprintf("%s-%d", ep.Port, ep.VLAN)
	if prev, ok := b.doc.QoS[key]; ok && prev.State == Present {
		return
	}
	if b.doc.QoS == nil {
		b.doc.QoS = map[string]*QoS{}
	}
	name := string(ep.Service.Type)
	q := &QoS{
		Port:      b.portName(ep.Port),
		VLAN:      ep.VLAN,
		Unit:      RateUnit,
		BurstSize: b.dev.QoS.BurstSize,
		QoSNumber: b.trafficClass(name),
		QoSName:   name,
		State:     state,
	}
	rate := reservation.Mbit(ep.Service.Bandwidth)
	maxPolicy := b.dev.QoS.MaxPolicyRate
	if maxPolicy <= 0 {
		maxPolicy = math.MaxInt64
	}
	remaining := reservation.Mbit(port.ReservableCapacity() - committed[ep.Port])
	q.MinRate = rate
	switch guaranteed := ep.Service.Type == reservation.GuaranteedCapped; {
	case guaranteed && rate > maxPolicy:
		q.MinRate = maxPolicy
	case guaranteed:
		q.MaxRate = rate
	case rate > maxPolicy:
		q.MinRate = maxPolicy
		q.MaxRate = min(remaining, maxPolicy)
	default:
		q.MaxRate = min(remaining, maxPolicy)
	}
	b.doc.QoS[key] = q
}

// trafficClass returns the class number of the service type. Class names
// of the configuration may use any case style.
func (b *builder) trafficClass(name string) int {
	want := strcase.ToLowerCamel(name)
	def := 1
	for k, v := range b.dev.QoS.TrafficClasses {
		switch strcase.ToLowerCamel(k) {
		case want:
			return v
		case "default":
			def = v
		}
	}
	return def
}

func (b *builder) route(fam reservation.Family, rt reservation.Route, state string) {
	bgp := b.ensureBGP()
	id := fmt.Sprintf("sense-%08x", uint32(xxhash.Sum64String(rt.Tag)))
	f := string(fam)
	if rt.RouteFrom.IsValid() {
		if fam == reservation.IPv4 {
			setState(&bgp.IPv4Network, rt.RouteFrom.String(), state)
		} else {
			setState(&bgp.IPv6Network, rt.RouteFrom.String(), state)
		}
		b.prefixList(f, rt.RouteFrom, id+"-to", state)
		b.routeMap(f, id+"-mapout", id+"-to", state)
	}
	if rt.RouteTo.IsValid() {
		b.prefixList(f, rt.RouteTo, id+"-from", state)
		b.routeMap(f, id+"-mapin", id+"-from", state)
	}
	if rt.RemoteASN != 0 && rt.NextHop.IsValid() {
		if bgp.Neighbor == nil {
			bgp.Neighbor = map[string]map[string]*Neighbor{}
		}
		if bgp.Neighbor[f] == nil {
			bgp.Neighbor[f] = map[string]*Neighbor{}
		}
		n, ok := bgp.Neighbor[f][rt.NextHop.String()]
		if ok && n.State == Present {
			return
		}
		bgp.Neighbor[f][rt.NextHop.String()] = &Neighbor{
			RemoteASN: rt.RemoteASN,
			RouteMap: map[string]map[string]string{
				"in":  {id + "-mapin": state},
				"out": {id + "-mapout": state},
			},
			State: state,
		}
	}
}

func (b *builder) prefixList(fam string, p netip.Prefix, name, state string) {
	bgp := b.ensureBGP()
	if bgp.PrefixList == nil {
		bgp.PrefixList = map[string]map[string]map[string]string{}
	}
	if bgp.PrefixList[fam] == nil {
		bgp.PrefixList[fam] = map[string]map[string]string{}
	}
	lists := bgp.PrefixList[fam][p.String()]
	setState(&lists, name, state)
	bgp.PrefixList[fam][p.String()] = lists
}

func (b *builder) routeMap(fam, name, match, state string) {
	bgp := b.ensureBGP()
	if bgp.RouteMap == nil {
		bgp.RouteMap = map[string]map[string]map[int]map[string]string{}
	}
	if bgp.RouteMap[fam] == nil {
		bgp.RouteMap[fam] = map[string]map[int]map[string]string{}
	}
	seqs := bgp.RouteMap[fam][name]
	if seqs == nil {
		seqs = map[int]map[string]string{}
		bgp.RouteMap[fam][name] = seqs
	}
	for _, m := range seqs {
		if _, ok := m[match]; ok {
			setState(&m, match, state)
			return
		}
	}
	seqs[10+len(seqs)] = map[string]string{match: state}
}

func (b *builder) ensureBGP() *BGP {
	if b.doc.BGP == nil {
		b.doc.BGP = &BGP{}
	}
	return b.doc.BGP
}

func (b *builder) bgp() {
	bgp := b.ensureBGP()
	bgp.ASN = b.dev.PrivateASN
	bgp.VRF = b.dev.VRF
	bgp.State = Present
}

// setState records the state of a keyed item. Present always wins over
// absent.
func setState(m *map[string]string, key, state string) {
	if *m == nil {
		*m = map[string]string{}
	}
	if (*m)[key] == Present {
		return
	}
	(*m)[key] = state
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
