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

// Package topology maintains the fabric graph of the control plane: devices,
// their ports, VLAN ranges, capacities, host NICs, port aliases and L3
// routing maps.
//
// The graph is assembled from the static site configuration and from
// observed facts reported by devices and host agents. Readers work on
// immutable Topology snapshots obtained from Model.Snapshot.
package topology

import (
	"errors"
	"net/netip"
	"sort"
	"strings"

	"go4.org/netipx"

	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/private/serrors"
)

var (
	// ErrNotFound indicates an unknown device or port.
	ErrNotFound = errkind.Sentinel(errkind.NotFound, "not found")
	// ErrAmbiguous indicates a port name matching several ports after
	// normalization.
	ErrAmbiguous = errkind.Sentinel(errkind.InvalidInput, "ambiguous port")
	// ErrAliasLoop indicates a cycle of isAlias edges.
	ErrAliasLoop = errkind.Sentinel(errkind.Fatal, "alias loop")
	// ErrConfigMismatch indicates a statically configured port that
	// devices stopped reporting.
	ErrConfigMismatch = errkind.Sentinel(errkind.Fatal, "config mismatch")
)

// DeviceKind is the kind of a device.
type DeviceKind string

const (
	Switch DeviceKind = "switch"
	Host   DeviceKind = "host"
)

// PortKind is the kind of a port.
type PortKind string

const (
	Physical         PortKind = "physical"
	AggregateMember  PortKind = "aggregate-member"
	VLANSubinterface PortKind = "vlan-subinterface"
)

// ParsePortKind parses a port kind.
func ParsePortKind(s string) (PortKind, error) {
	switch k := PortKind(s); k {
	case Physical, AggregateMember, VLANSubinterface:
		return k, nil
	}
	return "", serrors.New("unknown port kind", "kind", s)
}

// Topology is an immutable snapshot of the fabric graph. It must not be
// modified after it was published.
type Topology struct {
	// Generation increases with every published snapshot.
	Generation uint64
	Sites      []string
	Devices    map[string]*Device
	// RoutingMaps are the l3_routing_map sections per site.
	RoutingMaps map[string]map[string]any
	// Mismatches lists statically configured ports missing from the
	// observed facts for longer than the tolerance.
	Mismatches []string
}

// Device is a switch or host of the fabric.
type Device struct {
	Name       string           `json:"name"`
	Kind       DeviceKind       `json:"kind"`
	Site       string           `json:"site,omitempty"`
	Vendor     string           `json:"vendor,omitempty"`
	PrivateASN uint32           `json:"privateASN,omitempty"`
	VRF        string           `json:"vrf,omitempty"`
	RateLimit  *bool            `json:"rateLimit,omitempty"`
	QoS        QoSPolicy        `json:"qos"`
	Ports      map[string]*Port `json:"ports"`
	// Observed is set once the device reported facts.
	Observed bool `json:"observed"`

	names *names
}

// PortNames returns the sorted normalized port names.
func (d *Device) PortNames() []string {
	ns := make([]string, 0, len(d.Ports))
	for n := range d.Ports {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

// Original returns the original name of a normalized port name.
func (d *Device) Original(normalized string) (string, bool) {
	o, ok := d.names.originals[normalized]
	return o, ok
}

// QoSEnabled reports whether rate limiting is enabled for the port. The
// device setting disables QoS for all ports; otherwise the port setting
// decides, defaulting to enabled.
func (d *Device) QoSEnabled(p *Port) bool {
	if d.RateLimit != nil && !*d.RateLimit {
		return false
	}
	if p.RateLimit != nil {
		return *p.RateLimit
	}
	return true
}

// Port is a port of a device, named by its normalized name.
type Port struct {
	Device      string     `json:"device"`
	Name        string     `json:"name"`
	Original    string     `json:"original"`
	Kind        PortKind   `json:"kind"`
	Capacity    int64      `json:"capacity"`
	Reservable  Reservable `json:"reservable"`
	StaticVLANs VLANRanges `json:"vlans"`
	// ObservedVLANs is nil as long as the device did not report
	// VLAN capabilities for the port.
	ObservedVLANs VLANRanges `json:"observedVLANs,omitempty"`
	IsAlias       string     `json:"isAlias,omitempty"`
	WANLink       bool       `json:"wanlink,omitempty"`
	Shared        bool       `json:"shared,omitempty"`
	RateLimit     *bool      `json:"rateLimit,omitempty"`
	// Present is false for static ports missing from observed facts for
	// longer than the tolerance.
	Present bool `json:"present"`
	NIC     *NIC `json:"nic,omitempty"`
}

// URI returns the port URI "<device>:<normalized port>".
func (p *Port) URI() string {
	return PortURI(p.Device, p.Name)
}

// Allocatable returns the VLANs that may be reserved on the port.
func (p *Port) Allocatable() VLANRanges {
	if !p.Present {
		return nil
	}
	if p.ObservedVLANs == nil {
		return p.StaticVLANs
	}
	return p.StaticVLANs.Intersect(p.ObservedVLANs)
}

// ReservableCapacity evaluates the reservable capacity of the port.
func (p *Port) ReservableCapacity() int64 {
	return p.Reservable.Of(p.Capacity)
}

// NIC holds the host specific attributes of a host port.
type NIC struct {
	IPv4Pool     []netip.Prefix `json:"ipv4Pool,omitempty"`
	IPv6Pool     []netip.Prefix `json:"ipv6Pool,omitempty"`
	MinBandwidth int64          `json:"minBandwidth,omitempty"`
	MaxBandwidth int64          `json:"maxBandwidth,omitempty"`
	Switch       string         `json:"switch,omitempty"`
	SwitchPort   string         `json:"switchPort,omitempty"`

	pool *netipx.IPSet
}

// InPool reports whether the prefix lies inside the NIC's address pools. A
// NIC without pools accepts no addresses.
func (n *NIC) InPool(p netip.Prefix) bool {
	if n.pool == nil {
		return false
	}
	return n.pool.ContainsPrefix(p.Masked())
}

func (n *NIC) buildPool() error {
	var b netipx.IPSetBuilder
	for _, p := range n.IPv4Pool {
		b.AddPrefix(p)
	}
	for _, p := range n.IPv6Pool {
		b.AddPrefix(p)
	}
	set, err := b.IPSet()
	if err != nil {
		return err
	}
	n.pool = set
	return nil
}

// PortURI builds a port URI.
func PortURI(device, port string) string {
	return device + ":" + Normalize(port)
}

// SplitPortURI splits a port URI into device and normalized port. Longer
// URNs are accepted; their last two segments name device and port.
func SplitPortURI(uri string) (string, string, error) {
	parts := strings.Split(uri, ":")
	if len(parts) < 2 {
		return "", "", serrors.New("invalid port uri", "uri", uri)
	}
	dev, port := parts[len(parts)-2], parts[len(parts)-1]
	if dev == "" || port == "" {
		return "", "", serrors.New("invalid port uri", "uri", uri)
	}
	return dev, port, nil
}

// DeviceNames returns the sorted device names.
func (t *Topology) DeviceNames() []string {
	ns := make([]string, 0, len(t.Devices))
	for n := range t.Devices {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

// Device returns the named device.
func (t *Topology) Device(name string) (*Device, error) {
	d, ok := t.Devices[name]
	if !ok {
		return nil, serrors.JoinNoStack(ErrNotFound, nil, "device", name)
	}
	return d, nil
}

// ResolvePort returns the port of the device. The port may be named by its
// original or its normalized name.
func (t *Topology) ResolvePort(device, port string) (*Port, error) {
	d, err := t.Device(device)
	if err != nil {
		return nil, err
	}
	norm := Normalize(port)
	if originals, ok := d.names.ambiguous[norm]; ok {
		return nil, serrors.JoinNoStack(ErrAmbiguous, nil, "device", device, "port", port,
			"candidates", originals)
	}
	p, ok := d.Ports[norm]
	if !ok {
		return nil, serrors.JoinNoStack(ErrNotFound, nil, "device", device, "port", port)
	}
	return p, nil
}

// ListAllocatableVLANs returns the VLANs of the static configuration
// intersected with the observed capability of the port.
func (t *Topology) ListAllocatableVLANs(device, port string) (VLANRanges, error) {
	p, err := t.ResolvePort(device, port)
	if err != nil {
		return nil, err
	}
	return p.Allocatable(), nil
}

// PortCapacity returns total and reservable capacity of the port in bits
// per second.
func (t *Topology) PortCapacity(device, port string) (int64, int64, error) {
	p, err := t.ResolvePort(device, port)
	if err != nil {
		return 0, 0, err
	}
	return p.Capacity, p.ReservableCapacity(), nil
}

// FindPeer follows the isAlias edges starting at the port and returns the
// peer port. A peer pointing back to the previous port ends the walk, as
// does a peer without alias. Revisiting a port is an alias loop.
func (t *Topology) FindPeer(portURI string) (*Port, error) {
	dev, name, err := SplitPortURI(portURI)
	if err != nil {
		return nil, serrors.JoinNoStack(ErrNotFound, err, "uri", portURI)
	}
	cur, err := t.ResolvePort(dev, name)
	if err != nil {
		return nil, err
	}
	if cur.IsAlias == "" {
		return nil, serrors.JoinNoStack(ErrNotFound, nil, "uri", portURI, "reason", "no alias")
	}
	visited := map[string]bool{cur.URI(): true}
	path := []string{cur.URI()}
	prev := cur
	for {
		pdev, pname, err := SplitPortURI(prev.IsAlias)
		if err != nil {
			return nil, serrors.JoinNoStack(ErrNotFound, err, "uri", prev.IsAlias)
		}
		next, err := t.ResolvePort(pdev, pname)
		if err != nil {
			return nil, err
		}
		path = append(path, next.URI())
		if next.URI() == prev.URI() {
			return nil, serrors.JoinNoStack(ErrAliasLoop, nil, "path", path)
		}
		if next.IsAlias == "" || sameURI(next.IsAlias, prev) {
			return next, nil
		}
		if visited[next.URI()] {
			return nil, serrors.JoinNoStack(ErrAliasLoop, nil, "path", path)
		}
		visited[next.URI()] = true
		prev = next
	}
}

func sameURI(uri string, p *Port) bool {
	dev, name, err := SplitPortURI(uri)
	return err == nil && dev == p.Device && Normalize(name) == p.Name
}

// Validate reports contradictions in the snapshot: alias loops and
// configuration mismatches. All of them are Fatal.
func (t *Topology) Validate() error {
	var errs []error
	for _, dn := range t.DeviceNames() {
		d := t.Devices[dn]
		for _, pn := range d.PortNames() {
			p := d.Ports[pn]
			if p.IsAlias == "" {
				continue
			}
			if _, err := t.FindPeer(p.URI()); errors.Is(err, ErrAliasLoop) {
				errs = append(errs, err)
			}
		}
	}
	for _, m := range t.Mismatches {
		errs = append(errs, serrors.JoinNoStack(ErrConfigMismatch, nil, "port", m))
	}
	return errors.Join(errs...)
}
