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

// Package checker decides whether a delta can be admitted against the
// active reservation set and the topology.
//
// Check is a pure function: it reads its inputs, never modifies them and
// returns the same result for the same inputs.
package checker

import (
	"errors"
	"net/netip"

	"github.com/dustin/go-humanize"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/topology"
)

// Input is the state a delta is checked against.
type Input struct {
	Kind    delta.Kind
	Content []byte
	// Active is a read view of the active reservation set.
	Active   activeset.ReadTx
	Topology *topology.Topology
	// Now is the current time in UTC seconds.
	Now int64
	// Pending are the normalized reservations of earlier admitted deltas
	// that are not yet part of the active set. They win over the delta.
	Pending []*reservation.Reservation
}

// Result is the outcome of an admitted delta.
type Result struct {
	// Reservations are the normalized reservations of an addition or
	// modify delta. For a reduction they are the current reservations
	// that are removed.
	Reservations []*reservation.Reservation
}

// URIs returns the reservation URIs of the result.
func (r Result) URIs() []string {
	uris := make([]string, 0, len(r.Reservations))
	for _, res := range r.Reservations {
		uris = append(uris, res.URI)
	}
	return uris
}

// Check checks the delta. A refused delta results in a *Rejection; an alias
// loop in the topology results in a Fatal error.
func Check(in Input) (Result, error) {
	rs, err := reservation.Parse(in.Content)
	if err != nil {
		return Result{}, parseRejection(err)
	}
	c := &check{in: in, rs: rs}
	switch in.Kind {
	case delta.Addition:
		return c.addition()
	case delta.Modify:
		return c.modify()
	case delta.Reduction:
		return c.reduction()
	default:
		return Result{}, &Rejection{
			Tag:    MalformedContent,
			Kind:   errkind.InvalidInput,
			Detail: "unknown delta kind " + string(in.Kind),
		}
	}
}

// Normalize parses content and resolves the port names of its endpoints
// without checking for conflicts. Ports unknown to the topology are kept as
// given.
func Normalize(content []byte, topo *topology.Topology) ([]*reservation.Reservation, error) {
	rs, err := reservation.Parse(content)
	if err != nil {
		return nil, err
	}
	for _, r := range rs {
		if r.VSwitch == nil {
			continue
		}
		for i := range r.VSwitch.Endpoints {
			ep := &r.VSwitch.Endpoints[i]
			if p, err := topo.ResolvePort(ep.Device, ep.Port); err == nil {
				ep.Port = p.Name
			}
		}
		r.Canonicalize()
	}
	return rs, nil
}

func parseRejection(err error) error {
	var perr *reservation.ParseError
	if !errors.As(err, &perr) {
		return &Rejection{Tag: MalformedContent, Kind: errkind.InvalidInput, Detail: err.Error()}
	}
	rej := &Rejection{
		Tag:    MalformedContent,
		Kind:   errkind.InvalidInput,
		Device: perr.Device,
		Port:   perr.Port,
		Detail: perr.Error(),
	}
	if perr.Field == reservation.FieldAddress {
		rej.Tag = WrongIPAddress
	}
	if perr.Field == reservation.FieldWindow {
		rej.Tag = InvalidTime
	}
	return rej
}

type check struct {
	in Input
	rs []*reservation.Reservation
	// accepted are the normalized reservations admitted so far; later
	// reservations of the same delta are checked against them.
	accepted []*reservation.Reservation
}

func (c *check) addition() (Result, error) {
	for _, r := range c.rs {
		if err := c.checkWindow(r); err != nil {
			return Result{}, err
		}
		if _, err := c.in.Active.Get(r.URI); err == nil || c.isPending(r.URI) {
			return Result{}, &Rejection{
				Tag:       OverlapException,
				Kind:      errkind.Conflict,
				URI:       r.URI,
				Competing: []string{r.URI},
				Detail:    "reservation already exists",
			}
		}
		n, err := c.admit(r, nil)
		if err != nil {
			return Result{}, err
		}
		c.accepted = append(c.accepted, n)
	}
	return Result{Reservations: c.accepted}, nil
}

func (c *check) modify() (Result, error) {
	for _, r := range c.rs {
		current, err := c.in.Active.Get(r.URI)
		if err != nil {
			return Result{}, &Rejection{
				Tag:    MissingReservation,
				Kind:   errkind.PreconditionFailed,
				URI:    r.URI,
				Detail: "modified reservation is not active",
			}
		}
		if current.State == delta.Deactivating {
			return Result{}, &Rejection{
				Tag:    MissingReservation,
				Kind:   errkind.PreconditionFailed,
				URI:    r.URI,
				Detail: "modified reservation is being removed",
			}
		}
		if current.Window.Ended(c.in.Now) {
			return Result{}, &Rejection{
				Tag:    InvalidTime,
				Kind:   errkind.PreconditionFailed,
				URI:    r.URI,
				Detail: "modified reservation already ended at " + current.Window.String(),
			}
		}
		if err := c.checkWindow(r); err != nil {
			return Result{}, err
		}
		n, err := c.admit(r, current)
		if err != nil {
			return Result{}, err
		}
		n.DeltaID, n.State = current.DeltaID, current.State
		c.accepted = append(c.accepted, n)
	}
	return Result{Reservations: c.accepted}, nil
}

func (c *check) reduction() (Result, error) {
	var res Result
	for _, r := range c.rs {
		current, err := c.in.Active.Get(r.URI)
		if err != nil {
			return Result{}, &Rejection{
				Tag:    MissingReservation,
				Kind:   errkind.PreconditionFailed,
				URI:    r.URI,
				Detail: "reduced reservation is not active",
			}
		}
		if current.State == delta.Deactivating {
			return Result{}, &Rejection{
				Tag:    MissingReservation,
				Kind:   errkind.PreconditionFailed,
				URI:    r.URI,
				Detail: "reduced reservation is already being removed",
			}
		}
		res.Reservations = append(res.Reservations, current)
	}
	return res, nil
}

func (c *check) checkWindow(r *reservation.Reservation) error {
	w := r.Window
	switch {
	case !w.Valid():
		return &Rejection{
			Tag:    InvalidTime,
			Kind:   errkind.InvalidInput,
			URI:    r.URI,
			Detail: "end is not after start " + w.String(),
		}
	case w.End <= c.in.Now:
		return &Rejection{
			Tag:    InvalidTime,
			Kind:   errkind.InvalidInput,
			URI:    r.URI,
			Detail: "end is in the past " + w.String(),
		}
	}
	return nil
}

// admit checks the endpoints of r and returns its normalized copy. For a
// modify, current is the reservation that is replaced; its claims do not
// conflict with r.
func (c *check) admit(r, current *reservation.Reservation) (*reservation.Reservation, error) {
	if r.Empty() {
		return nil, &Rejection{
			Tag:    MalformedContent,
			Kind:   errkind.InvalidInput,
			URI:    r.URI,
			Detail: "reservation has no endpoints",
		}
	}
	n := r.Copy()
	// Ended reservations never conflict: only the part of the window that
	// is not yet over is checked.
	q := clock.Window{Start: max(n.Window.Start, c.in.Now), End: n.Window.End}
	switch n.Kind {
	case reservation.VSwitchKind:
		for i := range n.VSwitch.Endpoints {
			if err := c.admitVSwitch(n, &n.VSwitch.Endpoints[i], q, current); err != nil {
				return nil, err
			}
		}
		if err := c.checkBandwidth(n, q, current); err != nil {
			return nil, err
		}
	case reservation.RoutingKind:
		for i := range n.Routing.Endpoints {
			if err := c.admitRouting(n, &n.Routing.Endpoints[i], q, current); err != nil {
				return nil, err
			}
		}
	}
	n.Canonicalize()
	return n, nil
}

func (c *check) admitVSwitch(r *reservation.Reservation, ep *reservation.VSwitchEndpoint,
	q clock.Window, current *reservation.Reservation) error {

	port, err := c.in.Topology.ResolvePort(ep.Device, ep.Port)
	if err != nil {
		return unknownEndpoint(r.URI, ep.Device, ep.Port, err)
	}
	ep.Port = port.Name
	if ep.IsAlias != "" {
		dev, name, err := topology.SplitPortURI(ep.IsAlias)
		if err == nil {
			_, err = c.in.Topology.ResolvePort(dev, name)
		}
		if err != nil {
			return unknownEndpoint(r.URI, ep.Device, ep.Port, err)
		}
	}
	if port.IsAlias != "" {
		// An alias loop contradicts the topology and halts the loop.
		if _, err := c.in.Topology.FindPeer(port.URI()); errors.Is(err, topology.ErrAliasLoop) {
			return serrors.Wrap("resolving alias peer", err, "uri", r.URI, "port", port.URI())
		}
	}
	if ep.VLAN != 0 {
		if !port.Allocatable().Contains(ep.VLAN) {
			return &Rejection{
				Tag:    VlanOutOfRange,
				Kind:   errkind.InvalidInput,
				URI:    r.URI,
				Device: ep.Device,
				Port:   ep.Port,
				VLAN:   ep.VLAN,
				Detail: "vlan not allocatable, allowed " + port.Allocatable().String(),
			}
		}
		competing := without(c.in.Active.OverlapsAtLayer2(ep.Device, ep.Port, ep.VLAN, q),
			current)
		competing = append(competing, c.pendingLayer2(ep.Device, ep.Port, ep.VLAN, q)...)
		if len(competing) > 0 {
			return &Rejection{
				Tag:       OverlapException,
				Kind:      errkind.Conflict,
				URI:       r.URI,
				Device:    ep.Device,
				Port:      ep.Port,
				VLAN:      ep.VLAN,
				Competing: competing,
				Detail:    "vlan already reserved",
			}
		}
	}
	for _, p := range ep.Prefixes() {
		if port.NIC != nil && !port.NIC.InPool(p) {
			return &Rejection{
				Tag:    WrongIPAddress,
				Kind:   errkind.InvalidInput,
				URI:    r.URI,
				Device: ep.Device,
				Port:   ep.Port,
				Prefix: p,
				Detail: "address outside of the nic pool",
			}
		}
		fam := reservation.FamilyOf(p)
		competing := without(c.in.Active.OverlapsAtLayer3(ep.Device, ep.Port, p, fam, q), current)
		competing = append(competing, c.pendingLayer3(ep.Device, ep.Port, p, q)...)
		if len(competing) > 0 {
			return &Rejection{
				Tag:       WrongIPAddress,
				Kind:      errkind.Conflict,
				URI:       r.URI,
				Device:    ep.Device,
				Port:      ep.Port,
				Prefix:    p,
				Competing: competing,
				Detail:    "address overlaps an active reservation",
			}
		}
	}
	return nil
}

func (c *check) admitRouting(r *reservation.Reservation, ep *reservation.RoutingEndpoint,
	q clock.Window, current *reservation.Reservation) error {

	if _, err := c.in.Topology.Device(ep.Device); err != nil {
		return unknownEndpoint(r.URI, ep.Device, "", err)
	}
	for _, rt := range ep.Routes {
		if !rt.RouteFrom.IsValid() {
			continue
		}
		competing := without(
			c.in.Active.OverlapsAtLayer3(ep.Device, "", rt.RouteFrom, ep.Family, q), current)
		competing = append(competing, c.pendingLayer3(ep.Device, "", rt.RouteFrom, q)...)
		if len(competing) > 0 {
			return &Rejection{
				Tag:       OverlapException,
				Kind:      errkind.Conflict,
				URI:       r.URI,
				Device:    ep.Device,
				Prefix:    rt.RouteFrom,
				Competing: competing,
				Detail:    "route prefix already reserved",
			}
		}
	}
	return nil
}

// checkBandwidth verifies that the guaranteed bandwidth of r fits next to
// the committed bandwidth on each of its ports at every point of q.
func (c *check) checkBandwidth(r *reservation.Reservation, q clock.Window,
	current *reservation.Reservation) error {

	demand := map[portKey]int64{}
	var order []portKey
	for _, cl := range r.Claims() {
		if cl.Bandwidth == 0 {
			continue
		}
		k := portKey{cl.Device, cl.Port}
		if _, ok := demand[k]; !ok {
			order = append(order, k)
		}
		demand[k] += cl.Bandwidth
	}
	for _, k := range order {
		_, reservable, err := c.in.Topology.PortCapacity(k.device, k.port)
		if err != nil {
			return unknownEndpoint(r.URI, k.device, k.port, err)
		}
		loads := c.loads(k, q, current)
		loads = append(loads, activeset.Load{URI: r.URI, Window: q, Bandwidth: demand[k]})
		if peak := activeset.PeakBandwidth(loads, q); peak > reservable {
			return &Rejection{
				Tag:    ExceededCapacity,
				Kind:   errkind.CapacityExceeded,
				URI:    r.URI,
				Device: k.device,
				Port:   k.port,
				Detail: "guaranteed bandwidth exceeds reservable capacity: " +
					formatBps(peak) + " > " + formatBps(reservable),
			}
		}
	}
	return nil
}

type portKey struct {
	device string
	port   string
}

// loads returns the bandwidth held on the port in q by the active set
// without the replaced reservation, the pending reservations and the ones
// admitted earlier from the same delta.
func (c *check) loads(k portKey, q clock.Window,
	current *reservation.Reservation) []activeset.Load {

	var loads []activeset.Load
	for _, l := range c.in.Active.BandwidthLoads(k.device, k.port, q) {
		if current == nil || l.URI != current.URI {
			loads = append(loads, l)
		}
	}
	for _, a := range c.others() {
		if !a.Window.Overlaps(q) {
			continue
		}
		for _, cl := range a.Claims() {
			if cl.Device == k.device && cl.Port == k.port && cl.Bandwidth > 0 {
				loads = append(loads,
					activeset.Load{URI: a.URI, Window: a.Window, Bandwidth: cl.Bandwidth})
			}
		}
	}
	return loads
}

func (c *check) isPending(uri string) bool {
	for _, p := range c.in.Pending {
		if p.URI == uri {
			return true
		}
	}
	return false
}

// others returns the reservations besides the active set that r competes
// with: pending ones first, then those admitted earlier from the same delta.
func (c *check) others() []*reservation.Reservation {
	if len(c.in.Pending) == 0 {
		return c.accepted
	}
	return append(append([]*reservation.Reservation(nil), c.in.Pending...), c.accepted...)
}

func (c *check) pendingLayer2(device, port string, vlan int, q clock.Window) []string {
	var uris []string
	for _, a := range c.others() {
		if !a.Window.Overlaps(q) {
			continue
		}
		for _, cl := range a.Claims() {
			if cl.Device == device && cl.Port == port && cl.VLAN == vlan {
				uris = append(uris, a.URI)
				break
			}
		}
	}
	return uris
}

func (c *check) pendingLayer3(device, port string, p netip.Prefix, q clock.Window) []string {
	var uris []string
	for _, a := range c.others() {
		if !a.Window.Overlaps(q) {
			continue
		}
		for _, cl := range a.Claims() {
			if cl.Device == device && cl.Port == port && cl.Prefix.IsValid() &&
				cl.Prefix.Overlaps(p) {
				uris = append(uris, a.URI)
				break
			}
		}
	}
	return uris
}

func unknownEndpoint(uri, device, port string, err error) error {
	kind := errkind.NotFound
	if errors.Is(err, topology.ErrAmbiguous) {
		kind = errkind.InvalidInput
	}
	return &Rejection{
		Tag:    UnknownEndpoint,
		Kind:   kind,
		URI:    uri,
		Device: device,
		Port:   port,
		Detail: err.Error(),
	}
}

func formatBps(bps int64) string {
	return humanize.SI(float64(bps), "bps")
}

// without removes the URI of the replaced reservation from uris.
func without(uris []string, current *reservation.Reservation) []string {
	if current == nil {
		return uris
	}
	res := uris[:0:0]
	for _, u := range uris {
		if u != current.URI {
			res = append(res, u)
		}
	}
	return res
}
