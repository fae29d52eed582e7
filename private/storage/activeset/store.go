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

// Package activeset implements the active reservation set: an in-memory
// MVCC index of all committed reservations, persisted as one versioned
// document per committed write.
//
// Writes are serialized by the store. Readers use a read transaction and
// see either the state before or after a write, never a partial update.
package activeset

import (
	"context"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
)

var (
	// ErrNotFound indicates an unknown reservation URI.
	ErrNotFound = errkind.Sentinel(errkind.NotFound, "reservation not found")
	// ErrExists indicates an insert of a URI that is already present.
	ErrExists = errkind.Sentinel(errkind.Conflict, "reservation exists")
)

// Persister stores versions of the encoded active set.
type Persister interface {
	// Save stores the document under the version.
	Save(ctx context.Context, version int64, at time.Time, doc []byte) error
	// Latest returns the latest version and its document. A store without
	// versions returns version 0 and a nil document.
	Latest(ctx context.Context) (int64, []byte, error)
}

// Metrics are the metrics of the store.
type Metrics struct {
	// Writes counts committed write transactions.
	Writes metrics.Counter
	// Reservations is the number of reservations in the set.
	Reservations metrics.Gauge
}

// Store is the active reservation set.
type Store struct {
	db        *memdb.MemDB
	persister Persister
	clock     clock.Clock
	metrics   Metrics

	// mtx serializes writers.
	mtx     sync.Mutex
	version int64
}

// New creates an empty store. Call Load to restore the persisted state.
func New(persister Persister, c clock.Clock, m Metrics) (*Store, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, serrors.Wrap("creating memdb", err)
	}
	return &Store{db: db, persister: persister, clock: c, metrics: m}, nil
}

// Load replaces the content of the store with the latest persisted version.
func (s *Store) Load(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	version, doc, err := s.persister.Latest(ctx)
	if err != nil {
		return serrors.Wrap("loading active set", err)
	}
	var rs []*reservation.Reservation
	if doc != nil {
		if rs, err = reservation.Decode(doc); err != nil {
			return err
		}
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(tableReservations, indexID); err != nil {
		return err
	}
	if _, err := txn.DeleteAll(tableClaims, indexID); err != nil {
		return err
	}
	for _, r := range rs {
		if err := insert(txn, r); err != nil {
			return err
		}
	}
	txn.Commit()
	s.version = version
	metrics.GaugeSet(s.metrics.Reservations, float64(len(rs)))
	log.FromCtx(ctx).Info("Loaded active set", "version", version, "reservations", len(rs))
	return nil
}

// Version returns the version of the latest committed write.
func (s *Store) Version() int64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.version
}

// View runs cb with a consistent read transaction.
func (s *Store) View(cb func(ReadTx)) {
	cb(s.Snapshot())
}

// Snapshot returns a read transaction. It stays consistent while the store
// is modified.
func (s *Store) Snapshot() ReadTx {
	return readTx{txn: s.db.Txn(false)}
}

// Update runs cb in a write transaction. If cb succeeds the new set is
// persisted under the next version and then made visible. If cb or the
// persistence fails nothing changes.
func (s *Store) Update(ctx context.Context, cb func(Tx) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := cb(tx{readTx: readTx{txn: txn}}); err != nil {
		return err
	}
	rs := readTx{txn: txn}.List()
	doc, err := reservation.Encode(rs)
	if err != nil {
		return err
	}
	next := s.version + 1
	if err := s.persister.Save(ctx, next, s.clock.Now(), doc); err != nil {
		return serrors.Wrap("persisting active set", err, "version", next)
	}
	txn.Commit()
	s.version = next
	metrics.CounterInc(s.metrics.Writes)
	metrics.GaugeSet(s.metrics.Reservations, float64(len(rs)))
	return nil
}

// Insert adds a new reservation.
func (s *Store) Insert(ctx context.Context, r *reservation.Reservation) error {
	return s.Update(ctx, func(tx Tx) error { return tx.Insert(r) })
}

// Replace replaces an existing reservation.
func (s *Store) Replace(ctx context.Context, r *reservation.Reservation) error {
	return s.Update(ctx, func(tx Tx) error { return tx.Update(r) })
}

// Delete removes a reservation.
func (s *Store) Delete(ctx context.Context, uri string) error {
	return s.Update(ctx, func(tx Tx) error { return tx.Delete(uri) })
}

// Get returns a copy of the reservation.
func (s *Store) Get(uri string) (*reservation.Reservation, error) {
	return s.Snapshot().Get(uri)
}

// List returns copies of all reservations sorted by URI.
func (s *Store) List() []*reservation.Reservation {
	return s.Snapshot().List()
}

// ReadTx is a consistent read view of the set. Returned reservations are
// copies.
type ReadTx interface {
	Get(uri string) (*reservation.Reservation, error)
	List() []*reservation.Reservation
	// OverlapsAtLayer2 returns the URIs of the reservations claiming the
	// VLAN on the port in a window overlapping w.
	OverlapsAtLayer2(device, port string, vlan int, w clock.Window) []string
	// OverlapsAtLayer3 returns the URIs of the reservations claiming a
	// prefix of the family that overlaps p, on the port in a window
	// overlapping w.
	OverlapsAtLayer3(device, port string, p netip.Prefix, family reservation.Family,
		w clock.Window) []string
	// BandwidthCommitted returns the sum of guaranteed bandwidth on the
	// port of reservations overlapping w.
	BandwidthCommitted(device, port string, w clock.Window) int64
	// BandwidthLoads returns the guaranteed bandwidth claims on the port of
	// reservations overlapping w, sorted by URI.
	BandwidthLoads(device, port string, w clock.Window) []Load
}

// Load is guaranteed bandwidth held on a port during a window.
type Load struct {
	URI       string
	Window    clock.Window
	Bandwidth int64
}

// PeakBandwidth returns the highest sum of concurrently held bandwidth of
// the loads inside w. Windows are half-open: a load ending at t and one
// starting at t are not concurrent.
func PeakBandwidth(loads []Load, w clock.Window) int64 {
	type edge struct {
		at int64
		bw int64
	}
	edges := make([]edge, 0, 2*len(loads))
	for _, l := range loads {
		start, end := max(l.Window.Start, w.Start), min(l.Window.End, w.End)
		if l.Bandwidth == 0 || start >= end {
			continue
		}
		edges = append(edges, edge{start, l.Bandwidth}, edge{end, -l.Bandwidth})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at != edges[j].at {
			return edges[i].at < edges[j].at
		}
		return edges[i].bw < edges[j].bw
	})
	var cur, peak int64
	for _, e := range edges {
		cur += e.bw
		peak = max(peak, cur)
	}
	return peak
}

// Tx is a write transaction.
type Tx interface {
	ReadTx
	Insert(r *reservation.Reservation) error
	Update(r *reservation.Reservation) error
	Delete(uri string) error
}

type readTx struct {
	txn *memdb.Txn
}

func (r readTx) Get(uri string) (*reservation.Reservation, error) {
	obj, err := r.txn.First(tableReservations, indexID, uri)
	if err != nil {
		return nil, serrors.Wrap("reading reservation", err, "uri", uri)
	}
	if obj == nil {
		return nil, serrors.JoinNoStack(ErrNotFound, nil, "uri", uri)
	}
	return obj.(*reservation.Reservation).Copy(), nil
}

func (r readTx) List() []*reservation.Reservation {
	it, err := r.txn.Get(tableReservations, indexID)
	if err != nil {
		panic(err)
	}
	var rs []*reservation.Reservation
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rs = append(rs, obj.(*reservation.Reservation).Copy())
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].URI < rs[j].URI })
	return rs
}

func (r readTx) claims(device, port string) []*claim {
	it, err := r.txn.Get(tableClaims, indexPort, portKey(device, port))
	if err != nil {
		panic(err)
	}
	var cs []*claim
	for obj := it.Next(); obj != nil; obj = it.Next() {
		cs = append(cs, obj.(*claim))
	}
	return cs
}

func (r readTx) OverlapsAtLayer2(device, port string, vlan int, w clock.Window) []string {
	uris := map[string]struct{}{}
	for _, c := range r.claims(device, port) {
		if c.VLAN != 0 && c.VLAN == vlan && c.Window.Overlaps(w) {
			uris[c.URI] = struct{}{}
		}
	}
	return sortedSet(uris)
}

func (r readTx) OverlapsAtLayer3(device, port string, p netip.Prefix,
	family reservation.Family, w clock.Window) []string {

	uris := map[string]struct{}{}
	for _, c := range r.claims(device, port) {
		if !c.Prefix.IsValid() || reservation.FamilyOf(c.Prefix) != family {
			continue
		}
		if c.Prefix.Overlaps(p) && c.Window.Overlaps(w) {
			uris[c.URI] = struct{}{}
		}
	}
	return sortedSet(uris)
}

func (r readTx) BandwidthCommitted(device, port string, w clock.Window) int64 {
	var sum int64
	for _, c := range r.claims(device, port) {
		if c.Window.Overlaps(w) {
			sum += c.Bandwidth
		}
	}
	return sum
}

func (r readTx) BandwidthLoads(device, port string, w clock.Window) []Load {
	var loads []Load
	for _, c := range r.claims(device, port) {
		if c.Bandwidth > 0 && c.Window.Overlaps(w) {
			loads = append(loads, Load{URI: c.URI, Window: c.Window, Bandwidth: c.Bandwidth})
		}
	}
	sort.SliceStable(loads, func(i, j int) bool { return loads[i].URI < loads[j].URI })
	return loads
}

type tx struct {
	readTx
}

func (t tx) Insert(r *reservation.Reservation) error {
	existing, err := t.txn.First(tableReservations, indexID, r.URI)
	if err != nil {
		return err
	}
	if existing != nil {
		return serrors.JoinNoStack(ErrExists, nil, "uri", r.URI)
	}
	return insert(t.txn, r)
}

func (t tx) Update(r *reservation.Reservation) error {
	if err := t.Delete(r.URI); err != nil {
		return err
	}
	return insert(t.txn, r)
}

func (t tx) Delete(uri string) error {
	existing, err := t.txn.First(tableReservations, indexID, uri)
	if err != nil {
		return err
	}
	if existing == nil {
		return serrors.JoinNoStack(ErrNotFound, nil, "uri", uri)
	}
	if err := t.txn.Delete(tableReservations, existing); err != nil {
		return err
	}
	if _, err := t.txn.DeleteAll(tableClaims, indexURI, uri); err != nil {
		return err
	}
	return nil
}

func insert(txn *memdb.Txn, r *reservation.Reservation) error {
	if r.URI == "" {
		return errkind.New(errkind.InvalidInput, "reservation without uri")
	}
	stored := r.Copy()
	stored.Canonicalize()
	if err := txn.Insert(tableReservations, stored); err != nil {
		return serrors.Wrap("inserting reservation", err, "uri", r.URI)
	}
	for i, c := range stored.Claims() {
		row := &claim{
			ID:      stored.URI + "#" + strconv.Itoa(i),
			URI:     stored.URI,
			PortKey: portKey(c.Device, c.Port),
			Claim:   c,
			Window:  stored.Window,
		}
		if err := txn.Insert(tableClaims, row); err != nil {
			return serrors.Wrap("inserting claim", err, "uri", r.URI)
		}
	}
	return nil
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	res := make([]string, 0, len(set))
	for k := range set {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
