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

// Package assembler materializes model snapshots: the topology overlaid
// with the active reservations, each tagged with its lifecycle state.
//
// The graph is encoded canonically so that equal state yields equal bytes
// and therefore an equal content hash. A snapshot is only stored if its
// hash differs from the latest one.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/identity"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/storage/model"
	"github.com/siterm/rcp/private/topology"
)

// TagPrefix prefixes the lifecycle tag of reservation nodes.
const TagPrefix = "monitor:status:"

// Build results.
const (
	ResultStored    = "stored"
	ResultUnchanged = "unchanged"
	ResultError     = "error"
)

// ErrNotModified is returned by Get if the snapshot was not created after
// the If-Modified-Since time.
var ErrNotModified = serrors.New("model not modified")

// Graph is the serialized form of a model.
type Graph struct {
	Sites       []string                  `json:"sites"`
	Devices     []*topology.Device        `json:"devices"`
	RoutingMaps map[string]map[string]any `json:"routingMaps,omitempty"`
	Nodes       []Node                    `json:"reservations"`
}

// Node is a reservation overlaid on the topology.
type Node struct {
	URI string `json:"uri"`
	Tag string `json:"tag"`
	// Ports are the port URIs of the layer 2 endpoints.
	Ports []string `json:"ports,omitempty"`
	// Devices are the devices the reservation touches.
	Devices     []string                 `json:"devices"`
	Reservation *reservation.Reservation `json:"reservation"`
}

// Tag returns the lifecycle tag of a reservation.
func Tag(r *reservation.Reservation) string {
	return TagPrefix + string(r.State)
}

// Marshal encodes the canonical graph of the topology and the reservations.
// Reservations whose window ended at now are left out.
func Marshal(topo *topology.Topology, rs []*reservation.Reservation, now int64) ([]byte, error) {
	g := Graph{
		Sites:       append([]string(nil), topo.Sites...),
		RoutingMaps: topo.RoutingMaps,
	}
	sort.Strings(g.Sites)
	for _, name := range topo.DeviceNames() {
		g.Devices = append(g.Devices, topo.Devices[name])
	}
	for _, r := range rs {
		if r.Window.Ended(now) {
			continue
		}
		c := r.Copy()
		c.Canonicalize()
		n := Node{
			URI:         c.URI,
			Tag:         Tag(c),
			Devices:     c.Devices(),
			Reservation: c,
		}
		if c.VSwitch != nil {
			seen := map[string]struct{}{}
			for _, e := range c.VSwitch.Endpoints {
				uri := topology.PortURI(e.Device, e.Port)
				if _, ok := seen[uri]; ok {
					continue
				}
				seen[uri] = struct{}{}
				n.Ports = append(n.Ports, uri)
			}
			sort.Strings(n.Ports)
		}
		g.Nodes = append(g.Nodes, n)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].URI < g.Nodes[j].URI })
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, serrors.Wrap("encoding model graph", err)
	}
	return raw, nil
}

// Unmarshal decodes a serialized graph.
func Unmarshal(raw []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, serrors.Wrap("decoding model graph", err)
	}
	return &g, nil
}

// Hash returns the content hash of a serialized graph.
func Hash(graph []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(graph))
}

// Metrics are the metrics of the assembler.
type Metrics struct {
	// Builds counts snapshot builds labeled by "result".
	Builds metrics.Counter
}

// Assembler builds and serves model snapshots.
type Assembler struct {
	db      model.DB
	clock   clock.Clock
	ids     identity.Generator
	metrics Metrics
}

// New creates an assembler. A nil generator selects random identifiers.
func New(db model.DB, c clock.Clock, ids identity.Generator, m Metrics) *Assembler {
	if ids == nil {
		ids = identity.Random{}
	}
	return &Assembler{db: db, clock: c, ids: ids, metrics: m}
}

// Build assembles a snapshot of the topology and the active set. If the
// content equals the latest snapshot, the latest snapshot is returned and
// stored is false.
func (a *Assembler) Build(ctx context.Context, topo *topology.Topology,
	set activeset.ReadTx) (*model.Snapshot, bool, error) {

	now := a.clock.Now()
	rs := set.List()
	graph, err := Marshal(topo, rs, now.Unix())
	if err != nil {
		a.count(ResultError)
		return nil, false, err
	}
	snap := &model.Snapshot{
		ID:           a.ids.NewID(),
		CreationTime: now,
		ContentHash:  Hash(graph),
		Graph:        graph,
	}
	saved, stored, err := a.db.Save(ctx, snap)
	if err != nil {
		a.count(ResultError)
		return nil, false, serrors.Wrap("storing model snapshot", err)
	}
	if !stored {
		a.count(ResultUnchanged)
		return saved, false, nil
	}
	a.count(ResultStored)
	log.FromCtx(ctx).Debug("Stored model snapshot", "id", saved.ID, "hash", saved.ContentHash,
		"reservations", len(rs), "generation", topo.Generation)
	return saved, true, nil
}

// Get returns the snapshot with the given ID, or the latest snapshot for
// an empty ID. If ifModifiedSince is set and the snapshot was not created
// after it, ErrNotModified is returned. The comparison has a granularity
// of one second.
func (a *Assembler) Get(ctx context.Context, id string,
	ifModifiedSince time.Time) (*model.Snapshot, error) {

	var snap *model.Snapshot
	var err error
	if id == "" {
		snap, err = a.db.Latest(ctx)
	} else {
		snap, err = a.db.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !ifModifiedSince.IsZero() &&
		!snap.CreationTime.Truncate(time.Second).After(ifModifiedSince.Truncate(time.Second)) {
		return nil, serrors.JoinNoStack(ErrNotModified, nil, "id", snap.ID,
			"created", snap.CreationTime)
	}
	return snap, nil
}

// IsNotModified reports whether err is ErrNotModified.
func IsNotModified(err error) bool {
	return errors.Is(err, ErrNotModified)
}

func (a *Assembler) count(result string) {
	metrics.CounterInc(metrics.CounterWith(a.metrics.Builds, "result", result))
}
