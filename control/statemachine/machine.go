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

// Package statemachine drives deltas through their lifecycle.
//
// Every transition is validated against the lifecycle table and persisted
// with a compare-and-swap on the stored state before it becomes visible.
// A transition that loses the swap has no effect. The state of an addition
// is mirrored into its reservations in the active set, so that the
// renderer and the checker see it.
package statemachine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/looplab/fsm"

	"github.com/siterm/rcp/control/checker"
	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/events"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/topology"
)

// Defaults of Config.
const (
	DefaultCommitTimeout     = 300 * time.Second
	DefaultRemovalDeadline   = 600 * time.Second
	DefaultMaxRenderAttempts = 12
	DefaultStuckThreshold    = 3
)

// Reasons recorded with transitions that are not caused by a rejection.
const (
	ReasonCommitTimeout   = "commit timeout"
	ReasonWindowEnded     = "window ended"
	ReasonTargetRemoved   = "modified reservation removed"
	ReasonTargetsCleared  = "reduced reservations cleared"
	ReasonRemovalDeadline = "removal deadline exceeded"
)

// Config configures the machine.
type Config struct {
	// CommitTimeout is the time an accepted delta waits for its commit.
	CommitTimeout time.Duration
	// RemovalDeadline is the time after which a deactivating delta is
	// removed even if its devices were not cleared.
	RemovalDeadline time.Duration
	// MaxRenderAttempts is the number of failed dispatches after which an
	// activating delta fails.
	MaxRenderAttempts int
	// StuckThreshold is the number of failed dispatches after which a
	// deactivating delta is reported as stuck.
	StuckThreshold int
}

// InitDefaults sets unset values to their defaults.
func (c *Config) InitDefaults() {
	if c.CommitTimeout == 0 {
		c.CommitTimeout = DefaultCommitTimeout
	}
	if c.RemovalDeadline == 0 {
		c.RemovalDeadline = DefaultRemovalDeadline
	}
	if c.MaxRenderAttempts == 0 {
		c.MaxRenderAttempts = DefaultMaxRenderAttempts
	}
	if c.StuckThreshold == 0 {
		c.StuckThreshold = DefaultStuckThreshold
	}
}

// Metrics are the metrics of the machine.
type Metrics struct {
	// Transitions counts transitions labeled by "from" and "to".
	Transitions metrics.Counter
	// Rejections counts refused deltas labeled by "tag".
	Rejections metrics.Counter
	// Stuck counts deltas that failed to clear their devices.
	Stuck metrics.Counter
}

// Topology provides the current topology snapshot.
type Topology interface {
	Snapshot() *topology.Topology
}

// Machine drives the lifecycle of all deltas.
type Machine struct {
	deltas   delta.DB
	active   *activeset.Store
	topology Topology
	bus      *events.Bus
	clock    clock.Clock
	cfg      Config
	metrics  Metrics
}

// New creates a machine. The bus may be nil.
func New(deltas delta.DB, active *activeset.Store, topo Topology, bus *events.Bus,
	c clock.Clock, cfg Config, m Metrics) *Machine {

	cfg.InitDefaults()
	return &Machine{
		deltas:   deltas,
		active:   active,
		topology: topo,
		bus:      bus,
		clock:    c,
		cfg:      cfg,
		metrics:  m,
	}
}

// Commit moves an accepted delta to committing. It fails with a
// PreconditionFailed error if the delta is in any other state.
func (m *Machine) Commit(ctx context.Context, id string) (*delta.Delta, error) {
	d, err := m.deltas.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, d, EventCommit, ""); err != nil {
		return nil, err
	}
	return d, nil
}

// Drain runs the admission check for the accepting deltas in insert order.
// A delta that names a reservation of an earlier delta still in flight
// waits for the earlier one to settle.
func (m *Machine) Drain(ctx context.Context) error {
	ds, err := m.deltas.List(ctx, delta.ListFilter{
		States: []delta.State{delta.Accepting, delta.Accepted, delta.Committing},
	})
	if err != nil {
		return err
	}
	sortDeltas(ds)
	topo := m.topology.Snapshot()
	logger := log.FromCtx(ctx)

	inFlight := map[string]struct{}{}
	var pending []*reservation.Reservation
	var errs serrors.List
	for _, d := range ds {
		uris := contentURIs(d)
		if d.State != delta.Accepting {
			for _, u := range uris {
				inFlight[u] = struct{}{}
			}
			if d.Kind != delta.Reduction {
				if rs, err := checker.Normalize(d.Content, topo); err == nil {
					pending = append(pending, rs...)
				}
			}
			continue
		}
		if blocked(uris, inFlight) {
			logger.Debug("Delta waits for earlier delta", "delta", d.ID)
			for _, u := range uris {
				inFlight[u] = struct{}{}
			}
			continue
		}
		res, err := checker.Check(checker.Input{
			Kind:     d.Kind,
			Content:  d.Content,
			Active:   m.active.Snapshot(),
			Topology: topo,
			Now:      m.clock.Seconds(),
			Pending:  pending,
		})
		if err != nil {
			var rej *checker.Rejection
			if !errors.As(err, &rej) {
				errs = append(errs, err)
				continue
			}
			metrics.CounterInc(metrics.CounterWith(m.metrics.Rejections, "tag", string(rej.Tag)))
			if err := m.transition(ctx, d, EventCheckFailed, rej.Error()); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := m.transition(ctx, d, EventCheckPassed, ""); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, u := range uris {
			inFlight[u] = struct{}{}
		}
		if d.Kind != delta.Reduction {
			pending = append(pending, res.Reservations...)
		}
	}
	return errs.ToError()
}

// transition fires the event on the delta. The new state is persisted
// before d is updated and the transition is published. For additions the
// state is mirrored into the active set.
func (m *Machine) transition(ctx context.Context, d *delta.Delta, event, reason string) error {
	if err := m.fire(ctx, d, event, reason); err != nil {
		return err
	}
	if d.Kind == delta.Addition {
		if err := m.syncSet(ctx, d); err != nil {
			log.FromCtx(ctx).Info("Failed to update active set", "delta", d.ID, "err", err)
		}
	}
	return nil
}

func (m *Machine) fire(ctx context.Context, d *delta.Delta, event, reason string) error {
	now := m.clock.Now()
	var persistErr error
	f := fsm.NewFSM(string(d.State), transitions, fsm.Callbacks{
		"leave_state": func(ctx context.Context, e *fsm.Event) {
			err := m.deltas.UpdateState(ctx, d.ID, delta.State(e.Src), delta.State(e.Dst),
				now, reason)
			if err != nil {
				persistErr = err
				e.Cancel(err)
			}
		},
	})
	if err := f.Event(ctx, event); err != nil {
		if persistErr != nil {
			return persistErr
		}
		return errkind.Wrap(errkind.PreconditionFailed, err,
			"delta", d.ID, "state", d.State, "event", event)
	}
	from := d.State
	d.State = delta.State(f.Current())
	d.UpdateTime = now
	d.Reason = reason
	d.RenderFailures = 0
	metrics.CounterInc(metrics.CounterWith(m.metrics.Transitions,
		"from", string(from), "to", string(d.State)))
	log.FromCtx(ctx).Debug("Delta transition", "delta", d.ID, "from", from, "to", d.State,
		"event", event, "reason", reason)
	if m.bus != nil {
		m.bus.Publish(events.Transition{
			DeltaID:      d.ID,
			ConnectionID: d.ConnectionID,
			Kind:         d.Kind,
			From:         from,
			To:           d.State,
			At:           now,
			Reason:       reason,
		})
	}
	return nil
}

// syncSet mirrors the state of an addition into its reservations. The
// reservations of an addition in a terminal state are removed.
func (m *Machine) syncSet(ctx context.Context, d *delta.Delta) error {
	var changed bool
	err := m.active.Update(ctx, func(tx activeset.Tx) error {
		for _, uri := range contentURIs(d) {
			r, err := tx.Get(uri)
			if err != nil || r.DeltaID != d.ID {
				continue
			}
			if d.State.Terminal() {
				if err := tx.Delete(uri); err != nil {
					return err
				}
				changed = true
				continue
			}
			if r.State == d.State {
				continue
			}
			r.State = d.State
			changed = true
			if err := tx.Update(r); err != nil {
				return err
			}
		}
		if !changed {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// errUnchanged aborts write transactions that would not modify the set.
var errUnchanged = serrors.New("unchanged")

func contentURIs(d *delta.Delta) []string {
	rs, err := reservation.Parse(d.Content)
	if err != nil {
		return nil
	}
	uris := make([]string, 0, len(rs))
	for _, r := range rs {
		uris = append(uris, r.URI)
	}
	return uris
}

func blocked(uris []string, inFlight map[string]struct{}) bool {
	for _, u := range uris {
		if _, ok := inFlight[u]; ok {
			return true
		}
	}
	return false
}

func sortDeltas(ds []*delta.Delta) {
	sort.SliceStable(ds, func(i, j int) bool { return ds[i].Before(ds[j]) })
}
