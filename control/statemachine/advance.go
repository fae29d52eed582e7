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

package statemachine

import (
	"context"
	"errors"
	"sort"

	"github.com/siterm/rcp/control/checker"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/topology"
)

// Advance runs the time driven transitions and writes the committing deltas
// into the active set. Errors of single deltas do not stop the others.
func (m *Machine) Advance(ctx context.Context) error {
	ds, err := m.deltas.List(ctx, delta.ListFilter{
		States: []delta.State{
			delta.Accepted, delta.Committing, delta.Committed, delta.Activating,
			delta.Activated, delta.Deactivating,
		},
	})
	if err != nil {
		return err
	}
	sortDeltas(ds)
	byID := make(map[string]*delta.Delta, len(ds))
	for _, d := range ds {
		byID[d.ID] = d
	}
	topo := m.topology.Snapshot()

	var errs serrors.List
	for _, d := range ds {
		var err error
		switch d.State {
		case delta.Accepted:
			err = m.expire(ctx, d)
		case delta.Committing:
			err = m.write(ctx, topo, d, byID)
		case delta.Deactivating:
			err = m.deadline(ctx, d)
		}
		if err == nil && (d.State == delta.Committed || d.State == delta.Activating ||
			d.State == delta.Activated) {
			err = m.schedule(ctx, d)
		}
		if err != nil {
			errs = append(errs, serrors.Wrap("advancing delta", err, "delta", d.ID))
		}
	}
	if err := m.reconcile(ctx, byID); err != nil {
		errs = append(errs, err)
	}
	return errs.ToError()
}

func (m *Machine) expire(ctx context.Context, d *delta.Delta) error {
	if m.clock.Now().Sub(d.UpdateTime) < m.cfg.CommitTimeout {
		return nil
	}
	return m.transition(ctx, d, EventCommitTimeout, ReasonCommitTimeout)
}

func (m *Machine) deadline(ctx context.Context, d *delta.Delta) error {
	if m.clock.Now().Sub(d.UpdateTime) < m.cfg.RemovalDeadline {
		return nil
	}
	log.FromCtx(ctx).Error("Removing delta without cleared devices", "delta", d.ID,
		"deactivating_since", d.UpdateTime)
	return m.transition(ctx, d, EventForceRemove, ReasonRemovalDeadline)
}

// write applies a committing delta to the active set. The admission check
// is repeated inside the write transaction; a delta that no longer fits
// fails.
func (m *Machine) write(ctx context.Context, topo *topology.Topology, d *delta.Delta,
	byID map[string]*delta.Delta) error {

	var targets []*reservation.Reservation
	err := m.active.Update(ctx, func(tx activeset.Tx) error {
		if rs, ok := written(tx, d); ok {
			targets = rs
			return errUnchanged
		}
		res, err := checker.Check(checker.Input{
			Kind:     d.Kind,
			Content:  d.Content,
			Active:   tx,
			Topology: topo,
			Now:      m.clock.Seconds(),
		})
		if err != nil {
			return err
		}
		for _, r := range res.Reservations {
			switch d.Kind {
			case delta.Addition:
				r.DeltaID, r.State = d.ID, delta.Committed
				err = tx.Insert(r)
			case delta.Modify:
				err = tx.Update(r)
			case delta.Reduction:
				r.State = delta.Deactivating
				err = tx.Update(r)
			}
			if err != nil {
				return err
			}
		}
		targets = res.Reservations
		return nil
	})
	var rej *checker.Rejection
	switch {
	case errors.As(err, &rej):
		metrics.CounterInc(metrics.CounterWith(m.metrics.Rejections, "tag", string(rej.Tag)))
		return m.transition(ctx, d, EventWriteFailed, rej.Error())
	case err != nil && !errors.Is(err, errUnchanged):
		return err
	}
	if d.Kind == delta.Reduction {
		if err := m.reduce(ctx, d, targets, byID); err != nil {
			return err
		}
	}
	return m.transition(ctx, d, EventWritten, "")
}

// written reports whether the delta was written before. This happens if
// the process stopped between the write and the state update.
func written(tx activeset.ReadTx, d *delta.Delta) ([]*reservation.Reservation, bool) {
	uris := contentURIs(d)
	if len(uris) == 0 {
		return nil, false
	}
	var rs []*reservation.Reservation
	for _, uri := range uris {
		r, err := tx.Get(uri)
		if err != nil {
			return nil, false
		}
		switch {
		case d.Kind == delta.Addition && r.DeltaID == d.ID:
		case d.Kind == delta.Reduction && r.State == delta.Deactivating:
		default:
			return nil, false
		}
		rs = append(rs, r)
	}
	return rs, true
}

// reduce moves the additions of the reduced reservations and the modify
// deltas of their connections to deactivating.
func (m *Machine) reduce(ctx context.Context, d *delta.Delta, targets []*reservation.Reservation,
	byID map[string]*delta.Delta) error {

	additions := map[string]struct{}{}
	conns := map[string]struct{}{}
	for _, r := range targets {
		additions[r.DeltaID] = struct{}{}
		conns[r.ConnectionID] = struct{}{}
	}
	var live []*delta.Delta
	for _, id := range sortedKeys(additions) {
		if err := m.deltas.SetLinkedReduction(ctx, id, d.ID); err != nil {
			return err
		}
		add, err := m.lookup(ctx, id, byID)
		if err != nil {
			return err
		}
		live = append(live, add)
	}
	for _, conn := range sortedKeys(conns) {
		mods, err := m.deltas.List(ctx, delta.ListFilter{
			ConnectionID: conn,
			States:       []delta.State{delta.Committed, delta.Activating, delta.Activated},
		})
		if err != nil {
			return err
		}
		for _, mod := range mods {
			if mod.Kind != delta.Modify {
				continue
			}
			if cur, ok := byID[mod.ID]; ok {
				mod = cur
			}
			live = append(live, mod)
		}
	}
	for _, l := range live {
		if !Allowed(l.State, EventReduce) {
			continue
		}
		if err := m.transition(ctx, l, EventReduce, "reduced by "+d.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) lookup(ctx context.Context, id string,
	byID map[string]*delta.Delta) (*delta.Delta, error) {

	if d, ok := byID[id]; ok {
		return d, nil
	}
	return m.deltas.Get(ctx, id)
}

// schedule runs the transitions that follow from the reservation windows.
func (m *Machine) schedule(ctx context.Context, d *delta.Delta) error {
	now := m.clock.Seconds()
	set := m.active.Snapshot()
	switch d.Kind {
	case delta.Addition:
		var owned []*reservation.Reservation
		for _, uri := range contentURIs(d) {
			if r, err := set.Get(uri); err == nil && r.DeltaID == d.ID {
				owned = append(owned, r)
			}
		}
		ended, started := true, false
		for _, r := range owned {
			ended = ended && r.Window.Ended(now)
			started = started || r.Window.Started(now)
		}
		switch {
		case ended:
			return m.transition(ctx, d, EventEnd, ReasonWindowEnded)
		case started && d.State == delta.Committed:
			return m.transition(ctx, d, EventStart, "")
		}
	case delta.Modify:
		started := false
		for _, uri := range contentURIs(d) {
			r, err := set.Get(uri)
			switch {
			case err != nil || r.State == delta.Deactivating:
				return m.transition(ctx, d, EventEnd, ReasonTargetRemoved)
			case r.Window.Ended(now):
				return m.transition(ctx, d, EventEnd, ReasonWindowEnded)
			}
			started = started || r.Window.Started(now)
		}
		if started && d.State == delta.Committed {
			return m.transition(ctx, d, EventStart, "")
		}
	case delta.Reduction:
		switch d.State {
		case delta.Committed:
			return m.transition(ctx, d, EventStart, "")
		case delta.Activated:
			for _, uri := range contentURIs(d) {
				if _, err := set.Get(uri); err == nil {
					return nil
				}
			}
			return m.transition(ctx, d, EventEnd, ReasonTargetsCleared)
		}
	}
	return nil
}

// reconcile repairs the active set after an interrupted transition: the
// reservations of additions that are no longer live are removed and the
// state of the others is mirrored from their addition.
func (m *Machine) reconcile(ctx context.Context, byID map[string]*delta.Delta) error {
	var fixed []string
	err := m.active.Update(ctx, func(tx activeset.Tx) error {
		for _, r := range tx.List() {
			d, ok := byID[r.DeltaID]
			switch {
			case !ok || d.State.Terminal():
				if err := tx.Delete(r.URI); err != nil {
					return err
				}
			case d.State.Live() && r.State != d.State:
				r.State = d.State
				if err := tx.Update(r); err != nil {
					return err
				}
			default:
				continue
			}
			fixed = append(fixed, r.URI)
		}
		if len(fixed) == 0 {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return serrors.Wrap("reconciling active set", err)
	}
	log.FromCtx(ctx).Info("Reconciled active set", "reservations", fixed)
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
