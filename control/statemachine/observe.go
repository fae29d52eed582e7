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

	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
)

// observation indexes the render statuses of a round.
type observation map[string]render.Status

func (o observation) applied(device, uri string) (uint64, bool) {
	fp, ok := o[device].Applied[uri]
	return fp, ok
}

// anywhere reports whether any device still holds the URI.
func (o observation) anywhere(uri string) bool {
	for _, s := range o {
		if _, ok := s.Applied[uri]; ok {
			return true
		}
	}
	return false
}

// failedOn reports whether a dispatch to one of the devices failed in the
// round.
func (o observation) failedOn(devices []string) bool {
	for _, dev := range devices {
		if s, ok := o[dev]; ok && s.Attempted && s.Err != nil {
			return true
		}
	}
	return false
}

// Observe runs the transitions that follow from the applied state of the
// devices: activating deltas converge or fail, deactivating deltas are
// cleared.
func (m *Machine) Observe(ctx context.Context, statuses []render.Status) error {
	ds, err := m.deltas.List(ctx, delta.ListFilter{
		States: []delta.State{delta.Activating, delta.Deactivating},
	})
	if err != nil {
		return err
	}
	sortDeltas(ds)
	obs := make(observation, len(statuses))
	for _, s := range statuses {
		obs[s.Device] = s
	}
	var errs serrors.List
	for _, d := range ds {
		var err error
		switch d.State {
		case delta.Activating:
			err = m.observeActivating(ctx, d, obs)
		case delta.Deactivating:
			err = m.observeDeactivating(ctx, d, obs)
		}
		if err != nil {
			errs = append(errs, serrors.Wrap("observing delta", err, "delta", d.ID))
		}
	}
	return errs.ToError()
}

func (m *Machine) observeActivating(ctx context.Context, d *delta.Delta, obs observation) error {
	uris := contentURIs(d)
	if d.Kind == delta.Reduction {
		for _, uri := range uris {
			if obs.anywhere(uri) {
				return nil
			}
		}
		return m.transition(ctx, d, EventConverged, "")
	}

	set := m.active.Snapshot()
	converged := true
	var devices []string
	for _, uri := range uris {
		r, err := set.Get(uri)
		if err != nil {
			// Handled by the schedule of the next round.
			return nil
		}
		devices = append(devices, r.Devices()...)
		if !convergedOn(r, obs) {
			converged = false
		}
	}
	if converged {
		return m.transition(ctx, d, EventConverged, "")
	}
	if !obs.failedOn(devices) {
		return nil
	}
	attempts, err := m.deltas.AddRenderFailure(ctx, d.ID, d.State)
	if err != nil {
		return err
	}
	d.RenderFailures = attempts
	if attempts < m.cfg.MaxRenderAttempts {
		return nil
	}
	return m.transition(ctx, d, EventRenderFailed,
		serrors.New("render failed", "attempts", attempts).Error())
}

// convergedOn reports whether every device of the reservation applied its
// current content.
func convergedOn(r *reservation.Reservation, obs observation) bool {
	want := r.Fingerprint()
	for _, dev := range r.Devices() {
		if fp, ok := obs.applied(dev, r.URI); !ok || fp != want {
			return false
		}
	}
	return true
}

func (m *Machine) observeDeactivating(ctx context.Context, d *delta.Delta, obs observation) error {
	if d.Kind != delta.Addition {
		return m.transition(ctx, d, EventCleared, "")
	}
	holding := map[string]struct{}{}
	for _, uri := range contentURIs(d) {
		for dev, s := range obs {
			if _, ok := s.Applied[uri]; ok {
				holding[dev] = struct{}{}
			}
		}
	}
	if len(holding) == 0 {
		return m.transition(ctx, d, EventCleared, "")
	}
	devices := sortedKeys(holding)
	if !obs.failedOn(devices) {
		return nil
	}
	stuck, err := m.deltas.AddRenderFailure(ctx, d.ID, d.State)
	if err != nil {
		return err
	}
	d.RenderFailures = stuck
	if stuck == m.cfg.StuckThreshold {
		metrics.CounterInc(m.metrics.Stuck)
		log.FromCtx(ctx).Error("StuckReservation", "delta", d.ID,
			"connection", d.ConnectionID, "devices", devices, "failures", stuck)
	}
	return nil
}
