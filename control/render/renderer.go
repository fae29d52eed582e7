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

// Package render turns the active reservation set into the intended state
// of each device and dispatches it to a DeviceAdapter.
//
// Dispatch is skipped for devices whose intended state did not change since
// the last successful apply, except once per force-apply interval. Failed
// devices are retried with exponential backoff. Applies to one device are
// serialized; different devices are applied in parallel.
package render

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/topology"
)

// Defaults of Config.
const (
	DefaultTimeout            = 120 * time.Second
	DefaultForceApplyInterval = 24 * time.Hour
	DefaultBackoffInitial     = 5 * time.Second
	DefaultBackoffMax         = 5 * time.Minute
)

// Dispatch results reported through Metrics.Dispatches.
const (
	ResultApplied = "applied"
	ResultForced  = "forced"
	ResultFailed  = "failed"
)

// ApplyResult is the outcome of an apply on a device.
type ApplyResult struct {
	// Changed is set if the device configuration was modified.
	Changed bool
	// Failures lists the items the adapter could not apply. A non-empty
	// list fails the apply.
	Failures []string
}

// DeviceAdapter converges devices to their intended state.
type DeviceAdapter interface {
	// RenderAndApply converges the device to the document. It must be
	// idempotent and return before the context deadline.
	RenderAndApply(ctx context.Context, device string, doc *Document) (ApplyResult, error)
	// ReportFacts returns the observed facts of the device.
	ReportFacts(ctx context.Context, device string) (topology.Facts, error)
}

// Config configures the renderer.
type Config struct {
	// Timeout bounds a single apply.
	Timeout time.Duration
	// ForceApplyInterval is the interval after which an unchanged
	// document is dispatched again.
	ForceApplyInterval time.Duration
	// BackoffInitial and BackoffMax bound the retry delay of failed
	// devices.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// InitDefaults sets unset values to their defaults.
func (c *Config) InitDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ForceApplyInterval == 0 {
		c.ForceApplyInterval = DefaultForceApplyInterval
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = DefaultBackoffMax
	}
}

// Metrics are the metrics of the renderer.
type Metrics struct {
	// Dispatches counts applies labeled by "result".
	Dispatches metrics.Counter
	// Duration observes the apply duration in seconds.
	Duration metrics.Histogram
}

// Status is the render state of a device after a round.
type Status struct {
	Device string
	// Applied maps the URIs present in the last successfully applied
	// document to their fingerprint.
	Applied map[string]uint64
	// Attempted is set if the device was dispatched in this round.
	Attempted bool
	// Err is the failure of the dispatch in this round.
	Err error
	// Failures counts consecutive failed dispatches.
	Failures int
}

// Renderer renders and dispatches intended state.
type Renderer struct {
	adapter DeviceAdapter
	clock   clock.Clock
	cfg     Config
	metrics Metrics
	// fresh holds the devices applied within the force-apply interval.
	fresh *cache.Cache

	mu      sync.Mutex
	devices map[string]*deviceState
}

type deviceState struct {
	// mu serializes applies to the device.
	mu          sync.Mutex
	fingerprint uint64
	last        *Document
	// applied are the reservations present in the last applied document.
	applied  map[string]*reservation.Reservation
	appliedF map[string]uint64
	failures int
	backoff  *backoff.ExponentialBackOff
	next     time.Time
}

// New creates a renderer.
func New(adapter DeviceAdapter, c clock.Clock, cfg Config, m Metrics) *Renderer {
	cfg.InitDefaults()
	return &Renderer{
		adapter: adapter,
		clock:   c,
		cfg:     cfg,
		metrics: m,
		fresh:   cache.New(cfg.ForceApplyInterval, 0),
		devices: map[string]*deviceState{},
	}
}

// Render renders all devices that have or had reservations and dispatches
// the changed ones. It returns the status of every known device, sorted by
// device name. Dispatch failures are reported in the statuses only.
func (r *Renderer) Render(ctx context.Context, topo *topology.Topology,
	set activeset.ReadTx) ([]Status, error) {

	rs := set.List()
	inSet := make(map[string]*reservation.Reservation, len(rs))
	for _, res := range rs {
		inSet[res.URI] = res
		for _, d := range res.Devices() {
			r.state(d)
		}
	}
	now := r.clock.Now()
	var g errgroup.Group
	names := r.deviceNames()
	statuses := make([]Status, len(names))
	empty := make([]bool, len(names))
	for i, name := range names {
		st := r.state(name)
		if _, err := topo.Device(name); err != nil {
			log.FromCtx(ctx).Info("Skipping render of unknown device", "device", name)
			statuses[i] = st.status(name, false, nil)
			continue
		}
		doc, err := Render(Input{
			Device:       name,
			Topology:     topo,
			Reservations: rs,
			Tombstones:   st.tombstones(inSet),
			Now:          now.Unix(),
		})
		if err != nil {
			return nil, serrors.Wrap("rendering", err, "device", name)
		}
		fp, err := doc.Fingerprint()
		if err != nil {
			return nil, err
		}
		if !r.due(name, st, fp, now) {
			statuses[i] = st.status(name, false, nil)
			continue
		}
		g.Go(func() error {
			defer log.HandlePanic()
			err := r.apply(ctx, name, st, doc, fp)
			statuses[i] = st.status(name, true, err)
			empty[i] = err == nil && doc.Empty()
			return nil
		})
	}
	_ = g.Wait()
	// Devices that were cleared completely are no longer tracked.
	for i, name := range names {
		if empty[i] {
			r.Forget(name)
		}
	}
	return statuses, nil
}

// Forget drops the state of a device so that it is dispatched in the next
// round.
func (r *Renderer) Forget(device string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, device)
	r.fresh.Delete(device)
}

func (r *Renderer) state(device string) *deviceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.devices[device]
	if !ok {
		b := &backoff.ExponentialBackOff{
			InitialInterval:     r.cfg.BackoffInitial,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         r.cfg.BackoffMax,
			MaxElapsedTime:      0,
			Stop:                backoff.Stop,
			Clock:               r.clock,
		}
		b.Reset()
		st = &deviceState{backoff: b}
		r.devices[device] = st
	}
	return st
}

func (r *Renderer) deviceNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.devices))
	for n := range r.devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// due decides whether the document is dispatched.
func (r *Renderer) due(device string, st *deviceState, fp uint64, now time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.failures > 0 {
		return !now.Before(st.next)
	}
	if st.last == nil || st.fingerprint != fp {
		return true
	}
	_, fresh := r.fresh.Get(device)
	if !fresh {
		metrics.CounterInc(metrics.CounterWith(r.metrics.Dispatches, "result", ResultForced))
		return true
	}
	return false
}

func (r *Renderer) apply(ctx context.Context, device string, st *deviceState,
	doc *Document, fp uint64) error {

	st.mu.Lock()
	defer st.mu.Unlock()
	ctx, logger := log.WithLabels(ctx, "device", device)
	applyCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := r.adapter.RenderAndApply(applyCtx, device, doc)
	metrics.HistogramObserve(r.metrics.Duration, time.Since(start).Seconds())
	if err == nil && len(res.Failures) > 0 {
		err = serrors.New("apply incomplete", "failures", res.Failures)
	}
	if err != nil {
		st.failures++
		st.next = r.clock.Now().Add(st.backoff.NextBackOff())
		metrics.CounterInc(metrics.CounterWith(r.metrics.Dispatches, "result", ResultFailed))
		logger.Info("Failed to apply intended state",
			"failures", st.failures, "retry_at", st.next, "err", err)
		return errkind.Wrap(errkind.Transient, err, "device", device)
	}
	if logger.Enabled(log.DebugLevel) {
		logger.Debug("Applied intended state", "changed", res.Changed,
			"diff", diff(st.last, doc))
	}
	st.failures = 0
	st.backoff.Reset()
	st.fingerprint = fp
	st.last = doc
	st.applied = doc.rendered
	st.appliedF = doc.Present()
	r.fresh.Set(device, struct{}{}, cache.DefaultExpiration)
	metrics.CounterInc(metrics.CounterWith(r.metrics.Dispatches, "result", ResultApplied))
	return nil
}

// tombstones returns the applied revisions of reservations that left the
// set or were replaced by a revision with different content.
func (st *deviceState) tombstones(
	inSet map[string]*reservation.Reservation) []*reservation.Reservation {

	st.mu.Lock()
	defer st.mu.Unlock()
	var res []*reservation.Reservation
	for uri, r := range st.applied {
		if cur, ok := inSet[uri]; !ok || cur.Fingerprint() != r.Fingerprint() {
			res = append(res, r)
		}
	}
	return res
}

func (st *deviceState) status(device string, attempted bool, err error) Status {
	st.mu.Lock()
	defer st.mu.Unlock()
	applied := make(map[string]uint64, len(st.appliedF))
	for k, v := range st.appliedF {
		applied[k] = v
	}
	return Status{
		Device:    device,
		Applied:   applied,
		Attempted: attempted,
		Err:       err,
		Failures:  st.failures,
	}
}

// diff returns a line diff of the YAML encodings.
func diff(prev, next *Document) string {
	var a, b []byte
	if prev != nil {
		a, _ = prev.YAML()
	}
	b, _ = next.YAML()
	dmp := diffmatchpatch.New()
	ra, rb, lines := dmp.DiffLinesToChars(string(a), string(b))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ra, rb, false), lines)
	return dmp.DiffPrettyText(diffs)
}
