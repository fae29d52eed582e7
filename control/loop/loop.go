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

// Package loop contains the controller loop. Every tick drains submitted
// deltas, advances time based transitions, renders changed devices,
// observes the render results and builds a model snapshot if the active set
// or the topology changed.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/periodic"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/storage/model"
	"github.com/siterm/rcp/private/topology"
	"github.com/siterm/rcp/private/tracing"
)

// DefaultTick is the default period of the loop.
const DefaultTick = 15 * time.Second

// Tick results.
const (
	ResultOk     = "ok"
	ResultErr    = "error"
	ResultHalted = "halted"
)

// ErrHalted is returned by Tick after a fatal error until Resume is
// called.
var ErrHalted = errkind.Sentinel(errkind.Fatal, "control loop halted")

// Machine is the delta state machine.
type Machine interface {
	Drain(ctx context.Context) error
	Advance(ctx context.Context) error
	Observe(ctx context.Context, statuses []render.Status) error
}

// Renderer dispatches intended state to devices.
type Renderer interface {
	Render(ctx context.Context, topo *topology.Topology,
		set activeset.ReadTx) ([]render.Status, error)
}

// Assembler builds model snapshots.
type Assembler interface {
	Build(ctx context.Context, topo *topology.Topology,
		set activeset.ReadTx) (*model.Snapshot, bool, error)
}

// Topology provides topology snapshots.
type Topology interface {
	Snapshot() *topology.Topology
}

// ActiveSet provides versioned snapshots of the active set.
type ActiveSet interface {
	Version() int64
	Snapshot() activeset.ReadTx
}

// Metrics are the metrics of the loop.
type Metrics struct {
	// Ticks counts ticks labeled by "result".
	Ticks metrics.Counter
	// Duration observes the tick duration in seconds.
	Duration metrics.Histogram
}

var _ periodic.Task = (*Loop)(nil)

// Loop is the controller loop. It is run periodically as a task and can be
// ticked externally. Ticks never run concurrently.
type Loop struct {
	Machine   Machine
	Renderer  Renderer
	Assembler Assembler
	Topology  Topology
	ActiveSet ActiveSet
	Metrics   Metrics

	mu     sync.Mutex
	halted error
	built  bool
	// version and generation of the last snapshot build.
	version    int64
	generation uint64
}

// Name returns the task name.
func (l *Loop) Name() string {
	return "control_loop"
}

// Run runs a single tick. Errors are logged.
func (l *Loop) Run(ctx context.Context) {
	if err := l.Tick(ctx); err != nil && !errors.Is(err, ErrHalted) {
		log.FromCtx(ctx).Info("Control loop tick failed", "err", err)
	}
}

// Tick runs one round of the loop. A fatal error halts the loop; further
// ticks return ErrHalted until Resume is called.
func (l *Loop) Tick(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "control.loop.tick")
	defer span.Finish()
	tracing.Component(span, l.Name())

	if l.halted != nil {
		tracing.ResultLabel(span, ResultHalted)
		metrics.CounterInc(metrics.CounterWith(l.Metrics.Ticks, "result", ResultHalted))
		return serrors.JoinNoStack(ErrHalted, l.halted)
	}
	start := time.Now()
	err := l.tick(ctx)
	metrics.HistogramObserve(l.Metrics.Duration, time.Since(start).Seconds())
	tracing.Error(span, err)
	result := ResultOk
	if err != nil {
		result = ResultErr
		if errkind.Of(err) == errkind.Fatal {
			l.halted = err
			log.FromCtx(ctx).Error("Control loop halted, operator intervention required",
				"err", err)
		}
	}
	tracing.ResultLabel(span, result)
	metrics.CounterInc(metrics.CounterWith(l.Metrics.Ticks, "result", result))
	return err
}

func (l *Loop) tick(ctx context.Context) error {
	// No delta is admitted or rendered against a contradicting topology.
	if err := l.Topology.Snapshot().Validate(); err != nil {
		return serrors.Wrap("validating topology", err)
	}
	if err := l.Machine.Drain(ctx); err != nil {
		return serrors.Wrap("draining deltas", err)
	}
	if err := l.Machine.Advance(ctx); err != nil {
		return serrors.Wrap("advancing deltas", err)
	}
	statuses, err := l.Renderer.Render(ctx, l.Topology.Snapshot(), l.ActiveSet.Snapshot())
	if err != nil {
		return serrors.Wrap("rendering", err)
	}
	if err := l.Machine.Observe(ctx, statuses); err != nil {
		return serrors.Wrap("observing render results", err)
	}
	// The version is read before the snapshot. A concurrent change makes
	// the next tick build again.
	version := l.ActiveSet.Version()
	topo := l.Topology.Snapshot()
	if l.built && version == l.version && topo.Generation == l.generation {
		return nil
	}
	if _, _, err := l.Assembler.Build(ctx, topo, l.ActiveSet.Snapshot()); err != nil {
		return serrors.Wrap("building model snapshot", err)
	}
	l.built, l.version, l.generation = true, version, topo.Generation
	return nil
}

// Halted returns the error that halted the loop, or nil.
func (l *Loop) Halted() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// Resume clears a halt.
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted != nil {
		log.Info("Control loop resumed", "cause", l.halted)
	}
	l.halted = nil
}
