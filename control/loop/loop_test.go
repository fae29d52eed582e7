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

package loop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/siterm/rcp/control/loop"
	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/log/testlog"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/private/xtest"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/periodic"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/storage/activeset/settest"
	"github.com/siterm/rcp/private/storage/model"
	"github.com/siterm/rcp/private/topology"
	"github.com/siterm/rcp/private/topology/topotest"
)

const now = 1_700_000_000

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder records the stages of the loop in call order.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	drainErr error
	built    chan struct{}
}

func (r *recorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.calls
	r.calls = nil
	return calls
}

func (r *recorder) Drain(context.Context) error {
	r.record("drain")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drainErr
}

func (r *recorder) Advance(context.Context) error {
	r.record("advance")
	return nil
}

func (r *recorder) Observe(context.Context, []render.Status) error {
	r.record("observe")
	return nil
}

func (r *recorder) Render(context.Context, *topology.Topology,
	activeset.ReadTx) ([]render.Status, error) {

	r.record("render")
	return nil, nil
}

func (r *recorder) Build(context.Context, *topology.Topology,
	activeset.ReadTx) (*model.Snapshot, bool, error) {

	r.record("build")
	if r.built != nil {
		select {
		case r.built <- struct{}{}:
		default:
		}
	}
	return &model.Snapshot{}, true, nil
}

func newLoop(t *testing.T) (*loop.Loop, *recorder, *activeset.Store, *topology.Model,
	*metrics.TestCounter) {

	rec := &recorder{}
	set := settest.NewStore(t, clock.NewFake(now))
	topo := topotest.NewModel(t)
	ticks := metrics.NewTestCounter()
	return &loop.Loop{
		Machine:   rec,
		Renderer:  rec,
		Assembler: rec,
		Topology:  topo,
		ActiveSet: set,
		Metrics:   loop.Metrics{Ticks: ticks},
	}, rec, set, topo, ticks
}

func TestTickBuildsOnChange(t *testing.T) {
	ctx := log.CtxWith(context.Background(), testlog.NewLogger(t))
	l, rec, set, topo, ticks := newLoop(t)

	require.NoError(t, l.Tick(ctx))
	assert.Equal(t, []string{"drain", "advance", "render", "observe", "build"}, rec.take())

	require.NoError(t, l.Tick(ctx))
	assert.Equal(t, []string{"drain", "advance", "render", "observe"}, rec.take())

	require.NoError(t, set.Insert(ctx, &reservation.Reservation{
		URI:          "vsw:c1",
		ConnectionID: "c1",
		Kind:         reservation.VSwitchKind,
		Window:       clock.Window{Start: now, End: now + 60},
		State:        delta.Committed,
		VSwitch: &reservation.VSwitch{Endpoints: []reservation.VSwitchEndpoint{
			{Device: "sw0", Port: "Ethernet_1-1", VLAN: 3610},
		}},
	}))
	require.NoError(t, l.Tick(ctx))
	assert.Contains(t, rec.take(), "build")

	require.NoError(t, topo.UpsertDevice("sw1", topology.Switch, topology.Facts{
		Ports: map[string]topology.PortFacts{"Ethernet 1/2": {Speed: 100e9}},
	}))
	require.NoError(t, l.Tick(ctx))
	assert.Contains(t, rec.take(), "build")

	require.NoError(t, l.Tick(ctx))
	assert.NotContains(t, rec.take(), "build")
	assert.Equal(t, 5.0, metrics.CounterValue(ticks.With("result", loop.ResultOk)))
}

func TestTickFatalHalts(t *testing.T) {
	ctx := log.CtxWith(context.Background(), testlog.NewLogger(t))
	l, rec, _, _, ticks := newLoop(t)

	rec.drainErr = errkind.New(errkind.Fatal, "alias loop")
	err := l.Tick(ctx)
	assert.Equal(t, errkind.Fatal, errkind.Of(err))
	assert.Equal(t, []string{"drain"}, rec.take())
	assert.Error(t, l.Halted())

	rec.drainErr = nil
	err = l.Tick(ctx)
	assert.ErrorIs(t, err, loop.ErrHalted)
	assert.Empty(t, rec.take())
	assert.Equal(t, 1.0, metrics.CounterValue(ticks.With("result", loop.ResultHalted)))

	l.Resume()
	assert.NoError(t, l.Halted())
	require.NoError(t, l.Tick(ctx))
	assert.Equal(t, []string{"drain", "advance", "render", "observe", "build"}, rec.take())
}

func TestTickConfigMismatchHalts(t *testing.T) {
	ctx := log.CtxWith(context.Background(), testlog.NewLogger(t))
	l, rec, _, topo, _ := newLoop(t)

	require.NoError(t, l.Tick(ctx))
	rec.take()

	// sw1 stops reporting its configured port.
	var err error
	for i := 0; i <= topology.DefaultFactTolerance; i++ {
		err = topo.UpsertDevice("sw1", topology.Switch, topology.Facts{})
	}
	require.ErrorIs(t, err, topology.ErrConfigMismatch)

	err = l.Tick(ctx)
	assert.ErrorIs(t, err, topology.ErrConfigMismatch)
	assert.Equal(t, errkind.Fatal, errkind.Of(err))
	assert.ErrorIs(t, l.Halted(), topology.ErrConfigMismatch)
	assert.Empty(t, rec.take())

	// The port reappears, the operator resumes the loop.
	require.NoError(t, topo.UpsertDevice("sw1", topology.Switch, topology.Facts{
		Ports: map[string]topology.PortFacts{"Ethernet 1/2": {Speed: 100e9}},
	}))
	assert.ErrorIs(t, l.Tick(ctx), loop.ErrHalted)
	l.Resume()
	require.NoError(t, l.Tick(ctx))
	assert.Equal(t, []string{"drain", "advance", "render", "observe", "build"}, rec.take())
}

func TestTickFatalFromList(t *testing.T) {
	ctx := log.CtxWith(context.Background(), testlog.NewLogger(t))
	l, rec, _, _, _ := newLoop(t)

	rec.drainErr = serrors.List{
		serrors.New("database locked"),
		serrors.Wrap("checking delta", topology.ErrAliasLoop),
	}.ToError()
	err := l.Tick(ctx)
	assert.ErrorIs(t, err, topology.ErrAliasLoop)
	assert.ErrorIs(t, l.Halted(), topology.ErrAliasLoop)
}

func TestTickTransient(t *testing.T) {
	ctx := log.CtxWith(context.Background(), testlog.NewLogger(t))
	l, rec, _, _, ticks := newLoop(t)

	rec.drainErr = serrors.New("database locked")
	assert.Error(t, l.Tick(ctx))
	assert.NoError(t, l.Halted())
	rec.take()

	rec.drainErr = nil
	require.NoError(t, l.Tick(ctx))
	assert.Equal(t, []string{"drain", "advance", "render", "observe", "build"}, rec.take())
	assert.Equal(t, 1.0, metrics.CounterValue(ticks.With("result", loop.ResultErr)))
}

func TestPeriodic(t *testing.T) {
	l, rec, _, _, _ := newLoop(t)
	rec.built = make(chan struct{}, 1)
	assert.Equal(t, "control_loop", l.Name())

	r := periodic.Start(l, 10*time.Millisecond, time.Second)
	xtest.AssertReadReturnsBefore(t, rec.built, time.Second)
	r.Stop()
}
