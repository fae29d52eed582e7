// Copyright 2020 Anapaya Systems
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

package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	rcp "github.com/siterm/rcp/control"
	"github.com/siterm/rcp/control/api"
	"github.com/siterm/rcp/control/assembler"
	"github.com/siterm/rcp/control/config"
	"github.com/siterm/rcp/control/ingest"
	"github.com/siterm/rcp/control/loop"
	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/control/statemachine"
	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/identity"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/app/launcher"
	"github.com/siterm/rcp/private/env"
	"github.com/siterm/rcp/private/events"
	"github.com/siterm/rcp/private/mgmtapi"
	"github.com/siterm/rcp/private/periodic"
	"github.com/siterm/rcp/private/service"
	"github.com/siterm/rcp/private/storage"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/topology"
)

var globalCfg config.Config

func main() {
	application := launcher.Application{
		TOMLConfig: &globalCfg,
		ShortName:  "Reservation Control Plane",
		Main:       realMain,
	}
	application.Run()
}

func realMain(ctx context.Context) error {
	metrics := rcp.NewMetrics()
	ctrl := &globalCfg.Controller
	features := globalCfg.Features.Default()
	c := clock.New()

	closer, err := rcp.InitTracer(globalCfg.Tracing, globalCfg.General.ID)
	if err != nil {
		return serrors.Wrap("initializing tracer", err)
	}
	defer closer.Close()

	storageOpts := metrics.Storage()
	storageOpts.Clock = c
	deltaDB, err := storage.NewDeltaStorage(globalCfg.DeltaDB,
		globalCfg.Retention.DeltasMaxAge.Duration, storageOpts)
	if err != nil {
		return serrors.Wrap("initializing delta storage", err)
	}
	defer deltaDB.Close()
	reservationDB, err := storage.NewActiveSetStorage(globalCfg.ReservationDB,
		globalCfg.Retention.ReservationVersions, storageOpts)
	if err != nil {
		return serrors.Wrap("initializing reservation storage", err)
	}
	defer reservationDB.Close()
	modelDB, err := storage.NewModelStorage(globalCfg.ModelDB,
		globalCfg.Retention.ModelsMaxAge.Duration, globalCfg.Retention.ModelsMaxCount,
		storageOpts)
	if err != nil {
		return serrors.Wrap("initializing model storage", err)
	}
	defer modelDB.Close()

	activeSet, err := activeset.New(reservationDB, c, metrics.ActiveSet())
	if err != nil {
		return serrors.Wrap("creating active set", err)
	}
	if err := activeSet.Load(ctx); err != nil {
		return serrors.Wrap("loading active set", err)
	}
	log.Info("Loaded active set", "version", activeSet.Version(),
		"reservations", len(activeSet.List()))

	g, errCtx := errgroup.WithContext(ctx)

	topo, err := topology.NewLoader(topology.LoaderCfg{
		File:   globalCfg.General.Sites(),
		Reload: env.ReloadSignal(errCtx),
		Model: topology.ModelCfg{
			FactTolerance: ctrl.FactTolerance,
			Metrics:       metrics.TopologyModel(),
		},
		Metrics: metrics.TopologyLoader(),
	})
	if err != nil {
		return serrors.Wrap("creating topology loader", err)
	}
	g.Go(func() error {
		defer log.HandlePanic()
		return topo.Run(errCtx)
	})
	model := topo.Model()

	ingester := ingest.New(model, metrics.Ingest())
	g.Go(func() error {
		defer log.HandlePanic()
		return ingester.Run(errCtx)
	})

	adapter, err := newDeviceAdapter(globalCfg.Adapter, features)
	if err != nil {
		return serrors.Wrap("creating device adapter", err)
	}

	bus := events.NewBus()
	defer bus.Close()
	machine := statemachine.New(deltaDB, activeSet, model, bus, c, ctrl.Machine(),
		metrics.Machine())
	asm := assembler.New(modelDB, c, identity.Random{}, metrics.Assembler())
	controlLoop := &loop.Loop{
		Machine:   machine,
		Renderer:  render.New(adapter, c, ctrl.Renderer(), metrics.Render()),
		Assembler: asm,
		Topology:  model,
		ActiveSet: activeSet,
		Metrics:   metrics.Loop(),
	}
	// A tick renders every device at most once, bounded by the render
	// timeout.
	loopRunner := periodic.StartWithMetrics(controlLoop, metrics.Periodic(controlLoop.Name()),
		ctrl.Tick.Duration, ctrl.RenderTimeout.Duration+ctrl.Tick.Duration)
	defer loopRunner.Shutdown(ctrl.ShutdownGrace.Duration)
	log.Info("Started control loop", "tick", ctrl.Tick.Duration)

	if features.FactPolling {
		poller := &ingest.Poller{Ingest: ingester, Source: adapter}
		pollRunner := periodic.StartWithMetrics(poller, metrics.Periodic(poller.Name()),
			ctrl.FactPollInterval.Duration, ctrl.RenderTimeout.Duration)
		defer pollRunner.Kill()
		log.Info("Polling device facts", "interval", ctrl.FactPollInterval.Duration)
	}

	server := &api.Server{
		Service: &api.Service{
			Deltas:     deltaDB,
			Committer:  machine,
			Models:     asm,
			ActiveSet:  activeSet,
			Bus:        bus,
			Clock:      c,
			IDs:        identity.Random{},
			HrefPrefix: mgmtapi.BaseURL + "/deltas/",
		},
		Reporter: ingester,
		Config:   service.NewConfigStatusPage(&globalCfg).Handler,
		Info:     service.NewInfoStatusPage().Handler,
		LogLevel: service.NewLogLevelStatusPage().Handler,
		Halted:   controlLoop.Halted,
		Resume: func() {
			controlLoop.Resume()
			go loopRunner.TriggerRun()
		},
	}
	g.Go(func() error {
		defer log.HandlePanic()
		handler := api.Handler(server, mgmtapi.NewRouter(), mgmtapi.BaseURL)
		return globalCfg.API.Serve(errCtx, handler, ctrl.ShutdownGrace.Duration)
	})

	if err := rcp.RegisterHTTPEndpoints(globalCfg.General.ID, &globalCfg); err != nil {
		return err
	}
	g.Go(func() error {
		defer log.HandlePanic()
		return globalCfg.Metrics.ServePrometheus(errCtx)
	})

	return g.Wait()
}
