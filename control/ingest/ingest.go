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

// Package ingest feeds observed state into the topology model.
//
// All writes to the model go through the worker started with Run, so that
// the model has a single writer. Device facts and agent reports are queued
// and applied in arrival order; callers wait for the result.
package ingest

import (
	"context"
	"errors"

	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/topology"
)

// Report sources.
const (
	SourceDevice = "device"
	SourceAgent  = "agent"
)

// Report results.
const (
	ResultOk       = "ok"
	ResultMismatch = "mismatch"
	ResultErr      = "error"
)

// ErrStopped is returned for reports submitted after the worker stopped.
var ErrStopped = errkind.Sentinel(errkind.Transient, "ingest stopped")

// Model is the writable topology.
type Model interface {
	Snapshot() *topology.Topology
	UpsertDevice(name string, kind topology.DeviceKind, facts topology.Facts) error
	ReportAgentInfo(host string, report topology.AgentReport) error
}

// Metrics are the metrics of the ingest worker.
type Metrics struct {
	// Reports counts applied reports labeled by "source" and "result".
	Reports metrics.Counter
}

type request struct {
	source string
	name   string
	apply  func() error
	result chan error
}

// Ingest serializes observed-state reports into the model.
type Ingest struct {
	model   Model
	metrics Metrics
	queue   chan request
	done    chan struct{}
}

// New creates an ingest worker for the model. The worker must be started
// with Run.
func New(model Model, m Metrics) *Ingest {
	return &Ingest{
		model:   model,
		metrics: m,
		queue:   make(chan request),
		done:    make(chan struct{}),
	}
}

// Run applies reports until the context is done.
func (i *Ingest) Run(ctx context.Context) error {
	defer log.HandlePanic()
	defer close(i.done)
	logger := log.FromCtx(ctx)
	logger.Debug("Observed-state ingest started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Observed-state ingest stopped")
			return nil
		case req := <-i.queue:
			req.result <- i.apply(ctx, req)
		}
	}
}

// ReportDeviceFacts merges the observed facts of a switch into the model.
// A configuration mismatch is returned after the facts were applied.
func (i *Ingest) ReportDeviceFacts(ctx context.Context, device string,
	facts topology.Facts) error {

	return i.submit(ctx, request{
		source: SourceDevice,
		name:   device,
		apply: func() error {
			return i.model.UpsertDevice(device, topology.Switch, facts)
		},
	})
}

// ReportAgentInfo records the NIC addressing and switch attachment of a
// host.
func (i *Ingest) ReportAgentInfo(ctx context.Context, host string,
	report topology.AgentReport) error {

	return i.submit(ctx, request{
		source: SourceAgent,
		name:   host,
		apply: func() error {
			return i.model.ReportAgentInfo(host, report)
		},
	})
}

func (i *Ingest) submit(ctx context.Context, req request) error {
	req.result = make(chan error, 1)
	select {
	case i.queue <- req:
	case <-i.done:
		return serrors.JoinNoStack(ErrStopped, nil, "source", req.source, "name", req.name)
	case <-ctx.Done():
		return errkind.Wrap(errkind.Transient, ctx.Err(), "source", req.source,
			"name", req.name)
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return errkind.Wrap(errkind.Transient, ctx.Err(), "source", req.source,
			"name", req.name)
	}
}

func (i *Ingest) apply(ctx context.Context, req request) error {
	err := req.apply()
	result := ResultOk
	switch {
	case errors.Is(err, topology.ErrConfigMismatch):
		result = ResultMismatch
		log.FromCtx(ctx).Error("Observed state contradicts the site configuration",
			"source", req.source, "name", req.name, "err", err)
	case err != nil:
		result = ResultErr
		log.FromCtx(ctx).Info("Failed to apply observed state", "source", req.source,
			"name", req.name, "err", err)
	}
	metrics.CounterInc(metrics.CounterWith(i.metrics.Reports,
		"source", req.source, "result", result))
	return err
}
