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

// Package metrics wraps a delta database with prometheus metrics and
// tracing spans.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/prom"
	dblib "github.com/siterm/rcp/private/storage/db"
	"github.com/siterm/rcp/private/tracing"
)

type promOp string

const (
	promOpInsert         promOp = "insert"
	promOpGet            promOp = "get"
	promOpList           promOp = "list"
	promOpHistory        promOp = "history"
	promOpUpdateState    promOp = "update_state"
	promOpLinkReduction  promOp = "link_reduction"
	promOpRenderFailure  promOp = "render_failure"
	promOpDeleteTerminal promOp = "delete_terminal"
)

// Config configures the metrics for the wrapped delta database.
type Config struct {
	Driver       string
	QueriesTotal metrics.Counter
}

// WrapDB wraps the given delta database into one that also exports metrics.
func WrapDB(db delta.DB, cfg Config) delta.DB {
	return &metricsDB{
		db:       db,
		observer: observer{cfg: cfg},
	}
}

type observer struct {
	cfg Config
}

func (o observer) observe(ctx context.Context, op promOp,
	action func(ctx context.Context) error) {

	span, ctx := opentracing.StartSpanFromContext(ctx, fmt.Sprintf("deltadb.%s", string(op)))
	defer span.Finish()
	err := action(ctx)

	label := dblib.ErrToMetricLabel(err)
	tracing.Error(span, err)
	tracing.ResultLabel(span, label)

	metrics.CounterInc(metrics.CounterWith(o.cfg.QueriesTotal,
		"driver", o.cfg.Driver,
		"operation", string(op),
		prom.LabelResult, label,
	))
}

var _ delta.DB = (*metricsDB)(nil)

type metricsDB struct {
	db       delta.DB
	observer observer
}

func (d *metricsDB) Close() error {
	return d.db.Close()
}

func (d *metricsDB) Insert(ctx context.Context, dl *delta.Delta) error {
	var err error
	d.observer.observe(ctx, promOpInsert, func(ctx context.Context) error {
		err = d.db.Insert(ctx, dl)
		return err
	})
	return err
}

func (d *metricsDB) Get(ctx context.Context, id string) (*delta.Delta, error) {
	var res *delta.Delta
	var err error
	d.observer.observe(ctx, promOpGet, func(ctx context.Context) error {
		res, err = d.db.Get(ctx, id)
		return err
	})
	return res, err
}

func (d *metricsDB) List(ctx context.Context, filter delta.ListFilter) ([]*delta.Delta, error) {
	var res []*delta.Delta
	var err error
	d.observer.observe(ctx, promOpList, func(ctx context.Context) error {
		res, err = d.db.List(ctx, filter)
		return err
	})
	return res, err
}

func (d *metricsDB) History(ctx context.Context, id string) ([]delta.Transition, error) {
	var res []delta.Transition
	var err error
	d.observer.observe(ctx, promOpHistory, func(ctx context.Context) error {
		res, err = d.db.History(ctx, id)
		return err
	})
	return res, err
}

func (d *metricsDB) UpdateState(ctx context.Context, id string, from, to delta.State,
	at time.Time, reason string) error {

	var err error
	d.observer.observe(ctx, promOpUpdateState, func(ctx context.Context) error {
		err = d.db.UpdateState(ctx, id, from, to, at, reason)
		return err
	})
	return err
}

func (d *metricsDB) SetLinkedReduction(ctx context.Context, id, reductionID string) error {
	var err error
	d.observer.observe(ctx, promOpLinkReduction, func(ctx context.Context) error {
		err = d.db.SetLinkedReduction(ctx, id, reductionID)
		return err
	})
	return err
}

func (d *metricsDB) AddRenderFailure(ctx context.Context, id string,
	state delta.State) (int, error) {

	var n int
	var err error
	d.observer.observe(ctx, promOpRenderFailure, func(ctx context.Context) error {
		n, err = d.db.AddRenderFailure(ctx, id, state)
		return err
	})
	return n, err
}

func (d *metricsDB) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	var err error
	d.observer.observe(ctx, promOpDeleteTerminal, func(ctx context.Context) error {
		n, err = d.db.DeleteTerminalBefore(ctx, cutoff)
		return err
	})
	return n, err
}
