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

package topology

import (
	"context"
	"sync"
	"time"

	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
)

// LoaderMetrics are the metrics of the site file loader.
type LoaderMetrics struct {
	// ReadErrors counts reloads that failed to read or parse the file.
	ReadErrors metrics.Counter
	// Updates counts successful reloads.
	Updates metrics.Counter
	// LastUpdate is the unix time of the last successful reload.
	LastUpdate metrics.Gauge
}

// LoaderCfg configures a Loader.
type LoaderCfg struct {
	// File is the path of the YAML site file.
	File string
	// Reload triggers re-reading the file, e.g. on SIGHUP.
	Reload <-chan struct{}
	// Model configures the created topology model.
	Model   ModelCfg
	Metrics LoaderMetrics
}

// Loader owns the topology model and keeps its static part in sync with
// the site file.
type Loader struct {
	cfg   LoaderCfg
	model *Model

	mtx  sync.Mutex
	file string
}

// NewLoader reads the site file and creates the topology model from it. A
// site file whose aliases form a loop is refused.
func NewLoader(cfg LoaderCfg) (*Loader, error) {
	static, err := LoadSiteConfig(cfg.File)
	if err != nil {
		return nil, err
	}
	model, err := NewModel(static, cfg.Model)
	if err != nil {
		return nil, err
	}
	if err := model.Snapshot().Validate(); err != nil {
		return nil, serrors.Wrap("validating site file", err, "file", cfg.File)
	}
	return &Loader{cfg: cfg, model: model, file: cfg.File}, nil
}

// Model returns the topology model.
func (l *Loader) Model() *Model {
	return l.model
}

// Run reloads the site file whenever the reload channel fires. It returns
// when ctx is done.
func (l *Loader) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.cfg.Reload:
			l.reload(ctx)
		}
	}
}

func (l *Loader) reload(ctx context.Context) {
	logger := log.FromCtx(ctx)
	l.mtx.Lock()
	file := l.file
	l.mtx.Unlock()

	static, err := LoadSiteConfig(file)
	if err != nil {
		logger.Error("Failed to reload site file", "err", err)
		metrics.CounterInc(l.cfg.Metrics.ReadErrors)
		return
	}
	if err := l.model.SetStatic(static); err != nil {
		logger.Error("Failed to apply site file", "err", serrors.Wrap("set static", err))
		metrics.CounterInc(l.cfg.Metrics.ReadErrors)
		return
	}
	metrics.CounterInc(l.cfg.Metrics.Updates)
	metrics.GaugeSet(l.cfg.Metrics.LastUpdate, float64(time.Now().Unix()))
	logger.Info("Reloaded site file", "file", file)
}
