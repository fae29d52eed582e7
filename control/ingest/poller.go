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

package ingest

import (
	"context"

	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/private/periodic"
	"github.com/siterm/rcp/private/topology"
)

// FactSource reports the observed facts of a device.
type FactSource interface {
	ReportFacts(ctx context.Context, device string) (topology.Facts, error)
}

var _ periodic.Task = (*Poller)(nil)

// Poller periodically fetches the facts of all switches from a source and
// reports them to the ingest worker.
type Poller struct {
	Ingest *Ingest
	Source FactSource
}

// Name returns the task name.
func (p *Poller) Name() string {
	return "control_fact_poller"
}

// Run polls all switches once.
func (p *Poller) Run(ctx context.Context) {
	logger := log.FromCtx(ctx)
	topo := p.Ingest.model.Snapshot()
	for _, name := range topo.DeviceNames() {
		if topo.Devices[name].Kind != topology.Switch {
			continue
		}
		facts, err := p.Source.ReportFacts(ctx, name)
		switch {
		case errkind.Of(err) == errkind.NotFound:
			logger.Debug("No facts reported", "device", name)
			continue
		case err != nil:
			logger.Info("Failed to fetch device facts", "device", name, "err", err)
			continue
		}
		// Failures are logged and counted by the worker.
		if err := p.Ingest.ReportDeviceFacts(ctx, name, facts); err != nil &&
			ctx.Err() != nil {
			return
		}
	}
}
