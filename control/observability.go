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

package control

import (
	"io"
	"net/http"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/siterm/rcp/control/assembler"
	"github.com/siterm/rcp/control/ingest"
	"github.com/siterm/rcp/control/loop"
	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/control/statemachine"
	"github.com/siterm/rcp/pkg/metrics"
	metricsv2 "github.com/siterm/rcp/pkg/metrics/v2"
	"github.com/siterm/rcp/pkg/private/prom"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/config"
	"github.com/siterm/rcp/private/env"
	"github.com/siterm/rcp/private/periodic"
	"github.com/siterm/rcp/private/service"
	"github.com/siterm/rcp/private/storage"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/storage/cleaner"
	"github.com/siterm/rcp/private/topology"
)

// InitTracer initializes the global tracer.
func InitTracer(tracing env.Tracing, id string) (io.Closer, error) {
	tracer, trCloser, err := tracing.NewTracer(id)
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	return trCloser, nil
}

// RegisterHTTPEndpoints registers the status pages on the default mux, next
// to the prometheus endpoint.
func RegisterHTTPEndpoints(elemID string, cfg config.Config) error {
	statusPages := service.StatusPages{
		"info":      service.NewInfoStatusPage(),
		"config":    service.NewConfigStatusPage(cfg),
		"log/level": service.NewLogLevelStatusPage(),
	}
	if err := statusPages.Register(http.DefaultServeMux, elemID); err != nil {
		return serrors.Wrap("registering status pages", err)
	}
	return nil
}

// Metrics defines the metrics exposed by the controller.
type Metrics struct {
	ActiveSetWritesTotal       *prometheus.CounterVec
	ActiveSetReservations      *prometheus.GaugeVec
	AssemblerBuildsTotal       *prometheus.CounterVec
	CleanerDeletedTotal        *prometheus.CounterVec
	CleanerErrorsTotal         *prometheus.CounterVec
	CleanerRunsTotal           *prometheus.CounterVec
	DeltaDBQueriesTotal        *prometheus.CounterVec
	DeltaRejectionsTotal       *prometheus.CounterVec
	DeltaStuckTotal            *prometheus.CounterVec
	DeltaTransitionsTotal      *prometheus.CounterVec
	IngestReportsTotal         *prometheus.CounterVec
	LoopTickDuration           *prometheus.HistogramVec
	LoopTicksTotal             *prometheus.CounterVec
	PeriodicEventsTotal        *prometheus.CounterVec
	PeriodicPeriod             *prometheus.GaugeVec
	PeriodicRuntime            *prometheus.GaugeVec
	PeriodicStartTime          *prometheus.GaugeVec
	RenderApplyDuration        *prometheus.HistogramVec
	RenderDispatchesTotal      *prometheus.CounterVec
	TopologyLastUpdate         *prometheus.GaugeVec
	TopologyMismatches         *prometheus.GaugeVec
	TopologyModelUpdatesTotal  *prometheus.CounterVec
	TopologyLoaderUpdatesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the controller metrics. Without options
// the default prometheus registry is used.
func NewMetrics(opts ...metricsv2.Option) *Metrics {
	f := metricsv2.ApplyOptions(opts...).Auto()
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: prom.Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prom.Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64,
		labels ...string) *prometheus.HistogramVec {

		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prom.Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}, labels)
	}
	return &Metrics{
		ActiveSetWritesTotal: counter("activeset", "writes_total",
			"Total number of committed active set transactions."),
		ActiveSetReservations: gauge("activeset", "reservations",
			"Number of reservations in the active set."),
		AssemblerBuildsTotal: counter("model", "builds_total",
			"Total number of model snapshot builds.", prom.LabelResult),
		CleanerDeletedTotal: counter("storage", "cleaner_deleted_total",
			"Total number of entries removed by the cleaner.", "subsystem"),
		CleanerErrorsTotal: counter("storage", "cleaner_errors_total",
			"Total number of failed cleaner runs.", "subsystem"),
		CleanerRunsTotal: counter("storage", "cleaner_runs_total",
			"Total number of successful cleaner runs.", "subsystem"),
		DeltaDBQueriesTotal: counter("deltadb", "queries_total",
			"Total queries to the database.", "driver", "operation", prom.LabelResult),
		DeltaRejectionsTotal: counter("delta", "rejections_total",
			"Total number of deltas refused by the checks.", "tag"),
		DeltaStuckTotal: counter("delta", "stuck_total",
			"Total number of deltas that failed to clear their devices."),
		DeltaTransitionsTotal: counter("delta", "transitions_total",
			"Total number of delta state transitions.", "from", "to"),
		IngestReportsTotal: counter("ingest", "reports_total",
			"Total number of applied topology and fact reports.", "source", prom.LabelResult),
		LoopTickDuration: histogram("loop", "tick_duration_seconds",
			"Duration of a controller tick.", prom.DefaultLatencyBuckets),
		LoopTicksTotal: counter("loop", "ticks_total",
			"Total number of controller ticks.", prom.LabelResult),
		PeriodicEventsTotal: counter("periodic", "events_total",
			"Total number of periodic task events.", "task", "event_type"),
		PeriodicPeriod: gauge("periodic", "period_duration_seconds",
			"The period of the task.", "task"),
		PeriodicRuntime: gauge("periodic", "runtime_duration_seconds",
			"The runtime of the last execution.", "task"),
		PeriodicStartTime: gauge("periodic", "runtime_timestamp_seconds",
			"The start time of the last execution.", "task"),
		RenderApplyDuration: histogram("render", "apply_duration_seconds",
			"Duration of a device apply.", prom.DefaultApplyBuckets),
		RenderDispatchesTotal: counter("render", "dispatches_total",
			"Total number of device applies.", prom.LabelResult),
		TopologyLastUpdate: gauge("topology", "last_update_time",
			"Timestamp of the last successful site file load."),
		TopologyMismatches: gauge("topology", "mismatched_ports",
			"Number of ports whose facts disagree with the site file."),
		TopologyModelUpdatesTotal: counter("topology", "model_updates_total",
			"Total number of published topology snapshots.", "source"),
		TopologyLoaderUpdatesTotal: counter("topology", "loader_updates_total",
			"Total number of site file loads.", prom.LabelResult),
	}
}

// Periodic returns the metrics for the periodic task with the given name.
func (m *Metrics) Periodic(name string) *periodic.Metrics {
	return &periodic.Metrics{
		Events: func(e string) metrics.Counter {
			return metrics.NewPromCounter(m.PeriodicEventsTotal).With(
				"task", name, "event_type", e)
		},
		Period:    metrics.NewPromGauge(m.PeriodicPeriod).With("task", name),
		Runtime:   metrics.NewPromGauge(m.PeriodicRuntime).With("task", name),
		StartTime: metrics.NewPromGauge(m.PeriodicStartTime).With("task", name),
	}
}

// Storage returns the storage options reporting into these metrics.
func (m *Metrics) Storage() storage.Options {
	return storage.Options{
		QueriesTotal: metrics.NewPromCounter(m.DeltaDBQueriesTotal),
		Cleaner: func(subsystem string) cleaner.Metrics {
			return cleaner.Metrics{
				DeletedTotal: metrics.NewPromCounter(m.CleanerDeletedTotal).With(
					"subsystem", subsystem),
				ErrorsTotal: metrics.NewPromCounter(m.CleanerErrorsTotal).With(
					"subsystem", subsystem),
				RunsTotal: metrics.NewPromCounter(m.CleanerRunsTotal).With(
					"subsystem", subsystem),
			}
		},
	}
}

func (m *Metrics) ActiveSet() activeset.Metrics {
	return activeset.Metrics{
		Writes:       metrics.NewPromCounter(m.ActiveSetWritesTotal),
		Reservations: metrics.NewPromGauge(m.ActiveSetReservations),
	}
}

func (m *Metrics) TopologyModel() topology.ModelMetrics {
	return topology.ModelMetrics{
		Updates:    metrics.NewPromCounter(m.TopologyModelUpdatesTotal),
		Mismatches: metrics.NewPromGauge(m.TopologyMismatches),
	}
}

func (m *Metrics) TopologyLoader() topology.LoaderMetrics {
	updates := metrics.NewPromCounter(m.TopologyLoaderUpdatesTotal)
	return topology.LoaderMetrics{
		ReadErrors: updates.With(prom.LabelResult, "err_read"),
		Updates:    updates.With(prom.LabelResult, prom.Success),
		LastUpdate: metrics.NewPromGauge(m.TopologyLastUpdate),
	}
}

func (m *Metrics) Ingest() ingest.Metrics {
	return ingest.Metrics{Reports: metrics.NewPromCounter(m.IngestReportsTotal)}
}

func (m *Metrics) Machine() statemachine.Metrics {
	return statemachine.Metrics{
		Transitions: metrics.NewPromCounter(m.DeltaTransitionsTotal),
		Rejections:  metrics.NewPromCounter(m.DeltaRejectionsTotal),
		Stuck:       metrics.NewPromCounter(m.DeltaStuckTotal),
	}
}

func (m *Metrics) Render() render.Metrics {
	return render.Metrics{
		Dispatches: metrics.NewPromCounter(m.RenderDispatchesTotal),
		Duration:   metrics.NewPromHistogram(m.RenderApplyDuration),
	}
}

func (m *Metrics) Assembler() assembler.Metrics {
	return assembler.Metrics{Builds: metrics.NewPromCounter(m.AssemblerBuildsTotal)}
}

func (m *Metrics) Loop() loop.Metrics {
	return loop.Metrics{
		Ticks:    metrics.NewPromCounter(m.LoopTicksTotal),
		Duration: metrics.NewPromHistogram(m.LoopTickDuration),
	}
}
