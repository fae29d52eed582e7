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

package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/siterm/rcp/pkg/metrics"
)

func TestTestCounter(t *testing.T) {
	c := metrics.NewTestCounter()
	c.With("event", "stop", "task", "loop").Add(2)
	metrics.CounterInc(c.With("task", "loop", "event", "stop"))
	metrics.CounterInc(c.With("event", "kill"))

	assert.Equal(t, float64(3), metrics.CounterValue(c.With("event", "stop", "task", "loop")))
	assert.Equal(t, float64(1), metrics.CounterValue(c.With("event", "kill")))
	assert.Equal(t, float64(0), metrics.CounterValue(c))
	assert.Panics(t, func() { c.Add(-1) })
}

func TestNilMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.CounterInc(nil)
		metrics.GaugeSet(nil, 1)
		metrics.HistogramObserve(nil, 1)
		assert.Nil(t, metrics.CounterWith(nil, "a", "b"))
	})
}

func TestTestGauge(t *testing.T) {
	g := metrics.NewTestGauge()
	metrics.GaugeSet(g.With("device", "sw0"), 5)
	metrics.GaugeAdd(g.With("device", "sw0"), -2)
	assert.Equal(t, float64(3), metrics.GaugeValue(g.With("device", "sw0")))
}

func TestPromWrappers(t *testing.T) {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dispatches_total"},
		[]string{"device", "result"})
	c := metrics.NewPromCounter(cv).With("device", "sw0")
	metrics.CounterInc(c.With("result", "applied"))
	metrics.CounterAdd(c.With("result", "applied"), 2)
	metrics.CounterInc(c.With("result"))
	assert.Equal(t, float64(3), testutil.ToFloat64(cv.WithLabelValues("sw0", "applied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(cv.WithLabelValues("sw0", "unknown")))

	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "reservations"}, []string{"site"})
	g := metrics.NewPromGauge(gv).With("site", "T2_TEST")
	metrics.GaugeSet(g, 4)
	metrics.GaugeAdd(g, -1)
	assert.Equal(t, float64(3), testutil.ToFloat64(gv.WithLabelValues("T2_TEST")))

	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "apply_seconds"}, nil)
	metrics.HistogramObserve(metrics.NewPromHistogram(hv), 0.5)
	assert.Equal(t, 1, testutil.CollectAndCount(hv))

	assert.Nil(t, metrics.NewPromCounter(nil))
	assert.Nil(t, metrics.NewPromGauge(nil))
	assert.Nil(t, metrics.NewPromHistogram(nil))
}
