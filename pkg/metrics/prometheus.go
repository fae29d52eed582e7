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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NewPromGauge wraps a prometheus gauge vector. It returns nil for a nil
// vector, which the helpers of this package treat as a no-op.
func NewPromGauge(gv *prometheus.GaugeVec) Gauge {
	if gv == nil {
		return nil
	}
	return gauge{vec: vec[prometheus.Gauge]{with: gv.With}}
}

// NewPromCounter wraps a prometheus counter vector. It returns nil for a
// nil vector.
func NewPromCounter(cv *prometheus.CounterVec) Counter {
	if cv == nil {
		return nil
	}
	return counter{vec: vec[prometheus.Counter]{with: cv.With}}
}

// NewPromHistogram wraps a prometheus histogram vector. It returns nil for
// a nil vector.
func NewPromHistogram(hv *prometheus.HistogramVec) Histogram {
	if hv == nil {
		return nil
	}
	return histogram{vec: vec[prometheus.Observer]{with: hv.With}}
}

// vec is a prometheus vector with label pairs bound so far. The label
// handling follows the prometheus package of go-kit/kit (MIT License,
// Copyright (c) 2015 Peter Bourgon).
type vec[M any] struct {
	with   func(prometheus.Labels) M
	labels []string
}

// bind returns a copy with more label pairs. A dangling label name gets
// the value "unknown".
func (v vec[M]) bind(pairs []string) vec[M] {
	if len(pairs)%2 != 0 {
		pairs = append(pairs, "unknown")
	}
	labels := make([]string, 0, len(v.labels)+len(pairs))
	labels = append(append(labels, v.labels...), pairs...)
	return vec[M]{with: v.with, labels: labels}
}

// metric resolves the bound labels to the metric of the vector.
func (v vec[M]) metric() M {
	l := make(prometheus.Labels, len(v.labels)/2)
	for i := 0; i < len(v.labels); i += 2 {
		l[v.labels[i]] = v.labels[i+1]
	}
	return v.with(l)
}

type gauge struct{ vec vec[prometheus.Gauge] }

func (g gauge) With(labelValues ...string) Gauge { return gauge{vec: g.vec.bind(labelValues)} }
func (g gauge) Set(value float64)                { g.vec.metric().Set(value) }
func (g gauge) Add(delta float64)                { g.vec.metric().Add(delta) }

type counter struct{ vec vec[prometheus.Counter] }

func (c counter) With(labelValues ...string) Counter { return counter{vec: c.vec.bind(labelValues)} }
func (c counter) Add(delta float64)                  { c.vec.metric().Add(delta) }

type histogram struct{ vec vec[prometheus.Observer] }

func (h histogram) With(labelValues ...string) Histogram {
	return histogram{vec: h.vec.bind(labelValues)}
}
func (h histogram) Observe(value float64) { h.vec.metric().Observe(value) }
