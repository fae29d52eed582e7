// Copyright 2026 Anapaya Systems
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

// Package metrics creates prometheus collectors and registers them with a
// configurable registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Factory.
type Option func(*Options)

// Options are the settings of a Factory. Build them with ApplyOptions.
type Options struct {
	registry prometheus.Registerer
}

// WithRegistry registers the collectors with registry instead of the
// default prometheus registerer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(o *Options) {
		o.registry = registry
	}
}

// ApplyOptions applies the options in order.
func ApplyOptions(options ...Option) Options {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	return opts
}

// Auto returns a Factory that registers every created collector.
func (o Options) Auto() Factory {
	reg := o.registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return Factory{reg: reg}
}

// Factory creates and registers collectors. Registration panics on
// duplicate names.
type Factory struct {
	reg prometheus.Registerer
}

func (f Factory) NewCounterVec(opts prometheus.CounterOpts,
	labelNames []string) *prometheus.CounterVec {

	c := prometheus.NewCounterVec(opts, labelNames)
	f.reg.MustRegister(c)
	return c
}

func (f Factory) NewGaugeVec(opts prometheus.GaugeOpts,
	labelNames []string) *prometheus.GaugeVec {

	g := prometheus.NewGaugeVec(opts, labelNames)
	f.reg.MustRegister(g)
	return g
}

func (f Factory) NewHistogramVec(opts prometheus.HistogramOpts,
	labelNames []string) *prometheus.HistogramVec {

	h := prometheus.NewHistogramVec(opts, labelNames)
	f.reg.MustRegister(h)
	return h
}
