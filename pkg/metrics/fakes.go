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

package metrics

import (
	"sort"
	"strings"
	"sync"
)

// store keeps one node per distinct label set. All metrics derived from
// the same test metric via With share a store.
type store struct {
	mtx   sync.Mutex
	nodes map[string]*node
}

func newStore() *store {
	return &store{nodes: make(map[string]*node)}
}

func (s *store) node(labels []string) *node {
	key := labelKey(labels)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n, ok := s.nodes[key]
	if !ok {
		n = &node{}
		s.nodes[key] = n
	}
	return n
}

func labelKey(labels []string) string {
	pairs := make([]string, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		pairs = append(pairs, labels[i]+"="+labels[i+1])
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

type node struct {
	mtx sync.Mutex
	v   float64
}

func (n *node) add(delta float64, canBeNegative bool) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if !canBeNegative && delta < 0 {
		panic("counter increment value is < 0")
	}
	n.v += delta
}

func (n *node) set(v float64) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.v = v
}

func (n *node) value() float64 {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.v
}

// TestCounter implements a counter for use in tests. Counters derived with
// With that carry the same label set share their value.
type TestCounter struct {
	store  *store
	labels []string
	*node
}

// NewTestCounter creates a new counter for use in tests.
func NewTestCounter() *TestCounter {
	s := newStore()
	return &TestCounter{store: s, node: s.node(nil)}
}

// With returns the counter for the extended label set.
func (c *TestCounter) With(labelValues ...string) Counter {
	labels := append(append([]string(nil), c.labels...), labelValues...)
	return &TestCounter{store: c.store, labels: labels, node: c.store.node(labels)}
}

// Add increases the internal value of the counter by the specified delta.
func (c *TestCounter) Add(delta float64) {
	c.add(delta, false)
}

// CounterValue extracts the value out of a TestCounter. If the argument is
// not a *TestCounter, CounterValue will panic.
func CounterValue(c Counter) float64 {
	return c.(*TestCounter).value()
}

// TestGauge implements a gauge for use in tests.
type TestGauge struct {
	store  *store
	labels []string
	*node
}

// NewTestGauge creates a new gauge for use in tests.
func NewTestGauge() *TestGauge {
	s := newStore()
	return &TestGauge{store: s, node: s.node(nil)}
}

// With returns the gauge for the extended label set.
func (g *TestGauge) With(labelValues ...string) Gauge {
	labels := append(append([]string(nil), g.labels...), labelValues...)
	return &TestGauge{store: g.store, labels: labels, node: g.store.node(labels)}
}

// Set sets the internal value of the gauge to the specified value.
func (g *TestGauge) Set(v float64) {
	g.set(v)
}

// Add increases the internal value of the gauge by the specified delta.
func (g *TestGauge) Add(delta float64) {
	g.add(delta, true)
}

// GaugeValue extracts the value out of a TestGauge. If the argument is not a
// *TestGauge, GaugeValue will panic.
func GaugeValue(g Gauge) float64 {
	return g.(*TestGauge).value()
}
