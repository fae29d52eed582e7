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
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/pkg/private/serrors"
)

// DefaultFactTolerance is the number of consecutive fact refreshes a static
// port may be missing before it is reported as a configuration mismatch.
const DefaultFactTolerance = 3

// Facts are the observed facts a device reports.
type Facts struct {
	Vendor string
	// Ports is keyed by the original port name.
	Ports map[string]PortFacts
}

// PortFacts are the observed facts of a single port.
type PortFacts struct {
	Kind PortKind
	// Speed in bits per second.
	Speed int64
	// VLANs the port is capable of. Nil means unknown.
	VLANs VLANRanges
	// Neighbor is the port URI of the learned neighbor, if any.
	Neighbor string
}

// AgentReport is the information a host agent reports.
type AgentReport struct {
	// NICs is keyed by the NIC name.
	NICs map[string]NICReport
}

// NICReport is the addressing and attachment of a host NIC.
type NICReport struct {
	IPv4Pool   []netip.Prefix
	IPv6Pool   []netip.Prefix
	Switch     string
	SwitchPort string
	Speed      int64
	VLANs      VLANRanges
}

// ModelMetrics are the metrics of the topology model.
type ModelMetrics struct {
	// Updates counts published snapshots, labeled by "source".
	Updates metrics.Counter
	// Mismatches is the number of mismatched ports.
	Mismatches metrics.Gauge
}

// ModelCfg configures a Model.
type ModelCfg struct {
	// FactTolerance defaults to DefaultFactTolerance.
	FactTolerance int
	Metrics       ModelMetrics
}

type observedDevice struct {
	kind   DeviceKind
	facts  Facts
	misses map[string]int
}

// Model is the writable fabric graph. All writes go through a single
// writer (the observed-state ingest); readers obtain immutable snapshots.
type Model struct {
	cfg ModelCfg

	mu       sync.Mutex
	static   *SiteConfig
	observed map[string]*observedDevice
	agents   map[string]AgentReport
	gen      uint64
	subs     map[*Subscription]struct{}

	current atomic.Pointer[Topology]
}

// NewModel creates a model from the static configuration.
func NewModel(static *SiteConfig, cfg ModelCfg) (*Model, error) {
	if static == nil {
		return nil, serrors.New("static configuration must not be nil")
	}
	if cfg.FactTolerance <= 0 {
		cfg.FactTolerance = DefaultFactTolerance
	}
	m := &Model{
		cfg:      cfg,
		static:   static,
		observed: map[string]*observedDevice{},
		agents:   map[string]AgentReport{},
		subs:     map[*Subscription]struct{}{},
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.publishLocked("static"); err != nil {
		return nil, err
	}
	return m, nil
}

// Snapshot returns the current topology. The result must not be modified.
func (m *Model) Snapshot() *Topology {
	return m.current.Load()
}

// SetStatic replaces the static configuration.
func (m *Model) SetStatic(static *SiteConfig) error {
	if static == nil {
		return serrors.New("static configuration must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.static = static
	return m.publishLocked("static")
}

// UpsertDevice merges observed facts of a device into the model. A port of
// the static configuration that is missing from the facts for more than
// the tolerance is marked as absent and reported with ErrConfigMismatch;
// the facts are applied nevertheless.
func (m *Model) UpsertDevice(name string, kind DeviceKind, facts Facts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sc, ok := m.static.Devices[name]; ok && sc.Kind != kind {
		return serrors.JoinNoStack(ErrConfigMismatch, nil, "device", name,
			"configured", sc.Kind, "reported", kind)
	}
	obs, ok := m.observed[name]
	if !ok {
		obs = &observedDevice{misses: map[string]int{}}
		m.observed[name] = obs
	}
	obs.kind, obs.facts = kind, facts

	reported := map[string]bool{}
	for p := range facts.Ports {
		reported[Normalize(p)] = true
	}
	var missing []string
	if sc, ok := m.static.Devices[name]; ok {
		for _, p := range sortedKeys(sc.Ports) {
			norm := Normalize(p)
			if reported[norm] {
				delete(obs.misses, norm)
				continue
			}
			obs.misses[norm]++
			if obs.misses[norm] > m.cfg.FactTolerance {
				missing = append(missing, p)
			}
		}
	}
	if err := m.publishLocked("device"); err != nil {
		return err
	}
	if len(missing) > 0 {
		return serrors.JoinNoStack(ErrConfigMismatch, nil, "device", name, "missing", missing,
			"tolerance", m.cfg.FactTolerance)
	}
	return nil
}

// ReportAgentInfo records the NIC addressing and switch attachment reported
// by a host agent.
func (m *Model) ReportAgentInfo(host string, report AgentReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sc, ok := m.static.Devices[host]; ok && sc.Kind != Host {
		return serrors.JoinNoStack(ErrConfigMismatch, nil, "device", host,
			"configured", sc.Kind, "reported", Host)
	}
	m.agents[host] = report
	return m.publishLocked("agent")
}

// Subscription notifies about published snapshots. Notifications are
// coalesced: a slow reader sees at most one pending notification.
type Subscription struct {
	m  *Model
	ch chan struct{}
}

// Updates returns the notification channel.
func (s *Subscription) Updates() <-chan struct{} {
	return s.ch
}

// Close cancels the subscription.
func (s *Subscription) Close() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.subs, s)
}

// Subscribe registers for snapshot updates.
func (m *Model) Subscribe() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Subscription{m: m, ch: make(chan struct{}, 1)}
	m.subs[s] = struct{}{}
	return s
}

func (m *Model) publishLocked(source string) error {
	topo, err := m.buildLocked()
	if err != nil {
		return err
	}
	m.gen++
	topo.Generation = m.gen
	m.current.Store(topo)
	for s := range m.subs {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
	metrics.CounterInc(metrics.CounterWith(m.cfg.Metrics.Updates, "source", source))
	metrics.GaugeSet(m.cfg.Metrics.Mismatches, float64(len(topo.Mismatches)))
	log.Debug("Topology updated", "generation", topo.Generation, "source", source,
		"devices", len(topo.Devices))
	return nil
}

func (m *Model) buildLocked() (*Topology, error) {
	topo := &Topology{
		Sites:       m.static.Sites,
		Devices:     map[string]*Device{},
		RoutingMaps: m.static.RoutingMaps,
	}
	names := map[string]struct{}{}
	for n := range m.static.Devices {
		names[n] = struct{}{}
	}
	for n := range m.observed {
		names[n] = struct{}{}
	}
	for n := range m.agents {
		names[n] = struct{}{}
	}
	for n := range names {
		d, err := m.buildDevice(n)
		if err != nil {
			return nil, serrors.Wrap("building device", err, "device", n)
		}
		topo.Devices[n] = d
		for _, pn := range d.PortNames() {
			if !d.Ports[pn].Present {
				topo.Mismatches = append(topo.Mismatches, d.Ports[pn].URI())
			}
		}
	}
	sort.Strings(topo.Mismatches)
	return topo, nil
}

func (m *Model) buildDevice(name string) (*Device, error) {
	d := &Device{
		Name:  name,
		Kind:  Host,
		QoS:   QoSPolicy{MaxPolicyRate: DefaultMaxPolicyRate, BurstSize: DefaultBurstSize},
		Ports: map[string]*Port{},
		names: newNames(),
	}
	var defaultVLANs VLANRanges
	sc, hasStatic := m.static.Devices[name]
	if hasStatic {
		d.Kind, d.Site, d.Vendor = sc.Kind, sc.Site, sc.Vendor
		d.PrivateASN, d.VRF, d.RateLimit, d.QoS = sc.PrivateASN, sc.VRF, sc.RateLimit, sc.QoS
		defaultVLANs = sc.VLANs
		for _, pn := range sortedKeys(sc.Ports) {
			pc := sc.Ports[pn]
			norm := d.names.add(pn)
			vlans := pc.VLANs
			if len(vlans) == 0 {
				vlans = defaultVLANs
			}
			d.Ports[norm] = &Port{
				Device:      name,
				Name:        norm,
				Original:    pn,
				Kind:        pc.Kind,
				Capacity:    pc.Capacity,
				Reservable:  pc.Reservable,
				StaticVLANs: vlans,
				IsAlias:     pc.IsAlias,
				WANLink:     pc.WANLink,
				Shared:      pc.Shared,
				RateLimit:   pc.RateLimit,
				Present:     true,
			}
		}
		for _, nn := range sortedKeys(sc.NICs) {
			nc := sc.NICs[nn]
			norm := d.names.add(nn)
			vlans := nc.VLANs
			if len(vlans) == 0 {
				vlans = defaultVLANs
			}
			if len(vlans) == 0 {
				vlans = AllVLANs()
			}
			d.Ports[norm] = &Port{
				Device:      name,
				Name:        norm,
				Original:    nn,
				Kind:        Physical,
				Capacity:    nc.MaxBandwidth,
				StaticVLANs: vlans,
				Present:     true,
				NIC: &NIC{
					IPv4Pool:     nc.IPv4Pool,
					IPv6Pool:     nc.IPv6Pool,
					MinBandwidth: nc.MinBandwidth,
					MaxBandwidth: nc.MaxBandwidth,
					Switch:       nc.Switch,
					SwitchPort:   nc.SwitchPort,
				},
			}
		}
	}
	if obs, ok := m.observed[name]; ok {
		d.Observed = true
		if !hasStatic {
			d.Kind = obs.kind
		}
		if d.Vendor == "" {
			d.Vendor = obs.facts.Vendor
		}
		for _, pn := range sortedKeys(obs.facts.Ports) {
			pf := obs.facts.Ports[pn]
			norm := d.names.add(pn)
			p, ok := d.Ports[norm]
			if !ok {
				kind := pf.Kind
				if kind == "" {
					kind = Physical
				}
				p = &Port{
					Device:      name,
					Name:        norm,
					Original:    pn,
					Kind:        kind,
					StaticVLANs: defaultVLANs,
					Present:     true,
				}
				d.Ports[norm] = p
			}
			p.ObservedVLANs = pf.VLANs
			if p.Capacity == 0 {
				p.Capacity = pf.Speed
			}
			if p.IsAlias == "" {
				p.IsAlias = pf.Neighbor
			}
		}
		for norm, misses := range obs.misses {
			if p, ok := d.Ports[norm]; ok && misses > m.cfg.FactTolerance {
				p.Present = false
			}
		}
	}
	if report, ok := m.agents[name]; ok {
		for _, nn := range sortedKeys(report.NICs) {
			nr := report.NICs[nn]
			norm := d.names.add(nn)
			p, ok := d.Ports[norm]
			if !ok {
				p = &Port{
					Device:      name,
					Name:        norm,
					Original:    nn,
					Kind:        Physical,
					StaticVLANs: AllVLANs(),
					Present:     true,
				}
				d.Ports[norm] = p
			}
			if p.NIC == nil {
				p.NIC = &NIC{}
			}
			if len(p.NIC.IPv4Pool) == 0 {
				p.NIC.IPv4Pool = nr.IPv4Pool
			}
			if len(p.NIC.IPv6Pool) == 0 {
				p.NIC.IPv6Pool = nr.IPv6Pool
			}
			if p.NIC.Switch == "" {
				p.NIC.Switch, p.NIC.SwitchPort = nr.Switch, nr.SwitchPort
			}
			if p.Capacity == 0 {
				p.Capacity = nr.Speed
			}
			if nr.VLANs != nil {
				p.ObservedVLANs = nr.VLANs
			}
		}
	}
	for norm := range d.names.ambiguous {
		delete(d.Ports, norm)
	}
	for _, p := range d.Ports {
		if p.NIC == nil {
			continue
		}
		if err := p.NIC.buildPool(); err != nil {
			return nil, serrors.Wrap("building address pool", err, "port", p.Original)
		}
	}
	return d, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
