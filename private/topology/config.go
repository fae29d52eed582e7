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
	"fmt"
	"net/netip"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v2"

	"github.com/siterm/rcp/pkg/private/serrors"
)

const (
	// DefaultMaxPolicyRate is the QoS max policy rate in mbit.
	DefaultMaxPolicyRate = 10000
	// DefaultBurstSize is the QoS burst size.
	DefaultBurstSize = 100
)

// SiteConfig is the static fabric configuration.
type SiteConfig struct {
	Sites []string
	// Switches maps site names to the switches of the site.
	Switches map[string][]string
	// RoutingMaps maps site names to their l3_routing_map.
	RoutingMaps map[string]map[string]any
	Devices     map[string]*DeviceConfig
}

// DeviceConfig is the static configuration of a switch or host.
type DeviceConfig struct {
	Name       string
	Site       string
	Kind       DeviceKind
	Vendor     string
	VLANs      VLANRanges
	RateLimit  *bool
	PrivateASN uint32
	VRF        string
	QoS        QoSPolicy
	Ports      map[string]*PortConfig
	NICs       map[string]*NICConfig
}

// PortConfig is the static configuration of a port. Name is the original,
// unnormalized port name.
type PortConfig struct {
	Name       string
	Kind       PortKind
	VLANs      VLANRanges
	Capacity   int64
	Reservable Reservable
	IsAlias    string
	WANLink    bool
	Shared     bool
	RateLimit  *bool
}

// NICConfig is the static configuration of a host NIC.
type NICConfig struct {
	Name         string
	IPv4Pool     []netip.Prefix
	IPv6Pool     []netip.Prefix
	MinBandwidth int64
	MaxBandwidth int64
	Switch       string
	SwitchPort   string
	VLANs        VLANRanges
}

// QoSPolicy is the QoS configuration of a device.
type QoSPolicy struct {
	TrafficClasses map[string]int `json:"trafficClasses,omitempty"`
	// MaxPolicyRate in mbit.
	MaxPolicyRate int64 `json:"maxPolicyRate"`
	BurstSize     int64 `json:"burstSize"`
}

// Reservable is the reservable share of a port, either an absolute value
// in bits per second or a percentage of the capacity.
type Reservable struct {
	Absolute int64   `json:"absolute,omitempty"`
	Percent  float64 `json:"percent,omitempty"`
	Set      bool    `json:"set,omitempty"`
}

// Of evaluates the reservable capacity for the given total.
func (r Reservable) Of(total int64) int64 {
	switch {
	case !r.Set:
		return total
	case r.Percent > 0 || r.Absolute == 0:
		return int64(float64(total) * r.Percent / 100)
	default:
		return r.Absolute
	}
}

// ParseReservable parses "80%" or an absolute capacity like "8G".
func ParseReservable(s string) (Reservable, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Reservable{}, nil
	}
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || v < 0 || v > 100 {
			return Reservable{}, serrors.New("invalid reservable percentage", "value", s)
		}
		return Reservable{Percent: v, Set: true}, nil
	}
	v, err := ParseCapacity(s)
	if err != nil {
		return Reservable{}, err
	}
	return Reservable{Absolute: v, Set: true}, nil
}

// ParseCapacity parses a capacity in bits per second. Plain numbers are bits
// per second, human readable values use decimal multipliers ("10G",
// "400M", "100Gbps").
func ParseCapacity(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	trimmed := strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(s), "ps"), "b")
	v, err := units.FromHumanSize(trimmed)
	if err != nil {
		return 0, serrors.Wrap("parsing capacity", err, "value", s)
	}
	return v, nil
}

type rawQoS struct {
	TrafficClasses map[string]int `yaml:"traffic_classes"`
	MaxPolicyRate  string         `yaml:"max_policy_rate"`
	BurstSize      string         `yaml:"burst_size"`
}

type rawPort struct {
	Kind               string   `yaml:"kind"`
	VLANRange          []string `yaml:"vlan_range"`
	Capacity           string   `yaml:"capacity"`
	ReservableCapacity string   `yaml:"reservable_capacity"`
	IsAlias            string   `yaml:"isAlias"`
	WANLink            bool     `yaml:"wanlink"`
	Shared             bool     `yaml:"shared"`
	RateLimit          *bool    `yaml:"rate_limit"`
}

type rawNIC struct {
	IPv4Pool     []string `yaml:"ipv4_pool"`
	IPv6Pool     []string `yaml:"ipv6_pool"`
	MinBandwidth string   `yaml:"min_bandwidth"`
	MaxBandwidth string   `yaml:"max_bandwidth"`
	Switch       string   `yaml:"switch"`
	SwitchPort   string   `yaml:"switch_port"`
	VLANRange    []string `yaml:"vlan_range"`
}

// rawEntry is any top level entry of the site file: the general section, a
// site or a device.
type rawEntry struct {
	Sites        []string               `yaml:"sites"`
	Switch       []string               `yaml:"switch"`
	Hosts        []string               `yaml:"hosts"`
	L3RoutingMap map[string]interface{} `yaml:"l3_routing_map"`
	Vendor       string                 `yaml:"vendor"`
	VLANRange    []string               `yaml:"vlan_range"`
	RateLimit    *bool                  `yaml:"rate_limit"`
	PrivateASN   uint32                 `yaml:"private_asn"`
	VRF          string                 `yaml:"vrf"`
	QoSPolicy    *rawQoS                `yaml:"qos_policy"`
	Ports        map[string]rawPort     `yaml:"ports"`
	NICs         map[string]rawNIC      `yaml:"nics"`
}

// LoadSiteConfig reads the site file at path.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading site file", err, "path", path)
	}
	cfg, err := ParseSiteConfig(raw)
	if err != nil {
		return nil, serrors.Wrap("parsing site file", err, "path", path)
	}
	return cfg, nil
}

// ParseSiteConfig parses a YAML site file.
func ParseSiteConfig(raw []byte) (*SiteConfig, error) {
	var entries map[string]rawEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	general, ok := entries["general"]
	if !ok || len(general.Sites) == 0 {
		return nil, serrors.New("general.sites is empty")
	}
	cfg := &SiteConfig{
		Sites:       general.Sites,
		Switches:    map[string][]string{},
		RoutingMaps: map[string]map[string]any{},
		Devices:     map[string]*DeviceConfig{},
	}
	siteOf := map[string]string{}
	kindOf := map[string]DeviceKind{}
	for _, site := range cfg.Sites {
		e, ok := entries[site]
		if !ok {
			return nil, serrors.New("site section missing", "site", site)
		}
		cfg.Switches[site] = e.Switch
		if e.L3RoutingMap != nil {
			cfg.RoutingMaps[site] = stringKeys(e.L3RoutingMap).(map[string]any)
		}
		for _, sw := range e.Switch {
			if prev, ok := siteOf[sw]; ok {
				return nil, serrors.New("switch listed in two sites", "switch", sw,
					"sites", []string{prev, site})
			}
			siteOf[sw], kindOf[sw] = site, Switch
		}
		for _, h := range e.Hosts {
			siteOf[h], kindOf[h] = site, Host
		}
	}
	for name, e := range entries {
		if name == "general" || slices.Contains(cfg.Sites, name) {
			continue
		}
		kind, listed := kindOf[name]
		if !listed {
			if len(e.NICs) == 0 {
				continue
			}
			kind = Host
		}
		dev, err := parseDevice(name, kind, e)
		if err != nil {
			return nil, serrors.Wrap("parsing device", err, "device", name)
		}
		dev.Site = siteOf[name]
		cfg.Devices[name] = dev
	}
	for name, kind := range kindOf {
		if _, ok := cfg.Devices[name]; !ok {
			cfg.Devices[name] = &DeviceConfig{
				Name:  name,
				Site:  siteOf[name],
				Kind:  kind,
				QoS:   QoSPolicy{MaxPolicyRate: DefaultMaxPolicyRate, BurstSize: DefaultBurstSize},
				Ports: map[string]*PortConfig{},
				NICs:  map[string]*NICConfig{},
			}
		}
	}
	return cfg, nil
}

func parseDevice(name string, kind DeviceKind, e rawEntry) (*DeviceConfig, error) {
	dev := &DeviceConfig{
		Name:       name,
		Kind:       kind,
		Vendor:     e.Vendor,
		RateLimit:  e.RateLimit,
		PrivateASN: e.PrivateASN,
		VRF:        e.VRF,
		QoS:        QoSPolicy{MaxPolicyRate: DefaultMaxPolicyRate, BurstSize: DefaultBurstSize},
		Ports:      map[string]*PortConfig{},
		NICs:       map[string]*NICConfig{},
	}
	var err error
	if dev.VLANs, err = ParseVLANRanges(e.VLANRange...); err != nil {
		return nil, err
	}
	if e.QoSPolicy != nil {
		dev.QoS.TrafficClasses = e.QoSPolicy.TrafficClasses
		if e.QoSPolicy.MaxPolicyRate != "" {
			if dev.QoS.MaxPolicyRate, err = strconv.ParseInt(e.QoSPolicy.MaxPolicyRate, 10, 64); err != nil {
				return nil, serrors.Wrap("parsing max_policy_rate", err)
			}
		}
		if e.QoSPolicy.BurstSize != "" {
			if dev.QoS.BurstSize, err = strconv.ParseInt(e.QoSPolicy.BurstSize, 10, 64); err != nil {
				return nil, serrors.Wrap("parsing burst_size", err)
			}
		}
	}
	for pname, p := range e.Ports {
		pc, err := parsePort(pname, p)
		if err != nil {
			return nil, serrors.Wrap("parsing port", err, "port", pname)
		}
		dev.Ports[pname] = pc
	}
	for nname, n := range e.NICs {
		nc, err := parseNIC(nname, n)
		if err != nil {
			return nil, serrors.Wrap("parsing nic", err, "nic", nname)
		}
		dev.NICs[nname] = nc
	}
	return dev, nil
}

func parsePort(name string, p rawPort) (*PortConfig, error) {
	pc := &PortConfig{
		Name:      name,
		Kind:      Physical,
		IsAlias:   p.IsAlias,
		WANLink:   p.WANLink,
		Shared:    p.Shared,
		RateLimit: p.RateLimit,
	}
	if p.Kind != "" {
		k, err := ParsePortKind(p.Kind)
		if err != nil {
			return nil, err
		}
		pc.Kind = k
	}
	var err error
	if pc.VLANs, err = ParseVLANRanges(p.VLANRange...); err != nil {
		return nil, err
	}
	if pc.Capacity, err = ParseCapacity(p.Capacity); err != nil {
		return nil, err
	}
	if pc.Reservable, err = ParseReservable(p.ReservableCapacity); err != nil {
		return nil, err
	}
	return pc, nil
}

func parseNIC(name string, n rawNIC) (*NICConfig, error) {
	nc := &NICConfig{Name: name, Switch: n.Switch, SwitchPort: n.SwitchPort}
	var err error
	if nc.IPv4Pool, err = parsePool(n.IPv4Pool, true); err != nil {
		return nil, err
	}
	if nc.IPv6Pool, err = parsePool(n.IPv6Pool, false); err != nil {
		return nil, err
	}
	if nc.MinBandwidth, err = ParseCapacity(n.MinBandwidth); err != nil {
		return nil, err
	}
	if nc.MaxBandwidth, err = ParseCapacity(n.MaxBandwidth); err != nil {
		return nil, err
	}
	if nc.VLANs, err = ParseVLANRanges(n.VLANRange...); err != nil {
		return nil, err
	}
	return nc, nil
}

func parsePool(entries []string, v4 bool) ([]netip.Prefix, error) {
	pool := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		p, err := netip.ParsePrefix(strings.TrimSpace(e))
		if err != nil {
			return nil, serrors.Wrap("parsing address pool", err, "prefix", e)
		}
		if p.Addr().Is4() != v4 {
			return nil, serrors.New("address pool of wrong family", "prefix", e)
		}
		pool = append(pool, p.Masked())
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].String() < pool[j].String() })
	return pool, nil
}

// stringKeys converts the nested maps produced by the YAML decoder into
// maps keyed by strings.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = stringKeys(val)
		}
		return m
	case []interface{}:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stringKeys(val)
		}
		return out
	default:
		return v
	}
}
