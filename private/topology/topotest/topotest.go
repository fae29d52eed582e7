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

// Package topotest provides a small test fabric.
package topotest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/private/topology"
)

// Site is a site file with two switches and a host.
//
// sw0 "Ethernet 1/3" allows VLANs 3610-3611 and 3650 and has 4 Gbit/s
// reservable capacity. sw0 "Ethernet 1/1" allows 3600-3619 with 80 Gbit/s
// reservable. host0 "mlx5p1" has the pools 10.1.0.0/24 and fd00:1::/64.
const Site = `general:
  sites: [T2_TEST]
T2_TEST:
  switch: [sw0, sw1]
  hosts: [host0]
sw0:
  vendor: dellos9
  private_asn: 65000
  vrf: lhcone
  vlan_range: ["3600-3619"]
  qos_policy:
    traffic_classes:
      default: 1
      bestEffort: 2
      softCapped: 4
      guaranteedCapped: 7
    max_policy_rate: 20000
    burst_size: 50
  ports:
    "Ethernet 1/1":
      capacity: 100G
      reservable_capacity: 80%
    "Ethernet 1/3":
      vlan_range: ["3610-3611", 3650]
      capacity: 10G
      reservable_capacity: 4G
sw1:
  vendor: aristaeos
  vlan_range: ["3600-3699"]
  ports:
    "Ethernet 1/2":
      capacity: 100G
host0:
  nics:
    mlx5p1:
      ipv4_pool: ["10.1.0.0/24"]
      ipv6_pool: ["fd00:1::/64"]
      max_bandwidth: 25G
      switch: sw0
      switch_port: "Ethernet 1/3"
`

// WriteSite writes Site into dir and returns its path.
func WriteSite(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte(Site), 0o644))
	return path
}

// NewModel returns a topology model of Site.
func NewModel(t testing.TB) *topology.Model {
	t.Helper()
	static, err := topology.LoadSiteConfig(WriteSite(t, t.TempDir()))
	require.NoError(t, err)
	m, err := topology.NewModel(static, topology.ModelCfg{})
	require.NoError(t, err)
	return m
}
