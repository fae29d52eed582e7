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

package topology_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/private/topology"
)

func TestNormalize(t *testing.T) {
	testCases := map[string]struct {
		Input    string
		Expected string
	}{
		"plain":      {Input: "eth0", Expected: "eth0"},
		"space":      {Input: "Port-channel 101", Expected: "Port-channel_101"},
		"slash":      {Input: "Ethernet 1/1", Expected: "Ethernet_1-1"},
		"quotes":     {Input: `"Eth'1"`, Expected: "Eth1"},
		"colon":      {Input: "hundredGigE:1", Expected: "hundredGigE__1"},
		"idempotent": {Input: "Ethernet_1-1", Expected: "Ethernet_1-1"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.Expected, topology.Normalize(tc.Input))
		})
	}
}

func TestVLANRanges(t *testing.T) {
	t.Run("parse and merge", func(t *testing.T) {
		rs, err := topology.ParseVLANRanges("3610-3620", "3600-3609,3700", "3621")
		require.NoError(t, err)
		assert.Equal(t, "3600-3621,3700", rs.String())
		assert.Equal(t, 23, rs.Len())
		assert.True(t, rs.Contains(3600))
		assert.True(t, rs.Contains(3700))
		assert.False(t, rs.Contains(3622))
		assert.False(t, rs.Contains(1))
	})
	t.Run("invalid", func(t *testing.T) {
		for _, in := range []string{"0-10", "4000-4095", "20-10", "abc", "1-x"} {
			_, err := topology.ParseVLANRanges(in)
			assert.Error(t, err, in)
		}
	})
	t.Run("intersect", func(t *testing.T) {
		a, err := topology.ParseVLANRanges("100-200,300-400")
		require.NoError(t, err)
		b, err := topology.ParseVLANRanges("150-350,399-500")
		require.NoError(t, err)
		assert.Equal(t, "150-200,300-350,399-400", a.Intersect(b).String())
		assert.Empty(t, a.Intersect(nil))
		assert.Equal(t, a, a.Intersect(topology.AllVLANs()))
	})
}

func TestParseCapacity(t *testing.T) {
	testCases := map[string]struct {
		Input    string
		Expected int64
		Err      bool
	}{
		"empty":   {Input: "", Expected: 0},
		"plain":   {Input: "1000", Expected: 1000},
		"giga":    {Input: "10G", Expected: 10_000_000_000},
		"mega":    {Input: "400M", Expected: 400_000_000},
		"gbps":    {Input: "100Gbps", Expected: 100_000_000_000},
		"invalid": {Input: "fast", Err: true},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			v, err := topology.ParseCapacity(tc.Input)
			if tc.Err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.Expected, v)
		})
	}
}

func TestReservable(t *testing.T) {
	pct, err := topology.ParseReservable("80%")
	require.NoError(t, err)
	assert.Equal(t, int64(80), pct.Of(100))
	abs, err := topology.ParseReservable("4G")
	require.NoError(t, err)
	assert.Equal(t, int64(4_000_000_000), abs.Of(10_000_000_000))
	unset, err := topology.ParseReservable("")
	require.NoError(t, err)
	assert.Equal(t, int64(42), unset.Of(42))
	_, err = topology.ParseReservable("120%")
	assert.Error(t, err)
}

func TestParseSiteConfig(t *testing.T) {
	cfg, err := topology.LoadSiteConfig("testdata/site.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"T2_TEST"}, cfg.Sites)
	assert.Equal(t, []string{"sw0", "sw1"}, cfg.Switches["T2_TEST"])
	require.Contains(t, cfg.RoutingMaps, "T2_TEST")
	assert.Equal(t, map[string]any{"ipv6": map[string]any{"vrf": "lhcone"}},
		cfg.RoutingMaps["T2_TEST"]["sw0"])

	sw0 := cfg.Devices["sw0"]
	require.NotNil(t, sw0)
	assert.Equal(t, topology.Switch, sw0.Kind)
	assert.Equal(t, "T2_TEST", sw0.Site)
	assert.Equal(t, uint32(65000), sw0.PrivateASN)
	assert.Equal(t, int64(20000), sw0.QoS.MaxPolicyRate)
	assert.Equal(t, int64(50), sw0.QoS.BurstSize)
	assert.Equal(t, 7, sw0.QoS.TrafficClasses["guaranteedCapped"])
	require.Contains(t, sw0.Ports, "Ethernet 1/3")
	assert.Equal(t, "3610-3611,3650", sw0.Ports["Ethernet 1/3"].VLANs.String())
	assert.Equal(t, topology.AggregateMember, sw0.Ports["Port-channel 101"].Kind)
	assert.Equal(t, int64(40_000_000_000), sw0.Ports["Port-channel 101"].Capacity)

	sw1 := cfg.Devices["sw1"]
	require.NotNil(t, sw1.RateLimit)
	assert.False(t, *sw1.RateLimit)
	assert.Equal(t, int64(topology.DefaultMaxPolicyRate), sw1.QoS.MaxPolicyRate)

	host := cfg.Devices["host0"]
	require.NotNil(t, host)
	assert.Equal(t, topology.Host, host.Kind)
	require.Contains(t, host.NICs, "mlx5p1")
	assert.Equal(t, int64(25_000_000_000), host.NICs["mlx5p1"].MaxBandwidth)
	assert.Len(t, host.NICs["mlx5p1"].IPv6Pool, 1)
}

func TestParseSiteConfigErrors(t *testing.T) {
	testCases := map[string]string{
		"no general":       "T2: {switch: [sw0]}\n",
		"missing site":     "general: {sites: [T2]}\n",
		"bad vlan range":   "general: {sites: [T2]}\nT2: {switch: [sw0]}\nsw0: {vlan_range: ['5000']}\n",
		"bad pool":         "general: {sites: [T2]}\nT2: {hosts: [h]}\nh: {nics: {e: {ipv4_pool: ['fd00::/64']}}}\n",
		"duplicate switch": "general: {sites: [A, B]}\nA: {switch: [sw0]}\nB: {switch: [sw0]}\n",
	}
	for name, raw := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := topology.ParseSiteConfig([]byte(raw))
			assert.Error(t, err)
		})
	}
}
