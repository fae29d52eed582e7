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

package adapter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/control/render/adapter"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/private/topology"
)

func TestFileRenderAndApply(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "host_vars")
	a, err := adapter.NewFile(dir)
	require.NoError(t, err)

	doc := &render.Document{
		Device: "sw0",
		Interface: map[string]*render.Interface{
			"Vlan3610": {
				Name:          "Vlan3610",
				VLANID:        3610,
				TaggedMembers: map[string]string{"Ethernet 1/3": render.Present},
				State:         render.Present,
			},
		},
	}
	res, err := a.RenderAndApply(ctx, "sw0", doc)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	raw, err := os.ReadFile(filepath.Join(dir, "sw0.yaml"))
	require.NoError(t, err)
	want, err := doc.YAML()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(raw))

	res, err = a.RenderAndApply(ctx, "sw0", doc)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	doc.Interface["Vlan3610"].State = render.Absent
	res, err = a.RenderAndApply(ctx, "sw0", doc)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileRenderAndApplyCanceled(t *testing.T) {
	a, err := adapter.NewFile(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.RenderAndApply(ctx, "sw0", &render.Document{Device: "sw0"})
	assert.Equal(t, errkind.Transient, errkind.Of(err))
}

func TestFileReportFacts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := adapter.NewFile(dir)
	require.NoError(t, err)

	_, err = a.ReportFacts(ctx, "sw0")
	assert.Equal(t, errkind.NotFound, errkind.Of(err))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, adapter.FactsDir), 0o755))
	facts := `vendor: dellos9
ports:
  "Ethernet 1/3":
    speed: 10G
    vlans: ["3610-3611"]
    neighbor: "sw1:Ethernet_1-2"
  "Port-channel 1":
    kind: aggregate-member
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, adapter.FactsDir, "sw0.yaml"),
		[]byte(facts), 0o644))

	got, err := a.ReportFacts(ctx, "sw0")
	require.NoError(t, err)
	assert.Equal(t, "dellos9", got.Vendor)
	require.Contains(t, got.Ports, "Ethernet 1/3")
	p := got.Ports["Ethernet 1/3"]
	assert.Equal(t, topology.Physical, p.Kind)
	assert.Equal(t, int64(10_000_000_000), p.Speed)
	assert.True(t, p.VLANs.Contains(3611))
	assert.False(t, p.VLANs.Contains(3612))
	assert.Equal(t, "sw1:Ethernet_1-2", p.Neighbor)
	assert.Equal(t, topology.AggregateMember, got.Ports["Port-channel 1"].Kind)
	assert.Nil(t, got.Ports["Port-channel 1"].VLANs)
}

func TestParseFactsInvalid(t *testing.T) {
	testCases := map[string]string{
		"malformed": "ports: [",
		"bad kind":  "ports:\n  p1:\n    kind: wormhole\n",
		"bad speed": "ports:\n  p1:\n    speed: fast\n",
		"bad vlans": "ports:\n  p1:\n    vlans: [\"x-y\"]\n",
	}
	for name, raw := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := adapter.ParseFacts([]byte(raw))
			assert.Equal(t, errkind.InvalidInput, errkind.Of(err))
		})
	}
}

func TestNew(t *testing.T) {
	a, err := adapter.New(adapter.TypeLog, "")
	require.NoError(t, err)
	_, err = a.RenderAndApply(context.Background(), "sw0", &render.Document{Device: "sw0"})
	assert.NoError(t, err)

	_, err = adapter.New("ssh", "")
	assert.Equal(t, errkind.Fatal, errkind.Of(err))
}
