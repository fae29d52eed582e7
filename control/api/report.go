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

package api

import (
	"context"
	"io"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/siterm/rcp/control/render/adapter"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/private/topology"
)

// maxReportSize bounds the body of a report.
const maxReportSize = 4 << 20

// Reporter applies observed state to the topology model.
type Reporter interface {
	ReportDeviceFacts(ctx context.Context, device string, facts topology.Facts) error
	ReportAgentInfo(ctx context.Context, host string, report topology.AgentReport) error
}

// AgentBody is the body of an agent report.
type AgentBody struct {
	NICs map[string]NICBody `json:"nics"`
}

// NICBody is the report of a single host NIC.
type NICBody struct {
	IPv4Pool   []string `json:"ipv4Pool,omitempty"`
	IPv6Pool   []string `json:"ipv6Pool,omitempty"`
	Switch     string   `json:"switch,omitempty"`
	SwitchPort string   `json:"switchPort,omitempty"`
	// Speed is a capacity such as "10G".
	Speed string   `json:"speed,omitempty"`
	VLANs []string `json:"vlans,omitempty"`
}

// AgentReport converts the body.
func (b AgentBody) AgentReport() (topology.AgentReport, error) {
	report := topology.AgentReport{NICs: make(map[string]topology.NICReport, len(b.NICs))}
	for name, n := range b.NICs {
		nic := topology.NICReport{Switch: n.Switch, SwitchPort: n.SwitchPort}
		var err error
		if nic.IPv4Pool, err = parsePrefixes(n.IPv4Pool, true); err != nil {
			return topology.AgentReport{}, errkind.Wrap(errkind.InvalidInput, err, "nic", name)
		}
		if nic.IPv6Pool, err = parsePrefixes(n.IPv6Pool, false); err != nil {
			return topology.AgentReport{}, errkind.Wrap(errkind.InvalidInput, err, "nic", name)
		}
		if n.Speed != "" {
			if nic.Speed, err = topology.ParseCapacity(n.Speed); err != nil {
				return topology.AgentReport{}, errkind.Wrap(errkind.InvalidInput, err, "nic", name)
			}
		}
		if n.VLANs != nil {
			if nic.VLANs, err = topology.ParseVLANRanges(n.VLANs...); err != nil {
				return topology.AgentReport{}, errkind.Wrap(errkind.InvalidInput, err, "nic", name)
			}
		}
		report.NICs[name] = nic
	}
	return report, nil
}

func parsePrefixes(raw []string, v4 bool) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, r := range raw {
		p, err := netip.ParsePrefix(r)
		if err != nil {
			return nil, err
		}
		if p.Addr().Is4() != v4 {
			return nil, errkind.New(errkind.InvalidInput, "wrong address family", "prefix", r)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

func (s *Server) reportDeviceFacts(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxReportSize))
	if err != nil {
		writeError(w, r, "reading request", errkind.Wrap(errkind.InvalidInput, err))
		return
	}
	// Facts are YAML, which also accepts JSON bodies.
	facts, err := adapter.ParseFacts(raw)
	if err != nil {
		writeError(w, r, "decoding facts", err)
		return
	}
	if err := s.Reporter.ReportDeviceFacts(r.Context(), chi.URLParam(r, "device"),
		facts); err != nil {

		writeError(w, r, "reporting device facts", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reportAgentInfo(w http.ResponseWriter, r *http.Request) {
	var body AgentBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxReportSize)).Decode(&body); err != nil {
		writeError(w, r, "decoding request", errkind.Wrap(errkind.InvalidInput, err))
		return
	}
	report, err := body.AgentReport()
	if err != nil {
		writeError(w, r, "decoding agent report", err)
		return
	}
	if err := s.Reporter.ReportAgentInfo(r.Context(), chi.URLParam(r, "host"),
		report); err != nil {

		writeError(w, r, "reporting agent info", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
