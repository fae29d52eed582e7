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

package assembler

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/private/storage/model"
	"github.com/siterm/rcp/private/topology"
)

// Encoding is a serialization of a model graph.
type Encoding string

const (
	JSON     Encoding = "json"
	NTriples Encoding = "ntriples"
)

// ParseEncoding parses an encoding name. The empty name selects JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(s)); e {
	case "", JSON:
		return JSON, nil
	case NTriples:
		return e, nil
	}
	return "", errkind.New(errkind.InvalidInput, "unknown model encoding", "encoding", s)
}

// Encode renders the snapshot graph in the encoding.
func Encode(snap *model.Snapshot, enc Encoding) ([]byte, error) {
	switch enc {
	case "", JSON:
		return snap.Graph, nil
	case NTriples:
		g, err := Unmarshal(snap.Graph)
		if err != nil {
			return nil, err
		}
		return encodeNTriples(g), nil
	}
	return nil, errkind.New(errkind.InvalidInput, "unknown model encoding", "encoding", enc)
}

const (
	ns       = "urn:rcp:"
	xsdLong  = "http://www.w3.org/2001/XMLSchema#long"
	predType = ns + "type"
)

type triples map[string]struct{}

func (t triples) add(subj, pred, obj string) {
	t[subj+" "+pred+" "+obj+" ."] = struct{}{}
}

func (t triples) lines() []byte {
	ls := make([]string, 0, len(t))
	for l := range t {
		ls = append(ls, l)
	}
	sort.Strings(ls)
	var b strings.Builder
	for _, l := range ls {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func iri(segments ...string) string {
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "<" + ns + strings.Join(segments, ":") + ">"
}

func pred(name string) string {
	return "<" + ns + name + ">"
}

func literal(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}

func long(v int64) string {
	return `"` + strconv.FormatInt(v, 10) + `"^^<` + xsdLong + `>`
}

func portIRI(uri string) (string, bool) {
	dev, port, err := topology.SplitPortURI(uri)
	if err != nil {
		return "", false
	}
	return iri("port", dev, port), true
}

func encodeNTriples(g *Graph) []byte {
	t := triples{}
	typ := "<" + predType + ">"
	for _, site := range g.Sites {
		t.add(iri("site", site), typ, literal("site"))
	}
	for _, d := range g.Devices {
		dev := iri("device", d.Name)
		t.add(dev, typ, literal(string(d.Kind)))
		if d.Site != "" {
			t.add(dev, pred("site"), iri("site", d.Site))
		}
		if d.Vendor != "" {
			t.add(dev, pred("vendor"), literal(d.Vendor))
		}
		if d.PrivateASN != 0 {
			t.add(dev, pred("privateASN"), long(int64(d.PrivateASN)))
		}
		for name, p := range d.Ports {
			port := iri("port", d.Name, name)
			t.add(dev, pred("hasPort"), port)
			t.add(port, typ, literal(string(p.Kind)))
			t.add(port, pred("name"), literal(p.Original))
			t.add(port, pred("capacity"), long(p.Capacity))
			t.add(port, pred("reservableCapacity"), long(p.ReservableCapacity()))
			for _, r := range p.Allocatable() {
				t.add(port, pred("vlanRange"), literal(r.String()))
			}
			if alias, ok := portIRI(p.IsAlias); ok {
				t.add(port, pred("isAlias"), alias)
			}
			if p.NIC != nil {
				for _, pool := range p.NIC.IPv4Pool {
					t.add(port, pred("addressPool"), literal(pool.String()))
				}
				for _, pool := range p.NIC.IPv6Pool {
					t.add(port, pred("addressPool"), literal(pool.String()))
				}
			}
		}
	}
	for _, n := range g.Nodes {
		res := iri("reservation", n.URI)
		t.add(res, typ, literal(string(n.Reservation.Kind)))
		t.add(res, pred("tag"), literal(n.Tag))
		t.add(res, pred("start"), long(n.Reservation.Window.Start))
		t.add(res, pred("end"), long(n.Reservation.Window.End))
		for _, uri := range n.Ports {
			if port, ok := portIRI(uri); ok {
				t.add(port, pred("hasReservation"), res)
			}
		}
		for _, d := range n.Devices {
			t.add(iri("device", d), pred("hasReservation"), res)
		}
	}
	return t.lines()
}
