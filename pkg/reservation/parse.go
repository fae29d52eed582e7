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

package reservation

import (
	"bytes"
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/private/serrors"
)

// Field names the part of the content a ParseError refers to.
type Field string

const (
	FieldContent Field = "content"
	FieldWindow  Field = "existsDuring"
	FieldLabel   Field = "hasLabel"
	FieldAddress Field = "hasNetworkAddress"
	FieldService Field = "hasService"
	FieldRoute   Field = "hasRoute"
)

// ParseError describes malformed delta content. It is of kind
// errkind.InvalidInput.
type ParseError struct {
	ConnectionID string
	Device       string
	Port         string
	Field        Field
	Value        string
	Err          error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "malformed %s", e.Field)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err)
	}
	var ctx []string
	for _, kv := range [][2]string{
		{"connection", e.ConnectionID},
		{"device", e.Device},
		{"port", e.Port},
		{"value", e.Value},
	} {
		if kv[1] != "" {
			ctx = append(ctx, kv[0]+"="+kv[1])
		}
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " {%s}", strings.Join(ctx, "; "))
	}
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is makes ParseError match errkind.ErrInvalidInput.
func (e *ParseError) Is(target error) bool {
	return target == errkind.ErrInvalidInput
}

type rawContent struct {
	VSwitch map[string]map[string]json.RawMessage `json:"vsw"`
	Routing map[string]map[string]json.RawMessage `json:"rst"`
}

type rawParams struct {
	ExistsDuring *struct {
		Start flexInt `json:"start"`
		End   flexInt `json:"end"`
	} `json:"existsDuring"`
	Tag       string `json:"tag"`
	BelongsTo string `json:"belongsTo"`
}

type rawValue struct {
	Value flexString `json:"value"`
}

type rawService struct {
	Type               string    `json:"type"`
	ReservableCapacity flexFloat `json:"reservableCapacity"`
	Unit               string    `json:"unit"`
	Priority           flexInt   `json:"priority"`
}

type rawPort struct {
	HasLabel *struct {
		LabelType string  `json:"labeltype"`
		Value     flexInt `json:"value"`
	} `json:"hasLabel"`
	HasNetworkAddress map[string]rawValue `json:"hasNetworkAddress"`
	HasService        *rawService         `json:"hasService"`
	IsAlias           string              `json:"isAlias"`
}

type rawRoute struct {
	NextHop   map[string]rawValue `json:"nextHop"`
	RouteFrom map[string]rawValue `json:"routeFrom"`
	RouteTo   map[string]rawValue `json:"routeTo"`
}

type rawRouting struct {
	HasService *rawService         `json:"hasService"`
	HasRoute   map[string]rawRoute `json:"hasRoute"`
}

const paramsKey = "_params"

// CheckSyntax verifies that raw is a JSON object carrying at least one
// connection under "vsw" or "rst". It does not validate the connections.
func CheckSyntax(raw []byte) error {
	_, err := decodeContent(raw)
	return err
}

// Parse converts delta content into reservations, sorted by URI. Parse is
// the only place accepting the loose content layout; any malformed field
// results in a *ParseError.
func Parse(raw []byte) ([]*Reservation, error) {
	c, err := decodeContent(raw)
	if err != nil {
		return nil, err
	}
	var rs []*Reservation
	for _, connID := range sortedKeys(c.VSwitch) {
		r, err := parseVSwitch(connID, c.VSwitch[connID])
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}
	for _, connID := range sortedKeys(c.Routing) {
		r, err := parseRouting(connID, c.Routing[connID])
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].URI < rs[j].URI })
	return rs, nil
}

func decodeContent(raw []byte) (*rawContent, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Field: FieldContent, Err: serrors.New("empty content")}
	}
	var c rawContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &ParseError{Field: FieldContent, Err: err}
	}
	if len(c.VSwitch) == 0 && len(c.Routing) == 0 {
		return nil, &ParseError{Field: FieldContent,
			Err: serrors.New("content has no vsw or rst connections")}
	}
	return &c, nil
}

func parseHeader(kind Kind, connID string, conn map[string]json.RawMessage) (*Reservation, error) {
	r := &Reservation{
		URI:          URI(kind, connID),
		ConnectionID: connID,
		Kind:         kind,
		Window:       clock.DefaultWindow(),
	}
	rawP, ok := conn[paramsKey]
	if !ok {
		return r, nil
	}
	var p rawParams
	if err := json.Unmarshal(rawP, &p); err != nil {
		return nil, &ParseError{ConnectionID: connID, Field: FieldWindow, Err: err}
	}
	r.Tag, r.BelongsTo = p.Tag, p.BelongsTo
	if p.ExistsDuring != nil {
		r.Window = clock.NewWindow(int64(p.ExistsDuring.Start), int64(p.ExistsDuring.End))
	}
	return r, nil
}

func parseVSwitch(connID string, conn map[string]json.RawMessage) (*Reservation, error) {
	r, err := parseHeader(VSwitchKind, connID, conn)
	if err != nil {
		return nil, err
	}
	r.VSwitch = &VSwitch{}
	for _, dev := range sortedKeys(conn) {
		if strings.HasPrefix(dev, "_") {
			continue
		}
		var ports map[string]rawPort
		if err := json.Unmarshal(conn[dev], &ports); err != nil {
			return nil, &ParseError{ConnectionID: connID, Device: dev, Field: FieldContent, Err: err}
		}
		for _, port := range sortedKeys(ports) {
			if strings.HasPrefix(port, "_") {
				continue
			}
			ep, err := parsePort(ports[port])
			if err != nil {
				err.ConnectionID, err.Device, err.Port = connID, dev, port
				return nil, err
			}
			ep.Device, ep.Port = dev, port
			r.VSwitch.Endpoints = append(r.VSwitch.Endpoints, ep)
		}
	}
	return r, nil
}

func parsePort(p rawPort) (VSwitchEndpoint, *ParseError) {
	ep := VSwitchEndpoint{IsAlias: p.IsAlias}
	if p.HasLabel != nil {
		if p.HasLabel.LabelType != "" && !strings.HasSuffix(p.HasLabel.LabelType, "vlan") {
			return ep, &ParseError{Field: FieldLabel, Value: p.HasLabel.LabelType,
				Err: serrors.New("unsupported label type")}
		}
		ep.VLAN = int(p.HasLabel.Value)
	}
	for _, family := range []Family{IPv4, IPv6} {
		v, ok := p.HasNetworkAddress[string(family)+"-address"]
		if !ok || v.Value == "" {
			continue
		}
		prefix, err := parseAddress(string(v.Value), family)
		if err != nil {
			return ep, &ParseError{Field: FieldAddress, Value: string(v.Value), Err: err}
		}
		if family == IPv4 {
			ep.IPv4 = prefix
		} else {
			ep.IPv6 = prefix
		}
	}
	svc, err := parseService(p.HasService)
	if err != nil {
		return ep, err
	}
	ep.Service = svc
	return ep, nil
}

func parseRouting(connID string, conn map[string]json.RawMessage) (*Reservation, error) {
	r, err := parseHeader(RoutingKind, connID, conn)
	if err != nil {
		return nil, err
	}
	r.Routing = &Routing{}
	for _, dev := range sortedKeys(conn) {
		if strings.HasPrefix(dev, "_") {
			continue
		}
		var families map[string]rawRouting
		if err := json.Unmarshal(conn[dev], &families); err != nil {
			return nil, &ParseError{ConnectionID: connID, Device: dev, Field: FieldContent, Err: err}
		}
		for _, fam := range sortedKeys(families) {
			if strings.HasPrefix(fam, "_") {
				continue
			}
			ep, perr := parseRoutingEndpoint(Family(fam), families[fam])
			if perr != nil {
				perr.ConnectionID, perr.Device = connID, dev
				return nil, perr
			}
			ep.Device = dev
			r.Routing.Endpoints = append(r.Routing.Endpoints, ep)
		}
	}
	return r, nil
}

func parseRoutingEndpoint(fam Family, raw rawRouting) (RoutingEndpoint, *ParseError) {
	ep := RoutingEndpoint{Family: fam}
	if fam != IPv4 && fam != IPv6 {
		return ep, &ParseError{Field: FieldRoute, Value: string(fam),
			Err: serrors.New("unknown address family")}
	}
	svc, perr := parseService(raw.HasService)
	if perr != nil {
		return ep, perr
	}
	ep.Service = svc
	for _, tag := range sortedKeys(raw.HasRoute) {
		rt, err := parseRoute(fam, tag, raw.HasRoute[tag])
		if err != nil {
			return ep, err
		}
		ep.Routes = append(ep.Routes, rt)
	}
	return ep, nil
}

func parseRoute(fam Family, tag string, raw rawRoute) (Route, *ParseError) {
	rt := Route{Tag: tag}
	if v := raw.NextHop[string(fam)+"-address"].Value; v != "" {
		p, err := parseAddress(string(v), fam)
		if err != nil {
			return rt, &ParseError{Field: FieldAddress, Value: string(v), Err: err}
		}
		rt.NextHop = p.Addr()
	}
	var err error
	listKey := string(fam) + "-prefix-list"
	if v := raw.RouteFrom[listKey].Value; v != "" {
		if rt.RouteFrom, err = parseAddress(string(v), fam); err != nil {
			return rt, &ParseError{Field: FieldAddress, Value: string(v), Err: err}
		}
		rt.RouteFrom = rt.RouteFrom.Masked()
	}
	if v := raw.RouteTo[listKey].Value; v != "" {
		if rt.RouteTo, err = parseAddress(string(v), fam); err != nil {
			return rt, &ParseError{Field: FieldAddress, Value: string(v), Err: err}
		}
		rt.RouteTo = rt.RouteTo.Masked()
	}
	if v := raw.RouteTo["bgp-private-asn"].Value; v != "" {
		asn, err := strconv.ParseUint(string(v), 10, 32)
		if err != nil {
			return rt, &ParseError{Field: FieldRoute, Value: string(v), Err: err}
		}
		rt.RemoteASN = uint32(asn)
	}
	return rt, nil
}

func parseService(raw *rawService) (*Service, *ParseError) {
	if raw == nil {
		return nil, nil
	}
	t := ServiceType(raw.Type)
	if t == "" {
		t = BestEffort
	}
	bw, err := ToBitsPerSecond(float64(raw.ReservableCapacity), raw.Unit)
	if err != nil {
		return nil, &ParseError{Field: FieldService, Value: raw.Unit, Err: err}
	}
	if bw < 0 {
		return nil, &ParseError{Field: FieldService,
			Value: strconv.FormatInt(bw, 10), Err: serrors.New("negative bandwidth")}
	}
	return &Service{Type: t, Bandwidth: bw, Priority: int(raw.Priority)}, nil
}

// parseAddress accepts an address with or without prefix length and
// checks that it belongs to the family.
func parseAddress(s string, fam Family) (netip.Prefix, error) {
	var p netip.Prefix
	if strings.Contains(s, "/") {
		var err error
		if p, err = netip.ParsePrefix(s); err != nil {
			return netip.Prefix{}, err
		}
	} else {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		p = netip.PrefixFrom(a, a.BitLen())
	}
	if FamilyOf(p) != fam {
		return netip.Prefix{}, serrors.New("address family mismatch", "family", fam)
	}
	return p, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// flexString accepts JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

// flexFloat accepts JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt accepts JSON integers, integral floats and numeric strings.
type flexInt int64

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	if float64(f) != math.Trunc(float64(f)) || math.Abs(float64(f)) > math.MaxInt64/2 {
		return serrors.New("not an integer", "value", string(b))
	}
	*i = flexInt(f)
	return nil
}
