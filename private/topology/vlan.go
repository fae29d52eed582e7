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
	"sort"
	"strconv"
	"strings"

	"github.com/siterm/rcp/pkg/private/serrors"
)

const (
	MinVLAN = 1
	MaxVLAN = 4094
)

// VLANRange is an inclusive interval of VLAN IDs.
type VLANRange struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

func (r VLANRange) String() string {
	if r.Lo == r.Hi {
		return strconv.Itoa(r.Lo)
	}
	return strconv.Itoa(r.Lo) + "-" + strconv.Itoa(r.Hi)
}

// VLANRanges is a sorted set of disjoint, non-adjacent VLAN intervals.
type VLANRanges []VLANRange

// AllVLANs is the full VLAN space.
func AllVLANs() VLANRanges {
	return VLANRanges{{Lo: MinVLAN, Hi: MaxVLAN}}
}

// ParseVLANRanges parses entries of the form "3600-3619" or "3610". Entries
// may contain several comma separated items.
func ParseVLANRanges(entries ...string) (VLANRanges, error) {
	var rs VLANRanges
	for _, entry := range entries {
		for _, item := range strings.Split(entry, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			loS, hiS, isRange := strings.Cut(item, "-")
			lo, err := strconv.Atoi(strings.TrimSpace(loS))
			if err != nil {
				return nil, serrors.Wrap("parsing vlan range", err, "range", item)
			}
			hi := lo
			if isRange {
				if hi, err = strconv.Atoi(strings.TrimSpace(hiS)); err != nil {
					return nil, serrors.Wrap("parsing vlan range", err, "range", item)
				}
			}
			if lo < MinVLAN || hi > MaxVLAN || lo > hi {
				return nil, serrors.New("vlan range out of bounds", "range", item,
					"min", MinVLAN, "max", MaxVLAN)
			}
			rs = append(rs, VLANRange{Lo: lo, Hi: hi})
		}
	}
	return rs.normalize(), nil
}

func (rs VLANRanges) normalize() VLANRanges {
	if len(rs) == 0 {
		return rs
	}
	sorted := append(VLANRanges(nil), rs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lo < sorted[j].Lo })
	out := VLANRanges{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Lo <= last.Hi+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Contains reports whether vlan is in the set.
func (rs VLANRanges) Contains(vlan int) bool {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].Hi >= vlan })
	return i < len(rs) && rs[i].Lo <= vlan
}

// Intersect returns the VLANs contained in both sets.
func (rs VLANRanges) Intersect(o VLANRanges) VLANRanges {
	var out VLANRanges
	i, j := 0, 0
	for i < len(rs) && j < len(o) {
		lo, hi := max(rs[i].Lo, o[j].Lo), min(rs[i].Hi, o[j].Hi)
		if lo <= hi {
			out = append(out, VLANRange{Lo: lo, Hi: hi})
		}
		if rs[i].Hi < o[j].Hi {
			i++
		} else {
			j++
		}
	}
	return out
}

// Len returns the number of VLANs in the set.
func (rs VLANRanges) Len() int {
	n := 0
	for _, r := range rs {
		n += r.Hi - r.Lo + 1
	}
	return n
}

func (rs VLANRanges) String() string {
	s := make([]string, 0, len(rs))
	for _, r := range rs {
		s = append(s, r.String())
	}
	return strings.Join(s, ",")
}
