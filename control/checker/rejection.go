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

package checker

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/siterm/rcp/pkg/errkind"
)

// Tag is the stable, machine readable reason of a rejection.
type Tag string

const (
	OverlapException   Tag = "OverlapException"
	WrongIPAddress     Tag = "WrongIPAddress"
	ExceededCapacity   Tag = "ExceededCapacity"
	UnknownEndpoint    Tag = "UnknownEndpoint"
	InvalidTime        Tag = "InvalidTime"
	MissingReservation Tag = "MissingReservation"
	VlanOutOfRange     Tag = "VlanOutOfRange"
	MalformedContent   Tag = "MalformedContent"
)

// Rejection is the error returned for a delta that cannot be admitted. It
// matches the errkind sentinel of its kind with errors.Is.
type Rejection struct {
	Tag  Tag
	Kind errkind.Kind
	// URI is the reservation of the delta that was rejected.
	URI    string
	Device string
	Port   string
	VLAN   int
	Prefix netip.Prefix
	// Competing lists the URIs of the reservations the delta conflicts
	// with.
	Competing []string
	Detail    string
}

func (r *Rejection) Error() string {
	var ctx []string
	add := func(k, v string) {
		if v != "" {
			ctx = append(ctx, k+"="+v)
		}
	}
	add("uri", r.URI)
	add("device", r.Device)
	add("port", r.Port)
	if r.VLAN != 0 {
		add("vlan", strconv.Itoa(r.VLAN))
	}
	if r.Prefix.IsValid() {
		add("prefix", r.Prefix.String())
	}
	if len(r.Competing) > 0 {
		add("competing", "["+strings.Join(r.Competing, " ")+"]")
	}
	msg := fmt.Sprintf("%s: %s", r.Tag, r.Detail)
	if len(ctx) > 0 {
		msg += " {" + strings.Join(ctx, "; ") + "}"
	}
	return msg
}

// Is makes the rejection match the sentinel of its kind.
func (r *Rejection) Is(target error) bool {
	return target == kindErrors[r.Kind]
}

var kindErrors = map[errkind.Kind]error{
	errkind.NotFound:           errkind.ErrNotFound,
	errkind.Conflict:           errkind.ErrConflict,
	errkind.InvalidInput:       errkind.ErrInvalidInput,
	errkind.CapacityExceeded:   errkind.ErrCapacityExceeded,
	errkind.PreconditionFailed: errkind.ErrPreconditionFailed,
}
