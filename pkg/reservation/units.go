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
	"math"
	"strings"

	"github.com/siterm/rcp/pkg/private/serrors"
)

var unitFactors = map[string]float64{
	"bps":  1,
	"kbps": 1e3,
	"mbps": 1e6,
	"gbps": 1e9,
	"tbps": 1e12,
}

// ToBitsPerSecond converts a service capacity in the given unit to bits per
// second. A zero value without unit is zero; any other value needs a known
// unit.
func ToBitsPerSecond(value float64, unit string) (int64, error) {
	unit = strings.ToLower(strings.TrimSpace(unit))
	if unit == "" {
		if value == 0 {
			return 0, nil
		}
		return 0, serrors.New("missing bandwidth unit", "value", value)
	}
	f, ok := unitFactors[unit]
	if !ok {
		return 0, serrors.New("unknown bandwidth unit", "unit", unit)
	}
	return int64(math.Round(value * f)), nil
}

// Mbit converts bits per second to whole megabits per second, rounding
// down.
func Mbit(bps int64) int64 {
	return bps / 1_000_000
}
