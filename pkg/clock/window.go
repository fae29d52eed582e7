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

package clock

import (
	"fmt"
	"math"
)

const (
	// DefaultStart is the start of a window that has no explicit start.
	DefaultStart int64 = 0
	// DefaultEnd is the end of a window that has no explicit end.
	DefaultEnd int64 = math.MaxInt32
)

// Window is a half-open time interval [Start, End) in UTC seconds.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// DefaultWindow is the window of reservations without existsDuring.
func DefaultWindow() Window {
	return Window{Start: DefaultStart, End: DefaultEnd}
}

// NewWindow returns a window, substituting defaults for zero bounds.
func NewWindow(start, end int64) Window {
	w := Window{Start: start, End: end}
	if w.End == 0 {
		w.End = DefaultEnd
	}
	return w
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	return w.End > w.Start
}

// Overlaps reports whether the two half-open windows intersect.
func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && o.Start < w.End
}

// Started reports whether the window has started at now.
func (w Window) Started(now int64) bool {
	return w.Start <= now
}

// Ended reports whether the window has ended at now.
func (w Window) Ended(now int64) bool {
	return w.End <= now
}

// Active reports whether now lies inside the window.
func (w Window) Active(now int64) bool {
	return w.Started(now) && !w.Ended(now)
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d)", w.Start, w.End)
}
