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

package statemachine

import (
	"github.com/looplab/fsm"

	"github.com/siterm/rcp/pkg/delta"
)

// Events of the delta lifecycle.
const (
	EventCheckPassed   = "check_passed"
	EventCheckFailed   = "check_failed"
	EventCommit        = "commit"
	EventCommitTimeout = "commit_timeout"
	EventWritten       = "written"
	EventWriteFailed   = "write_failed"
	EventStart         = "start"
	EventEnd           = "end"
	EventConverged     = "converged"
	EventRenderFailed  = "render_failed"
	EventReduce        = "reduce"
	EventCleared       = "cleared"
	EventForceRemove   = "force_remove"
)

func states(ss ...delta.State) []string {
	res := make([]string, 0, len(ss))
	for _, s := range ss {
		res = append(res, string(s))
	}
	return res
}

// transitions is the lifecycle of a delta. Terminal states have no
// outgoing transition.
var transitions = fsm.Events{
	{Name: EventCheckPassed, Src: states(delta.Accepting), Dst: string(delta.Accepted)},
	{Name: EventCheckFailed, Src: states(delta.Accepting), Dst: string(delta.Failed)},
	{Name: EventCommit, Src: states(delta.Accepted), Dst: string(delta.Committing)},
	{Name: EventCommitTimeout, Src: states(delta.Accepted), Dst: string(delta.Failed)},
	{Name: EventWritten, Src: states(delta.Committing), Dst: string(delta.Committed)},
	{Name: EventWriteFailed, Src: states(delta.Committing), Dst: string(delta.Failed)},
	{Name: EventStart, Src: states(delta.Committed), Dst: string(delta.Activating)},
	{
		Name: EventEnd,
		Src:  states(delta.Committed, delta.Activating, delta.Activated),
		Dst:  string(delta.Deactivating),
	},
	{Name: EventConverged, Src: states(delta.Activating), Dst: string(delta.Activated)},
	{Name: EventRenderFailed, Src: states(delta.Activating), Dst: string(delta.Failed)},
	{
		Name: EventReduce,
		Src:  states(delta.Committed, delta.Activating, delta.Activated),
		Dst:  string(delta.Deactivating),
	},
	{Name: EventCleared, Src: states(delta.Deactivating), Dst: string(delta.Removed)},
	{
		Name: EventForceRemove,
		Src: states(delta.Accepting, delta.Accepted, delta.Committing, delta.Committed,
			delta.Activating, delta.Activated, delta.Deactivating),
		Dst: string(delta.Removed),
	},
}

// Allowed reports whether the event leads out of the state.
func Allowed(from delta.State, event string) bool {
	for _, t := range transitions {
		if t.Name != event {
			continue
		}
		for _, s := range t.Src {
			if s == string(from) {
				return true
			}
		}
	}
	return false
}
