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

// Package delta defines deltas, the declarative requests to add, modify or
// reduce reservations, together with their lifecycle states.
package delta

import (
	"time"

	"github.com/siterm/rcp/pkg/private/serrors"
)

// State is a lifecycle state of a delta.
type State string

const (
	Accepting    State = "accepting"
	Accepted     State = "accepted"
	Committing   State = "committing"
	Committed    State = "committed"
	Activating   State = "activating"
	Activated    State = "activated"
	Deactivating State = "deactivating"
	Removed      State = "removed"
	Failed       State = "failed"
)

// States lists all states in lifecycle order.
var States = []State{
	Accepting, Accepted, Committing, Committed, Activating, Activated,
	Deactivating, Removed, Failed,
}

// Terminal reports whether no transition leaves the state.
func (s State) Terminal() bool {
	return s == Removed || s == Failed
}

// Live reports whether a delta in this state contributes reservations to
// the active set.
func (s State) Live() bool {
	switch s {
	case Committed, Activating, Activated, Deactivating:
		return true
	}
	return false
}

// ParseState parses a state name.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", serrors.New("unknown delta state", "state", s)
}

// Kind is the kind of change a delta requests.
type Kind string

const (
	Addition  Kind = "addition"
	Modify    Kind = "modify"
	Reduction Kind = "reduction"
)

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Addition, Modify, Reduction:
		return k, nil
	}
	return "", serrors.New("unknown delta kind", "kind", s)
}

// Delta is a submitted request. Content holds the raw reservation graph as
// submitted.
type Delta struct {
	ID           string    `json:"id"`
	InsertTime   time.Time `json:"insertTime"`
	UpdateTime   time.Time `json:"updateTime"`
	State        State     `json:"state"`
	Kind         Kind      `json:"kind"`
	Content      []byte    `json:"content"`
	ModelID      string    `json:"modelID"`
	ConnectionID string    `json:"connectionID"`
	// LinkedReductionID is the reduction delta that removed the
	// reservations of this addition, if any.
	LinkedReductionID string `json:"linkedReductionID,omitempty"`
	// Reason is the cause of the latest transition, set for failures.
	Reason string `json:"reason,omitempty"`
	// RenderFailures counts the failed dispatches observed for the delta in
	// its current state. It is reset by every transition.
	RenderFailures int `json:"renderFailures,omitempty"`
}

// Before orders deltas by insert time, then by ID.
func (d *Delta) Before(o *Delta) bool {
	if !d.InsertTime.Equal(o.InsertTime) {
		return d.InsertTime.Before(o.InsertTime)
	}
	return d.ID < o.ID
}

// Transition is one entry of the state history of a delta.
type Transition struct {
	ID     string    `json:"id"`
	State  State     `json:"state"`
	Time   time.Time `json:"time"`
	Reason string    `json:"reason,omitempty"`
}
