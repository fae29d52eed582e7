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

package delta

import (
	"context"
	"io"
	"time"

	"github.com/siterm/rcp/pkg/errkind"
)

var (
	// ErrNotFound indicates an unknown delta.
	ErrNotFound = errkind.Sentinel(errkind.NotFound, "delta not found")
	// ErrExists indicates a delta ID that is already taken.
	ErrExists = errkind.Sentinel(errkind.Conflict, "delta exists")
	// ErrStateMismatch indicates a compare-and-swap state update whose
	// expected state does not match the stored one.
	ErrStateMismatch = errkind.Sentinel(errkind.PreconditionFailed, "delta state mismatch")
)

// ListFilter selects deltas. Zero fields do not filter.
type ListFilter struct {
	// UpdatedSince selects deltas updated at or after the time.
	UpdatedSince time.Time
	// States selects deltas in any of the states.
	States []State
	// ConnectionID selects deltas of one connection.
	ConnectionID string
	// Limit caps the number of results.
	Limit int
}

// Read is the read part of the delta store.
type Read interface {
	// Get returns the delta with the given ID.
	Get(ctx context.Context, id string) (*Delta, error)
	// List returns the deltas matching the filter, ordered by insert time
	// and ID.
	List(ctx context.Context, filter ListFilter) ([]*Delta, error)
	// History returns the state transitions of the delta, oldest first.
	History(ctx context.Context, id string) ([]Transition, error)
}

// Write is the write part of the delta store.
type Write interface {
	// Insert stores a new delta and records its initial state.
	Insert(ctx context.Context, d *Delta) error
	// UpdateState moves the delta from one state to another. It fails with
	// ErrStateMismatch if the stored state is not from.
	UpdateState(ctx context.Context, id string, from, to State, at time.Time,
		reason string) error
	// SetLinkedReduction records the reduction that removes the delta's
	// reservations.
	SetLinkedReduction(ctx context.Context, id, reductionID string) error
	// AddRenderFailure counts a failed dispatch for the delta in state and
	// returns the new count. It fails with ErrStateMismatch if the delta
	// has left state.
	AddRenderFailure(ctx context.Context, id string, state State) (int, error)
	// DeleteTerminalBefore removes deltas in a terminal state that were
	// last updated before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// DB is the persistent delta queue.
type DB interface {
	Read
	Write
	io.Closer
}
