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

// Package identity generates identifiers for deltas, reservations and model
// snapshots.
package identity

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Generator creates new unique identifiers.
type Generator interface {
	NewID() string
}

// Random generates random (version 4) UUIDs.
type Random struct{}

// NewID returns a random UUID.
func (Random) NewID() string {
	return uuid.NewString()
}

// Deterministic generates name based (version 5) UUIDs from a seed and a
// counter. Two generators with the same seed produce the same sequence.
type Deterministic struct {
	mtx   sync.Mutex
	space uuid.UUID
	next  uint64
}

// NewDeterministic creates a deterministic generator for the given seed.
func NewDeterministic(seed string) *Deterministic {
	return &Deterministic{space: uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))}
}

// NewID returns the next UUID of the sequence.
func (d *Deterministic) NewID() string {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	id := uuid.NewSHA1(d.space, []byte(strconv.FormatUint(d.next, 10)))
	d.next++
	return id.String()
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
