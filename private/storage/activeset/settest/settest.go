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

// Package settest provides an in-memory active set for tests.
package settest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/private/storage/activeset"
)

// MemPersister keeps all versions in memory.
type MemPersister struct {
	mu       sync.Mutex
	versions map[int64][]byte
	latest   int64
}

// Save stores the document.
func (p *MemPersister) Save(_ context.Context, version int64, _ time.Time, doc []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.versions == nil {
		p.versions = map[int64][]byte{}
	}
	p.versions[version] = append([]byte(nil), doc...)
	if version > p.latest {
		p.latest = version
	}
	return nil
}

// Latest returns the latest document.
func (p *MemPersister) Latest(context.Context) (int64, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == 0 {
		return 0, nil, nil
	}
	return p.latest, p.versions[p.latest], nil
}

// NewStore returns an empty store backed by a MemPersister.
func NewStore(t testing.TB, c clock.Clock) *activeset.Store {
	t.Helper()
	s, err := activeset.New(&MemPersister{}, c, activeset.Metrics{})
	require.NoError(t, err)
	return s
}
