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

package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siterm/rcp/pkg/identity"
)

func TestDeterministic(t *testing.T) {
	a := identity.NewDeterministic("seed")
	b := identity.NewDeterministic("seed")
	c := identity.NewDeterministic("other")

	first := a.NewID()
	assert.Equal(t, first, b.NewID())
	assert.NotEqual(t, first, c.NewID())
	assert.NotEqual(t, first, a.NewID())
	assert.True(t, identity.Valid(first))
}

func TestRandom(t *testing.T) {
	var g identity.Random
	assert.NotEqual(t, g.NewID(), g.NewID())
	assert.True(t, identity.Valid(g.NewID()))
	assert.False(t, identity.Valid("not-a-uuid"))
}

