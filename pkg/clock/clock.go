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

// Package clock provides the time source of the control plane. All internal
// time is an integer number of UTC seconds; the Clock interface lets tests
// drive time explicitly.
package clock

import (
	"time"

	cfclock "code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/clock/fakeclock"
)

// Clock is a source of time.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
	// Seconds returns the current time as UTC seconds since the epoch.
	Seconds() int64
	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) cfclock.Ticker
}

// New returns the system clock.
func New() Clock {
	return wrapped{c: cfclock.NewClock()}
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	*fakeclock.FakeClock
}

// NewFake returns a fake clock starting at the given UTC second.
func NewFake(seconds int64) *Fake {
	return &Fake{FakeClock: fakeclock.NewFakeClock(time.Unix(seconds, 0).UTC())}
}

// Now returns the fake time in UTC.
func (f *Fake) Now() time.Time {
	return f.FakeClock.Now().UTC()
}

// Seconds returns the fake time in UTC seconds.
func (f *Fake) Seconds() int64 {
	return f.FakeClock.Now().Unix()
}

// AdvanceSeconds moves the fake clock forward by s seconds.
func (f *Fake) AdvanceSeconds(s int64) {
	f.FakeClock.Increment(time.Duration(s) * time.Second)
}

type wrapped struct {
	c cfclock.Clock
}

func (w wrapped) Now() time.Time {
	return w.c.Now().UTC()
}

func (w wrapped) Seconds() int64 {
	return w.c.Now().Unix()
}

func (w wrapped) NewTicker(d time.Duration) cfclock.Ticker {
	return w.c.NewTicker(d)
}
