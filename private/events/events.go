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

// Package events fans out delta lifecycle transitions to subscribers.
//
// Publishing never blocks on slow subscribers: every subscription owns an
// unbounded queue in front of its channel. Events of one publisher are
// delivered to every subscriber in publishing order.
package events

import (
	"context"
	"sync"
	"time"

	goevents "github.com/docker/go-events"

	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
)

// ErrClosed is returned by Next once the subscription or the bus is closed.
var ErrClosed = serrors.New("subscription closed")

// Transition is a lifecycle transition of a delta.
type Transition struct {
	DeltaID      string
	ConnectionID string
	Kind         delta.Kind
	From         delta.State
	To           delta.State
	At           time.Time
	Reason       string
}

// Filter selects the transitions delivered to a subscription.
type Filter func(Transition) bool

// ForConnection selects the transitions of deltas with the connection ID.
func ForConnection(id string) Filter {
	return func(t Transition) bool {
		return t.ConnectionID == id
	}
}

// ToStates selects the transitions that enter one of the states.
func ToStates(states ...delta.State) Filter {
	return func(t Transition) bool {
		for _, s := range states {
			if t.To == s {
				return true
			}
		}
		return false
	}
}

// Bus distributes transitions.
type Bus struct {
	broadcaster *goevents.Broadcaster

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates a bus without subscribers.
func NewBus() *Bus {
	return &Bus{
		broadcaster: goevents.NewBroadcaster(),
		subs:        make(map[*Subscription]struct{}),
	}
}

// Publish sends the transition to all subscribers. Publishing on a closed
// bus is a no-op.
func (b *Bus) Publish(t Transition) {
	if err := b.broadcaster.Write(t); err != nil && err != goevents.ErrSinkClosed {
		log.Debug("Failed to publish transition", "delta", t.DeltaID, "err", err)
	}
}

// Subscribe registers a subscription. A nil filter selects all
// transitions.
func (b *Bus) Subscribe(filter Filter) (*Subscription, error) {
	ch := goevents.NewChannel(0)
	var sink goevents.Sink = ch
	if filter != nil {
		sink = goevents.NewFilter(ch, goevents.MatcherFunc(func(e goevents.Event) bool {
			return filter(e.(Transition))
		}))
	}
	s := &Subscription{
		bus:   b,
		ch:    ch,
		queue: goevents.NewQueue(sink),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.ch.Close()
		s.queue.Close()
		return nil, ErrClosed
	}
	if err := b.broadcaster.Add(s.queue); err != nil {
		s.ch.Close()
		s.queue.Close()
		return nil, serrors.Wrap("adding subscription", err)
	}
	b.subs[s] = struct{}{}
	return s, nil
}

// Close closes all subscriptions and the bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	// The channels are closed first so that queues blocked on delivery
	// drain and the broadcaster can close them.
	for s := range subs {
		s.ch.Close()
	}
	return b.broadcaster.Close()
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	if err := b.broadcaster.Remove(s.queue); err != nil {
		log.Debug("Failed to remove subscription", "err", err)
	}
}

// Subscription receives transitions from a bus.
type Subscription struct {
	bus   *Bus
	ch    *goevents.Channel
	queue *goevents.Queue
	once  sync.Once
}

// Next blocks until the next transition, the end of the context or the
// closing of the subscription.
func (s *Subscription) Next(ctx context.Context) (Transition, error) {
	select {
	case <-s.ch.Done():
		return Transition{}, ErrClosed
	default:
	}
	select {
	case e := <-s.ch.C:
		return e.(Transition), nil
	case <-s.ch.Done():
		return Transition{}, ErrClosed
	case <-ctx.Done():
		return Transition{}, ctx.Err()
	}
}

// Close stops the subscription. Undelivered transitions are dropped.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.ch.Close()
		s.bus.remove(s)
		s.queue.Close()
	})
	return nil
}
