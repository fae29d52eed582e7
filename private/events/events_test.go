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

package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/private/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func transition(id, conn string, to delta.State) events.Transition {
	return events.Transition{
		DeltaID:      id,
		ConnectionID: conn,
		Kind:         delta.Addition,
		To:           to,
		At:           time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestBus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := events.NewBus()
	defer bus.Close()

	all, err := bus.Subscribe(nil)
	require.NoError(t, err)
	conn2, err := bus.Subscribe(events.ForConnection("conn-2"))
	require.NoError(t, err)
	failed, err := bus.Subscribe(events.ToStates(delta.Failed))
	require.NoError(t, err)

	published := []events.Transition{
		transition("d1", "conn-1", delta.Accepted),
		transition("d2", "conn-2", delta.Accepted),
		transition("d1", "conn-1", delta.Committing),
		transition("d2", "conn-2", delta.Failed),
	}
	for _, tr := range published {
		bus.Publish(tr)
	}

	for _, want := range published {
		got, err := all.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, want := range []events.Transition{published[1], published[3]} {
		got, err := conn2.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := failed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, published[3], got)

	require.NoError(t, conn2.Close())
	_, err = conn2.Next(ctx)
	assert.ErrorIs(t, err, events.ErrClosed)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := events.NewBus()
	sub, err := bus.Subscribe(nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(transition("d1", "conn-1", delta.Accepted))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	require.NoError(t, bus.Close())
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, events.ErrClosed)
	require.NoError(t, sub.Close())
}

func TestSubscribeClosedBus(t *testing.T) {
	bus := events.NewBus()
	require.NoError(t, bus.Close())
	_, err := bus.Subscribe(nil)
	assert.ErrorIs(t, err, events.ErrClosed)
	bus.Publish(transition("d1", "conn-1", delta.Accepted))
}

func TestNextContext(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub, err := bus.Subscribe(nil)
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
