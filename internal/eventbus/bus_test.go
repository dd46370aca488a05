// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name  string
	mu    sync.Mutex
	got   []Event
	block chan struct{} // non-nil: Deliver waits on it
	fail  bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, ev Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fail {
		return errors.New("sink down")
	}
	s.mu.Lock()
	s.got = append(s.got, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.got))
	copy(out, s.got)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEmitReachesSubscribedSinks(t *testing.T) {
	bus := New(8, testLogger())
	defer bus.Close()

	all := &recordingSink{name: "all"}
	queuesOnly := &recordingSink{name: "queues"}
	bus.Subscribe(all)
	bus.Subscribe(queuesOnly, QueueEntered, QueueExited)

	bus.Emit(QueueEntered, QueueEnteredPayload{QueueID: "q1", Position: 1})
	bus.Emit(BookingCreated, BookingCreatedPayload{BookingID: "b1"})

	waitFor(t, func() bool { return len(all.events()) == 2 }, "all-sink should see both events")
	waitFor(t, func() bool { return len(queuesOnly.events()) == 1 }, "filtered sink sees one event")
	assert.Equal(t, QueueEntered, queuesOnly.events()[0].Kind)
}

func TestEmitNeverBlocks(t *testing.T) {
	bus := New(2, testLogger())
	defer bus.Close()

	stuck := &recordingSink{name: "stuck", block: make(chan struct{})}
	bus.Subscribe(stuck)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Emit(QueueSeatsChanged, QueueSeatsChangedPayload{QueueID: "q1", AvailableSeats: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a saturated sink")
	}
}

func TestOverflowDropsOldestFirst(t *testing.T) {
	bus := New(2, testLogger())
	defer bus.Close()

	gate := make(chan struct{})
	sink := &recordingSink{name: "slow", block: gate}
	bus.Subscribe(sink)

	for i := 0; i < 10; i++ {
		bus.Emit(QueueSeatsChanged, QueueSeatsChangedPayload{QueueID: "q1", AvailableSeats: i})
	}
	close(gate)

	waitFor(t, func() bool { return len(sink.events()) >= 1 }, "drained something after unblocking")
	time.Sleep(50 * time.Millisecond)

	events := sink.events()
	require.NotEmpty(t, events)
	// Survivors are the newest emissions, delivered in order.
	last := events[len(events)-1].Payload.(QueueSeatsChangedPayload)
	assert.Equal(t, 9, last.AvailableSeats, "the newest event survives the overflow")
	for i := 1; i < len(events); i++ {
		prev := events[i-1].Payload.(QueueSeatsChangedPayload)
		cur := events[i].Payload.(QueueSeatsChangedPayload)
		assert.Less(t, prev.AvailableSeats, cur.AvailableSeats)
	}
}

func TestSinkFailureDoesNotPropagate(t *testing.T) {
	bus := New(8, testLogger())
	defer bus.Close()

	failing := &recordingSink{name: "failing", fail: true}
	healthy := &recordingSink{name: "healthy"}
	bus.Subscribe(failing)
	bus.Subscribe(healthy)

	bus.Emit(TripCreated, TripCreatedPayload{TripID: "t1"})

	waitFor(t, func() bool { return len(healthy.events()) == 1 }, "healthy sink unaffected by failing one")
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := New(8, testLogger())
	sink := &recordingSink{name: "s"}
	bus.Subscribe(sink)

	bus.Emit(StaffUpdated, StaffUpdatedPayload{Action: StaffCreated})
	waitFor(t, func() bool { return len(sink.events()) == 1 }, "delivered before close")

	bus.Close()
	bus.Emit(StaffUpdated, StaffUpdatedPayload{Action: StaffDeleted})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.events(), 1, "nothing delivered after close")
}
