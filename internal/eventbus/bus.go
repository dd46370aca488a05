// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventbus delivers typed events from the mutating services to
// pluggable sinks (operator fan-out channels, the central uplink). Delivery
// is at-least-once, best-effort: a failing sink is logged and never
// propagates back into the transaction that emitted the event.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teskerti/station-node/internal/metrics"
)

// Sink receives events it subscribed to. Deliver may block; the bus runs
// each sink on its own goroutine behind a bounded buffer.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

type subscription struct {
	sink  Sink
	kinds map[Kind]struct{} // empty means all kinds
	ch    chan Event
}

func (s *subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus fans events out to registered sinks.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	bufSize int
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bus whose sinks each get a bounded buffer of bufSize events.
func New(bufSize int, log *slog.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		bufSize: bufSize,
		log:     log.With("component", "eventbus"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe registers a sink for the given kinds. No kinds means every kind.
func (b *Bus) Subscribe(sink Sink, kinds ...Kind) {
	sub := &subscription{
		sink:  sink,
		kinds: make(map[Kind]struct{}, len(kinds)),
		ch:    make(chan Event, b.bufSize),
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliverLoop(sub)
}

func (b *Bus) deliverLoop(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-sub.ch:
			if err := sub.sink.Deliver(b.ctx, ev); err != nil {
				b.log.Warn("sink delivery failed",
					"sink", sub.sink.Name(),
					"kind", ev.Kind,
					"error", err,
				)
			}
		}
	}
}

// Emit publishes an event. It never blocks: a sink whose buffer is full
// loses its oldest buffered event to make room.
func (b *Bus) Emit(kind Kind, payload any) {
	ev := Event{Kind: kind, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(kind) {
			continue
		}
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Buffer full: drop the oldest, then retry once. A concurrent
		// consumer may have freed space in between, which is fine.
		select {
		case dropped := <-sub.ch:
			metrics.EventsDroppedTotal.WithLabelValues(sub.sink.Name()).Inc()
			b.log.Debug("dropped oldest event for saturated sink",
				"sink", sub.sink.Name(),
				"droppedKind", dropped.Kind,
			)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(sub.sink.Name()).Inc()
		}
	}
}

// Close stops delivery goroutines. Buffered events not yet delivered are
// discarded.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}
