// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package centrallink

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// pendingCalls correlates request frames with their responses by messageId.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[string]chan Frame
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[string]chan Frame)}
}

// newMessageID builds a correlation ID of the form "<kind>_<unixMs>_<rand>".
func newMessageID(kind string) string {
	return fmt.Sprintf("%s_%d_%d", kind, time.Now().UnixMilli(), rand.Intn(1_000_000))
}

// register creates the response channel for a messageId.
func (p *pendingCalls) register(messageID string) chan Frame {
	ch := make(chan Frame, 1)
	p.mu.Lock()
	p.calls[messageID] = ch
	p.mu.Unlock()
	return ch
}

// resolve delivers a response frame to its waiter. Returns false when no
// call is pending under that ID (late or duplicate response).
func (p *pendingCalls) resolve(messageID string, f Frame) bool {
	p.mu.Lock()
	ch, ok := p.calls[messageID]
	if ok {
		delete(p.calls, messageID)
	}
	p.mu.Unlock()
	if ok {
		ch <- f
	}
	return ok
}

// drop removes a pending call without resolving it (timeout or shutdown).
func (p *pendingCalls) drop(messageID string) {
	p.mu.Lock()
	delete(p.calls, messageID)
	p.mu.Unlock()
}

// failAll drops every pending call, closing their channels so waiters
// observe the session loss immediately.
func (p *pendingCalls) failAll() {
	p.mu.Lock()
	for id, ch := range p.calls {
		close(ch)
		delete(p.calls, id)
	}
	p.mu.Unlock()
}
