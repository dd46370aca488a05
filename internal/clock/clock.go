// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall time and ID generation so that services can
// be tested against a controllable time source.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies wall time to services. Monotonic elapsed-time measurement
// is available through Since, which uses the monotonic reading carried by
// the time.Time values the clock hands out.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// System is a Clock backed by the real time package.
type System struct{}

func (System) Now() time.Time                  { return time.Now() }
func (System) Since(t time.Time) time.Duration { return time.Since(t) }

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock pinned at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// NewID returns a fresh unique identifier.
func NewID() string {
	return uuid.New().String()
}

// AuthorizedStationID builds the deterministic composite ID for an
// authorized-station row. Syncs rewrite these rows en bloc per vehicle, so
// the ID must be reproducible from its parts.
func AuthorizedStationID(vehicleID, stationID string) string {
	return fmt.Sprintf("%s_%s", vehicleID, stationID)
}
