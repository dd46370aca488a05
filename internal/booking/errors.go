// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package booking

import "errors"

var (
	// ErrInsufficientSeats is returned when the destination's queues cannot
	// cover the requested seats.
	ErrInsufficientSeats = errors.New("insufficient seats available")

	// ErrConcurrentConflict is returned when a competing allocation consumed
	// the planned seats between read and write. The allocator retries once
	// before surfacing it.
	ErrConcurrentConflict = errors.New("concurrent booking conflict, try again")

	// ErrInvalidSeatCount is returned for a non-positive seat request.
	ErrInvalidSeatCount = errors.New("seats requested must be at least 1")

	// ErrUnknownTicket is returned when no booking matches the
	// verification code.
	ErrUnknownTicket = errors.New("unknown ticket code")

	// ErrAlreadyVerified is returned when the ticket was verified before.
	ErrAlreadyVerified = errors.New("ticket already verified")
)
