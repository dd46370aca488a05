// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import "errors"

var (
	// ErrVehicleUnknown is returned when no vehicle matches the license plate.
	ErrVehicleUnknown = errors.New("vehicle unknown")

	// ErrVehicleInactive is returned when the vehicle is deactivated by central.
	ErrVehicleInactive = errors.New("vehicle is inactive")

	// ErrVehicleNotAuthorizedHere is returned when the vehicle is not
	// authorized to operate from this station.
	ErrVehicleNotAuthorizedHere = errors.New("vehicle not authorized at this station")

	// ErrVehicleAlreadyQueued is returned when the vehicle already has an
	// in-service queue row.
	ErrVehicleAlreadyQueued = errors.New("vehicle already queued")

	// ErrNotInQueue is returned when the vehicle has no in-service queue row.
	ErrNotInQueue = errors.New("vehicle not in queue")

	// ErrIllegalStateTransition is returned for transitions outside
	// WAITING->LOADING, LOADING->READY, READY->DEPARTED and
	// WAITING->READY (seats exhausted).
	ErrIllegalStateTransition = errors.New("illegal queue state transition")

	// ErrSeatsRemaining is returned when READY is requested while seats
	// remain and force is not set.
	ErrSeatsRemaining = errors.New("cannot mark ready while seats remain")

	// ErrOutstandingBookings is returned when exit is requested for a row
	// that still carries unverified bookings.
	ErrOutstandingBookings = errors.New("queue row has outstanding unverified bookings")
)
