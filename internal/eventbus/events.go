// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package eventbus

import "time"

// Kind is the fixed event taxonomy of the core. Surface-specific aliases
// belong to the client fan-out layer, not here.
type Kind string

const (
	QueueEntered       Kind = "queue.entered"
	QueueExited        Kind = "queue.exited"
	QueueStatusChanged Kind = "queue.statusChanged"
	QueueSeatsChanged  Kind = "queue.seatsChanged"
	BookingCreated     Kind = "booking.created"
	BookingVerified    Kind = "booking.verified"
	BookingCancelled   Kind = "booking.cancelled"
	TripCreated        Kind = "trip.created"
	StaffUpdated       Kind = "staff.updated"
)

// Event is a typed event record. Payload is one of the payload structs
// below, matching the Kind.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// QueueEnteredPayload accompanies queue.entered.
type QueueEnteredPayload struct {
	QueueID       string `json:"queueId"`
	VehicleID     string `json:"vehicleId"`
	DestinationID string `json:"destinationId"`
	Position      int    `json:"position"`
}

// QueueExitedPayload accompanies queue.exited.
type QueueExitedPayload struct {
	QueueID       string `json:"queueId"`
	VehicleID     string `json:"vehicleId"`
	DestinationID string `json:"destinationId"`
}

// QueueStatusChangedPayload accompanies queue.statusChanged.
type QueueStatusChangedPayload struct {
	QueueID   string `json:"queueId"`
	OldStatus string `json:"oldStatus"`
	NewStatus string `json:"newStatus"`
}

// QueueSeatsChangedPayload accompanies queue.seatsChanged.
type QueueSeatsChangedPayload struct {
	QueueID        string `json:"queueId"`
	AvailableSeats int    `json:"availableSeats"`
}

// BookingCreatedPayload accompanies booking.created.
type BookingCreatedPayload struct {
	BookingID     string  `json:"bookingId"`
	QueueID       string  `json:"queueId"`
	Seats         int     `json:"seats"`
	Amount        float64 `json:"amount"`
	DestinationID string  `json:"destinationId"`
	LicensePlate  string  `json:"licensePlate"`
}

// BookingVerifiedPayload accompanies booking.verified.
type BookingVerifiedPayload struct {
	BookingID  string `json:"bookingId"`
	VerifiedBy string `json:"verifiedBy"`
}

// TripCreatedPayload accompanies trip.created.
type TripCreatedPayload struct {
	TripID        string `json:"tripId"`
	VehicleID     string `json:"vehicleId"`
	DestinationID string `json:"destinationId"`
	SeatsBooked   int    `json:"seatsBooked"`
}

// StaffAction enumerates staff.updated actions.
type StaffAction string

const (
	StaffCreated       StaffAction = "created"
	StaffModified      StaffAction = "updated"
	StaffStatusToggled StaffAction = "status_toggled"
	StaffDeleted       StaffAction = "deleted"
)

// StaffUpdatedPayload accompanies staff.updated.
type StaffUpdatedPayload struct {
	Action StaffAction `json:"action"`
	Staff  any         `json:"staff"`
}
