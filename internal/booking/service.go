// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package booking implements the atomic cash-booking allocator: a seat
// request is spread greedily across the destination's queue rows inside a
// single transaction, with a compare-and-set per seat decrement so
// concurrent requests can never oversell a vehicle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/eventbus"
	"github.com/teskerti/station-node/internal/metrics"
	"github.com/teskerti/station-node/internal/storage"
)

// Service is the booking allocator.
type Service struct {
	store    *storage.Store
	bus      *eventbus.Bus
	clk      clock.Clock
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates the booking allocator.
func NewService(store *storage.Store, bus *eventbus.Bus, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		bus:      bus,
		clk:      clk,
		validate: validator.New(),
		logger:   logger.With("component", "booking"),
	}
}

// CreateCashRequest is a station-desk cash booking.
type CreateCashRequest struct {
	DestinationID  string `validate:"required"`
	SeatsRequested int    `validate:"required,min=1"`
	StaffID        string `validate:"required"`
}

// CreateCashResult reports the bookings created by one allocation.
type CreateCashResult struct {
	Bookings    []storage.Booking `json:"bookings"`
	TotalAmount float64           `json:"totalAmount"`
	TicketIDs   []string          `json:"ticketIds"`
}

// allocation is one planned take against a queue row.
type allocation struct {
	row   storage.VehicleQueue
	seats int
	price float64
}

// CreateCashBooking distributes the seat request across the destination's
// queues in canonical order (OVERNIGHT first, then by position) and issues
// one booking per touched row. A concurrency conflict is retried once before
// it surfaces to the caller.
func (s *Service) CreateCashBooking(ctx context.Context, req CreateCashRequest) (*CreateCashResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeatCount, err)
	}

	result, err := s.allocate(ctx, req)
	if errors.Is(err, ErrConcurrentConflict) {
		s.logger.Debug("allocation conflict, retrying", "destinationId", req.DestinationID)
		result, err = s.allocate(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	for _, b := range result.Bookings {
		metrics.BookingsTotal.Inc()
		s.bus.Emit(eventbus.BookingCreated, eventbus.BookingCreatedPayload{
			BookingID:     b.ID,
			QueueID:       b.QueueID,
			Seats:         b.SeatsBooked,
			Amount:        b.TotalAmount,
			DestinationID: req.DestinationID,
			LicensePlate:  result.plates[b.QueueID],
		})
	}
	for queueID, seats := range result.seatsAfter {
		s.bus.Emit(eventbus.QueueSeatsChanged, eventbus.QueueSeatsChangedPayload{
			QueueID:        queueID,
			AvailableSeats: seats,
		})
	}
	// trip.created goes out before the READY status change, and both only
	// after the trip row is committed.
	for _, trip := range result.trips {
		s.bus.Emit(eventbus.TripCreated, eventbus.TripCreatedPayload{
			TripID:        trip.ID,
			VehicleID:     trip.VehicleID,
			DestinationID: trip.DestinationID,
			SeatsBooked:   trip.SeatsBooked,
		})
		s.bus.Emit(eventbus.QueueStatusChanged, eventbus.QueueStatusChangedPayload{
			QueueID:   trip.QueueID,
			OldStatus: string(result.oldStatus[trip.QueueID]),
			NewStatus: string(storage.QueueReady),
		})
	}

	s.logger.Info("cash booking created",
		"destinationId", req.DestinationID,
		"seats", req.SeatsRequested,
		"bookings", len(result.Bookings),
		"totalAmount", result.TotalAmount,
	)
	return &result.CreateCashResult, nil
}

type allocationOutcome struct {
	CreateCashResult
	seatsAfter map[string]int
	plates     map[string]string
	oldStatus  map[string]storage.QueueStatus
	trips      []storage.Trip
}

func (s *Service) allocate(ctx context.Context, req CreateCashRequest) (*allocationOutcome, error) {
	out := &allocationOutcome{
		seatsAfter: make(map[string]int),
		plates:     make(map[string]string),
		oldStatus:  make(map[string]storage.QueueStatus),
	}

	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		var rows []storage.VehicleQueue
		if err := storage.CanonicalQueueOrder(
			storage.InService(tx.Model(&storage.VehicleQueue{})).
				Where("destination_id = ?", req.DestinationID),
		).Find(&rows).Error; err != nil {
			return fmt.Errorf("load queue rows for %s: %w", req.DestinationID, err)
		}

		total := 0
		for _, row := range rows {
			total += row.AvailableSeats
		}
		if total < req.SeatsRequested {
			return ErrInsufficientSeats
		}

		routePrice, hasRoute := s.activeRoutePrice(tx, req.DestinationID)

		// Greedy plan along canonical order: earlier positions fill
		// first, OVERNIGHT takes priority.
		remaining := req.SeatsRequested
		var plan []allocation
		for _, row := range rows {
			if remaining == 0 {
				break
			}
			if row.AvailableSeats == 0 {
				continue
			}
			take := min(remaining, row.AvailableSeats)
			price := row.BasePrice
			if hasRoute {
				price = routePrice
			}
			plan = append(plan, allocation{row: row, seats: take, price: price})
			remaining -= take
		}

		now := s.clk.Now()
		for _, alloc := range plan {
			// Re-read the row: a competing transaction may have
			// taken the seats since the plan was made.
			var current storage.VehicleQueue
			if err := tx.First(&current, "id = ?", alloc.row.ID).Error; err != nil {
				return fmt.Errorf("re-read queue row %s: %w", alloc.row.ID, err)
			}
			if current.AvailableSeats < alloc.seats {
				return ErrConcurrentConflict
			}

			b, err := s.insertBooking(tx, alloc, req.StaffID, now)
			if err != nil {
				return err
			}

			affected, err := storage.DecrementSeats(tx, alloc.row.ID, alloc.seats)
			if err != nil {
				return fmt.Errorf("decrement seats on %s: %w", alloc.row.ID, err)
			}
			if affected == 0 {
				return ErrConcurrentConflict
			}

			newSeats := current.AvailableSeats - alloc.seats
			out.seatsAfter[alloc.row.ID] = newSeats
			out.plates[alloc.row.ID] = s.plateFor(tx, alloc.row.VehicleID)
			out.Bookings = append(out.Bookings, *b)
			out.TotalAmount += b.TotalAmount
			out.TicketIDs = append(out.TicketIDs, b.VerificationCode)

			if newSeats == 0 {
				out.oldStatus[alloc.row.ID] = current.Status
				if err := tx.Model(&storage.VehicleQueue{}).
					Where("id = ?", alloc.row.ID).
					Updates(map[string]any{"status": storage.QueueReady, "updated_at": now}).Error; err != nil {
					return fmt.Errorf("mark %s ready: %w", alloc.row.ID, err)
				}
				trip, err := storage.NewTripForQueue(tx, &alloc.row, out.plates[alloc.row.ID], now, clock.NewID())
				if err != nil {
					return err
				}
				out.trips = append(out.trips, *trip)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// insertBooking creates the booking row, regenerating the ticket code on a
// unique-constraint collision.
func (s *Service) insertBooking(tx *gorm.DB, alloc allocation, staffID string, now time.Time) (*storage.Booking, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := newVerificationCode()
		if err != nil {
			return nil, err
		}
		b := storage.Booking{
			ID:               clock.NewID(),
			QueueID:          alloc.row.ID,
			SeatsBooked:      alloc.seats,
			TotalAmount:      float64(alloc.seats) * alloc.price,
			BookingSource:    storage.SourceStation,
			PaymentStatus:    storage.PaymentPaid,
			PaymentMethod:    "CASH",
			VerificationCode: code,
			CreatedBy:        staffID,
			CreatedAt:        now,
		}
		if err := tx.Create(&b).Error; err != nil {
			if storage.IsUniqueViolation(err) {
				continue
			}
			return nil, fmt.Errorf("create booking: %w", err)
		}
		return &b, nil
	}
	return nil, errors.New("exhausted ticket code retries")
}

// activeRoutePrice returns the destination's active route price, if any.
// The route price overrides the per-row base price.
func (s *Service) activeRoutePrice(tx *gorm.DB, destinationID string) (float64, bool) {
	var route storage.Route
	err := tx.Where("station_id = ? AND is_active = ?", destinationID, true).First(&route).Error
	if err != nil {
		return 0, false
	}
	return route.BasePrice, true
}

func (s *Service) plateFor(tx *gorm.DB, vehicleID string) string {
	var vehicle storage.Vehicle
	if err := tx.First(&vehicle, "id = ?", vehicleID).Error; err != nil {
		return ""
	}
	return vehicle.LicensePlate
}

// VerifyTicket marks the booking behind a ticket code as verified, exactly
// once.
func (s *Service) VerifyTicket(ctx context.Context, code, staffID string) (*storage.Booking, error) {
	var verified storage.Booking
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		var b storage.Booking
		if err := tx.Where("verification_code = ?", code).First(&b).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownTicket
			}
			return fmt.Errorf("load booking by code: %w", err)
		}
		if b.IsVerified {
			return ErrAlreadyVerified
		}

		now := s.clk.Now()
		if err := tx.Model(&storage.Booking{}).Where("id = ?", b.ID).Updates(map[string]any{
			"is_verified":    true,
			"verified_at":    now,
			"verified_by_id": staffID,
		}).Error; err != nil {
			return fmt.Errorf("verify booking %s: %w", b.ID, err)
		}

		b.IsVerified = true
		b.VerifiedAt = &now
		b.VerifiedByID = &staffID
		verified = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Emit(eventbus.BookingVerified, eventbus.BookingVerifiedPayload{
		BookingID:  verified.ID,
		VerifiedBy: staffID,
	})
	s.logger.Info("ticket verified", "bookingId", verified.ID, "verifiedBy", staffID)
	return &verified, nil
}

// Destination summarises one destination with open seats.
type Destination struct {
	DestinationID   string  `json:"destinationId"`
	DestinationName string  `json:"destinationName"`
	AvailableSeats  int     `json:"availableSeats"`
	Vehicles        int     `json:"vehicles"`
	Price           float64 `json:"price"`
}

// AvailableDestinations lists destinations that can currently sell seats.
func (s *Service) AvailableDestinations(ctx context.Context) ([]Destination, error) {
	var rows []storage.VehicleQueue
	err := storage.CanonicalQueueOrder(
		storage.InService(s.store.DB().WithContext(ctx).Model(&storage.VehicleQueue{})).
			Where("available_seats > 0"),
	).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}

	byDest := make(map[string]*Destination)
	var order []string
	for _, row := range rows {
		d, ok := byDest[row.DestinationID]
		if !ok {
			price := row.BasePrice
			if p, hasRoute := s.activeRoutePrice(s.store.DB().WithContext(ctx), row.DestinationID); hasRoute {
				price = p
			}
			d = &Destination{
				DestinationID:   row.DestinationID,
				DestinationName: row.DestinationName,
				Price:           price,
			}
			byDest[row.DestinationID] = d
			order = append(order, row.DestinationID)
		}
		d.AvailableSeats += row.AvailableSeats
		d.Vehicles++
	}

	out := make([]Destination, 0, len(order))
	for _, id := range order {
		out = append(out, *byDest[id])
	}
	return out, nil
}
