// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue maintains the per-destination ordered vehicle queues and
// their WAITING -> LOADING -> READY -> DEPARTED lifecycle.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/eventbus"
	"github.com/teskerti/station-node/internal/storage"
)

// Service is the queue engine.
type Service struct {
	store     *storage.Store
	bus       *eventbus.Bus
	clk       clock.Clock
	stationID string
	logger    *slog.Logger
}

// NewService creates the queue engine.
func NewService(store *storage.Store, bus *eventbus.Bus, clk clock.Clock, stationID string, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		bus:       bus,
		clk:       clk,
		stationID: stationID,
		logger:    logger.With("component", "queue"),
	}
}

// EnterRequest asks to join the queue for a destination. Destination
// resolution happens in the client layer; the engine takes it as input.
type EnterRequest struct {
	LicensePlate    string
	DestinationID   string
	DestinationName string
	QueueType       storage.QueueType
}

// EnterResult reports the created queue row.
type EnterResult struct {
	QueueID       string `json:"queueId"`
	DestinationID string `json:"destinationId"`
	Position      int    `json:"position"`
}

// Enter inserts a WAITING row at the tail of the destination's queue.
func (s *Service) Enter(ctx context.Context, req EnterRequest) (*EnterResult, error) {
	if req.QueueType == "" {
		req.QueueType = storage.QueueTypeRegular
	}

	var (
		result    EnterResult
		vehicleID string
	)
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		var vehicle storage.Vehicle
		if err := tx.Where("license_plate = ?", req.LicensePlate).First(&vehicle).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVehicleUnknown
			}
			return fmt.Errorf("load vehicle %s: %w", req.LicensePlate, err)
		}
		if !vehicle.IsActive {
			return ErrVehicleInactive
		}

		var authorized int64
		if err := tx.Model(&storage.AuthorizedStation{}).
			Where("vehicle_id = ? AND station_id = ?", vehicle.ID, s.stationID).
			Count(&authorized).Error; err != nil {
			return fmt.Errorf("check authorization: %w", err)
		}
		if authorized == 0 {
			return ErrVehicleNotAuthorizedHere
		}

		var queued int64
		if err := storage.InService(tx.Model(&storage.VehicleQueue{})).
			Where("vehicle_id = ?", vehicle.ID).
			Count(&queued).Error; err != nil {
			return fmt.Errorf("check existing queue row: %w", err)
		}
		if queued > 0 {
			return ErrVehicleAlreadyQueued
		}

		var maxPos int64
		if err := storage.InService(tx.Model(&storage.VehicleQueue{})).
			Where("destination_id = ?", req.DestinationID).
			Select("COALESCE(MAX(queue_position), 0)").
			Scan(&maxPos).Error; err != nil {
			return fmt.Errorf("max position for %s: %w", req.DestinationID, err)
		}

		basePrice, destName := s.resolveRoute(tx, req.DestinationID)
		if req.DestinationName != "" {
			destName = req.DestinationName
		}

		now := s.clk.Now()
		row := storage.VehicleQueue{
			ID:              clock.NewID(),
			VehicleID:       vehicle.ID,
			DestinationID:   req.DestinationID,
			DestinationName: destName,
			QueueType:       req.QueueType,
			QueuePosition:   int(maxPos) + 1,
			Status:          storage.QueueWaiting,
			TotalSeats:      vehicle.Capacity,
			AvailableSeats:  vehicle.Capacity,
			BasePrice:       basePrice,
			EnteredAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create queue row: %w", err)
		}

		vehicleID = vehicle.ID
		result = EnterResult{
			QueueID:       row.ID,
			DestinationID: row.DestinationID,
			Position:      row.QueuePosition,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Emit(eventbus.QueueEntered, eventbus.QueueEnteredPayload{
		QueueID:       result.QueueID,
		VehicleID:     vehicleID,
		DestinationID: result.DestinationID,
		Position:      result.Position,
	})
	s.logger.Info("vehicle entered queue",
		"licensePlate", req.LicensePlate,
		"destinationId", result.DestinationID,
		"position", result.Position,
	)
	return &result, nil
}

// resolveRoute returns the active route's base price and name for the
// destination, or zero values when no route is known locally.
func (s *Service) resolveRoute(tx *gorm.DB, destinationID string) (float64, string) {
	var route storage.Route
	err := tx.Where("station_id = ? AND is_active = ?", destinationID, true).First(&route).Error
	if err != nil {
		return 0, ""
	}
	return route.BasePrice, route.Name
}

// Exit removes the vehicle's in-service queue row and compacts positions at
// that destination. Rows with unverified bookings are refused; the bookings
// must be cancelled through their own path first.
func (s *Service) Exit(ctx context.Context, licensePlate string) error {
	var exited eventbus.QueueExitedPayload
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		row, err := s.rowByPlate(tx, licensePlate)
		if err != nil {
			return err
		}

		var unverified int64
		if err := tx.Model(&storage.Booking{}).
			Where("queue_id = ? AND is_verified = ?", row.ID, false).
			Count(&unverified).Error; err != nil {
			return fmt.Errorf("count unverified bookings: %w", err)
		}
		if unverified > 0 {
			return ErrOutstandingBookings
		}

		if err := tx.Delete(&storage.VehicleQueue{}, "id = ?", row.ID).Error; err != nil {
			return fmt.Errorf("delete queue row %s: %w", row.ID, err)
		}

		// Close the position gap left behind.
		if err := storage.InService(tx.Model(&storage.VehicleQueue{})).
			Where("destination_id = ? AND queue_position > ?", row.DestinationID, row.QueuePosition).
			UpdateColumn("queue_position", gorm.Expr("queue_position - 1")).Error; err != nil {
			return fmt.Errorf("compact positions at %s: %w", row.DestinationID, err)
		}

		exited = eventbus.QueueExitedPayload{
			QueueID:       row.ID,
			VehicleID:     row.VehicleID,
			DestinationID: row.DestinationID,
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Emit(eventbus.QueueExited, exited)
	s.logger.Info("vehicle exited queue",
		"licensePlate", licensePlate,
		"destinationId", exited.DestinationID,
	)
	return nil
}

// legalTransitions is the queue state transition table. WAITING -> READY is
// handled separately because it is conditional on seat exhaustion.
var legalTransitions = map[storage.QueueStatus]storage.QueueStatus{
	storage.QueueWaiting: storage.QueueLoading,
	storage.QueueLoading: storage.QueueReady,
	storage.QueueReady:   storage.QueueDeparted,
}

// UpdateStatus applies a status transition to the vehicle's queue row.
// force permits READY with seats remaining; the cash path never sets it.
func (s *Service) UpdateStatus(ctx context.Context, licensePlate string, newStatus storage.QueueStatus, force bool) error {
	var (
		change  eventbus.QueueStatusChangedPayload
		tripOut *eventbus.TripCreatedPayload
	)
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		row, err := s.rowByPlate(tx, licensePlate)
		if err != nil {
			return err
		}

		if !transitionAllowed(row.Status, newStatus, row.AvailableSeats) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalStateTransition, row.Status, newStatus)
		}
		if newStatus == storage.QueueReady && row.AvailableSeats > 0 && !force {
			return ErrSeatsRemaining
		}

		oldStatus := row.Status
		updates := map[string]any{
			"status":     newStatus,
			"updated_at": s.clk.Now(),
		}
		if newStatus == storage.QueueReady && force {
			updates["available_seats"] = 0
		}
		if err := tx.Model(&storage.VehicleQueue{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update status of %s: %w", row.ID, err)
		}

		// A departed row leaves the in-service sequence; close the position
		// gap so the survivors stay contiguous 1..N, same as Exit.
		if newStatus == storage.QueueDeparted {
			if err := storage.InService(tx.Model(&storage.VehicleQueue{})).
				Where("destination_id = ? AND queue_position > ?", row.DestinationID, row.QueuePosition).
				UpdateColumn("queue_position", gorm.Expr("queue_position - 1")).Error; err != nil {
				return fmt.Errorf("compact positions at %s: %w", row.DestinationID, err)
			}
		}

		if newStatus == storage.QueueReady {
			trip, err := storage.NewTripForQueue(tx, row, licensePlate, s.clk.Now(), clock.NewID())
			if err != nil {
				return err
			}
			tripOut = &eventbus.TripCreatedPayload{
				TripID:        trip.ID,
				VehicleID:     trip.VehicleID,
				DestinationID: trip.DestinationID,
				SeatsBooked:   trip.SeatsBooked,
			}
		}

		change = eventbus.QueueStatusChangedPayload{
			QueueID:   row.ID,
			OldStatus: string(oldStatus),
			NewStatus: string(newStatus),
		}
		return nil
	})
	if err != nil {
		return err
	}

	// statusChanged to READY goes out strictly after the trip row is
	// persisted; both are post-commit here.
	if tripOut != nil {
		s.bus.Emit(eventbus.TripCreated, *tripOut)
	}
	s.bus.Emit(eventbus.QueueStatusChanged, change)
	s.logger.Info("queue status changed",
		"licensePlate", licensePlate,
		"from", change.OldStatus,
		"to", change.NewStatus,
	)
	return nil
}

func transitionAllowed(from, to storage.QueueStatus, availableSeats int) bool {
	if legalTransitions[from] == to {
		return true
	}
	// A WAITING row whose seats sold out without passing through LOADING
	// may jump straight to READY.
	return from == storage.QueueWaiting && to == storage.QueueReady && availableSeats == 0
}

// ListAvailable returns in-service rows with open seats in canonical order.
// An empty destinationID lists every destination.
func (s *Service) ListAvailable(ctx context.Context, destinationID string) ([]storage.VehicleQueue, error) {
	q := storage.InService(s.store.DB().WithContext(ctx).Model(&storage.VehicleQueue{})).
		Where("available_seats > 0")
	if destinationID != "" {
		q = q.Where("destination_id = ?", destinationID)
	}

	var rows []storage.VehicleQueue
	if err := storage.CanonicalQueueOrder(q).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list available queues: %w", err)
	}
	return rows, nil
}

// DestinationStats aggregates one destination's in-service rows.
type DestinationStats struct {
	DestinationID   string `json:"destinationId"`
	DestinationName string `json:"destinationName"`
	Vehicles        int    `json:"vehicles"`
	Waiting         int    `json:"waiting"`
	Loading         int    `json:"loading"`
	Ready           int    `json:"ready"`
	AvailableSeats  int    `json:"availableSeats"`
}

// Stats summarises the in-service queues.
type Stats struct {
	PerDestination []DestinationStats `json:"perDestination"`
	TotalVehicles  int                `json:"totalVehicles"`
	TotalSeats     int                `json:"totalSeats"`
}

// Stats aggregates queue state per destination and globally.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var rows []storage.VehicleQueue
	if err := storage.InService(s.store.DB().WithContext(ctx).Model(&storage.VehicleQueue{})).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load queue rows: %w", err)
	}

	byDest := make(map[string]*DestinationStats)
	var order []string
	out := &Stats{}
	for _, row := range rows {
		ds, ok := byDest[row.DestinationID]
		if !ok {
			ds = &DestinationStats{DestinationID: row.DestinationID, DestinationName: row.DestinationName}
			byDest[row.DestinationID] = ds
			order = append(order, row.DestinationID)
		}
		ds.Vehicles++
		ds.AvailableSeats += row.AvailableSeats
		switch row.Status {
		case storage.QueueWaiting:
			ds.Waiting++
		case storage.QueueLoading:
			ds.Loading++
		case storage.QueueReady:
			ds.Ready++
		}
		out.TotalVehicles++
		out.TotalSeats += row.AvailableSeats
	}
	for _, id := range order {
		out.PerDestination = append(out.PerDestination, *byDest[id])
	}
	return out, nil
}

// rowByPlate loads the vehicle's single in-service queue row.
func (s *Service) rowByPlate(tx *gorm.DB, licensePlate string) (*storage.VehicleQueue, error) {
	var vehicle storage.Vehicle
	if err := tx.Where("license_plate = ?", licensePlate).First(&vehicle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVehicleUnknown
		}
		return nil, fmt.Errorf("load vehicle %s: %w", licensePlate, err)
	}

	var row storage.VehicleQueue
	err := storage.InService(tx.Where("vehicle_id = ?", vehicle.ID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotInQueue
		}
		return nil, fmt.Errorf("load queue row for %s: %w", licensePlate, err)
	}
	return &row, nil
}
