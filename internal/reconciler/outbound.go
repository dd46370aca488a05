// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/teskerti/station-node/internal/centrallink"
	"github.com/teskerti/station-node/internal/metrics"
	"github.com/teskerti/station-node/internal/storage"
)

// TripSyncPayload ships one locally created trip to central.
type TripSyncPayload struct {
	TripID          string    `json:"tripId"`
	VehicleID       string    `json:"vehicleId"`
	LicensePlate    string    `json:"licensePlate"`
	DestinationID   string    `json:"destinationId"`
	DestinationName string    `json:"destinationName"`
	QueueID         string    `json:"queueId"`
	SeatsBooked     int       `json:"seatsBooked"`
	StartTime       time.Time `json:"startTime"`
	StationID       string    `json:"stationId"`
}

// drainLoop pushes pending trips to central on a fixed period until the
// context ends.
func (r *Reconciler) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(r.sync.TripInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.DrainTrips(ctx)
		}
	}
}

// DrainTrips ships one batch of PENDING trips. A drain pass without an
// authenticated session is a no-op; the trips stay PENDING and the next tick
// picks them up. Returns the number of trips shipped.
func (r *Reconciler) DrainTrips(ctx context.Context) int {
	if !r.link.Authenticated() {
		return 0
	}

	var trips []storage.Trip
	err := r.store.DB().WithContext(ctx).
		Where("sync_status = ?", storage.SyncPending).
		Order("created_at ASC").
		Limit(r.sync.BatchSize).
		Find(&trips).Error
	if err != nil {
		r.logger.Error("loading pending trips failed", "error", err)
		return 0
	}
	if len(trips) == 0 {
		return 0
	}

	shipped := 0
	for i := range trips {
		if ctx.Err() != nil {
			return shipped
		}
		if r.shipTrip(ctx, &trips[i]) {
			shipped++
		}
	}
	r.logger.Info("trip drain pass complete", "pending", len(trips), "shipped", shipped)
	return shipped
}

// shipTrip ships one trip with bounded retries. An acked trip becomes
// SYNCED; a trip that exhausts its retry budget becomes FAILED and is left
// for manual inspection.
func (r *Reconciler) shipTrip(ctx context.Context, trip *storage.Trip) bool {
	payload := TripSyncPayload{
		TripID:          trip.ID,
		VehicleID:       trip.VehicleID,
		LicensePlate:    trip.LicensePlate,
		DestinationID:   trip.DestinationID,
		DestinationName: trip.DestinationName,
		QueueID:         trip.QueueID,
		SeatsBooked:     trip.SeatsBooked,
		StartTime:       trip.StartTime,
		StationID:       r.stationID,
	}

	var lastErr error
	retries := trip.SyncRetries
	for retries < r.sync.MaxSyncRetryAttempts {
		_, err := r.link.Request(ctx, centrallink.MsgTripSync, payload)
		if err == nil {
			now := r.clk.Now()
			updates := map[string]any{
				"sync_status": storage.SyncSynced,
				"synced_at":   &now,
			}
			if dbErr := r.store.DB().WithContext(ctx).Model(trip).Updates(updates).Error; dbErr != nil {
				r.logger.Error("marking trip synced failed", "tripId", trip.ID, "error", dbErr)
				return false
			}
			metrics.TripsDrainedTotal.WithLabelValues("synced").Inc()
			return true
		}

		lastErr = err
		retries++
		// Session loss fails every remaining trip too; stop the pass
		// instead of burning their retry budgets.
		if errors.Is(err, centrallink.ErrNotConnected) || ctx.Err() != nil {
			break
		}
		r.logger.Warn("trip sync attempt failed",
			"tripId", trip.ID,
			"attempt", retries,
			"error", err,
		)
		if retries >= r.sync.MaxSyncRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.sync.RetryDelay()):
		}
	}

	status := storage.SyncPending
	if retries >= r.sync.MaxSyncRetryAttempts {
		status = storage.SyncFailed
		metrics.TripsDrainedTotal.WithLabelValues("failed").Inc()
		r.logger.Error("trip sync exhausted retries",
			"tripId", trip.ID,
			"retries", retries,
			"error", lastErr,
		)
	}
	if err := r.store.DB().WithContext(ctx).Model(trip).Updates(map[string]any{
		"sync_status":  status,
		"sync_retries": retries,
	}).Error; err != nil {
		r.logger.Error("recording trip sync failure failed", "tripId", trip.ID, "error", err)
	}
	return false
}
