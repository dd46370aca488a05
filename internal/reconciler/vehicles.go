// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/metrics"
	"github.com/teskerti/station-node/internal/storage"
)

// InboundDriver is the driver record as central ships it.
type InboundDriver struct {
	ID                  string  `json:"id"`
	CIN                 string  `json:"cin"`
	FirstName           string  `json:"firstName"`
	LastName            string  `json:"lastName"`
	PhoneNumber         string  `json:"phoneNumber"`
	OriginGovernorateID *string `json:"originGovernorateId"`
	OriginDelegationID  *string `json:"originDelegationId"`
	OriginAddress       *string `json:"originAddress"`
	AccountStatus       string  `json:"accountStatus"`
	IsActive            bool    `json:"isActive"`
}

// InboundVehicle is the vehicle record as central ships it.
type InboundVehicle struct {
	ID                 string         `json:"id"`
	LicensePlate       string         `json:"licensePlate"`
	Capacity           int            `json:"capacity"`
	Model              *string        `json:"model"`
	Year               *int           `json:"year"`
	Color              *string        `json:"color"`
	IsActive           bool           `json:"isActive"`
	IsAvailable        bool           `json:"isAvailable"`
	Driver             *InboundDriver `json:"driver"`
	AuthorizedStations []string       `json:"authorizedStations"`
}

// FullSyncPayload is the vehicle_sync_full payload.
type FullSyncPayload struct {
	Vehicles  []InboundVehicle `json:"vehicles"`
	StationID string           `json:"stationId"`
	SyncTime  time.Time        `json:"syncTime"`
	Count     int              `json:"count"`
}

// UpdateSyncPayload is the vehicle_sync_update payload.
type UpdateSyncPayload struct {
	Vehicle   InboundVehicle `json:"vehicle"`
	StationID string         `json:"stationId"`
}

// DeleteSyncPayload is the vehicle_sync_delete payload.
type DeleteSyncPayload struct {
	VehicleID string `json:"vehicleId"`
}

// SyncResult summarises one inbound batch.
type SyncResult struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

func (r *SyncResult) record(outcome string) {
	metrics.SyncRecordsTotal.WithLabelValues(outcome).Inc()
}

// ApplyFullSync applies a full vehicle batch. Vehicles are fanned out over
// the keyed executor so replays for one vehicle stay ordered while distinct
// vehicles apply in parallel. Integrity errors skip the record and continue
// the batch.
func (r *Reconciler) ApplyFullSync(ctx context.Context, payload FullSyncPayload) SyncResult {
	results := make([]syncOutcome, len(payload.Vehicles))
	done := make(chan int, len(payload.Vehicles))

	for i, vehicle := range payload.Vehicles {
		i, vehicle := i, vehicle
		r.exec.submit(vehicle.ID, func() {
			results[i] = r.applyOne(ctx, vehicle)
			done <- i
		})
	}
	for range payload.Vehicles {
		<-done
	}

	var out SyncResult
	for _, res := range results {
		switch {
		case res.err != nil:
			out.Errors = append(out.Errors, res.err.Error())
			out.record("error")
		case res.skipped:
			out.Skipped++
			out.record("skipped")
		default:
			out.Processed++
			out.record("processed")
		}
	}

	r.logger.Info("full vehicle sync applied",
		"total", len(payload.Vehicles),
		"processed", out.Processed,
		"skipped", out.Skipped,
		"errors", len(out.Errors),
	)
	return out
}

// ApplyUpdateSync applies a single-vehicle update. A vehicle whose
// authorization for this station was withdrawn is translated into a delete.
func (r *Reconciler) ApplyUpdateSync(ctx context.Context, payload UpdateSyncPayload) SyncResult {
	resCh := make(chan syncOutcome, 1)
	r.exec.submit(payload.Vehicle.ID, func() {
		if !containsStation(payload.Vehicle.AuthorizedStations, r.stationID) {
			err := r.deleteVehicle(ctx, payload.Vehicle.ID)
			resCh <- syncOutcome{err: err}
			return
		}
		resCh <- r.applyOne(ctx, payload.Vehicle)
	})
	res := <-resCh

	var out SyncResult
	switch {
	case res.err != nil:
		out.Errors = append(out.Errors, res.err.Error())
		out.record("error")
	case res.skipped:
		out.Skipped = 1
		out.record("skipped")
	default:
		out.Processed = 1
		out.record("processed")
	}
	return out
}

// ApplyDeleteSync removes a vehicle and its dependents. A vehicle missing
// locally is a no-op success: the replay already happened.
func (r *Reconciler) ApplyDeleteSync(ctx context.Context, payload DeleteSyncPayload) SyncResult {
	resCh := make(chan error, 1)
	r.exec.submit(payload.VehicleID, func() {
		resCh <- r.deleteVehicle(ctx, payload.VehicleID)
	})

	var out SyncResult
	if err := <-resCh; err != nil {
		out.Errors = append(out.Errors, err.Error())
		out.record("error")
	} else {
		out.Processed = 1
		out.record("processed")
	}
	return out
}

type syncOutcome struct {
	skipped bool
	err     error
}

// applyOne classifies one inbound vehicle against the local store and
// applies it when NEW or CHANGED.
func (r *Reconciler) applyOne(ctx context.Context, inbound InboundVehicle) syncOutcome {
	if inbound.ID == "" || inbound.LicensePlate == "" {
		metrics.StaleInboundTotal.Inc()
		return syncOutcome{err: fmt.Errorf("vehicle record missing id or plate (id=%q)", inbound.ID)}
	}
	if !containsStation(inbound.AuthorizedStations, r.stationID) {
		return syncOutcome{skipped: true}
	}

	var local storage.Vehicle
	err := r.store.DB().WithContext(ctx).
		Preload("Driver").
		Preload("AuthorizedStations").
		First(&local, "id = ?", inbound.ID).Error
	exists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return syncOutcome{err: fmt.Errorf("load vehicle %s: %v", inbound.ID, err)}
	}

	if exists && len(changedFields(&local, inbound, r.stationID)) == 0 {
		return syncOutcome{skipped: true}
	}

	if err := r.upsertVehicle(ctx, inbound); err != nil {
		return syncOutcome{err: err}
	}
	return syncOutcome{}
}

// changedFields computes the set of fields that differ between the local
// record and the inbound one. The ack names them, so this stays an explicit
// field walk rather than a generic diff.
func changedFields(local *storage.Vehicle, inbound InboundVehicle, stationID string) []string {
	var changed []string

	if local.LicensePlate != inbound.LicensePlate {
		changed = append(changed, "licensePlate")
	}
	if local.Capacity != inbound.Capacity {
		changed = append(changed, "capacity")
	}
	if !ptrEq(local.Model, inbound.Model) {
		changed = append(changed, "model")
	}
	if !ptrEq(local.Year, inbound.Year) {
		changed = append(changed, "year")
	}
	if !ptrEq(local.Color, inbound.Color) {
		changed = append(changed, "color")
	}
	if local.IsActive != inbound.IsActive {
		changed = append(changed, "isActive")
	}
	if local.IsAvailable != inbound.IsAvailable {
		changed = append(changed, "isAvailable")
	}

	switch {
	case local.Driver == nil && inbound.Driver != nil,
		local.Driver != nil && inbound.Driver == nil:
		changed = append(changed, "driver")
	case local.Driver != nil && inbound.Driver != nil:
		d, in := local.Driver, inbound.Driver
		if d.CIN != in.CIN {
			changed = append(changed, "driver.cin")
		}
		if d.PhoneNumber != in.PhoneNumber {
			changed = append(changed, "driver.phoneNumber")
		}
		if d.FirstName != in.FirstName {
			changed = append(changed, "driver.firstName")
		}
		if d.LastName != in.LastName {
			changed = append(changed, "driver.lastName")
		}
		if !ptrEq(d.OriginGovernorateID, in.OriginGovernorateID) {
			changed = append(changed, "driver.originGovernorateId")
		}
		if !ptrEq(d.OriginDelegationID, in.OriginDelegationID) {
			changed = append(changed, "driver.originDelegationId")
		}
		if !ptrEq(d.OriginAddress, in.OriginAddress) {
			changed = append(changed, "driver.originAddress")
		}
		if d.AccountStatus != in.AccountStatus {
			changed = append(changed, "driver.accountStatus")
		}
		if d.IsActive != in.IsActive {
			changed = append(changed, "driver.isActive")
		}
	}

	// A vehicle not yet authorized locally gets its join rows rewritten
	// even when every scalar matches.
	if !hasAuthorization(local.AuthorizedStations, stationID) {
		changed = append(changed, "authorizedStations")
	}

	return changed
}

func ptrEq[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func hasAuthorization(rows []storage.AuthorizedStation, stationID string) bool {
	for _, row := range rows {
		if row.StationID == stationID {
			return true
		}
	}
	return false
}

func containsStation(ids []string, stationID string) bool {
	for _, id := range ids {
		if id == stationID {
			return true
		}
	}
	return false
}

// upsertVehicle applies a NEW or CHANGED vehicle in a single transaction:
// vehicle first, then its driver (or driver removal), then an en-bloc
// rewrite of the authorized-station join rows with deterministic IDs.
func (r *Reconciler) upsertVehicle(ctx context.Context, inbound InboundVehicle) error {
	now := r.clk.Now()
	return r.store.Tx(ctx, func(tx *gorm.DB) error {
		vehicle := storage.Vehicle{
			ID:           inbound.ID,
			LicensePlate: inbound.LicensePlate,
			Capacity:     inbound.Capacity,
			Model:        inbound.Model,
			Year:         inbound.Year,
			Color:        inbound.Color,
			IsActive:     inbound.IsActive,
			IsAvailable:  inbound.IsAvailable,
			SyncedAt:     now,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&vehicle).Error; err != nil {
			return fmt.Errorf("upsert vehicle %s: %w", inbound.ID, err)
		}

		if inbound.Driver != nil {
			driver := storage.Driver{
				ID:                  inbound.Driver.ID,
				CIN:                 inbound.Driver.CIN,
				FirstName:           inbound.Driver.FirstName,
				LastName:            inbound.Driver.LastName,
				PhoneNumber:         inbound.Driver.PhoneNumber,
				OriginGovernorateID: inbound.Driver.OriginGovernorateID,
				OriginDelegationID:  inbound.Driver.OriginDelegationID,
				OriginAddress:       inbound.Driver.OriginAddress,
				AccountStatus:       inbound.Driver.AccountStatus,
				IsActive:            inbound.Driver.IsActive,
				VehicleID:           inbound.ID,
				SyncedAt:            now,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&driver).Error; err != nil {
				return fmt.Errorf("upsert driver %s: %w", inbound.Driver.ID, err)
			}
		} else {
			if err := tx.Delete(&storage.Driver{}, "vehicle_id = ?", inbound.ID).Error; err != nil {
				return fmt.Errorf("remove driver of %s: %w", inbound.ID, err)
			}
		}

		if err := tx.Delete(&storage.AuthorizedStation{}, "vehicle_id = ?", inbound.ID).Error; err != nil {
			return fmt.Errorf("clear authorized stations of %s: %w", inbound.ID, err)
		}
		for _, stationID := range inbound.AuthorizedStations {
			row := storage.AuthorizedStation{
				ID:        clock.AuthorizedStationID(inbound.ID, stationID),
				VehicleID: inbound.ID,
				StationID: stationID,
				CreatedAt: now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("write authorized station %s: %w", row.ID, err)
			}
		}
		return nil
	})
}

// deleteVehicle cascades: authorized-station rows, then the driver, then the
// vehicle itself.
func (r *Reconciler) deleteVehicle(ctx context.Context, vehicleID string) error {
	return r.store.Tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Delete(&storage.AuthorizedStation{}, "vehicle_id = ?", vehicleID).Error; err != nil {
			return fmt.Errorf("delete authorized stations of %s: %w", vehicleID, err)
		}
		if err := tx.Delete(&storage.Driver{}, "vehicle_id = ?", vehicleID).Error; err != nil {
			return fmt.Errorf("delete driver of %s: %w", vehicleID, err)
		}
		if err := tx.Delete(&storage.Vehicle{}, "id = ?", vehicleID).Error; err != nil {
			return fmt.Errorf("delete vehicle %s: %w", vehicleID, err)
		}
		return nil
	})
}
