// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleet exposes read access to the centrally owned vehicle roster.
// All writes go through the reconciler.
package fleet

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/teskerti/station-node/internal/storage"
)

// ErrVehicleNotFound is returned for lookups that match nothing.
var ErrVehicleNotFound = errors.New("vehicle not found")

// Service is the fleet read model.
type Service struct {
	store     *storage.Store
	stationID string
	logger    *slog.Logger
}

// NewService builds the fleet service.
func NewService(store *storage.Store, stationID string, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		stationID: stationID,
		logger:    logger.With("component", "fleet"),
	}
}

// List returns every vehicle authorized at this station with driver and
// authorization rows preloaded.
func (s *Service) List(ctx context.Context) ([]storage.Vehicle, error) {
	var vehicles []storage.Vehicle
	err := s.store.DB().WithContext(ctx).
		Preload("Driver").
		Preload("AuthorizedStations").
		Joins("JOIN authorized_stations ON authorized_stations.vehicle_id = vehicles.id AND authorized_stations.station_id = ?", s.stationID).
		Order("license_plate ASC").
		Find(&vehicles).Error
	return vehicles, err
}

// ByID loads one vehicle.
func (s *Service) ByID(ctx context.Context, vehicleID string) (*storage.Vehicle, error) {
	var vehicle storage.Vehicle
	err := s.store.DB().WithContext(ctx).
		Preload("Driver").
		Preload("AuthorizedStations").
		First(&vehicle, "id = ?", vehicleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVehicleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// ByDriverCIN finds the vehicle assigned to a driver.
func (s *Service) ByDriverCIN(ctx context.Context, cin string) (*storage.Vehicle, error) {
	var driver storage.Driver
	err := s.store.DB().WithContext(ctx).First(&driver, "cin = ?", cin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVehicleNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.ByID(ctx, driver.VehicleID)
}

// Stats summarizes the local roster.
type Stats struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Available int64 `json:"available"`
	InQueue   int64 `json:"inQueue"`
}

// Summary computes roster counts for this station.
func (s *Service) Summary(ctx context.Context) (*Stats, error) {
	db := s.store.DB().WithContext(ctx)
	authorized := db.Model(&storage.Vehicle{}).
		Joins("JOIN authorized_stations ON authorized_stations.vehicle_id = vehicles.id AND authorized_stations.station_id = ?", s.stationID)

	var stats Stats
	if err := authorized.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := authorized.Session(&gorm.Session{}).Where("vehicles.is_active = ?", true).Count(&stats.Active).Error; err != nil {
		return nil, err
	}
	if err := authorized.Session(&gorm.Session{}).Where("vehicles.is_active = ? AND vehicles.is_available = ?", true, true).Count(&stats.Available).Error; err != nil {
		return nil, err
	}
	err := db.Model(&storage.VehicleQueue{}).
		Scopes(func(tx *gorm.DB) *gorm.DB { return storage.InService(tx) }).
		Distinct("vehicle_id").
		Count(&stats.InQueue).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
