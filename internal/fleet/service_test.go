// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/storage"
)

const testStation = "st-tunis"

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.Open(filepath.Join(t.TempDir(), "fleet.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, testStation, logger), store
}

func seedVehicle(t *testing.T, store *storage.Store, id, plate string, active, available bool, stations ...string) {
	t.Helper()
	require.NoError(t, store.DB().Create(&storage.Vehicle{
		ID: id, LicensePlate: plate, Capacity: 8, IsActive: active, IsAvailable: available,
	}).Error)
	require.NoError(t, store.DB().Create(&storage.Driver{
		ID: "drv-" + id, CIN: "CIN-" + id, VehicleID: id, IsActive: true,
	}).Error)
	for _, st := range stations {
		require.NoError(t, store.DB().Create(&storage.AuthorizedStation{
			ID: clock.AuthorizedStationID(id, st), VehicleID: id, StationID: st,
		}).Error)
	}
}

func TestListFiltersToThisStation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedVehicle(t, store, "v1", "100 TU 1000", true, true, testStation)
	seedVehicle(t, store, "v2", "200 TU 2000", true, true, "st-other")

	vehicles, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, "v1", vehicles[0].ID)
	require.NotNil(t, vehicles[0].Driver)
	assert.Equal(t, "CIN-v1", vehicles[0].Driver.CIN)
}

func TestByIDAndByDriverCIN(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedVehicle(t, store, "v1", "100 TU 1000", true, true, testStation)

	byID, err := svc.ByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "100 TU 1000", byID.LicensePlate)

	byCIN, err := svc.ByDriverCIN(ctx, "CIN-v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", byCIN.ID)

	_, err = svc.ByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
	_, err = svc.ByDriverCIN(ctx, "CIN-missing")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

func TestSummaryCounts(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedVehicle(t, store, "v1", "100 TU 1000", true, true, testStation)
	seedVehicle(t, store, "v2", "200 TU 2000", true, false, testStation)
	seedVehicle(t, store, "v3", "300 TU 3000", false, false, testStation)
	seedVehicle(t, store, "v4", "400 TU 4000", true, true, "st-other")

	require.NoError(t, store.DB().Create(&storage.VehicleQueue{
		ID: "q1", VehicleID: "v1", DestinationID: "sfax", QueuePosition: 1,
		Status: storage.QueueWaiting, TotalSeats: 8, AvailableSeats: 8, EnteredAt: time.Now(),
	}).Error)

	stats, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 2, stats.Active)
	assert.EqualValues(t, 1, stats.Available)
	assert.EqualValues(t, 1, stats.InQueue)
}
