// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teskerti/station-node/internal/centrallink"
	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/config"
	"github.com/teskerti/station-node/internal/storage"
)

const testStation = "st-tunis"

// fakeUplink records outbound traffic and answers requests from a script.
type fakeUplink struct {
	mu            sync.Mutex
	authenticated bool
	sent          []sentFrame
	requestErr    error
	handlers      map[string][]centrallink.Handler
}

type sentFrame struct {
	msgType string
	payload any
}

func newFakeUplink() *fakeUplink {
	return &fakeUplink{authenticated: true, handlers: make(map[string][]centrallink.Handler)}
}

func (f *fakeUplink) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *fakeUplink) Send(msgType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{msgType: msgType, payload: payload})
	return nil
}

func (f *fakeUplink) Request(_ context.Context, msgType string, payload any) (centrallink.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return centrallink.Frame{}, f.requestErr
	}
	f.sent = append(f.sent, sentFrame{msgType: msgType, payload: payload})
	return centrallink.Frame{Type: msgType + "_ack"}, nil
}

func (f *fakeUplink) RegisterHandler(msgType string, h centrallink.Handler) {
	f.handlers[msgType] = append(f.handlers[msgType], h)
}

func (f *fakeUplink) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, s := range f.sent {
		types = append(types, s.msgType)
	}
	return types
}

func newTestReconciler(t *testing.T) (*Reconciler, *storage.Store, *fakeUplink) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.Open(filepath.Join(t.TempDir(), "rec.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	link := newFakeUplink()
	clk := clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	cfg := config.Defaults().Sync
	cfg.RetryDelayMs = 1

	rec := New(store, link, clk, cfg, testStation, logger)
	t.Cleanup(rec.Close)
	return rec, store, link
}

func inboundVehicle(id, plate string, stations ...string) InboundVehicle {
	return InboundVehicle{
		ID:           id,
		LicensePlate: plate,
		Capacity:     8,
		IsActive:     true,
		IsAvailable:  true,
		Driver: &InboundDriver{
			ID: "drv-" + id, CIN: "CIN-" + id, FirstName: "Ali", LastName: "Ben Salah",
			PhoneNumber: "21600000", AccountStatus: "ACTIVE", IsActive: true,
		},
		AuthorizedStations: stations,
	}
}

func TestFullSyncIsIdempotent(t *testing.T) {
	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()

	payload := FullSyncPayload{
		Vehicles: []InboundVehicle{
			inboundVehicle("v1", "100 TU 1000", testStation),
			inboundVehicle("v2", "200 TU 2000", testStation, "st-other"),
			inboundVehicle("v3", "300 TU 3000", "st-other"), // not ours
		},
	}

	first := rec.ApplyFullSync(ctx, payload)
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 1, first.Skipped)
	assert.Empty(t, first.Errors)

	var vehicles int64
	require.NoError(t, store.DB().Model(&storage.Vehicle{}).Count(&vehicles).Error)
	assert.EqualValues(t, 2, vehicles)

	var v2 storage.Vehicle
	require.NoError(t, store.DB().Preload("Driver").Preload("AuthorizedStations").
		First(&v2, "id = ?", "v2").Error)
	require.NotNil(t, v2.Driver)
	assert.Equal(t, "CIN-v2", v2.Driver.CIN)
	assert.Len(t, v2.AuthorizedStations, 2)

	// Replaying the identical batch changes nothing and processes nothing.
	second := rec.ApplyFullSync(ctx, payload)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 3, second.Skipped)
	assert.Empty(t, second.Errors)
}

func TestFullSyncAppliesChanges(t *testing.T) {
	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()

	v := inboundVehicle("v1", "100 TU 1000", testStation)
	rec.ApplyFullSync(ctx, FullSyncPayload{Vehicles: []InboundVehicle{v}})

	v.Capacity = 12
	v.Driver.PhoneNumber = "21699999"
	result := rec.ApplyFullSync(ctx, FullSyncPayload{Vehicles: []InboundVehicle{v}})
	assert.Equal(t, 1, result.Processed)

	var stored storage.Vehicle
	require.NoError(t, store.DB().Preload("Driver").First(&stored, "id = ?", "v1").Error)
	assert.Equal(t, 12, stored.Capacity)
	assert.Equal(t, "21699999", stored.Driver.PhoneNumber)
}

func TestFullSyncRecordsErrorsAndContinues(t *testing.T) {
	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()

	bad := inboundVehicle("", "", testStation)
	good := inboundVehicle("v1", "100 TU 1000", testStation)

	result := rec.ApplyFullSync(ctx, FullSyncPayload{Vehicles: []InboundVehicle{bad, good}})
	assert.Equal(t, 1, result.Processed)
	require.Len(t, result.Errors, 1)

	var vehicles int64
	require.NoError(t, store.DB().Model(&storage.Vehicle{}).Count(&vehicles).Error)
	assert.EqualValues(t, 1, vehicles)
}

func TestUpdateWithdrawingAuthorizationDeletes(t *testing.T) {
	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()

	v := inboundVehicle("v1", "100 TU 1000", testStation)
	rec.ApplyFullSync(ctx, FullSyncPayload{Vehicles: []InboundVehicle{v}})

	v.AuthorizedStations = []string{"st-other"}
	result := rec.ApplyUpdateSync(ctx, UpdateSyncPayload{Vehicle: v, StationID: testStation})
	assert.Equal(t, 1, result.Processed)

	var vehicles, drivers, auths int64
	require.NoError(t, store.DB().Model(&storage.Vehicle{}).Count(&vehicles).Error)
	require.NoError(t, store.DB().Model(&storage.Driver{}).Count(&drivers).Error)
	require.NoError(t, store.DB().Model(&storage.AuthorizedStation{}).Count(&auths).Error)
	assert.Zero(t, vehicles)
	assert.Zero(t, drivers)
	assert.Zero(t, auths)
}

func TestDeleteCascadesAndToleratesMissing(t *testing.T) {
	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()

	rec.ApplyFullSync(ctx, FullSyncPayload{Vehicles: []InboundVehicle{
		inboundVehicle("v1", "100 TU 1000", testStation),
	}})

	result := rec.ApplyDeleteSync(ctx, DeleteSyncPayload{VehicleID: "v1"})
	assert.Equal(t, 1, result.Processed)
	assert.Empty(t, result.Errors)

	var vehicles int64
	require.NoError(t, store.DB().Model(&storage.Vehicle{}).Count(&vehicles).Error)
	assert.Zero(t, vehicles)

	// Deleting again is a no-op success: the replay already converged.
	again := rec.ApplyDeleteSync(ctx, DeleteSyncPayload{VehicleID: "v1"})
	assert.Equal(t, 1, again.Processed)
	assert.Empty(t, again.Errors)
}

func TestDriverRemovalOnUpdate(t *testing.T) {
	rec, store, _ := newTestReconciler(t)
	ctx := context.Background()

	v := inboundVehicle("v1", "100 TU 1000", testStation)
	rec.ApplyFullSync(ctx, FullSyncPayload{Vehicles: []InboundVehicle{v}})

	v.Driver = nil
	result := rec.ApplyUpdateSync(ctx, UpdateSyncPayload{Vehicle: v, StationID: testStation})
	assert.Equal(t, 1, result.Processed)

	var drivers int64
	require.NoError(t, store.DB().Model(&storage.Driver{}).Count(&drivers).Error)
	assert.Zero(t, drivers)
}

func TestInboundHandlerAcksWithMessageID(t *testing.T) {
	_, _, link := newTestReconciler(t)

	handlers := link.handlers[centrallink.MsgVehicleSyncFull]
	require.Len(t, handlers, 1)

	frame := centrallink.Frame{
		Type:      centrallink.MsgVehicleSyncFull,
		MessageID: "vehicle_sync_full_123_456",
		Payload:   []byte(`{"vehicles":[],"stationId":"st-tunis","count":0}`),
	}
	handlers[0](context.Background(), frame)

	require.Len(t, link.sent, 1)
	ack, ok := link.sent[0].payload.(centrallink.VehicleSyncAckPayload)
	require.True(t, ok)
	assert.Equal(t, centrallink.MsgVehicleSyncAck, link.sent[0].msgType)
	assert.Equal(t, "vehicle_sync_full_123_456", ack.MessageID)
	assert.True(t, ack.Success)
	assert.Equal(t, testStation, ack.StationID)
}

func TestDrainTripsMarksSynced(t *testing.T) {
	rec, store, link := newTestReconciler(t)
	ctx := context.Background()

	trip := storage.Trip{
		ID: "t1", VehicleID: "v1", LicensePlate: "100 TU 1000",
		DestinationID: "sfax", QueueID: "q1", SeatsBooked: 8,
		StartTime: time.Now(), SyncStatus: storage.SyncPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.DB().Create(&trip).Error)

	shipped := rec.DrainTrips(ctx)
	assert.Equal(t, 1, shipped)
	assert.Equal(t, []string{centrallink.MsgTripSync}, link.sentTypes())

	var after storage.Trip
	require.NoError(t, store.DB().First(&after, "id = ?", "t1").Error)
	assert.Equal(t, storage.SyncSynced, after.SyncStatus)
	require.NotNil(t, after.SyncedAt)
}

func TestDrainTripsSkipsWhenDisconnected(t *testing.T) {
	rec, store, link := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, store.DB().Create(&storage.Trip{
		ID: "t1", VehicleID: "v1", DestinationID: "sfax", QueueID: "q1",
		StartTime: time.Now(), SyncStatus: storage.SyncPending, CreatedAt: time.Now(),
	}).Error)
	link.authenticated = false

	assert.Zero(t, rec.DrainTrips(ctx))

	var after storage.Trip
	require.NoError(t, store.DB().First(&after, "id = ?", "t1").Error)
	assert.Equal(t, storage.SyncPending, after.SyncStatus, "trip stays pending for the next pass")
}

func TestDrainTripsFailsAfterRetryBudget(t *testing.T) {
	rec, store, link := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, store.DB().Create(&storage.Trip{
		ID: "t1", VehicleID: "v1", DestinationID: "sfax", QueueID: "q1",
		StartTime: time.Now(), SyncStatus: storage.SyncPending, CreatedAt: time.Now(),
	}).Error)
	link.requestErr = errors.New("central exploded")

	shipped := rec.DrainTrips(ctx)
	assert.Zero(t, shipped)

	var after storage.Trip
	require.NoError(t, store.DB().First(&after, "id = ?", "t1").Error)
	assert.Equal(t, storage.SyncFailed, after.SyncStatus)
	assert.Equal(t, rec.sync.MaxSyncRetryAttempts, after.SyncRetries)
}

func TestKeyedExecutorSerializesPerKey(t *testing.T) {
	exec := newKeyedExecutor(4)
	defer exec.close()

	const jobs = 50
	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, jobs)

	for i := 0; i < jobs; i++ {
		i := i
		exec.submit("same-key", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			done <- struct{}{}
		})
	}
	for i := 0; i < jobs; i++ {
		<-done
	}

	for i := 0; i < jobs; i++ {
		assert.Equal(t, i, order[i], "submission order must be preserved per key")
	}
}
