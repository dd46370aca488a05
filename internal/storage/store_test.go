// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDecrementSeatsConditional(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	row := VehicleQueue{
		ID:             "q1",
		VehicleID:      "v1",
		DestinationID:  "tunis",
		QueuePosition:  1,
		Status:         QueueWaiting,
		TotalSeats:     8,
		AvailableSeats: 8,
		EnteredAt:      time.Now(),
	}
	require.NoError(t, store.DB().Create(&row).Error)

	err := store.Tx(ctx, func(tx *gorm.DB) error {
		affected, err := DecrementSeats(tx, "q1", 5)
		require.NoError(t, err)
		assert.EqualValues(t, 1, affected)
		return nil
	})
	require.NoError(t, err)

	// 3 seats left; taking 5 more must not match the row.
	err = store.Tx(ctx, func(tx *gorm.DB) error {
		affected, err := DecrementSeats(tx, "q1", 5)
		require.NoError(t, err)
		assert.EqualValues(t, 0, affected)
		return nil
	})
	require.NoError(t, err)

	var after VehicleQueue
	require.NoError(t, store.DB().First(&after, "id = ?", "q1").Error)
	assert.Equal(t, 3, after.AvailableSeats)
}

func TestCanonicalQueueOrder(t *testing.T) {
	store := testStore(t)
	now := time.Now()

	rows := []VehicleQueue{
		{ID: "r2", VehicleID: "v2", DestinationID: "sfax", QueueType: QueueTypeRegular, QueuePosition: 2, Status: QueueWaiting, TotalSeats: 8, AvailableSeats: 8, EnteredAt: now},
		{ID: "o1", VehicleID: "v3", DestinationID: "sfax", QueueType: QueueTypeOvernight, QueuePosition: 1, Status: QueueWaiting, TotalSeats: 8, AvailableSeats: 8, EnteredAt: now},
		{ID: "r1", VehicleID: "v1", DestinationID: "sfax", QueueType: QueueTypeRegular, QueuePosition: 1, Status: QueueWaiting, TotalSeats: 8, AvailableSeats: 8, EnteredAt: now},
		{ID: "o2", VehicleID: "v4", DestinationID: "sfax", QueueType: QueueTypeOvernight, QueuePosition: 2, Status: QueueWaiting, TotalSeats: 8, AvailableSeats: 8, EnteredAt: now},
	}
	for i := range rows {
		require.NoError(t, store.DB().Create(&rows[i]).Error)
	}

	var got []VehicleQueue
	require.NoError(t, CanonicalQueueOrder(store.DB().Model(&VehicleQueue{})).Find(&got).Error)

	var ids []string
	for _, row := range got {
		ids = append(ids, row.ID)
	}
	assert.Equal(t, []string{"o1", "o2", "r1", "r2"}, ids)
}

func TestInServiceExcludesDeparted(t *testing.T) {
	store := testStore(t)
	now := time.Now()

	require.NoError(t, store.DB().Create(&VehicleQueue{
		ID: "live", VehicleID: "v1", DestinationID: "tunis", QueuePosition: 1,
		Status: QueueWaiting, TotalSeats: 8, AvailableSeats: 8, EnteredAt: now,
	}).Error)
	require.NoError(t, store.DB().Create(&VehicleQueue{
		ID: "gone", VehicleID: "v2", DestinationID: "tunis", QueuePosition: 1,
		Status: QueueDeparted, TotalSeats: 8, AvailableSeats: 0, EnteredAt: now,
	}).Error)

	var count int64
	require.NoError(t, InService(store.DB().Model(&VehicleQueue{})).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestNewTripForQueueSumsPaidAndPending(t *testing.T) {
	store := testStore(t)
	now := time.Now()

	row := VehicleQueue{
		ID: "q1", VehicleID: "v1", DestinationID: "tunis", DestinationName: "Tunis",
		QueuePosition: 1, Status: QueueLoading, TotalSeats: 8, AvailableSeats: 0, EnteredAt: now,
	}
	require.NoError(t, store.DB().Create(&row).Error)

	bookings := []Booking{
		{ID: "b1", QueueID: "q1", SeatsBooked: 3, TotalAmount: 30, PaymentStatus: PaymentPaid, VerificationCode: "AAA111", CreatedBy: "s1", CreatedAt: now},
		{ID: "b2", QueueID: "q1", SeatsBooked: 4, TotalAmount: 40, PaymentStatus: PaymentPending, VerificationCode: "BBB222", CreatedBy: "s1", CreatedAt: now},
		{ID: "b3", QueueID: "q1", SeatsBooked: 1, TotalAmount: 10, PaymentStatus: PaymentFailed, VerificationCode: "CCC333", CreatedBy: "s1", CreatedAt: now},
	}
	for i := range bookings {
		require.NoError(t, store.DB().Create(&bookings[i]).Error)
	}

	err := store.Tx(context.Background(), func(tx *gorm.DB) error {
		trip, err := NewTripForQueue(tx, &row, "123 TU 4567", now, "trip1")
		require.NoError(t, err)
		assert.Equal(t, 7, trip.SeatsBooked)
		assert.Equal(t, SyncPending, trip.SyncStatus)
		return nil
	})
	require.NoError(t, err)
}
