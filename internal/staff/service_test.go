// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package staff

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/eventbus"
	"github.com/teskerti/station-node/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Store, *clock.Fake) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.Open(filepath.Join(t.TempDir(), "staff.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := eventbus.New(16, logger)
	t.Cleanup(bus.Close)

	clk := clock.NewFake(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	return NewService(store, bus, clk, logger), store, clk
}

func TestCreateStaffDefaultPasswordIsCIN(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	member, err := svc.Create(ctx, CreateRequest{
		CIN: "12345678", FirstName: "Amine", LastName: "Trabelsi", Role: storage.RoleWorker,
	})
	require.NoError(t, err)
	assert.True(t, member.IsActive)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(member.Password), []byte("12345678")))

	_, err = svc.Create(ctx, CreateRequest{
		CIN: "12345678", FirstName: "Other", LastName: "Person", Role: storage.RoleWorker,
	})
	assert.ErrorIs(t, err, ErrCINTaken)
}

func TestCreateStaffValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cin  string
		role storage.StaffRole
	}{
		{"short CIN", "123", storage.RoleWorker},
		{"long CIN", "123456789", storage.RoleWorker},
		{"non-numeric CIN", "1234ABCD", storage.RoleWorker},
		{"unknown role", "12345678", "JANITOR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, CreateRequest{
				CIN: tc.cin, FirstName: "A", LastName: "B", Role: tc.role,
			})
			assert.Error(t, err)
		})
	}
}

func TestUpdateStaffPartial(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	member, err := svc.Create(ctx, CreateRequest{
		CIN: "12345678", FirstName: "Amine", LastName: "Trabelsi", Role: storage.RoleWorker,
	})
	require.NoError(t, err)

	role := storage.RoleSupervisor
	updated, err := svc.Update(ctx, member.ID, UpdateRequest{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, storage.RoleSupervisor, updated.Role)
	assert.Equal(t, "Amine", updated.FirstName, "unset fields untouched")

	_, err = svc.Update(ctx, "missing", UpdateRequest{Role: &role})
	assert.ErrorIs(t, err, ErrStaffNotFound)
}

func TestToggleStatusKillsSessions(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	member, err := svc.Create(ctx, CreateRequest{
		CIN: "12345678", FirstName: "Amine", LastName: "Trabelsi", Role: storage.RoleWorker,
	})
	require.NoError(t, err)
	require.NoError(t, store.DB().Create(&storage.Session{
		ID: "sess1", StaffID: member.ID, Token: "tok1", IsActive: true,
		ExpiresAt: time.Now().Add(time.Hour),
	}).Error)

	toggled, err := svc.ToggleStatus(ctx, member.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)

	var session storage.Session
	require.NoError(t, store.DB().First(&session, "id = ?", "sess1").Error)
	assert.False(t, session.IsActive, "deactivation invalidates open sessions")

	back, err := svc.ToggleStatus(ctx, member.ID)
	require.NoError(t, err)
	assert.True(t, back.IsActive)
}

func TestDeleteStaff(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	member, err := svc.Create(ctx, CreateRequest{
		CIN: "12345678", FirstName: "Amine", LastName: "Trabelsi", Role: storage.RoleWorker,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, member.ID))
	assert.ErrorIs(t, svc.Delete(ctx, member.ID), ErrStaffNotFound)

	members, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestSellDayPassAndReport(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	day := clk.Now()

	_, err := svc.SellDayPass(ctx, DayPassRequest{LicensePlate: "100 TU 1000", Price: 5, CreatedBy: "s1"})
	require.NoError(t, err)
	_, err = svc.SellDayPass(ctx, DayPassRequest{LicensePlate: "200 TU 2000", Price: 5, CreatedBy: "s1"})
	require.NoError(t, err)

	bookings := []storage.Booking{
		{ID: "b1", QueueID: "q1", SeatsBooked: 3, TotalAmount: 30, PaymentStatus: storage.PaymentPaid, VerificationCode: "AAA111", CreatedBy: "s1", CreatedAt: day},
		{ID: "b2", QueueID: "q1", SeatsBooked: 2, TotalAmount: 20, PaymentStatus: storage.PaymentPaid, VerificationCode: "BBB222", CreatedBy: "s1", CreatedAt: day.Add(2 * time.Hour)},
		{ID: "b3", QueueID: "q2", SeatsBooked: 1, TotalAmount: 10, PaymentStatus: storage.PaymentFailed, VerificationCode: "CCC333", CreatedBy: "s1", CreatedAt: day},
		{ID: "old", QueueID: "q1", SeatsBooked: 4, TotalAmount: 40, PaymentStatus: storage.PaymentPaid, VerificationCode: "DDD444", CreatedBy: "s1", CreatedAt: day.Add(-48 * time.Hour)},
	}
	for i := range bookings {
		require.NoError(t, store.DB().Create(&bookings[i]).Error)
	}
	require.NoError(t, store.DB().Create(&storage.Trip{
		ID: "t1", VehicleID: "v1", DestinationID: "sfax", QueueID: "q1",
		StartTime: day.Add(3 * time.Hour), SyncStatus: storage.SyncPending, CreatedAt: day,
	}).Error)

	report, err := svc.Report(ctx, day)
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.BookingCount, "failed payments excluded")
	assert.EqualValues(t, 5, report.SeatsSold)
	assert.InDelta(t, 50, report.BookingRevenue, 0.001)
	assert.EqualValues(t, 2, report.DayPassCount)
	assert.InDelta(t, 10, report.DayPassRevenue, 0.001)
	assert.InDelta(t, 60, report.TotalRevenue, 0.001)
	assert.EqualValues(t, 1, report.TripsDispatched)

	transactions, err := svc.Transactions(ctx, day)
	require.NoError(t, err)
	assert.Len(t, transactions, 3, "all of today's bookings regardless of payment status")
	assert.Equal(t, "b2", transactions[0].ID, "newest first")
}
