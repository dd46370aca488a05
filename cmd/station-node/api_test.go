// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teskerti/station-node/internal/auth"
	"github.com/teskerti/station-node/internal/booking"
	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/config"
	"github.com/teskerti/station-node/internal/eventbus"
	"github.com/teskerti/station-node/internal/fleet"
	"github.com/teskerti/station-node/internal/queue"
	"github.com/teskerti/station-node/internal/staff"
	"github.com/teskerti/station-node/internal/storage"
)

const testStation = "st-tunis"

// newTestAPI wires the full route table against a throwaway store and
// returns a logged-in bearer token.
func newTestAPI(t *testing.T) (*http.ServeMux, *storage.Store, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.Open(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := eventbus.New(16, logger)
	t.Cleanup(bus.Close)
	clk := clock.NewFake(time.Now())

	authSvc := auth.NewService(store, nil, clk,
		config.AuthConfig{JWTSecret: "test-secret", TokenTTL: 24 * time.Hour},
		testStation, logger)
	queues := queue.NewService(store, bus, clk, testStation, logger)
	bookings := booking.NewService(store, bus, clk, logger)
	staffSvc := staff.NewService(store, bus, clk, logger)
	fleetSvc := fleet.NewService(store, testStation, logger)

	mux := http.NewServeMux()
	registerAPI(mux, queues, bookings, authSvc, staffSvc, fleetSvc, logger)

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, store.DB().Create(&storage.Staff{
		ID: "staff-1", CIN: "12345678", FirstName: "Amine", LastName: "Trabelsi",
		Role: storage.RoleWorker, Password: hash, IsActive: true,
	}).Error)
	result, err := authSvc.Login(context.Background(), "12345678", "hunter2")
	require.NoError(t, err)
	return mux, store, result.Token
}

func doRequest(mux *http.ServeMux, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestFleetByDriverCINRoute(t *testing.T) {
	mux, store, token := newTestAPI(t)

	require.NoError(t, store.DB().Create(&storage.Vehicle{
		ID: "veh-1", LicensePlate: "100 TU 1000", Capacity: 8, IsActive: true, IsAvailable: true,
	}).Error)
	require.NoError(t, store.DB().Create(&storage.Driver{
		ID: "drv-1", CIN: "99887766", VehicleID: "veh-1", IsActive: true,
	}).Error)

	rec := doRequest(mux, http.MethodGet, "/api/fleet/by-cin/99887766", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "100 TU 1000")

	rec = doRequest(mux, http.MethodGet, "/api/fleet/by-cin/00000000", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(mux, http.MethodGet, "/api/fleet/by-cin/99887766", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
