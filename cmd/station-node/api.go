// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/teskerti/station-node/internal/auth"
	"github.com/teskerti/station-node/internal/booking"
	"github.com/teskerti/station-node/internal/centrallink"
	"github.com/teskerti/station-node/internal/fleet"
	"github.com/teskerti/station-node/internal/queue"
	"github.com/teskerti/station-node/internal/staff"
	"github.com/teskerti/station-node/internal/storage"
)

// api is the station-local JSON surface used by the desk application. It
// runs on the LAN only; central never calls it.
type api struct {
	queues   *queue.Service
	bookings *booking.Service
	auth     *auth.Service
	staff    *staff.Service
	fleet    *fleet.Service
	logger   *slog.Logger
}

func registerAPI(mux *http.ServeMux, queues *queue.Service, bookings *booking.Service, authSvc *auth.Service, staffSvc *staff.Service, fleetSvc *fleet.Service, logger *slog.Logger) {
	a := &api{
		queues:   queues,
		bookings: bookings,
		auth:     authSvc,
		staff:    staffSvc,
		fleet:    fleetSvc,
		logger:   logger.With("component", "api"),
	}

	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
	mux.Handle("GET /api/auth/me", a.authed(a.handleMe))
	mux.Handle("POST /api/auth/password", a.authed(a.handleChangePassword))

	mux.Handle("GET /api/queues", a.authed(a.handleListQueues))
	mux.Handle("GET /api/queues/stats", a.authed(a.handleQueueStats))
	mux.Handle("POST /api/queues/enter", a.authed(a.handleQueueEnter))
	mux.Handle("POST /api/queues/exit", a.authed(a.handleQueueExit))
	mux.Handle("POST /api/queues/status", a.authed(a.handleQueueStatus))

	mux.Handle("GET /api/bookings/destinations", a.authed(a.handleDestinations))
	mux.Handle("POST /api/bookings", a.authed(a.handleCreateBooking))
	mux.Handle("POST /api/bookings/verify", a.authed(a.handleVerifyTicket))

	mux.Handle("GET /api/staff", a.authed(a.handleListStaff))
	mux.Handle("POST /api/staff", a.authed(a.handleCreateStaff))
	mux.Handle("PUT /api/staff/{id}", a.authed(a.handleUpdateStaff))
	mux.Handle("POST /api/staff/{id}/toggle", a.authed(a.handleToggleStaff))
	mux.Handle("DELETE /api/staff/{id}", a.authed(a.handleDeleteStaff))

	mux.Handle("POST /api/daypasses", a.authed(a.handleSellDayPass))
	mux.Handle("GET /api/reports/daily", a.authed(a.handleDailyReport))
	mux.Handle("GET /api/reports/transactions", a.authed(a.handleTransactions))

	mux.Handle("GET /api/fleet", a.authed(a.handleListFleet))
	mux.Handle("GET /api/fleet/stats", a.authed(a.handleFleetStats))
	mux.Handle("GET /api/fleet/by-cin/{cin}", a.authed(a.handleFleetByCIN))
	mux.Handle("GET /api/fleet/{id}", a.authed(a.handleFleetByID))
}

// authedHandler receives the verified staff member behind the bearer token.
type authedHandler func(w http.ResponseWriter, r *http.Request, member *storage.Staff)

func (a *api) authed(h authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		member, err := a.auth.VerifyToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h(w, r, member)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, found := strings.CutPrefix(header, "Bearer "); found {
		return after
	}
	return ""
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CIN      string `json:"cin"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	result, err := a.auth.Login(r.Context(), req.CIN, req.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := a.auth.Logout(r.Context(), token); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleMe(w http.ResponseWriter, _ *http.Request, member *storage.Staff) {
	writeJSON(w, http.StatusOK, member)
}

func (a *api) handleChangePassword(w http.ResponseWriter, r *http.Request, member *storage.Staff) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := a.auth.ChangePassword(r.Context(), member.ID, req.CurrentPassword, req.NewPassword); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleListQueues(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	rows, err := a.queues.ListAvailable(r.Context(), r.URL.Query().Get("destination"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *api) handleQueueStats(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	stats, err := a.queues.Stats(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) handleQueueEnter(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	var req struct {
		LicensePlate    string            `json:"licensePlate"`
		DestinationID   string            `json:"destinationId"`
		DestinationName string            `json:"destinationName"`
		QueueType       storage.QueueType `json:"queueType"`
	}
	if !decode(w, r, &req) {
		return
	}
	result, err := a.queues.Enter(r.Context(), queue.EnterRequest{
		LicensePlate:    req.LicensePlate,
		DestinationID:   req.DestinationID,
		DestinationName: req.DestinationName,
		QueueType:       req.QueueType,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *api) handleQueueExit(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	var req struct {
		LicensePlate string `json:"licensePlate"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := a.queues.Exit(r.Context(), req.LicensePlate); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleQueueStatus(w http.ResponseWriter, r *http.Request, member *storage.Staff) {
	var req struct {
		LicensePlate string              `json:"licensePlate"`
		Status       storage.QueueStatus `json:"status"`
		Force        bool                `json:"force"`
	}
	if !decode(w, r, &req) {
		return
	}
	// Forcing READY with seats open is a supervisor call.
	if req.Force && member.Role == storage.RoleWorker {
		writeError(w, http.StatusForbidden, "forcing a status change requires supervisor role")
		return
	}
	if err := a.queues.UpdateStatus(r.Context(), req.LicensePlate, req.Status, req.Force); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleDestinations(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	dests, err := a.bookings.AvailableDestinations(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dests)
}

func (a *api) handleCreateBooking(w http.ResponseWriter, r *http.Request, member *storage.Staff) {
	var req struct {
		DestinationID  string `json:"destinationId"`
		SeatsRequested int    `json:"seatsRequested"`
	}
	if !decode(w, r, &req) {
		return
	}
	result, err := a.bookings.CreateCashBooking(r.Context(), booking.CreateCashRequest{
		DestinationID:  req.DestinationID,
		SeatsRequested: req.SeatsRequested,
		StaffID:        member.ID,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *api) handleVerifyTicket(w http.ResponseWriter, r *http.Request, member *storage.Staff) {
	var req struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}
	verified, err := a.bookings.VerifyTicket(r.Context(), req.Code, member.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verified)
}

func (a *api) handleListStaff(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	members, err := a.staff.List(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (a *api) handleCreateStaff(w http.ResponseWriter, r *http.Request, member *storage.Staff) {
	if !requireAdmin(w, member) {
		return
	}
	var req staff.CreateRequest
	if !decode(w, r, &req) {
		return
	}
	created, err := a.staff.Create(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *api) handleUpdateStaff(w http.ResponseWriter, r *http.Request, member *storage.Staff) {
	if !requireAdmin(w, member) {
		return
	}
	var req staff.UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	updated, err := a.staff.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *api) handleToggleStaff(w http.ResponseWriter, r *http.Request, member *storage.Staff) {
	if !requireAdmin(w, member) {
		return
	}
	toggled, err := a.staff.ToggleStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggled)
}

func (a *api) handleDeleteStaff(w http.ResponseWriter, r *http.Request, member *storage.Staff) {
	if !requireAdmin(w, member) {
		return
	}
	if err := a.staff.Delete(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleSellDayPass(w http.ResponseWriter, r *http.Request, member *storage.Staff) {
	var req struct {
		LicensePlate string  `json:"licensePlate"`
		Price        float64 `json:"price"`
	}
	if !decode(w, r, &req) {
		return
	}
	pass, err := a.staff.SellDayPass(r.Context(), staff.DayPassRequest{
		LicensePlate: req.LicensePlate,
		Price:        req.Price,
		CreatedBy:    member.ID,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pass)
}

func (a *api) handleDailyReport(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	day, ok := dateParam(w, r)
	if !ok {
		return
	}
	report, err := a.staff.Report(r.Context(), day)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) handleTransactions(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	day, ok := dateParam(w, r)
	if !ok {
		return
	}
	bookings, err := a.staff.Transactions(r.Context(), day)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (a *api) handleListFleet(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	vehicles, err := a.fleet.List(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

func (a *api) handleFleetStats(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	stats, err := a.fleet.Summary(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) handleFleetByID(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	vehicle, err := a.fleet.ByID(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

func (a *api) handleFleetByCIN(w http.ResponseWriter, r *http.Request, _ *storage.Staff) {
	vehicle, err := a.fleet.ByDriverCIN(r.Context(), r.PathValue("cin"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// statusHandler is the unauthenticated operator snapshot: link state, queue
// aggregates and roster counts.
func statusHandler(queues *queue.Service, fleetSvc *fleet.Service, link *centrallink.Link, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queueStats, err := queues.Stats(r.Context())
		if err != nil {
			logger.Error("status snapshot failed", "error", err)
			writeError(w, http.StatusInternalServerError, "snapshot failed")
			return
		}
		fleetStats, err := fleetSvc.Summary(r.Context())
		if err != nil {
			logger.Error("status snapshot failed", "error", err)
			writeError(w, http.StatusInternalServerError, "snapshot failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"linkState": link.State(),
			"queues":    queueStats,
			"fleet":     fleetStats,
			"time":      time.Now().UTC(),
		})
	})
}

func requireAdmin(w http.ResponseWriter, member *storage.Staff) bool {
	if member.Role != storage.RoleAdmin && member.Role != storage.RoleSupervisor {
		writeError(w, http.StatusForbidden, "admin role required")
		return false
	}
	return true
}

func dateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Now(), true
	}
	day, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return day, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps sentinel service errors onto HTTP statuses.
func (a *api) writeServiceError(w http.ResponseWriter, err error) {
	var invalid validator.ValidationErrors
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrSessionInvalid),
		errors.Is(err, auth.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrStaffInactive),
		errors.Is(err, auth.ErrWrongPassword):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, queue.ErrVehicleUnknown),
		errors.Is(err, queue.ErrNotInQueue),
		errors.Is(err, booking.ErrUnknownTicket),
		errors.Is(err, staff.ErrStaffNotFound),
		errors.Is(err, fleet.ErrVehicleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrVehicleAlreadyQueued),
		errors.Is(err, queue.ErrIllegalStateTransition),
		errors.Is(err, queue.ErrSeatsRemaining),
		errors.Is(err, queue.ErrOutstandingBookings),
		errors.Is(err, booking.ErrInsufficientSeats),
		errors.Is(err, booking.ErrConcurrentConflict),
		errors.Is(err, booking.ErrAlreadyVerified),
		errors.Is(err, staff.ErrCINTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrVehicleInactive),
		errors.Is(err, queue.ErrVehicleNotAuthorizedHere),
		errors.Is(err, booking.ErrInvalidSeatCount):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		a.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
