// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconciler keeps the local store converged with central: it
// applies inbound vehicle sync messages idempotently and drains locally
// created trips outbound. Inbound replays are safe; a full sync applied
// twice changes nothing the second time.
package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/teskerti/station-node/internal/centrallink"
	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/config"
	"github.com/teskerti/station-node/internal/storage"
)

// Uplink is the slice of the central link the reconciler needs.
type Uplink interface {
	Authenticated() bool
	Send(msgType string, payload any) error
	Request(ctx context.Context, msgType string, payload any) (centrallink.Frame, error)
	RegisterHandler(msgType string, h centrallink.Handler)
}

// Reconciler converges local state with central.
type Reconciler struct {
	store     *storage.Store
	link      Uplink
	clk       clock.Clock
	sync      config.SyncConfig
	stationID string
	logger    *slog.Logger

	exec *keyedExecutor

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a reconciler and registers its inbound handlers on the link.
// Call Start to begin the outbound drain.
func New(store *storage.Store, link Uplink, clk clock.Clock, syncCfg config.SyncConfig, stationID string, logger *slog.Logger) *Reconciler {
	r := &Reconciler{
		store:     store,
		link:      link,
		clk:       clk,
		sync:      syncCfg,
		stationID: stationID,
		logger:    logger.With("component", "reconciler"),
		exec:      newKeyedExecutor(4),
	}

	link.RegisterHandler(centrallink.MsgVehicleSyncFull, r.handleFullSync)
	link.RegisterHandler(centrallink.MsgVehicleSyncUpdate, r.handleUpdateSync)
	link.RegisterHandler(centrallink.MsgVehicleSyncDelete, r.handleDeleteSync)

	return r
}

// Start launches the outbound trip drain loop. It returns when ctx ends.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.drainLoop(ctx)
	}()
}

// Close drains in-flight inbound work and waits for the drain loop. The
// caller cancels the Start context first.
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() {
		r.exec.close()
	})
	r.wg.Wait()
}

func (r *Reconciler) handleFullSync(ctx context.Context, f centrallink.Frame) {
	var payload FullSyncPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		r.logger.Error("unparseable vehicle_sync_full payload", "error", err)
		r.ack(f, centrallink.MsgVehicleSyncFull, SyncResult{Errors: []string{"malformed payload"}})
		return
	}
	result := r.ApplyFullSync(ctx, payload)
	r.ack(f, centrallink.MsgVehicleSyncFull, result)
}

func (r *Reconciler) handleUpdateSync(ctx context.Context, f centrallink.Frame) {
	var payload UpdateSyncPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		r.logger.Error("unparseable vehicle_sync_update payload", "error", err)
		r.ack(f, centrallink.MsgVehicleSyncUpdate, SyncResult{Errors: []string{"malformed payload"}})
		return
	}
	result := r.ApplyUpdateSync(ctx, payload)
	r.ack(f, centrallink.MsgVehicleSyncUpdate, result)
}

func (r *Reconciler) handleDeleteSync(ctx context.Context, f centrallink.Frame) {
	var payload DeleteSyncPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		r.logger.Error("unparseable vehicle_sync_delete payload", "error", err)
		r.ack(f, centrallink.MsgVehicleSyncDelete, SyncResult{Errors: []string{"malformed payload"}})
		return
	}
	result := r.ApplyDeleteSync(ctx, payload)
	r.ack(f, centrallink.MsgVehicleSyncDelete, result)
}

// ack reports the batch outcome back to central. Acks carry the inbound
// messageId so central can correlate; a partially failed batch is reported
// with success=false and the per-record errors.
func (r *Reconciler) ack(f centrallink.Frame, syncType string, result SyncResult) {
	payload := centrallink.VehicleSyncAckPayload{
		MessageID: f.MessageID,
		SyncType:  syncType,
		Success:   len(result.Errors) == 0,
		Errors:    result.Errors,
		StationID: r.stationID,
	}
	if err := r.link.Send(centrallink.MsgVehicleSyncAck, payload); err != nil {
		r.logger.Warn("vehicle sync ack not delivered", "syncType", syncType, "error", err)
	}
}
