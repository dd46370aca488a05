// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// station-node is the station-local process: it owns the destination
// queues, cash bookings, staff sessions and the uplink session to the
// central server. All state lives in the local sqlite database; central
// connectivity is an optimization, not a dependency.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teskerti/station-node/internal/auth"
	"github.com/teskerti/station-node/internal/booking"
	"github.com/teskerti/station-node/internal/centrallink"
	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/config"
	"github.com/teskerti/station-node/internal/eventbus"
	"github.com/teskerti/station-node/internal/fleet"
	"github.com/teskerti/station-node/internal/logging"
	"github.com/teskerti/station-node/internal/queue"
	"github.com/teskerti/station-node/internal/reconciler"
	"github.com/teskerti/station-node/internal/staff"
	"github.com/teskerti/station-node/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "station-node: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.ToLoggingConfig())
	logger.Info("starting station node",
		"stationId", cfg.Station.ID,
		"stationName", cfg.Station.Name,
		"port", cfg.Network.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := eventbus.New(cfg.Events.BufferSize, logger)
	defer bus.Close()

	if cfg.Events.RedisAddr != "" {
		sink, err := eventbus.NewRedisSink(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.ChannelPrefix)
		if err != nil {
			// The node runs without the operator fan-out; the core does
			// not depend on it.
			logger.Warn("redis sink unavailable, events stay local", "error", err)
		} else {
			defer sink.Close()
			bus.Subscribe(sink)
			logger.Info("redis event sink attached", "addr", cfg.Events.RedisAddr)
		}
	}

	clk := clock.System{}

	link := centrallink.New(centrallink.Config{
		WSURL:                  cfg.Network.CentralWSURL,
		HTTPURL:                cfg.Network.CentralURL,
		StationID:              cfg.Station.ID,
		ConnectionTestInterval: cfg.Sync.ConnectionCheckInterval(),
	}, logger)

	rec := reconciler.New(store, link, clk, cfg.Sync, cfg.Station.ID, logger)

	queueSvc := queue.NewService(store, bus, clk, cfg.Station.ID, logger)
	bookingSvc := booking.NewService(store, bus, clk, logger)
	authSvc := auth.NewService(store, link, clk, cfg.Auth, cfg.Station.ID, logger)
	staffSvc := staff.NewService(store, bus, clk, logger)
	fleetSvc := fleet.NewService(store, cfg.Station.ID, logger)

	linkDone := make(chan error, 1)
	go func() { linkDone <- link.Run(ctx) }()

	rec.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","linkState":%q}`, link.State())
	})
	mux.Handle("/statusz", statusHandler(queueSvc, fleetSvc, link, logger))
	registerAPI(mux, queueSvc, bookingSvc, authSvc, staffSvc, fleetSvc, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Network.Port),
		Handler: mux,
	}
	serverDone := make(chan error, 1)
	go func() {
		logger.Info("http listener up", "addr", server.Addr)
		serverDone <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http listener failed", "error", err)
		}
	}
	stop()

	// Shutdown order: stop accepting work, drain the reconciler, close the
	// link with a normal closure, then the deferred bus and store closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	rec.Close()
	link.Stop()
	if err := <-linkDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("link loop ended with error", "error", err)
	}

	logger.Info("station node stopped")
	return nil
}
