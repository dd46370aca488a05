// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the prometheus collectors exported by the station
// node on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinkState is the central-link session state
	// (0=disconnected, 1=testing, 2=connecting, 3=connected, 4=authenticated).
	LinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "station_link_state",
		Help: "Central link session state (0=disconnected .. 4=authenticated).",
	})

	// LinkReconnectsTotal counts reconnect attempts against central.
	LinkReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "station_link_reconnects_total",
		Help: "Total central link reconnect attempts.",
	})

	// SyncRecordsTotal counts inbound sync records by outcome
	// (processed, skipped, error).
	SyncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_sync_records_total",
		Help: "Inbound entity sync records by outcome.",
	}, []string{"outcome"})

	// StaleInboundTotal counts inbound records dropped for integrity
	// reasons (driver without vehicle, orphan authorized station).
	StaleInboundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "station_sync_stale_inbound_total",
		Help: "Inbound sync records dropped as stale or inconsistent.",
	})

	// TripsDrainedTotal counts outbound trip shipments by result
	// (synced, failed).
	TripsDrainedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_trips_drained_total",
		Help: "Outbound trip records shipped to central by result.",
	}, []string{"result"})

	// BookingsTotal counts cash bookings created.
	BookingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "station_bookings_total",
		Help: "Total cash bookings created.",
	})

	// EventsDroppedTotal counts events dropped by saturated sinks.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_events_dropped_total",
		Help: "Events dropped because a sink buffer was full.",
	}, []string{"sink"})
)
