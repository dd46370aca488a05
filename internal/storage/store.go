// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides transactional persistence for the station node on
// an embedded sqlite database. It is the only shared mutable state in the
// process; every multi-row mutation goes through Tx and single-row seat
// mutations use the conditional DecrementSeats update.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrUnavailable signals the store cannot be opened or migrated. It is
// fatal: the process terminates on it at boot.
var ErrUnavailable = errors.New("store unavailable")

// Store wraps the database handle shared by all services.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema. WAL mode keeps readers unblocked while the single writer holds the
// write lock; the busy timeout lets short writer collisions resolve without
// surfacing SQLITE_BUSY.
func Open(path string, log *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}

	if err := db.AutoMigrate(
		&Vehicle{},
		&Driver{},
		&AuthorizedStation{},
		&Route{},
		&Staff{},
		&Session{},
		&VehicleQueue{},
		&Booking{},
		&Trip{},
		&DayPass{},
	); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}

	return &Store{db: db, log: log.With("component", "store")}, nil
}

// DB exposes the underlying handle for read paths and for services that
// compose their own queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Tx runs fn inside a transaction. sqlite serializes writers, so committed
// transactions observe a total order; a transaction that loses a write race
// surfaces SQLITE_BUSY and is retried once after a short pause before the
// error is returned to the caller.
func (s *Store) Tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err != nil && isBusy(err) {
		s.log.Debug("transaction hit busy database, retrying once")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		err = s.db.WithContext(ctx).Transaction(fn)
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
// Used by the booking allocator to retry ticket-code collisions and by the
// services to translate inserts into Conflict errors.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// DecrementSeats conditionally takes n seats from a queue row. The WHERE
// clause is the row-level compare-and-set: no row is updated when another
// transaction consumed the seats first. Returns the number of rows updated
// (0 or 1).
func DecrementSeats(tx *gorm.DB, queueID string, n int) (int64, error) {
	res := tx.Model(&VehicleQueue{}).
		Where("id = ? AND available_seats >= ?", queueID, n).
		UpdateColumn("available_seats", gorm.Expr("available_seats - ?", n))
	return res.RowsAffected, res.Error
}

// CanonicalQueueOrder orders queue rows the way every listing and allocation
// walks them: OVERNIGHT before REGULAR, then by position.
func CanonicalQueueOrder(tx *gorm.DB) *gorm.DB {
	return tx.Order("CASE queue_type WHEN 'OVERNIGHT' THEN 0 ELSE 1 END, queue_position ASC")
}

// InService filters out DEPARTED rows, which are retained for audit but
// excluded from every in-service lookup.
func InService(tx *gorm.DB) *gorm.DB {
	return tx.Where("status <> ?", QueueDeparted)
}

// NewTripForQueue builds the trip record for a queue row that just reached
// READY. SeatsBooked is the sum over the row's bookings with payment status
// PAID or PENDING. Must run inside the same transaction that flips the row
// to READY.
func NewTripForQueue(tx *gorm.DB, row *VehicleQueue, plate string, now time.Time, id string) (*Trip, error) {
	var seats int64
	err := tx.Model(&Booking{}).
		Where("queue_id = ? AND payment_status IN ?", row.ID, []PaymentStatus{PaymentPaid, PaymentPending}).
		Select("COALESCE(SUM(seats_booked), 0)").
		Scan(&seats).Error
	if err != nil {
		return nil, fmt.Errorf("sum booked seats for queue %s: %w", row.ID, err)
	}

	trip := &Trip{
		ID:              id,
		VehicleID:       row.VehicleID,
		LicensePlate:    plate,
		DestinationID:   row.DestinationID,
		DestinationName: row.DestinationName,
		QueueID:         row.ID,
		SeatsBooked:     int(seats),
		StartTime:       now,
		SyncStatus:      SyncPending,
		CreatedAt:       now,
	}
	if err := tx.Create(trip).Error; err != nil {
		return nil, fmt.Errorf("create trip for queue %s: %w", row.ID, err)
	}
	return trip, nil
}
