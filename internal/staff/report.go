// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package staff

import (
	"context"
	"fmt"
	"time"

	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/storage"
)

// DayPassRequest sells a flat-rate daily operating pass.
type DayPassRequest struct {
	LicensePlate string  `json:"licensePlate" validate:"required"`
	Price        float64 `json:"price" validate:"gte=0"`
	CreatedBy    string  `json:"createdBy" validate:"required"`
}

// SellDayPass records a day pass sale. Passes feed reporting only; they do
// not gate queue entry.
func (s *Service) SellDayPass(ctx context.Context, req DayPassRequest) (*storage.DayPass, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	pass := &storage.DayPass{
		ID:           clock.NewID(),
		LicensePlate: req.LicensePlate,
		Price:        req.Price,
		PurchaseDate: now,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    now,
	}
	if err := s.store.DB().WithContext(ctx).Create(pass).Error; err != nil {
		return nil, fmt.Errorf("create day pass: %w", err)
	}
	s.logger.Info("day pass sold", "licensePlate", req.LicensePlate, "price", req.Price)
	return pass, nil
}

// DailyReport aggregates one calendar day of station revenue.
type DailyReport struct {
	Date            string  `json:"date"`
	BookingCount    int64   `json:"bookingCount"`
	SeatsSold       int64   `json:"seatsSold"`
	BookingRevenue  float64 `json:"bookingRevenue"`
	DayPassCount    int64   `json:"dayPassCount"`
	DayPassRevenue  float64 `json:"dayPassRevenue"`
	TotalRevenue    float64 `json:"totalRevenue"`
	TripsDispatched int64   `json:"tripsDispatched"`
}

// Report builds the daily report for the local calendar day containing day.
func (s *Service) Report(ctx context.Context, day time.Time) (*DailyReport, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	db := s.store.DB().WithContext(ctx)

	report := &DailyReport{Date: start.Format("2006-01-02")}

	type bookingAgg struct {
		Count   int64
		Seats   int64
		Revenue float64
	}
	var b bookingAgg
	err := db.Model(&storage.Booking{}).
		Where("created_at >= ? AND created_at < ? AND payment_status = ?", start, end, storage.PaymentPaid).
		Select("COUNT(*) AS count, COALESCE(SUM(seats_booked), 0) AS seats, COALESCE(SUM(total_amount), 0) AS revenue").
		Scan(&b).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate bookings: %w", err)
	}
	report.BookingCount = b.Count
	report.SeatsSold = b.Seats
	report.BookingRevenue = b.Revenue

	type passAgg struct {
		Count   int64
		Revenue float64
	}
	var p passAgg
	err = db.Model(&storage.DayPass{}).
		Where("purchase_date >= ? AND purchase_date < ?", start, end).
		Select("COUNT(*) AS count, COALESCE(SUM(price), 0) AS revenue").
		Scan(&p).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate day passes: %w", err)
	}
	report.DayPassCount = p.Count
	report.DayPassRevenue = p.Revenue

	err = db.Model(&storage.Trip{}).
		Where("start_time >= ? AND start_time < ?", start, end).
		Count(&report.TripsDispatched).Error
	if err != nil {
		return nil, fmt.Errorf("count trips: %w", err)
	}

	report.TotalRevenue = report.BookingRevenue + report.DayPassRevenue
	return report, nil
}

// Transactions lists the bookings of one calendar day, newest first.
func (s *Service) Transactions(ctx context.Context, day time.Time) ([]storage.Booking, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	var bookings []storage.Booking
	err := s.store.DB().WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start, end).
		Order("created_at DESC").
		Find(&bookings).Error
	return bookings, err
}
