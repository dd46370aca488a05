// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package staff manages station employees and their day-to-day paperwork:
// accounts, day passes and the daily cash report.
package staff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/teskerti/station-node/internal/auth"
	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/eventbus"
	"github.com/teskerti/station-node/internal/storage"
)

// Service manages staff accounts.
type Service struct {
	store    *storage.Store
	bus      *eventbus.Bus
	clk      clock.Clock
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds the staff service.
func NewService(store *storage.Store, bus *eventbus.Bus, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		bus:      bus,
		clk:      clk,
		validate: validator.New(),
		logger:   logger.With("component", "staff"),
	}
}

// CreateRequest describes a new staff account.
type CreateRequest struct {
	CIN         string            `json:"cin" validate:"required,len=8,numeric"`
	FirstName   string            `json:"firstName" validate:"required"`
	LastName    string            `json:"lastName" validate:"required"`
	Role        storage.StaffRole `json:"role" validate:"required,oneof=WORKER SUPERVISOR ADMIN"`
	PhoneNumber string            `json:"phoneNumber"`
}

// Create registers a staff member. The initial password is the CIN; the
// member is expected to change it on first login.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*storage.Staff, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.CIN)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	member := &storage.Staff{
		ID:          clock.NewID(),
		CIN:         req.CIN,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Role:        req.Role,
		PhoneNumber: req.PhoneNumber,
		Password:    hash,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.DB().WithContext(ctx).Create(member).Error; err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrCINTaken
		}
		return nil, fmt.Errorf("create staff: %w", err)
	}

	s.logger.Info("staff created", "staffId", member.ID, "role", member.Role)
	s.emit(eventbus.StaffCreated, member)
	return member, nil
}

// UpdateRequest carries the mutable staff fields. Nil fields are left
// unchanged.
type UpdateRequest struct {
	FirstName   *string            `json:"firstName,omitempty"`
	LastName    *string            `json:"lastName,omitempty"`
	Role        *storage.StaffRole `json:"role,omitempty" validate:"omitempty,oneof=WORKER SUPERVISOR ADMIN"`
	PhoneNumber *string            `json:"phoneNumber,omitempty"`
}

// Update applies a partial update to a staff member.
func (s *Service) Update(ctx context.Context, staffID string, req UpdateRequest) (*storage.Staff, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": s.clk.Now()}
	if req.FirstName != nil {
		updates["first_name"] = *req.FirstName
	}
	if req.LastName != nil {
		updates["last_name"] = *req.LastName
	}
	if req.Role != nil {
		updates["role"] = *req.Role
	}
	if req.PhoneNumber != nil {
		updates["phone_number"] = *req.PhoneNumber
	}

	var member storage.Staff
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&member, "id = ?", staffID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStaffNotFound
			}
			return err
		}
		if err := tx.Model(&member).Updates(updates).Error; err != nil {
			return fmt.Errorf("update staff %s: %w", staffID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(eventbus.StaffModified, &member)
	return &member, nil
}

// ToggleStatus flips a staff member between active and inactive.
// Deactivation also kills their active sessions so outstanding tokens stop
// verifying.
func (s *Service) ToggleStatus(ctx context.Context, staffID string) (*storage.Staff, error) {
	var member storage.Staff
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&member, "id = ?", staffID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStaffNotFound
			}
			return err
		}
		member.IsActive = !member.IsActive
		member.UpdatedAt = s.clk.Now()
		if err := tx.Save(&member).Error; err != nil {
			return fmt.Errorf("toggle staff %s: %w", staffID, err)
		}
		if !member.IsActive {
			if err := tx.Model(&storage.Session{}).
				Where("staff_id = ? AND is_active = ?", staffID, true).
				Update("is_active", false).Error; err != nil {
				return fmt.Errorf("deactivate sessions of %s: %w", staffID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("staff status toggled", "staffId", staffID, "isActive", member.IsActive)
	s.emit(eventbus.StaffStatusToggled, &member)
	return &member, nil
}

// Delete removes a staff member and their sessions. Bookings they created
// keep the dangling CreatedBy reference for audit.
func (s *Service) Delete(ctx context.Context, staffID string) error {
	var member storage.Staff
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&member, "id = ?", staffID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStaffNotFound
			}
			return err
		}
		if err := tx.Delete(&storage.Session{}, "staff_id = ?", staffID).Error; err != nil {
			return fmt.Errorf("delete sessions of %s: %w", staffID, err)
		}
		if err := tx.Delete(&member).Error; err != nil {
			return fmt.Errorf("delete staff %s: %w", staffID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("staff deleted", "staffId", staffID)
	s.emit(eventbus.StaffDeleted, &member)
	return nil
}

// List returns all staff members, newest first.
func (s *Service) List(ctx context.Context) ([]storage.Staff, error) {
	var members []storage.Staff
	err := s.store.DB().WithContext(ctx).
		Order("created_at DESC").
		Find(&members).Error
	return members, err
}

// ByID loads one staff member.
func (s *Service) ByID(ctx context.Context, staffID string) (*storage.Staff, error) {
	var member storage.Staff
	err := s.store.DB().WithContext(ctx).First(&member, "id = ?", staffID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStaffNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *Service) emit(action eventbus.StaffAction, member *storage.Staff) {
	s.bus.Emit(eventbus.StaffUpdated, eventbus.StaffUpdatedPayload{Action: action, Staff: member})
}
