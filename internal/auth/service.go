// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth verifies staff identity and manages login sessions. The local
// session table is authoritative for token verification: a token is valid
// while its session row is active and unexpired, regardless of central
// connectivity.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/teskerti/station-node/internal/centrallink"
	"github.com/teskerti/station-node/internal/clock"
	"github.com/teskerti/station-node/internal/config"
	"github.com/teskerti/station-node/internal/storage"
)

// Uplink is the slice of the central link the verifier needs for the
// central-credential fallback.
type Uplink interface {
	Authenticated() bool
	Request(ctx context.Context, msgType string, payload any) (centrallink.Frame, error)
}

// Service is the auth verifier.
type Service struct {
	store          *storage.Store
	link           Uplink
	clk            clock.Clock
	jwtSecret      string
	tokenTTL       time.Duration
	sessionTimeout time.Duration
	stationID      string
	logger         *slog.Logger
}

// NewService builds the verifier. link may be nil for offline-only setups.
func NewService(store *storage.Store, link Uplink, clk clock.Clock, cfg config.AuthConfig, stationID string, logger *slog.Logger) *Service {
	return &Service{
		store:          store,
		link:           link,
		clk:            clk,
		jwtSecret:      cfg.JWTSecret,
		tokenTTL:       cfg.TokenTTL,
		sessionTimeout: time.Duration(cfg.SessionTimeoutHours) * time.Hour,
		stationID:      stationID,
		logger:         logger.With("component", "auth"),
	}
}

// LoginResult is a successful login.
type LoginResult struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Staff     *storage.Staff `json:"staff"`
	// Offline reports whether the login was honored without reaching
	// central.
	Offline bool `json:"offline"`
}

// HashPassword produces the bcrypt hash stored for a staff password. The
// default password of a freshly synced staff member is their CIN.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Login authenticates a staff member. Local credentials are checked first;
// a CIN unknown locally falls through to central when the link is up. Wrong
// password and unknown CIN both surface ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, cin, password string) (*LoginResult, error) {
	var staff storage.Staff
	err := s.store.DB().WithContext(ctx).First(&staff, "cin = ?", cin).Error
	switch {
	case err == nil:
		return s.loginLocal(ctx, &staff, password)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.loginViaCentral(ctx, cin, password)
	default:
		return nil, fmt.Errorf("load staff by cin: %w", err)
	}
}

func (s *Service) loginLocal(ctx context.Context, staff *storage.Staff, password string) (*LoginResult, error) {
	if !staff.IsActive {
		return nil, ErrStaffInactive
	}
	if bcrypt.CompareHashAndPassword([]byte(staff.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	offline := s.link == nil || !s.link.Authenticated()
	result, err := s.openSession(ctx, staff, offline)
	if err != nil {
		return nil, err
	}
	s.logger.Info("staff logged in", "staffId", staff.ID, "role", staff.Role, "offline", offline)
	return result, nil
}

// loginViaCentral asks central to vouch for credentials the local store does
// not know, then materializes the staff record locally so the next login
// works offline.
func (s *Service) loginViaCentral(ctx context.Context, cin, password string) (*LoginResult, error) {
	if s.link == nil || !s.link.Authenticated() {
		return nil, ErrInvalidCredentials
	}

	resp, err := s.link.Request(ctx, centrallink.MsgStaffLoginRequest, centrallink.StaffLoginRequestPayload{
		CIN:      cin,
		Password: password,
	})
	if err != nil {
		s.logger.Warn("central login fallback failed", "error", err)
		return nil, ErrInvalidCredentials
	}

	var payload centrallink.StaffLoginResponsePayload
	if err := json.Unmarshal(resp.Payload, &payload); err != nil || !payload.Success {
		return nil, ErrInvalidCredentials
	}

	staff, err := s.materializeStaff(ctx, cin, password, payload.Staff)
	if err != nil {
		return nil, err
	}

	result, err := s.openSession(ctx, staff, false)
	if err != nil {
		return nil, err
	}
	s.logger.Info("staff logged in via central", "staffId", staff.ID, "role", staff.Role)
	return result, nil
}

// materializeStaff stores the central staff record locally. A stale local
// record holding the same CIN under a different ID is replaced; the CIN is
// the real-world identity, central's ID wins.
func (s *Service) materializeStaff(ctx context.Context, cin, password string, raw json.RawMessage) (*storage.Staff, error) {
	var remote struct {
		ID          string            `json:"id"`
		CIN         string            `json:"cin"`
		FirstName   string            `json:"firstName"`
		LastName    string            `json:"lastName"`
		Role        storage.StaffRole `json:"role"`
		PhoneNumber string            `json:"phoneNumber"`
	}
	if err := json.Unmarshal(raw, &remote); err != nil || remote.ID == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	staff := &storage.Staff{
		ID:          remote.ID,
		CIN:         cin,
		FirstName:   remote.FirstName,
		LastName:    remote.LastName,
		Role:        remote.Role,
		PhoneNumber: remote.PhoneNumber,
		Password:    hash,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.Tx(ctx, func(tx *gorm.DB) error {
		var staleIDs []string
		if err := tx.Model(&storage.Staff{}).
			Where("cin = ? AND id <> ?", cin, remote.ID).
			Pluck("id", &staleIDs).Error; err != nil {
			return fmt.Errorf("find cin conflict: %w", err)
		}
		if len(staleIDs) > 0 {
			// Tokens issued against the displaced record must stop
			// verifying along with it.
			if err := tx.Delete(&storage.Session{}, "staff_id IN ?", staleIDs).Error; err != nil {
				return fmt.Errorf("drop stale sessions: %w", err)
			}
			if err := tx.Delete(&storage.Staff{}, "id IN ?", staleIDs).Error; err != nil {
				return fmt.Errorf("resolve cin conflict: %w", err)
			}
		}
		if err := tx.Save(staff).Error; err != nil {
			return fmt.Errorf("store staff %s: %w", remote.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return staff, nil
}

// openSession issues a token and swaps it in as the single active session
// for the staff member.
func (s *Service) openSession(ctx context.Context, staff *storage.Staff, offline bool) (*LoginResult, error) {
	now := s.clk.Now()
	token, err := s.issueToken(staff.ID, staff.CIN, string(staff.Role), now)
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(s.tokenTTL)

	staffData, _ := json.Marshal(staff)
	session := storage.Session{
		ID:             clock.NewID(),
		StaffID:        staff.ID,
		Token:          token,
		StaffData:      string(staffData),
		IsActive:       true,
		LastActivity:   now,
		ExpiresAt:      expiresAt,
		CreatedOffline: offline,
		CreatedAt:      now,
	}

	err = s.store.Tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&storage.Session{}).
			Where("staff_id = ? AND is_active = ?", staff.ID, true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("deactivate prior sessions: %w", err)
		}
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if err := tx.Model(&storage.Staff{}).
			Where("id = ?", staff.ID).
			Update("last_login", now).Error; err != nil {
			return fmt.Errorf("record last login: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	staff.LastLogin = &now
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Staff: staff, Offline: offline}, nil
}

// VerifyToken validates a bearer token against the session table. Signature
// and expiry are checked on the token itself, then the session row must be
// active; verification touches LastActivity. An expired session is
// deactivated on sight.
func (s *Service) VerifyToken(ctx context.Context, token string) (*storage.Staff, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			s.deactivateByToken(ctx, token)
			return nil, ErrSessionExpired
		}
		return nil, ErrSessionInvalid
	}

	var session storage.Session
	err = s.store.DB().WithContext(ctx).
		First(&session, "token = ? AND is_active = ?", token, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := s.clk.Now()
	if now.After(session.ExpiresAt) {
		s.deactivateByToken(ctx, token)
		return nil, ErrSessionExpired
	}
	if s.sessionTimeout > 0 && now.Sub(session.LastActivity) > s.sessionTimeout {
		s.deactivateByToken(ctx, token)
		return nil, ErrSessionExpired
	}

	var staff storage.Staff
	if err := s.store.DB().WithContext(ctx).First(&staff, "id = ?", claims.StaffID).Error; err != nil {
		return nil, ErrSessionInvalid
	}
	if !staff.IsActive {
		s.deactivateByToken(ctx, token)
		return nil, ErrStaffInactive
	}

	if err := s.store.DB().WithContext(ctx).Model(&session).
		Update("last_activity", now).Error; err != nil {
		s.logger.Debug("last activity touch failed", "error", err)
	}
	return &staff, nil
}

// Logout deactivates the session behind a token. Unknown tokens are a
// no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DB().WithContext(ctx).Model(&storage.Session{}).
		Where("token = ?", token).
		Update("is_active", false).Error
}

// ChangePassword rotates a staff password after checking the current one.
// Existing sessions stay valid; only future logins use the new password.
func (s *Service) ChangePassword(ctx context.Context, staffID, current, next string) error {
	var staff storage.Staff
	if err := s.store.DB().WithContext(ctx).First(&staff, "id = ?", staffID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("load staff: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(staff.Password), []byte(current)) != nil {
		return ErrWrongPassword
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}

	now := s.clk.Now()
	return s.store.DB().WithContext(ctx).Model(&staff).Updates(map[string]any{
		"password":   hash,
		"updated_at": now,
	}).Error
}

func (s *Service) deactivateByToken(ctx context.Context, token string) {
	if err := s.store.DB().WithContext(ctx).Model(&storage.Session{}).
		Where("token = ?", token).
		Update("is_active", false).Error; err != nil {
		s.logger.Debug("session deactivation failed", "error", err)
	}
}
