// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by locally issued staff tokens.
type Claims struct {
	StaffID   string `json:"staffId"`
	CIN       string `json:"cin"`
	Role      string `json:"role"`
	StationID string `json:"stationId"`
	jwt.RegisteredClaims
}

// issueToken signs an HS256 token for a staff member. Expiry follows the
// configured TTL.
func (s *Service) issueToken(staffID, cin, role string, now time.Time) (string, error) {
	claims := Claims{
		StaffID:   staffID,
		CIN:       cin,
		Role:      role,
		StationID: s.stationID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			Subject:   staffID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// parseToken validates signature and expiry and returns the claims.
func (s *Service) parseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrSessionInvalid
	}
	return claims, nil
}
