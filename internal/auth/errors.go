// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown CIN and wrong password alike;
	// callers must not be able to distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrStaffInactive is returned when a deactivated staff member logs in.
	ErrStaffInactive = errors.New("staff account is inactive")

	// ErrSessionInvalid is returned when a token has no active session.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrSessionExpired is returned when the session outlived its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrWrongPassword is returned by ChangePassword when the current
	// password does not match.
	ErrWrongPassword = errors.New("current password does not match")
)
