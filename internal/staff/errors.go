// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package staff

import "errors"

var (
	// ErrStaffNotFound is returned for operations on an unknown staff ID.
	ErrStaffNotFound = errors.New("staff not found")

	// ErrCINTaken is returned when a create or update collides with an
	// existing CIN.
	ErrCINTaken = errors.New("cin already registered")
)
