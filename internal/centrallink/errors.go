// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package centrallink

import "errors"

var (
	// ErrNotConnected is returned when a send is attempted without an
	// authenticated session.
	ErrNotConnected = errors.New("not connected to central")

	// ErrRequestTimedOut is returned when central does not answer a
	// correlated request within the request timeout.
	ErrRequestTimedOut = errors.New("central request timed out")

	// ErrCentralRejected is returned when central answers a request with
	// an error frame.
	ErrCentralRejected = errors.New("central rejected the request")
)
