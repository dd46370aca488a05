// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package booking

import (
	"crypto/rand"
	"fmt"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// newVerificationCode returns a uniformly random 6-character base36
// uppercase ticket code. Collisions are negligible at station volumes; the
// allocator still retries on the unique constraint.
func newVerificationCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	// 36 divides 252, so rejecting bytes >= 252 keeps the distribution
	// uniform.
	out := make([]byte, codeLength)
	for i := 0; i < codeLength; {
		b := buf[i]
		if b >= 252 {
			if _, err := rand.Read(buf[i : i+1]); err != nil {
				return "", fmt.Errorf("read random bytes: %w", err)
			}
			continue
		}
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		i++
	}
	return string(out), nil
}
