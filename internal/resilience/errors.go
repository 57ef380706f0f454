// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package resilience wraps backend operations with bounded retry and
// per-category circuit breaking. It is a leaf package: everything that
// talks to the network depends on it.
//
// Error taxonomy:
//   - insufficient-data: a legitimate terminal outcome of validation,
//     never retried, never counted against a breaker
//   - transient: network errors, timeouts, 5xx - retried with backoff
//   - permanent: auth failures, 4xx validation, not-found - propagate
//     immediately without consuming retry budget
package resilience

import (
	"context"
	"errors"
	"fmt"
)

// ErrInsufficientData marks a sync window that lacks required metric
// categories. It is a terminal outcome, not a failure: callers surface
// it to the user and never retry it.
var ErrInsufficientData = errors.New("insufficient data in sync window")

// TransientError wraps failures worth retrying: network errors,
// timeouts, server-side 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps failures that retrying cannot fix: auth
// failures, 4xx validation errors, not-found.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Transientf wraps a formatted error as retryable.
func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Permanent wraps err as non-retryable. Returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf wraps a formatted error as non-retryable.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err should be retried. Unclassified
// errors are treated as transient: the usual unclassified case is a
// transport-level failure. Context cancellation is never retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrInsufficientData) {
		return false
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// IsPermanent reports whether err is classified non-retryable.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
