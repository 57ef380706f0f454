// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/metrics"
)

// RetryConfig bounds the call-level retry loop for one operation
// category.
type RetryConfig struct {
	// Category labels the operation for logging and metrics.
	Category string

	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay seeds the exponential backoff: delay for retry n is
	// BaseDelay * 2^(n-1) plus random jitter in [0, MaxJitter).
	BaseDelay time.Duration

	// MaxJitter is the upper bound of the random jitter added to every
	// delay. Jitter prevents synchronized retries after a shared outage.
	MaxJitter time.Duration
}

// SyncRetryConfig returns the retry bounds for sync operations.
func SyncRetryConfig() RetryConfig {
	return RetryConfig{
		Category:   "sync",
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxJitter:  time.Second,
	}
}

// APIRetryConfig returns the retry bounds for generic API calls.
func APIRetryConfig() RetryConfig {
	return RetryConfig{
		Category:   "api",
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxJitter:  time.Second,
	}
}

// Retry executes fn, retrying transient failures up to cfg.MaxRetries
// with exponential backoff and jitter. Non-retryable errors (permanent,
// insufficient-data, context cancellation) propagate immediately without
// consuming retry budget.
//
// The wait between attempts is a cancellable timer, never inline
// recursion: the caller's goroutine blocks on the timer but its lock and
// guard state are untouched across the wait.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	var lastErr error
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt > cfg.MaxRetries {
			return zero, lastErr
		}

		delay := backoffDelay(cfg, attempt)
		logging.Warn().
			Err(err).
			Str("category", cfg.Category).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("transient failure, scheduling retry")
		metrics.RetryAttempts.WithLabelValues(cfg.Category).Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// backoffDelay computes BaseDelay * 2^(attempt-1) + jitter(0, MaxJitter).
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shift-based doubling; attempts are small so overflow is not a
	// concern at the configured bounds.
	delay := cfg.BaseDelay << (attempt - 1)
	if cfg.MaxJitter > 0 {
		delay += time.Duration(rand.Int64N(int64(cfg.MaxJitter)))
	}
	return delay
}
