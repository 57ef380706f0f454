// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package resilience

import (
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/metrics"
)

// Well-known breaker categories. Each category fails independently so a
// dead orchestration endpoint does not suppress batch uploads.
const (
	CategoryOrchestration = "orchestration"
	CategoryBatchUpload   = "batch-upload"
)

// BreakerSettings configures one operation category.
type BreakerSettings struct {
	// MaxFailures is the consecutive failure count that opens the
	// circuit.
	MaxFailures uint32

	// Cooldown is how long the circuit stays open before allowing a
	// single probe attempt.
	Cooldown time.Duration
}

// Default per-category settings. Orchestration triggers are cheap and
// frequent so they trip fast; batch uploads carry real data and get a
// longer leash.
var defaultSettings = map[string]BreakerSettings{
	CategoryOrchestration: {MaxFailures: 3, Cooldown: 5 * time.Minute},
	CategoryBatchUpload:   {MaxFailures: 5, Cooldown: 10 * time.Minute},
}

// genericSettings covers categories without an explicit entry.
var genericSettings = BreakerSettings{MaxFailures: 5, Cooldown: 5 * time.Minute}

// BreakerGroup maintains one circuit breaker per operation category.
// Once a category's consecutive failures reach its threshold, calls in
// that category short-circuit (fail fast, no network attempt) until the
// cooldown elapses; then exactly one probe attempt is allowed and a
// single success closes the circuit again.
//
// The breaker composes with Retry: wrap the whole retried call in
// Execute so an exhausted retry budget counts as one failure.
type BreakerGroup struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
	settings map[string]BreakerSettings
}

// NewBreakerGroup creates a group with the default per-category
// settings.
func NewBreakerGroup() *BreakerGroup {
	return &BreakerGroup{
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		settings: defaultSettings,
	}
}

// NewBreakerGroupWithSettings creates a group with custom settings,
// used by tests to shrink cooldowns.
func NewBreakerGroupWithSettings(settings map[string]BreakerSettings) *BreakerGroup {
	return &BreakerGroup{
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		settings: settings,
	}
}

// Execute runs fn under the category's circuit breaker. When the
// circuit is open the call is rejected immediately with no network
// attempt; IsCircuitOpen distinguishes that rejection from a real
// failure.
func (g *BreakerGroup) Execute(category string, fn func() (any, error)) (any, error) {
	cb := g.breaker(category)

	result, err := cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(category, "success").Inc()
	case IsCircuitOpen(err):
		metrics.CircuitBreakerRequests.WithLabelValues(category, "rejected").Inc()
		logging.Warn().Str("category", category).Msg("circuit open, request rejected")
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(category, "failure").Inc()
	}
	return result, err
}

// State returns the category's current breaker state.
func (g *BreakerGroup) State(category string) gobreaker.State {
	return g.breaker(category).State()
}

func (g *BreakerGroup) breaker(category string) *gobreaker.CircuitBreaker[any] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[category]; ok {
		return cb
	}

	s, ok := g.settings[category]
	if !ok {
		s = genericSettings
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        category,
		MaxRequests: 1, // one probe in half-open
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("category", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(to.String()))
		},
	})
	g.breakers[category] = cb
	return cb
}

// IsCircuitOpen reports whether err is a breaker rejection rather than
// a failure of the wrapped call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
