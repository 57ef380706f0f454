// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package metrics provides Prometheus instrumentation for HealthBridge:
// sync engine throughput, retry/circuit-breaker behavior, realtime
// channel health, and background task queue counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync engine metrics

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthbridge_sync_duration_seconds",
			Help:    "Duration of sync window executions in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"}, // "priority", "historical"
	)

	SyncOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthbridge_sync_outcomes_total",
			Help: "Total sync window outcomes by result class",
		},
		[]string{"mode", "outcome"}, // "success", "insufficient_data", "failure"
	)

	SamplesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthbridge_samples_fetched_total",
			Help: "Total raw samples fetched from the health-data source",
		},
		[]string{"metric_type"},
	)

	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthbridge_samples_rejected_total",
			Help: "Total samples dropped by normalization",
		},
		[]string{"metric_type", "reason"}, // "inverted_window", "future_start", "implausible_value"
	)

	PagesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthbridge_upload_pages_total",
			Help: "Total upload pages by result",
		},
		[]string{"table", "result"}, // "ok", "duplicate", "failed"
	)

	FailedBatchesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthbridge_failed_batches_pending",
			Help: "Failed upload batches awaiting resend",
		},
	)

	ChunksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthbridge_historical_chunks_completed_total",
			Help: "Historical chunks fully uploaded and checkpointed",
		},
	)

	// Retry and circuit breaker metrics

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthbridge_retry_attempts_total",
			Help: "Retry attempts by operation category",
		},
		[]string{"category"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthbridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"category"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthbridge_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"category", "result"}, // "success", "failure", "rejected"
	)

	// Realtime channel metrics

	RealtimeStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthbridge_realtime_status",
			Help: "Realtime channel status (0=disconnected, 1=connecting, 2=subscribed, 3=retrying, 4=error)",
		},
	)

	RealtimeReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthbridge_realtime_reconnects_total",
			Help: "Realtime channel reconnect attempts",
		},
	)

	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthbridge_realtime_events_total",
			Help: "Realtime events by type and disposition",
		},
		[]string{"type", "disposition"}, // "dispatched", "device_mismatch", "unparseable"
	)

	// Background task queue metrics

	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthbridge_tasks_enqueued_total",
			Help: "Background tasks enqueued by type",
		},
		[]string{"type"},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthbridge_tasks_processed_total",
			Help: "Background tasks processed by type and result",
		},
		[]string{"type", "result"}, // "ok", "skipped", "failed"
	)
)

// BreakerStateValue converts a breaker state name to its gauge value.
func BreakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
