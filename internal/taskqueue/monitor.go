// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package taskqueue

import (
	"context"
	"time"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
)

// ProgressSource reports how far the historical backfill has advanced.
type ProgressSource interface {
	NextChunk() (int, bool, error)
}

// Enqueuer schedules chunk tasks. Implemented by Queue.
type Enqueuer interface {
	EnqueueHistoricalSyncChunk(userID string, chunkIndex int) error
}

// Monitor periodically checks whether the historical backfill has
// stalled, and re-enqueues the next chunk when two consecutive checks
// see the same pending chunk. Idempotent under at-least-once execution:
// a re-enqueued chunk that already ran replays as a checkpoint no-op.
type Monitor struct {
	interval time.Duration
	userID   func() string
	progress ProgressSource
	queue    Enqueuer

	lastPending int
	seenPending bool
}

// NewMonitor creates a monitor. userID is resolved per tick because it
// may not exist until onboarding completes.
func NewMonitor(interval time.Duration, userID func() string, progress ProgressSource, queue Enqueuer) *Monitor {
	return &Monitor{
		interval:    interval,
		userID:      userID,
		progress:    progress,
		queue:       queue,
		lastPending: -1,
	}
}

// String identifies the service in supervisor logs.
func (m *Monitor) String() string { return "sync-stall-monitor" }

// Serve ticks until ctx is cancelled. Implements suture.Service.
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	// No user means onboarding never finished; there is nothing to sync
	// against and nothing worth re-enqueueing.
	userID := m.userID()
	if userID == "" {
		m.seenPending = false
		return
	}

	chunk, more, err := m.progress.NextChunk()
	if err != nil {
		logging.Warn().Err(err).Msg("monitor could not read sync progress")
		return
	}
	if !more {
		m.seenPending = false
		return
	}

	stalled := m.seenPending && chunk == m.lastPending
	m.lastPending = chunk
	m.seenPending = true
	if !stalled {
		return
	}

	logging.Info().Int("chunk", chunk).Msg("historical sync stalled, re-enqueueing chunk")
	if err := m.queue.EnqueueHistoricalSyncChunk(userID, chunk); err != nil {
		logging.Warn().Err(err).Int("chunk", chunk).Msg("monitor re-enqueue failed")
	}
}
