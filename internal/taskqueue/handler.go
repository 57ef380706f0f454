// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package taskqueue

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/metrics"
	syncengine "github.com/oseer-algo/oseer-healthbridge-sub001/internal/sync"
)

// ChunkRunner runs one historical chunk. Implemented by the sync
// engine.
type ChunkRunner interface {
	RunHistoricalChunk(ctx context.Context, userID string, chunkIndex int) syncengine.Result
}

// RunnerFactory builds a fresh runner for one task execution and
// returns a cleanup function. Rebuilding per task keeps the queue
// boundary reference-free: only the serialized payload and durable
// state cross it.
type RunnerFactory func(ctx context.Context) (ChunkRunner, func(), error)

// ChunkHandler consumes historical chunk tasks.
type ChunkHandler struct {
	factory RunnerFactory
}

// Handle processes one delivery. Returning an error nacks the message
// into the retry/poison pipeline; replays of already-completed chunks
// succeed without work because the engine consults the checkpoint.
func (h *ChunkHandler) Handle(msg *message.Message) error {
	task, err := unmarshalChunkTask(msg.Payload)
	if err != nil {
		metrics.TasksProcessed.WithLabelValues("historical_chunk", "failed").Inc()
		return err
	}

	ctx := msg.Context()
	runner, cleanup, err := h.factory(ctx)
	if err != nil {
		metrics.TasksProcessed.WithLabelValues("historical_chunk", "failed").Inc()
		return fmt.Errorf("build chunk runner: %w", err)
	}
	defer cleanup()

	res := runner.RunHistoricalChunk(ctx, task.UserID, task.ChunkIndex)
	if res.Outcome == syncengine.OutcomeFailure {
		metrics.TasksProcessed.WithLabelValues("historical_chunk", "failed").Inc()
		return fmt.Errorf("chunk %d: %w", task.ChunkIndex, res.Err)
	}

	result := "ok"
	if res.Uploaded == 0 && res.Fetched == 0 {
		result = "skipped"
	}
	metrics.TasksProcessed.WithLabelValues("historical_chunk", result).Inc()
	logging.Info().
		Int("chunk", task.ChunkIndex).
		Int("uploaded", res.Uploaded).
		Bool("complete", res.HistoricalComplete).
		Msg("background chunk task finished")
	return nil
}
