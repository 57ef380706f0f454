// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package taskqueue is the durable background task chain: historical
// sync chunks are re-run one at a time through a JetStream-backed
// queue, surviving foreground process death. Task payloads carry only
// serialized input; each handler invocation reconstructs its
// collaborators from durable state, so no object references ever cross
// the queue boundary.
package taskqueue

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Topics on the task stream.
const (
	TopicHistoricalChunk = "tasks.historical_chunk"
	TopicPoison          = "tasks.poison"
)

// HistoricalChunkTask asks a worker to sync one historical chunk.
// Delivery is at-least-once; the checkpoint makes replays no-ops.
type HistoricalChunkTask struct {
	UserID     string    `json:"userId"`
	ChunkIndex int       `json:"chunkIndex"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func (t HistoricalChunkTask) marshal() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk task: %w", err)
	}
	return data, nil
}

func unmarshalChunkTask(data []byte) (HistoricalChunkTask, error) {
	var t HistoricalChunkTask
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("unmarshal chunk task: %w", err)
	}
	if t.ChunkIndex < 0 {
		return t, fmt.Errorf("chunk task has negative index %d", t.ChunkIndex)
	}
	return t, nil
}
