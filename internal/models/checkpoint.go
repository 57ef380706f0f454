// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package models

import "fmt"

// SyncCheckpoint records how far the chunked historical sync has
// progressed. It is persisted after every completed chunk so a cold
// start resumes at LastCompletedChunk+1 without re-validating finished
// work.
type SyncCheckpoint struct {
	TotalDaysToSync    int `json:"totalDaysToSync"`
	ChunkSizeInDays    int `json:"chunkSizeInDays"`
	LastCompletedChunk int `json:"lastCompletedChunk"`
}

// NewSyncCheckpoint starts a fresh checkpoint with no completed chunks.
func NewSyncCheckpoint(totalDays, chunkDays int) *SyncCheckpoint {
	return &SyncCheckpoint{
		TotalDaysToSync:    totalDays,
		ChunkSizeInDays:    chunkDays,
		LastCompletedChunk: -1,
	}
}

// TotalChunks is the number of chunks needed to cover the full window,
// rounding the trailing partial chunk up.
func (c *SyncCheckpoint) TotalChunks() int {
	if c.ChunkSizeInDays <= 0 {
		return 0
	}
	return (c.TotalDaysToSync + c.ChunkSizeInDays - 1) / c.ChunkSizeInDays
}

// NextChunk is the index of the next chunk to sync.
func (c *SyncCheckpoint) NextChunk() int {
	return c.LastCompletedChunk + 1
}

// IsComplete reports whether every chunk has been uploaded.
func (c *SyncCheckpoint) IsComplete() bool {
	return c.LastCompletedChunk >= c.TotalChunks()-1
}

// Validate enforces the structural invariant: the completed cursor may
// never point past the final chunk.
func (c *SyncCheckpoint) Validate() error {
	if c.TotalDaysToSync <= 0 || c.ChunkSizeInDays <= 0 {
		return fmt.Errorf("checkpoint window invalid: total=%d chunk=%d", c.TotalDaysToSync, c.ChunkSizeInDays)
	}
	if c.LastCompletedChunk < -1 || c.LastCompletedChunk >= c.TotalChunks() {
		return fmt.Errorf("lastCompletedChunk %d out of range [-1, %d)", c.LastCompletedChunk, c.TotalChunks())
	}
	return nil
}
