// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

// SaveCheckpoint writes the checkpoint after validating its invariant.
func (s *Store) SaveCheckpoint(cp *models.SyncCheckpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	return s.set(keyCheckpoint, cp)
}

// LoadCheckpoint returns the persisted checkpoint, or ErrNotFound when
// no historical sync has started.
func (s *Store) LoadCheckpoint() (*models.SyncCheckpoint, error) {
	cp := &models.SyncCheckpoint{}
	if err := s.get(keyCheckpoint, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// DeleteCheckpoint removes the checkpoint. Only disconnect does this.
func (s *Store) DeleteCheckpoint() error {
	return s.delete(keyCheckpoint)
}

// AdvanceCheckpoint marks chunk as completed in a single read-modify-
// write transaction. Advancing is monotonic: a stale task re-delivered
// by the background queue for an already-completed chunk is a no-op,
// which is what makes task handling idempotent under at-least-once
// delivery.
func (s *Store) AdvanceCheckpoint(chunk int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyCheckpoint))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}

		cp := &models.SyncCheckpoint{}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, cp) }); err != nil {
			return fmt.Errorf("decode checkpoint: %w", err)
		}

		if chunk <= cp.LastCompletedChunk {
			logging.Debug().
				Int("chunk", chunk).
				Int("last_completed", cp.LastCompletedChunk).
				Msg("checkpoint already past chunk, skipping advance")
			return nil
		}
		if chunk != cp.LastCompletedChunk+1 {
			return fmt.Errorf("checkpoint: cannot advance to chunk %d from %d", chunk, cp.LastCompletedChunk)
		}

		cp.LastCompletedChunk = chunk
		if err := cp.Validate(); err != nil {
			return err
		}

		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("encode checkpoint: %w", err)
		}
		return txn.Set([]byte(keyCheckpoint), data)
	})
}
