// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package store

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/metrics"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

// SaveFailedBatch persists an upload page that could not be sent, keyed
// by destination table. A later sync invocation flushes it before
// fetching new data. One pending page per table: a newer failure for
// the same table overwrites the older one, because the newer page
// supersedes it under the minute-granular idempotency key.
func (s *Store) SaveFailedBatch(batch models.UploadBatch) error {
	if err := s.set(failedBatchPrefix+batch.TargetTable, batch); err != nil {
		return err
	}
	s.updatePendingBatchGauge()
	return nil
}

// LoadFailedBatches returns every pending batch.
func (s *Store) LoadFailedBatches() ([]models.UploadBatch, error) {
	var batches []models.UploadBatch
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(failedBatchPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var batch models.UploadBatch
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &batch)
			})
			if err != nil {
				return fmt.Errorf("decode failed batch: %w", err)
			}
			batches = append(batches, batch)
		}
		return nil
	})
	return batches, err
}

// DeleteFailedBatch removes the pending batch for a table after a
// successful resend.
func (s *Store) DeleteFailedBatch(table string) error {
	if err := s.delete(failedBatchPrefix + table); err != nil {
		return err
	}
	s.updatePendingBatchGauge()
	return nil
}

// DeleteAllFailedBatches clears every pending batch.
func (s *Store) DeleteAllFailedBatches() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(failedBatchPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.updatePendingBatchGauge()
	return nil
}

func (s *Store) updatePendingBatchGauge() {
	count := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(failedBatchPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	metrics.FailedBatchesPending.Set(float64(count))
}
