// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package store persists HealthBridge state that must survive process
// restarts: the sync checkpoint, the encrypted connection credential,
// failed upload batches awaiting resend, and small identity values
// (user id, device id, last sync time).
//
// BadgerDB provides the durability: every write is an ACID transaction,
// so a crash mid-write never leaves a torn checkpoint.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
)

// ErrNotFound is returned when a requested key has never been written
// or was deleted.
var ErrNotFound = errors.New("store: key not found")

// Key layout. Values are JSON except the plain string identity keys.
const (
	keyCheckpoint      = "sync/checkpoint"
	keyCredential      = "conn/credential"
	keyLastSync        = "sync/last_sync_time"
	keyUserID          = "identity/user_id"
	keyDeviceID        = "identity/device_id"
	keyProfileComplete = "onboarding/profile_complete"

	failedBatchPrefix = "sync/failed_batch/"
)

// Store wraps BadgerDB with typed accessors for HealthBridge state.
type Store struct {
	db  *badger.DB
	enc *config.CredentialEncryptor
}

// Open opens (or creates) the store at path. An empty path selects an
// in-memory database, used by tests. The encryptor seals the connection
// credential at rest and may be nil only when no credential will be
// stored.
func Open(path string, enc *config.CredentialEncryptor) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &Store{db: db, enc: enc}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// get unmarshals the JSON value at key into v.
func (s *Store) get(key string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// set marshals v as JSON and writes it at key.
func (s *Store) set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// SetLastSyncTime records the completion time of the most recent
// successful sync.
func (s *Store) SetLastSyncTime(t time.Time) error {
	return s.set(keyLastSync, t)
}

// LastSyncTime returns the recorded last sync time.
func (s *Store) LastSyncTime() (time.Time, error) {
	var t time.Time
	err := s.get(keyLastSync, &t)
	return t, err
}

// SetUserID persists the backend user id.
func (s *Store) SetUserID(id string) error { return s.set(keyUserID, id) }

// UserID returns the persisted backend user id.
func (s *Store) UserID() (string, error) {
	var id string
	err := s.get(keyUserID, &id)
	return id, err
}

// SetDeviceID persists the local device id.
func (s *Store) SetDeviceID(id string) error { return s.set(keyDeviceID, id) }

// DeviceID returns the persisted local device id.
func (s *Store) DeviceID() (string, error) {
	var id string
	err := s.get(keyDeviceID, &id)
	return id, err
}

// SetProfileComplete records whether onboarding finished.
func (s *Store) SetProfileComplete(done bool) error {
	return s.set(keyProfileComplete, done)
}

// ProfileComplete reports whether onboarding finished. Missing means
// false.
func (s *Store) ProfileComplete() bool {
	var done bool
	if err := s.get(keyProfileComplete, &done); err != nil {
		return false
	}
	return done
}

// Reset clears all connection-scoped state: credential, checkpoint,
// failed batches, and last sync time. Identity keys survive. Called on
// explicit disconnect.
func (s *Store) Reset() error {
	if err := s.DeleteCredential(); err != nil {
		return err
	}
	if err := s.DeleteCheckpoint(); err != nil {
		return err
	}
	if err := s.DeleteAllFailedBatches(); err != nil {
		return err
	}
	if err := s.delete(keyLastSync); err != nil {
		return err
	}
	logging.Info().Msg("store reset: connection state cleared")
	return nil
}
