// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package store

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

// ErrNoEncryptor is returned when credential operations run without a
// configured encryptor.
var ErrNoEncryptor = errors.New("store: credential encryptor not configured")

// SaveCredential seals the credential with AES-GCM and persists it.
func (s *Store) SaveCredential(cred *models.ConnectionCredential) error {
	if s.enc == nil {
		return ErrNoEncryptor
	}
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	sealed, err := s.enc.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	return s.set(keyCredential, sealed)
}

// LoadCredential decrypts and returns the stored credential, or
// ErrNotFound when the device has never connected.
func (s *Store) LoadCredential() (*models.ConnectionCredential, error) {
	if s.enc == nil {
		return nil, ErrNoEncryptor
	}
	var sealed string
	if err := s.get(keyCredential, &sealed); err != nil {
		return nil, err
	}
	plaintext, err := s.enc.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}
	cred := &models.ConnectionCredential{}
	if err := json.Unmarshal(plaintext, cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	return cred, nil
}

// DeleteCredential removes the stored credential.
func (s *Store) DeleteCredential() error {
	return s.delete(keyCredential)
}
