// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Credential encryption for the connection token stored at rest.
//
// Algorithm: AES-256-GCM with a 12-byte random nonce per encryption,
// key derived from the configured app secret using HKDF-SHA256. The GCM
// tag gives integrity; tampered or truncated ciphertexts fail to
// decrypt.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	credentialEncryptionSalt = "healthbridge-connection-credentials"
	credentialEncryptionInfo = "credential-encryption-v1"
	aesKeySize               = 32
	gcmNonceSize             = 12
)

var (
	// ErrEmptySecret is returned when the app secret is empty.
	ErrEmptySecret = errors.New("app secret cannot be empty")

	// ErrDecryptionFailed is returned for invalid or tampered
	// ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or authentication tag")

	// ErrCiphertextTooShort is returned when the ciphertext cannot even
	// hold a nonce.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// CredentialEncryptor provides AES-256-GCM encryption for the stored
// connection credential.
type CredentialEncryptor struct {
	aead cipher.AEAD
}

// NewCredentialEncryptor derives a 256-bit AES key from the app secret
// via HKDF-SHA256 and prepares the AEAD cipher.
func NewCredentialEncryptor(appSecret string) (*CredentialEncryptor, error) {
	if appSecret == "" {
		return nil, ErrEmptySecret
	}

	kdf := hkdf.New(sha256.New, []byte(appSecret), []byte(credentialEncryptionSalt), []byte(credentialEncryptionInfo))
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &CredentialEncryptor{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (e *CredentialEncryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *CredentialEncryptor) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < gcmNonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := raw[:gcmNonceSize], raw[gcmNonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
