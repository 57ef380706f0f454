// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/resilience"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.APIConfig{
		BaseURL:        srv.URL,
		RequestTimeout: 5 * time.Second,
	}, resilience.NewBreakerGroup())
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token/validate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		valid := req["token"] == "good-token"
		_ = json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
	}))

	valid, err := client.ValidateToken(context.Background(), "good-token")
	if err != nil || !valid {
		t.Errorf("ValidateToken(good) = %v, %v; want true, nil", valid, err)
	}
	valid, err = client.ValidateToken(context.Background(), "bad-token")
	if err != nil || valid {
		t.Errorf("ValidateToken(bad) = %v, %v; want false, nil", valid, err)
	}
}

func TestHandoffFlow(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/generate-mobile-handoff":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":       true,
				"handoff_token": "handoff-123",
			})
		case "/auth/check-handoff-status":
			// Pending on the first poll, completed on the second.
			if polls.Add(1) == 1 {
				_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "status": "pending"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":         true,
				"status":          "completed",
				"connectionToken": "conn-token-xyz",
			})
		default:
			http.NotFound(w, r)
		}
	}))

	tok, err := client.GenerateMobileHandoff(context.Background(), "device-1", "connect", "")
	if err != nil || tok != "handoff-123" {
		t.Fatalf("GenerateMobileHandoff = %q, %v", tok, err)
	}

	res, err := client.CheckHandoffStatus(context.Background(), "device-1")
	if err != nil || res.Status != HandoffPending {
		t.Fatalf("first poll = %+v, %v", res, err)
	}
	res, err = client.CheckHandoffStatus(context.Background(), "device-1")
	if err != nil || res.Status != HandoffCompleted || res.ConnectionToken != "conn-token-xyz" {
		t.Fatalf("second poll = %+v, %v", res, err)
	}
}

func TestUploadBatchSendsIdempotencyKey(t *testing.T) {
	t.Parallel()

	var got models.UploadBatch
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))

	batch := models.UploadBatch{
		TargetTable:    "health_heart_rate",
		IdempotencyKey: models.IdempotencyKey("u1", "health_heart_rate", time.Now()),
		Records:        []models.UploadRecord{{UserID: "u1", Value: 60}},
	}
	if err := client.UploadBatch(context.Background(), batch); err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	if got.IdempotencyKey != batch.IdempotencyKey {
		t.Errorf("idempotency key = %q, want %q", got.IdempotencyKey, batch.IdempotencyKey)
	}
}

func TestUploadBatchDuplicateKeyIsSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))

	err := client.UploadBatch(context.Background(), models.UploadBatch{TargetTable: "health_sleep"})
	if err != nil {
		t.Fatalf("duplicate key must collapse to success, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (duplicates are not retried)", calls.Load())
	}
}

func TestUploadBatchRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.UploadBatch(context.Background(), models.UploadBatch{TargetTable: "health_steps"}); err != nil {
		t.Fatalf("UploadBatch after transient failure: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestAuthFailureIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.ValidateToken(context.Background(), "revoked")
	if !resilience.IsPermanent(err) {
		t.Fatalf("expected permanent error for 401, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (auth failures are not retried)", calls.Load())
	}
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	// Opaque token: no expiry hint.
	if got := TokenExpiry("opaque-token"); !got.IsZero() {
		t.Errorf("TokenExpiry(opaque) = %v, want zero", got)
	}

	// Unsigned JWT with an exp claim; signature is irrelevant here.
	const withExp = "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." +
		"eyJleHAiOjQxMDI0NDQ4MDB9."
	got := TokenExpiry(withExp)
	if got.IsZero() {
		t.Fatal("expected expiry from JWT exp claim")
	}
	if got.Year() != 2100 {
		t.Errorf("expiry year = %d, want 2100", got.Year())
	}
}
