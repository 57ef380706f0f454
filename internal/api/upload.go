// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package api

import (
	"context"
	"errors"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/metrics"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/resilience"
)

// UploadBatch sends one page of records to the batch upload RPC.
//
// Composition order matters: the circuit breaker wraps the whole
// retried call, so a call that exhausts its retry budget counts as one
// failure toward the breaker, and an open breaker rejects without any
// network attempt.
//
// A duplicate-key response is treated as success: the minute-granular
// idempotency key means the records already landed on a previous
// attempt.
func (c *Client) UploadBatch(ctx context.Context, batch models.UploadBatch) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	_, err := c.breakers.Execute(resilience.CategoryBatchUpload, func() (any, error) {
		return resilience.Retry(ctx, resilience.SyncRetryConfig(), func(ctx context.Context) (any, error) {
			err := c.postJSON(ctx, "/rpc/batch-upload", batch, nil)

			var dup *DuplicateKeyError
			if errors.As(err, &dup) {
				// The backend uniqueness constraint is exactly the
				// idempotency key, so the records already landed.
				logging.Warn().
					Str("table", batch.TargetTable).
					Str("idempotency_key", batch.IdempotencyKey).
					Msg("duplicate key on batch upload, treating as success")
				metrics.PagesUploaded.WithLabelValues(batch.TargetTable, "duplicate").Inc()
				return nil, nil
			}
			return nil, err
		})
	})

	if err != nil {
		metrics.PagesUploaded.WithLabelValues(batch.TargetTable, "failed").Inc()
		return err
	}
	metrics.PagesUploaded.WithLabelValues(batch.TargetTable, "ok").Inc()
	return nil
}

type orchestrateRequest struct {
	SyncType string `json:"syncType"`
}

// OrchestrateSync tells the backend a window is ready for analysis.
// Fire-and-forget: completion arrives via the realtime channel or the
// polling fallback, never as this call's response.
func (c *Client) OrchestrateSync(ctx context.Context, syncType string) error {
	_, err := c.breakers.Execute(resilience.CategoryOrchestration, func() (any, error) {
		return resilience.Retry(ctx, resilience.SyncRetryConfig(), func(ctx context.Context) (any, error) {
			return nil, c.postJSON(ctx, "/rpc/orchestrate-sync", orchestrateRequest{SyncType: syncType}, nil)
		})
	})
	logCall("/rpc/orchestrate-sync", err)
	return err
}
