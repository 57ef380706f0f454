// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package sync implements the chunked, resumable health-data sync
// engine: fetch from the local source, normalize, page, upload, and
// checkpoint.
package sync

import (
	"context"
	"time"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

// SampleSource is the local health-data provider. Fetches are per
// metric type so one unavailable type never poisons a whole window.
type SampleSource interface {
	FetchSamples(ctx context.Context, metric models.MetricType, start, end time.Time) ([]models.Sample, error)
	CheckPermissions(ctx context.Context) error
	DeviceID() string
}

// Backend is the slice of the API client the engine needs.
type Backend interface {
	UploadBatch(ctx context.Context, batch models.UploadBatch) error
	OrchestrateSync(ctx context.Context, syncType string) error
}
