// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package models

import (
	"fmt"
	"time"
)

// UploadRecord is one normalized reading in backend wire shape.
type UploadRecord struct {
	UserID       string     `json:"userId"`
	MetricType   MetricType `json:"metricType"`
	Value        float64    `json:"value"`
	Unit         string     `json:"unit,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      time.Time  `json:"endTime"`
	SourceDevice string     `json:"sourceDevice,omitempty"`
}

// UploadBatch is one page of records bound for a single destination
// table.
type UploadBatch struct {
	TargetTable    string         `json:"targetTable"`
	Records        []UploadRecord `json:"records"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

// IdempotencyKey derives the deterministic dedup key for a page:
// user, destination table, and the minute-truncated upload timestamp.
// Two retries of the same page inside one minute collide on purpose so
// the backend can drop the duplicate.
func IdempotencyKey(userID, table string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", userID, table, at.UTC().Truncate(time.Minute).Format("200601021504"))
}
