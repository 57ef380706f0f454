// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package sync

import (
	"time"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/metrics"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

// maxClockSkew bounds how far in the future a sample start time may
// sit before it is rejected as implausible.
const maxClockSkew = time.Hour

type valueRange struct {
	min, max float64
}

// Plausible value bounds per metric type. Types not listed only get the
// structural checks.
var plausibleRanges = map[models.MetricType]valueRange{
	models.MetricHeartRate:            {30, 220},
	models.MetricRestingHeartRate:     {30, 220},
	models.MetricHeartRateVariability: {1, 500},
	models.MetricRespiratoryRate:      {4, 60},
	models.MetricBloodOxygen:          {50, 100},
	models.MetricSteps:                {0, 200000},
	models.MetricActiveEnergy:         {0, 20000},
}

// normalize converts raw samples to upload records, dropping anything
// that fails validation. Rejects are logged and counted, never an
// error: bad individual readings must not fail a sync.
func normalize(userID, sourceDevice string, samples []models.Sample, now time.Time) []models.UploadRecord {
	records := make([]models.UploadRecord, 0, len(samples))
	for _, s := range samples {
		if reason := rejectReason(s, now); reason != "" {
			metrics.SamplesRejected.WithLabelValues(string(s.Type), reason).Inc()
			logging.Debug().
				Str("metric_type", string(s.Type)).
				Str("reason", reason).
				Time("start", s.StartTime).
				Msg("sample rejected by normalization")
			continue
		}
		device := s.SourceDevice
		if device == "" {
			device = sourceDevice
		}
		records = append(records, models.UploadRecord{
			UserID:       userID,
			MetricType:   s.Type,
			Value:        s.Value,
			Unit:         s.Unit,
			StartTime:    s.StartTime.UTC(),
			EndTime:      s.EndTime.UTC(),
			SourceDevice: device,
		})
	}
	return records
}

func rejectReason(s models.Sample, now time.Time) string {
	if s.EndTime.Before(s.StartTime) {
		return "inverted_window"
	}
	if s.StartTime.After(now.Add(maxClockSkew)) {
		return "future_start"
	}
	if r, ok := plausibleRanges[s.Type]; ok {
		if s.Value < r.min || s.Value > r.max {
			return "implausible_value"
		}
	}
	return ""
}
