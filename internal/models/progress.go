// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package models

// SyncPhase is the coarse lifecycle of one sync invocation.
type SyncPhase string

const (
	PhasePriority   SyncPhase = "priority"
	PhaseHistorical SyncPhase = "historical"
	PhaseComplete   SyncPhase = "complete"
	PhaseError      SyncPhase = "error"
)

// SyncStage is the fine-grained step within a phase, used for progress
// weighting.
type SyncStage string

const (
	StageFetching   SyncStage = "fetching"
	StageProcessing SyncStage = "processing"
	StageUploading  SyncStage = "uploading"
	StageAnalyzing  SyncStage = "analyzing"
)

// Stage weights sum to 1.0. Upload dominates because it is the slow,
// failure-prone step.
const (
	fetchWeight     = 0.25
	normalizeWeight = 0.05
	uploadWeight    = 0.70
)

// SyncProgress is a point-in-time snapshot emitted after each upload
// page. ProcessedDataPoints is monotonically non-decreasing within one
// invocation.
type SyncProgress struct {
	Phase               SyncPhase           `json:"phase"`
	Stage               SyncStage           `json:"stage"`
	ProcessedDataPoints int                 `json:"processedDataPoints"`
	TotalDataPoints     int                 `json:"totalDataPoints"`
	CurrentChunk        int                 `json:"currentChunk"`
	TotalChunks         int                 `json:"totalChunks"`
	MetricsFound        map[MetricType]bool `json:"metricsFound,omitempty"`
}

// Fraction folds the stage weights into a single 0..1 completion value.
// Fetching and processing report their weight in full once reached;
// uploading interpolates by records sent.
func (p SyncProgress) Fraction() float64 {
	switch p.Stage {
	case StageFetching:
		return 0
	case StageProcessing:
		return fetchWeight
	case StageUploading:
		base := fetchWeight + normalizeWeight
		if p.TotalDataPoints == 0 {
			return base
		}
		return base + uploadWeight*float64(p.ProcessedDataPoints)/float64(p.TotalDataPoints)
	case StageAnalyzing:
		return fetchWeight + normalizeWeight + uploadWeight
	default:
		return 0
	}
}
