// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/metrics"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/resilience"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/store"
)

// Outcome classifies a finished sync invocation.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeInsufficientData Outcome = "insufficient_data"
	OutcomeFailure          Outcome = "failure"
)

// Result is the typed return of one sync invocation. The engine never
// lets a panic escape; internal panics surface here as failures.
type Result struct {
	Outcome            Outcome
	Fetched            int
	Uploaded           int
	MetricsFound       map[models.MetricType]bool
	HistoricalComplete bool
	Err                error
}

// Engine runs priority and historical sync windows against a sample
// source and the backend, persisting checkpoints and failed pages
// through the store.
type Engine struct {
	cfg     config.SyncConfig
	store   *store.Store
	backend Backend
	source  SampleSource

	progress func(models.SyncProgress)
	now      func() time.Time
}

// NewEngine creates a sync engine.
func NewEngine(cfg config.SyncConfig, st *store.Store, backend Backend, source SampleSource) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   st,
		backend: backend,
		source:  source,
		now:     time.Now,
	}
}

// OnProgress installs a callback invoked after each uploaded page.
func (e *Engine) OnProgress(fn func(models.SyncProgress)) {
	e.progress = fn
}

// RunPriority syncs the recent unchunked window that unblocks first
// analysis. If any required metric has no samples in the window, the
// invocation short-circuits as insufficient data before any upload
// call; that result is terminal, never retried.
func (e *Engine) RunPriority(ctx context.Context, userID string) (result Result) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			result = Result{Outcome: OutcomeFailure, Err: fmt.Errorf("priority sync panic: %v", r)}
		}
		metrics.SyncDuration.WithLabelValues("priority").Observe(e.now().Sub(start).Seconds())
		metrics.SyncOutcomes.WithLabelValues("priority", string(result.Outcome)).Inc()
	}()

	if err := e.source.CheckPermissions(ctx); err != nil {
		return Result{Outcome: OutcomeFailure, Err: fmt.Errorf("health data permissions: %w", err)}
	}
	e.flushFailedBatches(ctx)

	now := e.now()
	windowStart := now.Add(-e.cfg.PriorityWindow)
	samples, found := e.fetchWindow(ctx, windowStart, now)

	for _, required := range models.RequiredPriorityMetrics {
		if !found[required] {
			logging.Info().
				Str("missing_metric", string(required)).
				Msg("priority window lacks a required metric")
			return Result{
				Outcome:      OutcomeInsufficientData,
				Fetched:      len(samples),
				MetricsFound: found,
				Err:          resilience.ErrInsufficientData,
			}
		}
	}

	e.emitProgress(models.PhasePriority, models.StageProcessing, 0, 0, 0, 1, found)
	records := normalize(userID, e.source.DeviceID(), samples, now)

	uploaded, err := e.uploadPages(ctx, userID, records, models.PhasePriority, 0, 1, found)
	if err != nil {
		return Result{Outcome: OutcomeFailure, Fetched: len(samples), Uploaded: uploaded, MetricsFound: found, Err: err}
	}

	// Fire-and-forget: completion arrives via the realtime channel or
	// the polling fallback. An orchestration failure does not undo the
	// uploaded window.
	if err := e.backend.OrchestrateSync(ctx, "priority"); err != nil {
		logging.Warn().Err(err).Msg("orchestrate-sync call failed after priority upload")
	}
	e.emitProgress(models.PhasePriority, models.StageAnalyzing, uploaded, len(records), 0, 1, found)

	if err := e.store.SetLastSyncTime(now); err != nil {
		logging.Warn().Err(err).Msg("persist last sync time")
	}
	return Result{Outcome: OutcomeSuccess, Fetched: len(samples), Uploaded: uploaded, MetricsFound: found}
}

// RunHistoricalChunk syncs one chunk of the historical backfill. Chunk
// i covers [now-(i+1)*size, now-i*size). A chunk at or below the
// persisted checkpoint is acked as an idempotent replay without
// re-fetching or re-uploading.
func (e *Engine) RunHistoricalChunk(ctx context.Context, userID string, chunkIndex int) (result Result) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			result = Result{Outcome: OutcomeFailure, Err: fmt.Errorf("historical sync panic: %v", r)}
		}
		metrics.SyncDuration.WithLabelValues("historical").Observe(e.now().Sub(start).Seconds())
		metrics.SyncOutcomes.WithLabelValues("historical", string(result.Outcome)).Inc()
	}()

	cp, err := e.loadOrInitCheckpoint()
	if err != nil {
		return Result{Outcome: OutcomeFailure, Err: err}
	}
	if chunkIndex <= cp.LastCompletedChunk {
		logging.Debug().Int("chunk", chunkIndex).Msg("chunk already completed, skipping replay")
		return Result{Outcome: OutcomeSuccess, HistoricalComplete: cp.IsComplete()}
	}
	if chunkIndex >= cp.TotalChunks() {
		return Result{Outcome: OutcomeFailure, Err: fmt.Errorf("chunk %d out of range, total %d", chunkIndex, cp.TotalChunks())}
	}

	e.flushFailedBatches(ctx)

	now := e.now()
	size := time.Duration(cp.ChunkSizeInDays) * 24 * time.Hour
	windowEnd := now.Add(-time.Duration(chunkIndex) * size)
	windowStart := now.Add(-time.Duration(chunkIndex+1) * size)

	samples, found := e.fetchWindow(ctx, windowStart, windowEnd)
	records := normalize(userID, e.source.DeviceID(), samples, now)

	uploaded, err := e.uploadPages(ctx, userID, records, models.PhaseHistorical, chunkIndex, cp.TotalChunks(), found)
	if err != nil {
		return Result{Outcome: OutcomeFailure, Fetched: len(samples), Uploaded: uploaded, Err: err}
	}

	// The checkpoint only moves after the whole chunk landed, so a
	// crash between upload and advance re-runs the chunk and the
	// idempotency keys absorb the duplicates.
	if err := e.store.AdvanceCheckpoint(chunkIndex); err != nil {
		return Result{Outcome: OutcomeFailure, Fetched: len(samples), Uploaded: uploaded, Err: err}
	}
	metrics.ChunksCompleted.Inc()

	cp, err = e.store.LoadCheckpoint()
	if err != nil {
		return Result{Outcome: OutcomeFailure, Uploaded: uploaded, Err: err}
	}
	if cp.IsComplete() {
		logging.Info().Int("chunks", cp.TotalChunks()).Msg("historical backfill complete")
	}
	return Result{
		Outcome:            OutcomeSuccess,
		Fetched:            len(samples),
		Uploaded:           uploaded,
		HistoricalComplete: cp.IsComplete(),
	}
}

// NextChunk returns the next historical chunk index and whether any
// work remains. Read-only: a device that never started the backfill
// has no checkpoint and therefore no pending work.
func (e *Engine) NextChunk() (int, bool, error) {
	cp, err := e.store.LoadCheckpoint()
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if cp.IsComplete() {
		return 0, false, nil
	}
	return cp.NextChunk(), true, nil
}

// StartHistoricalBackfill creates the checkpoint on the first call and
// returns the next chunk to run. This is the only read path allowed to
// initialize the checkpoint; observation paths use NextChunk.
func (e *Engine) StartHistoricalBackfill() (int, bool, error) {
	cp, err := e.loadOrInitCheckpoint()
	if err != nil {
		return 0, false, err
	}
	if cp.IsComplete() {
		return 0, false, nil
	}
	return cp.NextChunk(), true, nil
}

func (e *Engine) loadOrInitCheckpoint() (*models.SyncCheckpoint, error) {
	cp, err := e.store.LoadCheckpoint()
	if errors.Is(err, store.ErrNotFound) {
		cp = models.NewSyncCheckpoint(e.cfg.HistoricalDays, e.cfg.ChunkDays)
		if err := e.store.SaveCheckpoint(cp); err != nil {
			return nil, fmt.Errorf("initialize checkpoint: %w", err)
		}
		return cp, nil
	}
	return cp, err
}

// fetchWindow pulls every supported metric type for a window. A failing
// type yields an empty result and the fetch continues: partial data
// beats no data.
func (e *Engine) fetchWindow(ctx context.Context, start, end time.Time) ([]models.Sample, map[models.MetricType]bool) {
	var all []models.Sample
	found := make(map[models.MetricType]bool, len(models.SupportedMetricTypes))

	for _, metric := range models.SupportedMetricTypes {
		samples, err := e.source.FetchSamples(ctx, metric, start, end)
		if err != nil {
			logging.Warn().Err(err).Str("metric_type", string(metric)).Msg("fetch failed for metric type, continuing")
			continue
		}
		metrics.SamplesFetched.WithLabelValues(string(metric)).Add(float64(len(samples)))
		if len(samples) > 0 {
			found[metric] = true
		}
		all = append(all, samples...)
	}
	return all, found
}

// uploadPages groups records by destination table and uploads them in
// fixed-size pages, sequentially. On a page failure the unsent page is
// persisted for resend and the invocation stops; pages already sent
// stay sent.
func (e *Engine) uploadPages(ctx context.Context, userID string, records []models.UploadRecord, phase models.SyncPhase, chunk, totalChunks int, found map[models.MetricType]bool) (int, error) {
	byTable := make(map[string][]models.UploadRecord)
	var tables []string
	for _, r := range records {
		table := r.MetricType.TargetTable()
		if _, seen := byTable[table]; !seen {
			tables = append(tables, table)
		}
		byTable[table] = append(byTable[table], r)
	}

	uploaded := 0
	for _, table := range tables {
		rows := byTable[table]
		for offset := 0; offset < len(rows); offset += e.cfg.PageSize {
			pageEnd := min(offset+e.cfg.PageSize, len(rows))
			batch := models.UploadBatch{
				TargetTable:    table,
				Records:        rows[offset:pageEnd],
				IdempotencyKey: models.IdempotencyKey(userID, table, e.now()),
			}

			if err := e.backend.UploadBatch(ctx, batch); err != nil {
				if persistErr := e.store.SaveFailedBatch(batch); persistErr != nil {
					logging.Error().Err(persistErr).Str("table", table).Msg("persist failed batch")
				}
				return uploaded, fmt.Errorf("upload page to %s: %w", table, err)
			}

			uploaded += len(batch.Records)
			e.emitProgress(phase, models.StageUploading, uploaded, len(records), chunk, totalChunks, found)
		}
	}
	return uploaded, nil
}

// flushFailedBatches resends pages persisted by earlier failed
// invocations. A batch that fails again stays persisted for the next
// attempt; flushing is best-effort and never fails the sync.
func (e *Engine) flushFailedBatches(ctx context.Context) {
	pending, err := e.store.LoadFailedBatches()
	if err != nil {
		logging.Warn().Err(err).Msg("load pending failed batches")
		return
	}
	for _, batch := range pending {
		if err := e.backend.UploadBatch(ctx, batch); err != nil {
			logging.Warn().Err(err).Str("table", batch.TargetTable).Msg("failed batch resend still failing")
			continue
		}
		if err := e.store.DeleteFailedBatch(batch.TargetTable); err != nil {
			logging.Warn().Err(err).Str("table", batch.TargetTable).Msg("clear resent batch")
		}
		logging.Info().Str("table", batch.TargetTable).Int("records", len(batch.Records)).Msg("resent previously failed batch")
	}
}

func (e *Engine) emitProgress(phase models.SyncPhase, stage models.SyncStage, processed, total, chunk, totalChunks int, found map[models.MetricType]bool) {
	if e.progress == nil {
		return
	}
	e.progress(models.SyncProgress{
		Phase:               phase,
		Stage:               stage,
		ProcessedDataPoints: processed,
		TotalDataPoints:     total,
		CurrentChunk:        chunk,
		TotalChunks:         totalChunks,
		MetricsFound:        found,
	})
}
