// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/resilience"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/store"
)

type fetchCall struct {
	metric     models.MetricType
	start, end time.Time
}

type fakeSource struct {
	samples  map[models.MetricType][]models.Sample
	fetchErr map[models.MetricType]error
	permErr  error
	panicOn  models.MetricType
	calls    []fetchCall
}

func (f *fakeSource) FetchSamples(_ context.Context, metric models.MetricType, start, end time.Time) ([]models.Sample, error) {
	f.calls = append(f.calls, fetchCall{metric, start, end})
	if f.panicOn != "" && metric == f.panicOn {
		panic("source implementation bug")
	}
	if err := f.fetchErr[metric]; err != nil {
		return nil, err
	}
	return f.samples[metric], nil
}

func (f *fakeSource) CheckPermissions(context.Context) error { return f.permErr }
func (f *fakeSource) DeviceID() string                       { return "device-test" }

type fakeBackend struct {
	batches       []models.UploadBatch
	failRemaining map[string]int
	orchestrated  []string
}

func (f *fakeBackend) UploadBatch(_ context.Context, batch models.UploadBatch) error {
	if f.failRemaining[batch.TargetTable] > 0 {
		f.failRemaining[batch.TargetTable]--
		return resilience.Transientf("upload to %s failed", batch.TargetTable)
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeBackend) OrchestrateSync(_ context.Context, syncType string) error {
	f.orchestrated = append(f.orchestrated, syncType)
	return nil
}

func sample(typ models.MetricType, value float64, at time.Time) models.Sample {
	return models.Sample{Type: typ, Value: value, StartTime: at, EndTime: at.Add(time.Minute)}
}

func prioritySamples(at time.Time) map[models.MetricType][]models.Sample {
	return map[models.MetricType][]models.Sample{
		models.MetricHeartRateVariability: {sample(models.MetricHeartRateVariability, 55, at)},
		models.MetricRestingHeartRate:     {sample(models.MetricRestingHeartRate, 52, at)},
		models.MetricSleep:                {sample(models.MetricSleep, 7.5, at)},
	}
}

func newTestEngine(t *testing.T, src *fakeSource, backend *fakeBackend) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open("", nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.SyncConfig{
		PriorityWindow: 48 * time.Hour,
		HistoricalDays: 90,
		ChunkDays:      7,
		PageSize:       200,
	}
	return NewEngine(cfg, st, backend, src), st
}

func TestPriorityInsufficientDataShortCircuits(t *testing.T) {
	t.Parallel()

	at := time.Now().Add(-2 * time.Hour)
	samples := prioritySamples(at)
	delete(samples, models.MetricSleep)

	backend := &fakeBackend{}
	engine, _ := newTestEngine(t, &fakeSource{samples: samples}, backend)

	res := engine.RunPriority(context.Background(), "u1")
	if res.Outcome != OutcomeInsufficientData {
		t.Fatalf("outcome = %s, want insufficient_data", res.Outcome)
	}
	if !errors.Is(res.Err, resilience.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", res.Err)
	}
	// The short-circuit fires before any network use.
	if len(backend.batches) != 0 {
		t.Errorf("uploads made despite insufficient data: %d", len(backend.batches))
	}
	if len(backend.orchestrated) != 0 {
		t.Errorf("orchestrate-sync called despite insufficient data")
	}
}

func TestPrioritySuccessUploadsAndOrchestrates(t *testing.T) {
	t.Parallel()

	at := time.Now().Add(-2 * time.Hour)
	backend := &fakeBackend{}
	engine, st := newTestEngine(t, &fakeSource{samples: prioritySamples(at)}, backend)

	res := engine.RunPriority(context.Background(), "u1")
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s (%v), want success", res.Outcome, res.Err)
	}
	if res.Uploaded != 3 {
		t.Errorf("uploaded = %d, want 3", res.Uploaded)
	}
	if len(backend.orchestrated) != 1 || backend.orchestrated[0] != "priority" {
		t.Errorf("orchestrated = %v, want [priority]", backend.orchestrated)
	}
	for _, b := range backend.batches {
		if b.IdempotencyKey == "" {
			t.Errorf("batch for %s missing idempotency key", b.TargetTable)
		}
		for _, r := range b.Records {
			if r.UserID != "u1" {
				t.Errorf("record user = %q, want u1", r.UserID)
			}
		}
	}
	if _, err := st.LastSyncTime(); err != nil {
		t.Errorf("last sync time not persisted: %v", err)
	}
}

func TestNormalizationDropsInvalidSamples(t *testing.T) {
	t.Parallel()

	now := time.Now()
	valid := sample(models.MetricHeartRate, 60, now.Add(-time.Hour))
	inverted := models.Sample{Type: models.MetricHeartRate, Value: 60, StartTime: now, EndTime: now.Add(-time.Minute)}
	future := sample(models.MetricHeartRate, 60, now.Add(2*time.Hour))
	implausible := sample(models.MetricHeartRate, 250, now.Add(-time.Hour))

	records := normalize("u1", "dev", []models.Sample{valid, inverted, future, implausible}, now)
	if len(records) != 1 {
		t.Fatalf("normalize kept %d records, want 1", len(records))
	}
	if records[0].Value != 60 || records[0].MetricType != models.MetricHeartRate {
		t.Errorf("kept wrong record: %+v", records[0])
	}
}

func TestUploadPagingAndProgressMonotonic(t *testing.T) {
	t.Parallel()

	at := time.Now().Add(-2 * time.Hour)
	samples := prioritySamples(at)
	// 450 heart-rate samples force three pages at page size 200.
	for i := 0; i < 450; i++ {
		samples[models.MetricHeartRate] = append(samples[models.MetricHeartRate],
			sample(models.MetricHeartRate, 60, at.Add(time.Duration(i)*time.Second)))
	}

	backend := &fakeBackend{}
	engine, _ := newTestEngine(t, &fakeSource{samples: samples}, backend)

	var snapshots []models.SyncProgress
	engine.OnProgress(func(p models.SyncProgress) { snapshots = append(snapshots, p) })

	res := engine.RunPriority(context.Background(), "u1")
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s (%v)", res.Outcome, res.Err)
	}

	pages := 0
	for _, b := range backend.batches {
		if b.TargetTable == "health_heart_rate" {
			pages++
			if len(b.Records) > 200 {
				t.Errorf("page of %d records exceeds page size", len(b.Records))
			}
		}
	}
	if pages != 3 {
		t.Errorf("heart-rate pages = %d, want 3 (200+200+50)", pages)
	}

	prevProcessed := -1
	prevFraction := -1.0
	for _, p := range snapshots {
		if p.ProcessedDataPoints < prevProcessed {
			t.Fatalf("processedDataPoints went backwards: %d after %d", p.ProcessedDataPoints, prevProcessed)
		}
		if f := p.Fraction(); f < prevFraction {
			t.Fatalf("progress fraction went backwards: %f after %f", f, prevFraction)
		} else {
			prevFraction = f
		}
		prevProcessed = p.ProcessedDataPoints
	}
}

func TestFailedPagePersistedAndFlushedNextRun(t *testing.T) {
	t.Parallel()

	at := time.Now().Add(-2 * time.Hour)
	backend := &fakeBackend{failRemaining: map[string]int{"health_sleep": 1}}
	engine, st := newTestEngine(t, &fakeSource{samples: prioritySamples(at)}, backend)

	res := engine.RunPriority(context.Background(), "u1")
	if res.Outcome != OutcomeFailure {
		t.Fatalf("outcome = %s, want failure", res.Outcome)
	}
	pending, _ := st.LoadFailedBatches()
	if len(pending) != 1 || pending[0].TargetTable != "health_sleep" {
		t.Fatalf("pending = %+v, want one health_sleep batch", pending)
	}

	// Backend healed: the next invocation flushes the pending page
	// before doing anything else.
	res = engine.RunPriority(context.Background(), "u1")
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("second run outcome = %s (%v)", res.Outcome, res.Err)
	}
	pending, _ = st.LoadFailedBatches()
	if len(pending) != 0 {
		t.Errorf("pending after flush = %+v, want empty", pending)
	}
}

func TestHistoricalChunkWindowAndCheckpoint(t *testing.T) {
	t.Parallel()

	src := &fakeSource{samples: map[models.MetricType][]models.Sample{}}
	backend := &fakeBackend{}
	engine, st := newTestEngine(t, src, backend)

	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	res := engine.RunHistoricalChunk(context.Background(), "u1", 0)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("chunk 0 outcome = %s (%v)", res.Outcome, res.Err)
	}

	// Chunk 0 covers the most recent 7 days.
	wantStart := fixed.Add(-7 * 24 * time.Hour)
	if len(src.calls) == 0 {
		t.Fatal("no fetches made")
	}
	for _, c := range src.calls {
		if !c.start.Equal(wantStart) || !c.end.Equal(fixed) {
			t.Errorf("fetch window [%v, %v], want [%v, %v]", c.start, c.end, wantStart, fixed)
		}
	}

	cp, err := st.LoadCheckpoint()
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp.LastCompletedChunk != 0 {
		t.Errorf("LastCompletedChunk = %d, want 0", cp.LastCompletedChunk)
	}
}

func TestNextChunkDoesNotCreateCheckpoint(t *testing.T) {
	t.Parallel()

	engine, st := newTestEngine(t, &fakeSource{}, &fakeBackend{})

	// A device that never started the backfill reports no pending work,
	// and observing that must not materialize a checkpoint.
	next, more, err := engine.NextChunk()
	if err != nil || more || next != 0 {
		t.Fatalf("NextChunk = %d, %v, %v; want 0, false, nil", next, more, err)
	}
	if _, err := st.LoadCheckpoint(); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("checkpoint exists after read-only poll: %v", err)
	}

	// The same holds after a disconnect wiped the backfill state.
	if err := st.SaveCheckpoint(&models.SyncCheckpoint{TotalDaysToSync: 90, ChunkSizeInDays: 7, LastCompletedChunk: 3}); err != nil {
		t.Fatal(err)
	}
	if err := st.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, more, _ := engine.NextChunk(); more {
		t.Error("NextChunk reports work after store reset")
	}
	if _, err := st.LoadCheckpoint(); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("checkpoint resurrected after reset: %v", err)
	}
}

func TestStartHistoricalBackfillInitializesCheckpoint(t *testing.T) {
	t.Parallel()

	engine, st := newTestEngine(t, &fakeSource{}, &fakeBackend{})

	next, more, err := engine.StartHistoricalBackfill()
	if err != nil || !more || next != 0 {
		t.Fatalf("StartHistoricalBackfill = %d, %v, %v; want 0, true, nil", next, more, err)
	}
	cp, err := st.LoadCheckpoint()
	if err != nil {
		t.Fatalf("checkpoint not created: %v", err)
	}
	if cp.TotalDaysToSync != 90 || cp.ChunkSizeInDays != 7 || cp.LastCompletedChunk != -1 {
		t.Errorf("fresh checkpoint = %+v", cp)
	}

	// Once created, both read paths agree.
	if n, m, _ := engine.NextChunk(); !m || n != next {
		t.Errorf("NextChunk after start = %d, %v; want %d, true", n, m, next)
	}
}

func TestHistoricalResumesAfterRestart(t *testing.T) {
	t.Parallel()

	src := &fakeSource{samples: map[models.MetricType][]models.Sample{}}
	engine, st := newTestEngine(t, src, &fakeBackend{})

	// Simulate a prior run that completed chunks 0..4.
	_ = st.SaveCheckpoint(&models.SyncCheckpoint{TotalDaysToSync: 90, ChunkSizeInDays: 7, LastCompletedChunk: 4})

	next, more, err := engine.NextChunk()
	if err != nil || !more || next != 5 {
		t.Fatalf("NextChunk = %d, %v, %v; want 5, true, nil", next, more, err)
	}

	res := engine.RunHistoricalChunk(context.Background(), "u1", 5)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("chunk 5 outcome = %s (%v)", res.Outcome, res.Err)
	}
	cp, _ := st.LoadCheckpoint()
	if cp.LastCompletedChunk != 5 {
		t.Errorf("LastCompletedChunk = %d, want 5", cp.LastCompletedChunk)
	}
}

func TestHistoricalReplayedChunkIsNoOp(t *testing.T) {
	t.Parallel()

	src := &fakeSource{samples: map[models.MetricType][]models.Sample{}}
	backend := &fakeBackend{}
	engine, st := newTestEngine(t, src, backend)

	_ = st.SaveCheckpoint(&models.SyncCheckpoint{TotalDaysToSync: 90, ChunkSizeInDays: 7, LastCompletedChunk: 4})

	// At-least-once delivery can replay an old chunk task.
	res := engine.RunHistoricalChunk(context.Background(), "u1", 2)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("replay outcome = %s (%v)", res.Outcome, res.Err)
	}
	if len(src.calls) != 0 {
		t.Errorf("replay fetched data: %d calls", len(src.calls))
	}
	if len(backend.batches) != 0 {
		t.Errorf("replay uploaded data: %d batches", len(backend.batches))
	}
	cp, _ := st.LoadCheckpoint()
	if cp.LastCompletedChunk != 4 {
		t.Errorf("checkpoint moved on replay: %d", cp.LastCompletedChunk)
	}
}

func TestHistoricalCompletionAfterFinalChunk(t *testing.T) {
	t.Parallel()

	src := &fakeSource{samples: map[models.MetricType][]models.Sample{}}
	engine, st := newTestEngine(t, src, &fakeBackend{})

	// 90/7 rounds up to 13 chunks; 11 done, chunk 12 is the last.
	_ = st.SaveCheckpoint(&models.SyncCheckpoint{TotalDaysToSync: 90, ChunkSizeInDays: 7, LastCompletedChunk: 11})

	res := engine.RunHistoricalChunk(context.Background(), "u1", 12)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("final chunk outcome = %s (%v)", res.Outcome, res.Err)
	}
	if !res.HistoricalComplete {
		t.Error("HistoricalComplete = false after final chunk")
	}
	if _, more, _ := engine.NextChunk(); more {
		t.Error("NextChunk reports work after completion")
	}
}

func TestPanicInSourceBecomesFailureResult(t *testing.T) {
	t.Parallel()

	src := &fakeSource{samples: prioritySamples(time.Now().Add(-time.Hour)), panicOn: models.MetricSteps}
	engine, _ := newTestEngine(t, src, &fakeBackend{})

	res := engine.RunPriority(context.Background(), "u1")
	if res.Outcome != OutcomeFailure {
		t.Fatalf("outcome = %s, want failure", res.Outcome)
	}
	if res.Err == nil {
		t.Error("panic result carries no error")
	}
}

func TestPermissionFailureIsFailureNotPanic(t *testing.T) {
	t.Parallel()

	src := &fakeSource{permErr: errors.New("health data access denied")}
	engine, _ := newTestEngine(t, src, &fakeBackend{})

	res := engine.RunPriority(context.Background(), "u1")
	if res.Outcome != OutcomeFailure || res.Err == nil {
		t.Fatalf("result = %+v, want failure with error", res)
	}
}
