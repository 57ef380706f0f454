// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/store"
	syncengine "github.com/oseer-algo/oseer-healthbridge-sub001/internal/sync"
)

type fakeRunner struct {
	calls  []int
	result syncengine.Result
}

func (f *fakeRunner) RunHistoricalChunk(_ context.Context, _ string, chunk int) syncengine.Result {
	f.calls = append(f.calls, chunk)
	return f.result
}

func chunkMessage(t *testing.T, task HistoricalChunkTask) *message.Message {
	t.Helper()
	payload, err := task.marshal()
	if err != nil {
		t.Fatal(err)
	}
	return message.NewMessage(watermill.NewUUID(), payload)
}

func TestChunkHandlerRunsTask(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{result: syncengine.Result{Outcome: syncengine.OutcomeSuccess, Uploaded: 10, Fetched: 10}}
	cleanups := 0
	h := &ChunkHandler{factory: func(context.Context) (ChunkRunner, func(), error) {
		return runner, func() { cleanups++ }, nil
	}}

	msg := chunkMessage(t, HistoricalChunkTask{UserID: "u1", ChunkIndex: 5, EnqueuedAt: time.Now()})
	if err := h.Handle(msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0] != 5 {
		t.Errorf("runner calls = %v, want [5]", runner.calls)
	}
	if cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleanups)
	}
}

func TestChunkHandlerReplayedTaskAcks(t *testing.T) {
	t.Parallel()

	// An already-completed chunk replays as a no-op result; the handler
	// must ack (nil error), not push it into retry.
	runner := &fakeRunner{result: syncengine.Result{Outcome: syncengine.OutcomeSuccess}}
	h := &ChunkHandler{factory: func(context.Context) (ChunkRunner, func(), error) {
		return runner, func() {}, nil
	}}

	msg := chunkMessage(t, HistoricalChunkTask{UserID: "u1", ChunkIndex: 2})
	if err := h.Handle(msg); err != nil {
		t.Fatalf("replayed task must ack, got %v", err)
	}
}

func TestChunkHandlerFailureNacks(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{result: syncengine.Result{
		Outcome: syncengine.OutcomeFailure,
		Err:     errors.New("upload page to health_sleep: 502"),
	}}
	h := &ChunkHandler{factory: func(context.Context) (ChunkRunner, func(), error) {
		return runner, func() {}, nil
	}}

	msg := chunkMessage(t, HistoricalChunkTask{UserID: "u1", ChunkIndex: 3})
	if err := h.Handle(msg); err == nil {
		t.Fatal("failed chunk must return an error for the retry pipeline")
	}
}

func TestChunkHandlerRejectsGarbagePayload(t *testing.T) {
	t.Parallel()

	h := &ChunkHandler{factory: func(context.Context) (ChunkRunner, func(), error) {
		t.Fatal("factory must not run for an unparseable task")
		return nil, nil, nil
	}}

	msg := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	if err := h.Handle(msg); err == nil {
		t.Fatal("garbage payload must error toward the poison queue")
	}

	neg, _ := HistoricalChunkTask{UserID: "u1", ChunkIndex: -1}.marshal()
	if err := h.Handle(message.NewMessage(watermill.NewUUID(), neg)); err == nil {
		t.Fatal("negative chunk index must be rejected")
	}
}

type fakeProgress struct {
	chunk int
	more  bool
	err   error
}

func (f *fakeProgress) NextChunk() (int, bool, error) { return f.chunk, f.more, f.err }

type recordingEnqueuer struct {
	chunks []int
}

func (r *recordingEnqueuer) EnqueueHistoricalSyncChunk(_ string, chunk int) error {
	r.chunks = append(r.chunks, chunk)
	return nil
}

func TestMonitorReEnqueuesOnlyWhenStalled(t *testing.T) {
	t.Parallel()

	progress := &fakeProgress{chunk: 4, more: true}
	queue := &recordingEnqueuer{}
	m := NewMonitor(time.Minute, func() string { return "u1" }, progress, queue)

	// First observation of chunk 4: just remember it.
	m.tick()
	if len(queue.chunks) != 0 {
		t.Fatalf("enqueued on first observation: %v", queue.chunks)
	}

	// Still chunk 4 on the next tick: stalled, re-enqueue.
	m.tick()
	if len(queue.chunks) != 1 || queue.chunks[0] != 4 {
		t.Fatalf("enqueued = %v, want [4]", queue.chunks)
	}

	// Progress moved: no enqueue.
	progress.chunk = 5
	m.tick()
	if len(queue.chunks) != 1 {
		t.Fatalf("enqueued after progress = %v", queue.chunks)
	}

	// Backfill finished: monitor goes quiet.
	progress.more = false
	m.tick()
	m.tick()
	if len(queue.chunks) != 1 {
		t.Fatalf("enqueued after completion = %v", queue.chunks)
	}
}

func TestMonitorQuietBeforeOnboarding(t *testing.T) {
	t.Parallel()

	progress := &fakeProgress{chunk: 0, more: true}
	queue := &recordingEnqueuer{}
	user := ""
	m := NewMonitor(time.Minute, func() string { return user }, progress, queue)

	// Without a user there is no backend account to sync against, no
	// matter what the progress source claims.
	m.tick()
	m.tick()
	m.tick()
	if len(queue.chunks) != 0 {
		t.Fatalf("enqueued before onboarding: %v", queue.chunks)
	}

	// Onboarding completed: normal stall detection resumes.
	user = "u1"
	m.tick()
	m.tick()
	if len(queue.chunks) != 1 || queue.chunks[0] != 0 {
		t.Fatalf("enqueued = %v, want [0]", queue.chunks)
	}
}

// A never-started backfill has no checkpoint; watching it must neither
// enqueue work nor create one.
func TestMonitorDoesNotStartBackfill(t *testing.T) {
	t.Parallel()

	st, err := store.Open("", nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	engine := syncengine.NewEngine(config.SyncConfig{HistoricalDays: 90, ChunkDays: 7, PageSize: 200}, st, nil, nil)
	queue := &recordingEnqueuer{}
	m := NewMonitor(time.Minute, func() string { return "u1" }, engine, queue)

	m.tick()
	m.tick()
	if len(queue.chunks) != 0 {
		t.Fatalf("enqueued on fresh store: %v", queue.chunks)
	}
	if _, err := st.LoadCheckpoint(); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("monitor created a checkpoint: %v", err)
	}
}
