// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package resilience

import (
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

func testBreakerGroup(maxFailures uint32, cooldown time.Duration) *BreakerGroup {
	return NewBreakerGroupWithSettings(map[string]BreakerSettings{
		CategoryBatchUpload: {MaxFailures: maxFailures, Cooldown: cooldown},
	})
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	group := testBreakerGroup(5, time.Minute)

	calls := 0
	failing := func() (any, error) {
		calls++
		return nil, Transientf("upload failed")
	}

	for i := 0; i < 5; i++ {
		if _, err := group.Execute(CategoryBatchUpload, failing); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	if group.State(CategoryBatchUpload) != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open after 5 consecutive failures", group.State(CategoryBatchUpload))
	}

	// Sixth call must short-circuit: rejected with no attempt made.
	_, err := group.Execute(CategoryBatchUpload, failing)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected circuit-open rejection, got %v", err)
	}
	if calls != 5 {
		t.Errorf("calls = %d, want 5 (open circuit must not invoke the operation)", calls)
	}
}

func TestBreakerAllowsOneProbeAfterCooldown(t *testing.T) {
	t.Parallel()

	group := testBreakerGroup(2, 50*time.Millisecond)

	calls := 0
	failing := func() (any, error) {
		calls++
		return nil, Transientf("upload failed")
	}

	for i := 0; i < 2; i++ {
		_, _ = group.Execute(CategoryBatchUpload, failing)
	}
	if group.State(CategoryBatchUpload) != gobreaker.StateOpen {
		t.Fatal("expected open state")
	}

	time.Sleep(60 * time.Millisecond)

	// After cooldown the breaker is half-open: exactly one probe runs.
	probeRan := false
	_, err := group.Execute(CategoryBatchUpload, func() (any, error) {
		probeRan = true
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if !probeRan {
		t.Fatal("probe was not invoked after cooldown")
	}
	if group.State(CategoryBatchUpload) != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed after successful probe", group.State(CategoryBatchUpload))
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	group := testBreakerGroup(3, time.Minute)

	fail := func() (any, error) { return nil, Transientf("fail") }
	ok := func() (any, error) { return nil, nil }

	_, _ = group.Execute(CategoryBatchUpload, fail)
	_, _ = group.Execute(CategoryBatchUpload, fail)
	_, _ = group.Execute(CategoryBatchUpload, ok)
	_, _ = group.Execute(CategoryBatchUpload, fail)
	_, _ = group.Execute(CategoryBatchUpload, fail)

	// Never reached 3 consecutive failures, so the circuit stays closed.
	if group.State(CategoryBatchUpload) != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", group.State(CategoryBatchUpload))
	}
}

func TestBreakerCategoriesAreIndependent(t *testing.T) {
	t.Parallel()

	group := NewBreakerGroupWithSettings(map[string]BreakerSettings{
		CategoryOrchestration: {MaxFailures: 1, Cooldown: time.Minute},
		CategoryBatchUpload:   {MaxFailures: 5, Cooldown: time.Minute},
	})

	_, _ = group.Execute(CategoryOrchestration, func() (any, error) {
		return nil, Transientf("orchestration down")
	})
	if group.State(CategoryOrchestration) != gobreaker.StateOpen {
		t.Fatal("orchestration breaker should be open")
	}

	// Batch uploads are unaffected.
	_, err := group.Execute(CategoryBatchUpload, func() (any, error) { return "ok", nil })
	if err != nil {
		t.Errorf("batch-upload call failed: %v", err)
	}
}
