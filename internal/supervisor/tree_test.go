// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
)

type countingService struct {
	starts   atomic.Int32
	failOnce bool
}

func (s *countingService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	if s.failOnce && n == 1 {
		return errors.New("transient startup failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return "counting-service" }

func testLogger() *slog.Logger {
	return slog.New(logging.NewSlogHandler())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTreeRunsServicesInAllLayers(t *testing.T) {
	t.Parallel()

	tree := NewTree(testLogger(), DefaultTreeConfig())
	core := &countingService{}
	messaging := &countingService{}
	api := &countingService{}
	tree.AddCoreService(core)
	tree.AddMessagingService(messaging)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return core.starts.Load() >= 1 && messaging.starts.Load() >= 1 && api.starts.Load() >= 1
	})

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	t.Parallel()

	tree := NewTree(testLogger(), TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	svc := &countingService{failOnce: true}
	tree.AddMessagingService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitFor(t, 2*time.Second, func() bool { return svc.starts.Load() >= 2 })
}

func TestRunnerServiceAdapts(t *testing.T) {
	t.Parallel()

	ran := false
	svc := NewRunnerService("machine", runnerFunc(func(ctx context.Context) error {
		ran = true
		return ctx.Err()
	}))
	if svc.String() != "machine" {
		t.Errorf("name = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}
	if !ran {
		t.Error("runner was not invoked")
	}
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }
