// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package supervisor

import (
	"context"
)

// Runner is the Run-style lifecycle the connection machine exposes.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService adapts a Run(ctx) component to suture.Service.
type RunnerService struct {
	name   string
	runner Runner
}

// NewRunnerService wraps runner under the given service name.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{name: name, runner: runner}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String identifies the service in supervisor logs.
func (s *RunnerService) String() string { return s.name }
