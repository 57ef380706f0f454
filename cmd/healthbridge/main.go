// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Command healthbridge runs the sync daemon: the connection state
// machine, the realtime channel, the background task chain, and the
// loopback diagnostics server, all under one supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/api"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/conn"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/diag"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/healthsource"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/realtime"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/resilience"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/store"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/supervisor"
	syncengine "github.com/oseer-algo/oseer-healthbridge-sub001/internal/sync"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/taskqueue"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("healthbridge exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Info().Str("api", cfg.API.BaseURL).Msg("healthbridge starting")

	encryptor, err := config.NewCredentialEncryptor(cfg.AppSecret)
	if err != nil {
		return fmt.Errorf("init credential encryption: %w", err)
	}

	st, err := store.Open(cfg.Storage.Path, encryptor)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Warn().Err(err).Msg("close store")
		}
	}()

	// One device id for the whole process: the state machine, the
	// realtime channel name, and upload attribution all key off it.
	deviceID, err := st.DeviceID()
	if errors.Is(err, store.ErrNotFound) {
		deviceID = uuid.NewString()
		if err := st.SetDeviceID(deviceID); err != nil {
			return fmt.Errorf("persist device id: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read device id: %w", err)
	}

	breakers := resilience.NewBreakerGroup()
	client := api.New(cfg.API, breakers)

	bridge := healthsource.NewBridge(cfg.Source)
	engine := syncengine.NewEngine(cfg.Sync, st, client, bridge)
	machine := conn.New(cfg.Sync, st, client, engine)
	engine.OnProgress(machine.ReportProgress)

	// A persisted credential re-enters the connected flow through the
	// machine so it is revalidated, not just installed on the client.
	// The event waits in the machine's queue until the tree starts it.
	if cred, err := st.LoadCredential(); err == nil {
		logging.Info().Msg("restored persisted connection credential, revalidating")
		machine.Connect(cred.Token)
	}

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	tree.AddCoreService(supervisor.NewRunnerService("connection-machine", machine))

	rt := realtime.NewClient(cfg.Realtime, deviceID, machine.HandleRealtimeEvent)
	rt.OnStateChange(machine.SetRealtimeStatus)
	machine.AttachRealtime(rt)
	tree.AddMessagingService(rt)

	var queue *taskqueue.Queue
	if cfg.TaskQueue.Enabled {
		// Each delivered task rebuilds its API client and engine so the
		// execution depends only on the payload and durable state.
		factory := func(context.Context) (taskqueue.ChunkRunner, func(), error) {
			cred, err := st.LoadCredential()
			if err != nil {
				return nil, nil, fmt.Errorf("no credential for background sync: %w", err)
			}
			taskClient := api.New(cfg.API, breakers)
			taskClient.SetToken(cred.Token)
			return syncengine.NewEngine(cfg.Sync, st, taskClient, bridge), func() {}, nil
		}

		queue, err = taskqueue.New(cfg.TaskQueue, factory)
		if err != nil {
			return fmt.Errorf("init task queue: %w", err)
		}
		machine.AttachQueue(queue)
		tree.AddMessagingService(queue)

		userID := func() string {
			id, err := st.UserID()
			if err != nil {
				return ""
			}
			return id
		}
		tree.AddMessagingService(taskqueue.NewMonitor(cfg.TaskQueue.MonitorInterval, userID, engine, queue))
	}

	if cfg.Diag.Enabled {
		tree.AddAPIService(diag.NewServer(cfg.Diag, machine))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = <-tree.ServeBackground(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervision tree stopped")
	}
	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop within shutdown timeout")
		}
	}

	if queue != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := queue.Close(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("close task queue")
		}
	}

	logging.Info().Msg("healthbridge stopped")
	return nil
}
