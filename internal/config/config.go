// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package config provides layered configuration management for
// HealthBridge: built-in defaults, an optional YAML file, and
// environment variable overrides, loaded through Koanf.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root application configuration.
type Config struct {
	API       APIConfig       `koanf:"api" validate:"required"`
	Source    SourceConfig    `koanf:"source"`
	Sync      SyncConfig      `koanf:"sync"`
	Realtime  RealtimeConfig  `koanf:"realtime"`
	Storage   StorageConfig   `koanf:"storage"`
	TaskQueue TaskQueueConfig `koanf:"taskqueue"`
	Diag      DiagConfig      `koanf:"diag"`
	Logging   LoggingConfig   `koanf:"logging"`

	// AppSecret seeds credential-at-rest encryption via HKDF. Required.
	AppSecret string `koanf:"app_secret" validate:"required,min=16"`
}

// APIConfig configures the Oseer backend client.
type APIConfig struct {
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// RequestTimeout bounds every HTTP round-trip.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// UploadRatePerSecond throttles batch upload pages. 0 disables
	// throttling.
	UploadRatePerSecond float64 `koanf:"upload_rate_per_second"`
}

// SourceConfig configures the local health-data bridge. The bridge is
// the platform-side shim exposing the device health store over loopback
// HTTP.
type SourceConfig struct {
	BridgeURL      string        `koanf:"bridge_url" validate:"omitempty,url"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// SyncConfig configures the chunked sync engine.
type SyncConfig struct {
	// PriorityWindow is the unchunked window for the first sync after
	// connecting.
	PriorityWindow time.Duration `koanf:"priority_window"`

	// HistoricalDays is the total historical span to backfill.
	HistoricalDays int `koanf:"historical_days" validate:"gt=0"`

	// ChunkDays is the size of one historical chunk.
	ChunkDays int `koanf:"chunk_days" validate:"gt=0"`

	// PageSize is the number of records per upload page.
	PageSize int `koanf:"page_size" validate:"gt=0"`

	// HandoffPollInterval is how often the state machine polls the
	// handoff status endpoint while awaiting web validation.
	HandoffPollInterval time.Duration `koanf:"handoff_poll_interval"`

	// HandoffTimeout is the ceiling on the whole web handoff flow.
	HandoffTimeout time.Duration `koanf:"handoff_timeout"`
}

// RealtimeConfig configures the push channel client.
type RealtimeConfig struct {
	// URL is the websocket endpoint; the per-device channel name is
	// appended as a query parameter on subscribe.
	URL string `koanf:"url"`

	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	ConnectTimeout    time.Duration `koanf:"connect_timeout"`

	// MaxReconnectAttempts caps exponential reconnect backoff; past it
	// the channel goes terminal until connectivity is restored.
	MaxReconnectAttempts int `koanf:"max_reconnect_attempts"`
}

// StorageConfig configures durable local state.
type StorageConfig struct {
	// Path is the BadgerDB directory. Empty selects in-memory storage
	// (tests only).
	Path string `koanf:"path"`
}

// TaskQueueConfig configures the background task chain.
type TaskQueueConfig struct {
	Enabled bool `koanf:"enabled"`

	// EmbeddedServer runs an in-process NATS JetStream instance.
	EmbeddedServer bool   `koanf:"embedded_server"`
	URL            string `koanf:"url"`
	StoreDir       string `koanf:"store_dir"`
	Port           int    `koanf:"port"`

	// MonitorInterval is how often the monitor task checks for stalled
	// historical progress.
	MonitorInterval time.Duration `koanf:"monitor_interval"`
}

// DiagConfig configures the loopback diagnostics HTTP server.
type DiagConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// defaultConfig returns a Config with sensible defaults. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:             "https://api.oseer.app",
			RequestTimeout:      30 * time.Second,
			UploadRatePerSecond: 5,
		},
		Source: SourceConfig{
			BridgeURL:      "http://127.0.0.1:18733",
			RequestTimeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			PriorityWindow:      48 * time.Hour,
			HistoricalDays:      90,
			ChunkDays:           7,
			PageSize:            200,
			HandoffPollInterval: 5 * time.Second,
			HandoffTimeout:      5 * time.Minute,
		},
		Realtime: RealtimeConfig{
			URL:                  "wss://realtime.oseer.app/socket",
			HeartbeatInterval:    30 * time.Second,
			ConnectTimeout:       15 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Storage: StorageConfig{
			Path: "/data/healthbridge",
		},
		TaskQueue: TaskQueueConfig{
			Enabled:         true,
			EmbeddedServer:  true,
			URL:             "nats://127.0.0.1:4222",
			StoreDir:        "/data/healthbridge/jetstream",
			Port:            4222,
			MonitorInterval: 15 * time.Minute,
		},
		Diag: DiagConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for internal consistency. Struct
// tag validation runs first, followed by cross-field checks the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Sync.ChunkDays > c.Sync.HistoricalDays {
		return fmt.Errorf("config validation: chunk_days (%d) exceeds historical_days (%d)",
			c.Sync.ChunkDays, c.Sync.HistoricalDays)
	}
	if c.Sync.HandoffPollInterval >= c.Sync.HandoffTimeout {
		return fmt.Errorf("config validation: handoff_poll_interval must be below handoff_timeout")
	}
	if c.TaskQueue.Enabled && !c.TaskQueue.EmbeddedServer && c.TaskQueue.URL == "" {
		return fmt.Errorf("config validation: taskqueue requires a URL when the embedded server is disabled")
	}
	return nil
}
