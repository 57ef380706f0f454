// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package conn implements the connection state machine that sequences
// onboarding, web handoff, priority sync, historical backfill, and
// steady state. All state mutation happens on one dispatch goroutine;
// other components interact by posting events.
package conn

import (
	"time"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected             Status = "disconnected"
	StatusConnecting               Status = "connecting"
	StatusAwaitingHandoff          Status = "awaiting_handoff"
	StatusValidatingToken          Status = "validating_token"
	StatusConnected                Status = "connected"
	StatusSyncIntro                Status = "sync_intro"
	StatusSyncing                  Status = "syncing"
	StatusProcessing               Status = "processing"
	StatusHistoricalSyncReady      Status = "historical_sync_ready"
	StatusSyncFailed               Status = "sync_failed"
	StatusSyncInsufficientData     Status = "sync_insufficient_data"
	StatusPrioritySyncComplete     Status = "priority_sync_complete"
	StatusHistoricalSyncInProgress Status = "historical_sync_in_progress"
	StatusHistoricalSyncPaused     Status = "historical_sync_paused"
	StatusComplete                 Status = "complete"
	StatusReconnecting             Status = "reconnecting"
	StatusDisconnecting            Status = "disconnecting"
	StatusError                    Status = "error"
)

// ConnectionState is the authoritative view the rest of the process
// reads. Mutated only by the machine's dispatch loop.
type ConnectionState struct {
	Status                  Status
	UserID                  string
	DeviceID                string
	ConnectionToken         string
	LastSyncTime            time.Time
	IsAwaitingWebValidation bool
	IsSyncing               bool
	WellnessPhase           string
	RealtimeStatus          string
	ErrorMessage            string
	Progress                models.SyncProgress
}

// Wellness phases: calibrating after the first analyzed window,
// established once the historical backfill lands.
const (
	WellnessCalibrating = "calibrating"
	WellnessEstablished = "established"
)
