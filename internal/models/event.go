// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package models

import "time"

// EventType names a realtime notification kind.
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventSyncComplete          EventType = "sync_complete"
)

// Event is the canonical realtime notification after payload key
// normalization. Producers send heterogeneous key casings; the realtime
// adapter folds them into this one shape before dispatch.
type Event struct {
	Type            EventType      `json:"type"`
	DeviceID        string         `json:"deviceId"`
	UserID          string         `json:"userId,omitempty"`
	ConnectionToken string         `json:"connectionToken,omitempty"`
	SyncType        string         `json:"syncType,omitempty"`
	ReceivedAt      time.Time      `json:"receivedAt"`
	Payload         map[string]any `json:"payload,omitempty"`
}
