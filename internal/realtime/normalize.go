// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package realtime

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

// Producers on the realtime channel spell the same logical fields with
// different casings and separators. All alternate-key lookups live
// here; handlers only ever see the canonical models.Event.
var (
	typeKeys      = []string{"type", "event", "event_type", "eventType"}
	deviceKeys    = []string{"deviceId", "device_id", "deviceID", "DeviceId"}
	userKeys      = []string{"userId", "user_id", "userID", "UserId"}
	tokenKeys     = []string{"connectionToken", "connection_token", "token"}
	syncTypeKeys  = []string{"syncType", "sync_type"}
	payloadIgnore = map[string]bool{}
)

func init() {
	for _, keys := range [][]string{typeKeys, deviceKeys, userKeys, tokenKeys, syncTypeKeys} {
		for _, k := range keys {
			payloadIgnore[k] = true
		}
	}
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// normalizeEvent parses a raw channel message into the canonical event
// shape. Unknown event types are an error so the caller can count them.
func normalizeEvent(raw []byte, receivedAt time.Time) (models.Event, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.Event{}, fmt.Errorf("decode realtime payload: %w", err)
	}

	typ := firstString(m, typeKeys)
	switch models.EventType(typ) {
	case models.EventConnectionEstablished, models.EventSyncComplete:
	default:
		return models.Event{}, fmt.Errorf("unknown realtime event type %q", typ)
	}

	payload := make(map[string]any)
	for k, v := range m {
		if !payloadIgnore[k] {
			payload[k] = v
		}
	}

	return models.Event{
		Type:            models.EventType(typ),
		DeviceID:        firstString(m, deviceKeys),
		UserID:          firstString(m, userKeys),
		ConnectionToken: firstString(m, tokenKeys),
		SyncType:        firstString(m, syncTypeKeys),
		ReceivedAt:      receivedAt,
		Payload:         payload,
	}, nil
}
