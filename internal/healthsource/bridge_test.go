// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package healthsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

func newBridgeServer(t *testing.T, handler http.HandlerFunc) *Bridge {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBridge(config.SourceConfig{BridgeURL: srv.URL, RequestTimeout: 5 * time.Second})
}

func TestFetchSamplesQueryAndDecode(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	bridge := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/samples" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "heart_rate" {
			t.Errorf("type = %s", q.Get("type"))
		}
		if q.Get("start") != "2026-03-01T00:00:00Z" || q.Get("end") != "2026-03-03T00:00:00Z" {
			t.Errorf("window = %s .. %s", q.Get("start"), q.Get("end"))
		}
		w.Header().Set("Content-Type", "application/json")
		// Type deliberately omitted: the client must stamp it.
		w.Write([]byte(`{"samples":[{"value":72,"unit":"bpm","startTime":"2026-03-01T08:00:00Z","endTime":"2026-03-01T08:00:00Z","sourceDevice":"Watch"}]}`))
	})

	samples, err := bridge.FetchSamples(context.Background(), models.MetricHeartRate, start, end)
	if err != nil {
		t.Fatalf("FetchSamples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples", len(samples))
	}
	if samples[0].Type != models.MetricHeartRate {
		t.Errorf("type = %s, want heart_rate", samples[0].Type)
	}
	if samples[0].Value != 72 || samples[0].SourceDevice != "Watch" {
		t.Errorf("sample = %+v", samples[0])
	}
}

func TestCheckPermissionsDenied(t *testing.T) {
	t.Parallel()

	bridge := newBridgeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"granted":false,"reason":"user revoked access"}`))
	})

	err := bridge.CheckPermissions(context.Background())
	if err == nil {
		t.Fatal("expected permission error")
	}
}

func TestDeviceIDCachedAfterFirstLookup(t *testing.T) {
	t.Parallel()

	calls := 0
	bridge := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/device" {
			calls++
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"deviceId":"apple-watch-7"}`))
	})

	if got := bridge.DeviceID(); got != "apple-watch-7" {
		t.Fatalf("DeviceID = %s", got)
	}
	if got := bridge.DeviceID(); got != "apple-watch-7" {
		t.Fatalf("DeviceID on second call = %s", got)
	}
	if calls != 1 {
		t.Errorf("device endpoint hit %d times, want 1", calls)
	}
}

func TestDeviceIDFallbackWhenBridgeDown(t *testing.T) {
	t.Parallel()

	bridge := NewBridge(config.SourceConfig{BridgeURL: "http://127.0.0.1:1", RequestTimeout: time.Second})
	if got := bridge.DeviceID(); got != "unknown-device" {
		t.Errorf("DeviceID = %s, want unknown-device", got)
	}
}

func TestFetchSamplesServerError(t *testing.T) {
	t.Parallel()

	bridge := newBridgeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := bridge.FetchSamples(context.Background(), models.MetricSleep, time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("expected error on 500")
	}
}
