// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package healthsource reads samples from the platform health bridge, a
// loopback HTTP shim in front of the device health store. The bridge is
// trusted; this client only shapes its responses into domain types.
package healthsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

// Bridge implements the sync engine's sample source over the local
// health bridge.
type Bridge struct {
	baseURL string
	client  *http.Client

	mu       sync.Mutex
	deviceID string
}

// NewBridge builds a bridge client.
func NewBridge(cfg config.SourceConfig) *Bridge {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{
		baseURL: cfg.BridgeURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// CheckPermissions verifies the bridge can read the health store.
func (b *Bridge) CheckPermissions(ctx context.Context) error {
	var resp struct {
		Granted bool   `json:"granted"`
		Reason  string `json:"reason,omitempty"`
	}
	if err := b.getJSON(ctx, "/v1/permissions", nil, &resp); err != nil {
		return fmt.Errorf("check health permissions: %w", err)
	}
	if !resp.Granted {
		return fmt.Errorf("health data access not granted: %s", resp.Reason)
	}
	return nil
}

// FetchSamples reads one metric's samples for a time window.
func (b *Bridge) FetchSamples(ctx context.Context, metric models.MetricType, start, end time.Time) ([]models.Sample, error) {
	query := url.Values{
		"type":  {string(metric)},
		"start": {start.UTC().Format(time.RFC3339)},
		"end":   {end.UTC().Format(time.RFC3339)},
	}

	var resp struct {
		Samples []models.Sample `json:"samples"`
	}
	if err := b.getJSON(ctx, "/v1/samples", query, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s samples: %w", metric, err)
	}

	// The bridge echoes the requested type; stamp it anyway so a lax
	// bridge build cannot produce mislabeled records.
	for i := range resp.Samples {
		resp.Samples[i].Type = metric
	}
	return resp.Samples, nil
}

// DeviceID reports the source device identifier, cached after the first
// successful lookup. Falls back to "unknown-device" while the bridge is
// unreachable so upload records are never unattributed.
func (b *Bridge) DeviceID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deviceID != "" {
		return b.deviceID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp struct {
		DeviceID string `json:"deviceId"`
	}
	if err := b.getJSON(ctx, "/v1/device", nil, &resp); err != nil || resp.DeviceID == "" {
		logging.Debug().Err(err).Msg("bridge device lookup failed")
		return "unknown-device"
	}
	b.deviceID = resp.DeviceID
	return b.deviceID
}

func (b *Bridge) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
