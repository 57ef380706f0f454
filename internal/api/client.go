// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package api implements the typed request/response boundary to the
// Oseer backend. Every network call goes through the resilience layer:
// classified retry with backoff, and a per-category circuit breaker.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/resilience"
)

// Client talks to the Oseer backend over HTTP.
type Client struct {
	baseURL  string
	httpc    *http.Client
	breakers *resilience.BreakerGroup
	limiter  *rate.Limiter

	mu    sync.RWMutex
	token string
}

// New creates a backend client. The breaker group is shared so that
// other components can observe breaker state.
func New(cfg config.APIConfig, breakers *resilience.BreakerGroup) *Client {
	var limiter *rate.Limiter
	if cfg.UploadRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.UploadRatePerSecond), 1)
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		httpc:    &http.Client{Timeout: cfg.RequestTimeout},
		breakers: breakers,
		limiter:  limiter,
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// postJSON performs one POST round-trip and decodes the response into
// out (when out is non-nil). Errors are classified per the resilience
// taxonomy so callers can hand them straight to Retry.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return resilience.Permanentf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return resilience.Permanentf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return resilience.Transientf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(path, resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resilience.Transientf("decode %s response: %w", path, err)
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
// 409 is left to the caller: for batch uploads a duplicate key is a
// success, not a failure.
func classifyStatus(path string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return &DuplicateKeyError{Path: path}
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return resilience.Transientf("%s: server returned %d: %s", path, resp.StatusCode, readErrorBody(resp))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return resilience.Permanentf("%s: authentication failed (%d)", path, resp.StatusCode)
	default:
		return resilience.Permanentf("%s: request rejected (%d): %s", path, resp.StatusCode, readErrorBody(resp))
	}
}

// DuplicateKeyError signals the backend rejected a write because its
// idempotency key already exists. For uploads this collapses to
// success: the records are already there.
type DuplicateKeyError struct {
	Path string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: duplicate key", e.Path)
}

func readErrorBody(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return ""
	}
	return string(body)
}

func logCall(path string, err error) {
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("backend call failed")
		return
	}
	logging.Debug().Str("path", path).Msg("backend call ok")
}
