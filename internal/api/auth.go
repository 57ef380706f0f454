// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package api

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/resilience"
)

// HandoffStatus values returned by CheckHandoffStatus.
const (
	HandoffPending   = "pending"
	HandoffCompleted = "completed"
)

type tokenValidateRequest struct {
	Token string `json:"token"`
}

type tokenValidateResponse struct {
	Valid bool `json:"valid"`
}

type generateHandoffRequest struct {
	DeviceID string `json:"deviceId"`
	Purpose  string `json:"purpose"`
	Session  string `json:"session,omitempty"`
}

type generateHandoffResponse struct {
	Success      bool   `json:"success"`
	HandoffToken string `json:"handoff_token"`
}

type checkHandoffRequest struct {
	DeviceID string `json:"deviceId"`
}

// HandoffResult is the outcome of a handoff status poll.
type HandoffResult struct {
	Success         bool   `json:"success"`
	Status          string `json:"status"`
	ConnectionToken string `json:"connectionToken,omitempty"`
	UserID          string `json:"userId,omitempty"`
}

// ValidateToken asks the backend whether a connection token is still
// valid. Retried with the generic API budget.
func (c *Client) ValidateToken(ctx context.Context, token string) (bool, error) {
	resp, err := resilience.Retry(ctx, resilience.APIRetryConfig(), func(ctx context.Context) (*tokenValidateResponse, error) {
		out := &tokenValidateResponse{}
		if err := c.postJSON(ctx, "/token/validate", tokenValidateRequest{Token: token}, out); err != nil {
			return nil, err
		}
		return out, nil
	})
	logCall("/token/validate", err)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// GenerateMobileHandoff starts the out-of-band web handoff and returns
// the short-lived handoff token the web surface completes against.
func (c *Client) GenerateMobileHandoff(ctx context.Context, deviceID, purpose, session string) (string, error) {
	resp, err := resilience.Retry(ctx, resilience.APIRetryConfig(), func(ctx context.Context) (*generateHandoffResponse, error) {
		out := &generateHandoffResponse{}
		req := generateHandoffRequest{DeviceID: deviceID, Purpose: purpose, Session: session}
		if err := c.postJSON(ctx, "/auth/generate-mobile-handoff", req, out); err != nil {
			return nil, err
		}
		return out, nil
	})
	logCall("/auth/generate-mobile-handoff", err)
	if err != nil {
		return "", err
	}
	if !resp.Success || resp.HandoffToken == "" {
		return "", resilience.Permanentf("handoff generation rejected by backend")
	}
	return resp.HandoffToken, nil
}

// CheckHandoffStatus polls whether the web handoff completed. This is
// the correctness backstop for the best-effort realtime notification.
func (c *Client) CheckHandoffStatus(ctx context.Context, deviceID string) (*HandoffResult, error) {
	result, err := resilience.Retry(ctx, resilience.APIRetryConfig(), func(ctx context.Context) (*HandoffResult, error) {
		out := &HandoffResult{}
		if err := c.postJSON(ctx, "/auth/check-handoff-status", checkHandoffRequest{DeviceID: deviceID}, out); err != nil {
			return nil, err
		}
		return out, nil
	})
	logCall("/auth/check-handoff-status", err)
	return result, err
}

// TokenExpiry extracts the expiry claim from a connection token without
// verifying the signature; verification happens server-side, the client
// only needs the expiry hint for the credential record. Returns the
// zero time for opaque (non-JWT) tokens.
func TokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
