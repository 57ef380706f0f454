// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package models

import "time"

// CredentialHealth tracks how reliably a stored connection token has
// been working.
type CredentialHealth string

const (
	CredentialHealthy   CredentialHealth = "healthy"
	CredentialDegraded  CredentialHealth = "degraded"
	CredentialUnhealthy CredentialHealth = "unhealthy"
	CredentialExpired   CredentialHealth = "expired"
)

const (
	degradedErrorThreshold  = 3
	unhealthyErrorThreshold = 5
)

// ConnectionCredential is the stored connection token plus its health
// bookkeeping. It is encrypted at rest.
type ConnectionCredential struct {
	Token               string           `json:"token"`
	GenerationTimestamp time.Time        `json:"generationTimestamp"`
	ExpiryDate          time.Time        `json:"expiryDate,omitempty"`
	DeviceBinding       string           `json:"deviceBinding"`
	Health              CredentialHealth `json:"health"`
	ConsecutiveErrors   int              `json:"consecutiveErrors"`
	LastValidated       time.Time        `json:"lastValidated,omitempty"`
}

// RecordError counts one failed use of the credential and degrades its
// health at the documented thresholds.
func (c *ConnectionCredential) RecordError() {
	c.ConsecutiveErrors++
	switch {
	case c.ConsecutiveErrors >= unhealthyErrorThreshold:
		c.Health = CredentialUnhealthy
	case c.ConsecutiveErrors >= degradedErrorThreshold:
		c.Health = CredentialDegraded
	}
}

// RecordSuccess resets the error count. Any successful validation or
// ping restores full health.
func (c *ConnectionCredential) RecordSuccess(now time.Time) {
	c.ConsecutiveErrors = 0
	c.Health = CredentialHealthy
	c.LastValidated = now
}

// IsExpired reports whether the credential is past its expiry. A zero
// expiry means the token never expires client-side.
func (c *ConnectionCredential) IsExpired(now time.Time) bool {
	return !c.ExpiryDate.IsZero() && now.After(c.ExpiryDate)
}
