// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package models holds the domain types shared across the sync engine,
// the connection state machine, and the persistence layer.
package models

import "time"

// MetricType identifies one kind of health time series.
type MetricType string

const (
	MetricHeartRate            MetricType = "heart_rate"
	MetricHeartRateVariability MetricType = "heart_rate_variability"
	MetricRestingHeartRate     MetricType = "resting_heart_rate"
	MetricSleep                MetricType = "sleep"
	MetricSteps                MetricType = "steps"
	MetricActiveEnergy         MetricType = "active_energy"
	MetricRespiratoryRate      MetricType = "respiratory_rate"
	MetricBloodOxygen          MetricType = "blood_oxygen"
	MetricWorkout              MetricType = "workout"
)

// SupportedMetricTypes is the full fetch set for a sync window.
var SupportedMetricTypes = []MetricType{
	MetricHeartRate,
	MetricHeartRateVariability,
	MetricRestingHeartRate,
	MetricSleep,
	MetricSteps,
	MetricActiveEnergy,
	MetricRespiratoryRate,
	MetricBloodOxygen,
	MetricWorkout,
}

// RequiredPriorityMetrics must each have at least one sample in the
// priority window, or the sync short-circuits as insufficient data.
var RequiredPriorityMetrics = []MetricType{
	MetricHeartRateVariability,
	MetricRestingHeartRate,
	MetricSleep,
}

// TargetTable is the backend destination table for this metric type.
func (m MetricType) TargetTable() string {
	return "health_" + string(m)
}

// Sample is one raw reading from the health-data source, prior to
// normalization.
type Sample struct {
	Type         MetricType `json:"type"`
	Value        float64    `json:"value"`
	Unit         string     `json:"unit,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      time.Time  `json:"endTime"`
	SourceDevice string     `json:"sourceDevice,omitempty"`
}
