// Package alert records model health alerts and delivers them to sinks.
package alert

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type classifies an alert.
type Type string

// Alert types.
const (
	TypePerformanceDegradation Type = "performance_degradation"
	TypeDataDrift              Type = "data_drift"
	TypePredictionAnomaly      Type = "prediction_anomaly"
	// TypeStatusChange records an A/B test status transition.
	TypeStatusChange Type = "status_change"
	// TypeJobFailure records a background job that failed.
	TypeJobFailure Type = "job_failure"
)

// Severity of an alert.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ErrNotFound is returned when an alert id is unknown.
var ErrNotFound = errors.New("alert not found")

// ModelAlert is one alert about a model's health.
type ModelAlert struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Type       Type               `json:"type"`
	Severity   Severity           `json:"severity"`
	Message    string             `json:"message"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Resolved   bool               `json:"resolved"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}

// New creates an unresolved alert with a fresh id and the current time.
func New(model string, typ Type, severity Severity, message string, metrics map[string]float64) ModelAlert {
	return ModelAlert{
		ID:        uuid.NewString(),
		Model:     model,
		Type:      typ,
		Severity:  severity,
		Message:   message,
		Metrics:   metrics,
		Timestamp: time.Now().UTC(),
	}
}
