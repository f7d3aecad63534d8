// Package alerting provides notification capabilities for the runtime.
package alerting

import (
	"context"
	"fmt"
	"strings"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields renders key/value pairs one per line. Pairs with a non-string
// key and a trailing odd value are skipped.
func FormatFields(fields ...any) string {
	var sb strings.Builder
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "• %s: %v", key, fields[i+1])
	}
	return sb.String()
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventLeverageMismatch is sent when the venue applies a different leverage than requested.
	EventLeverageMismatch AlertEvent = "leverage_mismatch"
	// EventExecutionFailed is sent when an order submission fails or fills nothing.
	EventExecutionFailed AlertEvent = "execution_failed"
	// EventProtectionFailed is sent when a protective stop or take-profit cannot be placed.
	EventProtectionFailed AlertEvent = "protection_failed"
	// EventScreenerDegraded is sent when a screener cycle fails.
	EventScreenerDegraded AlertEvent = "screener_degraded"
	// EventPipelineStarted is sent when the pipeline starts.
	EventPipelineStarted AlertEvent = "pipeline_started"
	// EventPipelineStopped is sent when the pipeline stops.
	EventPipelineStopped AlertEvent = "pipeline_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventLeverageMismatch:
		return SeverityHigh
	case EventExecutionFailed, EventProtectionFailed, EventScreenerDegraded:
		return SeverityWarning
	case EventPipelineStarted, EventPipelineStopped:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// Notify sends event through a with the event's default severity.
// The event name is added as the first field.
func Notify(ctx context.Context, a Alerter, event AlertEvent, message string, fields ...any) error {
	if a == nil {
		return nil
	}
	all := make([]any, 0, len(fields)+2)
	all = append(all, "event", string(event))
	all = append(all, fields...)
	return a.Alert(ctx, EventSeverity(event), message, all...)
}
