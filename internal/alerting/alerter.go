// Package alerting provides notification capabilities for the trading gateway.
package alerting

import (
	"context"
	"fmt"
	"strings"
)

// Severity ranks an alert. Channels map it to log levels or message markers.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"INFO", "WARNING", "HIGH", "CRITICAL"}

var severityMarks = [...]string{"ℹ️", "⚠️", "🔴", "🚨"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "UNKNOWN"
	}
	return severityNames[s]
}

// Emoji returns the marker telegram messages are prefixed with.
func (s Severity) Emoji() string {
	if s < 0 || int(s) >= len(severityMarks) {
		return "❓"
	}
	return severityMarks[s]
}

// Alerter delivers an alert to one channel. Fields are slog-style key/value
// pairs.
type Alerter interface {
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	Name() string
}

// FormatFields renders key/value pairs one per line. Non-string keys and a
// trailing odd value are skipped.
func FormatFields(fields ...any) string {
	lines := make([]string, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			lines = append(lines, fmt.Sprintf("• %s: %v", key, fields[i+1]))
		}
	}
	return strings.Join(lines, "\n")
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventAuthFailure is sent when the venue log reports a login or authentication failure.
	EventAuthFailure AlertEvent = "auth_failure"
	// EventConnectFailed is sent when a connect attempt fails outright.
	EventConnectFailed AlertEvent = "connect_failed"
	// EventConnectTimeout is sent when the readiness wait expires.
	EventConnectTimeout AlertEvent = "connect_timeout"
	// EventSessionReady is sent when the first account snapshot arrives.
	EventSessionReady AlertEvent = "session_ready"
	// EventSessionClosed is sent when a session is disconnected.
	EventSessionClosed AlertEvent = "session_closed"
	// EventOrderRejected is sent when the venue refuses an order.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventOrderFailed is sent when an order cannot be delivered to the venue.
	EventOrderFailed AlertEvent = "order_failed"
	// EventConnectionLost is sent when the venue transport drops.
	EventConnectionLost AlertEvent = "connection_lost"
	// EventConnectionRestored is sent when the venue transport reconnects.
	EventConnectionRestored AlertEvent = "connection_restored"
	// EventAccountSummary is sent for periodic account summaries.
	EventAccountSummary AlertEvent = "account_summary"
	// EventGatewayStarted is sent when the gateway process starts.
	EventGatewayStarted AlertEvent = "gateway_started"
	// EventGatewayStopped is sent when the gateway process stops.
	EventGatewayStopped AlertEvent = "gateway_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventAuthFailure, EventConnectFailed, EventOrderFailed:
		return SeverityHigh
	case EventConnectTimeout, EventOrderRejected, EventConnectionLost:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Notify sends an event alert through a, which may be nil.
// Delivery failures are returned but never block the caller beyond ctx.
func Notify(ctx context.Context, a Alerter, event AlertEvent, message string, fields ...any) error {
	if a == nil {
		return nil
	}
	fields = append([]any{"event", string(event)}, fields...)
	return a.Alert(ctx, EventSeverity(event), message, fields...)
}
