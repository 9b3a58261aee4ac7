package alerting

import "context"

// FilterAlerter forwards alerts to next unless they carry an "event" field
// that allow rejects. Alerts without an event field always pass.
type FilterAlerter struct {
	next  Alerter
	allow func(AlertEvent) bool
}

// NewFilterAlerter creates a filtering alerter.
func NewFilterAlerter(next Alerter, allow func(AlertEvent) bool) *FilterAlerter {
	return &FilterAlerter{next: next, allow: allow}
}

// Name returns the name of the wrapped alerter.
func (f *FilterAlerter) Name() string {
	return f.next.Name()
}

// Alert forwards the alert if its event is allowed.
func (f *FilterAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if event, ok := eventField(fields); ok && f.allow != nil && !f.allow(event) {
		return nil
	}
	return f.next.Alert(ctx, severity, message, fields...)
}

func eventField(fields []any) (AlertEvent, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok && key == "event" {
			switch v := fields[i+1].(type) {
			case string:
				return AlertEvent(v), true
			case AlertEvent:
				return v, true
			}
		}
	}
	return "", false
}
