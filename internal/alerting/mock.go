package alerting

import (
	"context"
	"strings"
	"sync"
)

// MockAlert is one alert captured by MockAlerter.
type MockAlert struct {
	Severity Severity
	Event    AlertEvent
	Message  string
	Fields   []any
}

// MockAlerter records alerts in memory. Tests across the gateway use it to
// assert which events a session raised.
type MockAlerter struct {
	mu       sync.Mutex
	captured []MockAlert
}

func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (m *MockAlerter) Name() string { return "mock" }

func (m *MockAlerter) Alert(_ context.Context, severity Severity, message string, fields ...any) error {
	event, _ := eventField(fields)
	m.mu.Lock()
	m.captured = append(m.captured, MockAlert{
		Severity: severity,
		Event:    event,
		Message:  message,
		Fields:   append([]any(nil), fields...),
	})
	m.mu.Unlock()
	return nil
}

// Alerts returns a copy of everything captured so far.
func (m *MockAlerter) Alerts() []MockAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockAlert(nil), m.captured...)
}

func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captured)
}

func (m *MockAlerter) Clear() {
	m.mu.Lock()
	m.captured = nil
	m.mu.Unlock()
}

// LastAlert returns the most recent alert or nil.
func (m *MockAlerter) LastAlert() *MockAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.captured) == 0 {
		return nil
	}
	last := m.captured[len(m.captured)-1]
	return &last
}

func (m *MockAlerter) HasEvent(event AlertEvent) bool {
	return m.any(func(a MockAlert) bool { return a.Event == event })
}

func (m *MockAlerter) HasAlertWithSeverity(severity Severity) bool {
	return m.any(func(a MockAlert) bool { return a.Severity == severity })
}

func (m *MockAlerter) HasAlertContaining(substr string) bool {
	return m.any(func(a MockAlert) bool { return strings.Contains(a.Message, substr) })
}

func (m *MockAlerter) any(match func(MockAlert) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.captured {
		if match(a) {
			return true
		}
	}
	return false
}
