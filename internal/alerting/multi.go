package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// MultiAlerter fans an alert out to every configured channel in parallel.
// A failing channel does not stop delivery to the others.
type MultiAlerter struct {
	logger *slog.Logger

	mu       sync.RWMutex
	channels []Alerter
}

func NewMultiAlerter(logger *slog.Logger, channels ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{logger: logger, channels: channels}
}

func (m *MultiAlerter) Name() string { return "multi" }

// AddAlerter appends a channel.
func (m *MultiAlerter) AddAlerter(a Alerter) {
	m.mu.Lock()
	m.channels = append(m.channels, a)
	m.mu.Unlock()
}

// Len returns the number of channels.
func (m *MultiAlerter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// Alert delivers to all channels and joins the per-channel failures.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	channels := append([]Alerter(nil), m.channels...)
	m.mu.RUnlock()

	results := make([]error, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch Alerter) {
			defer wg.Done()
			if err := ch.Alert(ctx, severity, message, fields...); err != nil {
				m.logger.Error("alert delivery failed", "channel", ch.Name(), "severity", severity.String(), "err", err)
				results[i] = fmt.Errorf("%s: %w", ch.Name(), err)
			}
		}(i, ch)
	}
	wg.Wait()

	return errors.Join(results...)
}

// AlertEvent is Notify bound to this fan-out.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return Notify(ctx, m, event, message, fields...)
}
