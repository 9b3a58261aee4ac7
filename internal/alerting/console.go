package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter routes alerts into the process logger. Critical alerts log
// at ERROR, high and warning at WARN, the rest at INFO.
type ConsoleAlerter struct {
	logger *slog.Logger
}

func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("component", "alerts")}
}

func (c *ConsoleAlerter) Name() string { return "console" }

func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	c.logger.Log(ctx, severityLevel(severity), message,
		append([]any{"severity", severity.String()}, fields...)...)
	return nil
}

func severityLevel(s Severity) slog.Level {
	switch s {
	case SeverityCritical:
		return slog.LevelError
	case SeverityHigh, SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
