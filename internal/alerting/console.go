package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts to the runtime log. Warnings and above are
// logged at warn level, critical alerts at error level.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates an alerter logging through logger.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("component", "alert")}
}

// Name implements Alerter.
func (c *ConsoleAlerter) Name() string { return "console" }

// Alert implements Alerter.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	attrs := make([]any, 0, len(fields)+2)
	attrs = append(attrs, "severity", severity.String())
	attrs = append(attrs, fields...)
	c.logger.Log(ctx, consoleLevel(severity), message, attrs...)
	return nil
}

func consoleLevel(s Severity) slog.Level {
	switch {
	case s >= SeverityCritical:
		return slog.LevelError
	case s >= SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
