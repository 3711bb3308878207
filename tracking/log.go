package tracking

import (
	"context"
	"log/slog"
)

// LogSink writes events to a structured logger. Failures log at warn level,
// everything else at debug.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish implements Sink
func (s *LogSink) Publish(ctx context.Context, event Event) {
	attrs := []any{
		"kind", string(event.Kind),
		"traceId", event.TraceID,
	}
	if event.ExchangeID != "" {
		attrs = append(attrs, "exchangeId", event.ExchangeID)
	}
	if event.PolicyKey != "" {
		attrs = append(attrs, "policy", event.PolicyKey, "role", event.Role, "scope", event.Scope)
	}
	if event.RoleID != "" {
		attrs = append(attrs, "roleId", event.RoleID, "name", event.Name, "ordinal", event.Ordinal)
	}
	if len(event.RoleIDs) > 0 {
		attrs = append(attrs, "plan", event.RoleIDs)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration", event.Duration)
	}

	if event.Failed() {
		attrs = append(attrs, "error", event.Error)
		s.logger.WarnContext(ctx, "policy interception event", attrs...)
		return
	}
	s.logger.DebugContext(ctx, "policy interception event", attrs...)
}
