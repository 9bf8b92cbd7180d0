package events

import (
	"context"
	"log/slog"
)

// AuditLogger returns a Listener that writes every event as an audit log line.
func AuditLogger(logger *slog.Logger) Listener {
	return func(ctx context.Context, event Event) error {
		logger.InfoContext(ctx, event.Type,
			"event", event.Type,
			"log_type", "audit",
			"event_id", event.ID,
			"tenant", event.Tenant,
			"identifier", event.Identifier,
			"occurred_at", event.OccurredAt,
		)
		return nil
	}
}
