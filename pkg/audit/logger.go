package audit

import (
	"context"

	"github.com/platinummonkey/meter/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// NopLogger discards every event
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) Close() error                      { return nil }

// Record writes event to l. An audit failure never fails the operation
// being audited, so errors are only logged.
func Record(ctx context.Context, l Logger, logger *observability.Logger, event *Event) {
	if l == nil {
		return
	}
	if err := l.Log(ctx, event); err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"event_type": event.Type,
			"user_id":    event.UserID,
		}).Warn("failed to write audit event")
	}
}
