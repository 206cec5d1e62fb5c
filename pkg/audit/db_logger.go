package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger writes audit events to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database audit logger, creating its table if needed
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	l := &DBLogger{db: db}
	if err := l.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure meter_audit_events table: %w", err)
	}
	return l, nil
}

func (l *DBLogger) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS meter_audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		user_id TEXT,
		source VARCHAR(50),
		request_id VARCHAR(128),
		message TEXT,
		metadata JSONB,
		changes JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_meter_audit_events_timestamp ON meter_audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_meter_audit_events_user_id ON meter_audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_meter_audit_events_event_type ON meter_audit_events(event_type);
	`

	_, err := l.db.ExecContext(ctx, query)
	return err
}

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	// untyped nil so empty JSONB columns are written as NULL
	var metadataJSON, changesJSON interface{}

	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = b
	}
	if event.Changes != nil {
		b, err := json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
		changesJSON = b
	}

	query := `
		INSERT INTO meter_audit_events (
			timestamp, event_type, status,
			user_id, source, request_id,
			message, metadata, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.Type), string(event.Status),
		nullString(event.UserID), nullString(event.Source), nullString(event.RequestID),
		event.Message, metadataJSON, changesJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the connection pool belongs to the store
func (l *DBLogger) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
