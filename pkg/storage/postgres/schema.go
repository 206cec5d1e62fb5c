package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS meter_accounts (
		user_id                   TEXT PRIMARY KEY,
		email                     TEXT NOT NULL,
		display_name              TEXT NOT NULL DEFAULT '',
		credential                TEXT NOT NULL,
		credential_hash           TEXT NOT NULL,
		tier                      TEXT NOT NULL,
		status                    TEXT NOT NULL CHECK (status IN ('inactive', 'active', 'cancelled')),
		processor_customer_id     TEXT NOT NULL DEFAULT '',
		processor_subscription_id TEXT NOT NULL DEFAULT '',
		executions_used           BIGINT NOT NULL DEFAULT 0 CHECK (executions_used >= 0),
		executions_limit          BIGINT NOT NULL CHECK (executions_limit >= 0),
		files_tracked             BIGINT NOT NULL DEFAULT 0 CHECK (files_tracked >= 0),
		files_limit               BIGINT NOT NULL CHECK (files_limit >= 0),
		reset_at                  TIMESTAMPTZ NOT NULL,
		created_at                TIMESTAMPTZ NOT NULL,
		updated_at                TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS meter_accounts_credential_hash_key ON meter_accounts (credential_hash)`,
	`CREATE INDEX IF NOT EXISTS meter_accounts_reset_at_idx ON meter_accounts (reset_at)`,
}

// Migrate creates the accounts table and its indexes
func (s *Store) Migrate(ctx context.Context) error {
	db := s.cm.Primary()
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
