package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/tiers"
)

const accountColumns = `user_id, email, display_name, credential, credential_hash,
	tier, status, processor_customer_id, processor_subscription_id,
	executions_used, executions_limit, files_tracked, files_limit,
	reset_at, created_at, updated_at`

// Store is a PostgreSQL accounts.Store. One row per account; the credential
// index is a unique index on credential_hash. Per-account serialization comes
// from row locks.
type Store struct {
	cm          *ConnectionManager
	lockTimeout time.Duration
	now         func() time.Time
}

var _ accounts.Store = (*Store)(nil)

// StoreConfig configures a Store
type StoreConfig struct {
	// LockTimeout bounds how long a consume waits for the row lock. Expiry
	// surfaces as accounts.ErrConflict. Zero leaves the server default.
	LockTimeout time.Duration
}

// NewStore creates a store on top of a connection manager
func NewStore(cm *ConnectionManager, cfg StoreConfig) *Store {
	return &Store{
		cm:          cm,
		lockTimeout: cfg.LockTimeout,
		now:         time.Now,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*accounts.Account, error) {
	var (
		acct   accounts.Account
		tier   string
		status string
	)
	err := row.Scan(
		&acct.UserID, &acct.Email, &acct.DisplayName, &acct.Credential, &acct.CredentialHash,
		&tier, &status, &acct.Subscription.ProcessorCustomerID, &acct.Subscription.ProcessorSubscriptionID,
		&acct.Usage.ExecutionsUsed, &acct.Usage.ExecutionsLimit, &acct.Usage.FilesTracked, &acct.Usage.FilesLimit,
		&acct.Usage.ResetAt, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acct.Subscription.Tier = tiers.Tier(tier)
	acct.Subscription.Status = accounts.Status(status)
	return &acct, nil
}

// CreateAccount implements accounts.Store
func (s *Store) CreateAccount(ctx context.Context, acct *accounts.Account) (*accounts.Account, bool, error) {
	query := `
		INSERT INTO meter_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_id) DO NOTHING
	`

	result, err := s.cm.Primary().ExecContext(ctx, query,
		acct.UserID, acct.Email, acct.DisplayName, acct.Credential, acct.CredentialHash,
		string(acct.Subscription.Tier), string(acct.Subscription.Status),
		acct.Subscription.ProcessorCustomerID, acct.Subscription.ProcessorSubscriptionID,
		acct.Usage.ExecutionsUsed, acct.Usage.ExecutionsLimit, acct.Usage.FilesTracked, acct.Usage.FilesLimit,
		acct.Usage.ResetAt, acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, accounts.ErrCredentialConflict
		}
		return nil, false, fmt.Errorf("failed to insert account: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		created := *acct
		return &created, true, nil
	}

	existing, err := s.getAccount(ctx, s.cm.Primary(), acct.UserID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetAccount implements accounts.Store
func (s *Store) GetAccount(ctx context.Context, userID string) (*accounts.Account, error) {
	return s.getAccount(ctx, s.cm.Primary(), userID)
}

func (s *Store) getAccount(ctx context.Context, db *sql.DB, userID string) (*accounts.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM meter_accounts WHERE user_id = $1`

	acct, err := scanAccount(db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, accounts.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", classify(err))
	}
	return acct, nil
}

// FindByCredentialHash implements accounts.Store
func (s *Store) FindByCredentialHash(ctx context.Context, credentialHash string) (*accounts.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM meter_accounts WHERE credential_hash = $1`

	acct, err := scanAccount(s.cm.Primary().QueryRowContext(ctx, query, credentialHash))
	if err == sql.ErrNoRows {
		return nil, accounts.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential: %w", classify(err))
	}
	return acct, nil
}

// Consume implements accounts.Store. The status check, the quota check and
// the increment all run against the row locked by SELECT ... FOR UPDATE.
func (s *Store) Consume(ctx context.Context, userID string) (accounts.ConsumeResult, error) {
	var result accounts.ConsumeResult

	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return result, fmt.Errorf("failed to set lock timeout: %w", classify(err))
		}
	}

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status, executions_used, executions_limit, reset_at
		FROM meter_accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&status, &result.Used, &result.Limit, &result.ResetAt)
	if err == sql.ErrNoRows {
		return result, accounts.ErrAccountNotFound
	}
	if err != nil {
		return result, fmt.Errorf("failed to lock ledger entry: %w", classify(err))
	}

	if accounts.Status(status) != accounts.StatusActive {
		return result, accounts.ErrSubscriptionInactive
	}
	if result.Used >= result.Limit {
		return result, accounts.ErrLimitExceeded
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE meter_accounts
		SET executions_used = executions_used + 1, updated_at = $2
		WHERE user_id = $1
	`, userID, s.now().UTC())
	if err != nil {
		return result, fmt.Errorf("failed to increment usage: %w", classify(err))
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit consume: %w", classify(err))
	}

	result.Used++
	return result, nil
}

// ApplySubscription implements accounts.Store
func (s *Store) ApplySubscription(ctx context.Context, userID string, update accounts.SubscriptionUpdate) (accounts.Subscription, error) {
	var previous accounts.Subscription

	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return previous, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	var tier, status string
	err = tx.QueryRowContext(ctx, `
		SELECT tier, status, processor_customer_id, processor_subscription_id
		FROM meter_accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&tier, &status, &previous.ProcessorCustomerID, &previous.ProcessorSubscriptionID)
	if err == sql.ErrNoRows {
		return previous, accounts.ErrAccountNotFound
	}
	if err != nil {
		return previous, fmt.Errorf("failed to lock subscription: %w", classify(err))
	}
	previous.Tier = tiers.Tier(tier)
	previous.Status = accounts.Status(status)

	_, err = tx.ExecContext(ctx, `
		UPDATE meter_accounts
		SET tier = $2, status = $3,
			processor_customer_id = $4, processor_subscription_id = $5,
			executions_limit = $6, files_limit = $7, updated_at = $8
		WHERE user_id = $1
	`, userID, string(update.Tier), string(update.Status),
		update.ProcessorCustomerID, update.ProcessorSubscriptionID,
		update.Limits.Executions, update.Limits.Files, s.now().UTC())
	if err != nil {
		return previous, fmt.Errorf("failed to update subscription: %w", classify(err))
	}

	if err := tx.Commit(); err != nil {
		return previous, fmt.Errorf("failed to commit subscription: %w", classify(err))
	}
	return previous, nil
}

// ListExpired implements accounts.Store. It reads from the primary so a
// page never lists entries a sweep has already moved past.
func (s *Store) ListExpired(ctx context.Context, now time.Time, after *accounts.ExpiredEntry, limit int) ([]accounts.ExpiredEntry, error) {
	query := `
		SELECT user_id, reset_at FROM meter_accounts
		WHERE reset_at <= $1
		ORDER BY reset_at, user_id
		LIMIT $2
	`
	args := []interface{}{now, limit}
	if after != nil {
		query = `
		SELECT user_id, reset_at FROM meter_accounts
		WHERE reset_at <= $1 AND (reset_at, user_id) > ($3, $4)
		ORDER BY reset_at, user_id
		LIMIT $2
	`
		args = append(args, after.ResetAt, after.UserID)
	}

	rows, err := s.cm.Primary().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired entries: %w", classify(err))
	}
	defer rows.Close()

	var entries []accounts.ExpiredEntry
	for rows.Next() {
		var e accounts.ExpiredEntry
		if err := rows.Scan(&e.UserID, &e.ResetAt); err != nil {
			return nil, fmt.Errorf("failed to scan expired entry: %w", err)
		}
		e.ResetAt = e.ResetAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResetUsage implements accounts.Store
func (s *Store) ResetUsage(ctx context.Context, userID string, now, next time.Time) (bool, error) {
	result, err := s.cm.Primary().ExecContext(ctx, `
		UPDATE meter_accounts
		SET executions_used = 0, reset_at = $3, updated_at = $2
		WHERE user_id = $1 AND reset_at <= $2
	`, userID, now, next)
	if err != nil {
		return false, fmt.Errorf("failed to reset usage: %w", classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	var exists bool
	err = s.cm.Primary().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM meter_accounts WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account: %w", classify(err))
	}
	if !exists {
		return false, accounts.ErrAccountNotFound
	}
	return false, nil
}

// Ping implements accounts.Store
func (s *Store) Ping(ctx context.Context) error {
	return s.cm.HealthCheck(ctx)
}

// Close implements accounts.Store
func (s *Store) Close() error {
	return s.cm.Close()
}

// classify turns retryable PostgreSQL failures into accounts.ErrConflict
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014": // query_canceled (statement timeout)
			return fmt.Errorf("%w: %s", accounts.ErrConflict, pqErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
