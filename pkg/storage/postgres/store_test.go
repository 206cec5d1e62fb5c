package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/tiers"
)

var testNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

var accountColumnNames = []string{
	"user_id", "email", "display_name", "credential", "credential_hash",
	"tier", "status", "processor_customer_id", "processor_subscription_id",
	"executions_used", "executions_limit", "files_tracked", "files_limit",
	"reset_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T, cfg StoreConfig) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(NewConnectionManagerFromDB(db), cfg)
	s.now = func() time.Time { return testNow }
	return s, mock
}

func accountRow(userID, status string, used, limit int64) *sqlmock.Rows {
	return sqlmock.NewRows(accountColumnNames).AddRow(
		userID, userID+"@example.com", "Test User", "ccp_"+userID, "hash-"+userID,
		"starter", status, "", "",
		used, limit, int64(0), int64(50),
		testNow.Add(accounts.ResetPeriod), testNow, testNow,
	)
}

func TestStore_CreateAccount_New(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})
	acct := accounts.NewAccount("user-1", "user-1@example.com", "Test User", "ccp_user-1", "hash-user-1", tiers.DefaultTable(), testNow)

	mock.ExpectExec("INSERT INTO meter_accounts (.+) ON CONFLICT \\(user_id\\) DO NOTHING").
		WithArgs("user-1", "user-1@example.com", "Test User", "ccp_user-1", "hash-user-1",
			"starter", "inactive", "", "",
			int64(0), int64(50), int64(0), int64(50),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stored, created, err := s.CreateAccount(context.Background(), acct)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ccp_user-1", stored.Credential)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateAccount_Existing(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})
	acct := accounts.NewAccount("user-1", "new@example.com", "", "ccp_new", "hash-new", tiers.DefaultTable(), testNow)

	mock.ExpectExec("INSERT INTO meter_accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM meter_accounts WHERE user_id = \\$1").
		WithArgs("user-1").
		WillReturnRows(accountRow("user-1", "active", 3, 50))

	stored, created, err := s.CreateAccount(context.Background(), acct)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "ccp_user-1", stored.Credential, "existing credential must be returned")
	assert.Equal(t, accounts.StatusActive, stored.Subscription.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateAccount_CredentialConflict(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})
	acct := accounts.NewAccount("user-2", "u2@example.com", "", "ccp_dup", "hash-dup", tiers.DefaultTable(), testNow)

	mock.ExpectExec("INSERT INTO meter_accounts").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, _, err := s.CreateAccount(context.Background(), acct)
	assert.ErrorIs(t, err, accounts.ErrCredentialConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetAccount_NotFound(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})

	mock.ExpectQuery("SELECT (.+) FROM meter_accounts WHERE user_id = \\$1").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindByCredentialHash(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})

	mock.ExpectQuery("SELECT (.+) FROM meter_accounts WHERE credential_hash = \\$1").
		WithArgs("hash-user-1").
		WillReturnRows(accountRow("user-1", "active", 0, 50))
	mock.ExpectQuery("SELECT (.+) FROM meter_accounts WHERE credential_hash = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(accountColumnNames))

	acct, err := s.FindByCredentialHash(context.Background(), "hash-user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", acct.UserID)
	assert.Equal(t, tiers.Starter, acct.Subscription.Tier)

	_, err = s.FindByCredentialHash(context.Background(), "missing")
	assert.ErrorIs(t, err, accounts.ErrCredentialNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectLockedEntry(mock sqlmock.Sqlmock, userID, status string, used, limit int64) {
	mock.ExpectQuery("SELECT status, executions_used, executions_limit, reset_at FROM meter_accounts WHERE user_id = \\$1 FOR UPDATE").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"status", "executions_used", "executions_limit", "reset_at"}).
			AddRow(status, used, limit, testNow.Add(accounts.ResetPeriod)))
}

func TestStore_Consume_Granted(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{LockTimeout: 2 * time.Second})

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout = '2000ms'").WillReturnResult(sqlmock.NewResult(0, 0))
	expectLockedEntry(mock, "user-1", "active", 49, 50)
	mock.ExpectExec("UPDATE meter_accounts SET executions_used = executions_used \\+ 1").
		WithArgs("user-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.Consume(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Used)
	assert.Equal(t, int64(50), res.Limit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Consume_LimitExceeded(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})

	mock.ExpectBegin()
	expectLockedEntry(mock, "user-1", "active", 50, 50)
	mock.ExpectRollback()

	res, err := s.Consume(context.Background(), "user-1")
	assert.ErrorIs(t, err, accounts.ErrLimitExceeded)
	assert.Equal(t, int64(50), res.Used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Consume_Inactive(t *testing.T) {
	for _, status := range []string{"inactive", "cancelled"} {
		t.Run(status, func(t *testing.T) {
			s, mock := newMockStore(t, StoreConfig{})

			mock.ExpectBegin()
			expectLockedEntry(mock, "user-1", status, 0, 50)
			mock.ExpectRollback()

			_, err := s.Consume(context.Background(), "user-1")
			assert.ErrorIs(t, err, accounts.ErrSubscriptionInactive)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Consume_NotFound(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, executions_used").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.Consume(context.Background(), "ghost")
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Consume_Conflict(t *testing.T) {
	codes := []pq.ErrorCode{"40001", "40P01", "55P03", "57014"}

	for _, code := range codes {
		t.Run(string(code), func(t *testing.T) {
			s, mock := newMockStore(t, StoreConfig{})

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT status, executions_used").
				WithArgs("user-1").
				WillReturnError(&pq.Error{Code: code, Message: "conflict"})
			mock.ExpectRollback()

			_, err := s.Consume(context.Background(), "user-1")
			assert.ErrorIs(t, err, accounts.ErrConflict)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Consume_CommitFailureIsNotAGrant(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})

	mock.ExpectBegin()
	expectLockedEntry(mock, "user-1", "active", 10, 50)
	mock.ExpectExec("UPDATE meter_accounts SET executions_used").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	_, err := s.Consume(context.Background(), "user-1")
	assert.ErrorIs(t, err, accounts.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Consume_OtherErrorNotConflict(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := s.Consume(context.Background(), "user-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, accounts.ErrConflict))
}

func TestStore_ApplySubscription(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier, status, processor_customer_id, processor_subscription_id FROM meter_accounts WHERE user_id = \\$1 FOR UPDATE").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"tier", "status", "processor_customer_id", "processor_subscription_id"}).
			AddRow("starter", "inactive", "", ""))
	mock.ExpectExec("UPDATE meter_accounts SET tier = \\$2, status = \\$3").
		WithArgs("user-1", "professional", "active", "cus_1", "sub_1", int64(700), int64(1000), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	prev, err := s.ApplySubscription(context.Background(), "user-1", accounts.SubscriptionUpdate{
		Tier:                    tiers.Professional,
		Status:                  accounts.StatusActive,
		ProcessorCustomerID:     "cus_1",
		ProcessorSubscriptionID: "sub_1",
		Limits:                  tiers.Limits{Executions: 700, Files: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, tiers.Starter, prev.Tier)
	assert.Equal(t, accounts.StatusInactive, prev.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ApplySubscription_NotFound(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier, status").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.ApplySubscription(context.Background(), "ghost", accounts.SubscriptionUpdate{})
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListExpired(t *testing.T) {
	due := testNow.Add(-time.Hour)

	t.Run("first page", func(t *testing.T) {
		s, mock := newMockStore(t, StoreConfig{})

		mock.ExpectQuery("SELECT user_id, reset_at FROM meter_accounts WHERE reset_at <= \\$1 ORDER BY reset_at, user_id LIMIT \\$2").
			WithArgs(testNow, 100).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "reset_at"}).
				AddRow("user-1", due).
				AddRow("user-2", due))

		entries, err := s.ListExpired(context.Background(), testNow, nil, 100)
		require.NoError(t, err)
		assert.Equal(t, []accounts.ExpiredEntry{
			{UserID: "user-1", ResetAt: due},
			{UserID: "user-2", ResetAt: due},
		}, entries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("resumes past cursor", func(t *testing.T) {
		s, mock := newMockStore(t, StoreConfig{})

		mock.ExpectQuery("WHERE reset_at <= \\$1 AND \\(reset_at, user_id\\) > \\(\\$3, \\$4\\)").
			WithArgs(testNow, 2, due, "user-2").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "reset_at"}).AddRow("user-3", due))

		entries, err := s.ListExpired(context.Background(), testNow, &accounts.ExpiredEntry{UserID: "user-2", ResetAt: due}, 2)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "user-3", entries[0].UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		s, mock := newMockStore(t, StoreConfig{})

		mock.ExpectQuery("SELECT user_id, reset_at FROM meter_accounts").
			WillReturnError(errors.New("connection refused"))

		_, err := s.ListExpired(context.Background(), testNow, nil, 10)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list expired entries")
	})
}

func TestStore_ResetUsage(t *testing.T) {
	next := testNow.Add(accounts.ResetPeriod)

	t.Run("reset applied", func(t *testing.T) {
		s, mock := newMockStore(t, StoreConfig{})

		mock.ExpectExec("UPDATE meter_accounts SET executions_used = 0, reset_at = \\$3, updated_at = \\$2 WHERE user_id = \\$1 AND reset_at <= \\$2").
			WithArgs("user-1", testNow, next).
			WillReturnResult(sqlmock.NewResult(0, 1))

		reset, err := s.ResetUsage(context.Background(), "user-1", testNow, next)
		require.NoError(t, err)
		assert.True(t, reset)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already reset", func(t *testing.T) {
		s, mock := newMockStore(t, StoreConfig{})

		mock.ExpectExec("UPDATE meter_accounts SET executions_used = 0").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		reset, err := s.ResetUsage(context.Background(), "user-1", testNow, next)
		require.NoError(t, err)
		assert.False(t, reset)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account missing", func(t *testing.T) {
		s, mock := newMockStore(t, StoreConfig{})

		mock.ExpectExec("UPDATE meter_accounts SET executions_used = 0").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := s.ResetUsage(context.Background(), "ghost", testNow, next)
		assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
	})
}

func TestStore_Migrate(t *testing.T) {
	s, mock := newMockStore(t, StoreConfig{})

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS meter_accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE UNIQUE INDEX IF NOT EXISTS meter_accounts_credential_hash_key").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS meter_accounts_reset_at_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
