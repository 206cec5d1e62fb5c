package audit

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/meter/pkg/observability"
)

// recordingLogger keeps events in memory
type recordingLogger struct {
	mu       sync.Mutex
	events   []*Event
	logErr   error
	closeErr error
	closed   bool
}

func (r *recordingLogger) Log(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logErr != nil {
		return r.logErr
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return r.closeErr
}

func TestMultiLogger(t *testing.T) {
	first := &recordingLogger{}
	broken := &recordingLogger{logErr: errors.New("disk full"), closeErr: errors.New("close failed")}
	last := &recordingLogger{}

	m := NewMultiLogger(first, nil, broken, last)
	assert.Equal(t, 3, m.Len())

	ctx := context.Background()
	err := m.Log(ctx, NewEvent(ctx, EventTypeAccountCreated, EventStatusSuccess))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, first.events, 1)
	assert.Len(t, last.events, 1, "a failing sink does not stop the rest")

	err = m.Close()
	assert.Error(t, err)
	assert.True(t, first.closed)
	assert.True(t, last.closed)
}

func TestRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)
	ctx := context.Background()

	Record(ctx, nil, logger, NewEvent(ctx, EventTypeUsageSweep, EventStatusSuccess))
	assert.Empty(t, buf.String())

	ev := NewEvent(ctx, EventTypeSubscriptionDropped, EventStatusFailure)
	ev.UserID = "user-1"
	Record(ctx, &recordingLogger{logErr: errors.New("unavailable")}, logger, ev)
	assert.Contains(t, buf.String(), "failed to write audit event")
	assert.Contains(t, buf.String(), "user-1")

	assert.NoError(t, NopLogger{}.Log(ctx, ev))
	assert.NoError(t, NopLogger{}.Close())
}

func TestOpen(t *testing.T) {
	t.Run("no sinks", func(t *testing.T) {
		trail, err := Open(context.Background(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, trail.Len())
		assert.NoError(t, trail.Log(context.Background(), NewEvent(context.Background(), EventTypeUsageSweep, EventStatusSuccess)))
	})

	t.Run("file and database", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS meter_audit_events").WillReturnResult(sqlmock.NewResult(0, 0))

		trail, err := Open(context.Background(), &FileLoggerConfig{BasePath: t.TempDir()}, db)
		require.NoError(t, err)
		defer trail.Close()
		assert.Equal(t, 2, trail.Len())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS meter_audit_events").WillReturnError(errors.New("read-only"))

		_, err := Open(context.Background(), &FileLoggerConfig{BasePath: t.TempDir()}, db)
		assert.Error(t, err)
	})
}
