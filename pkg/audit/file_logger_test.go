package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestNewFileLogger(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "audit")
		l, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
		require.NoError(t, err)
		defer l.Close()

		assert.FileExists(t, filepath.Join(dir, "audit.log"))
		assert.Equal(t, int64(100*1024*1024), l.maxSize)
		assert.Equal(t, 10, l.maxFiles)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := NewFileLogger(FileLoggerConfig{})
		assert.Error(t, err)
	})
}

func TestFileLogger_Log(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)

	ctx := context.Background()
	ev := NewEvent(ctx, EventTypeSubscriptionUpdated, EventStatusSuccess)
	ev.UserID = "user-1"
	ev.Source = "stripe"
	ev.Changes = &ChangeDetails{
		Before: map[string]interface{}{"status": "inactive"},
		After:  map[string]interface{}{"status": "active"},
	}
	require.NoError(t, l.Log(ctx, ev))
	require.NoError(t, l.Log(ctx, NewEvent(ctx, EventTypeUsageSweep, EventStatusSuccess)))
	require.NoError(t, l.Close())

	events := readEvents(t, filepath.Join(dir, "audit.log"))
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeSubscriptionUpdated, events[0].Type)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Equal(t, "active", events[0].Changes.After["status"])
	assert.Equal(t, EventTypeUsageSweep, events[1].Type)

	assert.Error(t, l.Log(ctx, ev), "closed logger rejects writes")
	assert.NoError(t, l.Close(), "second close is a no-op")
}

func TestFileLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLogger(FileLoggerConfig{BasePath: dir, Rotate: true, MaxSize: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer l.Close()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(ctx, NewEvent(ctx, EventTypeAccountCreated, EventStatusSuccess)))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2, "only MaxFiles rotated files are kept")
	assert.Contains(t, rotated[1], "20260101T000004", "newest rotations survive")

	assert.Len(t, readEvents(t, filepath.Join(dir, "audit.log")), 1)
}
