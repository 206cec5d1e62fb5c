package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")

		entry := decodeEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn and error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("slow consume")
		if entry := decodeEntry(t, &buf); entry["level"] != "WARN" {
			t.Errorf("Expected level WARN, got %v", entry["level"])
		}

		buf.Reset()
		logger.Error("store unavailable")
		if entry := decodeEntry(t, &buf); entry["level"] != "ERROR" {
			t.Errorf("Expected level ERROR, got %v", entry["level"])
		}
	})
}

func TestLogger_ErrorLevelDropsWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	logger.Info("sweep finished")
	logger.Warn("sweep finished with failures")
	if buf.Len() > 0 {
		t.Errorf("Expected nothing below error level, got %q", buf.String())
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("user_id", "user-1").
		WithFields(map[string]interface{}{"tier": "starter", "used": 50}).
		WithError(errors.New("limit reached")).
		Warn("quota exhausted")

	entry := decodeEntry(t, &buf)
	if entry["user_id"] != "user-1" {
		t.Errorf("Expected user_id field, got %v", entry["user_id"])
	}
	if entry["tier"] != "starter" {
		t.Errorf("Expected tier field, got %v", entry["tier"])
	}
	if entry["used"] != float64(50) {
		t.Errorf("Expected used field, got %v", entry["used"])
	}
	if entry["error"] != "limit reached" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := context.Background()
	ctx = WithLogger(ctx, logger)
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithUserID(ctx, "user-456")

	if GetRequestID(ctx) != "req-123" {
		t.Errorf("Expected request ID 'req-123', got %s", GetRequestID(ctx))
	}
	if GetUserID(ctx) != "user-456" {
		t.Errorf("Expected user ID 'user-456', got %s", GetUserID(ctx))
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext should fall back to a default logger")
	}

	FromContext(ctx).Info("test message")

	entry := decodeEntry(t, &buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("Expected request_id 'req-123', got %v", entry["request_id"])
	}
	if entry["user_id"] != "user-456" {
		t.Errorf("Expected user_id 'user-456', got %v", entry["user_id"])
	}
}
