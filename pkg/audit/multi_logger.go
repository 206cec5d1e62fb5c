package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MultiLogger logs to several audit loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to every given destination.
// Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Len reports how many destinations are configured
func (m *MultiLogger) Len() int {
	return len(m.loggers)
}

// Log writes event to every logger. One failing destination does not stop
// the others; all failures are returned joined.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Open builds a trail from the configured sinks. A nil file config or a
// nil db skips that sink; with neither the trail records nothing.
func Open(ctx context.Context, file *FileLoggerConfig, db *sql.DB) (*MultiLogger, error) {
	var loggers []Logger
	if file != nil {
		fl, err := NewFileLogger(*file)
		if err != nil {
			return nil, err
		}
		loggers = append(loggers, fl)
	}
	if db != nil {
		dl, err := NewDBLogger(ctx, db)
		if err != nil {
			for _, l := range loggers {
				l.Close()
			}
			return nil, err
		}
		loggers = append(loggers, dl)
	}
	return NewMultiLogger(loggers...), nil
}
