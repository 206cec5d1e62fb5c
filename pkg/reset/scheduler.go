package reset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/async"
	"github.com/platinummonkey/meter/pkg/audit"
	"github.com/platinummonkey/meter/pkg/observability"
)

// Config configures a Scheduler
type Config struct {
	// BatchSize is the page size used when listing due entries
	BatchSize int
	// Workers bounds how many entries are reset concurrently
	Workers int
	// EntryTimeout bounds a single entry reset
	EntryTimeout time.Duration
	// Period is how far the next reset is moved past now
	Period time.Duration
}

// DefaultConfig returns the default sweep configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:    500,
		Workers:      8,
		EntryTimeout: 10 * time.Second,
		Period:       accounts.ResetPeriod,
	}
}

// Scheduler resets usage counters whose period has ended
type Scheduler struct {
	store   accounts.Store
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
}

// NewScheduler creates a scheduler. metrics may be nil.
func NewScheduler(store accounts.Store, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Scheduler {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = def.EntryTimeout
	}
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}

	return &Scheduler{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		audit:   audit.NopLogger{},
	}
}

// SetAuditLogger records a summary event to l for every sweep that reset
// or failed at least one entry
func (s *Scheduler) SetAuditLogger(l audit.Logger) {
	s.audit = l
}

// SweepExpired resets every entry whose reset time is <= now and moves its
// reset time to now + Period. Each entry is reset on its own; an entry that
// another sweep already reset is skipped, so overlapping sweeps never
// advance an entry twice. It returns how many entries this call reset.
// Entry failures do not stop the sweep and are returned joined.
func (s *Scheduler) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	defer func() { s.metrics.RecordSweep(time.Since(start)) }()

	now = now.UTC()
	next := now.Add(s.cfg.Period)

	var (
		after      *accounts.ExpiredEntry
		visited    int
		resetCount int
		failures   []error
	)

	for {
		page, err := s.store.ListExpired(ctx, now, after, s.cfg.BatchSize)
		if err != nil {
			return resetCount, fmt.Errorf("failed to list expired entries: %w", err)
		}
		if len(page) == 0 {
			break
		}
		// failed entries stay due; the cursor moves past them
		last := page[len(page)-1]
		after = &last
		visited += len(page)

		ids := make([]string, len(page))
		for i, e := range page {
			ids[i] = e.UserID
		}

		results := make(chan bool, len(ids))
		errs := async.Batch(ctx, ids, s.cfg.Workers, "usage reset", s.cfg.EntryTimeout, func(ctx context.Context, userID string) error {
			applied, err := s.resetOne(ctx, userID, now, next)
			if err != nil {
				return err
			}
			results <- applied
			return nil
		})
		close(results)

		for applied := range results {
			if applied {
				resetCount++
			}
		}
		failures = append(failures, errs...)

		if ctx.Err() != nil || len(page) < s.cfg.BatchSize {
			break
		}
	}

	// idle sweeps leave no trail
	if resetCount > 0 || len(failures) > 0 {
		status := audit.EventStatusSuccess
		if len(failures) > 0 {
			status = audit.EventStatusFailure
		}
		ev := audit.NewEvent(ctx, audit.EventTypeUsageSweep, status)
		ev.Metadata["reset"] = resetCount
		ev.Metadata["failed"] = len(failures)
		ev.Metadata["next_reset"] = next.Format(time.RFC3339)
		audit.Record(context.WithoutCancel(ctx), s.audit, s.logger, ev)
	}

	log := s.logger.WithFields(map[string]interface{}{
		"reset":       resetCount,
		"failed":      len(failures),
		"visited":     visited,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if len(failures) > 0 {
		log.Warn("usage sweep finished with failures")
		return resetCount, fmt.Errorf("%d entries failed to reset: %w", len(failures), errors.Join(failures...))
	}
	log.Info("usage sweep finished")
	return resetCount, nil
}

func (s *Scheduler) resetOne(ctx context.Context, userID string, now, next time.Time) (bool, error) {
	applied, err := s.store.ResetUsage(ctx, userID, now, next)
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound):
		s.metrics.RecordUsageReset("missing")
		return false, nil
	case err != nil:
		s.metrics.RecordUsageReset("error")
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to reset usage")
		return false, fmt.Errorf("reset %s: %w", userID, err)
	case applied:
		s.metrics.RecordUsageReset("reset")
	default:
		s.metrics.RecordUsageReset("skipped")
	}
	return applied, nil
}
