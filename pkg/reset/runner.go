package reset

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/meter/pkg/observability"
)

// DefaultSchedule runs a sweep every hour
const DefaultSchedule = "@every 1h"

// Runner triggers sweeps on a cron schedule
type Runner struct {
	scheduler *Scheduler
	cron      *cron.Cron
	logger    *observability.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewRunner schedules scheduler.SweepExpired. Sweeps never overlap: a tick
// that fires while the previous sweep is still running is skipped.
func NewRunner(scheduler *Scheduler, schedule string, timeout time.Duration, logger *observability.Logger) (*Runner, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}

	adapter := cronLogger{logger: logger}
	r := &Runner{
		scheduler: scheduler,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(adapter),
			cron.WithChain(cron.SkipIfStillRunning(adapter)),
		),
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}

	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return nil, fmt.Errorf("invalid reset schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins scheduling in the background
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("usage reset scheduler started")
}

// Stop stops scheduling and waits for a running sweep, or for ctx
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("usage reset scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reset scheduler did not stop: %w", ctx.Err())
	}
}

// RunOnce performs a single sweep at the current time
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	return r.scheduler.SweepExpired(ctx, r.now())
}

func (r *Runner) tick() {
	defer observability.RecoverPanic(r.logger, "usage reset sweep")

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.WithError(err).Error("scheduled usage sweep failed")
	}
}

// cronLogger routes cron's own logging through the service logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(pairs(keysAndValues)).Error("cron: " + msg)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
