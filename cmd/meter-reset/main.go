package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/meter/pkg/audit"
	"github.com/platinummonkey/meter/pkg/config"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/reset"
	"github.com/platinummonkey/meter/pkg/storage"
)

// Options holds the reset job's command-line options
type Options struct {
	Schedule string
	RunOnce  bool
	Timeout  time.Duration
	LogLevel string
}

// meter-reset sweeps expired usage ledgers, either once or on a cron schedule
func main() {
	opts := parseFlags()
	logger := setupLogger(opts.LogLevel)

	cfg, err := config.LoadJobConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// library packages log structured JSON through the service logger
	svcLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr).WithField("service", "meter-reset")

	ctx, stop := observability.SignalContext(context.Background())
	defer stop()

	backends, err := storage.Open(ctx, cfg.Storage, svcLogger)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}
	defer backends.Store.Close()

	scheduler := reset.NewScheduler(backends.Store, cfg.Reset.Scheduler(), svcLogger, nil)
	if cfg.Audit.Enabled() {
		var db *sql.DB
		if cfg.Audit.Database {
			db = backends.DB
		}
		trail, err := audit.Open(ctx, cfg.Audit.FileLogger(), db)
		if err != nil {
			logger.Fatalf("Failed to open audit trail: %v", err)
		}
		defer trail.Close()
		scheduler.SetAuditLogger(trail)
	}
	runner, err := reset.NewRunner(scheduler, opts.Schedule, opts.Timeout, svcLogger)
	if err != nil {
		logger.Fatalf("Failed to schedule usage reset: %v", err)
	}

	if opts.RunOnce {
		runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		start := time.Now()
		n, err := runner.RunOnce(runCtx)
		if err != nil {
			logger.WithField("reset", n).Errorf("Usage reset finished with errors: %v", err)
			os.Exit(1)
		}
		logger.Infof("Usage reset completed: %d ledgers reset in %v", n, time.Since(start).Round(time.Millisecond))
		return
	}

	runner.Start()
	logger.Infof("Meter usage reset scheduler started (schedule %q, storage %s)", opts.Schedule, cfg.Storage.Type)

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	stopCtx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		logger.Warnf("Scheduler stop: %v", err)
	}
	logger.Info("Usage reset scheduler stopped")
}

func parseFlags() *Options {
	opts := &Options{}

	flag.StringVar(&opts.Schedule, "schedule", getEnv("METER_RESET_SCHEDULE", reset.DefaultSchedule), "Cron schedule for usage sweeps")
	flag.BoolVar(&opts.RunOnce, "run-once", false, "Run one sweep and exit")
	flag.DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "Upper bound for a single sweep")
	flag.StringVar(&opts.LogLevel, "log-level", getEnv("METER_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	flag.Parse()

	return opts
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
