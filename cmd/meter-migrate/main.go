package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/meter/pkg/audit"
	"github.com/platinummonkey/meter/pkg/config"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/storage"
)

// meter-migrate applies the postgres schema. It is safe to run repeatedly.
func main() {
	timeout := flag.Duration("timeout", time.Minute, "Upper bound for the migration")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}

	cfg, err := config.LoadJobConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Storage.Type != storage.TypePostgres {
		logger.Infof("Storage type %q has no schema to migrate", cfg.Storage.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backends, err := storage.Open(ctx, cfg.Storage, observability.NewLogger(cfg.Observability.LogLevel, os.Stderr))
	if err != nil {
		logger.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer backends.Store.Close()

	if err := backends.Postgres.Migrate(ctx); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
	if cfg.Audit.Database {
		if _, err := audit.NewDBLogger(ctx, backends.DB); err != nil {
			logger.Fatalf("Audit table migration failed: %v", err)
		}
	}
	logger.Info("Schema is up to date")
}
