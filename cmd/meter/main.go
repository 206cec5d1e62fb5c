package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/meter/pkg/access"
	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/api"
	"github.com/platinummonkey/meter/pkg/audit"
	"github.com/platinummonkey/meter/pkg/billing"
	"github.com/platinummonkey/meter/pkg/config"
	"github.com/platinummonkey/meter/pkg/ledger"
	"github.com/platinummonkey/meter/pkg/middleware"
	"github.com/platinummonkey/meter/pkg/notify"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/reset"
	"github.com/platinummonkey/meter/pkg/storage"
	redisstore "github.com/platinummonkey/meter/pkg/storage/redis"
	"github.com/platinummonkey/meter/pkg/subscription"
	"github.com/platinummonkey/meter/pkg/tiers"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "meter: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "meter").
		WithField("version", version)

	ctx, stop := observability.SignalContext(context.Background())
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	otelCfg := cfg.Observability.OTel()
	otelCfg.ServiceVersion = version
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", providers.Shutdown)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	table := tiers.DefaultTable()
	if cfg.Tiers.File != "" {
		if table, err = tiers.LoadFile(cfg.Tiers.File); err != nil {
			return err
		}
		logger.WithField("file", cfg.Tiers.File).Info("tier table loaded")
	}

	backends, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	shutdown.Register("storage", func(context.Context) error { return backends.Store.Close() })

	// dedupe and rate limiting share redis with the store when it is the
	// primary backend and get their own client otherwise
	rdb := backends.Redis
	if rdb == nil && cfg.Storage.RedisURL != "" {
		rdb, err = redisstore.NewClient(redisstore.ClientConfig{
			URL:      cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			PoolSize: cfg.Storage.RedisPoolSize,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	}

	accountService := accounts.NewService(backends.Store, table, accounts.ServiceConfig{
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL,
	}, logger)

	notifier := newNotifier(cfg, accountService, logger, metrics)
	ledgerCfg := ledger.DefaultConfig()
	ledgerCfg.Retry = cfg.Retry
	quota := ledger.New(backends.Store, ledgerCfg, logger,
		ledger.WithMetrics(metrics),
		ledger.WithNotifier(notifier))

	validator := access.NewValidator(accountService, quota, logger, metrics)
	machine := subscription.NewMachine(backends.Store, table, cfg.Retry, logger, metrics)
	scheduler := reset.NewScheduler(backends.Store, cfg.Reset.Scheduler(), logger, metrics)

	if cfg.Audit.Enabled() {
		trail, err := openAuditTrail(ctx, cfg.Audit, backends)
		if err != nil {
			return err
		}
		shutdown.Register("audit", func(context.Context) error { return trail.Close() })
		accountService.SetAuditLogger(trail)
		machine.SetAuditLogger(trail)
		scheduler.SetAuditLogger(trail)
		logger.WithField("sinks", trail.Len()).Info("audit trail enabled")
	}

	serverCfg := api.Config{
		Accounts:      accountService,
		Authorizer:    validator,
		Subscriptions: machine,
		Sweeper:       scheduler,
		InternalToken: cfg.Security.InternalToken,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		CORSOrigins:   cfg.Server.CORSOrigins,
		Logger:        logger,
		Metrics:       metrics,
	}
	if cfg.Billing.StripeWebhookSecret != "" {
		serverCfg.Stripe = billing.NewStripeWebhook(cfg.Billing.StripeWebhookSecret, machine, newDeduper(cfg, rdb), logger)
	} else {
		logger.Info("stripe webhook disabled, METER_STRIPE_WEBHOOK_SECRET not set")
	}
	if cfg.Server.CreateRateLimit > 0 {
		serverCfg.CreateLimiter = newCreateLimiter(cfg, rdb)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(serverCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthOpts := []observability.HealthOption{
		observability.WithDependency("store", true, backends.Store.Ping),
	}
	if backends.DB != nil {
		healthOpts = append(healthOpts, observability.WithDatabase(backends.DB))
	}
	if rdb != nil {
		healthOpts = append(healthOpts, observability.WithRedis(rdb, backends.Redis != nil))
	}
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(version, healthOpts...))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("api server", apiServer.Shutdown)

	var runner *reset.Runner
	if cfg.Reset.InProcess {
		runner, err = reset.NewRunner(scheduler, cfg.Reset.Schedule, cfg.Reset.Timeout, logger)
		if err != nil {
			return err
		}
		runner.Start()
		shutdown.Register("reset scheduler", runner.Stop)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			metrics.UpdatePoolStats(backends.DB, rdb)
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func newNotifier(cfg *config.Config, reader notify.AccountReader, logger *observability.Logger, metrics *observability.Metrics) ledger.ExhaustionNotifier {
	n, err := notify.NewSendGridNotifier(cfg.Notify, reader, logger, metrics)
	if err != nil {
		logger.WithError(err).Info("quota notifications disabled")
		return notify.NopNotifier{}
	}
	return n
}

func newDeduper(cfg *config.Config, rdb *goredis.Client) billing.Deduper {
	if rdb != nil {
		return billing.NewRedisDeduper(rdb, cfg.Storage.RedisKeyPrefix, cfg.Billing.DedupeTTL)
	}
	return billing.NewMemoryDeduper(cfg.Billing.DedupeCacheSize, cfg.Billing.DedupeTTL)
}

func newCreateLimiter(cfg *config.Config, rdb *goredis.Client) middleware.Limiter {
	limits := middleware.DefaultRateLimitConfig()
	limits.RequestsPerWindow = cfg.Server.CreateRateLimit
	if rdb != nil {
		return middleware.NewRedisLimiter(rdb, limits, cfg.Storage.RedisKeyPrefix)
	}
	return middleware.NewMemoryLimiter(limits, 0)
}

func openAuditTrail(ctx context.Context, cfg config.AuditConfig, backends *storage.Backends) (*audit.MultiLogger, error) {
	var db *sql.DB
	if cfg.Database {
		db = backends.DB
	}
	trail, err := audit.Open(ctx, cfg.FileLogger(), db)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	return trail, nil
}
