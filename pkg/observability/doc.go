// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for the meter services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLevel("info"), os.Stdout)
//	logger.WithField("user_id", id).Info("account created")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordAuthorization("denied", "LimitExceeded")
//
// The Record* helpers are no-ops on a nil *Metrics, so library code can take
// an optional metrics pointer.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version,
//		observability.WithDatabase(db),
//		observability.WithRedis(client, true),
//	)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "meter",
//	}, logger)
//	defer providers.Shutdown(ctx)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.Register("store", func(ctx context.Context) error { return store.Close() })
//	sm.Register("http", server.Shutdown)
//	defer sm.Shutdown(context.Background()) // http first, then store
package observability
