package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. The Record* helpers accept a nil
// receiver so components can run without a registry.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Ledger metrics
	AuthorizationsTotal *prometheus.CounterVec
	ConsumeRetriesTotal prometheus.Counter
	ConsumeDuration     *prometheus.HistogramVec

	// Subscription metrics
	BillingEventsTotal *prometheus.CounterVec

	// Reset metrics
	UsageResetsTotal *prometheus.CounterVec
	SweepDuration    prometheus.Histogram

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen      prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Redis metrics
	RedisConnectionsTotal prometheus.Gauge
	RedisConnectionsIdle  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meter_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meter_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		AuthorizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_authorizations_total",
				Help: "Execution authorization decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		ConsumeRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meter_consume_retries_total",
				Help: "Consume attempts retried after a storage conflict",
			},
		),
		ConsumeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meter_consume_duration_seconds",
				Help:    "Time to reach a consume decision, retries included",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"result"},
		),

		BillingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_billing_events_total",
				Help: "Billing events applied to subscriptions",
			},
			[]string{"source", "status", "result"},
		),

		UsageResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_usage_resets_total",
				Help: "Ledger entries visited by the reset sweep",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meter_sweep_duration_seconds",
				Help:    "Duration of a full reset sweep",
				Buckets: []float64{.01, .1, .5, 1, 5, 15, 60, 300},
			},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_notifications_total",
				Help: "Quota notifications by result",
			},
			[]string{"kind", "result"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meter_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meter_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meter_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		RedisConnectionsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meter_redis_connections_total",
				Help: "Number of connections in the Redis pool",
			},
		),
		RedisConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meter_redis_connections_idle",
				Help: "Number of idle connections in the Redis pool",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthorizationsTotal,
		m.ConsumeRetriesTotal,
		m.ConsumeDuration,
		m.BillingEventsTotal,
		m.UsageResetsTotal,
		m.SweepDuration,
		m.NotificationsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.RedisConnectionsTotal,
		m.RedisConnectionsIdle,
	)

	return m
}

// RecordAuthorization counts one access decision
func (m *Metrics) RecordAuthorization(outcome, reason string) {
	if m == nil {
		return
	}
	m.AuthorizationsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordConsumeRetry counts one retried consume attempt
func (m *Metrics) RecordConsumeRetry() {
	if m == nil {
		return
	}
	m.ConsumeRetriesTotal.Inc()
}

// RecordConsume observes the latency of a consume decision
func (m *Metrics) RecordConsume(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConsumeDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordBillingEvent counts one applied or dropped billing event
func (m *Metrics) RecordBillingEvent(source, status, result string) {
	if m == nil {
		return
	}
	m.BillingEventsTotal.WithLabelValues(source, status, result).Inc()
}

// RecordUsageReset counts one entry visited by a sweep
func (m *Metrics) RecordUsageReset(result string) {
	if m == nil {
		return
	}
	m.UsageResetsTotal.WithLabelValues(result).Inc()
}

// RecordSweep observes the duration of a sweep
func (m *Metrics) RecordSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

// RecordNotification counts one notification attempt
func (m *Metrics) RecordNotification(kind, result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind, result).Inc()
}

// UpdatePoolStats copies connection pool statistics into the gauges.
// Either argument may be nil.
func (m *Metrics) UpdatePoolStats(db *sql.DB, rdb *redis.Client) {
	if m == nil {
		return
	}
	if db != nil {
		stats := db.Stats()
		m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
		m.DBConnectionsIdle.Set(float64(stats.Idle))
		m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	}
	if rdb != nil {
		stats := rdb.PoolStats()
		m.RedisConnectionsTotal.Set(float64(stats.TotalConns))
		m.RedisConnectionsIdle.Set(float64(stats.IdleConns))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the matched mux route template over the raw path so
// the label set stays bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(serveMux *http.ServeMux, registry *prometheus.Registry) {
	serveMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
