package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/audit"
	"github.com/platinummonkey/meter/pkg/notify"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/reset"
	"github.com/platinummonkey/meter/pkg/storage"
)

// EnvPrefix prefixes every environment variable read by this package
const EnvPrefix = "METER_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Tiers         TiersConfig
	Reset         ResetConfig
	Retry         accounts.RetryPolicy
	Cache         CacheConfig
	Security      SecurityConfig
	Billing       BillingConfig
	Notify        notify.Config
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CreateRateLimit caps account creations per client address per minute;
	// 0 disables the limiter
	CreateRateLimit int
}

// AuditConfig selects the audit trail sinks. With neither set, nothing
// is recorded.
type AuditConfig struct {
	// Dir enables the JSON lines file trail
	Dir      string
	MaxSize  int64
	MaxFiles int
	// Database writes the trail to Postgres when that is the store
	Database bool
}

// Enabled reports whether any sink is configured
func (a AuditConfig) Enabled() bool {
	return a.Dir != "" || a.Database
}

// FileLogger returns the file sink config, or nil when Dir is unset
func (a AuditConfig) FileLogger() *audit.FileLoggerConfig {
	if a.Dir == "" {
		return nil
	}
	return &audit.FileLoggerConfig{
		BasePath: a.Dir,
		Rotate:   true,
		MaxSize:  a.MaxSize,
		MaxFiles: a.MaxFiles,
	}
}

// TiersConfig points at an optional tier table file
type TiersConfig struct {
	// File is a YAML tier table; empty uses the built-in table
	File string
}

// ResetConfig controls the usage reset sweep
type ResetConfig struct {
	// InProcess runs the sweep inside the API server
	InProcess    bool
	Schedule     string
	Timeout      time.Duration
	BatchSize    int
	Workers      int
	EntryTimeout time.Duration
}

// Scheduler maps the settings onto the scheduler's config
func (r ResetConfig) Scheduler() reset.Config {
	cfg := reset.DefaultConfig()
	if r.BatchSize > 0 {
		cfg.BatchSize = r.BatchSize
	}
	if r.Workers > 0 {
		cfg.Workers = r.Workers
	}
	if r.EntryTimeout > 0 {
		cfg.EntryTimeout = r.EntryTimeout
	}
	return cfg
}

// CacheConfig configures the credential lookup cache
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// SecurityConfig holds shared secrets
type SecurityConfig struct {
	// InternalToken guards the subscription update and usage reset endpoints
	InternalToken string
}

// BillingConfig configures the Stripe webhook
type BillingConfig struct {
	StripeWebhookSecret string
	DedupeTTL           time.Duration
	DedupeCacheSize     int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel maps the settings onto observability.OTelConfig
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Tiers:         TiersConfig{File: getEnv("METER_TIERS_FILE", "")},
		Reset:         loadResetConfig(),
		Retry:         loadRetryPolicy(),
		Cache:         loadCacheConfig(),
		Security:      SecurityConfig{InternalToken: getEnv("METER_INTERNAL_TOKEN", "")},
		Billing:       loadBillingConfig(),
		Notify:        loadNotifyConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadJobConfig loads the configuration for offline jobs (reset sweeps,
// migrations). Only the storage settings are validated; jobs serve no HTTP
// and need no shared secrets.
func LoadJobConfig() (*Config, error) {
	cfg := &Config{
		Storage:       loadStorageConfig(),
		Reset:         loadResetConfig(),
		Retry:         loadRetryPolicy(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Storage.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("METER_HOST", "0.0.0.0"),
		Port:            getEnv("METER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("METER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("METER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("METER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("METER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("METER_MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("METER_CORS_ORIGINS"),
		HealthPort:      getEnv("METER_HEALTH_PORT", "9090"),
		CreateRateLimit: getEnvInt("METER_CREATE_RATE_LIMIT", 30),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("METER_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = strings.ToLower(storageType)
	}

	// PostgreSQL config
	if pgURL := getEnv("METER_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("METER_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("METER_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("METER_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	if lockTimeout := getEnvDuration("METER_POSTGRES_LOCK_TIMEOUT", 0); lockTimeout > 0 {
		cfg.LockTimeout = lockTimeout
	}

	// Redis config
	if redisURL := getEnv("METER_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("METER_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("METER_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisPoolSize := getEnvInt("METER_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	if prefix := getEnv("METER_REDIS_KEY_PREFIX", ""); prefix != "" {
		cfg.RedisKeyPrefix = prefix
	}

	return cfg
}

func loadResetConfig() ResetConfig {
	defaults := reset.DefaultConfig()
	return ResetConfig{
		InProcess:    getEnvBool("METER_RESET_IN_PROCESS", true),
		Schedule:     getEnv("METER_RESET_SCHEDULE", reset.DefaultSchedule),
		Timeout:      getEnvDuration("METER_RESET_TIMEOUT", 10*time.Minute),
		BatchSize:    getEnvInt("METER_RESET_BATCH_SIZE", defaults.BatchSize),
		Workers:      getEnvInt("METER_RESET_WORKERS", defaults.Workers),
		EntryTimeout: getEnvDuration("METER_RESET_ENTRY_TIMEOUT", defaults.EntryTimeout),
	}
}

func loadRetryPolicy() accounts.RetryPolicy {
	defaults := accounts.DefaultRetryPolicy()
	return accounts.RetryPolicy{
		MaxRetries:      getEnvInt("METER_RETRY_MAX_ATTEMPTS", defaults.MaxRetries),
		InitialInterval: getEnvDuration("METER_RETRY_INITIAL_INTERVAL", defaults.InitialInterval),
		MaxInterval:     getEnvDuration("METER_RETRY_MAX_INTERVAL", defaults.MaxInterval),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Size: getEnvInt("METER_CREDENTIAL_CACHE_SIZE", 10000),
		TTL:  getEnvDuration("METER_CREDENTIAL_CACHE_TTL", time.Minute),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		StripeWebhookSecret: getEnv("METER_STRIPE_WEBHOOK_SECRET", ""),
		DedupeTTL:           getEnvDuration("METER_BILLING_DEDUPE_TTL", 72*time.Hour),
		DedupeCacheSize:     getEnvInt("METER_BILLING_DEDUPE_CACHE_SIZE", 10000),
	}
}

func loadNotifyConfig() notify.Config {
	return notify.Config{
		APIKey:      getEnv("METER_SENDGRID_API_KEY", ""),
		FromAddress: getEnv("METER_NOTIFY_FROM", ""),
		FromName:    getEnv("METER_NOTIFY_FROM_NAME", "Meter"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Dir:      getEnv("METER_AUDIT_DIR", ""),
		MaxSize:  getEnvInt64("METER_AUDIT_MAX_SIZE", 100*1024*1024),
		MaxFiles: getEnvInt("METER_AUDIT_MAX_FILES", 10),
		Database: getEnvBool("METER_AUDIT_DATABASE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("METER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("METER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("METER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("METER_OTEL_SERVICE_NAME", "meter"),
		OTelServiceVersion: getEnv("METER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("METER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("METER_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.CreateRateLimit < 0 {
		return fmt.Errorf("create rate limit must not be negative")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Security.InternalToken == "" {
		return fmt.Errorf("%sINTERNAL_TOKEN is required", EnvPrefix)
	}
	if len(c.Security.InternalToken) < 16 {
		return fmt.Errorf("%sINTERNAL_TOKEN must be at least 16 characters", EnvPrefix)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry attempts must not be negative")
	}

	if c.Reset.InProcess {
		if _, err := cron.ParseStandard(c.Reset.Schedule); err != nil {
			return fmt.Errorf("invalid reset schedule %q: %w", c.Reset.Schedule, err)
		}
	}

	// SendGrid needs both halves or neither
	if (c.Notify.APIKey == "") != (c.Notify.FromAddress == "") {
		return fmt.Errorf("%sSENDGRID_API_KEY and %sNOTIFY_FROM must be set together", EnvPrefix, EnvPrefix)
	}

	if c.Audit.Database && c.Storage.Type != storage.TypePostgres {
		return fmt.Errorf("%sAUDIT_DATABASE requires the postgres store", EnvPrefix)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
