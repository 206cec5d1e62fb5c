package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/storage/memory"
	"github.com/platinummonkey/meter/pkg/storage/postgres"
	"github.com/platinummonkey/meter/pkg/storage/redis"
)

// Backend types
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
	TypeRedis    = "redis"
)

// Config for storage backend
type Config struct {
	Type string // "memory", "postgres", "redis"

	// PostgreSQL config
	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// LockTimeout bounds the row lock wait of a postgres consume
	LockTimeout time.Duration

	// Redis config
	RedisURL       string
	RedisPassword  string
	RedisDB        int
	RedisPoolSize  int
	RedisKeyPrefix string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:                TypeMemory,
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: time.Hour,
		PostgresMaxIdleTime: 10 * time.Minute,
		LockTimeout:         2 * time.Second,
		RedisDB:             0,
		RedisPoolSize:       10,
		RedisKeyPrefix:      "meter:",
	}
}

// Validate checks that the selected backend has what it needs
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
	case TypePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case TypeRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Type)
	}
	return nil
}

// Backends is an opened store plus the pools behind it. DB is set for
// postgres, Redis for redis; both are nil for memory.
type Backends struct {
	Store    accounts.Store
	DB       *sql.DB
	Redis    *goredis.Client
	Postgres *postgres.Store
}

// Open connects to the configured backend
func Open(ctx context.Context, cfg Config, logger *observability.Logger) (*Backends, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger = logger.WithField("storage", cfg.Type)

	switch cfg.Type {
	case TypePostgres:
		cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
			PrimaryURL:  cfg.PostgresURL,
			MaxConns:    cfg.PostgresMaxConns,
			MinConns:    cfg.PostgresMinConns,
			Timeout:     cfg.PostgresTimeout,
			MaxLifetime: cfg.PostgresMaxLifetime,
			MaxIdleTime: cfg.PostgresMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(cm, postgres.StoreConfig{LockTimeout: cfg.LockTimeout})
		logger.Info("storage backend opened")
		return &Backends{Store: store, DB: cm.Primary(), Postgres: store}, nil

	case TypeRedis:
		client, err := redis.NewClient(redis.ClientConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			return nil, err
		}
		store := redis.NewStore(client, redis.StoreConfig{KeyPrefix: cfg.RedisKeyPrefix})
		logger.Info("storage backend opened")
		return &Backends{Store: store, Redis: client}, nil

	default:
		logger.Warn("using in-memory storage; state is lost on restart")
		return &Backends{Store: memory.NewStore()}, nil
	}
}
