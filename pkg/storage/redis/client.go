package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ClientConfig holds Redis connection settings
type ClientConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	// ReadTimeout defaults to 3s
	ReadTimeout time.Duration
}

// NewClient parses the URL, applies overrides and verifies the connection.
// Commands are sent at most once: a reply lost to a timeout is returned as
// an error, never replayed, because the script it belonged to may have run.
func NewClient(config ClientConfig) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MaxRetries = -1

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
