package storage

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/storage/memory"
	"github.com/platinummonkey/meter/pkg/storage/redis"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default memory", mutate: func(c *Config) {}},
		{name: "postgres without url", mutate: func(c *Config) { c.Type = TypePostgres }, wantErr: "postgres URL"},
		{name: "postgres with url", mutate: func(c *Config) {
			c.Type = TypePostgres
			c.PostgresURL = "postgres://localhost/meter"
		}},
		{name: "redis without url", mutate: func(c *Config) { c.Type = TypeRedis }, wantErr: "redis URL"},
		{name: "unknown", mutate: func(c *Config) { c.Type = "filesystem" }, wantErr: "unknown storage type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	backends, err := Open(context.Background(), DefaultConfig(), testLogger())
	require.NoError(t, err)
	defer backends.Store.Close()

	assert.IsType(t, &memory.Store{}, backends.Store)
	assert.Nil(t, backends.DB)
	assert.Nil(t, backends.Redis)
}

func TestOpen_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := DefaultConfig()
	cfg.Type = TypeRedis
	cfg.RedisURL = "redis://" + mr.Addr()

	backends, err := Open(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer backends.Store.Close()

	assert.IsType(t, &redis.Store{}, backends.Store)
	require.NotNil(t, backends.Redis)
	assert.NoError(t, backends.Store.Ping(context.Background()))
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = TypePostgres

	_, err := Open(context.Background(), cfg, testLogger())
	assert.Error(t, err)
}
