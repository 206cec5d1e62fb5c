package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultDedupeTTL covers Stripe's retry window of three days
const DefaultDedupeTTL = 72 * time.Hour

// Deduper remembers processed event ids
type Deduper interface {
	// Claim marks eventID as being processed and reports whether this was
	// the first claim
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets a claim so a redelivery is processed again
	Release(ctx context.Context, eventID string) error
}

// RedisDeduper shares claims between instances through SETNX
type RedisDeduper struct {
	client    *goredis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisDeduper creates a deduper. ttl <= 0 uses DefaultDedupeTTL.
func NewRedisDeduper(client *goredis.Client, keyPrefix string, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (d *RedisDeduper) key(eventID string) string {
	return d.keyPrefix + "billing:event:" + eventID
}

// Claim implements Deduper
func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(eventID), time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	return ok, nil
}

// Release implements Deduper
func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	if err := d.client.Del(ctx, d.key(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to release event: %w", err)
	}
	return nil
}

// MemoryDeduper keeps claims in a bounded in-process cache. Claims are not
// shared between instances.
type MemoryDeduper struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryDeduper creates a deduper holding at most size claims
func NewMemoryDeduper(size int, ttl time.Duration) *MemoryDeduper {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &MemoryDeduper{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Claim implements Deduper
func (d *MemoryDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache.Contains(eventID) {
		return false, nil
	}
	d.cache.Add(eventID, struct{}{})
	return true, nil
}

// Release implements Deduper
func (d *MemoryDeduper) Release(ctx context.Context, eventID string) error {
	d.cache.Remove(eventID)
	return nil
}
