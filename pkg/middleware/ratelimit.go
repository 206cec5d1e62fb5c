package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/meter/pkg/httputil"
	"github.com/platinummonkey/meter/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate (memory limiter only)
	BurstSize int
}

// DefaultRateLimitConfig returns the limits applied to account creation
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 30,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// Limiter decides whether one more request for key fits the window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Config() RateLimitConfig
}

// MemoryLimiter is a per-process token bucket per key. Idle keys age out of
// a bounded LRU.
type MemoryLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewMemoryLimiter creates an in-memory limiter tracking at most maxKeys keys
func NewMemoryLimiter(config RateLimitConfig, maxKeys int) *MemoryLimiter {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &MemoryLimiter{
		config:  config,
		buckets: expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, config.WindowDuration*2),
	}
}

// Allow takes one token from the bucket of key
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets.Get(key)
	if !ok {
		every := rate.Every(l.config.WindowDuration / time.Duration(l.config.RequestsPerWindow))
		b = rate.NewLimiter(every, l.config.RequestsPerWindow+l.config.BurstSize)
		l.buckets.Add(key, b)
	}
	l.mu.Unlock()

	return b.Allow(), nil
}

// Config returns the limits in force
func (l *MemoryLimiter) Config() RateLimitConfig {
	return l.config
}

// RateLimit rejects requests over the limiter's budget with 429. Keys are
// derived from the client address. Limiter errors fail open.
func RateLimit(limiter Limiter, logger *observability.Logger) func(http.Handler) http.Handler {
	cfg := limiter.Config()
	retryAfter := strconv.Itoa(int(cfg.WindowDuration.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
				httputil.WriteTooManyRequests(w, "RateLimited", "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address without its port
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
