package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/async"
	"github.com/platinummonkey/meter/pkg/observability"
)

// ErrTransient means no decision could be reached: conflicts outlasted the
// retry budget or storage was unavailable. Nothing was consumed.
var ErrTransient = errors.New("quota ledger temporarily unavailable")

// Decision is the outcome of a consume attempt. A denied decision carries the
// reason and the unchanged counter.
type Decision struct {
	Granted   bool
	Reason    accounts.Reason
	UsedAfter int64
	Limit     int64
	ResetAt   time.Time
}

// Remaining returns the executions left after this decision
func (d Decision) Remaining() int64 {
	if d.UsedAfter >= d.Limit {
		return 0
	}
	return d.Limit - d.UsedAfter
}

// ExhaustionNotifier is told when a grant used the last unit of a period
type ExhaustionNotifier interface {
	QuotaExhausted(ctx context.Context, userID string, usage accounts.ConsumeResult) error
}

// Config configures a Ledger
type Config struct {
	Retry         accounts.RetryPolicy
	NotifyTimeout time.Duration
}

// DefaultConfig returns the default ledger configuration
func DefaultConfig() Config {
	return Config{
		Retry:         accounts.DefaultRetryPolicy(),
		NotifyTimeout: 10 * time.Second,
	}
}

// Ledger decides whether an execution may run and records it
type Ledger struct {
	store    accounts.Store
	cfg      Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	notifier ExhaustionNotifier
}

// Option configures optional Ledger collaborators
type Option func(*Ledger)

// WithMetrics records decisions and retries
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithNotifier sets the notifier called on quota exhaustion
func WithNotifier(n ExhaustionNotifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// New creates a ledger over store
func New(store accounts.Store, cfg Config, logger *observability.Logger, opts ...Option) *Ledger {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultConfig().NotifyTimeout
	}
	l := &Ledger{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryConsume atomically checks the subscription and the quota of userID and
// records one execution if both allow it. Denials are returned as a Decision;
// ErrAccountNotFound and ErrTransient are returned as errors.
func (l *Ledger) TryConsume(ctx context.Context, userID string) (Decision, error) {
	ctx, span := observability.Tracer().Start(ctx, "ledger.TryConsume",
		trace.WithAttributes(attribute.String("meter.user_id", userID)))
	defer span.End()

	start := time.Now()
	retries := 0

	var result accounts.ConsumeResult
	err := accounts.RetryOnConflict(ctx, l.cfg.Retry,
		func(err error, wait time.Duration) {
			retries++
			l.metrics.RecordConsumeRetry()
			l.logger.WithFields(map[string]interface{}{
				"user_id": userID,
				"retry":   retries,
				"wait_ms": wait.Milliseconds(),
			}).Debug("consume conflict, retrying")
		},
		func() error {
			var err error
			result, err = l.store.Consume(ctx, userID)
			return err
		})

	span.SetAttributes(attribute.Int("meter.retries", retries))
	decision := Decision{UsedAfter: result.Used, Limit: result.Limit, ResetAt: result.ResetAt}

	switch {
	case err == nil:
		decision.Granted = true
		l.metrics.RecordConsume("granted", time.Since(start))
		if result.Used == result.Limit {
			l.notifyExhausted(ctx, userID, result)
		}
		return decision, nil

	case errors.Is(err, accounts.ErrSubscriptionInactive):
		decision.Reason = accounts.ReasonSubscriptionInactive
		l.metrics.RecordConsume("denied", time.Since(start))
		return decision, nil

	case errors.Is(err, accounts.ErrLimitExceeded):
		decision.Reason = accounts.ReasonLimitExceeded
		l.metrics.RecordConsume("denied", time.Since(start))
		return decision, nil

	case errors.Is(err, accounts.ErrAccountNotFound):
		l.metrics.RecordConsume("not_found", time.Since(start))
		return Decision{}, err
	}

	l.metrics.RecordConsume("error", time.Since(start))
	span.RecordError(err)
	span.SetStatus(codes.Error, "consume failed")
	l.logger.WithError(err).WithFields(map[string]interface{}{
		"user_id": userID,
		"retries": retries,
	}).Warn("consume did not reach a decision")

	return Decision{}, fmt.Errorf("%w: %w", ErrTransient, err)
}

func (l *Ledger) notifyExhausted(ctx context.Context, userID string, usage accounts.ConsumeResult) {
	l.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"used":    usage.Used,
		"limit":   usage.Limit,
	}).Info("execution quota exhausted")

	if l.notifier == nil {
		return
	}
	async.SafeGo(ctx, l.logger, l.cfg.NotifyTimeout, "quota exhausted notification", func(ctx context.Context) error {
		return l.notifier.QuotaExhausted(ctx, userID, usage)
	})
}
