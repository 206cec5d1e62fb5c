package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/ledger"
	"github.com/platinummonkey/meter/pkg/observability"
)

// Outcome is the caller-facing result class of an authorization
type Outcome string

const (
	OutcomeGranted      Outcome = "granted"
	OutcomeDenied       Outcome = "denied"
	OutcomeUnauthorized Outcome = "unauthorized"
)

// Result is the answer to "may this credential run one execution now?"
type Result struct {
	Outcome   Outcome
	Reason    accounts.Reason
	UserID    string
	UsedAfter int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// CredentialResolver maps a credential to its account
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, credential string) (*accounts.Account, error)
}

// Consumer makes the atomic quota decision
type Consumer interface {
	TryConsume(ctx context.Context, userID string) (ledger.Decision, error)
}

// Validator authorizes executions
type Validator struct {
	resolver CredentialResolver
	consumer Consumer
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewValidator creates a validator. metrics may be nil.
func NewValidator(resolver CredentialResolver, consumer Consumer, logger *observability.Logger, metrics *observability.Metrics) *Validator {
	return &Validator{
		resolver: resolver,
		consumer: consumer,
		logger:   logger,
		metrics:  metrics,
	}
}

// AuthorizeExecution resolves credential and asks the ledger for one unit.
// Unknown or malformed credentials are unauthorized. The returned error is
// non-nil only when no decision could be made; it wraps ledger.ErrTransient.
func (v *Validator) AuthorizeExecution(ctx context.Context, credential string) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "access.AuthorizeExecution")
	defer span.End()

	acct, err := v.resolver.ResolveCredential(ctx, credential)
	if err != nil {
		if errors.Is(err, accounts.ErrCredentialNotFound) {
			return v.finish(span, Result{Outcome: OutcomeUnauthorized, Reason: accounts.ReasonInvalidCredential}), nil
		}
		return v.fail(span, fmt.Errorf("%w: %w", ledger.ErrTransient, err))
	}

	span.SetAttributes(attribute.String("meter.user_id", acct.UserID))

	decision, err := v.consumer.TryConsume(ctx, acct.UserID)
	if err != nil {
		// the credential index pointed at an account that is gone
		if errors.Is(err, accounts.ErrAccountNotFound) {
			v.logger.WithField("user_id", acct.UserID).Warn("credential resolved to a missing account")
			return v.finish(span, Result{Outcome: OutcomeUnauthorized, Reason: accounts.ReasonInvalidCredential}), nil
		}
		return v.fail(span, err)
	}

	result := Result{
		UserID:    acct.UserID,
		UsedAfter: decision.UsedAfter,
		Limit:     decision.Limit,
		Remaining: decision.Remaining(),
		ResetAt:   decision.ResetAt,
	}
	if decision.Granted {
		result.Outcome = OutcomeGranted
	} else {
		result.Outcome = OutcomeDenied
		result.Reason = decision.Reason
		v.logger.WithFields(map[string]interface{}{
			"user_id": acct.UserID,
			"reason":  result.Reason,
			"used":    result.UsedAfter,
			"limit":   result.Limit,
		}).Debug("execution denied")
	}

	return v.finish(span, result), nil
}

func (v *Validator) finish(s trace.Span, result Result) Result {
	s.SetAttributes(
		attribute.String("meter.outcome", string(result.Outcome)),
		attribute.String("meter.reason", string(result.Reason)),
	)
	v.metrics.RecordAuthorization(string(result.Outcome), string(result.Reason))
	return result
}

func (v *Validator) fail(s trace.Span, err error) (Result, error) {
	s.RecordError(err)
	s.SetStatus(codes.Error, "authorization unavailable")
	v.metrics.RecordAuthorization("error", "")
	v.logger.WithError(err).Warn("authorization could not be decided")
	return Result{}, err
}
