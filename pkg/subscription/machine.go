package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/audit"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/tiers"
)

// ErrInvalidEvent is returned for events that cannot be applied as given
var ErrInvalidEvent = errors.New("invalid billing event")

// Event is a billing update from the payment processor (or a trusted
// internal caller) for one account
type Event struct {
	AccountID               string
	Tier                    tiers.Tier
	Status                  accounts.Status
	ProcessorCustomerID     string
	ProcessorSubscriptionID string

	// EventID and Source only feed logs and metrics
	EventID string
	Source  string
}

// Transition names what an applied event did to a subscription
type Transition string

const (
	TransitionActivated   Transition = "activated"
	TransitionDeactivated Transition = "deactivated"
	TransitionCancelled   Transition = "cancelled"
	TransitionTierChanged Transition = "tier_changed"
	TransitionUnchanged   Transition = "unchanged"
)

// Classify describes the move from previous to next. Status changes take
// precedence over tier changes.
func Classify(previous, next accounts.Subscription) Transition {
	if previous.Status != next.Status {
		switch next.Status {
		case accounts.StatusActive:
			return TransitionActivated
		case accounts.StatusCancelled:
			return TransitionCancelled
		default:
			return TransitionDeactivated
		}
	}
	if previous.Tier != next.Tier {
		return TransitionTierChanged
	}
	return TransitionUnchanged
}

// Machine applies billing events to accounts
type Machine struct {
	store   accounts.Store
	table   *tiers.Table
	retry   accounts.RetryPolicy
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
}

// NewMachine creates a subscription state machine. metrics may be nil.
func NewMachine(store accounts.Store, table *tiers.Table, retry accounts.RetryPolicy, logger *observability.Logger, metrics *observability.Metrics) *Machine {
	return &Machine{
		store:   store,
		table:   table,
		retry:   retry,
		logger:  logger,
		metrics: metrics,
		audit:   audit.NopLogger{},
	}
}

// SetAuditLogger records every applied or dropped event to l
func (m *Machine) SetAuditLogger(l audit.Logger) {
	m.audit = l
}

// ApplyBillingEvent overwrites tier, status, processor references and the
// limits derived from the tier in one atomic write. The usage counter and
// the reset time are left alone. Unknown tiers fall back to the lowest tier.
// Reapplying the same event leaves the account in the same state.
func (m *Machine) ApplyBillingEvent(ctx context.Context, ev Event) (Transition, error) {
	source := ev.Source
	if source == "" {
		source = "internal"
	}

	ev.AccountID = strings.TrimSpace(ev.AccountID)
	ev.Status = accounts.Status(strings.ToLower(strings.TrimSpace(string(ev.Status))))
	ev.Tier = tiers.Tier(strings.ToLower(strings.TrimSpace(string(ev.Tier))))

	log := m.logger.WithFields(map[string]interface{}{
		"user_id":  ev.AccountID,
		"event_id": ev.EventID,
		"source":   source,
	})

	if ev.AccountID == "" {
		m.metrics.RecordBillingEvent(source, string(ev.Status), "invalid")
		return "", fmt.Errorf("%w: account id is required", ErrInvalidEvent)
	}
	if !ev.Status.Valid() {
		m.metrics.RecordBillingEvent(source, "unknown", "invalid")
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, ev.Status)
	}

	tier := m.table.Normalize(ev.Tier)
	if tier != ev.Tier {
		log.WithFields(map[string]interface{}{
			"requested_tier": ev.Tier,
			"applied_tier":   tier,
		}).Warn("unknown tier, using lowest tier")
	}

	update := accounts.SubscriptionUpdate{
		Tier:                    tier,
		Status:                  ev.Status,
		ProcessorCustomerID:     ev.ProcessorCustomerID,
		ProcessorSubscriptionID: ev.ProcessorSubscriptionID,
		Limits:                  m.table.LimitsFor(tier),
	}

	var previous accounts.Subscription
	err := accounts.RetryOnConflict(ctx, m.retry,
		func(err error, wait time.Duration) {
			log.WithField("wait_ms", wait.Milliseconds()).Debug("subscription update conflict, retrying")
		},
		func() error {
			var err error
			previous, err = m.store.ApplySubscription(ctx, ev.AccountID, update)
			return err
		})
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			m.metrics.RecordBillingEvent(source, string(ev.Status), "not_found")
			log.Warn("billing event for unknown account dropped")

			dropped := audit.NewEvent(ctx, audit.EventTypeSubscriptionDropped, audit.EventStatusFailure)
			dropped.UserID = ev.AccountID
			dropped.Source = source
			dropped.Message = "account not found"
			dropped.Metadata["event_id"] = ev.EventID
			dropped.Metadata["status"] = string(ev.Status)
			audit.Record(ctx, m.audit, m.logger, dropped)
			return "", err
		}
		m.metrics.RecordBillingEvent(source, string(ev.Status), "error")
		return "", fmt.Errorf("failed to apply billing event: %w", err)
	}

	transition := Classify(previous, accounts.Subscription{Tier: tier, Status: ev.Status})
	m.metrics.RecordBillingEvent(source, string(ev.Status), string(transition))

	log.WithFields(map[string]interface{}{
		"transition":      transition,
		"previous_tier":   previous.Tier,
		"previous_status": previous.Status,
		"tier":            tier,
		"status":          ev.Status,
		"executions":      update.Limits.Executions,
	}).Info("subscription updated")

	applied := audit.NewEvent(ctx, audit.EventTypeSubscriptionUpdated, audit.EventStatusSuccess)
	applied.UserID = ev.AccountID
	applied.Source = source
	applied.Message = string(transition)
	applied.Metadata["event_id"] = ev.EventID
	applied.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"tier": string(previous.Tier), "status": string(previous.Status)},
		After:  map[string]interface{}{"tier": string(tier), "status": string(ev.Status)},
	}
	audit.Record(ctx, m.audit, m.logger, applied)

	return transition, nil
}
