package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/subscription"
	"github.com/platinummonkey/meter/pkg/tiers"
)

const sourceStripe = "stripe"

var (
	// ErrInvalidSignature is returned when the Stripe-Signature header does
	// not verify against the endpoint secret
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload is returned when a verified event cannot be decoded
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// Outcome reports what happened to a delivered event
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
)

// Applier applies a normalized billing event to an account
type Applier interface {
	ApplyBillingEvent(ctx context.Context, ev subscription.Event) (subscription.Transition, error)
}

// StripeWebhook turns verified Stripe deliveries into billing events
type StripeWebhook struct {
	secret  string
	applier Applier
	deduper Deduper
	logger  *observability.Logger
}

// NewStripeWebhook creates a webhook handler. deduper may be nil, in which
// case duplicate deliveries are simply applied again.
func NewStripeWebhook(secret string, applier Applier, deduper Deduper, logger *observability.Logger) *StripeWebhook {
	return &StripeWebhook{
		secret:  secret,
		applier: applier,
		deduper: deduper,
		logger:  logger,
	}
}

// Handle verifies payload, maps it to a billing event and applies it.
// Signature and decoding failures return ErrInvalidSignature or
// ErrInvalidPayload. Any other error is worth a redelivery.
func (w *StripeWebhook) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, w.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	log := w.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	ev, ok, err := MapEvent(event)
	if err != nil {
		return "", err
	}
	if !ok {
		log.Debug("stripe event ignored")
		return OutcomeIgnored, nil
	}
	if ev.AccountID == "" {
		log.Warn("stripe event carries no user reference, dropped")
		return OutcomeDropped, nil
	}

	if w.deduper != nil {
		first, err := w.deduper.Claim(ctx, event.ID)
		if err != nil {
			return "", fmt.Errorf("failed to check event %s: %w", event.ID, err)
		}
		if !first {
			log.Info("duplicate stripe event skipped")
			return OutcomeDuplicate, nil
		}
	}

	if _, err := w.applier.ApplyBillingEvent(ctx, ev); err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return OutcomeDropped, nil
		}
		if w.deduper != nil {
			if rerr := w.deduper.Release(ctx, event.ID); rerr != nil {
				log.WithError(rerr).Warn("failed to release event claim")
			}
		}
		return "", err
	}
	return OutcomeApplied, nil
}

// MapEvent converts a Stripe event into a billing event. ok is false for
// event types that do not affect subscriptions.
func MapEvent(event stripe.Event) (subscription.Event, bool, error) {
	ev := subscription.Event{EventID: event.ID, Source: sourceStripe}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return ev, false, fmt.Errorf("%w: checkout session: %v", ErrInvalidPayload, err)
		}

		ev.AccountID = sess.ClientReferenceID
		if ev.AccountID == "" {
			ev.AccountID = sess.Metadata["userId"]
		}
		ev.Tier = tiers.Tier(sess.Metadata["tier"])
		ev.Status = accounts.StatusActive
		if sess.Customer != nil {
			ev.ProcessorCustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			ev.ProcessorSubscriptionID = sess.Subscription.ID
		}
		return ev, true, nil

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return ev, false, fmt.Errorf("%w: subscription: %v", ErrInvalidPayload, err)
		}

		ev.AccountID = sub.Metadata["userId"]
		ev.Tier = subscriptionTier(&sub)
		ev.ProcessorSubscriptionID = sub.ID
		if sub.Customer != nil {
			ev.ProcessorCustomerID = sub.Customer.ID
		}
		if event.Type == "customer.subscription.deleted" {
			ev.Status = accounts.StatusCancelled
		} else {
			ev.Status = MapStatus(sub.Status)
		}
		return ev, true, nil
	}

	return ev, false, nil
}

// MapStatus folds Stripe's subscription statuses into the three account
// statuses
func MapStatus(status stripe.SubscriptionStatus) accounts.Status {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return accounts.StatusActive
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return accounts.StatusCancelled
	default:
		return accounts.StatusInactive
	}
}

// subscriptionTier reads the tier from the subscription metadata, falling
// back to the metadata or lookup key of the first price
func subscriptionTier(sub *stripe.Subscription) tiers.Tier {
	if tier := sub.Metadata["tier"]; tier != "" {
		return tiers.Tier(tier)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	price := sub.Items.Data[0].Price
	if tier := price.Metadata["tier"]; tier != "" {
		return tiers.Tier(tier)
	}
	return tiers.Tier(price.LookupKey)
}
