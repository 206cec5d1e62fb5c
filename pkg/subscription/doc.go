// Package subscription applies billing events from the payment processor to
// accounts.
//
// The processor is the source of truth for subscription state, so every
// valid status is accepted from every status. Each event rewrites tier,
// status and processor references together with the limits the tier implies,
// in a single atomic store operation. The usage counter is never touched: a
// downgrade below current usage simply denies further executions until the
// next reset.
//
// ApplyBillingEvent returns a Transition describing what changed, which is
// used for logs and the meter_billing_events_total metric:
//
//	transition, err := machine.ApplyBillingEvent(ctx, subscription.Event{
//	    AccountID: "user-123",
//	    Tier:      tiers.Professional,
//	    Status:    accounts.StatusActive,
//	})
package subscription
