// Package billing adapts payment processor callbacks into subscription
// updates.
//
// # Stripe
//
// StripeWebhook verifies the Stripe-Signature header against the endpoint
// secret and maps the events that matter:
//
//   - checkout.session.completed: the user comes from client_reference_id
//     (or metadata.userId), the tier from metadata.tier, status active.
//   - customer.subscription.created and .updated: user and tier from the
//     subscription metadata, status folded from Stripe's status.
//   - customer.subscription.deleted: status cancelled.
//
// Everything else is acknowledged and ignored.
//
// # Redelivery
//
// Stripe delivers at least once. Applying an event twice is harmless since
// each event overwrites the subscription as a whole, but a Deduper skips
// ids that were already processed. A claim is released when applying fails
// so the redelivery gets another chance.
//
//	deduper := billing.NewRedisDeduper(redisClient, "meter:", billing.DefaultDedupeTTL)
//	hook := billing.NewStripeWebhook(secret, machine, deduper, logger)
//	outcome, err := hook.Handle(ctx, body, r.Header.Get("Stripe-Signature"))
package billing
