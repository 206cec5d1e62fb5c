// Package ledger implements the quota ledger: the single decision point that
// turns "may this account run one more execution?" into an atomic
// check-and-increment.
//
// The check and the increment happen inside one storage transaction (see
// accounts.Store.Consume), so concurrent requests for the same account can
// never push the counter past its limit. Storage conflicts are retried with
// bounded exponential backoff; when the budget runs out the caller gets
// ErrTransient and nothing is consumed.
//
// Usage:
//
//	l := ledger.New(store, ledger.DefaultConfig(), logger,
//	    ledger.WithMetrics(metrics),
//	    ledger.WithNotifier(notifier),
//	)
//
//	decision, err := l.TryConsume(ctx, userID)
//	switch {
//	case errors.Is(err, ledger.ErrTransient):
//	    // 503, try again later
//	case err != nil:
//	    // account missing
//	case decision.Granted:
//	    // run the execution
//	default:
//	    // decision.Reason is SubscriptionInactive or LimitExceeded
//	}
package ledger
