// Package access answers the one question callers ask before running an
// execution: may this credential run one more now?
//
// The answer is one of three outcomes. Granted means a unit was consumed.
// Denied carries SubscriptionInactive or LimitExceeded. Unauthorized covers
// malformed and unknown credentials alike. When storage cannot produce a
// decision AuthorizeExecution returns an error wrapping ledger.ErrTransient
// instead, so the transport can answer 503 and never mistakes an outage for
// a denial.
package access
