// Package notify sends account notices. The only notice today is the quota
// exhaustion email, sent through SendGrid when a grant uses the last
// execution of a period. The ledger fires it in the background, so a slow or
// failing mail provider never delays or changes an authorization.
//
// When no SendGrid key is configured the service uses NopNotifier.
package notify
