// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that the
// packages setting a value and the packages reading it agree on one key.
//
//	ctx = contextkeys.WithAccount(ctx, acct)
//	acct, ok := ctx.Value(contextkeys.AccountKey).(*accounts.Account)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request id string
	// Set by: httputil.RequestIDMiddleware
	// Used by: observability.FromContext
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated account's user id
	// Set by: middleware.AccountAuth
	// Used by: observability.FromContext
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestIDMiddleware
	LoggerKey Key = "logger"

	// AccountKey contains the *accounts.Account resolved from the bearer credential
	// Set by: middleware.AccountAuth
	// Used by: the /users/me handler
	AccountKey Key = "account"
)

// WithAccount adds the authenticated account to the context
func WithAccount(ctx context.Context, acct interface{}) context.Context {
	return context.WithValue(ctx, AccountKey, acct)
}
