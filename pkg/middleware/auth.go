package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/auth"
	"github.com/platinummonkey/meter/pkg/contextkeys"
	"github.com/platinummonkey/meter/pkg/httputil"
	"github.com/platinummonkey/meter/pkg/observability"
)

// InternalTokenHeader carries the shared secret of trusted callers
const InternalTokenHeader = "X-Internal-Token"

// CredentialResolver maps a bearer credential to its account
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, credential string) (*accounts.Account, error)
}

// AccountAuth resolves the bearer credential of every request and places the
// account on the request context. Missing and unknown credentials are
// answered with 401; storage failures with 503.
func AccountAuth(resolver CredentialResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, err := httputil.BearerToken(r)
			if err != nil {
				httputil.WriteUnauthorized(w, string(accounts.ReasonInvalidCredential), err.Error())
				return
			}

			acct, err := resolver.ResolveCredential(r.Context(), credential)
			if err != nil {
				if errors.Is(err, accounts.ErrCredentialNotFound) {
					httputil.WriteUnauthorized(w, string(accounts.ReasonInvalidCredential), "invalid API key")
					return
				}
				observability.FromContext(r.Context()).WithError(err).Error("credential lookup failed")
				httputil.WriteServiceUnavailable(w, "credential lookup unavailable", 1)
				return
			}

			ctx := contextkeys.WithAccount(r.Context(), acct)
			ctx = observability.WithUserID(ctx, acct.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountFromContext returns the account placed by AccountAuth
func AccountFromContext(ctx context.Context) (*accounts.Account, bool) {
	acct, ok := ctx.Value(contextkeys.AccountKey).(*accounts.Account)
	return acct, ok && acct != nil
}

// InternalToken admits only requests presenting token, either as a bearer
// credential or in the X-Internal-Token header. An empty token rejects
// everything.
func InternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(InternalTokenHeader)
			if presented == "" {
				presented, _ = httputil.BearerToken(r)
			}

			if token == "" || presented == "" || !auth.Equal(presented, token) {
				observability.FromContext(r.Context()).
					WithField("path", r.URL.Path).
					Warn("rejected request without a valid internal token")
				httputil.WriteUnauthorized(w, httputil.CodeUnauthorized, "internal token required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
