package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/httputil"
	"github.com/platinummonkey/meter/pkg/middleware"
	"github.com/platinummonkey/meter/pkg/observability"
)

// createUser issues an account and its credential. Repeat calls for the
// same uid return the existing credential.
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.RequireNonEmpty("uid", req.UID),
		httputil.RequireNonEmpty("email", req.Email),
	) {
		return
	}

	acct, created, err := s.cfg.Accounts.CreateAccount(r.Context(), req.UID, req.Email, req.DisplayName)
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidAccount) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to create account")
		httputil.WriteServiceUnavailable(w, "account storage unavailable", 1)
		return
	}

	resp := CreateUserResponse{
		Message:          "User already exists",
		APIKey:           acct.Credential,
		SubscriptionTier: string(acct.Subscription.Tier),
		Usage:            usageFrom(acct.Usage),
	}
	if !created {
		httputil.WriteSuccess(w, resp)
		return
	}
	resp.Message = "User created successfully"
	httputil.WriteCreated(w, resp)
}

// getMe returns the caller's account without its credential
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, string(accounts.ReasonInvalidCredential), "invalid API key")
		return
	}
	httputil.WriteSuccess(w, userFrom(acct))
}
