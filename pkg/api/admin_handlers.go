package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/httputil"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/subscription"
	"github.com/platinummonkey/meter/pkg/tiers"
)

// updateSubscription applies a billing event sent by a trusted caller
func (s *Server) updateSubscription(w http.ResponseWriter, r *http.Request) {
	var req UpdateSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.RequireNonEmpty("uid", req.UID),
		httputil.RequireNonEmpty("tier", req.Tier),
		httputil.RequireNonEmpty("status", req.Status),
	) {
		return
	}

	transition, err := s.cfg.Subscriptions.ApplyBillingEvent(r.Context(), subscription.Event{
		AccountID:               req.UID,
		Tier:                    tiers.Tier(req.Tier),
		Status:                  accounts.Status(req.Status),
		ProcessorCustomerID:     req.StripeCustomerID,
		ProcessorSubscriptionID: req.StripeSubscriptionID,
		EventID:                 req.EventID,
		Source:                  "internal",
	})
	switch {
	case err == nil:
	case errors.Is(err, subscription.ErrInvalidEvent):
		httputil.WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, accounts.ErrAccountNotFound):
		httputil.WriteNotFound(w, "User not found")
		return
	default:
		observability.FromContext(r.Context()).WithError(err).Error("subscription update failed")
		httputil.WriteServiceUnavailable(w, "subscription update failed, try again", 1)
		return
	}

	httputil.WriteSuccess(w, UpdateSubscriptionResponse{
		Message:    "Subscription updated successfully",
		Transition: string(transition),
	})
}

// resetUsage runs one sweep immediately. Ledgers that could not be reset
// are picked up by the next sweep, so partial failure still answers 200.
func (s *Server) resetUsage(w http.ResponseWriter, r *http.Request) {
	n, err := s.cfg.Sweeper.SweepExpired(r.Context(), s.now().UTC())
	if err != nil {
		logger := observability.FromContext(r.Context()).WithError(err).WithField("reset", n)
		if n == 0 {
			logger.Error("usage reset failed")
			httputil.WriteServiceUnavailable(w, "usage reset failed, try again", 5)
			return
		}
		logger.Warn("usage reset completed with failures")
	}

	httputil.WriteSuccess(w, ResetUsageResponse{
		Message:    "Usage reset completed",
		UsersReset: n,
	})
}
