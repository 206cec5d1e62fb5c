package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/platinummonkey/meter/pkg/billing"
	"github.com/platinummonkey/meter/pkg/httputil"
	"github.com/platinummonkey/meter/pkg/observability"
)

// stripeWebhook verifies and applies a Stripe delivery. Anything but a 2xx
// makes Stripe redeliver, so only retryable failures answer 5xx.
func (s *Server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stripe == nil {
		httputil.WriteNotFound(w, "stripe webhook is not configured")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "unreadable body")
		return
	}

	logger := observability.FromContext(r.Context())
	outcome, err := s.cfg.Stripe.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrInvalidSignature):
		logger.WithError(err).Warn("stripe webhook signature rejected")
		httputil.WriteBadRequest(w, "invalid signature")
		return
	case errors.Is(err, billing.ErrInvalidPayload):
		logger.WithError(err).Warn("stripe webhook payload rejected")
		httputil.WriteBadRequest(w, "invalid payload")
		return
	default:
		logger.WithError(err).Error("stripe webhook failed")
		httputil.WriteServiceUnavailable(w, "event not processed", 0)
		return
	}

	httputil.WriteSuccess(w, WebhookResponse{Received: true, Outcome: string(outcome)})
}
