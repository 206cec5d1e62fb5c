package api

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/meter/pkg/access"
	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/httputil"
)

// validateExecution consumes one execution for the bearer credential.
//
//	200 granted, 401 InvalidCredential, 403 SubscriptionInactive,
//	429 LimitExceeded, 503 no decision could be made
func (s *Server) validateExecution(w http.ResponseWriter, r *http.Request) {
	credential, err := httputil.BearerToken(r)
	if err != nil {
		httputil.WriteUnauthorized(w, string(accounts.ReasonInvalidCredential), "missing API key")
		return
	}

	result, err := s.cfg.Authorizer.AuthorizeExecution(r.Context(), credential)
	if err != nil {
		httputil.WriteServiceUnavailable(w, "execution could not be validated, try again", 1)
		return
	}

	usage := ExecutionUsage{
		Used:      result.UsedAfter,
		Limit:     result.Limit,
		Remaining: result.Remaining,
		ResetDate: result.ResetAt.UTC(),
	}

	switch result.Outcome {
	case access.OutcomeGranted:
		httputil.WriteSuccess(w, ValidateResponse{
			Success: true,
			Message: "Execution validated",
			Usage:   usage,
		})
	case access.OutcomeUnauthorized:
		httputil.WriteUnauthorized(w, string(accounts.ReasonInvalidCredential), "invalid API key")
	default:
		switch result.Reason {
		case accounts.ReasonSubscriptionInactive:
			httputil.WriteJSON(w, http.StatusForbidden, DeniedResponse{
				Error:   string(result.Reason),
				Message: "Please activate your subscription to use executions",
				Usage:   usage,
			})
		case accounts.ReasonLimitExceeded:
			httputil.WriteJSON(w, http.StatusTooManyRequests, DeniedResponse{
				Error:   string(result.Reason),
				Message: fmt.Sprintf("You have used %d/%d executions this period", result.UsedAfter, result.Limit),
				Usage:   usage,
			})
		default:
			httputil.WriteForbidden(w, httputil.CodeForbidden, "execution denied")
		}
	}
}
