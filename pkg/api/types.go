package api

import (
	"time"

	"github.com/platinummonkey/meter/pkg/accounts"
)

// CreateUserRequest is the body of POST /api/v1/users/create
type CreateUserRequest struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// CreateUserResponse returns the account credential and its starting quota
type CreateUserResponse struct {
	Message          string `json:"message"`
	APIKey           string `json:"apiKey"`
	SubscriptionTier string `json:"subscriptionTier"`
	Usage            Usage  `json:"usage"`
}

// Usage is the quota ledger as shown to callers
type Usage struct {
	Executions ExecutionUsage `json:"executions"`
	Files      FileUsage      `json:"files"`
}

// ExecutionUsage is the execution counter of the current period
type ExecutionUsage struct {
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetDate time.Time `json:"resetDate"`
}

// FileUsage is the tracked file count and its cap
type FileUsage struct {
	Tracked int64 `json:"tracked"`
	Limit   int64 `json:"limit"`
}

// UserResponse is an account without its credential
type UserResponse struct {
	UID                  string    `json:"uid"`
	Email                string    `json:"email"`
	DisplayName          string    `json:"displayName"`
	SubscriptionTier     string    `json:"subscriptionTier"`
	SubscriptionStatus   string    `json:"subscriptionStatus"`
	StripeCustomerID     string    `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId,omitempty"`
	Usage                Usage     `json:"usage"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// ValidateResponse is returned when an execution is granted
type ValidateResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Usage   ExecutionUsage `json:"usage"`
}

// DeniedResponse is returned when an execution is refused for a quota or
// subscription reason
type DeniedResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Usage   ExecutionUsage `json:"usage"`
}

// UpdateSubscriptionRequest is the body of POST /api/v1/subscriptions/update
type UpdateSubscriptionRequest struct {
	UID                  string `json:"uid"`
	Tier                 string `json:"tier"`
	Status               string `json:"status"`
	StripeCustomerID     string `json:"stripeCustomerId"`
	StripeSubscriptionID string `json:"stripeSubscriptionId"`
	EventID              string `json:"eventId"`
}

// UpdateSubscriptionResponse reports how the subscription changed
type UpdateSubscriptionResponse struct {
	Message    string `json:"message"`
	Transition string `json:"transition"`
}

// ResetUsageResponse reports how many ledgers a sweep reset
type ResetUsageResponse struct {
	Message    string `json:"message"`
	UsersReset int    `json:"usersReset"`
}

// WebhookResponse acknowledges a Stripe delivery
type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

func usageFrom(u accounts.Usage) Usage {
	return Usage{
		Executions: ExecutionUsage{
			Used:      u.ExecutionsUsed,
			Limit:     u.ExecutionsLimit,
			Remaining: u.Remaining(),
			ResetDate: u.ResetAt.UTC(),
		},
		Files: FileUsage{
			Tracked: u.FilesTracked,
			Limit:   u.FilesLimit,
		},
	}
}

func userFrom(acct *accounts.Account) UserResponse {
	return UserResponse{
		UID:                  acct.UserID,
		Email:                acct.Email,
		DisplayName:          acct.DisplayName,
		SubscriptionTier:     string(acct.Subscription.Tier),
		SubscriptionStatus:   string(acct.Subscription.Status),
		StripeCustomerID:     acct.Subscription.ProcessorCustomerID,
		StripeSubscriptionID: acct.Subscription.ProcessorSubscriptionID,
		Usage:                usageFrom(acct.Usage),
		CreatedAt:            acct.CreatedAt.UTC(),
		UpdatedAt:            acct.UpdatedAt.UTC(),
	}
}
