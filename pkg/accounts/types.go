package accounts

import (
	"time"

	"github.com/platinummonkey/meter/pkg/tiers"
)

// Status represents the billing state of a subscription
type Status string

const (
	StatusInactive  Status = "inactive"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusInactive, StatusActive, StatusCancelled:
		return true
	}
	return false
}

// Reason is the caller-facing explanation for a refused execution
type Reason string

const (
	ReasonInvalidCredential    Reason = "InvalidCredential"
	ReasonSubscriptionInactive Reason = "SubscriptionInactive"
	ReasonLimitExceeded        Reason = "LimitExceeded"
)

// ResetPeriod is how long a usage period lasts
const ResetPeriod = 30 * 24 * time.Hour

// Account is a metered user together with its credential, subscription and
// usage ledger. All four share one lifetime.
type Account struct {
	UserID      string
	Email       string
	DisplayName string

	// Credential is the single active secret; CredentialHash is its index key
	Credential     string
	CredentialHash string

	Subscription Subscription
	Usage        Usage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscription is the billing side of an account
type Subscription struct {
	Tier                    tiers.Tier
	Status                  Status
	ProcessorCustomerID     string
	ProcessorSubscriptionID string
}

// Usage is the quota ledger entry of an account
type Usage struct {
	ExecutionsUsed  int64
	ExecutionsLimit int64
	FilesTracked    int64
	FilesLimit      int64
	ResetAt         time.Time
}

// Remaining returns how many executions are left in the current period
func (u Usage) Remaining() int64 {
	if u.ExecutionsUsed >= u.ExecutionsLimit {
		return 0
	}
	return u.ExecutionsLimit - u.ExecutionsUsed
}

// ConsumeResult is the ledger state observed by a consume attempt. On a grant
// Used is the count after the increment; on a denial it is the unchanged count.
type ConsumeResult struct {
	Used    int64
	Limit   int64
	ResetAt time.Time
}

// ExpiredEntry is a due entry as listed by Store.ListExpired. It doubles as
// the paging cursor.
type ExpiredEntry struct {
	UserID  string
	ResetAt time.Time
}

// Before reports whether e sorts ahead of other in (ResetAt, UserID) order
func (e ExpiredEntry) Before(other ExpiredEntry) bool {
	if e.ResetAt.Equal(other.ResetAt) {
		return e.UserID < other.UserID
	}
	return e.ResetAt.Before(other.ResetAt)
}

// SubscriptionUpdate overwrites the subscription of an account and the limits
// derived from its tier
type SubscriptionUpdate struct {
	Tier                    tiers.Tier
	Status                  Status
	ProcessorCustomerID     string
	ProcessorSubscriptionID string
	Limits                  tiers.Limits
}

// NewAccount builds the initial state of an account: lowest tier, inactive,
// nothing used, first reset one period from now.
func NewAccount(userID, email, displayName, credential, credentialHash string, table *tiers.Table, now time.Time) *Account {
	lowest := table.Lowest()
	limits := table.LimitsFor(lowest)

	return &Account{
		UserID:         userID,
		Email:          email,
		DisplayName:    displayName,
		Credential:     credential,
		CredentialHash: credentialHash,
		Subscription: Subscription{
			Tier:   lowest,
			Status: StatusInactive,
		},
		Usage: Usage{
			ExecutionsLimit: limits.Executions,
			FilesLimit:      limits.Files,
			ResetAt:         now.Add(ResetPeriod),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
