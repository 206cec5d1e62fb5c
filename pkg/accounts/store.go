package accounts

import (
	"context"
	"time"
)

// Store persists accounts. Every method that mutates an account is a single
// atomic unit at the storage layer, and all mutations of one account are
// serialized there; different accounts never contend.
type Store interface {
	// CreateAccount inserts the account and its credential index entry if no
	// account exists for acct.UserID. It returns the stored account and
	// whether this call created it. ErrCredentialConflict means the
	// credential hash is taken by another account.
	CreateAccount(ctx context.Context, acct *Account) (*Account, bool, error)

	// GetAccount returns the account or ErrAccountNotFound
	GetAccount(ctx context.Context, userID string) (*Account, error)

	// FindByCredentialHash resolves the credential index or returns
	// ErrCredentialNotFound
	FindByCredentialHash(ctx context.Context, credentialHash string) (*Account, error)

	// Consume checks the subscription status and the execution quota and
	// increments the counter by one, all inside one transaction. It returns
	// ErrSubscriptionInactive, ErrLimitExceeded, ErrAccountNotFound or
	// ErrConflict without changing anything.
	Consume(ctx context.Context, userID string) (ConsumeResult, error)

	// ApplySubscription overwrites tier, status, processor references and
	// limits in one atomic unit, returning the subscription it replaced
	ApplySubscription(ctx context.Context, userID string, update SubscriptionUpdate) (Subscription, error)

	// ListExpired returns up to limit entries whose reset time is <= now,
	// ordered by (ResetAt, UserID). A non-nil after resumes strictly past
	// that position, so a caller can page beyond entries it could not reset.
	ListExpired(ctx context.Context, now time.Time, after *ExpiredEntry, limit int) ([]ExpiredEntry, error)

	// ResetUsage zeroes the execution counter and moves the reset time to
	// next, but only if the stored reset time is still <= now. It reports
	// whether the entry was reset.
	ResetUsage(ctx context.Context, userID string, now, next time.Time) (bool, error)

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}
