package accounts

import "errors"

var (
	// ErrAccountNotFound is returned when no account exists for a user id
	ErrAccountNotFound = errors.New("account not found")

	// ErrCredentialNotFound is returned when a credential resolves to no account
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialConflict is returned when a freshly generated credential
	// collides with one already indexed
	ErrCredentialConflict = errors.New("credential already in use")

	// ErrSubscriptionInactive is returned by Consume when the subscription is
	// not active
	ErrSubscriptionInactive = errors.New("subscription is not active")

	// ErrLimitExceeded is returned by Consume when the period quota is used up
	ErrLimitExceeded = errors.New("usage limit exceeded")

	// ErrConflict marks a transient storage conflict (serialization failure,
	// deadlock, lock timeout). Callers may retry.
	ErrConflict = errors.New("storage transaction conflict")

	// ErrInvalidAccount is returned when account input fails validation
	ErrInvalidAccount = errors.New("invalid account")
)
