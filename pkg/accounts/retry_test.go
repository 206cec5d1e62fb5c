package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetryOnConflict_SucceedsAfterConflicts(t *testing.T) {
	calls, retries := 0, 0
	err := RetryOnConflict(context.Background(), fastPolicy(5),
		func(error, time.Duration) { retries++ },
		func() error {
			calls++
			if calls < 3 {
				return ErrConflict
			}
			return nil
		})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetryOnConflict_Exhausted(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), fastPolicy(2), nil, func() error {
		calls++
		return ErrConflict
	})

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, calls, "one attempt plus two retries")
}

func TestRetryOnConflict_OtherErrorsAreNotRetried(t *testing.T) {
	for _, want := range []error{ErrLimitExceeded, ErrSubscriptionInactive, ErrAccountNotFound, errors.New("disk full")} {
		calls := 0
		err := RetryOnConflict(context.Background(), fastPolicy(5), nil, func() error {
			calls++
			return want
		})

		assert.ErrorIs(t, err, want)
		assert.Equal(t, 1, calls, want.Error())
	}
}

func TestRetryOnConflict_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 100, InitialInterval: 50 * time.Millisecond, MaxInterval: 50 * time.Millisecond}

	calls := 0
	err := RetryOnConflict(ctx, policy, nil, func() error {
		calls++
		cancel()
		return ErrConflict
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
