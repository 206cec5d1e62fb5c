package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/meter/pkg/accounts"
)

// entry guards a single account. The store-level lock only protects the maps,
// so operations on different accounts never wait on each other.
type entry struct {
	mu   sync.Mutex
	acct accounts.Account
}

// Store is an in-process accounts.Store. It is only safe for a single
// service instance; multi-instance deployments use postgres or redis.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	credentials map[string]string // credential hash -> user id
	now         func() time.Time
}

var _ accounts.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		entries:     make(map[string]*entry),
		credentials: make(map[string]string),
		now:         time.Now,
	}
}

func (s *Store) lookup(userID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	return e, ok
}

func (s *Store) snapshot(e *entry) *accounts.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.acct
	return &acct
}

// CreateAccount implements accounts.Store
func (s *Store) CreateAccount(ctx context.Context, acct *accounts.Account) (*accounts.Account, bool, error) {
	s.mu.Lock()
	if e, ok := s.entries[acct.UserID]; ok {
		s.mu.Unlock()
		return s.snapshot(e), false, nil
	}
	if _, taken := s.credentials[acct.CredentialHash]; taken {
		s.mu.Unlock()
		return nil, false, accounts.ErrCredentialConflict
	}

	e := &entry{acct: *acct}
	s.entries[acct.UserID] = e
	s.credentials[acct.CredentialHash] = acct.UserID
	s.mu.Unlock()

	return s.snapshot(e), true, nil
}

// GetAccount implements accounts.Store
func (s *Store) GetAccount(ctx context.Context, userID string) (*accounts.Account, error) {
	e, ok := s.lookup(userID)
	if !ok {
		return nil, accounts.ErrAccountNotFound
	}
	return s.snapshot(e), nil
}

// FindByCredentialHash implements accounts.Store
func (s *Store) FindByCredentialHash(ctx context.Context, credentialHash string) (*accounts.Account, error) {
	s.mu.RLock()
	userID, ok := s.credentials[credentialHash]
	var e *entry
	if ok {
		e = s.entries[userID]
	}
	s.mu.RUnlock()

	if e == nil {
		return nil, accounts.ErrCredentialNotFound
	}
	return s.snapshot(e), nil
}

// Consume implements accounts.Store
func (s *Store) Consume(ctx context.Context, userID string) (accounts.ConsumeResult, error) {
	e, ok := s.lookup(userID)
	if !ok {
		return accounts.ConsumeResult{}, accounts.ErrAccountNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	u := &e.acct.Usage
	result := accounts.ConsumeResult{Used: u.ExecutionsUsed, Limit: u.ExecutionsLimit, ResetAt: u.ResetAt}

	if e.acct.Subscription.Status != accounts.StatusActive {
		return result, accounts.ErrSubscriptionInactive
	}
	if u.ExecutionsUsed >= u.ExecutionsLimit {
		return result, accounts.ErrLimitExceeded
	}

	u.ExecutionsUsed++
	e.acct.UpdatedAt = s.now().UTC()
	result.Used = u.ExecutionsUsed
	return result, nil
}

// ApplySubscription implements accounts.Store
func (s *Store) ApplySubscription(ctx context.Context, userID string, update accounts.SubscriptionUpdate) (accounts.Subscription, error) {
	e, ok := s.lookup(userID)
	if !ok {
		return accounts.Subscription{}, accounts.ErrAccountNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.acct.Subscription
	e.acct.Subscription = accounts.Subscription{
		Tier:                    update.Tier,
		Status:                  update.Status,
		ProcessorCustomerID:     update.ProcessorCustomerID,
		ProcessorSubscriptionID: update.ProcessorSubscriptionID,
	}
	e.acct.Usage.ExecutionsLimit = update.Limits.Executions
	e.acct.Usage.FilesLimit = update.Limits.Files
	e.acct.UpdatedAt = s.now().UTC()
	return previous, nil
}

// ListExpired implements accounts.Store
func (s *Store) ListExpired(ctx context.Context, now time.Time, after *accounts.ExpiredEntry, limit int) ([]accounts.ExpiredEntry, error) {
	s.mu.RLock()
	all := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.mu.RUnlock()

	var expired []accounts.ExpiredEntry
	for _, e := range all {
		e.mu.Lock()
		due := accounts.ExpiredEntry{UserID: e.acct.UserID, ResetAt: e.acct.Usage.ResetAt}
		e.mu.Unlock()

		if due.ResetAt.After(now) {
			continue
		}
		if after != nil && !after.Before(due) {
			continue
		}
		expired = append(expired, due)
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].Before(expired[j])
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// ResetUsage implements accounts.Store
func (s *Store) ResetUsage(ctx context.Context, userID string, now, next time.Time) (bool, error) {
	e, ok := s.lookup(userID)
	if !ok {
		return false, accounts.ErrAccountNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.acct.Usage.ResetAt.After(now) {
		return false, nil
	}
	e.acct.Usage.ExecutionsUsed = 0
	e.acct.Usage.ResetAt = next
	e.acct.UpdatedAt = now
	return true, nil
}

// Ping implements accounts.Store
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close implements accounts.Store
func (s *Store) Close() error {
	return nil
}
