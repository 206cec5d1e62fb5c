package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/meter/pkg/audit"
	"github.com/platinummonkey/meter/pkg/auth"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/tiers"
)

// maxCredentialAttempts bounds regeneration after a credential hash collision
const maxCredentialAttempts = 3

// Service creates accounts and resolves credentials
type Service struct {
	store     Store
	table     *tiers.Table
	generator *auth.CredentialGenerator
	cache     *expirable.LRU[string, string] // credential hash -> user id
	logger    *observability.Logger
	audit     audit.Logger
	now       func() time.Time
}

// ServiceConfig configures a Service
type ServiceConfig struct {
	// CacheSize enables the credential lookup cache when > 0
	CacheSize int
	CacheTTL  time.Duration
}

// NewService creates an account service
func NewService(store Store, table *tiers.Table, cfg ServiceConfig, logger *observability.Logger) *Service {
	s := &Service{
		store:     store,
		table:     table,
		generator: auth.NewCredentialGenerator(),
		logger:    logger,
		audit:     audit.NopLogger{},
		now:       time.Now,
	}
	if cfg.CacheSize > 0 {
		ttl := cfg.CacheTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		s.cache = expirable.NewLRU[string, string](cfg.CacheSize, nil, ttl)
	}
	return s
}

// SetAuditLogger records account creation to l
func (s *Service) SetAuditLogger(l audit.Logger) {
	s.audit = l
}

// CreateAccount returns the account for userID, creating it with a fresh
// credential, an inactive lowest-tier subscription and an empty ledger if it
// does not exist yet. Repeat calls return the first account unchanged.
func (s *Service) CreateAccount(ctx context.Context, userID, email, displayName string) (*Account, bool, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	if userID == "" {
		return nil, false, fmt.Errorf("%w: user id is required", ErrInvalidAccount)
	}
	if email == "" {
		return nil, false, fmt.Errorf("%w: email is required", ErrInvalidAccount)
	}

	existing, err := s.store.GetAccount(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, fmt.Errorf("failed to look up account: %w", err)
	}

	for attempt := 1; attempt <= maxCredentialAttempts; attempt++ {
		credential, credentialHash, err := s.generator.Generate()
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate credential: %w", err)
		}

		acct := NewAccount(userID, email, strings.TrimSpace(displayName), credential, credentialHash, s.table, s.now().UTC())
		stored, created, err := s.store.CreateAccount(ctx, acct)
		if errors.Is(err, ErrCredentialConflict) {
			s.logger.WithField("user_id", userID).
				WithField("attempt", attempt).
				Warn("credential collision, regenerating")
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to create account: %w", err)
		}

		if created {
			s.logger.WithFields(map[string]interface{}{
				"user_id":           userID,
				"credential_prefix": auth.DisplayPrefix(stored.Credential),
				"tier":              stored.Subscription.Tier,
			}).Info("account created")

			ev := audit.NewEvent(ctx, audit.EventTypeAccountCreated, audit.EventStatusSuccess)
			ev.UserID = userID
			ev.Source = "api"
			ev.Metadata["credential_prefix"] = auth.DisplayPrefix(stored.Credential)
			ev.Metadata["tier"] = string(stored.Subscription.Tier)
			ev.Metadata["executions_limit"] = stored.Usage.ExecutionsLimit
			audit.Record(ctx, s.audit, s.logger, ev)
		}
		return stored, created, nil
	}

	return nil, false, fmt.Errorf("failed to create account: %w", ErrCredentialConflict)
}

// ResolveCredential returns the account owning credential. Malformed and
// unknown credentials both yield ErrCredentialNotFound.
func (s *Service) ResolveCredential(ctx context.Context, credential string) (*Account, error) {
	if err := auth.ValidateFormat(credential); err != nil {
		return nil, ErrCredentialNotFound
	}
	credentialHash := auth.HashCredential(credential)

	if s.cache != nil {
		if userID, ok := s.cache.Get(credentialHash); ok {
			acct, err := s.store.GetAccount(ctx, userID)
			if err == nil && auth.Equal(acct.Credential, credential) {
				return acct, nil
			}
			if err != nil && !errors.Is(err, ErrAccountNotFound) {
				return nil, fmt.Errorf("failed to load account: %w", err)
			}
			s.cache.Remove(credentialHash)
		}
	}

	acct, err := s.store.FindByCredentialHash(ctx, credentialHash)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}
	if !auth.Equal(acct.Credential, credential) {
		return nil, ErrCredentialNotFound
	}

	if s.cache != nil {
		s.cache.Add(credentialHash, acct.UserID)
	}
	return acct, nil
}

// GetAccount returns an account by user id
func (s *Service) GetAccount(ctx context.Context, userID string) (*Account, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}
