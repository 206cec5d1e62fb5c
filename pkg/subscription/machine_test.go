package subscription

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/audit"
	"github.com/platinummonkey/meter/pkg/observability"
	"github.com/platinummonkey/meter/pkg/storage/memory"
	"github.com/platinummonkey/meter/pkg/tiers"
)

var testNow = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

// flakyStore fails ApplySubscription with ErrConflict a fixed number of times
type flakyStore struct {
	accounts.Store
	conflicts int
	calls     int
}

func (s *flakyStore) ApplySubscription(ctx context.Context, userID string, update accounts.SubscriptionUpdate) (accounts.Subscription, error) {
	s.calls++
	if s.calls <= s.conflicts {
		return accounts.Subscription{}, accounts.ErrConflict
	}
	return s.Store.ApplySubscription(ctx, userID, update)
}

func fastRetry() accounts.RetryPolicy {
	return accounts.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func setup(t *testing.T) (*memory.Store, *Machine) {
	t.Helper()

	store := memory.NewStore()
	acct := accounts.NewAccount("user-1", "user-1@example.com", "User One", "ccp_user1", "hash-user1", tiers.DefaultTable(), testNow)
	_, _, err := store.CreateAccount(context.Background(), acct)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return store, NewMachine(store, tiers.DefaultTable(), fastRetry(), logger, nil)
}

func TestApplyBillingEvent_Activate(t *testing.T) {
	store, m := setup(t)
	ctx := context.Background()

	transition, err := m.ApplyBillingEvent(ctx, Event{
		AccountID:               "user-1",
		Tier:                    tiers.Professional,
		Status:                  accounts.StatusActive,
		ProcessorCustomerID:     "cus_123",
		ProcessorSubscriptionID: "sub_456",
	})
	require.NoError(t, err)
	assert.Equal(t, TransitionActivated, transition)

	acct, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Professional, acct.Subscription.Tier)
	assert.Equal(t, accounts.StatusActive, acct.Subscription.Status)
	assert.Equal(t, "cus_123", acct.Subscription.ProcessorCustomerID)
	assert.Equal(t, "sub_456", acct.Subscription.ProcessorSubscriptionID)
	assert.Equal(t, int64(700), acct.Usage.ExecutionsLimit)
	assert.Equal(t, int64(1000), acct.Usage.FilesLimit)
}

func TestApplyBillingEvent_Idempotent(t *testing.T) {
	store, m := setup(t)
	ctx := context.Background()

	ev := Event{AccountID: "user-1", Tier: tiers.Team, Status: accounts.StatusActive, EventID: "evt_1"}

	_, err := m.ApplyBillingEvent(ctx, ev)
	require.NoError(t, err)
	first, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)

	transition, err := m.ApplyBillingEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, TransitionUnchanged, transition)

	second, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.Subscription, second.Subscription)
	assert.Equal(t, first.Usage, second.Usage)
}

func TestApplyBillingEvent_DowngradeKeepsUsage(t *testing.T) {
	store, m := setup(t)
	ctx := context.Background()

	_, err := m.ApplyBillingEvent(ctx, Event{AccountID: "user-1", Tier: tiers.Professional, Status: accounts.StatusActive})
	require.NoError(t, err)
	for i := 0; i < 60; i++ {
		_, err := store.Consume(ctx, "user-1")
		require.NoError(t, err)
	}

	transition, err := m.ApplyBillingEvent(ctx, Event{AccountID: "user-1", Tier: tiers.Starter, Status: accounts.StatusActive})
	require.NoError(t, err)
	assert.Equal(t, TransitionTierChanged, transition)

	acct, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), acct.Usage.ExecutionsUsed)
	assert.Equal(t, int64(50), acct.Usage.ExecutionsLimit)

	_, err = store.Consume(ctx, "user-1")
	assert.ErrorIs(t, err, accounts.ErrLimitExceeded)
}

func TestApplyBillingEvent_UnknownTierFallsBack(t *testing.T) {
	store, m := setup(t)

	_, err := m.ApplyBillingEvent(context.Background(), Event{AccountID: "user-1", Tier: "enterprise", Status: accounts.StatusActive})
	require.NoError(t, err)

	acct, err := store.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Starter, acct.Subscription.Tier)
	assert.Equal(t, int64(50), acct.Usage.ExecutionsLimit)
}

func TestApplyBillingEvent_NormalizesInput(t *testing.T) {
	store, m := setup(t)

	_, err := m.ApplyBillingEvent(context.Background(), Event{AccountID: " user-1 ", Tier: "Team", Status: "ACTIVE"})
	require.NoError(t, err)

	acct, err := store.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, tiers.Team, acct.Subscription.Tier)
	assert.Equal(t, accounts.StatusActive, acct.Subscription.Status)
}

func TestApplyBillingEvent_AnyStatusReachable(t *testing.T) {
	_, m := setup(t)
	ctx := context.Background()

	steps := []struct {
		status accounts.Status
		want   Transition
	}{
		{accounts.StatusCancelled, TransitionCancelled},
		{accounts.StatusActive, TransitionActivated},
		{accounts.StatusInactive, TransitionDeactivated},
		{accounts.StatusCancelled, TransitionCancelled},
		{accounts.StatusInactive, TransitionDeactivated},
	}
	for _, step := range steps {
		transition, err := m.ApplyBillingEvent(ctx, Event{AccountID: "user-1", Tier: tiers.Starter, Status: step.status})
		require.NoError(t, err)
		assert.Equal(t, step.want, transition, string(step.status))
	}
}

func TestApplyBillingEvent_Invalid(t *testing.T) {
	_, m := setup(t)

	_, err := m.ApplyBillingEvent(context.Background(), Event{AccountID: "user-1", Status: "paused"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = m.ApplyBillingEvent(context.Background(), Event{Status: accounts.StatusActive})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestApplyBillingEvent_UnknownAccount(t *testing.T) {
	_, m := setup(t)

	_, err := m.ApplyBillingEvent(context.Background(), Event{AccountID: "ghost", Status: accounts.StatusActive})
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestApplyBillingEvent_RetriesConflicts(t *testing.T) {
	base, _ := setup(t)
	store := &flakyStore{Store: base, conflicts: 2}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	m := NewMachine(store, tiers.DefaultTable(), fastRetry(), observability.NewLogger(observability.ErrorLevel, io.Discard), metrics)

	_, err := m.ApplyBillingEvent(context.Background(), Event{AccountID: "user-1", Tier: tiers.Team, Status: accounts.StatusActive, Source: "stripe"})
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BillingEventsTotal.WithLabelValues("stripe", "active", "activated")))

	store = &flakyStore{Store: base, conflicts: 10}
	m = NewMachine(store, tiers.DefaultTable(), fastRetry(), observability.NewLogger(observability.ErrorLevel, io.Discard), nil)
	_, err = m.ApplyBillingEvent(context.Background(), Event{AccountID: "user-1", Tier: tiers.Team, Status: accounts.StatusActive})
	assert.ErrorIs(t, err, accounts.ErrConflict)
}

func TestClassify(t *testing.T) {
	active := accounts.Subscription{Tier: tiers.Starter, Status: accounts.StatusActive}

	assert.Equal(t, TransitionUnchanged, Classify(active, active))
	assert.Equal(t, TransitionTierChanged, Classify(active, accounts.Subscription{Tier: tiers.Team, Status: accounts.StatusActive}))
	assert.Equal(t, TransitionCancelled, Classify(active, accounts.Subscription{Tier: tiers.Team, Status: accounts.StatusCancelled}))
	assert.Equal(t, TransitionDeactivated, Classify(active, accounts.Subscription{Tier: tiers.Starter, Status: accounts.StatusInactive}))
	assert.Equal(t, TransitionActivated, Classify(accounts.Subscription{Status: accounts.StatusInactive}, active))
}

func TestApplyBillingEvent_Audited(t *testing.T) {
	_, m := setup(t)
	dir := t.TempDir()
	trail, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)
	m.SetAuditLogger(trail)

	ctx := context.Background()
	_, err = m.ApplyBillingEvent(ctx, Event{AccountID: "user-1", Tier: tiers.Team, Status: accounts.StatusActive, EventID: "evt_1", Source: "stripe"})
	require.NoError(t, err)
	_, err = m.ApplyBillingEvent(ctx, Event{AccountID: "ghost", Status: accounts.StatusActive, EventID: "evt_2"})
	require.ErrorIs(t, err, accounts.ErrAccountNotFound)
	require.NoError(t, trail.Close())

	f, err := os.Open(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	defer f.Close()

	var events []audit.Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var ev audit.Event
		require.NoError(t, dec.Decode(&ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)

	assert.Equal(t, audit.EventTypeSubscriptionUpdated, events[0].Type)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Equal(t, "stripe", events[0].Source)
	assert.Equal(t, string(TransitionActivated), events[0].Message)
	assert.Equal(t, "inactive", events[0].Changes.Before["status"])
	assert.Equal(t, "team", events[0].Changes.After["tier"])

	assert.Equal(t, audit.EventTypeSubscriptionDropped, events[1].Type)
	assert.Equal(t, audit.EventStatusFailure, events[1].Status)
	assert.Equal(t, "internal", events[1].Source)
	assert.Equal(t, "evt_2", events[1].Metadata["event_id"])
}
