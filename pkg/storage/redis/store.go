// Package redis is a Redis-backed accounts.Store.
//
// Each account is a hash; the credential index is a plain key pointing at the
// user id, and reset times live in one sorted set. Every mutation is a Lua
// script so it executes atomically on the server. The scripts touch several
// keys, so the store requires a single Redis node or a deployment that places
// all of them in one slot.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/tiers"
)

// Store is a Redis-backed accounts.Store
type Store struct {
	client    *goredis.Client
	keyPrefix string
	now       func() time.Time
}

var _ accounts.Store = (*Store)(nil)

// StoreConfig configures a Store
type StoreConfig struct {
	// KeyPrefix is prepended to every key (default "meter:")
	KeyPrefix string
}

// NewStore creates a store on a connected client
func NewStore(client *goredis.Client, cfg StoreConfig) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "meter:"
	}
	return &Store{
		client:    client,
		keyPrefix: prefix,
		now:       time.Now,
	}
}

func (s *Store) accountKey(userID string) string {
	return s.keyPrefix + "account:" + userID
}

func (s *Store) credentialKey(hash string) string {
	return s.keyPrefix + "credential:" + hash
}

func (s *Store) resetsKey() string {
	return s.keyPrefix + "resets"
}

// createScript inserts an account unless it or its credential exists.
// KEYS[1] = account hash, KEYS[2] = credential key, KEYS[3] = resets zset
// ARGV[1] = user id, ARGV[2] = reset_at (ms), ARGV[3..] = hash field/value pairs
//
// Returns 1 created, 0 account exists, -1 credential taken.
var createScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
    return -1
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("SET", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[2], ARGV[1])
return 1
`)

// consumeScript checks status and quota and increments by one.
// KEYS[1] = account hash
// ARGV[1] = now (ms)
//
// Returns {code, used, limit, reset_at}: 1 granted, 0 limit reached,
// -1 subscription not active, -2 no such account.
var consumeScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return {-2, 0, 0, 0}
end
local vals = redis.call("HMGET", KEYS[1], "status", "executions_used", "executions_limit", "reset_at")
local used = tonumber(vals[2] or "0")
local limit = tonumber(vals[3] or "0")
local reset_at = tonumber(vals[4] or "0")
if vals[1] ~= "active" then
    return {-1, used, limit, reset_at}
end
if used >= limit then
    return {0, used, limit, reset_at}
end
used = redis.call("HINCRBY", KEYS[1], "executions_used", 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[1])
return {1, used, limit, reset_at}
`)

// applyScript overwrites the subscription and limits.
// KEYS[1] = account hash
// ARGV = tier, status, customer id, subscription id, executions limit,
// files limit, now (ms)
//
// Returns {0} when the account is missing, otherwise
// {1, tier, status, customer id, subscription id} as they were before.
var applyScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return {0}
end
local prev = redis.call("HMGET", KEYS[1], "tier", "status", "customer_id", "subscription_id")
redis.call("HSET", KEYS[1],
    "tier", ARGV[1],
    "status", ARGV[2],
    "customer_id", ARGV[3],
    "subscription_id", ARGV[4],
    "executions_limit", ARGV[5],
    "files_limit", ARGV[6],
    "updated_at", ARGV[7])
return {1, prev[1] or "", prev[2] or "", prev[3] or "", prev[4] or ""}
`)

// resetScript zeroes usage when the period has elapsed.
// KEYS[1] = account hash, KEYS[2] = resets zset
// ARGV[1] = user id, ARGV[2] = now (ms), ARGV[3] = next reset (ms)
//
// Returns 1 reset, 0 not yet due, -1 no such account.
var resetScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    redis.call("ZREM", KEYS[2], ARGV[1])
    return -1
end
local reset_at = tonumber(redis.call("HGET", KEYS[1], "reset_at") or "0")
if reset_at > tonumber(ARGV[2]) then
    return 0
end
redis.call("HSET", KEYS[1], "executions_used", "0", "reset_at", ARGV[3], "updated_at", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// listExpiredScript pages through due entries in (score, member) order.
// KEYS[1] = resets zset
// ARGV[1] = now (ms), ARGV[2] = limit, ARGV[3] = cursor reset_at (ms) or "",
// ARGV[4] = cursor user id
//
// The cursor member is moved to its cursor score to read its rank and put
// back before the script returns, so callers never observe the move.
// Returns a flat member, score list.
var listExpiredScript = goredis.NewScript(`
local start = 0
local restore = nil
if ARGV[3] ~= "" then
    restore = redis.call("ZSCORE", KEYS[1], ARGV[4])
    redis.call("ZADD", KEYS[1], ARGV[3], ARGV[4])
    start = redis.call("ZRANK", KEYS[1], ARGV[4]) + 1
end
local stop = -1
local limit = tonumber(ARGV[2])
if limit > 0 then
    stop = start + limit - 1
end
local entries = redis.call("ZRANGE", KEYS[1], start, stop, "WITHSCORES")
if ARGV[3] ~= "" then
    if restore then
        redis.call("ZADD", KEYS[1], restore, ARGV[4])
    else
        redis.call("ZREM", KEYS[1], ARGV[4])
    end
end
local now = tonumber(ARGV[1])
local out = {}
for i = 1, #entries, 2 do
    if tonumber(entries[i + 1]) > now then
        break
    end
    out[#out + 1] = entries[i]
    out[#out + 1] = entries[i + 1]
end
return out
`)

// CreateAccount implements accounts.Store
func (s *Store) CreateAccount(ctx context.Context, acct *accounts.Account) (*accounts.Account, bool, error) {
	args := []interface{}{acct.UserID, acct.Usage.ResetAt.UnixMilli()}
	args = append(args, encodeAccount(acct)...)

	result, err := createScript.Run(ctx, s.client,
		[]string{s.accountKey(acct.UserID), s.credentialKey(acct.CredentialHash), s.resetsKey()},
		args...,
	).Int64()
	if err != nil {
		return nil, false, fmt.Errorf("redis: create account: %w", err)
	}

	switch result {
	case 1:
		created := *acct
		return &created, true, nil
	case 0:
		existing, err := s.GetAccount(ctx, acct.UserID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	case -1:
		return nil, false, accounts.ErrCredentialConflict
	default:
		return nil, false, fmt.Errorf("redis: unexpected create result: %d", result)
	}
}

// GetAccount implements accounts.Store
func (s *Store) GetAccount(ctx context.Context, userID string) (*accounts.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get account: %w", err)
	}
	if len(fields) == 0 {
		return nil, accounts.ErrAccountNotFound
	}
	return decodeAccount(fields)
}

// FindByCredentialHash implements accounts.Store
func (s *Store) FindByCredentialHash(ctx context.Context, credentialHash string) (*accounts.Account, error) {
	userID, err := s.client.Get(ctx, s.credentialKey(credentialHash)).Result()
	if err == goredis.Nil {
		return nil, accounts.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: resolve credential: %w", err)
	}

	acct, err := s.GetAccount(ctx, userID)
	if err == accounts.ErrAccountNotFound {
		return nil, accounts.ErrCredentialNotFound
	}
	return acct, err
}

// Consume implements accounts.Store
func (s *Store) Consume(ctx context.Context, userID string) (accounts.ConsumeResult, error) {
	var result accounts.ConsumeResult

	vals, err := consumeScript.Run(ctx, s.client,
		[]string{s.accountKey(userID)},
		s.now().UTC().UnixMilli(),
	).Slice()
	if err != nil {
		return result, fmt.Errorf("redis: consume: %w", err)
	}
	if len(vals) != 4 {
		return result, fmt.Errorf("redis: unexpected consume reply of length %d", len(vals))
	}

	ints := make([]int64, 4)
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return result, fmt.Errorf("redis: unexpected consume reply element %T", v)
		}
		ints[i] = n
	}

	result.Used = ints[1]
	result.Limit = ints[2]
	result.ResetAt = time.UnixMilli(ints[3]).UTC()

	switch ints[0] {
	case 1:
		return result, nil
	case 0:
		return result, accounts.ErrLimitExceeded
	case -1:
		return result, accounts.ErrSubscriptionInactive
	case -2:
		return accounts.ConsumeResult{}, accounts.ErrAccountNotFound
	default:
		return result, fmt.Errorf("redis: unexpected consume result: %d", ints[0])
	}
}

// ApplySubscription implements accounts.Store
func (s *Store) ApplySubscription(ctx context.Context, userID string, update accounts.SubscriptionUpdate) (accounts.Subscription, error) {
	var previous accounts.Subscription

	vals, err := applyScript.Run(ctx, s.client,
		[]string{s.accountKey(userID)},
		string(update.Tier), string(update.Status),
		update.ProcessorCustomerID, update.ProcessorSubscriptionID,
		update.Limits.Executions, update.Limits.Files,
		s.now().UTC().UnixMilli(),
	).Slice()
	if err != nil {
		return previous, fmt.Errorf("redis: apply subscription: %w", err)
	}
	if len(vals) == 0 {
		return previous, fmt.Errorf("redis: empty apply reply")
	}
	if found, _ := vals[0].(int64); found == 0 {
		return previous, accounts.ErrAccountNotFound
	}
	if len(vals) != 5 {
		return previous, fmt.Errorf("redis: unexpected apply reply of length %d", len(vals))
	}

	str := func(v interface{}) string {
		out, _ := v.(string)
		return out
	}
	previous.Tier = tiers.Tier(str(vals[1]))
	previous.Status = accounts.Status(str(vals[2]))
	previous.ProcessorCustomerID = str(vals[3])
	previous.ProcessorSubscriptionID = str(vals[4])
	return previous, nil
}

// ListExpired implements accounts.Store
func (s *Store) ListExpired(ctx context.Context, now time.Time, after *accounts.ExpiredEntry, limit int) ([]accounts.ExpiredEntry, error) {
	cursorScore, cursorID := "", ""
	if after != nil {
		cursorScore = strconv.FormatInt(after.ResetAt.UnixMilli(), 10)
		cursorID = after.UserID
	}

	vals, err := listExpiredScript.Run(ctx, s.client,
		[]string{s.resetsKey()},
		now.UnixMilli(), limit, cursorScore, cursorID,
	).StringSlice()
	if err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("redis: list expired: %w", err)
	}
	if len(vals)%2 != 0 {
		return nil, fmt.Errorf("redis: unexpected list expired reply of length %d", len(vals))
	}

	entries := make([]accounts.ExpiredEntry, 0, len(vals)/2)
	for i := 0; i < len(vals); i += 2 {
		score, err := strconv.ParseFloat(vals[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("redis: corrupt reset score for %s: %w", vals[i], err)
		}
		entries = append(entries, accounts.ExpiredEntry{
			UserID:  vals[i],
			ResetAt: time.UnixMilli(int64(score)).UTC(),
		})
	}
	return entries, nil
}

// ResetUsage implements accounts.Store
func (s *Store) ResetUsage(ctx context.Context, userID string, now, next time.Time) (bool, error) {
	result, err := resetScript.Run(ctx, s.client,
		[]string{s.accountKey(userID), s.resetsKey()},
		userID, now.UnixMilli(), next.UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: reset usage: %w", err)
	}

	switch result {
	case 1:
		return true, nil
	case 0:
		return false, nil
	case -1:
		return false, accounts.ErrAccountNotFound
	default:
		return false, fmt.Errorf("redis: unexpected reset result: %d", result)
	}
}

// Ping implements accounts.Store
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements accounts.Store
func (s *Store) Close() error {
	return s.client.Close()
}

// Client exposes the underlying client for health checks and deduplication
func (s *Store) Client() *goredis.Client {
	return s.client
}

func encodeAccount(acct *accounts.Account) []interface{} {
	return []interface{}{
		"user_id", acct.UserID,
		"email", acct.Email,
		"display_name", acct.DisplayName,
		"credential", acct.Credential,
		"credential_hash", acct.CredentialHash,
		"tier", string(acct.Subscription.Tier),
		"status", string(acct.Subscription.Status),
		"customer_id", acct.Subscription.ProcessorCustomerID,
		"subscription_id", acct.Subscription.ProcessorSubscriptionID,
		"executions_used", acct.Usage.ExecutionsUsed,
		"executions_limit", acct.Usage.ExecutionsLimit,
		"files_tracked", acct.Usage.FilesTracked,
		"files_limit", acct.Usage.FilesLimit,
		"reset_at", acct.Usage.ResetAt.UnixMilli(),
		"created_at", acct.CreatedAt.UnixMilli(),
		"updated_at", acct.UpdatedAt.UnixMilli(),
	}
}

func decodeAccount(fields map[string]string) (*accounts.Account, error) {
	acct := &accounts.Account{
		UserID:         fields["user_id"],
		Email:          fields["email"],
		DisplayName:    fields["display_name"],
		Credential:     fields["credential"],
		CredentialHash: fields["credential_hash"],
		Subscription: accounts.Subscription{
			Tier:                    tiers.Tier(fields["tier"]),
			Status:                  accounts.Status(fields["status"]),
			ProcessorCustomerID:     fields["customer_id"],
			ProcessorSubscriptionID: fields["subscription_id"],
		},
	}

	ints := map[string]*int64{
		"executions_used":  &acct.Usage.ExecutionsUsed,
		"executions_limit": &acct.Usage.ExecutionsLimit,
		"files_tracked":    &acct.Usage.FilesTracked,
		"files_limit":      &acct.Usage.FilesLimit,
	}
	for field, dst := range ints {
		n, err := strconv.ParseInt(fields[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: corrupt field %s for account %s: %w", field, acct.UserID, err)
		}
		*dst = n
	}

	times := map[string]*time.Time{
		"reset_at":   &acct.Usage.ResetAt,
		"created_at": &acct.CreatedAt,
		"updated_at": &acct.UpdatedAt,
	}
	for field, dst := range times {
		ms, err := strconv.ParseInt(fields[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: corrupt field %s for account %s: %w", field, acct.UserID, err)
		}
		*dst = time.UnixMilli(ms).UTC()
	}

	return acct, nil
}
