// Package storage selects and opens the persistence backend for accounts.
//
// # Backends
//
// Three implementations of accounts.Store exist, one per subpackage:
//
//   - memory: process-local maps guarded by per-account mutexes. Used for
//     development and tests; state is lost on restart.
//   - postgres: one row per account in meter_accounts. Consume runs in a
//     transaction holding SELECT ... FOR UPDATE on the row, bounded by
//     SET LOCAL lock_timeout. Lock timeouts, deadlocks and serialization
//     failures map to accounts.ErrConflict so the ledger can retry them.
//   - redis: one hash per account plus a credential key and a reset-time
//     sorted set. Every mutation is a Lua script.
//
// # Configuration
//
//	cfg := storage.DefaultConfig()
//	cfg.Type = "postgres"
//	cfg.PostgresURL = "postgres://localhost/meter?sslmode=disable"
//	cfg.LockTimeout = 2 * time.Second
//
//	backends, err := storage.Open(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer backends.Store.Close()
//
// Open also returns the raw *sql.DB or *redis.Client so health checks and
// webhook deduplication can share the same pools.
package storage
