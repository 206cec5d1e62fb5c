// Package async provides safe concurrent execution primitives for background tasks.
//
// SafeGo runs a fire-and-forget task with panic recovery, a timeout and
// logging of failures. It detaches from the caller's cancellation so that
// notifications started inside a request still complete:
//
//	async.SafeGo(r.Context(), logger, 10*time.Second, "notify", func(ctx context.Context) error {
//		return notifier.QuotaExhausted(ctx, userID, usage)
//	})
//
// Batch fans a slice out over a bounded number of workers (errgroup with a
// limit) and collects every error rather than stopping at the first:
//
//	errs := async.Batch(ctx, ids, 8, "usage reset", 10*time.Second, func(ctx context.Context, id string) error {
//		return resetOne(ctx, id)
//	})
//
// The reset scheduler uses Batch for sweeps; the quota ledger uses SafeGo
// for exhaustion notifications.
package async
