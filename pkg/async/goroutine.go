package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/meter/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and a timeout. The task
// context keeps the values of parentCtx but not its cancellation, so work
// started from a request handler survives the response being written.
//
// Example:
//
//	SafeGo(r.Context(), logger, 10*time.Second, "quota exhausted notification", func(ctx context.Context) error {
//	    return notifier.QuotaExhausted(ctx, userID, usage)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Batch runs fn over items with at most workers in flight and returns every
// error encountered. One failing item does not stop the others. Each call
// gets its own timeout; a panic is reported as an error for that item.
//
// Example:
//
//	errs := Batch(ctx, userIDs, 8, "usage reset", 10*time.Second, func(ctx context.Context, id string) error {
//	    return resetOne(ctx, id)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers <= 0 {
		workers = 1
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(workers)

	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, item := range items {
		if ctx.Err() != nil {
			record(fmt.Errorf("%s: %w", taskName, ctx.Err()))
			break
		}

		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			defer func() {
				if r := recover(); r != nil {
					record(fmt.Errorf("%s: panic: %v", taskName, r))
				}
			}()

			if err := fn(taskCtx, item); err != nil {
				record(err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return errs
}
