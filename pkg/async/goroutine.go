package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo runs fn in a goroutine with panic recovery and a timeout.
//
// The task context keeps the parent's values but not its cancellation, so a
// side effect started from a request handler still runs after the response
// has been written. Errors are logged and dropped.
//
// Example:
//
//	async.SafeGo(r.Context(), logger, 5*time.Second, "limit notification", func(ctx context.Context) error {
//	    return notifier.LimitExceeded(ctx, firmID, "seats", current, limit)
//	})
func SafeGo(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Batch processes items with at most workers concurrent calls to fn.
// Each call gets its own timeout. Returns every error encountered, panics
// included; an empty result means every item succeeded.
//
// Example:
//
//	errs := async.Batch(ctx, firmIDs, 4, "limit reconcile", 10*time.Second, func(ctx context.Context, id string) error {
//	    return guard.UpdateFirmLimits(ctx, id)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	work := make(chan T)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				runOne(ctx, timeout, taskName, item, fn, record)
			}
		}()
	}

feed:
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			record(fmt.Errorf("%s: %w", taskName, err))
			break
		}
		select {
		case <-ctx.Done():
			record(fmt.Errorf("%s: %w", taskName, ctx.Err()))
			break feed
		case work <- item:
		}
	}
	close(work)
	wg.Wait()

	return errs
}

func runOne[T any](ctx context.Context, timeout time.Duration, taskName string, item T,
	fn func(context.Context, T) error, record func(error)) {

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
}
