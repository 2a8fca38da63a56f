// Package pool provides a small bounded worker primitive for fan-out over
// finite item lists.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
)

// RunBounded runs task over all items with at most limit in flight. Results
// are returned in input order regardless of completion order. A task error is
// recorded in place; remaining items still run. Workers stop picking up new
// items once ctx is cancelled, but an item already started is not interrupted.
func RunBounded[T, R any](ctx context.Context, items []T, limit int, task func(ctx context.Context, index int, item T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return results, errs
	}
	if limit < 1 {
		limit = 1
	}
	if limit > len(items) {
		limit = len(items)
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	wg.Add(limit)
	for w := 0; w < limit; w++ {
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(items) {
					return
				}
				if err := ctx.Err(); err != nil {
					errs[idx] = err
					continue
				}
				results[idx], errs[idx] = task(ctx, idx, items[idx])
			}
		}()
	}
	wg.Wait()
	return results, errs
}
