// Package concurrency wraps the conc pool with the settings the composite
// resolver needs.
package concurrency

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// NewPool returns a pool bounded at maxGoroutines where every task runs to
// completion even when a sibling fails. A failing source must not cancel
// the queries still running against the other sources, so the pool neither
// cancels on error nor short-circuits; tasks record their own failures.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	return pool.New().
		WithContext(ctx).
		WithMaxGoroutines(maxGoroutines)
}
