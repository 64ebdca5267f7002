package matching

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs indexed tasks with bounded concurrency
type Pool struct {
	limit int
}

// NewPool creates a pool running at most limit tasks at once
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{limit: limit}
}

// Limit returns the concurrency bound
func (p *Pool) Limit() int {
	return p.limit
}

// Run calls fn for each index in [0,n). The first error returned by fn cancels the
// context passed to every other task and is returned once all started tasks finish.
// No new task starts after the context is done.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}
