package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunAll runs every worker until ctx is cancelled or one of them fails, in
// which case the others are stopped too.
func RunAll(ctx context.Context, workers ...*Worker) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}
