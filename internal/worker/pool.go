package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map runs fn over every input with at most workers goroutines in flight and
// returns the outputs in input order. fn reports per-item failures through its
// output; a non-nil error from fn is fatal and cancels the remaining items.
// The output fn returned alongside a fatal error is kept.
//
// Items not started because ctx was canceled keep the zero value of Out and
// started reports which indexes ran.
func Map[In, Out any](ctx context.Context, workers int, inputs []In, fn func(ctx context.Context, in In) (Out, error)) (outs []Out, started []bool, err error) {
	if workers <= 0 {
		workers = 1
	}

	outs = make([]Out, len(inputs))
	started = make([]bool, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, in := range inputs {
		i, in := i, in
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			started[i] = true
			out, err := fn(gctx, in)
			outs[i] = out
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return outs, started, err
	}
	return outs, started, nil
}
