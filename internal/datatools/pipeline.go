package datatools

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// orderedChunk is one unit of work. done is closed once out or err is set.
type orderedChunk[In, Out any] struct {
	in   []In
	out  []Out
	err  error
	done chan struct{}
}

// runOrdered fans chunks from produce out to workers and hands the results
// to consume in the order they were produced. The first error from any
// stage cancels the rest.
func runOrdered[In, Out any](
	ctx context.Context,
	workers int,
	produce func(ctx context.Context, emit func([]In) error) error,
	process func(worker int, in []In) ([]Out, error),
	consume func(out []Out) error,
) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan *orderedChunk[In, Out], workers)
	order := make(chan *orderedChunk[In, Out], 2*workers)

	g.Go(func() error {
		defer close(jobs)
		defer close(order)
		return produce(ctx, func(in []In) error {
			c := &orderedChunk[In, Out]{in: in, done: make(chan struct{})}
			select {
			case order <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case jobs <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for c := range jobs {
				c.out, c.err = process(w, c.in)
				close(c.done)
				if c.err != nil {
					return c.err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		for c := range order {
			select {
			case <-c.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			if c.err != nil {
				return c.err
			}
			if err := consume(c.out); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}
