package datatools

import (
	"context"
	"errors"
	"io"

	"github.com/freeeve/board768/internal/dataset"
)

// Merge concatenates the bodies of inputs into output. All inputs must
// share a feature set; every record is checked on the way through. It
// returns the number of records written.
func Merge(ctx context.Context, inputs []string, output string) (uint64, error) {
	if err := dataset.CheckOutput(output, inputs...); err != nil {
		return 0, err
	}
	view, err := dataset.OpenView(inputs, dataset.Options{})
	if err != nil {
		return 0, err
	}
	defer view.Close()

	w, err := dataset.Create(output, view.FeatureSet())
	if err != nil {
		return 0, err
	}
	it := view.Iterator()
	for n := uint64(0); ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				w.Abort()
				return 0, err
			}
		}
		if err := copyRecord(it, w); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			w.Abort()
			return 0, err
		}
	}
	count := w.Count()
	if err := w.Close(); err != nil {
		return 0, err
	}
	return count, nil
}

// Interleave writes every record of inputs to output, choosing the next
// input at random in proportion to the records it has left, so each input
// is spread evenly through the result. Within an input, order is kept.
// The result is deterministic for a seed.
func Interleave(ctx context.Context, inputs []string, output string, seed uint64) (uint64, error) {
	if err := dataset.CheckOutput(output, inputs...); err != nil {
		return 0, err
	}
	view, err := dataset.OpenView(inputs, dataset.Options{})
	if err != nil {
		return 0, err
	}
	defer view.Close()

	files := view.Files()
	iters := make([]*dataset.Iterator, len(files))
	remaining := make([]uint64, len(files))
	for i, f := range files {
		iters[i] = f.Iterator()
		remaining[i] = f.Len()
	}

	w, err := dataset.Create(output, view.FeatureSet())
	if err != nil {
		return 0, err
	}
	err = proportionalDraw(ctx, seed, remaining, func(src int) error {
		return copyRecord(iters[src], w)
	})
	if err != nil {
		w.Abort()
		return 0, err
	}
	count := w.Count()
	if err := w.Close(); err != nil {
		return 0, err
	}
	return count, nil
}
