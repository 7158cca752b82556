package datatools

import (
	"context"
	"math/rand/v2"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/record"
)

// drawSeedMix keeps the draw stream independent from shuffle streams that
// share the same root seed.
const drawSeedMix = 0xd1b54a32d192ed03

// proportionalDraw repeatedly picks a source with probability proportional
// to the records it still holds and calls take for it. remaining is
// consumed. The sequence of picks depends only on seed and the counts.
func proportionalDraw(ctx context.Context, seed uint64, remaining []uint64, take func(src int) error) error {
	rng := rand.New(rand.NewPCG(seed, seed^drawSeedMix))
	var total uint64
	for _, n := range remaining {
		total += n
	}
	for drawn := uint64(0); total > 0; drawn++ {
		if drawn%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		r := rng.Uint64N(total)
		src := 0
		for r >= remaining[src] {
			r -= remaining[src]
			src++
		}
		if err := take(src); err != nil {
			return err
		}
		remaining[src]--
		total--
	}
	return nil
}

// checkEvery is how many records pass between context checks in the
// sequential copy loops.
const checkEvery = 1 << 16

// copyRecord reads the next record from it, checks it decodes, and
// appends it to w. Source positions are kept in the error.
func copyRecord(it *dataset.Iterator, w *dataset.Writer) error {
	raw, err := it.NextRaw()
	if err != nil {
		return err
	}
	if _, err := record.Decode(raw); err != nil {
		return dataset.RecordError(it.Path(), it.Index(), err)
	}
	return w.Append(raw)
}
