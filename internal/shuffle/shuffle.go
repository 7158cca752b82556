// Package shuffle derives reproducible per-epoch record orders.
//
// An epoch's order is a pure function of (seed, epoch, n). The order is
// split into contiguous worker slices so workers never share indices.
package shuffle

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

// EpochSeed mixes a root seed with an epoch number so neighbouring epochs
// get unrelated streams.
func EpochSeed(root uint64, epoch int) uint64 {
	return splitmix64(root ^ splitmix64(uint64(epoch)+0x9E3779B97F4A7C15))
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// Permutation returns a shuffled ordering of [0, n) for the given epoch.
func Permutation(seed uint64, epoch int, n uint64) ([]uint32, error) {
	if n > math.MaxUint32 {
		return nil, fmt.Errorf("record space of %d exceeds %d", n, uint64(math.MaxUint32))
	}
	perm := make([]uint32, n)
	for i := range perm {
		perm[i] = uint32(i)
	}
	es := EpochSeed(seed, epoch)
	r := rand.New(rand.NewPCG(es, splitmix64(es)))
	r.Shuffle(len(perm), func(i, j int) {
		perm[i], perm[j] = perm[j], perm[i]
	})
	return perm, nil
}

// Partition splits perm into workers contiguous slices whose lengths differ
// by at most one. The slices alias perm.
func Partition(perm []uint32, workers int) [][]uint32 {
	if workers < 1 {
		workers = 1
	}
	parts := make([][]uint32, workers)
	base, extra := len(perm)/workers, len(perm)%workers
	start := 0
	for w := range parts {
		size := base
		if w < extra {
			size++
		}
		parts[w] = perm[start : start+size : start+size]
		start += size
	}
	return parts
}

// RemainderPolicy decides what happens to the records left over when an
// epoch is not a whole number of batches.
type RemainderPolicy int

const (
	// RemainderDrop discards the leftover records.
	RemainderDrop RemainderPolicy = iota
	// RemainderPartial delivers them as a short final batch.
	RemainderPartial
	// RemainderWrap fills the final batch with records from the start of
	// the next epoch's order, skipping any already in the batch.
	RemainderWrap
)

func (p RemainderPolicy) String() string {
	switch p {
	case RemainderDrop:
		return "drop"
	case RemainderPartial:
		return "partial"
	case RemainderWrap:
		return "wrap"
	default:
		return fmt.Sprintf("RemainderPolicy(%d)", int(p))
	}
}

// ParseRemainderPolicy parses "drop", "partial" or "wrap".
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch strings.ToLower(s) {
	case "drop", "":
		return RemainderDrop, nil
	case "partial":
		return RemainderPartial, nil
	case "wrap", "pad":
		return RemainderWrap, nil
	default:
		return 0, fmt.Errorf("unknown remainder policy %q", s)
	}
}

// BatchesPerEpoch returns the number of batches an unfiltered epoch of n
// records yields under policy.
func BatchesPerEpoch(n uint64, batchSize int, policy RemainderPolicy) uint64 {
	if batchSize <= 0 {
		return 0
	}
	bs := uint64(batchSize)
	if policy == RemainderDrop {
		return n / bs
	}
	return (n + bs - 1) / bs
}
