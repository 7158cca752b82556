package loader

import (
	"math"

	"github.com/freeeve/board768/internal/features"
	"github.com/freeeve/board768/internal/record"
)

// Batch is a group of encoded positions in the layout the trainer reads.
//
// StmFeatures and NstmFeatures are flattened (entry, feature) pairs, one
// pair per active feature, so both have length 2*TotalFeatures(). Scores
// are centipawns from the side to move; a position without a score gets
// +Inf for a win, -Inf for a loss and 0 for a draw. Outcomes are 1, 0.5
// or 0 from the side to move.
type Batch struct {
	Size         int
	Epoch        int
	StmFeatures  []uint32
	NstmFeatures []uint32
	Scores       []float32
	Outcomes     []float32
	Indices      []uint64 // record index of each entry
}

func newBatch(capacity, maxActive, epoch int) *Batch {
	return &Batch{
		Epoch:        epoch,
		StmFeatures:  make([]uint32, 0, 2*capacity*maxActive),
		NstmFeatures: make([]uint32, 0, 2*capacity*maxActive),
		Scores:       make([]float32, 0, capacity),
		Outcomes:     make([]float32, 0, capacity),
		Indices:      make([]uint64, 0, capacity),
	}
}

// TotalFeatures returns the number of active features per perspective.
func (b *Batch) TotalFeatures() int {
	return len(b.StmFeatures) / 2
}

func (b *Batch) add(v *vector) {
	entry := uint32(b.Size)
	for _, f := range v.feat.Stm {
		b.StmFeatures = append(b.StmFeatures, entry, uint32(f))
	}
	for _, f := range v.feat.Nstm {
		b.NstmFeatures = append(b.NstmFeatures, entry, uint32(f))
	}
	b.Scores = append(b.Scores, v.score)
	b.Outcomes = append(b.Outcomes, v.outcome)
	b.Indices = append(b.Indices, v.index)
	b.Size++
}

// vector is one encoded position on its way from a worker to the assembler.
type vector struct {
	index   uint64
	feat    features.Features
	score   float32
	outcome float32
}

func scoreTarget(p *record.Position) float32 {
	if p.HasScore() {
		return float32(p.Score)
	}
	switch p.Outcome {
	case record.Win:
		return float32(math.Inf(1))
	case record.Loss:
		return float32(math.Inf(-1))
	default:
		return 0
	}
}

func outcomeTarget(o record.Outcome) float32 {
	switch o {
	case record.Win:
		return 1
	case record.Draw:
		return 0.5
	default:
		return 0
	}
}
