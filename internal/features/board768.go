package features

import (
	"fmt"
	"math/bits"

	"github.com/freeeve/board768/internal/record"
)

const (
	Board768Tag  uint16 = 0
	Board768Size        = 768
)

// Board768 one-hot encodes (relative color, piece, square) for each
// perspective. Squares are flipped vertically for black so each list reads
// the board from its own side.
type Board768 struct{}

func (Board768) Tag() uint16    { return Board768Tag }
func (Board768) Name() string   { return "board768" }
func (Board768) InputSize() int { return Board768Size }
func (Board768) MaxActive() int { return record.MaxPieces }

// Index returns the feature of a piece seen from perspective.
func Index(perspective, color record.Color, piece record.Piece, sq int) uint16 {
	rel := 0
	if color != perspective {
		rel = 1
	}
	if perspective == record.Black {
		sq ^= 56
	}
	return uint16(rel*384 + int(piece)*64 + sq)
}

// Encode fills f with the features of p, grouped by piece type.
func (Board768) Encode(p *record.Position, f *Features) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	f.Reset()
	stm := p.SideToMove
	nstm := stm.Other()
	for pc := record.Pawn; pc <= record.King; pc++ {
		for c := record.White; c <= record.Black; c++ {
			for bb := p.Pieces[pc] & p.Colors[c]; bb != 0; bb &= bb - 1 {
				sq := bits.TrailingZeros64(bb)
				f.Stm = append(f.Stm, Index(stm, c, pc, sq))
				f.Nstm = append(f.Nstm, Index(nstm, c, pc, sq))
			}
		}
	}
	return nil
}
