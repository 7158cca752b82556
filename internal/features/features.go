// Package features turns decoded positions into sparse network inputs.
package features

import (
	"fmt"

	"github.com/freeeve/board768/internal/record"
)

// ErrInvalidPosition is returned when a position breaks the board
// invariants and cannot be encoded.
var ErrInvalidPosition = record.ErrInvalidPosition

// Features holds the active input indices of one position from both
// perspectives. The slices are reused across Encode calls.
type Features struct {
	Stm  []uint16 // side to move
	Nstm []uint16 // side not to move
}

// Reset empties both lists, keeping their capacity.
func (f *Features) Reset() {
	f.Stm = f.Stm[:0]
	f.Nstm = f.Nstm[:0]
}

// FeatureSet is a sparse input encoding identified by the tag stored in
// dataset headers.
type FeatureSet interface {
	Tag() uint16
	Name() string
	// InputSize is the number of distinct feature indices.
	InputSize() int
	// MaxActive bounds the length of each perspective's list.
	MaxActive() int
	Encode(p *record.Position, f *Features) error
}

// Lookup returns the feature set registered for a header tag.
func Lookup(tag uint16) (FeatureSet, error) {
	switch tag {
	case Board768Tag:
		return Board768{}, nil
	default:
		return nil, fmt.Errorf("unknown feature set tag %d", tag)
	}
}
