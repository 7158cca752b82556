package datatools

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/notnil/chess"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/eco"
	"github.com/freeeve/board768/internal/record"
)

// ShowOptions selects the records Show prints.
type ShowOptions struct {
	Indices []uint64 // explicit records; when empty, Count random records are drawn
	Count   int
	Seed    uint64
	Book    *eco.Database // label book positions with their opening
}

// Show prints records of path with a board diagram, labels and FEN.
func Show(path string, opts ShowOptions, w io.Writer) error {
	f, err := dataset.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	indices := opts.Indices
	if len(indices) == 0 && f.Len() > 0 {
		rng := rand.New(rand.NewPCG(opts.Seed, drawSeedMix))
		for range opts.Count {
			indices = append(indices, rng.Uint64N(f.Len()))
		}
	}
	for _, i := range indices {
		p, err := f.ReadPosition(i)
		if err != nil {
			return err
		}
		if err := showPosition(w, i, &p, opts.Book); err != nil {
			return err
		}
	}
	return nil
}

func showPosition(w io.Writer, index uint64, p *record.Position, book *eco.Database) error {
	fen := p.FEN()
	opt, err := chess.FEN(fen)
	if err != nil {
		return fmt.Errorf("record %d: %w: %v", index, record.ErrInvalidPosition, err)
	}
	board := chess.NewGame(opt).Position().Board()

	ew := &errWriter{w: w}
	ew.printf("record %d\n%s", index, board.Draw())
	ew.printf("fen:     %s\n", fen)
	ew.printf("to move: %s  ply %d  pieces %d\n", p.SideToMove, p.Ply(), p.PieceCount())
	if p.HasScore() {
		ew.printf("score:   %d cp  outcome %s\n", p.Score, p.Outcome)
	} else {
		ew.printf("score:   none  outcome %s\n", p.Outcome)
	}
	if o := book.Lookup(p); o != nil {
		ew.printf("opening: %s %s\n", o.ECO, o.Name)
	}
	ew.printf("\n")
	return ew.err
}
