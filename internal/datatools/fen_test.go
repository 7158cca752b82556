package datatools

import (
	"errors"
	"testing"

	"github.com/freeeve/board768/internal/record"
)

func TestParsePositionStart(t *testing.T) {
	p, err := ParsePosition(testFENs[0])
	if err != nil {
		t.Fatalf("ParsePosition: %v", err)
	}
	if want := record.StartPosition(); p != want {
		t.Errorf("start position mismatch:\ngot  %+v\nwant %+v", p, want)
	}
}

func TestParsePositionRoundTrip(t *testing.T) {
	for _, fen := range testFENs {
		p, err := ParsePosition(fen)
		if err != nil {
			t.Fatalf("ParsePosition(%q): %v", fen, err)
		}
		if got := p.FEN(); got != fen {
			t.Errorf("FEN() = %q, want %q", got, fen)
		}
	}
}

func TestParsePositionCastlingNeedsRook(t *testing.T) {
	p, err := ParsePosition("r3k2r/8/8/8/8/8/8/R3K3 b Qk - 0 30")
	if err != nil {
		t.Fatalf("ParsePosition: %v", err)
	}
	if want := uint64(1<<0 | 1<<63); p.CastlingRooks != want {
		t.Errorf("CastlingRooks = %#x, want %#x", p.CastlingRooks, want)
	}
	if p.SideToMove != record.Black || p.Fullmove != 30 {
		t.Errorf("side %v fullmove %d", p.SideToMove, p.Fullmove)
	}
}

func TestParsePositionInvalid(t *testing.T) {
	for _, fen := range []string{
		"",
		"not a fen",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP w KQkq - 0 1",
		"xnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
	} {
		if _, err := ParsePosition(fen); !errors.Is(err, record.ErrInvalidPosition) {
			t.Errorf("ParsePosition(%q) error = %v, want ErrInvalidPosition", fen, err)
		}
	}
}
