package eco_test

import (
	"strings"
	"testing"

	"github.com/freeeve/board768/internal/datatools"
	"github.com/freeeve/board768/internal/eco"
	"github.com/freeeve/board768/internal/record"
)

const book = "eco\tname\tpgn\n" +
	"B00\tKing's Pawn Game\t1. e4\n" +
	"C50\tItalian Game\t1. e4 e5 2. Nf3 Nc6 3. Bc4\n" +
	"X99\tBroken\t1. Zz9\n" +
	"not a book line\n"

func position(t *testing.T, fen string) record.Position {
	t.Helper()
	p, err := datatools.ParsePosition(fen)
	if err != nil {
		t.Fatalf("ParsePosition(%q): %v", fen, err)
	}
	return p
}

func TestLoadAndLookup(t *testing.T) {
	db := eco.NewDatabase()
	if err := db.Load(strings.NewReader(book)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if db.Count() != 2 {
		t.Fatalf("Count = %d, want 2", db.Count())
	}

	start := record.StartPosition()
	if o := db.Lookup(&start); o != nil {
		t.Errorf("start position matched %s", o.ECO)
	}

	afterE4 := position(t, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	if o := db.Lookup(&afterE4); o == nil || o.ECO != "B00" {
		t.Errorf("1. e4: got %+v, want B00", o)
	}

	// Clocks and en passant do not take part in the key.
	italian := position(t, "r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 17 40")
	if o := db.Lookup(&italian); o == nil || o.Name != "Italian Game" {
		t.Errorf("Italian: got %+v", o)
	}
	if !db.Contains(&italian) {
		t.Error("Contains(italian) = false")
	}
}

func TestNilDatabase(t *testing.T) {
	var db *eco.Database
	start := record.StartPosition()
	if db.Contains(&start) || db.Count() != 0 {
		t.Error("nil database should be empty")
	}
}
