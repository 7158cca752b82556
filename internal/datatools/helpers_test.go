package datatools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/features"
	"github.com/freeeve/board768/internal/record"
)

var testFENs = []string{
	"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
	"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
	"r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3",
	"r3k2r/8/8/8/8/8/8/R3K3 b Qk - 0 30",
	"8/8/4k3/8/8/3K4/6P1/8 w - - 5 61",
	"6k1/5ppp/8/8/8/8/5PPP/3R2K1 w - - 12 40",
}

// testPosition returns a distinct valid position for index i: one of the
// test FENs with score i and outcome i%3.
func testPosition(t *testing.T, i int) record.Position {
	t.Helper()
	p, err := ParsePosition(testFENs[i%len(testFENs)])
	if err != nil {
		t.Fatalf("ParsePosition: %v", err)
	}
	p.Score = int16(i)
	p.Outcome = record.Outcome(i % 3)
	return p
}

func writeDataset(t *testing.T, dir, name string, positions []record.Position) string {
	t.Helper()
	path := filepath.Join(dir, name)
	w, err := dataset.Create(path, features.Board768Tag)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := range positions {
		if err := w.AppendPosition(&positions[i]); err != nil {
			t.Fatalf("AppendPosition %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func writeNumbered(t *testing.T, dir, name string, from, n int) string {
	t.Helper()
	positions := make([]record.Position, n)
	for i := range positions {
		positions[i] = testPosition(t, from+i)
	}
	return writeDataset(t, dir, name, positions)
}

func readAll(t *testing.T, path string) []record.Position {
	t.Helper()
	f, err := dataset.Open(path)
	if err != nil {
		t.Fatalf("Open %s: %v", path, err)
	}
	defer f.Close()
	out := make([]record.Position, f.Len())
	for i := range out {
		if out[i], err = f.ReadPosition(uint64(i)); err != nil {
			t.Fatalf("ReadPosition %d: %v", i, err)
		}
	}
	return out
}

func scores(positions []record.Position) []int {
	out := make([]int, len(positions))
	for i := range positions {
		out[i] = int(positions[i].Score)
	}
	return out
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s should not exist (stat err %v)", path, err)
	}
}
