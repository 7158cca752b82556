package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/board768/internal/dataset"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

const gamePGN = `[Event "x"]
[Result "1/2-1/2"]

1. e4 e5 2. Nf3 1/2-1/2
`

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestProcessNewFiles(t *testing.T) {
	watch := t.TempDir()
	w, err := NewWorker(Config{WatchDir: watch, Workers: 2})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	write(t, watch, "a.txt", startFEN+" | 20 | 1-0\n"+startFEN+" | -5 | 0-1\n")
	write(t, watch, "b.pgn", gamePGN)
	write(t, watch, "broken.txt", "not a position | 1 | 1-0\n")
	write(t, watch, "notes.md", "ignored")

	res, err := w.ProcessNewFiles(context.Background())
	if err != nil {
		t.Fatalf("ProcessNewFiles: %v", err)
	}
	if res.Processed != 2 || res.Failed != 1 || res.Records != 5 {
		t.Fatalf("result = %+v, want 2 processed, 1 failed, 5 records", res)
	}

	for name, want := range map[string]uint64{"a.txt.dtfb": 2, "b.pgn.dtfb": 3} {
		h, err := dataset.Validate(filepath.Join(watch, "datasets", name))
		if err != nil {
			t.Fatalf("Validate %s: %v", name, err)
		}
		if h.RecordCount != want {
			t.Errorf("%s: %d records, want %d", name, h.RecordCount, want)
		}
	}
	for _, path := range []string{
		filepath.Join(watch, "processed", "a.txt"),
		filepath.Join(watch, "processed", "b.pgn"),
		filepath.Join(watch, "failed", "broken.txt"),
		filepath.Join(watch, "notes.md"),
	} {
		if !exists(path) {
			t.Errorf("%s missing", path)
		}
	}
	if exists(filepath.Join(watch, "datasets", "broken.txt.dtfb")) {
		t.Error("failed conversion left an output file")
	}

	// nothing left to do
	res, err = w.ProcessNewFiles(context.Background())
	if err != nil || res != (Result{}) {
		t.Errorf("second pass = %+v, %v", res, err)
	}
}

func TestSameDatasetNameIsDeferred(t *testing.T) {
	watch := t.TempDir()
	w, err := NewWorker(Config{WatchDir: watch, Workers: 4})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	write(t, watch, "games.pgn", gamePGN)
	write(t, watch, "games.pgn.zst", string(enc.EncodeAll([]byte(gamePGN+"\n"+gamePGN), nil)))
	write(t, watch, "games.txt", startFEN+" | 1-0\n")
	enc.Close()

	res, err := w.ProcessNewFiles(context.Background())
	if err != nil {
		t.Fatalf("ProcessNewFiles: %v", err)
	}
	if res.Processed != 2 || res.Failed != 0 || res.Records != 4 {
		t.Fatalf("first pass = %+v, want games.pgn and games.txt only", res)
	}
	if !exists(filepath.Join(watch, "games.pgn.zst")) {
		t.Fatal("games.pgn.zst should wait for the next pass")
	}
	for name, want := range map[string]uint64{"games.pgn.dtfb": 3, "games.txt.dtfb": 1} {
		h, err := dataset.Validate(filepath.Join(watch, "datasets", name))
		if err != nil {
			t.Fatalf("Validate %s: %v", name, err)
		}
		if h.RecordCount != want {
			t.Errorf("%s: %d records, want %d", name, h.RecordCount, want)
		}
	}

	res, err = w.ProcessNewFiles(context.Background())
	if err != nil {
		t.Fatalf("ProcessNewFiles: %v", err)
	}
	if res.Processed != 1 || res.Records != 6 {
		t.Fatalf("second pass = %+v, want games.pgn.zst with 6 records", res)
	}
	if !exists(filepath.Join(watch, "processed", "games.pgn.zst")) {
		t.Error("games.pgn.zst not moved to processed")
	}
}

func TestNewWorkerDisabled(t *testing.T) {
	w, err := NewWorker(Config{})
	if w != nil || err != nil {
		t.Errorf("NewWorker(empty) = %v, %v; want nil, nil", w, err)
	}
}

func TestDatasetName(t *testing.T) {
	tests := map[string]string{
		"games.pgn":        "games.pgn.dtfb",
		"games.txt":        "games.txt.dtfb",
		"games.pgn.zst":    "games.pgn.dtfb",
		"lichess.2024.txt": "lichess.2024.txt.dtfb",
		"evals.txt.xz":     "evals.txt.dtfb",
	}
	for in, want := range tests {
		if got := DatasetName(in); got != want {
			t.Errorf("DatasetName(%q) = %q, want %q", in, got, want)
		}
	}
	for name, want := range map[string]bool{
		"a.pgn": true, "a.pgn.zst": true, "a.txt.xz": true, "a.md": false, ".a.pgn": false, "a.zst": false,
	} {
		if got := isSourceFile(name); got != want {
			t.Errorf("isSourceFile(%q) = %v, want %v", name, got, want)
		}
	}
}
