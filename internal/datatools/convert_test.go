package datatools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/freeeve/board768/internal/eco"
	"github.com/freeeve/board768/internal/record"
)

func TestParseLine(t *testing.T) {
	white, black := testFENs[0], testFENs[1]
	tests := []struct {
		line    string
		score   int16
		outcome record.Outcome
	}{
		{white + " | 35 | 1-0", 35, record.Win},
		{black + " | 35 | 1-0", -35, record.Loss},
		{black + " | -120 | 0-1", 120, record.Win},
		{white + " | 12.6 | 1/2-1/2", 13, record.Draw},
		{white + " | 0.5", record.NoScore, record.Draw},
		{white + " |  | 0.0", record.NoScore, record.Loss},
		{black + " | none | 1.0", record.NoScore, record.Loss},
		{white + " | 99999 | 1", 32767, record.Win},
	}
	for _, tt := range tests {
		p, err := ParseLine(tt.line)
		if err != nil {
			t.Errorf("ParseLine(%q): %v", tt.line, err)
			continue
		}
		if p.Score != tt.score || p.Outcome != tt.outcome {
			t.Errorf("ParseLine(%q) = score %d outcome %v, want %d %v", tt.line, p.Score, p.Outcome, tt.score, tt.outcome)
		}
	}
}

func TestParseLineErrors(t *testing.T) {
	for _, line := range []string{
		testFENs[0],
		testFENs[0] + " | x | 1-0",
		testFENs[0] + " | 10 | 2-0",
		testFENs[0] + " | 1 | 2 | 3",
		"garbage | 10 | 1-0",
	} {
		if _, err := ParseLine(line); !errors.Is(err, record.ErrInvalidPosition) {
			t.Errorf("ParseLine(%q) error = %v, want ErrInvalidPosition", line, err)
		}
	}
}

// textLines returns n "<fen> | <score> | 1-0" lines with white relative
// score i, plus a comment and a blank line.
func textLines(n int) string {
	var sb strings.Builder
	sb.WriteString("# generated\n\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%s | %d | 1-0\n", testFENs[i%len(testFENs)], i)
	}
	return sb.String()
}

// wantScore is the stored score of line i of textLines.
func wantScore(t *testing.T, i int) int {
	p := testPosition(t, i)
	if p.SideToMove == record.Black {
		return -i
	}
	return i
}

func TestConvertTextKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.txt", []byte(textLines(50)))
	out := filepath.Join(dir, "out.dtfb")

	res, err := Convert(context.Background(), []string{in}, out, ConvertOptions{Workers: 3, ChunkSize: 4})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Records != 50 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}
	got := readAll(t, out)
	for i := range got {
		if int(got[i].Score) != wantScore(t, i) {
			t.Fatalf("record %d score = %d, want %d", i, got[i].Score, wantScore(t, i))
		}
		want := record.Win
		if got[i].SideToMove == record.Black {
			want = record.Loss
		}
		if got[i].Outcome != want {
			t.Fatalf("record %d outcome = %v, want %v", i, got[i].Outcome, want)
		}
	}
}

func TestConvertInvalidLine(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.txt", []byte(textLines(5)+"bogus | 1 | 1-0\n"+textLines(5)))
	out := filepath.Join(dir, "out.dtfb")

	_, err := Convert(context.Background(), []string{in}, out, ConvertOptions{Workers: 2, ChunkSize: 3})
	if !errors.Is(err, record.ErrInvalidPosition) {
		t.Fatalf("error = %v, want ErrInvalidPosition", err)
	}
	if !strings.Contains(err.Error(), "in.txt:8") {
		t.Errorf("error %q should name the line", err)
	}
	assertMissing(t, out)

	res, err := Convert(context.Background(), []string{in}, out, ConvertOptions{Workers: 2, ChunkSize: 3, SkipInvalid: true})
	if err != nil {
		t.Fatalf("Convert with SkipInvalid: %v", err)
	}
	if res.Records != 10 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 10 records 1 skipped", res)
	}
}

func TestConvertCompressedInputs(t *testing.T) {
	dir := t.TempDir()
	text := []byte(textLines(12))

	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	if err != nil {
		t.Fatal(err)
	}
	zw.Write(text)
	zw.Close()

	var xbuf bytes.Buffer
	xw, err := xz.NewWriter(&xbuf)
	if err != nil {
		t.Fatal(err)
	}
	xw.Write(text)
	xw.Close()

	inputs := []string{
		writeFile(t, dir, "a.txt.zst", zbuf.Bytes()),
		writeFile(t, dir, "b.txt.xz", xbuf.Bytes()),
	}
	out := filepath.Join(dir, "out.dtfb")
	res, err := Convert(context.Background(), inputs, out, ConvertOptions{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Records != 24 {
		t.Fatalf("records = %d, want 24", res.Records)
	}
	got := scores(readAll(t, out))
	for i := 0; i < 12; i++ {
		if got[i] != wantScore(t, i) || got[12+i] != wantScore(t, i) {
			t.Fatalf("scores = %v", got)
		}
	}
}

func TestConvertRejectsUnknownFeatureSet(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.txt", []byte(textLines(2)))
	out := filepath.Join(dir, "out.dtfb")
	if _, err := Convert(context.Background(), []string{in}, out, ConvertOptions{FeatureSet: 99}); err == nil {
		t.Fatal("expected error for unknown feature set")
	}
	assertMissing(t, out)
}

const testPGN = `[Event "decisive"]
[White "a"]
[Black "b"]
[Result "1-0"]

1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 1-0

[Event "unfinished"]
[White "c"]
[Black "d"]
[Result "*"]

1. d4 d5 *
`

func TestConvertPGN(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "games.pgn", []byte(testPGN))
	out := filepath.Join(dir, "out.dtfb")

	res, err := Convert(context.Background(), []string{in}, out, ConvertOptions{Workers: 2})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Records != 6 || res.Games != 1 || res.Skipped != 1 {
		t.Fatalf("result = %+v, want 6 records from 1 game, 1 skipped", res)
	}
	got := readAll(t, out)
	if got[0].FEN() != testFENs[0] {
		t.Errorf("first record = %s, want start position", got[0].FEN())
	}
	for i, p := range got {
		want := record.Win
		if p.SideToMove == record.Black {
			want = record.Loss
		}
		if p.Outcome != want || p.HasScore() {
			t.Errorf("record %d: outcome %v score %d", i, p.Outcome, p.Score)
		}
		if p.Ply() != i {
			t.Errorf("record %d: ply %d", i, p.Ply())
		}
	}
}

func TestConvertPGNMinPlyAndBook(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "games.pgn", []byte(testPGN))
	out := filepath.Join(dir, "out.dtfb")

	book := eco.NewDatabase()
	if err := book.Load(strings.NewReader("C60\tRuy Lopez\t1. e4 e5 2. Nf3 Nc6 3. Bb5\n")); err != nil {
		t.Fatal(err)
	}
	res, err := Convert(context.Background(), []string{in}, out, ConvertOptions{MinPly: 2, Book: book})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	// plies 2..5 are kept, the position after 3. Bb5 is a book position
	if res.Records != 3 || res.Book != 1 {
		t.Fatalf("result = %+v, want 3 records and 1 book position", res)
	}
}

const ratedPGN = `[Event "strong"]
[WhiteElo "2100"]
[BlackElo "2050"]
[Result "0-1"]

1. f3 e5 2. g4 Qh4# 0-1

[Event "weak"]
[WhiteElo "2300"]
[BlackElo "1200"]
[Result "1/2-1/2"]

1. e4 e5 1/2-1/2
`

func TestConvertPGNMinRating(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "rated.pgn", []byte(ratedPGN))
	out := filepath.Join(dir, "out.dtfb")

	res, err := Convert(context.Background(), []string{in}, out, ConvertOptions{MinRating: 2000})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Games != 1 || res.Skipped != 1 || res.Records != 4 {
		t.Fatalf("result = %+v, want 4 records from 1 game", res)
	}
	for i, p := range readAll(t, out) {
		want := record.Loss
		if p.SideToMove == record.Black {
			want = record.Win
		}
		if p.Outcome != want {
			t.Errorf("record %d: outcome %v, want %v", i, p.Outcome, want)
		}
	}
}

const engineGamesPGN = `[Event "engine"]
[Result "1/2-1/2"]
[Termination "normal"]

1. e4 {+0.30/10 0.1s} e5 {-0.25/11} 2. Nf3 {book} Nc6 {+M5/20}
3. Bb5 {+0.40/12} (3. Bc4 {+0.20/1} Bc5) a6 $1 {+0.35/12}
4. Bxc6 {+0.50/9} dxc6 {-0.45/10} 1/2-1/2

[Event "adjudicated"]
[Result "1-0"]
[Termination "time forfeit"]

1. d4 {+0.10/5} d5 {-0.10/5} 1-0

[Event "setup"]
[SetUp "1"]
[FEN "r3k2r/8/8/8/8/8/8/R3K3 b Qk - 0 30"]
[Result "1-0"]

30... Rh2 {-0.50/4} 31. Kf1 1-0
`

func TestConvertPGNEvalComments(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "engine.pgn", []byte(engineGamesPGN))
	out := filepath.Join(dir, "out.dtfb")

	res, err := Convert(context.Background(), []string{in}, out, ConvertOptions{Workers: 2, ChunkSize: 1})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Records != 12 || res.Games != 3 || res.Skipped != 0 {
		t.Fatalf("result = %+v, want 12 records from 3 games", res)
	}
	no := int(record.NoScore)
	want := []int{no, -30, 25, no, no, -40, -35, -50, no, -10, no, 50}
	got := readAll(t, out)
	if s := scores(got); !reflect.DeepEqual(s, want) {
		t.Errorf("scores = %v, want %v", s, want)
	}
	setup := got[10]
	if setup.SideToMove != record.Black || setup.Outcome != record.Loss {
		t.Errorf("FEN tag start: stm %v outcome %v, want black to move and a loss", setup.SideToMove, setup.Outcome)
	}
	if got[11].Outcome != record.Win {
		t.Errorf("FEN tag game ply 1: outcome %v, want win", got[11].Outcome)
	}
}

func TestConvertPGNQuietScoredNormal(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "engine.pgn", []byte(engineGamesPGN))
	out := filepath.Join(dir, "out.dtfb")

	opts := ConvertOptions{QuietOnly: true, ScoredOnly: true, NormalTermination: true}
	res, err := Convert(context.Background(), []string{in}, out, opts)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Records != 4 || res.Games != 2 || res.Skipped != 1 {
		t.Fatalf("result = %+v, want 4 records from 2 games, 1 skipped", res)
	}
	if got, want := scores(readAll(t, out)), []int{-30, 25, -40, 50}; !reflect.DeepEqual(got, want) {
		t.Errorf("scores = %v, want %v", got, want)
	}
}

const brokenGamePGN = testPGN + `
[Event "broken"]
[Result "1-0"]

1. e4 e5 2. Zz9 Nc6 1-0
`

func TestConvertPGNBrokenGame(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "games.pgn", []byte(brokenGamePGN))
	out := filepath.Join(dir, "out.dtfb")

	_, err := Convert(context.Background(), []string{in}, out, ConvertOptions{})
	if err == nil || !strings.Contains(err.Error(), "games.pgn:") {
		t.Fatalf("error = %v, want one naming games.pgn", err)
	}
	assertMissing(t, out)

	res, err := Convert(context.Background(), []string{in}, out, ConvertOptions{SkipInvalid: true})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	// the broken game adds nothing, not even the plies before the bad move
	if res.Records != 6 || res.Games != 1 || res.Skipped != 2 {
		t.Fatalf("result = %+v, want 6 records from 1 game, 2 skipped", res)
	}
}

func TestParseMovetext(t *testing.T) {
	text := "1. e4 {a} {b} e5 $2 2. Nf3!? (2. f4 {gambit} (2. d4) exf4) 2... Nc6 ; rest\n3. O-O-O+ c5 } 1-0"
	moves := parseMovetext(text)
	var sans []string
	for _, m := range moves {
		sans = append(sans, m.san)
	}
	if want := []string{"e4", "e5", "Nf3", "Nc6", "O-O-O", "c5"}; !reflect.DeepEqual(sans, want) {
		t.Fatalf("moves = %v, want %v", sans, want)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(moves[0].comments, want) {
		t.Errorf("e4 comments = %q, want %q", moves[0].comments, want)
	}
	if len(moves[2].comments) != 0 {
		t.Errorf("variation comment leaked onto Nf3: %q", moves[2].comments)
	}
	if want := []string{"rest"}; !reflect.DeepEqual(moves[3].comments, want) {
		t.Errorf("Nc6 comments = %q, want %q", moves[3].comments, want)
	}
}

func TestCommentEval(t *testing.T) {
	tests := []struct {
		comments []string
		want     int16
	}{
		{nil, record.NoScore},
		{[]string{"+0.35/12 0.5s"}, -35},
		{[]string{"-1.27/20"}, 127},
		{[]string{"0.00/1"}, 0},
		{[]string{"book"}, record.NoScore},
		{[]string{"+M3/30"}, record.NoScore},
		{[]string{"-M1/1"}, record.NoScore},
		{[]string{"+0.10/3", "book"}, -10},
		{[]string{"+0.10/3", "-0.20/4"}, 20},
		{[]string{"+999999/1"}, -math.MaxInt16},
		{[]string{"White resigns"}, record.NoScore},
	}
	for _, tt := range tests {
		if got := commentEval(tt.comments); got != tt.want {
			t.Errorf("commentEval(%q) = %d, want %d", tt.comments, got, tt.want)
		}
	}
}
