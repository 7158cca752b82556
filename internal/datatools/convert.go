// Package datatools implements the dataset authoring commands: conversion
// from text and PGN sources, merging, on-disk shuffling, interleaving,
// statistics, inspection and engine annotation.
package datatools

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/rs/zerolog"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/eco"
	"github.com/freeeve/board768/internal/features"
	"github.com/freeeve/board768/internal/record"
)

// Input formats accepted by Convert.
const (
	FormatText = "text"
	FormatPGN  = "pgn"
)

// ConvertOptions configures Convert.
type ConvertOptions struct {
	Format      string // FormatText, FormatPGN, or "" to detect from the file name
	FeatureSet  uint16
	Workers     int // default runtime.NumCPU()
	ChunkSize   int // lines or games per work unit, default 4096 lines / 64 games
	MinPly      int // pgn: skip positions before this ply
	MinRating   int // pgn: skip games where either player is rated below this
	SkipInvalid bool

	// QuietOnly keeps only PGN positions that are not in check and whose
	// next move is not a capture.
	QuietOnly bool
	// ScoredOnly keeps only PGN positions with an engine eval comment such
	// as {+0.35/12} on the move that led to them.
	ScoredOnly bool
	// NormalTermination skips games whose Termination tag is present and
	// is not "normal".
	NormalTermination bool

	Book   *eco.Database // positions found here are left out
	Logger zerolog.Logger
}

// ConvertResult summarizes a conversion.
type ConvertResult struct {
	Records uint64
	Skipped uint64 // invalid lines, unfinished, filtered or broken games
	Games   uint64
	Book    uint64 // opening book positions left out
}

type textLine struct {
	path string
	num  int
	text string
}

// Convert reads text or PGN inputs and writes a new dataset file. Text
// lines have the form "<fen> | <score> | <result>" where score is white
// relative centipawns (may be empty) and result is 1-0, 0-1, 1/2-1/2 or
// 1.0, 0.5, 0.0 from white's side. The two-field form "<fen> | <result>"
// is also accepted. Output order follows input order.
func Convert(ctx context.Context, inputs []string, output string, opts ConvertOptions) (ConvertResult, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if len(inputs) == 0 {
		return ConvertResult{}, fmt.Errorf("convert: no inputs")
	}
	if _, err := features.Lookup(opts.FeatureSet); err != nil {
		return ConvertResult{}, err
	}
	for _, in := range inputs {
		if format := detectFormat(in, opts.Format); format != detectFormat(inputs[0], opts.Format) {
			return ConvertResult{}, fmt.Errorf("convert: inputs mix formats (%s is %s)", in, format)
		}
	}

	if err := dataset.CheckOutput(output, inputs...); err != nil {
		return ConvertResult{}, err
	}
	w, err := dataset.Create(output, opts.FeatureSet)
	if err != nil {
		return ConvertResult{}, err
	}

	c := &converter{opts: opts, log: opts.Logger, out: w, start: time.Now(), lastLog: time.Now()}
	switch detectFormat(inputs[0], opts.Format) {
	case FormatPGN:
		err = c.convertPGN(ctx, inputs)
	default:
		err = c.convertText(ctx, inputs)
	}
	if err != nil {
		w.Abort()
		return c.result(), err
	}
	if err := w.Close(); err != nil {
		return c.result(), err
	}

	res := c.result()
	c.log.Info().
		Str("output", output).
		Uint64("records", res.Records).
		Uint64("skipped", res.Skipped).
		Uint64("games", res.Games).
		Uint64("book", res.Book).
		Dur("elapsed", time.Since(c.start)).
		Msg("convert complete")
	return res, nil
}

func detectFormat(path, format string) string {
	if format != "" {
		return format
	}
	if strings.HasSuffix(baseName(path), ".pgn") {
		return FormatPGN
	}
	return FormatText
}

type converter struct {
	opts    ConvertOptions
	log     zerolog.Logger
	out     *dataset.Writer
	skipped atomic.Uint64
	games   atomic.Uint64
	book    atomic.Uint64
	start   time.Time
	lastLog time.Time
}

func (c *converter) result() ConvertResult {
	return ConvertResult{
		Records: c.out.Count(),
		Skipped: c.skipped.Load(),
		Games:   c.games.Load(),
		Book:    c.book.Load(),
	}
}

func (c *converter) write(positions []record.Position) error {
	for i := range positions {
		if err := c.out.AppendPosition(&positions[i]); err != nil {
			return err
		}
	}
	if time.Since(c.lastLog) > 10*time.Second {
		c.log.Info().
			Uint64("records", c.out.Count()).
			Uint64("skipped", c.skipped.Load()).
			Float64("records_per_sec", float64(c.out.Count())/time.Since(c.start).Seconds()).
			Msg("convert progress")
		c.lastLog = time.Now()
	}
	return nil
}

func (c *converter) convertText(ctx context.Context, inputs []string) error {
	chunk := c.opts.ChunkSize
	if chunk <= 0 {
		chunk = 4096
	}
	produce := func(ctx context.Context, emit func([]textLine) error) error {
		for _, path := range inputs {
			if err := readLines(ctx, path, chunk, emit); err != nil {
				return err
			}
		}
		return nil
	}
	process := func(_ int, lines []textLine) ([]record.Position, error) {
		out := make([]record.Position, 0, len(lines))
		for _, l := range lines {
			p, err := ParseLine(l.text)
			if err != nil {
				err = fmt.Errorf("%s:%d: %w", l.path, l.num, err)
				if !c.opts.SkipInvalid {
					return nil, err
				}
				c.skipped.Add(1)
				c.log.Warn().Err(err).Msg("skipping line")
				continue
			}
			if c.inBook(&p) {
				continue
			}
			out = append(out, p)
		}
		return out, nil
	}
	return runOrdered(ctx, c.opts.Workers, produce, process, c.write)
}

func (c *converter) inBook(p *record.Position) bool {
	if c.opts.Book.Contains(p) {
		c.book.Add(1)
		return true
	}
	return false
}

func readLines(ctx context.Context, path string, chunk int, emit func([]textLine) error) error {
	r, err := openInput(path)
	if err != nil {
		return err
	}
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	batch := make([]textLine, 0, chunk)
	num := 0
	for sc.Scan() {
		num++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		batch = append(batch, textLine{path: path, num: num, text: text})
		if len(batch) == chunk {
			if err := emit(batch); err != nil {
				return err
			}
			batch = make([]textLine, 0, chunk)
		}
		if num%chunk == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}

// ParseLine parses one "<fen> | <score> | <result>" line. Score and result
// are given from white's side and stored from the side to move.
func ParseLine(line string) (record.Position, error) {
	fields := strings.Split(line, "|")
	var scoreField, resultField string
	switch len(fields) {
	case 2:
		resultField = fields[1]
	case 3:
		scoreField, resultField = fields[1], fields[2]
	default:
		return record.Position{}, fmt.Errorf("%w: want 2 or 3 '|' separated fields, got %d", record.ErrInvalidPosition, len(fields))
	}

	p, err := ParsePosition(fields[0])
	if err != nil {
		return p, err
	}
	outcome, err := parseResult(resultField)
	if err != nil {
		return p, err
	}
	score, err := parseScore(scoreField)
	if err != nil {
		return p, err
	}
	if p.SideToMove == record.Black {
		outcome = outcome.Flip()
		if score != record.NoScore {
			score = -score
		}
	}
	p.Outcome = outcome
	p.Score = score
	return p, nil
}

// parseResult returns the outcome from white's side.
func parseResult(s string) (record.Outcome, error) {
	switch strings.TrimSpace(s) {
	case "1-0", "1.0", "1":
		return record.Win, nil
	case "0-1", "0.0", "0":
		return record.Loss, nil
	case "1/2-1/2", "0.5", "½-½":
		return record.Draw, nil
	default:
		return 0, fmt.Errorf("%w: unknown result %q", record.ErrInvalidPosition, strings.TrimSpace(s))
	}
}

// parseScore parses white relative centipawns, clamped so the value never
// collides with record.NoScore.
func parseScore(s string) (int16, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || strings.EqualFold(s, "none") {
		return record.NoScore, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad score %q", record.ErrInvalidPosition, s)
	}
	return clampScore(int(math.Round(v)), math.MaxInt16), nil
}

// clampScore bounds v to [-limit, limit], never returning record.NoScore.
func clampScore(v, limit int) int16 {
	if limit > math.MaxInt16 {
		limit = math.MaxInt16
	}
	if v > limit {
		v = limit
	}
	if v < -limit {
		v = -limit
	}
	return int16(v)
}

func (c *converter) convertPGN(ctx context.Context, inputs []string) error {
	chunk := c.opts.ChunkSize
	if chunk <= 0 {
		chunk = 64
	}
	produce := func(ctx context.Context, emit func([]*pgnGame) error) error {
		for _, path := range inputs {
			if err := readPGN(ctx, path, chunk, emit); err != nil {
				return err
			}
		}
		return nil
	}
	process := func(_ int, games []*pgnGame) ([]record.Position, error) {
		var out []record.Position
		for _, g := range games {
			positions, book, err := c.replay(g)
			if err != nil {
				err = fmt.Errorf("%s:%d: %w", g.path, g.line, err)
				if !c.opts.SkipInvalid {
					return nil, err
				}
				c.skipped.Add(1)
				c.log.Warn().Err(err).Msg("skipping game")
				continue
			}
			c.book.Add(book)
			out = append(out, positions...)
		}
		return out, nil
	}
	return runOrdered(ctx, c.opts.Workers, produce, process, c.write)
}

// replay walks a game from its start position and labels every position
// from ply MinPly on with the game result and the eval comment of the move
// that led to it. Unfinished or filtered games return no positions. A game
// that fails to replay returns an error and none of its positions.
func (c *converter) replay(game *pgnGame) ([]record.Position, uint64, error) {
	if c.opts.MinRating > 0 {
		if parseRating(game.tags["WhiteElo"]) < c.opts.MinRating || parseRating(game.tags["BlackElo"]) < c.opts.MinRating {
			c.skipped.Add(1)
			return nil, 0, nil
		}
	}
	if t, ok := game.tags["Termination"]; ok && c.opts.NormalTermination && !strings.EqualFold(t, "normal") {
		c.skipped.Add(1)
		return nil, 0, nil
	}
	white, err := parseResult(game.tags["Result"])
	if err != nil {
		c.skipped.Add(1)
		return nil, 0, nil
	}

	var pos *pgn.GameState
	if fen := game.tags["FEN"]; fen != "" {
		if pos, err = pgn.NewGame(fen); err != nil {
			return nil, 0, fmt.Errorf("FEN tag %q: %w", fen, err)
		}
	} else {
		pos = pgn.NewStartingPosition()
	}

	var book uint64
	out := make([]record.Position, 0, len(game.moves))
	eval := record.NoScore
	for ply, mv := range game.moves {
		if c.keep(ply, pos, mv.san, eval) {
			p, err := ParsePosition(pos.ToFEN())
			if err != nil {
				return nil, 0, fmt.Errorf("ply %d: %w", ply, err)
			}
			p.Score = eval
			p.Outcome = white
			if p.SideToMove == record.Black {
				p.Outcome = white.Flip()
			}
			if c.opts.Book.Contains(&p) {
				book++
			} else {
				out = append(out, p)
			}
		}
		m, err := pgn.ParseSAN(pos, mv.san)
		if err != nil {
			return nil, 0, fmt.Errorf("ply %d: %q: %w", ply, mv.san, err)
		}
		if err := pgn.ApplyMove(pos, m); err != nil {
			return nil, 0, fmt.Errorf("ply %d: %q: %w", ply, mv.san, err)
		}
		eval = commentEval(mv.comments)
	}
	c.games.Add(1)
	return out, book, nil
}

// keep reports whether the position before move san is written.
func (c *converter) keep(ply int, pos *pgn.GameState, san string, eval int16) bool {
	if ply < c.opts.MinPly {
		return false
	}
	if c.opts.ScoredOnly && eval == record.NoScore {
		return false
	}
	if c.opts.QuietOnly && (pos.IsInCheck() || strings.Contains(san, "x")) {
		return false
	}
	return true
}

// commentEval reads an engine eval such as "+0.35/12 0.5s" from the
// comments of a move. The eval is in pawns from the side that moved and is
// returned in centipawns from the side to move after it. Mate scores and
// "book" comments carry no eval. A later comment overrides an earlier one.
func commentEval(comments []string) int16 {
	eval := record.NoScore
	for _, c := range comments {
		if c == "book" {
			continue
		}
		info, _, _ := strings.Cut(c, "/")
		info = strings.TrimSpace(info)
		if strings.HasPrefix(info, "+M") || strings.HasPrefix(info, "-M") {
			continue
		}
		v, err := strconv.ParseFloat(info, 64)
		if err != nil || math.IsNaN(v) {
			continue
		}
		v = math.Max(-1000, math.Min(1000, v))
		eval = clampScore(int(math.Round(-v*100)), math.MaxInt16)
	}
	return eval
}

func parseRating(s string) int {
	if s == "" || s == "?" || s == "-" {
		return 0
	}
	r, _ := strconv.Atoi(s)
	return r
}
