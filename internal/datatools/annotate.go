package datatools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/freeeve/uci"
	"github.com/rs/zerolog"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/record"
)

// DefaultMateScore is the score stored for a forced mate.
const DefaultMateScore = 30000

// Evaluator scores a position from the side to move. When mate is true,
// score is the signed mate distance in moves.
type Evaluator interface {
	Evaluate(fen string) (score int, mate bool, err error)
	Close() error
}

// AnnotateOptions configures Annotate.
type AnnotateOptions struct {
	EnginePath  string // UCI engine binary, e.g. stockfish
	Depth       int    // default 10
	Threads     int    // per engine, default 1
	HashMB      int    // per engine, default 16
	Nice        int    // engine process priority, 0 leaves it unchanged
	Workers     int    // engine processes, default 1
	MateScore   int    // default DefaultMateScore
	OnlyMissing bool   // keep existing scores, evaluate unscored records only
	ChunkSize   int    // records per work unit, default 256
	Logger      zerolog.Logger

	// NewEvaluator overrides engine startup; used by tests.
	NewEvaluator func() (Evaluator, error)
}

// AnnotateResult summarizes an annotation run.
type AnnotateResult struct {
	Records   uint64
	Evaluated uint64
	Mates     uint64
}

// Annotate copies input to output, replacing scores with engine
// evaluations at a fixed depth. Mates are stored as +/-MateScore. Record
// order is kept.
func Annotate(ctx context.Context, input, output string, opts AnnotateOptions) (AnnotateResult, error) {
	if opts.Depth <= 0 {
		opts.Depth = 10
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.HashMB <= 0 {
		opts.HashMB = 16
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MateScore <= 0 || opts.MateScore > math.MaxInt16 {
		opts.MateScore = DefaultMateScore
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256
	}
	if opts.NewEvaluator == nil {
		if opts.EnginePath == "" {
			return AnnotateResult{}, errors.New("annotate: no engine path")
		}
		opts.NewEvaluator = func() (Evaluator, error) { return newUCIEvaluator(opts) }
	}
	log := opts.Logger

	if err := dataset.CheckOutput(output, input); err != nil {
		return AnnotateResult{}, err
	}
	f, err := dataset.Open(input)
	if err != nil {
		return AnnotateResult{}, err
	}
	defer f.Close()

	evaluators := make([]Evaluator, 0, opts.Workers)
	defer func() {
		for _, ev := range evaluators {
			if err := ev.Close(); err != nil {
				log.Warn().Err(err).Msg("closing evaluator")
			}
		}
	}()
	for range opts.Workers {
		ev, err := opts.NewEvaluator()
		if err != nil {
			return AnnotateResult{}, fmt.Errorf("start engine: %w", err)
		}
		evaluators = append(evaluators, ev)
	}
	log.Info().
		Int("workers", opts.Workers).
		Int("depth", opts.Depth).
		Uint64("records", f.Len()).
		Msg("annotate started")

	w, err := dataset.Create(output, f.FeatureSet())
	if err != nil {
		return AnnotateResult{}, err
	}

	var res AnnotateResult
	evaluated := make([]uint64, opts.Workers)
	mates := make([]uint64, opts.Workers)
	start, lastLog := time.Now(), time.Now()

	produce := func(ctx context.Context, emit func([]record.Position) error) error {
		it := f.Iterator()
		chunk := make([]record.Position, 0, opts.ChunkSize)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := it.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			chunk = append(chunk, p)
			if len(chunk) == opts.ChunkSize {
				if err := emit(chunk); err != nil {
					return err
				}
				chunk = make([]record.Position, 0, opts.ChunkSize)
			}
		}
		if len(chunk) > 0 {
			return emit(chunk)
		}
		return nil
	}
	process := func(worker int, chunk []record.Position) ([]record.Position, error) {
		ev := evaluators[worker]
		for i := range chunk {
			p := &chunk[i]
			if opts.OnlyMissing && p.HasScore() {
				continue
			}
			score, mate, err := ev.Evaluate(p.FEN())
			if err != nil {
				return nil, fmt.Errorf("evaluate %s: %w", p.FEN(), err)
			}
			evaluated[worker]++
			if mate {
				mates[worker]++
				p.Score = mateScore(score, opts.MateScore)
			} else {
				p.Score = clampScore(score, opts.MateScore-1)
			}
		}
		return chunk, nil
	}
	consume := func(chunk []record.Position) error {
		for i := range chunk {
			if err := w.AppendPosition(&chunk[i]); err != nil {
				return err
			}
		}
		if time.Since(lastLog) > 10*time.Second {
			log.Info().
				Uint64("records", w.Count()).
				Float64("records_per_sec", float64(w.Count())/time.Since(start).Seconds()).
				Msg("annotate progress")
			lastLog = time.Now()
		}
		return nil
	}

	if err := runOrdered(ctx, opts.Workers, produce, process, consume); err != nil {
		w.Abort()
		return res, err
	}
	res.Records = w.Count()
	if err := w.Close(); err != nil {
		return res, err
	}
	for i := range evaluated {
		res.Evaluated += evaluated[i]
		res.Mates += mates[i]
	}
	log.Info().
		Uint64("records", res.Records).
		Uint64("evaluated", res.Evaluated).
		Uint64("mates", res.Mates).
		Dur("elapsed", time.Since(start)).
		Msg("annotate complete")
	return res, nil
}

// mateScore maps a signed mate distance to a fixed score. "mate 0" means
// the side to move is already mated.
func mateScore(moves, limit int) int16 {
	if moves > 0 {
		return int16(limit)
	}
	return int16(-limit)
}

// uciEvaluator drives one UCI engine process.
type uciEvaluator struct {
	engine *uci.Engine
	depth  int
}

func newUCIEvaluator(opts AnnotateOptions) (*uciEvaluator, error) {
	engine, err := uci.NewEngine(opts.EnginePath)
	if err != nil {
		return nil, err
	}
	err = engine.SetOptions(uci.Options{
		Hash:    opts.HashMB,
		Threads: opts.Threads,
		MultiPV: 1,
		Ponder:  false,
		OwnBook: false,
	})
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("set engine options: %w", err)
	}
	if opts.Nice > 0 {
		if err := engine.SetNice(min(opts.Nice, 19)); err != nil {
			opts.Logger.Warn().Err(err).Int("nice", opts.Nice).Msg("failed to set nice value")
		}
	}
	return &uciEvaluator{engine: engine, depth: opts.Depth}, nil
}

func (e *uciEvaluator) Evaluate(fen string) (int, bool, error) {
	if err := e.engine.SetFEN(fen); err != nil {
		return 0, false, fmt.Errorf("set FEN: %w", err)
	}
	results, err := e.engine.GoDepth(e.depth, uci.HighestDepthOnly)
	if err != nil {
		return 0, false, err
	}
	if len(results.Results) == 0 {
		return 0, false, errors.New("no results from engine")
	}
	best := results.Results[0]
	for _, r := range results.Results {
		if r.Depth > best.Depth {
			best = r
		}
	}
	return best.Score, best.Mate, nil
}

func (e *uciEvaluator) Close() error {
	e.engine.Close()
	return nil
}
