// Command loadbench drives the batch loader over dataset files the way a
// training loop would and reports throughput per epoch.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/loader"
	"github.com/freeeve/board768/internal/logx"
	"github.com/freeeve/board768/internal/record"
	"github.com/freeeve/board768/internal/shuffle"
)

func envInt(name string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(name)); err == nil && v > 0 {
		return v
	}
	return def
}

func envUint64(name string, def uint64) uint64 {
	if v, err := strconv.ParseUint(os.Getenv(name), 10, 64); err == nil {
		return v
	}
	return def
}

func main() {
	var (
		batchSize  = flag.Int("batch-size", 16384, "positions per batch")
		workers    = flag.Int("workers", envInt("BOARD768_WORKERS", runtime.NumCPU()), "decode workers")
		queueDepth = flag.Int("queue", 4, "finished batches buffered ahead of the consumer")
		assembly   = flag.Int("assembly", 0, "vectors buffered before assembly (0 = batch size)")
		seed       = flag.Uint64("seed", envUint64("BOARD768_SEED", 0), "shuffle seed")
		remainder  = flag.String("remainder", "drop", "partial batch policy: drop, partial or wrap")
		epochs     = flag.Int("epochs", 1, "epochs to run (0 = until interrupted)")
		startEpoch = flag.Int("start-epoch", 0, "first epoch number, for resuming")
		minPly     = flag.Int("min-ply", 0, "skip positions before this ply")
		maxScore   = flag.Int("max-score", 0, "skip scored positions with |score| above this (0 = off)")
		needScore  = flag.Bool("require-score", false, "skip unscored positions")
		skipDraws  = flag.Bool("skip-draws", false, "skip drawn positions")
		skipBad    = flag.Bool("skip-corrupt", false, "log and skip corrupt records")
		mmap       = flag.Bool("mmap", false, "memory map the dataset files")
		step       = flag.Duration("step", 0, "simulated training time per batch")
		logLevel   = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := logx.NewLoggerTo(os.Stderr, logx.ParseLevel(*logLevel))
	if flag.NArg() == 0 {
		logger.Fatal().Msg("usage: loadbench [flags] file.dtfb...")
	}
	policy, err := shuffle.ParseRemainderPolicy(*remainder)
	if err != nil {
		logger.Fatal().Err(err).Msg("bad -remainder")
	}

	var filters []loader.Filter
	if *minPly > 0 {
		filters = append(filters, loader.PlyAtLeast(*minPly))
	}
	if *maxScore > 0 {
		filters = append(filters, loader.ScoreWithin(*maxScore))
	}
	if *needScore {
		filters = append(filters, loader.RequireScore())
	}
	if *skipDraws {
		filters = append(filters, loader.ExcludeOutcome(record.Draw))
	}
	var filter loader.Filter
	if len(filters) > 0 {
		filter = loader.All(filters...)
	}

	view, err := dataset.OpenView(flag.Args(), dataset.Options{MemoryMap: *mmap})
	if err != nil {
		logger.Fatal().Str("kind", dataset.Kind(err)).Err(err).Msg("open datasets")
	}
	defer view.Close()

	l, err := loader.New(loader.Config{
		Source:        view,
		BatchSize:     *batchSize,
		Workers:       *workers,
		QueueDepth:    *queueDepth,
		AssemblyDepth: *assembly,
		Seed:          *seed,
		Remainder:     policy,
		Epochs:        *epochs,
		StartEpoch:    *startEpoch,
		Filter:        filter,
		SkipCorrupt:   *skipBad,
		Logger:        logger.With().Str("component", "loader").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure loader")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := l.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start loader")
	}
	logger.Info().
		Uint64("records", view.Len()).
		Int("files", len(view.Files())).
		Int("batch_size", *batchSize).
		Uint64("batches_per_epoch", l.BatchesPerEpoch()).
		Msg("loader started")

	if err := run(ctx, l, *step); err != nil {
		l.Close()
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("interrupted")
			return
		}
		logger.Error().Str("kind", dataset.Kind(err)).Err(err).Msg("pipeline failed")
		os.Exit(1)
	}
	l.Close()

	s := l.Stats()
	logger.Info().
		Uint64("records_read", s.RecordsRead).
		Uint64("filtered", s.Filtered).
		Uint64("corrupt", s.Corrupt).
		Uint64("batches", s.Batches).
		Uint64("epochs", s.Epochs).
		Msg("done")
}

func run(ctx context.Context, l *loader.Loader, step time.Duration) error {
	logger := l.Config().Logger
	epoch := l.Config().StartEpoch
	var (
		batches, positions uint64
		features           int
		wait               time.Duration
		start              = time.Now()
	)
	for {
		t := time.Now()
		b, err := l.Next(ctx)
		wait += time.Since(t)
		switch {
		case err == nil:
			batches++
			positions += uint64(b.Size)
			features += b.TotalFeatures()
			if step > 0 {
				time.Sleep(step)
			}
		case errors.Is(err, loader.ErrEndOfEpoch):
			elapsed := time.Since(start).Seconds()
			logger.Info().
				Int("epoch", epoch).
				Uint64("batches", batches).
				Uint64("positions", positions).
				Float64("batches_per_sec", float64(batches)/elapsed).
				Float64("positions_per_sec", float64(positions)/elapsed).
				Float64("features_per_position", float64(features)/max(float64(positions), 1)).
				Dur("consumer_wait", wait).
				Msg("epoch complete")
			epoch++
			batches, positions, features, wait = 0, 0, 0, 0
			start = time.Now()
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}
