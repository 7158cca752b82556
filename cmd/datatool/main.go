// Command datatool authors Board768 dataset files: it converts text and
// PGN sources, merges, shuffles and interleaves datasets, and reports
// statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/datatools"
	"github.com/freeeve/board768/internal/eco"
	"github.com/freeeve/board768/internal/features"
	"github.com/freeeve/board768/internal/ingest"
	"github.com/freeeve/board768/internal/logx"
	"github.com/freeeve/board768/internal/record"
)

// errUsage marks command line mistakes; they exit with status 2.
var errUsage = errors.New("usage")

type command struct {
	summary string
	run     func(ctx context.Context, log zerolog.Logger, args []string) error
}

var commands = map[string]command{
	"convert":    {"convert text or PGN inputs to a dataset", runConvert},
	"merge":      {"concatenate datasets", runMerge},
	"shuffle":    {"shuffle datasets on disk", runShuffle},
	"interleave": {"interleave datasets at random, keeping each input's order", runInterleave},
	"stats":      {"print record, outcome and score statistics", runStats},
	"validate":   {"check headers and decode every record", runValidate},
	"show":       {"print records as boards", runShow},
	"annotate":   {"re-score records with a UCI engine", runAnnotate},
	"pack":       {"compress a dataset for transport", runPack},
	"unpack":     {"restore a packed dataset", runUnpack},
	"watch":      {"convert sources as they appear in a directory", runWatch},
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: datatool <command> [flags] [files]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-11s %s\n", name, commands[name].summary)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	logger := logx.NewLoggerTo(os.Stderr, logx.ParseLevel(os.Getenv("BOARD768_LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.run(ctx, logger.With().Str("command", os.Args[1]).Logger(), os.Args[2:])
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "datatool %s: %v\n", os.Args[1], err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", dataset.Kind(err), err)
		stop()
		os.Exit(1)
	}
}

// parseSize parses a size string like "512m", "4g", "1024" into bytes
func parseSize(s string) int64 {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "0" {
		return 0
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier = 1024
	case strings.HasSuffix(s, "m"):
		multiplier = 1024 * 1024
	case strings.HasSuffix(s, "g"):
		multiplier = 1024 * 1024 * 1024
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n * multiplier
}

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

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet("datatool "+name, flag.ContinueOnError)
}

// parse parses args and checks the positional argument count; max < 0
// means unbounded.
func parse(fs *flag.FlagSet, args []string, minArgs, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	n := fs.NArg()
	if n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		return fmt.Errorf("%w: want %s, got %d", errUsage, argCount(minArgs, maxArgs), n)
	}
	return nil
}

func argCount(lo, hi int) string {
	switch {
	case hi < 0:
		return fmt.Sprintf("at least %d file(s)", lo)
	case lo == hi:
		return fmt.Sprintf("%d file(s)", lo)
	default:
		return fmt.Sprintf("%d to %d files", lo, hi)
	}
}

func requireOutput(out string) error {
	if out == "" {
		return fmt.Errorf("%w: -o is required", errUsage)
	}
	return nil
}

func loadBook(dir string, log zerolog.Logger) (*eco.Database, error) {
	if dir == "" {
		return nil, nil
	}
	db := eco.NewDatabase()
	if err := db.LoadDir(dir); err != nil {
		return nil, err
	}
	log.Info().Int("openings", db.Count()).Str("dir", dir).Msg("ECO database loaded")
	return db, nil
}

func runConvert(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("convert")
	var (
		out         = fs.String("o", "", "output dataset")
		format      = fs.String("format", "", "input format: text or pgn (default: from file name)")
		workers     = fs.Int("workers", envInt("BOARD768_WORKERS", runtime.NumCPU()), "parse workers")
		chunk       = fs.Int("chunk", 0, "lines or games per work unit (0 = default)")
		minPly      = fs.Int("min-ply", 0, "pgn: skip positions before this ply")
		minRating   = fs.Int("min-rating", 0, "pgn: skip games with a player rated below this")
		skipInvalid = fs.Bool("skip-invalid", false, "skip unparsable lines instead of failing")
		quiet       = fs.Bool("quiet", false, "pgn: keep only positions not in check whose next move is not a capture")
		scored      = fs.Bool("scored", false, "pgn: keep only positions with an eval comment")
		normalOnly  = fs.Bool("normal-only", false, "pgn: skip games whose Termination is not normal")
		bookDir     = fs.String("book", "", "directory of ECO .tsv files; book positions are left out")
		featureSet  = fs.Uint("features", uint(features.Board768Tag), "feature set tag")
	)
	if err := parse(fs, args, 1, -1); err != nil {
		return err
	}
	if err := requireOutput(*out); err != nil {
		return err
	}
	switch *format {
	case "", datatools.FormatText, datatools.FormatPGN:
	default:
		return fmt.Errorf("%w: unknown format %q", errUsage, *format)
	}
	book, err := loadBook(*bookDir, log)
	if err != nil {
		return err
	}
	_, err = datatools.Convert(ctx, fs.Args(), *out, datatools.ConvertOptions{
		Format:      *format,
		FeatureSet:  uint16(*featureSet),
		Workers:     *workers,
		ChunkSize:   *chunk,
		MinPly:      *minPly,
		MinRating:   *minRating,
		SkipInvalid: *skipInvalid,
		QuietOnly:   *quiet,
		ScoredOnly:  *scored,
		Book:        book,
		Logger:      log,

		NormalTermination: *normalOnly,
	})
	return err
}

func runWatch(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("watch")
	var (
		out         = fs.String("o", "", "output directory (default <dir>/datasets)")
		workers     = fs.Int("workers", envInt("BOARD768_WORKERS", 1), "files converted in parallel")
		poll        = fs.Duration("poll", 10*time.Second, "poll interval")
		once        = fs.Bool("once", false, "process the current files and exit")
		minPly      = fs.Int("min-ply", 0, "pgn: skip positions before this ply")
		minRating   = fs.Int("min-rating", 0, "pgn: skip games with a player rated below this")
		skipInvalid = fs.Bool("skip-invalid", false, "skip unparsable lines instead of failing the file")
		quiet       = fs.Bool("quiet", false, "pgn: keep only positions not in check whose next move is not a capture")
		scored      = fs.Bool("scored", false, "pgn: keep only positions with an eval comment")
		normalOnly  = fs.Bool("normal-only", false, "pgn: skip games whose Termination is not normal")
		bookDir     = fs.String("book", "", "directory of ECO .tsv files; book positions are left out")
	)
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	book, err := loadBook(*bookDir, log)
	if err != nil {
		return err
	}
	w, err := ingest.NewWorker(ingest.Config{
		WatchDir:     fs.Arg(0),
		OutputDir:    *out,
		Workers:      *workers,
		PollInterval: *poll,
		Convert: datatools.ConvertOptions{
			FeatureSet:  features.Board768Tag,
			MinPly:      *minPly,
			MinRating:   *minRating,
			SkipInvalid: *skipInvalid,
			QuietOnly:   *quiet,
			ScoredOnly:  *scored,
			Book:        book,

			NormalTermination: *normalOnly,
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	if *once {
		res, err := w.ProcessNewFiles(ctx)
		if err == nil && res.Failed > 0 {
			err = fmt.Errorf("%d file(s) failed to convert", res.Failed)
		}
		return err
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runMerge(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("merge")
	out := fs.String("o", "", "output dataset")
	if err := parse(fs, args, 1, -1); err != nil {
		return err
	}
	if err := requireOutput(*out); err != nil {
		return err
	}
	n, err := datatools.Merge(ctx, fs.Args(), *out)
	if err != nil {
		return err
	}
	log.Info().Str("output", *out).Uint64("records", n).Int("inputs", fs.NArg()).Msg("merge complete")
	return nil
}

func runShuffle(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("shuffle")
	var (
		out      = fs.String("o", "", "output dataset")
		seed     = fs.Uint64("seed", envUint64("BOARD768_SEED", 0), "shuffle seed")
		chunkMem = fs.String("chunk-mem", "64m", "memory per in-memory chunk (e.g. 256m, 1g)")
		tmpDir   = fs.String("tmp", "", "spill directory (default: next to the output)")
	)
	if err := parse(fs, args, 1, -1); err != nil {
		return err
	}
	if err := requireOutput(*out); err != nil {
		return err
	}
	chunkRecords := parseSize(*chunkMem) / record.Size
	if chunkRecords <= 0 {
		return fmt.Errorf("%w: bad -chunk-mem %q", errUsage, *chunkMem)
	}
	_, err := datatools.Shuffle(ctx, fs.Args(), *out, datatools.ShuffleOptions{
		Seed:         *seed,
		ChunkRecords: int(chunkRecords),
		TempDir:      *tmpDir,
		Logger:       log,
	})
	return err
}

func runInterleave(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("interleave")
	var (
		out  = fs.String("o", "", "output dataset")
		seed = fs.Uint64("seed", envUint64("BOARD768_SEED", 0), "draw seed")
	)
	if err := parse(fs, args, 1, -1); err != nil {
		return err
	}
	if err := requireOutput(*out); err != nil {
		return err
	}
	n, err := datatools.Interleave(ctx, fs.Args(), *out, *seed)
	if err != nil {
		return err
	}
	log.Info().Str("output", *out).Uint64("records", n).Int("inputs", fs.NArg()).Msg("interleave complete")
	return nil
}

func runStats(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("stats")
	var (
		bucket = fs.Int("bucket", 100, "score histogram bucket width (cp)")
		sample = fs.Int("sample", 1<<20, "scores sampled for mean, stddev and quantiles")
		plot   = fs.String("plot", "", "write a PNG score histogram to this path")
	)
	if err := parse(fs, args, 1, -1); err != nil {
		return err
	}
	for _, path := range fs.Args() {
		s, err := datatools.ComputeStats(ctx, path, datatools.StatsOptions{
			BucketWidth: *bucket,
			SampleSize:  *sample,
			PlotPath:    *plot,
			Logger:      log,
		})
		if err != nil {
			return err
		}
		if err := datatools.WriteStats(os.Stdout, s); err != nil {
			return err
		}
	}
	return nil
}

func runValidate(_ context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("validate")
	if err := parse(fs, args, 1, -1); err != nil {
		return err
	}
	for _, path := range fs.Args() {
		h, err := dataset.Validate(path)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("tag %d", h.FeatureSet)
		if fset, err := features.Lookup(h.FeatureSet); err == nil {
			name = fset.Name()
		}
		fmt.Printf("%s: ok, %d records, feature set %s\n", path, h.RecordCount, name)
	}
	log.Debug().Int("files", fs.NArg()).Msg("validate complete")
	return nil
}

func runShow(_ context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("show")
	var (
		count   = fs.Int("n", 5, "random records to show")
		seed    = fs.Uint64("seed", envUint64("BOARD768_SEED", 0), "sampling seed")
		index   = fs.String("index", "", "comma separated record indices (overrides -n)")
		bookDir = fs.String("book", "", "directory of ECO .tsv files for opening names")
	)
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	var indices []uint64
	if *index != "" {
		for _, s := range strings.Split(*index, ",") {
			i, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad index %q", errUsage, s)
			}
			indices = append(indices, i)
		}
	}
	book, err := loadBook(*bookDir, log)
	if err != nil {
		return err
	}
	return datatools.Show(fs.Arg(0), datatools.ShowOptions{
		Indices: indices,
		Count:   *count,
		Seed:    *seed,
		Book:    book,
	}, os.Stdout)
}

func runAnnotate(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("annotate")
	var (
		out         = fs.String("o", "", "output dataset")
		engine      = fs.String("stockfish", os.Getenv("STOCKFISH_PATH"), "path to a UCI engine (default $STOCKFISH_PATH)")
		depth       = fs.Int("depth", 10, "search depth")
		threads     = fs.Int("threads", 1, "engine threads per worker")
		hash        = fs.Int("hash", 16, "engine hash MB per worker")
		workers     = fs.Int("workers", envInt("BOARD768_WORKERS", 1), "engine processes")
		nice        = fs.Int("nice", 0, "nice value for engine processes (0=disabled)")
		mate        = fs.Int("mate-score", datatools.DefaultMateScore, "score stored for forced mates")
		onlyMissing = fs.Bool("only-missing", false, "evaluate unscored records only")
	)
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	if err := requireOutput(*out); err != nil {
		return err
	}
	if *engine == "" {
		return fmt.Errorf("%w: -stockfish or STOCKFISH_PATH is required", errUsage)
	}
	_, err := datatools.Annotate(ctx, fs.Arg(0), *out, datatools.AnnotateOptions{
		EnginePath:  *engine,
		Depth:       *depth,
		Threads:     *threads,
		HashMB:      *hash,
		Nice:        *nice,
		Workers:     *workers,
		MateScore:   *mate,
		OnlyMissing: *onlyMissing,
		Logger:      log,
	})
	return err
}

func runPack(_ context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("pack")
	out := fs.String("o", "", "output file (conventionally <input>.zst)")
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	if *out == "" {
		*out = fs.Arg(0) + ".zst"
	}
	h, err := datatools.Pack(fs.Arg(0), *out)
	if err != nil {
		return err
	}
	log.Info().Str("output", *out).Uint64("records", h.RecordCount).Msg("pack complete")
	return nil
}

func runUnpack(_ context.Context, log zerolog.Logger, args []string) error {
	fs := newFlags("unpack")
	out := fs.String("o", "", "output dataset (default: input without .zst)")
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	if *out == "" {
		if !strings.HasSuffix(fs.Arg(0), ".zst") {
			return fmt.Errorf("%w: -o is required when the input does not end in .zst", errUsage)
		}
		*out = strings.TrimSuffix(fs.Arg(0), ".zst")
	}
	h, err := datatools.Unpack(fs.Arg(0), *out)
	if err != nil {
		return err
	}
	log.Info().Str("output", *out).Uint64("records", h.RecordCount).Msg("unpack complete")
	return nil
}
