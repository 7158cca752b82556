// Package ingest watches a folder for new PGN and text sources and turns
// each one into a dataset file.
package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/board768/internal/datatools"
)

// Config configures the ingest worker.
type Config struct {
	WatchDir     string        // Directory to watch for source files
	OutputDir    string        // Where dataset files are written, default WatchDir/datasets
	ProcessedDir string        // Directory to move converted sources to
	FailedDir    string        // Directory to move sources that failed to convert
	Workers      int           // Files converted in parallel, default 1
	PollInterval time.Duration // How often to check for new files

	// Convert is passed to datatools.Convert for every file. Format and
	// Logger are set per file.
	Convert datatools.ConvertOptions

	Logger zerolog.Logger
}

// Worker watches a folder and converts source files.
type Worker struct {
	cfg Config
	log zerolog.Logger
}

// NewWorker creates a new ingest worker. It returns nil when no watch
// directory is configured.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.WatchDir == "" {
		return nil, nil // Disabled
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(cfg.WatchDir, "datasets")
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.WatchDir, "processed")
	}
	if cfg.FailedDir == "" {
		cfg.FailedDir = filepath.Join(cfg.WatchDir, "failed")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}

	for _, dir := range []string{cfg.WatchDir, cfg.OutputDir, cfg.ProcessedDir, cfg.FailedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return &Worker{
		cfg: cfg,
		log: cfg.Logger,
	}, nil
}

// Run polls the watch directory until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Str("watch_dir", w.cfg.WatchDir).
		Str("output_dir", w.cfg.OutputDir).
		Dur("poll", w.cfg.PollInterval).
		Msg("ingest worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessNewFiles(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn().Err(err).Msg("process files failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Result reports one pass over the watch directory.
type Result struct {
	Processed int
	Failed    int
	Records   uint64
}

// ProcessNewFiles converts every source file currently in the watch
// directory, Workers at a time. Converted sources move to ProcessedDir,
// failed ones to FailedDir so they are not retried.
func (w *Worker) ProcessNewFiles(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	entries, err := os.ReadDir(w.cfg.WatchDir)
	if err != nil {
		return Result{}, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isSourceFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return Result{}, nil
	}

	// Sort by name to process in order
	sort.Strings(names)

	// Sources sharing a dataset name wait for a later pass so two
	// conversions never write the same output.
	var files []string
	outputs := make(map[string]string, len(names))
	for _, name := range names {
		out := DatasetName(name)
		if first, ok := outputs[out]; ok {
			w.log.Warn().Str("file", name).Str("conflicts_with", first).Str("output", out).Msg("deferring file with same dataset name")
			continue
		}
		outputs[out] = name
		files = append(files, name)
	}
	w.log.Info().Int("files", len(files)).Int("workers", w.cfg.Workers).Msg("found source files")

	type fileResult struct {
		name    string
		records uint64
		err     error
	}

	fileChan := make(chan string, len(files))
	resultChan := make(chan fileResult, len(files))

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for name := range fileChan {
				if err := ctx.Err(); err != nil {
					resultChan <- fileResult{name: name, err: err}
					continue
				}
				records, err := w.processFile(ctx, workerID, name)
				resultChan <- fileResult{name: name, records: records, err: err}
			}
		}(i)
	}

	for _, name := range files {
		fileChan <- name
	}
	close(fileChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var res Result
	for r := range resultChan {
		src := filepath.Join(w.cfg.WatchDir, r.name)
		if r.err != nil {
			if errors.Is(r.err, context.Canceled) {
				continue // retried on the next run
			}
			w.log.Error().Err(r.err).Str("file", r.name).Msg("ingest failed")
			res.Failed++
			if err := os.Rename(src, filepath.Join(w.cfg.FailedDir, r.name)); err != nil {
				w.log.Warn().Err(err).Str("file", r.name).Msg("move to failed failed")
			}
			continue
		}

		if err := os.Rename(src, filepath.Join(w.cfg.ProcessedDir, r.name)); err != nil {
			w.log.Warn().Err(err).Str("file", r.name).Msg("move to processed failed")
		}
		res.Processed++
		res.Records += r.records
	}

	w.log.Info().
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Uint64("records", res.Records).
		Msg("batch complete")
	return res, ctx.Err()
}

// processFile converts one source into OutputDir/<name>.dtfb.
func (w *Worker) processFile(ctx context.Context, workerID int, name string) (uint64, error) {
	log := w.log.With().Str("file", name).Int("worker", workerID).Logger()
	log.Info().Msg("starting file ingest")

	opts := w.cfg.Convert
	opts.Format = "" // detected from the file name
	opts.Logger = log
	out := filepath.Join(w.cfg.OutputDir, DatasetName(name))
	res, err := datatools.Convert(ctx, []string{filepath.Join(w.cfg.WatchDir, name)}, out, opts)
	if err != nil {
		return 0, err
	}
	return res.Records, nil
}

// DatasetName maps a source file name to its dataset file name. The
// source extension is kept so "games.pgn" and "games.txt" do not collide;
// "games.pgn.zst" becomes "games.pgn.dtfb".
func DatasetName(name string) string {
	return sourceBase(name) + ".dtfb"
}

// sourceBase strips a compression suffix.
func sourceBase(name string) string {
	for _, ext := range []string{".zst", ".zstd", ".xz"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

func isSourceFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch filepath.Ext(sourceBase(name)) {
	case ".pgn", ".txt":
		return true
	}
	return false
}
