package datatools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/record"
)

// StatsOptions configures Stats.
type StatsOptions struct {
	BucketWidth int    // score histogram bucket width in centipawns, default 100
	SampleSize  int    // scores kept for moments and quantiles, default 1<<20
	PlotPath    string // write a PNG histogram of the sampled scores when set
	Logger      zerolog.Logger
}

// Bucket is one score histogram bucket covering [Lo, Hi).
type Bucket struct {
	Lo, Hi int
	Count  uint64
}

// Quantile is a score quantile.
type Quantile struct {
	P     float64
	Value float64
}

// Stats summarizes a dataset.
type Stats struct {
	Path       string
	FeatureSet uint16
	Records    uint64
	Outcomes   [3]uint64 // indexed by record.Outcome, side to move
	Scored     uint64
	Histogram  []Bucket
	Mean       float64 // over sampled scores
	StdDev     float64
	Quantiles  []Quantile
	MinPly     int
	MaxPly     int
	Pieces     [record.MaxPieces + 1]uint64 // records by piece count
}

var statsQuantiles = []float64{0.01, 0.05, 0.25, 0.5, 0.75, 0.95, 0.99}

// ComputeStats scans path once. Every record counts toward the outcome,
// ply, piece and histogram totals; mean, deviation and quantiles come from
// a uniform sample of at most SampleSize scores, which is exact for
// smaller files.
func ComputeStats(ctx context.Context, path string, opts StatsOptions) (Stats, error) {
	if opts.BucketWidth <= 0 {
		opts.BucketWidth = 100
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 1 << 20
	}

	f, err := dataset.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()

	s := Stats{
		Path:       path,
		FeatureSet: f.FeatureSet(),
		MinPly:     math.MaxInt,
	}
	buckets := make(map[int]uint64)
	sample := make([]float64, 0, min(uint64(opts.SampleSize), f.Len()))
	rng := rand.New(rand.NewPCG(uint64(f.Len()), drawSeedMix))

	it := f.Iterator()
	for n := uint64(0); ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return s, err
			}
		}
		p, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s, err
		}
		s.Records++
		s.Outcomes[p.Outcome]++
		s.Pieces[p.PieceCount()]++
		ply := p.Ply()
		s.MinPly = min(s.MinPly, ply)
		s.MaxPly = max(s.MaxPly, ply)
		if !p.HasScore() {
			continue
		}
		s.Scored++
		score := int(p.Score)
		buckets[floorDiv(score, opts.BucketWidth)]++

		// reservoir sampling
		if len(sample) < opts.SampleSize {
			sample = append(sample, float64(score))
		} else if j := rng.Uint64N(s.Scored); j < uint64(opts.SampleSize) {
			sample[j] = float64(score)
		}
	}
	if s.Records == 0 {
		s.MinPly = 0
	}

	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		s.Histogram = append(s.Histogram, Bucket{
			Lo:    k * opts.BucketWidth,
			Hi:    (k + 1) * opts.BucketWidth,
			Count: buckets[k],
		})
	}

	if len(sample) > 0 {
		sort.Float64s(sample)
		s.Mean, s.StdDev = stat.MeanStdDev(sample, nil)
		if len(sample) == 1 {
			s.StdDev = 0
		}
		for _, q := range statsQuantiles {
			s.Quantiles = append(s.Quantiles, Quantile{P: q, Value: stat.Quantile(q, stat.Empirical, sample, nil)})
		}
	}

	if opts.PlotPath != "" {
		if err := plotScores(sample, opts, opts.PlotPath); err != nil {
			return s, fmt.Errorf("plot: %w", err)
		}
		opts.Logger.Info().Str("path", opts.PlotPath).Msg("wrote score histogram")
	}
	return s, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

func plotScores(sample []float64, opts StatsOptions, path string) error {
	if len(sample) == 0 {
		return errors.New("no scored records")
	}
	p := plot.New()
	p.Title.Text = "Score distribution"
	p.X.Label.Text = "score (cp, side to move)"
	p.Y.Label.Text = "records"

	lo, hi := sample[0], sample[len(sample)-1]
	bins := int(math.Ceil((hi - lo) / float64(opts.BucketWidth)))
	bins = min(max(bins, 1), 400)
	h, err := plotter.NewHist(plotter.Values(sample), bins)
	if err != nil {
		return err
	}
	p.Add(h)
	p.Add(plotter.NewGrid())
	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

// WriteStats prints s in a readable form.
func WriteStats(w io.Writer, s Stats) error {
	ew := &errWriter{w: w}
	ew.printf("file:        %s\n", s.Path)
	ew.printf("feature set: %d\n", s.FeatureSet)
	ew.printf("records:     %d\n", s.Records)
	if s.Records == 0 {
		return ew.err
	}
	ew.printf("outcomes:    win %d (%.1f%%)  draw %d (%.1f%%)  loss %d (%.1f%%)\n",
		s.Outcomes[record.Win], pct(s.Outcomes[record.Win], s.Records),
		s.Outcomes[record.Draw], pct(s.Outcomes[record.Draw], s.Records),
		s.Outcomes[record.Loss], pct(s.Outcomes[record.Loss], s.Records))
	ew.printf("ply:         %d..%d\n", s.MinPly, s.MaxPly)
	ew.printf("scored:      %d (%.1f%%)\n", s.Scored, pct(s.Scored, s.Records))
	if s.Scored > 0 {
		ew.printf("score:       mean %.1f  stddev %.1f\n", s.Mean, s.StdDev)
		for _, q := range s.Quantiles {
			ew.printf("  p%-4g %8.0f\n", q.P*100, q.Value)
		}
		ew.printf("histogram:\n")
		for _, b := range s.Histogram {
			ew.printf("  [%6d, %6d) %d\n", b.Lo, b.Hi, b.Count)
		}
	}
	ew.printf("pieces:\n")
	for n, c := range s.Pieces {
		if c > 0 {
			ew.printf("  %2d %d\n", n, c)
		}
	}
	return ew.err
}

func pct(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

// errWriter keeps the first write error so printing code stays linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
