package loader

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/features"
	"github.com/freeeve/board768/internal/shuffle"
)

// Source is a random-access record space. dataset.File and dataset.View
// both satisfy it.
type Source interface {
	Len() uint64
	FeatureSet() uint16
	ReadInto(i uint64, buf []byte) error
}

// Config configures a Loader. Zero values take the defaults noted below.
type Config struct {
	Source     Source
	FeatureSet features.FeatureSet // default: looked up from Source's tag

	BatchSize     int // required
	Workers       int // default runtime.NumCPU()
	QueueDepth    int // finished batches buffered for the consumer, default 4
	AssemblyDepth int // vectors buffered between workers and assembler, default BatchSize

	Seed       uint64
	Remainder  shuffle.RemainderPolicy
	Epochs     int // 0 streams forever, 1 is single-epoch mode
	StartEpoch int

	Filter      Filter // nil keeps every record
	SkipCorrupt bool   // log and skip corrupt records instead of aborting

	Logger zerolog.Logger
}

func (cfg Config) withDefaults() (Config, error) {
	if cfg.Source == nil {
		return cfg, errors.New("loader: no source")
	}
	if cfg.BatchSize <= 0 {
		return cfg, fmt.Errorf("loader: batch size %d must be positive", cfg.BatchSize)
	}
	if cfg.Workers < 0 || cfg.QueueDepth < 0 || cfg.AssemblyDepth < 0 || cfg.Epochs < 0 || cfg.StartEpoch < 0 {
		return cfg, errors.New("loader: negative count in config")
	}
	n := cfg.Source.Len()
	if n == 0 {
		return cfg, errors.New("loader: source has no records")
	}
	if n > math.MaxUint32 {
		return cfg, fmt.Errorf("loader: %d records exceed the shuffle limit", n)
	}
	switch cfg.Remainder {
	case shuffle.RemainderDrop, shuffle.RemainderPartial, shuffle.RemainderWrap:
	default:
		return cfg, fmt.Errorf("loader: unknown remainder policy %v", cfg.Remainder)
	}

	if cfg.FeatureSet == nil {
		fs, err := features.Lookup(cfg.Source.FeatureSet())
		if err != nil {
			return cfg, fmt.Errorf("loader: %w: %v", dataset.ErrUnsupportedFormat, err)
		}
		cfg.FeatureSet = fs
	} else if cfg.FeatureSet.Tag() != cfg.Source.FeatureSet() {
		return cfg, fmt.Errorf("loader: %w: source holds feature set %d, config wants %d (%s)",
			dataset.ErrUnsupportedFormat, cfg.Source.FeatureSet(), cfg.FeatureSet.Tag(), cfg.FeatureSet.Name())
	}

	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 4
	}
	if cfg.AssemblyDepth == 0 {
		cfg.AssemblyDepth = cfg.BatchSize
	}
	return cfg, nil
}
