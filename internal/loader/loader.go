// Package loader turns a dataset into a stream of shuffled, encoded
// training batches.
//
// Each epoch's order comes from shuffle.Permutation and is split into one
// contiguous slice per worker. Workers read, decode, filter and encode
// their slice in order and hand vectors to a single assembler, which packs
// them into batches for the consumer. Both hand-offs are bounded channels,
// so a slow consumer stalls the workers instead of growing memory.
//
// Within a worker the slice order is reproducible for a given seed and
// worker count. Across workers vectors interleave in arrival order, so the
// global batch composition is not deterministic.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/record"
	"github.com/freeeve/board768/internal/shuffle"
)

var (
	// ErrEndOfEpoch is returned by Next once after each completed epoch.
	ErrEndOfEpoch = errors.New("end of epoch")

	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("loader closed")

	errNotStarted = errors.New("loader not started")
)

type itemKind uint8

const (
	itemBatch itemKind = iota
	itemEpochEnd
)

// item is what the consumer queue carries.
type item struct {
	kind  itemKind
	batch *Batch
	epoch int
}

// message is what the assembly queue carries: a vector, or an end-of-epoch
// marker sent once every worker of that epoch has finished.
type message struct {
	vec   *vector
	epoch int
	next  []uint32 // following epoch's order, for wrap padding
}

// locator is implemented by dataset.File and dataset.View and lets decode
// errors name the file and offset.
type locator interface {
	Locate(i uint64) (*dataset.File, uint64, error)
}

// Loader runs the batch pipeline.
type Loader struct {
	cfg   Config
	log   zerolog.Logger
	stats statsCollector
	pool  sync.Pool

	out  chan item
	done chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	err     error
	started bool
	closed  bool
}

// New validates cfg and applies defaults. Call Start to begin loading.
func New(cfg Config) (*Loader, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	l := &Loader{
		cfg:  cfg,
		log:  cfg.Logger,
		out:  make(chan item, cfg.QueueDepth),
		done: make(chan struct{}),
	}
	maxActive := cfg.FeatureSet.MaxActive()
	l.pool.New = func() any {
		v := &vector{}
		v.feat.Stm = make([]uint16, 0, maxActive)
		v.feat.Nstm = make([]uint16, 0, maxActive)
		return v
	}
	return l, nil
}

// Config returns the effective configuration after defaults.
func (l *Loader) Config() Config { return l.cfg }

// BatchesPerEpoch returns the batch count of an epoch before filtering.
func (l *Loader) BatchesPerEpoch() uint64 {
	return shuffle.BatchesPerEpoch(l.cfg.Source.Len(), l.cfg.BatchSize, l.cfg.Remainder)
}

// Stats returns a snapshot of the pipeline counters.
func (l *Loader) Stats() Stats { return l.stats.snapshot() }

// Start launches the workers and the assembler. Cancelling ctx stops the
// pipeline; Next then reports the context error.
func (l *Loader) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.started {
		l.mu.Unlock()
		return errors.New("loader already started")
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	l.log.Info().
		Uint64("records", l.cfg.Source.Len()).
		Str("feature_set", l.cfg.FeatureSet.Name()).
		Int("batch_size", l.cfg.BatchSize).
		Int("workers", l.cfg.Workers).
		Int("queue_depth", l.cfg.QueueDepth).
		Str("remainder", l.cfg.Remainder.String()).
		Int("epochs", l.cfg.Epochs).
		Msg("loader started")

	g, gctx := errgroup.WithContext(ctx)
	asm := make(chan message, l.cfg.AssemblyDepth)
	g.Go(func() error {
		defer close(asm)
		return l.fail(l.produce(gctx, asm))
	})
	g.Go(func() error {
		return l.fail(l.assemble(gctx, asm))
	})

	go func() {
		err := g.Wait()
		l.mu.Lock()
		if err != nil && l.err == nil && !l.closed {
			l.err = err
		}
		l.mu.Unlock()
		close(l.out)
		close(l.done)
	}()
	return nil
}

// fail records the first pipeline error so Next reports it ahead of any
// batches still queued.
func (l *Loader) fail(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil && !l.closed {
		l.err = err
		l.log.Error().Err(err).Msg("loader aborted")
	}
	return err
}

func (l *Loader) failure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.closed:
		return ErrClosed
	case !l.started:
		return errNotStarted
	default:
		return l.err
	}
}

// Next returns the next batch. It returns ErrEndOfEpoch after the last
// batch of each epoch, io.EOF once the final epoch is done, or the error
// that stopped the pipeline. A partially filled batch is never returned
// unless the remainder policy asks for one.
func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	if err := l.failure(); err != nil {
		return nil, err
	}
	select {
	case it, ok := <-l.out:
		if !ok {
			if err := l.failure(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		if it.kind == itemEpochEnd {
			return nil, ErrEndOfEpoch
		}
		return it.batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the pipeline and waits for every goroutine to exit. Queued
// batches are discarded.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started, cancel := l.started, l.cancel
	l.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	for range l.out {
	}
	<-l.done
	l.log.Debug().Uint64("batches", l.stats.batches.Load()).Msg("loader closed")
	return nil
}

// produce runs the epochs in sequence. The next epoch's order is built
// while the current one is being read.
func (l *Loader) produce(ctx context.Context, asm chan<- message) error {
	n := l.cfg.Source.Len()
	order, err := shuffle.Permutation(l.cfg.Seed, l.cfg.StartEpoch, n)
	if err != nil {
		return err
	}
	last := l.cfg.StartEpoch + l.cfg.Epochs
	for epoch := l.cfg.StartEpoch; l.cfg.Epochs == 0 || epoch < last; epoch++ {
		start := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		for w, slice := range shuffle.Partition(order, l.cfg.Workers) {
			g.Go(func() error {
				return l.work(gctx, w, slice, asm)
			})
		}
		next, nextErr := shuffle.Permutation(l.cfg.Seed, epoch+1, n)
		if err := g.Wait(); err != nil {
			return err
		}
		if nextErr != nil {
			return nextErr
		}

		m := message{epoch: epoch}
		if l.cfg.Remainder == shuffle.RemainderWrap {
			m.next = next
		}
		select {
		case asm <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
		l.log.Debug().
			Int("epoch", epoch).
			Dur("elapsed", time.Since(start)).
			Uint64("records_read", l.stats.recordsRead.Load()).
			Msg("epoch read")
		order = next
	}
	return nil
}

// work reads one worker's slice of the epoch order.
func (l *Loader) work(ctx context.Context, worker int, order []uint32, asm chan<- message) error {
	var (
		buf [record.Size]byte
		pos record.Position
	)
	for _, idx := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := l.load(uint64(idx), buf[:], &pos)
		if err != nil {
			return fmt.Errorf("worker %d: %w", worker, err)
		}
		if v == nil {
			continue
		}
		select {
		case asm <- message{vec: v}:
		case <-ctx.Done():
			l.pool.Put(v)
			return ctx.Err()
		}
	}
	return nil
}

// load reads, decodes, filters and encodes one record. It returns a nil
// vector for a filtered or skipped record.
func (l *Loader) load(idx uint64, buf []byte, pos *record.Position) (*vector, error) {
	if err := l.cfg.Source.ReadInto(idx, buf); err != nil {
		return nil, err
	}
	l.stats.recordsRead.Add(1)

	if err := record.DecodeInto(buf[:record.Size], pos); err != nil {
		err = l.locate(idx, err)
		if !l.cfg.SkipCorrupt {
			return nil, err
		}
		l.stats.corrupt.Add(1)
		l.log.Warn().Err(err).Uint64("index", idx).Msg("skipping corrupt record")
		return nil, nil
	}
	if l.cfg.Filter != nil && !l.cfg.Filter(pos) {
		l.stats.filtered.Add(1)
		return nil, nil
	}

	v := l.pool.Get().(*vector)
	if err := l.cfg.FeatureSet.Encode(pos, &v.feat); err != nil {
		l.pool.Put(v)
		return nil, l.locate(idx, err)
	}
	v.index = idx
	v.score = scoreTarget(pos)
	v.outcome = outcomeTarget(pos.Outcome)
	return v, nil
}

func (l *Loader) locate(idx uint64, err error) error {
	if loc, ok := l.cfg.Source.(locator); ok {
		if f, local, lerr := loc.Locate(idx); lerr == nil {
			return dataset.RecordError(f.Path(), local, err)
		}
	}
	return fmt.Errorf("record %d: %w", idx, err)
}

// assemble packs vectors into batches and applies the remainder policy at
// each epoch boundary.
func (l *Loader) assemble(ctx context.Context, asm <-chan message) error {
	bs := l.cfg.BatchSize
	maxActive := l.cfg.FeatureSet.MaxActive()
	batch := newBatch(bs, maxActive, l.cfg.StartEpoch)
	for {
		var (
			m  message
			ok bool
		)
		select {
		case m, ok = <-asm:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		if m.vec != nil {
			batch.add(m.vec)
			l.pool.Put(m.vec)
			if batch.Size == bs {
				if err := l.emit(ctx, item{kind: itemBatch, batch: batch}); err != nil {
					return err
				}
				batch = newBatch(bs, maxActive, batch.Epoch)
			}
			continue
		}

		if batch.Size > 0 {
			switch l.cfg.Remainder {
			case shuffle.RemainderPartial:
				if err := l.emit(ctx, item{kind: itemBatch, batch: batch}); err != nil {
					return err
				}
			case shuffle.RemainderWrap:
				if err := l.pad(ctx, batch, m.next); err != nil {
					return err
				}
				if err := l.emit(ctx, item{kind: itemBatch, batch: batch}); err != nil {
					return err
				}
			default:
				l.log.Debug().Int("epoch", m.epoch).Int("dropped", batch.Size).Msg("dropped partial batch")
			}
		}
		l.stats.epochs.Add(1)
		if err := l.emit(ctx, item{kind: itemEpochEnd, epoch: m.epoch}); err != nil {
			return err
		}
		batch = newBatch(bs, maxActive, m.epoch+1)
	}
}

// pad tops up the final batch of an epoch from the start of the next
// epoch's order, skipping records already in the batch. If the source is
// smaller than a batch the batch stays short.
func (l *Loader) pad(ctx context.Context, b *Batch, order []uint32) error {
	seen := make(map[uint64]struct{}, l.cfg.BatchSize)
	for _, idx := range b.Indices {
		seen[idx] = struct{}{}
	}
	var (
		buf [record.Size]byte
		pos record.Position
	)
	for _, i := range order {
		if b.Size == l.cfg.BatchSize {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := uint64(i)
		if _, dup := seen[idx]; dup {
			continue
		}
		v, err := l.load(idx, buf[:], &pos)
		if err != nil {
			return fmt.Errorf("padding: %w", err)
		}
		if v == nil {
			continue
		}
		b.add(v)
		l.pool.Put(v)
		seen[idx] = struct{}{}
	}
	return nil
}

func (l *Loader) emit(ctx context.Context, it item) error {
	select {
	case l.out <- it:
	case <-ctx.Done():
		return ctx.Err()
	}
	if it.kind == itemBatch {
		l.stats.batches.Add(1)
	}
	return nil
}
