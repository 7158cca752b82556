package datatools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/freeeve/board768/internal/dataset"
	"github.com/freeeve/board768/internal/record"
)

// DefaultChunkRecords is the in-memory chunk size of the external shuffle
// (64 MiB of records).
const DefaultChunkRecords = 1 << 21

// ShuffleOptions configures Shuffle.
type ShuffleOptions struct {
	Seed         uint64
	ChunkRecords int    // records shuffled in memory at a time, default DefaultChunkRecords
	TempDir      string // spill directory, default next to the output
	Logger       zerolog.Logger
}

// Shuffle writes a random permutation of the records of inputs to output
// without holding the whole dataset in memory. Records are read in chunks,
// each chunk is shuffled in memory and spilled zstd-compressed to a
// temporary file, and the output is drawn from the chunks at random in
// proportion to what each has left. The result is deterministic for a seed.
func Shuffle(ctx context.Context, inputs []string, output string, opts ShuffleOptions) (uint64, error) {
	if opts.ChunkRecords <= 0 {
		opts.ChunkRecords = DefaultChunkRecords
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Dir(output)
	}
	log := opts.Logger
	start := time.Now()

	if err := dataset.CheckOutput(output, inputs...); err != nil {
		return 0, err
	}
	view, err := dataset.OpenView(inputs, dataset.Options{})
	if err != nil {
		return 0, err
	}
	defer view.Close()

	tmp, err := os.MkdirTemp(opts.TempDir, ".shuffle-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmp)

	chunks, err := spillChunks(ctx, view.Iterator(), tmp, opts)
	if err != nil {
		return 0, err
	}
	log.Info().
		Int("chunks", len(chunks)).
		Uint64("records", view.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("shuffle: chunks written")

	w, err := dataset.Create(output, view.FeatureSet())
	if err != nil {
		return 0, err
	}
	if err := drawChunks(ctx, chunks, w, opts.Seed); err != nil {
		w.Abort()
		return 0, err
	}
	count := w.Count()
	if err := w.Close(); err != nil {
		return 0, err
	}
	log.Info().
		Str("output", output).
		Uint64("records", count).
		Dur("elapsed", time.Since(start)).
		Msg("shuffle complete")
	return count, nil
}

type spillChunk struct {
	path    string
	records uint64
}

// spillChunks reads the input in chunks, shuffles each with a stream
// derived from the seed and the chunk number, and writes it as one zstd
// frame.
func spillChunks(ctx context.Context, it *dataset.Iterator, dir string, opts ShuffleOptions) ([]spillChunk, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()

	var (
		chunks []spillChunk
		buf    = make([]byte, 0, opts.ChunkRecords*record.Size)
		frame  []byte
	)
	flush := func() error {
		n := len(buf) / record.Size
		if n == 0 {
			return nil
		}
		rng := rand.New(rand.NewPCG(opts.Seed, uint64(len(chunks))))
		var tmp [record.Size]byte
		rng.Shuffle(n, func(i, j int) {
			a := buf[i*record.Size : (i+1)*record.Size]
			b := buf[j*record.Size : (j+1)*record.Size]
			copy(tmp[:], a)
			copy(a, b)
			copy(b, tmp[:])
		})
		frame = encoder.EncodeAll(buf, frame[:0])
		path := filepath.Join(dir, fmt.Sprintf("chunk-%05d.zst", len(chunks)))
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			return err
		}
		chunks = append(chunks, spillChunk{path: path, records: uint64(n)})
		buf = buf[:0]
		return nil
	}

	for n := uint64(0); ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw, err := it.NextRaw()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if _, err := record.Decode(raw); err != nil {
			return nil, dataset.RecordError(it.Path(), it.Index(), err)
		}
		buf = append(buf, raw...)
		if len(buf) == cap(buf) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return chunks, nil
}

type chunkReader struct {
	f   *os.File
	dec *zstd.Decoder
	br  *bufio.Reader
}

func (c *chunkReader) Close() {
	c.dec.Close()
	c.f.Close()
}

func drawChunks(ctx context.Context, chunks []spillChunk, w *dataset.Writer, seed uint64) error {
	readers := make([]*chunkReader, 0, len(chunks))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	remaining := make([]uint64, len(chunks))
	for i, c := range chunks {
		f, err := os.Open(c.path)
		if err != nil {
			return err
		}
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return err
		}
		readers = append(readers, &chunkReader{f: f, dec: dec, br: bufio.NewReader(dec)})
		remaining[i] = c.records
	}

	var raw [record.Size]byte
	return proportionalDraw(ctx, seed, remaining, func(src int) error {
		if _, err := io.ReadFull(readers[src].br, raw[:]); err != nil {
			return fmt.Errorf("read spill chunk %s: %w", chunks[src].path, err)
		}
		return w.Append(raw[:])
	})
}
