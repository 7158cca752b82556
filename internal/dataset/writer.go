package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/freeeve/board768/internal/record"
)

const writerBufferSize = 1 << 20

// Writer appends records to a new dataset file. Records cannot be changed
// or removed once written; the header count is finalized by Close.
//
// Records go to a temporary file next to path. Close renames it into
// place, so an existing file at path is untouched until then.
type Writer struct {
	path   string
	tmp    string
	f      *os.File
	bw     *bufio.Writer
	header Header
	buf    [record.Size]byte
	closed bool
}

// Create starts a dataset that will replace path on Close and writes a
// provisional header.
func Create(path string, featureSet uint16) (*Writer, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, err
	}
	w := &Writer{
		path:   path,
		tmp:    f.Name(),
		f:      f,
		bw:     bufio.NewWriterSize(f, writerBufferSize),
		header: NewHeader(featureSet),
	}
	if _, err := w.bw.Write(encodeHeader(&w.header)); err != nil {
		f.Close()
		os.Remove(w.tmp)
		return nil, err
	}
	return w, nil
}

// Path returns the output path.
func (w *Writer) Path() string { return w.path }

// Count returns the number of records appended so far.
func (w *Writer) Count() uint64 { return w.header.RecordCount }

// Append writes one raw record. The bytes are decoded first so a corrupt
// record never reaches the file.
func (w *Writer) Append(raw []byte) error {
	if w.closed {
		return fmt.Errorf("%s: append to closed writer", w.path)
	}
	if _, err := record.Decode(raw); err != nil {
		return RecordError(w.path, w.header.RecordCount, err)
	}
	if _, err := w.bw.Write(raw); err != nil {
		return err
	}
	w.header.RecordCount++
	return nil
}

// AppendPosition encodes and writes one position.
func (w *Writer) AppendPosition(p *record.Position) error {
	if w.closed {
		return fmt.Errorf("%s: append to closed writer", w.path)
	}
	if err := record.EncodeTo(w.buf[:], p); err != nil {
		return RecordError(w.path, w.header.RecordCount, err)
	}
	if _, err := w.bw.Write(w.buf[:]); err != nil {
		return err
	}
	w.header.RecordCount++
	return nil
}

// Close flushes buffered records, rewrites the header with the final
// count, syncs the file and moves it to the output path.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.finish(); err != nil {
		os.Remove(w.tmp)
		return err
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return err
	}
	return nil
}

func (w *Writer) finish() error {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return err
	}
	if _, err := w.f.WriteAt(encodeHeader(&w.header), 0); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Chmod(0o644); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Abort discards the records written so far. The output path is never
// touched.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.f.Close()
	return os.Remove(w.tmp)
}

// CheckOutput rejects an output path that names the same file as one of
// inputs.
func CheckOutput(output string, inputs ...string) error {
	out, err := os.Stat(output)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, in := range inputs {
		fi, err := os.Stat(in)
		if err != nil {
			continue
		}
		if os.SameFile(out, fi) {
			return &FileError{Path: output, Offset: -1, Index: -1, Err: ErrSameFile}
		}
	}
	return nil
}
