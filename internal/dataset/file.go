package dataset

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/freeeve/board768/internal/record"
)

// Options controls how a dataset file is opened.
type Options struct {
	// MemoryMap maps the file read-only instead of issuing a pread per record.
	MemoryMap bool
}

type readerAtCloser interface {
	io.ReaderAt
	io.Closer
}

// File is an open, validated dataset file.
type File struct {
	path   string
	header Header
	r      readerAtCloser
}

// Open opens a dataset file for random access.
func Open(path string) (*File, error) {
	return OpenWith(path, Options{})
}

// OpenWith opens a dataset file with the given options. The header is
// checked against the file size before any record is read.
func OpenWith(path string, opts Options) (*File, error) {
	var (
		r    readerAtCloser
		size int64
	)
	if opts.MemoryMap {
		m, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		r, size = m, int64(m.Len())
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		r, size = f, st.Size()
	}

	header, err := checkLayout(r, size)
	if err != nil {
		r.Close()
		return nil, headerError(path, err)
	}
	return &File{path: path, header: header, r: r}, nil
}

func checkLayout(r io.ReaderAt, size int64) (Header, error) {
	if size < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, size, HeaderSize)
	}
	header, err := ReadHeader(io.NewSectionReader(r, 0, HeaderSize))
	if err != nil {
		return Header{}, err
	}
	body := size - HeaderSize
	if body%record.Size != 0 {
		return Header{}, fmt.Errorf("%w: body of %d bytes is not a multiple of %d", ErrSizeMismatch, body, record.Size)
	}
	if n := uint64(body / record.Size); n != header.RecordCount {
		return Header{}, fmt.Errorf("%w: header declares %d records, body holds %d", ErrSizeMismatch, header.RecordCount, n)
	}
	return header, nil
}

// Path returns the path the file was opened from.
func (f *File) Path() string { return f.path }

// Header returns the file header.
func (f *File) Header() Header { return f.header }

// FeatureSet returns the feature-set tag from the header.
func (f *File) FeatureSet() uint16 { return f.header.FeatureSet }

// Len returns the number of records.
func (f *File) Len() uint64 { return f.header.RecordCount }

// Read returns a copy of the raw bytes of record i.
func (f *File) Read(i uint64) ([]byte, error) {
	buf := make([]byte, record.Size)
	if err := f.ReadInto(i, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInto reads the raw bytes of record i into buf, which must hold at
// least record.Size bytes.
func (f *File) ReadInto(i uint64, buf []byte) error {
	if i >= f.header.RecordCount {
		return RecordError(f.path, i, fmt.Errorf("%w: %d >= %d", ErrOutOfRange, i, f.header.RecordCount))
	}
	if len(buf) < record.Size {
		return fmt.Errorf("read buffer too small: %d < %d", len(buf), record.Size)
	}
	if _, err := f.r.ReadAt(buf[:record.Size], recordOffset(i)); err != nil {
		return RecordError(f.path, i, err)
	}
	return nil
}

// ReadPosition reads and decodes record i.
func (f *File) ReadPosition(i uint64) (record.Position, error) {
	var buf [record.Size]byte
	if err := f.ReadInto(i, buf[:]); err != nil {
		return record.Position{}, err
	}
	p, err := record.Decode(buf[:])
	if err != nil {
		return p, RecordError(f.path, i, err)
	}
	return p, nil
}

// Locate maps i to a file and local index. For a single file that is the
// file itself, which lets File and View be used interchangeably.
func (f *File) Locate(i uint64) (*File, uint64, error) {
	if i >= f.header.RecordCount {
		return nil, 0, fmt.Errorf("%w: %d >= %d", ErrOutOfRange, i, f.header.RecordCount)
	}
	return f, i, nil
}

// Iterator returns a sequential iterator starting at the first record.
func (f *File) Iterator() *Iterator {
	return newIterator([]*File{f})
}

// Close releases the underlying file or mapping.
func (f *File) Close() error {
	return f.r.Close()
}
