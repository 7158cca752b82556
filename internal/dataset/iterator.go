package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/freeeve/board768/internal/record"
)

const iteratorBufferSize = 1 << 16

// Iterator scans records sequentially through a read buffer. It does not
// own the files it reads. To restart a scan, create a new iterator.
type Iterator struct {
	files []*File
	file  int
	index uint64 // index of the next record within files[file]
	br    *bufio.Reader
	buf   [record.Size]byte

	lastPath  string
	lastIndex uint64
}

func newIterator(files []*File) *Iterator {
	return &Iterator{files: files}
}

// NextRaw returns the raw bytes of the next record. The returned slice is
// only valid until the following call. It returns io.EOF after the last
// record.
func (it *Iterator) NextRaw() ([]byte, error) {
	for {
		if it.file >= len(it.files) {
			return nil, io.EOF
		}
		f := it.files[it.file]
		if it.index >= f.Len() {
			it.file++
			it.index = 0
			it.br = nil
			continue
		}
		if it.br == nil {
			body := int64(f.Len()) * record.Size
			it.br = bufio.NewReaderSize(io.NewSectionReader(f.r, HeaderSize, body), iteratorBufferSize)
		}
		i := it.index
		it.index++
		it.lastPath, it.lastIndex = f.path, i
		if _, err := io.ReadFull(it.br, it.buf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = fmt.Errorf("%w: file ended early", ErrSizeMismatch)
			}
			return nil, RecordError(f.path, i, err)
		}
		return it.buf[:], nil
	}
}

// Next decodes the next record. A corrupt record is reported as an error
// wrapping record.ErrCorruptRecord; the iterator moves past it, so the
// caller may keep scanning.
func (it *Iterator) Next() (record.Position, error) {
	raw, err := it.NextRaw()
	if err != nil {
		return record.Position{}, err
	}
	p, err := record.Decode(raw)
	if err != nil {
		return p, RecordError(it.lastPath, it.lastIndex, err)
	}
	return p, nil
}

// Offset returns the byte offset, within its file, of the record most
// recently returned.
func (it *Iterator) Offset() int64 {
	return recordOffset(it.lastIndex)
}

// Index returns the index, within its file, of the record most recently
// returned.
func (it *Iterator) Index() uint64 {
	return it.lastIndex
}

// Path returns the file of the record most recently returned.
func (it *Iterator) Path() string {
	return it.lastPath
}
