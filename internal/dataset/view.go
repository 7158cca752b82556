package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/freeeve/board768/internal/record"
)

// View addresses several files as one record space. Record indices run
// through the files in order, so index 0 of the second file follows the
// last record of the first. A View is read-only and safe for concurrent use.
type View struct {
	files  []*File
	starts []uint64 // starts[i] is the global index of files[i]'s first record
	total  uint64
	owned  bool
}

// NewView composes already open files. The caller keeps ownership of the
// files; Close on the view does not close them.
func NewView(files ...*File) (*View, error) {
	if len(files) == 0 {
		return nil, errors.New("view needs at least one file")
	}
	v := &View{
		files:  files,
		starts: make([]uint64, len(files)),
	}
	tag := files[0].FeatureSet()
	for i, f := range files {
		if f.FeatureSet() != tag {
			return nil, headerError(f.path, fmt.Errorf("%w: feature set %d, view uses %d", ErrUnsupportedFormat, f.FeatureSet(), tag))
		}
		v.starts[i] = v.total
		v.total += f.Len()
	}
	return v, nil
}

// OpenView opens every path and composes them. The view owns the files.
func OpenView(paths []string, opts Options) (*View, error) {
	files := make([]*File, 0, len(paths))
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, path := range paths {
		f, err := OpenWith(path, opts)
		if err != nil {
			closeAll()
			return nil, err
		}
		files = append(files, f)
	}
	v, err := NewView(files...)
	if err != nil {
		closeAll()
		return nil, err
	}
	v.owned = true
	return v, nil
}

// Len returns the total record count across all files.
func (v *View) Len() uint64 { return v.total }

// FeatureSet returns the shared feature-set tag.
func (v *View) FeatureSet() uint16 { return v.files[0].FeatureSet() }

// Files returns the composed files in index order.
func (v *View) Files() []*File {
	out := make([]*File, len(v.files))
	copy(out, v.files)
	return out
}

// Locate maps a global index to a file and an index within that file.
func (v *View) Locate(i uint64) (*File, uint64, error) {
	if i >= v.total {
		return nil, 0, fmt.Errorf("%w: %d >= %d", ErrOutOfRange, i, v.total)
	}
	// last file starting at or before i; empty files never qualify
	n := sort.Search(len(v.starts), func(k int) bool {
		return v.starts[k] > i
	}) - 1
	return v.files[n], i - v.starts[n], nil
}

// Read returns a copy of the raw bytes of global record i.
func (v *View) Read(i uint64) ([]byte, error) {
	buf := make([]byte, record.Size)
	if err := v.ReadInto(i, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInto reads global record i into buf.
func (v *View) ReadInto(i uint64, buf []byte) error {
	f, local, err := v.Locate(i)
	if err != nil {
		return err
	}
	return f.ReadInto(local, buf)
}

// ReadPosition reads and decodes global record i.
func (v *View) ReadPosition(i uint64) (record.Position, error) {
	f, local, err := v.Locate(i)
	if err != nil {
		return record.Position{}, err
	}
	return f.ReadPosition(local)
}

// Iterator scans every file of the view in index order.
func (v *View) Iterator() *Iterator {
	return newIterator(v.files)
}

// Close closes the files if the view opened them.
func (v *View) Close() error {
	if !v.owned {
		return nil
	}
	var first error
	for _, f := range v.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
