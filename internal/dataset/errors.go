package dataset

import (
	"context"
	"errors"
	"fmt"

	"github.com/freeeve/board768/internal/record"
)

var (
	// ErrUnsupportedFormat is returned for a bad magic, version or record size.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrTruncated is returned when a file is shorter than its header.
	ErrTruncated = errors.New("truncated file")

	// ErrSizeMismatch is returned when the body is not a whole number of
	// records or disagrees with the header's record count.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrOutOfRange is returned for a record index past the end.
	ErrOutOfRange = errors.New("index out of range")

	// ErrSameFile is returned when an output path is also an input.
	ErrSameFile = errors.New("output is also an input")
)

// FileError attaches the offending file and position to an error.
type FileError struct {
	Path   string
	Offset int64 // byte offset in the file, -1 if not applicable
	Index  int64 // record index within the file, -1 for header errors
	Err    error
}

func (e *FileError) Error() string {
	switch {
	case e.Index >= 0:
		return fmt.Sprintf("%s: record %d (offset %d): %v", e.Path, e.Index, e.Offset, e.Err)
	case e.Offset >= 0:
		return fmt.Sprintf("%s: offset %d: %v", e.Path, e.Offset, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
}

func (e *FileError) Unwrap() error { return e.Err }

func headerError(path string, err error) error {
	return &FileError{Path: path, Offset: -1, Index: -1, Err: err}
}

// RecordError wraps err with the file position of record index.
func RecordError(path string, index uint64, err error) error {
	return &FileError{Path: path, Offset: recordOffset(index), Index: int64(index), Err: err}
}

// Kind names the error category of err for diagnostics. It returns "" for
// a nil error and "IO" for anything outside the dataset taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, ErrTruncated):
		return "Truncated"
	case errors.Is(err, ErrSizeMismatch):
		return "SizeMismatch"
	case errors.Is(err, record.ErrCorruptRecord):
		return "CorruptRecord"
	case errors.Is(err, ErrOutOfRange):
		return "OutOfRange"
	case errors.Is(err, record.ErrInvalidPosition):
		return "InvalidPosition"
	case errors.Is(err, ErrSameFile):
		return "SameFile"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	default:
		return "IO"
	}
}
