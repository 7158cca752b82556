package datatools

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type multiCloser struct {
	io.Reader
	closers []func() error
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openInput opens a text input, transparently decompressing .zst and .xz.
func openInput(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &multiCloser{Reader: dec, closers: []func() error{
			func() error { dec.Close(); return nil },
			f.Close,
		}}, nil
	case ".xz":
		r, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &multiCloser{Reader: r, closers: []func() error{f.Close}}, nil
	default:
		return f, nil
	}
}

// baseName strips compression suffixes, so "games.pgn.zst" gives "games.pgn".
func baseName(path string) string {
	name := strings.ToLower(filepath.Base(path))
	for _, ext := range []string{".zst", ".zstd", ".xz"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}
