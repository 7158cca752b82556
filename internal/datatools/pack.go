package datatools

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/board768/internal/dataset"
)

// Pack writes a zstd-compressed copy of a dataset file for transport. The
// input is validated first. Packed files must be unpacked before use.
func Pack(input, output string) (dataset.Header, error) {
	if err := dataset.CheckOutput(output, input); err != nil {
		return dataset.Header{}, err
	}
	h, err := dataset.Validate(input)
	if err != nil {
		return h, err
	}
	in, err := os.Open(input)
	if err != nil {
		return h, err
	}
	defer in.Close()

	err = replaceFile(output, func(out *os.File) error {
		enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return err
		}
		if _, err := io.Copy(enc, bufio.NewReaderSize(in, 1<<20)); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
	return h, err
}

// Unpack restores a file written by Pack and validates the result. A
// result that does not validate never reaches output.
func Unpack(input, output string) (dataset.Header, error) {
	if err := dataset.CheckOutput(output, input); err != nil {
		return dataset.Header{}, err
	}
	in, err := os.Open(input)
	if err != nil {
		return dataset.Header{}, err
	}
	defer in.Close()

	dec, err := zstd.NewReader(bufio.NewReaderSize(in, 1<<20))
	if err != nil {
		return dataset.Header{}, err
	}
	defer dec.Close()

	var h dataset.Header
	err = replaceFile(output, func(out *os.File) error {
		if _, err := io.Copy(out, dec); err != nil {
			return err
		}
		if err := out.Sync(); err != nil {
			return err
		}
		h, err = dataset.Validate(out.Name())
		var fe *dataset.FileError
		if errors.As(err, &fe) {
			fe.Path = output
		}
		return err
	})
	return h, err
}

// replaceFile runs fill on a temporary file next to path and renames it
// over path only if fill succeeds.
func replaceFile(path string, fill func(*os.File) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := fill(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
