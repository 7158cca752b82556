package dataset

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/freeeve/board768/internal/record"
)

const (
	Magic      = "DTFB"
	Version    = 1
	HeaderSize = 32
)

// Header is the fixed file header.
type Header struct {
	Version     uint16
	FeatureSet  uint16
	RecordSize  uint32
	Flags       uint32
	RecordCount uint64
}

// NewHeader returns a header for an empty file of the given feature set.
func NewHeader(featureSet uint16) Header {
	return Header{
		Version:    Version,
		FeatureSet: featureSet,
		RecordSize: record.Size,
	}
}

func encodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.FeatureSet)
	binary.LittleEndian.PutUint32(buf[8:12], h.RecordSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.RecordCount)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("%w: header is %d bytes", ErrTruncated, len(buf))
	}
	if string(buf[0:4]) != Magic {
		return h, fmt.Errorf("%w: invalid magic %q", ErrUnsupportedFormat, buf[0:4])
	}
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	if h.Version != Version {
		return h, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, h.Version)
	}
	h.FeatureSet = binary.LittleEndian.Uint16(buf[6:8])
	h.RecordSize = binary.LittleEndian.Uint32(buf[8:12])
	if h.RecordSize != record.Size {
		return h, fmt.Errorf("%w: record size %d, want %d", ErrUnsupportedFormat, h.RecordSize, record.Size)
	}
	h.Flags = binary.LittleEndian.Uint32(buf[12:16])
	h.RecordCount = binary.LittleEndian.Uint64(buf[16:24])
	return h, nil
}

// ReadHeader reads and validates just the header of a dataset file.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return Header{}, fmt.Errorf("%w: header is %d bytes", ErrTruncated, n)
	}
	if err != nil {
		return Header{}, err
	}
	return decodeHeader(buf)
}

func recordOffset(index uint64) int64 {
	return HeaderSize + int64(index)*record.Size
}
