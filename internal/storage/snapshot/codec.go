package snapshot

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedCompression is returned for an unknown compression name.
var ErrUnsupportedCompression = errors.New("snapshot: unsupported compression")

// Compression selects how a snapshot file is encoded on disk.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
	CompressionSnappy Compression = "snappy"
)

// Compressions lists every supported compression, uncompressed first.
var Compressions = []Compression{
	CompressionNone,
	CompressionGzip,
	CompressionZstd,
	CompressionSnappy,
}

// ParseCompression maps a name to a Compression. The empty string means
// none; "gz", "zst" and "sz" are accepted as aliases.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst", "zstandard":
		return CompressionZstd, nil
	case "snappy", "sz":
		return CompressionSnappy, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCompression, s)
	}
}

// Suffix returns the file name suffix appended to the snapshot base path.
func (c Compression) Suffix() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionSnappy:
		return ".sz"
	default:
		return ""
	}
}

func (c Compression) String() string {
	if c == "" {
		return string(CompressionNone)
	}
	return string(c)
}

// Decompressor is a ReadCloser whose Close releases decoder state without
// closing the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser whose Close flushes remaining output without
// closing the underlying Writer.
type Compressor io.WriteCloser

// NewReader returns a Decompressor of r encoded with c.
func NewReader(r io.Reader, c Compression) (Decompressor, error) {
	switch c {
	case CompressionNone, "":
		return io.NopCloser(r), nil
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case CompressionSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, string(c))
	}
}

// NewWriter returns a Compressor wrapping w that encodes with c.
func NewWriter(w io.Writer, c Compression) (Compressor, error) {
	switch c {
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, string(c))
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
