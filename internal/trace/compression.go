package trace

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/ulikunitz/xz"
)

// Compression is the compression format of a trace file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBzip2
	CompressionXZ
)

// String returns the name of the format.
func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBzip2:
		return "bzip2"
	case CompressionXZ:
		return "xz"
	default:
		return "none"
	}
}

// Magic byte signatures
var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte{0x42, 0x5a, 0x68}
	xzMagic    = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
)

// DetectCompression peeks at the head of r without consuming it.
func DetectCompression(r *bufio.Reader) (Compression, error) {
	// XZ has the longest magic (6 bytes)
	header, err := r.Peek(len(xzMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return CompressionNone, err
	}

	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return CompressionGzip, nil
	case bytes.HasPrefix(header, bzip2Magic):
		return CompressionBzip2, nil
	case bytes.HasPrefix(header, xzMagic):
		return CompressionXZ, nil
	}
	return CompressionNone, nil
}

// NewDecompressingReader wraps r so that compressed input is decoded on the fly.
func NewDecompressingReader(r io.Reader) (io.Reader, Compression, error) {
	br := bufio.NewReader(r)
	c, err := DetectCompression(br)
	if err != nil {
		return nil, CompressionNone, err
	}

	switch c {
	case CompressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, c, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, c, nil
	case CompressionBzip2:
		return bzip2.NewReader(br), c, nil
	case CompressionXZ:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, c, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xzr, c, nil
	}
	return br, CompressionNone, nil
}

// traceFile ties a decompressing reader to the file it reads from.
type traceFile struct {
	io.Reader
	file *os.File
}

func (t *traceFile) Close() error {
	if closer, ok := t.Reader.(io.Closer); ok {
		closer.Close()
	}
	return t.file.Close()
}

// OpenTrace opens path and transparently decompresses it.
func OpenTrace(path string) (io.ReadCloser, Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, CompressionNone, err
	}
	r, c, err := NewDecompressingReader(f)
	if err != nil {
		f.Close()
		return nil, c, fmt.Errorf("%s: %w", path, err)
	}
	return &traceFile{Reader: r, file: f}, c, nil
}
