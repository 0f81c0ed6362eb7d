package recorder

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

// CompressionType defines the compression algorithm to use
type CompressionType int

const (
	// NoCompression indicates no compression
	NoCompression CompressionType = iota
	// ZstdCompression indicates Zstandard compression
	ZstdCompression
)

// DefaultCompression is the default compression algorithm
var DefaultCompression = ZstdCompression

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// NewCompressedWriter returns a writer that compresses data before writing.
// Every writer starts a new zstd frame, so a file appended to by several
// writers is a valid concatenation of frames.
func NewCompressedWriter(w io.Writer, compressionType CompressionType) (io.Writer, error) {
	if compressionType == NoCompression {
		return w, nil
	}
	return zstd.NewWriter(w)
}

// CloseCompressedWriter ends the current frame if w is compressing.
func CloseCompressedWriter(w io.Writer) error {
	if zw, ok := w.(*zstd.Encoder); ok {
		return zw.Close()
	}
	return nil
}

// NewDetectingReader returns a reader over r that decompresses zstd input
// and passes anything else through. The returned close func releases the
// decoder.
func NewDetectingReader(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, nil, err
	}
	if !bytes.Equal(head, zstdMagic) {
		return br, func() {}, nil
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, nil, err
	}
	return dec, dec.Close, nil
}
