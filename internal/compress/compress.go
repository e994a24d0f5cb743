// Package compress provides an incremental compression encoder with a
// write/bytes-written/finish shape, following the single-interface,
// single-implementation pattern used elsewhere in this repo for the
// bandwidth limiter. klauspost/compress supplies the deflate codec.
package compress

import (
	"bytes"

	"github.com/klauspost/compress/zlib"
)

// Encoder is an incremental compressor: feed it literal bytes as they
// become available, and it reports how many compressed bytes have been
// produced so far (for bandwidth accounting) and the final stream on
// Finish.
type Encoder interface {
	Write(buf []byte) (int, error)
	BytesWritten() int64
	Finish() ([]byte, error)
}

// zlibEncoder is the concrete Encoder backed by klauspost/compress/zlib.
type zlibEncoder struct {
	buf *bytes.Buffer
	w   *zlib.Writer
}

// New returns an Encoder at the given compression level (1-9, or
// zlib.DefaultCompression).
func New(level int) (Encoder, error) {
	buf := &bytes.Buffer{}

	w, err := zlib.NewWriterLevel(buf, level)
	if err != nil {
		return nil, err
	}

	return &zlibEncoder{buf: buf, w: w}, nil
}

func (e *zlibEncoder) Write(p []byte) (int, error) {
	return e.w.Write(p)
}

func (e *zlibEncoder) BytesWritten() int64 {
	return int64(e.buf.Len())
}

func (e *zlibEncoder) Finish() ([]byte, error) {
	if err := e.w.Close(); err != nil {
		return nil, err
	}

	return e.buf.Bytes(), nil
}
