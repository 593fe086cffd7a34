package codec

import (
	"io"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// FixedWriter writes into a pre-allocated buffer and never grows it.
type FixedWriter struct {
	buf []byte
	off int
}

// NewFixedWriter returns a writer over buf.
func NewFixedWriter(buf []byte) *FixedWriter {
	return &FixedWriter{buf: buf}
}

// Write copies p into the buffer. Writes past the end fail with an IoError
// wrapping io.ErrShortBuffer after copying what fits.
func (w *FixedWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.off:], p)
	w.off += n
	if n < len(p) {
		return n, errs.Wrap(io.ErrShortBuffer, errs.IoError, "fixed buffer overflow")
	}
	return n, nil
}

// Len returns the number of bytes written.
func (w *FixedWriter) Len() int { return w.off }

// Cap returns the buffer size.
func (w *FixedWriter) Cap() int { return len(w.buf) }
