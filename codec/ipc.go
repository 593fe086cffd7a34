package codec

import (
	"bytes"
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// DefaultBatchRows is the default maximum number of rows per record batch.
const DefaultBatchRows = 64 * 1024

// Compression selects the IPC body compression codec.
type Compression int

// Supported compression codecs
const (
	NoCompression Compression = iota
	LZ4
	Zstd
)

func (c Compression) String() string {
	switch c {
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	}
	return "none"
}

// ParseCompression maps "", "none", "lz4" and "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return NoCompression, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return NoCompression, errs.Newf(errs.Unsupported, "unknown compression %q", s)
}

// Option configures a Codec.
type Option func(*Codec)

// WithBatchRows sets the maximum rows per batch. Values below 1 are ignored.
func WithBatchRows(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.batchRows = n
		}
	}
}

// WithAllocator sets the allocator used when decoding.
func WithAllocator(mem memory.Allocator) Option {
	return func(c *Codec) {
		c.mem = mem
	}
}

// WithMaxDecodedBytes bounds any single allocation made while decoding a
// compressed stream. Uncompressed streams are bounded by their own length.
func WithMaxDecodedBytes(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxDecoded = n
		}
	}
}

// WithCompression enables IPC body compression.
func WithCompression(comp Compression) Option {
	return func(c *Codec) {
		c.compression = comp
	}
}

// Codec writes Tables as Arrow IPC streams and reads them back.
//
// A stream is a schema message, one or more record batches of at most
// BatchRows rows each, and an end-of-stream marker. The batch partition
// depends only on the table and BatchRows, so Size and Write always agree on
// the byte count.
type Codec struct {
	mem         memory.Allocator
	batchRows   int
	compression Compression
	maxDecoded  int
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		mem:        memory.DefaultAllocator,
		batchRows:  DefaultBatchRows,
		maxDecoded: DefaultMaxDecodedBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BatchRows returns the batch size limit.
func (c *Codec) BatchRows() int { return c.batchRows }

func (c *Codec) writerOptions(schema *arrow.Schema) []ipc.Option {
	opts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(c.mem)}
	switch c.compression {
	case LZ4:
		opts = append(opts, ipc.WithLZ4())
	case Zstd:
		opts = append(opts, ipc.WithZstd())
	}
	return opts
}

// Size runs a dry pass and returns the exact encoded size of t.
func (c *Codec) Size(t *data.Table) (int64, error) {
	return c.Write(io.Discard, t)
}

// Write encodes t to w and returns the number of bytes written.
// Any failure of w aborts the encoding with an IoError.
func (c *Codec) Write(w io.Writer, t *data.Table) (int64, error) {
	cw := &countingWriter{w: w}
	writer := ipc.NewWriter(cw, c.writerOptions(t.Schema().Arrow())...)

	// A table without rows still gets one (empty) batch.
	rows := t.NumRows()
	for offset := 0; ; {
		n := min(c.batchRows, rows-offset)
		if err := c.writeBatch(writer, t, offset, n); err != nil {
			_ = writer.Close()
			return cw.n, err
		}
		offset += n
		if offset >= rows {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return cw.n, errs.Wrap(err, errs.IoError, "failed to close writer")
	}
	return cw.n, nil
}

func (c *Codec) writeBatch(writer *ipc.Writer, t *data.Table, offset, n int) error {
	rec, err := t.NewRecord(offset, n)
	if err != nil {
		return err
	}
	defer rec.Release()

	if err := writer.Write(rec); err != nil {
		return errs.Wrap(err, errs.IoError, "failed to write record batch")
	}
	return nil
}

// Read decodes a Table from r. A malformed stream fails with CorruptStream
// and a failing source with IoError; no partial Table is ever returned.
func (c *Codec) Read(r io.Reader) (table *data.Table, err error) {
	defer func() {
		if p := recover(); p != nil {
			table = nil
			err = errs.Newf(errs.CorruptStream, "failed to decode stream: %v", p)
		}
	}()

	src := &sourceReader{r: r}
	src.guard = newFrameGuard(src)
	mem := &boundedAllocator{Allocator: c.mem, guard: src.guard, maxDecoded: c.maxDecoded}

	reader, err := ipc.NewReader(src.guard, ipc.WithAllocator(mem))
	if err != nil {
		return nil, src.classify(err, "failed to read schema")
	}
	defer reader.Release()

	schema, err := data.SchemaFromArrow(reader.Schema())
	if err != nil {
		return nil, errs.Wrap(err, errs.CorruptStream, "unsupported schema")
	}

	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	for reader.Next() {
		rec := reader.Record()
		if err := data.ValidateRecord(rec, schema); err != nil {
			return nil, err
		}
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, src.classify(err, "failed to read record batch")
	}
	if !src.endsWithEOS() {
		return nil, errs.New(errs.CorruptStream, "stream ended without an end-of-stream marker")
	}

	return c.assemble(reader.Schema(), records)
}

func (c *Codec) assemble(schema *arrow.Schema, records []arrow.Record) (*data.Table, error) {
	table, err := data.NewTableFromRecords(c.mem, schema, records)
	if err != nil {
		return nil, errs.Wrap(err, errs.CorruptStream, "invalid table")
	}
	return table, nil
}

// Marshal encodes t into a new byte slice.
func (c *Codec) Marshal(t *data.Table) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.Write(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a Table from b.
func (c *Codec) Unmarshal(b []byte) (*data.Table, error) {
	return c.Read(bytes.NewReader(b))
}

// countingWriter counts the bytes accepted by w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// eosMarker is the continuation token followed by a zero message length.
var eosMarker = [8]byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}

// sourceReader remembers the first failure of the underlying reader so a
// decode error can be told apart from a broken source. It also keeps the
// last bytes consumed to check for the end-of-stream marker.
type sourceReader struct {
	r     io.Reader
	guard *frameGuard
	err   error
	tail  [8]byte
	seen  int
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && s.err == nil {
		s.err = err
	}
	if n >= len(s.tail) {
		copy(s.tail[:], p[n-len(s.tail):n])
	} else if n > 0 {
		copy(s.tail[:], s.tail[n:])
		copy(s.tail[len(s.tail)-n:], p[:n])
	}
	s.seen += n
	return n, err
}

func (s *sourceReader) endsWithEOS() bool {
	return s.seen >= len(s.tail) && s.tail == eosMarker
}

func (s *sourceReader) classify(err error, msg string) error {
	if s.err != nil {
		return errs.Wrap(s.err, errs.IoError, msg)
	}
	if cerr := s.guard.corrupt(); cerr != nil {
		return errs.Wrap(cerr, errs.CorruptStream, msg)
	}
	return errs.Wrap(err, errs.CorruptStream, msg)
}
