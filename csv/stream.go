package csv

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// InputStream is the byte source the parser pulls from.
type InputStream interface {
	// Tell returns the number of bytes consumed so far.
	Tell() (int64, error)
	// Closed reports whether the source is exhausted.
	Closed() (bool, error)
	// Read returns at most n bytes. An empty result on a closed stream means
	// end of input.
	Read(n int) ([]byte, error)
}

// StreamID addresses a stream owned by a ForeignStreams.
type StreamID int64

// ForeignStreams is a set of byte sources living outside the engine,
// addressed by id.
type ForeignStreams interface {
	Read(id StreamID, n int) ([]byte, error)
	Tell(id StreamID) (int64, error)
	Closed(id StreamID) (bool, error)
}

// NewStream adapts the stream id of foreign into an InputStream. Every
// failure reported by foreign surfaces as IoError.
func NewStream(foreign ForeignStreams, id StreamID) InputStream {
	return &foreignStream{foreign: foreign, id: id}
}

type foreignStream struct {
	foreign ForeignStreams
	id      StreamID
}

func (s *foreignStream) Tell() (int64, error) {
	pos, err := s.foreign.Tell(s.id)
	if err != nil {
		return 0, errs.Wrap(err, errs.IoError, fmt.Sprintf("stream %d: tell", s.id))
	}
	return pos, nil
}

func (s *foreignStream) Closed() (bool, error) {
	closed, err := s.foreign.Closed(s.id)
	if err != nil {
		return true, errs.Wrap(err, errs.IoError, fmt.Sprintf("stream %d: closed", s.id))
	}
	return closed, nil
}

func (s *foreignStream) Read(n int) ([]byte, error) {
	b, err := s.foreign.Read(s.id, n)
	if err != nil {
		return nil, errs.Wrap(err, errs.IoError, fmt.Sprintf("stream %d: read", s.id))
	}
	if len(b) > n {
		return nil, errs.Newf(errs.IoError, "stream %d: asked for %d bytes, got %d", s.id, n, len(b))
	}
	return b, nil
}

// Registry is a ForeignStreams over io.Readers.
type Registry struct {
	streams map[StreamID]*readerStream
	nextID  StreamID
	mu      sync.Mutex
}

type readerStream struct {
	r      io.Reader
	pos    int64
	buf    []byte
	closed bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[StreamID]*readerStream)}
}

// Alloc registers r and returns its id.
func (reg *Registry) Alloc(r io.Reader) StreamID {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	id := reg.nextID
	reg.nextID++
	reg.streams[id] = &readerStream{r: r}
	return id
}

// Release forgets id.
func (reg *Registry) Release(id StreamID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.streams, id)
}

// Len returns the number of registered streams.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.streams)
}

func (reg *Registry) get(id StreamID) (*readerStream, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.streams[id]
	if !ok {
		return nil, fmt.Errorf("%d: unknown stream id", id)
	}
	return s, nil
}

// Read reads up to n bytes from stream id. The returned slice is reused by
// the next Read of the same stream.
func (reg *Registry) Read(id StreamID, n int) ([]byte, error) {
	s, err := reg.get(id)
	if err != nil {
		return nil, err
	}
	if s.closed || n <= 0 {
		return nil, nil
	}
	if n > len(s.buf) {
		s.buf = make([]byte, n)
	}

	read, err := s.r.Read(s.buf[:n])
	s.pos += int64(read)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
		s.closed = true
	}
	return s.buf[:read], nil
}

// Tell returns the bytes read from stream id so far.
func (reg *Registry) Tell(id StreamID) (int64, error) {
	s, err := reg.get(id)
	if err != nil {
		return 0, err
	}
	return s.pos, nil
}

// Closed reports whether stream id hit end of input.
func (reg *Registry) Closed(id StreamID) (bool, error) {
	s, err := reg.get(id)
	if err != nil {
		return true, err
	}
	return s.closed, nil
}

// maxEmptyReads bounds consecutive reads that leave the stream position
// where it was.
const maxEmptyReads = 100

// streamReader is an io.Reader pulling blockSize bytes at a time from in.
type streamReader struct {
	in        InputStream
	blockSize int
	pending   []byte
	pos       int64 // last position reported by Tell
	started   bool
	err       error // first failure of in
}

func (sr *streamReader) Read(p []byte) (int, error) {
	if !sr.started {
		pos, err := sr.in.Tell()
		if err != nil {
			return 0, sr.fail(err)
		}
		sr.pos, sr.started = pos, true
	}

	for stalled := 0; len(sr.pending) == 0; {
		if stalled == maxEmptyReads {
			return 0, sr.fail(errs.Wrap(io.ErrNoProgress, errs.IoError, "stream position stopped advancing"))
		}
		chunk, err := sr.in.Read(sr.blockSize)
		if err != nil {
			return 0, sr.fail(err)
		}
		advanced, err := sr.advance(len(chunk))
		if err != nil {
			return 0, sr.fail(err)
		}
		if len(chunk) > 0 {
			sr.pending = chunk
			break
		}
		if advanced {
			stalled = 0
		} else {
			stalled++
		}
		closed, err := sr.in.Closed()
		if err != nil {
			return 0, sr.fail(err)
		}
		if closed {
			return 0, io.EOF
		}
	}

	n := copy(p, sr.pending)
	sr.pending = sr.pending[n:]
	return n, nil
}

// advance refreshes the stream position after a read of n bytes.
func (sr *streamReader) advance(n int) (bool, error) {
	pos, err := sr.in.Tell()
	if err != nil {
		return false, err
	}
	if pos < sr.pos {
		return false, errs.Newf(errs.IoError, "stream position moved back from %d to %d", sr.pos, pos)
	}
	if n > 0 && pos == sr.pos {
		return false, errs.Wrap(io.ErrNoProgress, errs.IoError,
			fmt.Sprintf("stream returned %d bytes without advancing past %d", n, pos))
	}
	advanced := pos > sr.pos
	sr.pos = pos
	return advanced, nil
}

func (sr *streamReader) fail(err error) error {
	if sr.err == nil {
		sr.err = err
	}
	return err
}
