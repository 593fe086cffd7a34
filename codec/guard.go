package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// DefaultMaxDecodedBytes bounds a single allocation while decoding a
// compressed stream.
const DefaultMaxDecodedBytes = 1 << 30

const (
	continuationMarker = 0xffffffff
	maxFieldDepth      = 64

	// Message header union tags.
	headerSchema          = 1
	headerDictionaryBatch = 2
	headerRecordBatch     = 3

	typeTimestamp = 10
)

var errAllocLimit = errors.New("allocation exceeds the decoded input")

// frameGuard sits between a source and the ipc reader. It reads one message
// at a time, checks its framing and flatbuffer metadata, and only then hands
// the bytes on. Buffers grow with the bytes that actually arrive, so a forged
// length cannot make it allocate more than the source delivered.
type frameGuard struct {
	src     io.Reader
	pending []byte
	msg     bytes.Buffer
	done    bool
	err     error

	seen       atomic.Int64
	compressed atomic.Bool
}

func newFrameGuard(src io.Reader) *frameGuard {
	return &frameGuard{src: src}
}

func (g *frameGuard) Read(p []byte) (int, error) {
	for len(g.pending) == 0 {
		if g.err != nil {
			return 0, g.err
		}
		if g.done {
			return 0, io.EOF
		}
		if err := g.next(); err != nil {
			g.err = err
			return 0, err
		}
	}
	n := copy(p, g.pending)
	g.pending = g.pending[n:]
	return n, nil
}

// corrupt returns the decode failure recorded by the guard, if any.
func (g *frameGuard) corrupt() error {
	if errs.IsKind(g.err, errs.CorruptStream) {
		return g.err
	}
	return nil
}

func (g *frameGuard) next() error {
	g.msg.Reset()

	var header [8]byte
	n, err := io.ReadFull(g.src, header[:4])
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		g.done = true
		return nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return errs.New(errs.CorruptStream, "truncated message header")
	case err != nil:
		return err
	}

	cid := binary.LittleEndian.Uint32(header[:4])
	if cid == 0 {
		g.emit(header[:4])
		g.done = true
		return nil
	}
	if cid != continuationMarker {
		return errs.Newf(errs.CorruptStream, "missing continuation marker, got %#x", cid)
	}
	if _, err := io.ReadFull(g.src, header[4:]); err != nil {
		return g.short(err, "message length")
	}
	metaLen := int32(binary.LittleEndian.Uint32(header[4:]))
	if metaLen == 0 {
		g.emit(header[:])
		g.done = true
		return nil
	}
	if metaLen < 0 {
		return errs.Newf(errs.CorruptStream, "negative metadata length %d", metaLen)
	}

	g.msg.Write(header[:])
	if err := g.copyN(int64(metaLen), "message metadata"); err != nil {
		return err
	}
	meta := g.msg.Bytes()[len(header):]

	info, err := verifyMessage(meta)
	if err != nil {
		return errs.Wrap(err, errs.CorruptStream, "invalid message metadata")
	}
	if err := g.copyN(info.bodyLen, "message body"); err != nil {
		return err
	}
	for _, b := range info.buffers {
		if b.offset < 0 || b.length < 0 || b.offset > info.bodyLen || b.length > info.bodyLen-b.offset {
			return errs.Newf(errs.CorruptStream, "buffer [%d, +%d) outside a %d byte body", b.offset, b.length, info.bodyLen)
		}
	}
	if info.compressed {
		g.compressed.Store(true)
	}

	g.seen.Add(int64(g.msg.Len()))
	g.pending = g.msg.Bytes()
	return nil
}

func (g *frameGuard) emit(b []byte) {
	g.msg.Write(b)
	g.seen.Add(int64(len(b)))
	g.pending = g.msg.Bytes()
}

func (g *frameGuard) copyN(n int64, what string) error {
	if _, err := io.CopyN(&g.msg, g.src, n); err != nil {
		return g.short(err, what)
	}
	return nil
}

func (g *frameGuard) short(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.New(errs.CorruptStream, "truncated "+what)
	}
	return err
}

// limit is the largest single allocation a decode of the bytes seen so far
// can need.
func (g *frameGuard) limit(maxDecoded int) int {
	seen := g.seen.Load() + 4096
	if g.compressed.Load() && int64(maxDecoded) > seen {
		return maxDecoded
	}
	return int(seen)
}

// boundedAllocator refuses allocations larger than its guard allows. The ipc
// reader recovers the panic into an error.
type boundedAllocator struct {
	memory.Allocator
	guard      *frameGuard
	maxDecoded int
}

func (a *boundedAllocator) check(size int) {
	if size > a.guard.limit(a.maxDecoded) {
		panic(fmt.Errorf("%w: %d bytes", errAllocLimit, size))
	}
}

func (a *boundedAllocator) Allocate(size int) []byte {
	a.check(size)
	return a.Allocator.Allocate(size)
}

func (a *boundedAllocator) Reallocate(size int, b []byte) []byte {
	a.check(size)
	return a.Allocator.Reallocate(size, b)
}

type bufferSpan struct {
	offset, length int64
}

type messageInfo struct {
	bodyLen    int64
	buffers    []bufferSpan
	compressed bool
}

// verifyMessage walks the flatbuffer of an IPC message and checks that every
// table, string and vector the ipc reader will touch lies inside meta.
func verifyMessage(meta []byte) (messageInfo, error) {
	var info messageInfo
	fb := flatbuf(meta)

	root, err := fb.root()
	if err != nil {
		return info, err
	}
	if err := fb.keyValues(root, 4); err != nil {
		return info, err
	}
	bodyLen, _, err := fb.int64Field(root, 3)
	if err != nil {
		return info, err
	}
	if bodyLen < 0 {
		return info, fmt.Errorf("negative body length %d", bodyLen)
	}
	info.bodyLen = bodyLen

	kind, _, err := fb.uint8Field(root, 1)
	if err != nil {
		return info, err
	}
	header, ok, err := fb.tableField(root, 2)
	if err != nil {
		return info, err
	}
	if !ok {
		return info, errors.New("message has no header")
	}

	switch kind {
	case headerSchema:
		err = fb.schema(header)
	case headerRecordBatch:
		err = fb.recordBatch(header, &info)
	case headerDictionaryBatch:
		batch, ok, ferr := fb.tableField(header, 1)
		switch {
		case ferr != nil:
			err = ferr
		case ok:
			err = fb.recordBatch(batch, &info)
		}
	default:
		err = fmt.Errorf("unexpected message type %d", kind)
	}
	return info, err
}

// flatbuf is a bounds checked reader over flatbuffer bytes.
type flatbuf []byte

type fbTable struct {
	pos    int
	vtable int
	vtLen  int
	objLen int
}

func (b flatbuf) fits(pos int, n int64) bool {
	return pos >= 0 && n >= 0 && int64(pos) <= int64(len(b)) && n <= int64(len(b))-int64(pos)
}

func (b flatbuf) u16(pos int) (int, error) {
	if !b.fits(pos, 2) {
		return 0, fmt.Errorf("offset %d out of range", pos)
	}
	return int(binary.LittleEndian.Uint16(b[pos:])), nil
}

func (b flatbuf) u32(pos int) (uint32, error) {
	if !b.fits(pos, 4) {
		return 0, fmt.Errorf("offset %d out of range", pos)
	}
	return binary.LittleEndian.Uint32(b[pos:]), nil
}

func (b flatbuf) root() (fbTable, error) {
	off, err := b.u32(0)
	if err != nil {
		return fbTable{}, err
	}
	return b.table(int64(off))
}

func (b flatbuf) table(pos64 int64) (fbTable, error) {
	if pos64 < 0 || pos64 > int64(len(b)) {
		return fbTable{}, fmt.Errorf("table offset %d out of range", pos64)
	}
	pos := int(pos64)
	soff, err := b.u32(pos)
	if err != nil {
		return fbTable{}, err
	}
	vt := int64(pos) - int64(int32(soff))
	if vt < 0 || vt > int64(len(b)) {
		return fbTable{}, fmt.Errorf("vtable offset %d out of range", vt)
	}
	t := fbTable{pos: pos, vtable: int(vt)}
	if t.vtLen, err = b.u16(t.vtable); err != nil {
		return t, err
	}
	if t.objLen, err = b.u16(t.vtable + 2); err != nil {
		return t, err
	}
	if t.vtLen < 4 || t.vtLen%2 != 0 || !b.fits(t.vtable, int64(t.vtLen)) {
		return t, fmt.Errorf("malformed vtable at %d", t.vtable)
	}
	if t.objLen < 4 || !b.fits(t.pos, int64(t.objLen)) {
		return t, fmt.Errorf("malformed table at %d", t.pos)
	}
	return t, nil
}

// field returns the absolute position of slot's inline value.
func (b flatbuf) field(t fbTable, slot, size int) (int, bool, error) {
	vo := 4 + 2*slot
	if vo+2 > t.vtLen {
		return 0, false, nil
	}
	off, err := b.u16(t.vtable + vo)
	if err != nil || off == 0 {
		return 0, false, err
	}
	if off+size > t.objLen {
		return 0, false, fmt.Errorf("field %d overruns its table", slot)
	}
	return t.pos + off, true, nil
}

func (b flatbuf) uint8Field(t fbTable, slot int) (uint8, bool, error) {
	pos, ok, err := b.field(t, slot, 1)
	if !ok || err != nil {
		return 0, ok, err
	}
	return b[pos], true, nil
}

func (b flatbuf) int64Field(t fbTable, slot int) (int64, bool, error) {
	pos, ok, err := b.field(t, slot, 8)
	if !ok || err != nil {
		return 0, ok, err
	}
	return int64(binary.LittleEndian.Uint64(b[pos:])), true, nil
}

// indirect follows the uoffset stored at pos.
func (b flatbuf) indirect(pos int) (int64, error) {
	off, err := b.u32(pos)
	if err != nil {
		return 0, err
	}
	return int64(pos) + int64(off), nil
}

func (b flatbuf) tableField(t fbTable, slot int) (fbTable, bool, error) {
	pos, ok, err := b.field(t, slot, 4)
	if !ok || err != nil {
		return fbTable{}, ok, err
	}
	target, err := b.indirect(pos)
	if err != nil {
		return fbTable{}, false, err
	}
	sub, err := b.table(target)
	return sub, err == nil, err
}

// vector checks a vector of n elements of elemSize bytes and returns the
// position of its first element.
func (b flatbuf) vector(t fbTable, slot, elemSize int) (start, n int, ok bool, err error) {
	pos, ok, err := b.field(t, slot, 4)
	if !ok || err != nil {
		return 0, 0, ok, err
	}
	target, err := b.indirect(pos)
	if err != nil {
		return 0, 0, false, err
	}
	if target > int64(len(b)) {
		return 0, 0, false, fmt.Errorf("vector offset %d out of range", target)
	}
	count, err := b.u32(int(target))
	if err != nil {
		return 0, 0, false, err
	}
	start = int(target) + 4
	if !b.fits(start, int64(count)*int64(elemSize)) {
		return 0, 0, false, fmt.Errorf("vector of %d elements overruns the metadata", count)
	}
	return start, int(count), true, nil
}

func (b flatbuf) tables(t fbTable, slot int, each func(fbTable) error) error {
	start, n, ok, err := b.vector(t, slot, 4)
	if !ok || err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		target, err := b.indirect(start + 4*i)
		if err != nil {
			return err
		}
		elem, err := b.table(target)
		if err != nil {
			return err
		}
		if err := each(elem); err != nil {
			return err
		}
	}
	return nil
}

func (b flatbuf) str(t fbTable, slot int) error {
	_, _, _, err := b.vector(t, slot, 1)
	return err
}

func (b flatbuf) keyValues(t fbTable, slot int) error {
	return b.tables(t, slot, func(kv fbTable) error {
		if err := b.str(kv, 0); err != nil {
			return err
		}
		return b.str(kv, 1)
	})
}

func (b flatbuf) schema(t fbTable) error {
	if err := b.tables(t, 1, func(f fbTable) error { return b.schemaField(f, 0) }); err != nil {
		return err
	}
	if err := b.keyValues(t, 2); err != nil {
		return err
	}
	_, _, _, err := b.vector(t, 3, 8)
	return err
}

func (b flatbuf) schemaField(t fbTable, depth int) error {
	if depth > maxFieldDepth {
		return errors.New("fields nested too deeply")
	}
	if err := b.str(t, 0); err != nil {
		return err
	}
	typeTag, _, err := b.uint8Field(t, 2)
	if err != nil {
		return err
	}
	if typ, ok, err := b.tableField(t, 3); err != nil {
		return err
	} else if ok && typeTag == typeTimestamp {
		if err := b.str(typ, 1); err != nil {
			return err
		}
	}
	if dict, ok, err := b.tableField(t, 4); err != nil {
		return err
	} else if ok {
		if _, _, err := b.tableField(dict, 1); err != nil {
			return err
		}
	}
	if err := b.tables(t, 5, func(child fbTable) error { return b.schemaField(child, depth+1) }); err != nil {
		return err
	}
	return b.keyValues(t, 6)
}

func (b flatbuf) recordBatch(t fbTable, info *messageInfo) error {
	if rows, _, err := b.int64Field(t, 0); err != nil {
		return err
	} else if rows < 0 {
		return fmt.Errorf("negative row count %d", rows)
	}

	start, n, _, err := b.vector(t, 1, 16)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		pos := start + 16*i
		length := int64(binary.LittleEndian.Uint64(b[pos:]))
		nulls := int64(binary.LittleEndian.Uint64(b[pos+8:]))
		if length < 0 || nulls < 0 || nulls > length {
			return fmt.Errorf("invalid field node (%d rows, %d nulls)", length, nulls)
		}
	}

	start, n, _, err = b.vector(t, 2, 16)
	if err != nil {
		return err
	}
	info.buffers = make([]bufferSpan, n)
	for i := range info.buffers {
		pos := start + 16*i
		info.buffers[i] = bufferSpan{
			offset: int64(binary.LittleEndian.Uint64(b[pos:])),
			length: int64(binary.LittleEndian.Uint64(b[pos+8:])),
		}
	}

	_, ok, err := b.tableField(t, 3)
	if err != nil {
		return err
	}
	info.compressed = ok

	_, _, _, err = b.vector(t, 4, 8)
	return err
}
