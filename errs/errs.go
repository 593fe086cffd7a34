// Package errs provides the structured error kinds shared by every engine package.
//
// Each failure carries exactly one Kind. Kinds are comparable sentinels, so
// callers match them with errors.Is:
//
//	if errors.Is(err, errs.Timeout) { ... }
package errs

import (
	"errors"
	"fmt"
)

// Kind is the category of an engine error.
type Kind string

// Error implements the error interface so a Kind can be used as a sentinel.
func (k Kind) Error() string { return string(k) }

const (
	// UnknownDtype is returned for a type tag outside the supported set.
	UnknownDtype Kind = "unknown_dtype"
	// BuilderClosed is returned when a finished builder is appended to.
	BuilderClosed Kind = "builder_closed"
	// BuildError is returned when a builder cannot materialize its array.
	BuildError Kind = "build_error"
	// TypeMismatch is returned for an append or accessor of the wrong dtype.
	TypeMismatch Kind = "type_mismatch"
	// RangeError is returned for an out of bounds index or slice.
	RangeError Kind = "range_error"
	// SchemaArrayMismatch is returned when columns disagree with the schema.
	SchemaArrayMismatch Kind = "schema_array_mismatch"
	// CorruptStream is returned for a malformed serialized table.
	CorruptStream Kind = "corrupt_stream"
	// ConnectionError is returned when the object store cannot be reached.
	ConnectionError Kind = "connection_error"
	// ObjectExists is returned when creating an id that is already present.
	ObjectExists Kind = "object_exists"
	// NotFound is returned when an object is absent.
	NotFound Kind = "not_found"
	// MultipleBuffers is returned when a fetch yields more than one buffer.
	MultipleBuffers Kind = "multiple_buffers"
	// Timeout is returned when an object exists but was not sealed in time.
	Timeout Kind = "timeout"
	// NotAcquired is returned when releasing an id the caller does not hold.
	NotAcquired Kind = "not_acquired"
	// InvalidId is returned for an object id of the wrong width.
	InvalidId Kind = "invalid_id"
	// IoError is returned for a failure of an underlying byte source or sink.
	IoError Kind = "io_error"
	// Released is returned when a released or consumed handle is used.
	Released Kind = "released"
	// InvalidArgument is returned for a request the store refuses outright.
	InvalidArgument Kind = "invalid_argument"
	// StoreFull is returned when the store cannot make room for an object.
	StoreFull Kind = "store_full"
	// Unsupported is returned for an option combination the engine cannot honor.
	Unsupported Kind = "unsupported"
)

var kinds = map[Kind]struct{}{
	UnknownDtype: {}, BuilderClosed: {}, BuildError: {}, TypeMismatch: {},
	RangeError: {}, SchemaArrayMismatch: {}, CorruptStream: {}, ConnectionError: {},
	ObjectExists: {}, NotFound: {}, MultipleBuffers: {}, Timeout: {},
	NotAcquired: {}, InvalidId: {}, IoError: {}, Released: {},
	InvalidArgument: {}, StoreFull: {}, Unsupported: {},
}

// ParseKind maps the string form of a kind back to the Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	_, ok := kinds[k]
	return k, ok
}

// Error is a structured error with a kind, a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. It returns nil if err is nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf returns the kind of the outermost engine error in err's chain,
// or the empty Kind if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
