// Package result provides the tagged success/failure envelope exchanged with
// the object store. A Result holds either a value or an error, never both.
package result

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// ErrMalformed is returned when an encoded envelope has both or neither branch.
var ErrMalformed = errors.New("result envelope must carry exactly one of value or error")

// Result is either Ok(value) or Err(error).
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err wraps a failure. A nil error is replaced by a generic IoError so the
// envelope never ends up with neither branch set.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = errs.New(errs.IoError, "unspecified failure")
	}
	return Result[T]{err: err}
}

// IsOk reports whether r holds a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// Unwrap returns the value or the error.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.err
}

type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type wire struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error *wireError      `json:"error,omitempty"`
}

// MarshalJSON encodes r as {"ok":true,"value":...} or
// {"ok":false,"error":{"kind":...,"message":...}}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.err != nil {
		kind := errs.KindOf(r.err)
		if kind == "" {
			kind = errs.IoError
		}
		msg := r.err.Error()
		var e *errs.Error
		if errors.As(r.err, &e) && e.Kind == kind {
			msg = e.Message
			if e.Cause != nil {
				msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
			}
		}
		return json.Marshal(wire{Error: &wireError{Kind: string(kind), Message: msg}})
	}
	raw, err := json.Marshal(r.value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result value: %w", err)
	}
	return json.Marshal(wire{OK: true, Value: raw})
}

// UnmarshalJSON decodes an envelope, rejecting ones with both or neither branch.
func (r *Result[T]) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	switch {
	case w.OK && w.Error != nil, !w.OK && w.Error == nil:
		return ErrMalformed
	case !w.OK:
		kind, ok := errs.ParseKind(w.Error.Kind)
		if !ok {
			return fmt.Errorf("%w: unknown error kind %q", ErrMalformed, w.Error.Kind)
		}
		*r = Result[T]{err: errs.New(kind, w.Error.Message)}
		return nil
	}
	var v T
	if len(w.Value) > 0 {
		if err := json.Unmarshal(w.Value, &v); err != nil {
			return fmt.Errorf("failed to unmarshal result value: %w", err)
		}
	}
	*r = Result[T]{value: v}
	return nil
}
