package data

import (
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// Builder accumulates values of a single dtype into an Array.
// A Builder must not be used from more than one goroutine at a time.
type Builder struct {
	dtype  DType
	b      array.Builder
	closed bool
}

// NewBuilder returns a builder for dtype using the default allocator.
func NewBuilder(dtype DType) (*Builder, error) {
	return NewBuilderWithAllocator(memory.DefaultAllocator, dtype)
}

// NewBuilderWithAllocator returns a builder for dtype backed by mem.
func NewBuilderWithAllocator(mem memory.Allocator, dtype DType) (*Builder, error) {
	typ, err := dtype.arrowType()
	if err != nil {
		return nil, err
	}
	return &Builder{dtype: dtype, b: array.NewBuilder(mem, typ)}, nil
}

// DType returns the builder data type.
func (b *Builder) DType() DType { return b.dtype }

// Len returns the number of values appended so far.
func (b *Builder) Len() int {
	if b.closed {
		return 0
	}
	return b.b.Len()
}

func (b *Builder) expect(dt DType) error {
	if b.closed {
		return errs.New(errs.BuilderClosed, "append to a finished builder")
	}
	if b.dtype != dt {
		return errs.Newf(errs.TypeMismatch, "can't append %s to a %s builder", dt, b.dtype)
	}
	return nil
}

// AppendBool appends a boolean.
func (b *Builder) AppendBool(v bool) error {
	if err := b.expect(BoolType); err != nil {
		return err
	}
	b.b.(*array.BooleanBuilder).Append(v)
	return nil
}

// AppendBools appends booleans.
func (b *Builder) AppendBools(vs []bool) error {
	if err := b.expect(BoolType); err != nil {
		return err
	}
	b.b.(*array.BooleanBuilder).AppendValues(vs, nil)
	return nil
}

// AppendInt64 appends an integer.
func (b *Builder) AppendInt64(v int64) error {
	if err := b.expect(Integer64Type); err != nil {
		return err
	}
	b.b.(*array.Int64Builder).Append(v)
	return nil
}

// AppendInt64s appends integers.
func (b *Builder) AppendInt64s(vs []int64) error {
	if err := b.expect(Integer64Type); err != nil {
		return err
	}
	b.b.(*array.Int64Builder).AppendValues(vs, nil)
	return nil
}

// AppendFloat64 appends a float.
func (b *Builder) AppendFloat64(v float64) error {
	if err := b.expect(Float64Type); err != nil {
		return err
	}
	b.b.(*array.Float64Builder).Append(v)
	return nil
}

// AppendFloat64s appends floats.
func (b *Builder) AppendFloat64s(vs []float64) error {
	if err := b.expect(Float64Type); err != nil {
		return err
	}
	b.b.(*array.Float64Builder).AppendValues(vs, nil)
	return nil
}

// AppendString appends a string.
func (b *Builder) AppendString(v string) error {
	if err := b.expect(StringType); err != nil {
		return err
	}
	b.b.(*array.StringBuilder).Append(v)
	return nil
}

// AppendBytes appends len(v) bytes as one string value. v is copied.
func (b *Builder) AppendBytes(v []byte) error {
	if err := b.expect(StringType); err != nil {
		return err
	}
	b.b.(*array.StringBuilder).BinaryBuilder.Append(v)
	return nil
}

// AppendStrings appends strings.
func (b *Builder) AppendStrings(vs []string) error {
	if err := b.expect(StringType); err != nil {
		return err
	}
	b.b.(*array.StringBuilder).AppendValues(vs, nil)
	return nil
}

// Nanosecond timestamps cover roughly the years 1678 to 2262.
var (
	minTimestamp = time.Unix(0, math.MinInt64)
	maxTimestamp = time.Unix(0, math.MaxInt64)
)

func checkTimestamp(v time.Time) error {
	if v.Before(minTimestamp) || v.After(maxTimestamp) {
		return errs.Newf(errs.RangeError, "timestamp %s is outside the nanosecond range", v.UTC().Format(time.RFC3339))
	}
	return nil
}

// AppendTimestamp appends a point in time, stored as UTC nanoseconds.
func (b *Builder) AppendTimestamp(v time.Time) error {
	if err := b.expect(TimestampType); err != nil {
		return err
	}
	if err := checkTimestamp(v); err != nil {
		return err
	}
	b.b.(*array.TimestampBuilder).Append(arrow.Timestamp(v.UnixNano()))
	return nil
}

// AppendTimestamps appends points in time. Nothing is appended when any of
// them is out of range.
func (b *Builder) AppendTimestamps(vs []time.Time) error {
	if err := b.expect(TimestampType); err != nil {
		return err
	}
	for _, v := range vs {
		if err := checkTimestamp(v); err != nil {
			return err
		}
	}
	tb := b.b.(*array.TimestampBuilder)
	tb.Reserve(len(vs))
	for _, v := range vs {
		tb.UnsafeAppend(arrow.Timestamp(v.UnixNano()))
	}
	return nil
}

// Finish consumes the builder and returns the accumulated Array. The Array
// is owned by the caller and stays valid after the builder is released.
func (b *Builder) Finish() (arr *Array, err error) {
	if b.closed {
		return nil, errs.New(errs.BuilderClosed, "builder already finished")
	}
	b.closed = true

	defer func() {
		if r := recover(); r != nil {
			arr = nil
			err = errs.Wrap(fmt.Errorf("%v", r), errs.BuildError, "failed to build "+b.dtype.String()+" array")
		}
	}()

	a := b.b.NewArray()
	b.b.Release()
	b.b = nil
	return &Array{arr: a, dtype: b.dtype}, nil
}

// Release frees the builder. It is safe to call after Finish.
func (b *Builder) Release() {
	b.closed = true
	if b.b != nil {
		b.b.Release()
		b.b = nil
	}
}
