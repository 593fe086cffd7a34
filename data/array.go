package data

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// Array is an immutable, fixed-length sequence of values of one dtype.
//
// An Array returned by Builder.Finish is owned by the caller and must be
// released or handed to NewTable, which consumes it. An Array returned by
// Table.Column is a borrowed view that stays valid while the Table does;
// releasing a view is a no-op for the Table.
type Array struct {
	arr      arrow.Array
	dtype    DType
	borrowed bool
}

func (a *Array) live() error {
	if a == nil || a.arr == nil {
		return errs.New(errs.Released, "array was released or consumed")
	}
	return nil
}

func (a *Array) check(dt DType, i int) error {
	if err := a.live(); err != nil {
		return err
	}
	if a.dtype != dt {
		return errs.Newf(errs.TypeMismatch, "%s accessor on a %s array", dt, a.dtype)
	}
	if i < 0 || i >= a.arr.Len() {
		return errs.Newf(errs.RangeError, "index %d out of range [0, %d)", i, a.arr.Len())
	}
	return nil
}

// Len returns the number of values, or 0 for a released array.
func (a *Array) Len() int {
	if a.live() != nil {
		return 0
	}
	return a.arr.Len()
}

// DType returns the array data type.
func (a *Array) DType() DType { return a.dtype }

// BoolAt returns the boolean at position i.
func (a *Array) BoolAt(i int) (bool, error) {
	if err := a.check(BoolType, i); err != nil {
		return false, err
	}
	return a.arr.(*array.Boolean).Value(i), nil
}

// Int64At returns the integer at position i.
func (a *Array) Int64At(i int) (int64, error) {
	if err := a.check(Integer64Type, i); err != nil {
		return 0, err
	}
	return a.arr.(*array.Int64).Value(i), nil
}

// Float64At returns the float at position i.
func (a *Array) Float64At(i int) (float64, error) {
	if err := a.check(Float64Type, i); err != nil {
		return 0, err
	}
	return a.arr.(*array.Float64).Value(i), nil
}

// StringAt returns the string at position i. The result shares memory with
// the array; copy it with strings.Clone to keep it past Release.
func (a *Array) StringAt(i int) (string, error) {
	if err := a.check(StringType, i); err != nil {
		return "", err
	}
	return a.arr.(*array.String).Value(i), nil
}

// TimestampAt returns the timestamp at position i in UTC.
func (a *Array) TimestampAt(i int) (time.Time, error) {
	if err := a.check(TimestampType, i); err != nil {
		return time.Time{}, err
	}
	ns := int64(a.arr.(*array.Timestamp).Value(i))
	return time.Unix(0, ns).UTC(), nil
}

// Release frees the array. Released arrays report Released from every
// accessor.
func (a *Array) Release() {
	if a == nil || a.arr == nil {
		return
	}
	if !a.borrowed {
		a.arr.Release()
	}
	a.arr = nil
}

// take moves the storage out of a, leaving it released.
func (a *Array) take() arrow.Array {
	arr := a.arr
	a.arr = nil
	return arr
}
