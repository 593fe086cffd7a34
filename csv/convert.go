package csv

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// convert joins the chunks of one column and maps them onto a supported
// storage type.
func convert(mem memory.Allocator, name string, chunks []arrow.Array) (arrow.Array, error) {
	var col arrow.Array
	if len(chunks) == 1 {
		col = chunks[0]
		col.Retain()
	} else {
		joined, err := array.Concatenate(chunks, mem)
		if err != nil {
			return nil, errs.Wrap(err, errs.BuildError, "column "+name)
		}
		col = joined
	}
	defer col.Release()

	switch col.DataType().ID() {
	case arrow.NULL:
		return blankStrings(mem, col.Len()), nil
	case arrow.STRING:
		col.Retain()
		return col, nil
	}

	if col.NullN() > 0 {
		return nil, errs.Newf(errs.Unsupported, "column %q has %d empty values", name, col.NullN())
	}

	switch arr := col.(type) {
	case *array.Boolean, *array.Int64, *array.Float64:
		col.Retain()
		return col, nil
	case *array.Int8:
		return toInt64(mem, arr.Len(), func(i int) int64 { return int64(arr.Value(i)) }), nil
	case *array.Int16:
		return toInt64(mem, arr.Len(), func(i int) int64 { return int64(arr.Value(i)) }), nil
	case *array.Int32:
		return toInt64(mem, arr.Len(), func(i int) int64 { return int64(arr.Value(i)) }), nil
	case *array.Uint8:
		return toInt64(mem, arr.Len(), func(i int) int64 { return int64(arr.Value(i)) }), nil
	case *array.Uint16:
		return toInt64(mem, arr.Len(), func(i int) int64 { return int64(arr.Value(i)) }), nil
	case *array.Uint32:
		return toInt64(mem, arr.Len(), func(i int) int64 { return int64(arr.Value(i)) }), nil
	case *array.Float32:
		return toFloat64(mem, arr.Len(), func(i int) float64 { return float64(arr.Value(i)) }), nil
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		return toTimestamp(mem, arr.Len(), func(i int) time.Time { return arr.Value(i).ToTime(unit) }), nil
	case *array.Date32:
		return toTimestamp(mem, arr.Len(), func(i int) time.Time { return arr.Value(i).ToTime() }), nil
	case *array.Date64:
		return toTimestamp(mem, arr.Len(), func(i int) time.Time { return arr.Value(i).ToTime() }), nil
	}
	return toStrings(mem, col), nil
}

func toInt64(mem memory.Allocator, n int, value func(int) int64) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.Reserve(n)
	for i := 0; i < n; i++ {
		b.UnsafeAppend(value(i))
	}
	return b.NewArray()
}

func toFloat64(mem memory.Allocator, n int, value func(int) float64) arrow.Array {
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.Reserve(n)
	for i := 0; i < n; i++ {
		b.UnsafeAppend(value(i))
	}
	return b.NewArray()
}

func toTimestamp(mem memory.Allocator, n int, value func(int) time.Time) arrow.Array {
	b := array.NewTimestampBuilder(mem, arrow.FixedWidthTypes.Timestamp_ns.(*arrow.TimestampType))
	defer b.Release()
	b.Reserve(n)
	for i := 0; i < n; i++ {
		b.UnsafeAppend(arrow.Timestamp(value(i).UnixNano()))
	}
	return b.NewArray()
}

// toStrings renders every value of col with its canonical text form.
func toStrings(mem memory.Allocator, col arrow.Array) arrow.Array {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	b.Reserve(col.Len())
	for i := 0; i < col.Len(); i++ {
		b.Append(col.ValueStr(i))
	}
	return b.NewArray()
}

func blankStrings(mem memory.Allocator, n int) arrow.Array {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	for i := 0; i < n; i++ {
		b.Append("")
	}
	return b.NewArray()
}
