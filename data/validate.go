package data

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// ValidateRecord checks that a record batch has exactly the columns of
// expected, in order, with matching names and types and no nulls.
func ValidateRecord(record arrow.Record, expected *Schema) error {
	if record == nil {
		return errs.New(errs.CorruptStream, "record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return errs.Newf(errs.CorruptStream, "field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.fields[i]

		if actualField.Name != expectedField.name {
			return errs.Newf(errs.CorruptStream, "field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.name)
		}

		dt, err := DTypeOf(actualField.Type)
		if err != nil || dt != expectedField.dtype {
			return errs.Newf(errs.CorruptStream, "field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.dtype)
		}

		col := record.Column(i)
		if int64(col.Len()) != record.NumRows() {
			return errs.Newf(errs.CorruptStream, "column %d has %d values in a %d row batch",
				i, col.Len(), record.NumRows())
		}
		if col.NullN() > 0 {
			return errs.Newf(errs.CorruptStream, "column %d has %d null values", i, col.NullN())
		}
		if err := checkBuffers(col.Data(), dt); err != nil {
			return errs.Wrap(err, errs.CorruptStream, "column "+actualField.Name)
		}
	}

	return nil
}

// checkBuffers verifies that the value buffers of d are large enough for its
// offset and length, and that string offsets are ordered and in bounds.
func checkBuffers(d arrow.ArrayData, dt DType) error {
	end := int64(d.Offset()) + int64(d.Len())
	if d.Len() == 0 {
		return nil
	}
	bufs := d.Buffers()
	if len(bufs) < 2 || bufs[1] == nil {
		return errs.New(errs.CorruptStream, "missing value buffer")
	}
	size := int64(bufs[1].Len())

	switch dt {
	case BoolType:
		if size < (end+7)/8 {
			return errs.Newf(errs.CorruptStream, "%d byte bitmap for %d values", size, end)
		}
	case Float64Type, Integer64Type, TimestampType:
		if size < 8*end {
			return errs.Newf(errs.CorruptStream, "%d byte buffer for %d values", size, end)
		}
	case StringType:
		if size < 4*(end+1) {
			return errs.Newf(errs.CorruptStream, "%d byte offset buffer for %d values", size, end)
		}
		if len(bufs) < 3 {
			return errs.New(errs.CorruptStream, "missing string data buffer")
		}
		var dataLen int64
		if bufs[2] != nil {
			dataLen = int64(bufs[2].Len())
		}
		offsets := arrow.Int32Traits.CastFromBytes(bufs[1].Bytes())[d.Offset() : int(end)+1]
		prev := int32(0)
		for i, off := range offsets {
			if off < 0 || (i > 0 && off < prev) || int64(off) > dataLen {
				return errs.Newf(errs.CorruptStream, "invalid string offset %d at %d", off, i)
			}
			prev = off
		}
	}
	return nil
}
