package data

import (
	"strconv"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// Table is an immutable set of equal-length columns described by a Schema.
// It is safe for concurrent readers.
type Table struct {
	schema *Schema
	cols   []arrow.Array
	rows   int
	refs   atomic.Int64
}

// NewTable validates arrays against schema and builds a Table.
//
// On success the arrays are consumed: their handles become invalid and
// report Released. On failure nothing is consumed. Borrowed column views of
// another table are retained rather than consumed.
func NewTable(schema *Schema, arrays []*Array) (*Table, error) {
	if schema == nil {
		return nil, errs.New(errs.SchemaArrayMismatch, "nil schema")
	}
	if len(arrays) != len(schema.fields) {
		return nil, errs.Newf(errs.SchemaArrayMismatch, "schema has %d fields, got %d arrays", len(schema.fields), len(arrays))
	}

	rows := 0
	seen := make(map[*Array]struct{}, len(arrays))
	for i, a := range arrays {
		if _, dup := seen[a]; dup && !a.borrowed {
			return nil, errs.Newf(errs.SchemaArrayMismatch, "column %d: array handle passed twice", i)
		}
		seen[a] = struct{}{}
		if err := a.live(); err != nil {
			return nil, errs.Wrap(err, errs.SchemaArrayMismatch, columnLabel(i))
		}
		if a.dtype != schema.fields[i].dtype {
			return nil, errs.Newf(errs.SchemaArrayMismatch, "column %d: array is %s, field %q is %s",
				i, a.dtype, schema.fields[i].name, schema.fields[i].dtype)
		}
		if i == 0 {
			rows = a.arr.Len()
		} else if a.arr.Len() != rows {
			return nil, errs.Newf(errs.SchemaArrayMismatch, "column %d: length %d, expected %d", i, a.arr.Len(), rows)
		}
	}

	cols := make([]arrow.Array, len(arrays))
	for i, a := range arrays {
		if a.borrowed {
			a.arr.Retain()
			cols[i] = a.arr
			continue
		}
		cols[i] = a.take()
	}
	return newTable(schema, cols, rows), nil
}

func newTable(schema *Schema, cols []arrow.Array, rows int) *Table {
	t := &Table{schema: schema, cols: cols, rows: rows}
	t.refs.Store(1)
	return t
}

// NewTableFromArrow builds a Table from Arrow columns. The columns are
// retained, so the caller keeps its own references.
func NewTableFromArrow(as *arrow.Schema, cols []arrow.Array) (*Table, error) {
	schema, err := SchemaFromArrow(as)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(schema.fields) {
		return nil, errs.Newf(errs.SchemaArrayMismatch, "schema has %d fields, got %d arrays", len(schema.fields), len(cols))
	}
	rows := 0
	for i, c := range cols {
		dt, err := DTypeOf(c.DataType())
		if err != nil || dt != schema.fields[i].dtype {
			return nil, errs.Newf(errs.SchemaArrayMismatch, "column %d: type %s does not match field %q", i, c.DataType(), schema.fields[i].name)
		}
		if c.NullN() > 0 {
			return nil, errs.Newf(errs.SchemaArrayMismatch, "column %d: %d null values", i, c.NullN())
		}
		if i == 0 {
			rows = c.Len()
		} else if c.Len() != rows {
			return nil, errs.Newf(errs.SchemaArrayMismatch, "column %d: length %d, expected %d", i, c.Len(), rows)
		}
	}
	owned := make([]arrow.Array, len(cols))
	for i, c := range cols {
		c.Retain()
		owned[i] = c
	}
	return newTable(schema, owned, rows), nil
}

// NewTableFromRecords joins record batches sharing schema into one Table.
// With no records the Table has no rows. The records are not consumed.
func NewTableFromRecords(mem memory.Allocator, schema *arrow.Schema, records []arrow.Record) (*Table, error) {
	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, col := range cols {
			if col != nil {
				col.Release()
			}
		}
	}()

	for i := range cols {
		switch len(records) {
		case 0:
			b := array.NewBuilder(mem, schema.Field(i).Type)
			cols[i] = b.NewArray()
			b.Release()
		case 1:
			cols[i] = records[0].Column(i)
			cols[i].Retain()
		default:
			chunks := make([]arrow.Array, len(records))
			for j, rec := range records {
				if !rec.Schema().Equal(schema) {
					return nil, errs.Newf(errs.SchemaArrayMismatch, "record %d: schema differs", j)
				}
				chunks[j] = rec.Column(i)
			}
			col, err := array.Concatenate(chunks, mem)
			if err != nil {
				return nil, errs.Wrap(err, errs.BuildError, "failed to concatenate column "+schema.Field(i).Name)
			}
			cols[i] = col
		}
	}

	return NewTableFromArrow(schema, cols)
}

func columnLabel(i int) string {
	return "column " + strconv.Itoa(i)
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema { return t.schema }

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.cols) }

// Field returns the field describing column i.
func (t *Table) Field(i int) (Field, error) {
	return t.schema.Field(i)
}

// Column returns a borrowed view of column i.
func (t *Table) Column(i int) (*Array, error) {
	if i < 0 || i >= len(t.cols) {
		return nil, errs.Newf(errs.RangeError, "column index %d out of range [0, %d)", i, len(t.cols))
	}
	return &Array{arr: t.cols[i], dtype: t.schema.fields[i].dtype, borrowed: true}, nil
}

// ColumnByName returns a borrowed view of the first column called name.
func (t *Table) ColumnByName(name string) (*Array, error) {
	idx := t.schema.FieldIndices(name)
	if len(idx) == 0 {
		return nil, errs.Newf(errs.NotFound, "no column named %q", name)
	}
	return t.Column(idx[0])
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.schema.fields))
	for i, f := range t.schema.fields {
		names[i] = f.name
	}
	return names
}

// inRange reports whether [offset, offset+length) lies within rows without
// overflowing.
func inRange(offset, length, rows int) bool {
	return offset >= 0 && length >= 0 && offset <= rows && length <= rows-offset
}

// Slice returns the rows [offset, offset+length) as a new Table sharing
// storage with t.
func (t *Table) Slice(offset, length int) (*Table, error) {
	if !inRange(offset, length, t.rows) {
		return nil, errs.Newf(errs.RangeError, "slice [%d, %d+%d) out of range for %d rows", offset, offset, length, t.rows)
	}
	cols := make([]arrow.Array, len(t.cols))
	for i, c := range t.cols {
		cols[i] = array.NewSlice(c, int64(offset), int64(offset+length))
	}
	return newTable(t.schema, cols, length), nil
}

// NewRecord returns rows [offset, offset+length) as an Arrow record.
// The caller must release it.
func (t *Table) NewRecord(offset, length int) (arrow.Record, error) {
	if !inRange(offset, length, t.rows) {
		return nil, errs.Newf(errs.RangeError, "record [%d, %d+%d) out of range for %d rows", offset, offset, length, t.rows)
	}
	cols := make([]arrow.Array, len(t.cols))
	for i, c := range t.cols {
		cols[i] = array.NewSlice(c, int64(offset), int64(offset+length))
	}
	rec := array.NewRecord(t.schema.Arrow(), cols, int64(length))
	for _, c := range cols {
		c.Release()
	}
	return rec, nil
}

// Equal reports whether both tables have the same schema and values.
func (t *Table) Equal(o *Table) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || t.rows != o.rows || !t.schema.Equal(o.schema) {
		return false
	}
	for i := range t.cols {
		if !array.Equal(t.cols[i], o.cols[i]) {
			return false
		}
	}
	return true
}

// Retain adds a reference to the table.
func (t *Table) Retain() {
	t.refs.Add(1)
}

// Release drops a reference and frees the columns once none remain.
func (t *Table) Release() {
	if t.refs.Add(-1) != 0 {
		return
	}
	for _, c := range t.cols {
		c.Release()
	}
	t.cols = nil
}
