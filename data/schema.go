package data

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// Field is a named, typed column description. It is a value type, so
// attaching it to a Schema copies it and the Schema becomes the sole owner
// of what it holds.
type Field struct {
	name  string
	dtype DType
}

// NewField returns a new Field.
func NewField(name string, dtype DType) (Field, error) {
	if !dtype.Valid() {
		return Field{}, errs.Newf(errs.UnknownDtype, "can't create field %q with dtype %d", name, int(dtype))
	}
	return Field{name: name, dtype: dtype}, nil
}

// Name returns the field name.
func (f Field) Name() string { return f.name }

// DType returns the field data type.
func (f Field) DType() DType { return f.dtype }

func (f Field) arrowField() arrow.Field {
	typ, _ := f.dtype.arrowType()
	return arrow.Field{Name: f.name, Type: typ}
}

// Metadata is an ordered list of key/value pairs. Keys need not be unique.
type Metadata struct {
	keys   []string
	values []string
}

// NewMetadata builds Metadata from parallel key and value slices.
func NewMetadata(keys, values []string) (Metadata, error) {
	if len(keys) != len(values) {
		return Metadata{}, errs.Newf(errs.RangeError, "metadata has %d keys and %d values", len(keys), len(values))
	}
	return Metadata{
		keys:   append([]string(nil), keys...),
		values: append([]string(nil), values...),
	}, nil
}

// Set appends a key/value pair.
func (m *Metadata) Set(key, value string) {
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Len returns the number of pairs.
func (m Metadata) Len() int { return len(m.keys) }

// Key returns the key at position i.
func (m Metadata) Key(i int) (string, error) {
	if i < 0 || i >= len(m.keys) {
		return "", errs.Newf(errs.RangeError, "metadata index %d out of range [0, %d)", i, len(m.keys))
	}
	return m.keys[i], nil
}

// Value returns the value at position i.
func (m Metadata) Value(i int) (string, error) {
	if i < 0 || i >= len(m.values) {
		return "", errs.Newf(errs.RangeError, "metadata index %d out of range [0, %d)", i, len(m.values))
	}
	return m.values[i], nil
}

// Lookup returns the most recently appended value for key.
func (m Metadata) Lookup(key string) (string, bool) {
	for i := len(m.keys) - 1; i >= 0; i-- {
		if m.keys[i] == key {
			return m.values[i], true
		}
	}
	return "", false
}

func (m Metadata) clone() Metadata {
	return Metadata{
		keys:   append([]string(nil), m.keys...),
		values: append([]string(nil), m.values...),
	}
}

func (m Metadata) equal(o Metadata) bool {
	if len(m.keys) != len(o.keys) {
		return false
	}
	for i := range m.keys {
		if m.keys[i] != o.keys[i] || m.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

// Schema is an ordered list of fields plus metadata. A Schema is never
// modified after construction; WithMetadata returns a new one.
type Schema struct {
	fields []Field
	meta   Metadata
}

// NewSchema returns a Schema over a copy of fields. An empty list is legal.
func NewSchema(fields []Field) (*Schema, error) {
	for i, f := range fields {
		if !f.dtype.Valid() {
			return nil, errs.Newf(errs.UnknownDtype, "field %d (%q) has no valid dtype", i, f.name)
		}
	}
	return &Schema{fields: append([]Field(nil), fields...)}, nil
}

// WithMetadata returns a copy of s carrying meta.
func (s *Schema) WithMetadata(meta Metadata) *Schema {
	return &Schema{
		fields: s.fields,
		meta:   meta.clone(),
	}
}

// NumFields returns the number of fields.
func (s *Schema) NumFields() int { return len(s.fields) }

// Field returns the field at position i.
func (s *Schema) Field(i int) (Field, error) {
	if i < 0 || i >= len(s.fields) {
		return Field{}, errs.Newf(errs.RangeError, "field index %d out of range [0, %d)", i, len(s.fields))
	}
	return s.fields[i], nil
}

// Fields returns a copy of the field list.
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// FieldIndices returns the positions of every field called name.
func (s *Schema) FieldIndices(name string) []int {
	var idx []int
	for i, f := range s.fields {
		if f.name == name {
			idx = append(idx, i)
		}
	}
	return idx
}

// Metadata returns a copy of the schema metadata.
func (s *Schema) Metadata() Metadata {
	return s.meta.clone()
}

// Equal reports whether both schemas have the same fields and metadata.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != o.fields[i] {
			return false
		}
	}
	return s.meta.equal(o.meta)
}

// Arrow returns the equivalent Arrow schema. All fields are non-nullable.
func (s *Schema) Arrow() *arrow.Schema {
	fields := make([]arrow.Field, len(s.fields))
	for i, f := range s.fields {
		fields[i] = f.arrowField()
	}
	var md *arrow.Metadata
	if s.meta.Len() > 0 {
		m := arrow.NewMetadata(s.meta.keys, s.meta.values)
		md = &m
	}
	return arrow.NewSchema(fields, md)
}

// SchemaFromArrow converts an Arrow schema, failing with UnknownDtype for
// columns outside the supported set.
func SchemaFromArrow(as *arrow.Schema) (*Schema, error) {
	fields := make([]Field, as.NumFields())
	for i, af := range as.Fields() {
		dt, err := DTypeOf(af.Type)
		if err != nil {
			return nil, errs.Wrap(err, errs.UnknownDtype, "column "+af.Name)
		}
		fields[i] = Field{name: af.Name, dtype: dt}
	}
	md := as.Metadata()
	meta, err := NewMetadata(md.Keys(), md.Values())
	if err != nil {
		return nil, err
	}
	return &Schema{fields: fields, meta: meta}, nil
}
