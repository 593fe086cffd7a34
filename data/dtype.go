package data

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

// DType is the type tag of a field, builder or array. The tag values are the
// Arrow type ids of the matching storage types.
type DType int

// Supported data types
const (
	BoolType      = DType(arrow.BOOL)
	Float64Type   = DType(arrow.FLOAT64)
	Integer64Type = DType(arrow.INT64)
	StringType    = DType(arrow.STRING)
	TimestampType = DType(arrow.TIMESTAMP) // nanoseconds since the epoch, UTC
)

// DTypes lists every supported tag.
var DTypes = []DType{BoolType, Float64Type, Integer64Type, StringType, TimestampType}

func (dt DType) String() string {
	switch dt {
	case BoolType:
		return "bool"
	case Float64Type:
		return "float64"
	case Integer64Type:
		return "int64"
	case StringType:
		return "string"
	case TimestampType:
		return "timestamp"
	}
	return "<unknown>"
}

// Valid reports whether dt is one of the supported tags.
func (dt DType) Valid() bool {
	_, err := dt.arrowType()
	return err == nil
}

func (dt DType) arrowType() (arrow.DataType, error) {
	switch dt {
	case BoolType:
		return arrow.FixedWidthTypes.Boolean, nil
	case Float64Type:
		return arrow.PrimitiveTypes.Float64, nil
	case Integer64Type:
		return arrow.PrimitiveTypes.Int64, nil
	case StringType:
		return arrow.BinaryTypes.String, nil
	case TimestampType:
		return arrow.FixedWidthTypes.Timestamp_ns, nil
	}
	return nil, errs.Newf(errs.UnknownDtype, "unsupported dtype %d", int(dt))
}

// DTypeOf maps an Arrow data type to its tag. Timestamps must have
// nanosecond resolution.
func DTypeOf(t arrow.DataType) (DType, error) {
	switch t.ID() {
	case arrow.BOOL:
		return BoolType, nil
	case arrow.FLOAT64:
		return Float64Type, nil
	case arrow.INT64:
		return Integer64Type, nil
	case arrow.STRING:
		return StringType, nil
	case arrow.TIMESTAMP:
		if ts, ok := t.(*arrow.TimestampType); ok && ts.Unit == arrow.Nanosecond {
			return TimestampType, nil
		}
	}
	return 0, errs.Newf(errs.UnknownDtype, "unsupported arrow type %s", t)
}
