package data

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

const testArrSize = 2079

func TestBoolBuilder(t *testing.T) {
	require := require.New(t)

	b, err := NewBuilder(BoolType)
	require.NoError(err)
	for i := 0; i < testArrSize; i++ {
		require.NoError(b.AppendBool(i%3 == 0))
	}
	arr, err := b.Finish()
	require.NoError(err)
	defer arr.Release()

	require.Equal(BoolType, arr.DType())
	require.Equal(testArrSize, arr.Len())
	for i := 0; i < testArrSize; i++ {
		v, err := arr.BoolAt(i)
		require.NoError(err)
		require.Equal(i%3 == 0, v, "bool at %d", i)
	}
}

func TestInt64Builder(t *testing.T) {
	require := require.New(t)

	b, err := NewBuilder(Integer64Type)
	require.NoError(err)
	for i := 0; i < testArrSize; i++ {
		require.NoError(b.AppendInt64(int64(i * 7)))
	}
	arr, err := b.Finish()
	require.NoError(err)
	defer arr.Release()

	require.Equal(testArrSize, arr.Len())
	for i := 0; i < testArrSize; i++ {
		v, err := arr.Int64At(i)
		require.NoError(err)
		require.Equal(int64(i*7), v)
	}
}

func TestFloat64Builder(t *testing.T) {
	require := require.New(t)

	b, err := NewBuilder(Float64Type)
	require.NoError(err)
	for i := 0; i < testArrSize; i++ {
		require.NoError(b.AppendFloat64(float64(i) * 1.5))
	}
	arr, err := b.Finish()
	require.NoError(err)
	defer arr.Release()

	for i := 0; i < testArrSize; i++ {
		v, err := arr.Float64At(i)
		require.NoError(err)
		require.Equal(float64(i)*1.5, v)
	}
}

func TestStringBuilder(t *testing.T) {
	require := require.New(t)

	b, err := NewBuilder(StringType)
	require.NoError(err)
	for i := 0; i < testArrSize; i++ {
		if i%2 == 0 {
			require.NoError(b.AppendString(fmt.Sprintf("s%d", i)))
		} else {
			require.NoError(b.AppendBytes([]byte(fmt.Sprintf("s%d", i))))
		}
	}
	arr, err := b.Finish()
	require.NoError(err)
	defer arr.Release()

	for i := 0; i < testArrSize; i++ {
		v, err := arr.StringAt(i)
		require.NoError(err)
		require.Equal(fmt.Sprintf("s%d", i), v)
	}
}

func TestTimestampBuilder(t *testing.T) {
	require := require.New(t)

	start := time.Date(2020, 5, 17, 8, 30, 0, 123, time.UTC)
	b, err := NewBuilder(TimestampType)
	require.NoError(err)
	for i := 0; i < testArrSize; i++ {
		require.NoError(b.AppendTimestamp(start.Add(time.Duration(i) * time.Second)))
	}
	arr, err := b.Finish()
	require.NoError(err)
	defer arr.Release()

	for i := 0; i < testArrSize; i++ {
		v, err := arr.TimestampAt(i)
		require.NoError(err)
		require.True(start.Add(time.Duration(i)*time.Second).Equal(v), "timestamp at %d", i)
	}
}

func TestTimestampOutOfRange(t *testing.T) {
	require := require.New(t)

	b, err := NewBuilder(TimestampType)
	require.NoError(err)
	defer b.Release()

	for _, v := range []time.Time{
		time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		require.True(errors.Is(b.AppendTimestamp(v), errs.RangeError), "%s", v)
	}
	ok := time.Date(2262, 1, 1, 0, 0, 0, 0, time.UTC)
	err = b.AppendTimestamps([]time.Time{ok, time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.True(errors.Is(err, errs.RangeError))
	require.Equal(0, b.Len())

	require.NoError(b.AppendTimestamps([]time.Time{ok, time.Unix(0, 0)}))
	require.Equal(2, b.Len())
}

func TestBatchAppendMatchesSingle(t *testing.T) {
	require := require.New(t)

	values := []int64{5, -1, 42, 0, 9}

	single, err := NewBuilder(Integer64Type)
	require.NoError(err)
	for _, v := range values {
		require.NoError(single.AppendInt64(v))
	}
	a1, err := single.Finish()
	require.NoError(err)
	defer a1.Release()

	batch, err := NewBuilder(Integer64Type)
	require.NoError(err)
	require.NoError(batch.AppendInt64s(values))
	a2, err := batch.Finish()
	require.NoError(err)
	defer a2.Release()

	require.Equal(a1.Len(), a2.Len())
	for i := range values {
		v1, _ := a1.Int64At(i)
		v2, _ := a2.Int64At(i)
		require.Equal(v1, v2)
	}

	ts := []time.Time{time.Unix(1, 0), time.Unix(2, 5)}
	tb, err := NewBuilder(TimestampType)
	require.NoError(err)
	require.NoError(tb.AppendTimestamps(ts))
	ta, err := tb.Finish()
	require.NoError(err)
	defer ta.Release()
	got, err := ta.TimestampAt(1)
	require.NoError(err)
	require.True(ts[1].Equal(got))
}

func TestArrayOutlivesBuilder(t *testing.T) {
	require := require.New(t)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	b, err := NewBuilderWithAllocator(mem, StringType)
	require.NoError(err)
	require.NoError(b.AppendStrings([]string{"x", "yy", "zzz"}))
	arr, err := b.Finish()
	require.NoError(err)
	b.Release()

	require.Equal(3, arr.Len())
	for i, want := range []string{"x", "yy", "zzz"} {
		v, err := arr.StringAt(i)
		require.NoError(err)
		require.Equal(want, v)
	}
	arr.Release()
}

func TestBuilderClosed(t *testing.T) {
	require := require.New(t)

	b, err := NewBuilder(Integer64Type)
	require.NoError(err)
	arr, err := b.Finish()
	require.NoError(err)
	defer arr.Release()

	require.Equal(0, arr.Len())
	err = b.AppendInt64(1)
	require.True(errors.Is(err, errs.BuilderClosed))
	// A closed builder reports BuilderClosed even for the wrong dtype.
	err = b.AppendString("x")
	require.True(errors.Is(err, errs.BuilderClosed))
	_, err = b.Finish()
	require.True(errors.Is(err, errs.BuilderClosed))
}

func TestBuilderTypeMismatch(t *testing.T) {
	require := require.New(t)

	b, err := NewBuilder(Float64Type)
	require.NoError(err)
	defer b.Release()

	require.True(errors.Is(b.AppendInt64(1), errs.TypeMismatch))
	require.True(errors.Is(b.AppendBool(true), errs.TypeMismatch))
	require.True(errors.Is(b.AppendStrings([]string{"a"}), errs.TypeMismatch))
	require.Equal(0, b.Len())
}

func TestUnknownDtype(t *testing.T) {
	_, err := NewBuilder(DType(999))
	require.True(t, errors.Is(err, errs.UnknownDtype))
}

func makeArray(t *testing.T, dt DType) *Array {
	b, err := NewBuilder(dt)
	require.NoError(t, err)
	switch dt {
	case BoolType:
		require.NoError(t, b.AppendBool(true))
	case Float64Type:
		require.NoError(t, b.AppendFloat64(1))
	case Integer64Type:
		require.NoError(t, b.AppendInt64(1))
	case StringType:
		require.NoError(t, b.AppendString("1"))
	case TimestampType:
		require.NoError(t, b.AppendTimestamp(time.Unix(1, 0)))
	}
	arr, err := b.Finish()
	require.NoError(t, err)
	return arr
}

func accessorErrors(a *Array, i int) map[DType]error {
	_, eb := a.BoolAt(i)
	_, ef := a.Float64At(i)
	_, ei := a.Int64At(i)
	_, es := a.StringAt(i)
	_, et := a.TimestampAt(i)
	return map[DType]error{
		BoolType:      eb,
		Float64Type:   ef,
		Integer64Type: ei,
		StringType:    es,
		TimestampType: et,
	}
}

func TestWrongAccessor(t *testing.T) {
	for _, dt := range DTypes {
		t.Run(dt.String(), func(t *testing.T) {
			arr := makeArray(t, dt)
			defer arr.Release()

			for other, err := range accessorErrors(arr, 0) {
				if other == dt {
					require.NoError(t, err)
					continue
				}
				require.True(t, errors.Is(err, errs.TypeMismatch), "%s accessor on %s: %v", other, dt, err)
			}
			for _, i := range []int{-1, 1} {
				require.True(t, errors.Is(accessorErrors(arr, i)[dt], errs.RangeError), "index %d", i)
			}
		})
	}
}

func TestReleasedArray(t *testing.T) {
	arr := makeArray(t, Integer64Type)
	arr.Release()
	arr.Release()

	require.Equal(t, 0, arr.Len())
	_, err := arr.Int64At(0)
	require.True(t, errors.Is(err, errs.Released))
}
