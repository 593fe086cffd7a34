package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/errs"
)

func mustField(t testing.TB, name string, dt data.DType) data.Field {
	f, err := data.NewField(name, dt)
	require.NoError(t, err)
	return f
}

// buildTable returns a table with one column of every dtype.
func buildTable(t testing.TB, rows int) *data.Table {
	require := require.New(t)

	schema, err := data.NewSchema([]data.Field{
		mustField(t, "flag", data.BoolType),
		mustField(t, "score", data.Float64Type),
		mustField(t, "id", data.Integer64Type),
		mustField(t, "name", data.StringType),
		mustField(t, "at", data.TimestampType),
	})
	require.NoError(err)
	meta, err := data.NewMetadata([]string{"source", "source", "unit"}, []string{"a", "b", "ms"})
	require.NoError(err)
	schema = schema.WithMetadata(meta)

	bb, _ := data.NewBuilder(data.BoolType)
	fb, _ := data.NewBuilder(data.Float64Type)
	ib, _ := data.NewBuilder(data.Integer64Type)
	sb, _ := data.NewBuilder(data.StringType)
	tb, _ := data.NewBuilder(data.TimestampType)
	base := time.Date(2021, 1, 2, 3, 4, 5, 6, time.UTC)
	for i := 0; i < rows; i++ {
		require.NoError(bb.AppendBool(i%2 == 1))
		require.NoError(fb.AppendFloat64(float64(i) / 4))
		require.NoError(ib.AppendInt64(int64(i) - 5))
		require.NoError(sb.AppendString(fmt.Sprintf("row-%d", i)))
		require.NoError(tb.AppendTimestamp(base.Add(time.Duration(i) * time.Millisecond)))
	}

	var arrays []*data.Array
	for _, b := range []*data.Builder{bb, fb, ib, sb, tb} {
		arr, err := b.Finish()
		require.NoError(err)
		arrays = append(arrays, arr)
	}
	table, err := data.NewTable(schema, arrays)
	require.NoError(err)
	return table
}

func TestRoundTrip(t *testing.T) {
	for _, rows := range []int{0, 1, 7, 100, 1000} {
		for _, batch := range []int{1, 3, 64, DefaultBatchRows} {
			t.Run(fmt.Sprintf("rows=%d/batch=%d", rows, batch), func(t *testing.T) {
				require := require.New(t)

				table := buildTable(t, rows)
				defer table.Release()

				c := New(WithBatchRows(batch))
				buf, err := c.Marshal(table)
				require.NoError(err)

				size, err := c.Size(table)
				require.NoError(err)
				require.Equal(int64(len(buf)), size, "dry run size")

				got, err := c.Unmarshal(buf)
				require.NoError(err)
				defer got.Release()

				require.Equal(rows, got.NumRows())
				require.True(table.Equal(got), "round trip")
			})
		}
	}
}

func TestMetadataSurvives(t *testing.T) {
	require := require.New(t)

	table := buildTable(t, 3)
	defer table.Release()

	c := New()
	buf, err := c.Marshal(table)
	require.NoError(err)
	got, err := c.Unmarshal(buf)
	require.NoError(err)
	defer got.Release()

	meta := got.Schema().Metadata()
	require.Equal(3, meta.Len())
	v, ok := meta.Lookup("source")
	require.True(ok)
	require.Equal("b", v)
	k, err := meta.Key(0)
	require.NoError(err)
	require.Equal("source", k)
}

func TestWriteIntoExactBuffer(t *testing.T) {
	require := require.New(t)

	table := buildTable(t, 250)
	defer table.Release()

	c := New(WithBatchRows(100))
	size, err := c.Size(table)
	require.NoError(err)

	buf := make([]byte, size)
	w := NewFixedWriter(buf)
	n, err := c.Write(w, table)
	require.NoError(err)
	require.Equal(size, n)
	require.Equal(int(size), w.Len())

	got, err := c.Read(bytes.NewReader(buf))
	require.NoError(err)
	defer got.Release()
	require.True(table.Equal(got))
}

func TestWriteShortBuffer(t *testing.T) {
	require := require.New(t)

	table := buildTable(t, 50)
	defer table.Release()

	c := New()
	size, err := c.Size(table)
	require.NoError(err)

	_, err = c.Write(NewFixedWriter(make([]byte, size-1)), table)
	require.Error(err)
	require.True(errors.Is(err, errs.IoError))
}

func TestCompression(t *testing.T) {
	for _, comp := range []Compression{LZ4, Zstd} {
		t.Run(comp.String(), func(t *testing.T) {
			require := require.New(t)

			table := buildTable(t, 500)
			defer table.Release()

			c := New(WithCompression(comp), WithBatchRows(128))
			buf, err := c.Marshal(table)
			require.NoError(err)
			size, err := c.Size(table)
			require.NoError(err)
			require.Equal(int64(len(buf)), size)

			got, err := c.Unmarshal(buf)
			require.NoError(err)
			defer got.Release()
			require.True(table.Equal(got))
		})
	}
}

func TestParseCompression(t *testing.T) {
	require := require.New(t)

	for in, want := range map[string]Compression{"": NoCompression, "none": NoCompression, "lz4": LZ4, "zstd": Zstd} {
		got, err := ParseCompression(in)
		require.NoError(err)
		require.Equal(want, got)
	}
	_, err := ParseCompression("brotli")
	require.True(errors.Is(err, errs.Unsupported))
}

func TestReadReleasesMemory(t *testing.T) {
	require := require.New(t)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	table := buildTable(t, 300)
	defer table.Release()

	c := New(WithAllocator(mem), WithBatchRows(64))
	buf, err := c.Marshal(table)
	require.NoError(err)

	got, err := c.Unmarshal(buf)
	require.NoError(err)
	require.True(table.Equal(got))
	got.Release()
}

func TestCorruptStream(t *testing.T) {
	require := require.New(t)

	table := buildTable(t, 20)
	defer table.Release()

	c := New()
	buf, err := c.Marshal(table)
	require.NoError(err)

	for _, bad := range [][]byte{nil, buf[:len(buf)/2], []byte("definitely not arrow")} {
		_, err := c.Unmarshal(bad)
		require.Error(err)
		require.True(errors.Is(err, errs.CorruptStream), "got %v", err)
	}
}

type failingReader struct {
	r     io.Reader
	after int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("device unplugged")
	}
	if len(p) > f.after {
		p = p[:f.after]
	}
	n, err := f.r.Read(p)
	f.after -= n
	return n, err
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestSourceAndSinkFailures(t *testing.T) {
	require := require.New(t)

	table := buildTable(t, 20)
	defer table.Release()

	c := New()
	buf, err := c.Marshal(table)
	require.NoError(err)

	_, err = c.Read(&failingReader{r: bytes.NewReader(buf), after: len(buf) / 2})
	require.True(errors.Is(err, errs.IoError), "got %v", err)

	_, err = c.Write(failingWriter{}, table)
	require.True(errors.Is(err, errs.IoError), "got %v", err)
}
