package csv

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/errs"
)

const sample = `id,price,name
10,1.5,apple
20,2.5,banana
30,3.25,cherry
`

func readString(t *testing.T, input string, ro ReadOptions, po ParseOptions) (*data.Table, error) {
	t.Helper()
	table, err := Read(strings.NewReader(input), ro, po)
	if err == nil {
		t.Cleanup(table.Release)
	}
	return table, err
}

func checkSample(t *testing.T, table *data.Table, names ...string) {
	t.Helper()
	require := require.New(t)

	require.Equal(3, table.NumRows())
	require.Equal(names, table.ColumnNames())

	ids, err := table.Column(0)
	require.NoError(err)
	require.Equal(data.Integer64Type, ids.DType())
	id, err := ids.Int64At(2)
	require.NoError(err)
	require.EqualValues(30, id)

	prices, err := table.Column(1)
	require.NoError(err)
	require.Equal(data.Float64Type, prices.DType())
	price, err := prices.Float64At(2)
	require.NoError(err)
	require.Equal(3.25, price)

	fruits, err := table.Column(2)
	require.NoError(err)
	require.Equal(data.StringType, fruits.DType())
	name, err := fruits.StringAt(1)
	require.NoError(err)
	require.Equal("banana", name)
}

func TestDefaultOptions(t *testing.T) {
	require := require.New(t)

	po := DefaultParseOptions()
	require.Equal(ParseOptions{
		Delimiter:        ',',
		Quoting:          true,
		QuoteChar:        '"',
		DoubleQuote:      true,
		EscapeChar:       '\\',
		IgnoreEmptyLines: true,
	}, po)
	require.NoError(po.Validate())

	ro := DefaultReadOptions()
	require.Equal(ReadOptions{UseThreads: true, BlockSize: 1 << 20}, ro)
	require.NoError(ro.Validate())

	// Pure: callers can mutate the result freely.
	po.Delimiter = ';'
	require.Equal(',', DefaultParseOptions().Delimiter)
}

func TestReadWithHeader(t *testing.T) {
	table, err := readString(t, sample, DefaultReadOptions(), DefaultParseOptions())
	require.NoError(t, err)
	checkSample(t, table, "id", "price", "name")
}

func TestReadSingleThreaded(t *testing.T) {
	require := require.New(t)
	ro := DefaultReadOptions()
	ro.UseThreads = false
	serial, err := readString(t, sample, ro, DefaultParseOptions())
	require.NoError(err)
	parallel, err := readString(t, sample, DefaultReadOptions(), DefaultParseOptions())
	require.NoError(err)
	require.True(serial.Equal(parallel))
}

func TestReadColumnNames(t *testing.T) {
	body := sample[strings.Index(sample, "\n")+1:]
	ro := DefaultReadOptions()
	ro.ColumnNames = []string{"a", "b", "c"}
	table, err := readString(t, body, ro, DefaultParseOptions())
	require.NoError(t, err)
	checkSample(t, table, "a", "b", "c")
}

func TestReadAutogenerateColumnNames(t *testing.T) {
	body := sample[strings.Index(sample, "\n")+1:]
	ro := DefaultReadOptions()
	ro.AutogenerateColumnNames = true
	table, err := readString(t, body, ro, DefaultParseOptions())
	require.NoError(t, err)
	checkSample(t, table, "f0", "f1", "f2")
}

func TestReadSkipRows(t *testing.T) {
	ro := DefaultReadOptions()
	ro.SkipRows = 2
	table, err := readString(t, "# exported\n# by hand\n"+sample, ro, DefaultParseOptions())
	require.NoError(t, err)
	checkSample(t, table, "id", "price", "name")
}

func TestReadDelimiter(t *testing.T) {
	po := DefaultParseOptions()
	po.Delimiter = ';'
	table, err := readString(t, strings.ReplaceAll(sample, ",", ";"), DefaultReadOptions(), po)
	require.NoError(t, err)
	checkSample(t, table, "id", "price", "name")
}

func TestReadQuotedValues(t *testing.T) {
	require := require.New(t)
	input := "id,quote\n10,\"say \"\"hi\"\", then go\"\n20,plain\n"
	table, err := readString(t, input, DefaultReadOptions(), DefaultParseOptions())
	require.NoError(err)
	col, err := table.ColumnByName("quote")
	require.NoError(err)
	s, err := col.StringAt(0)
	require.NoError(err)
	require.Equal(`say "hi", then go`, s)
}

func TestReadSmallBlocks(t *testing.T) {
	require := require.New(t)
	reg := NewRegistry()
	id := reg.Alloc(strings.NewReader(sample))
	defer reg.Release(id)

	ro := DefaultReadOptions()
	ro.BlockSize = 3
	in := NewStream(reg, id)
	table, err := ReadStream(in, ro, DefaultParseOptions())
	require.NoError(err)
	defer table.Release()
	checkSample(t, table, "id", "price", "name")

	pos, err := in.Tell()
	require.NoError(err)
	require.EqualValues(len(sample), pos)
	closed, err := in.Closed()
	require.NoError(err)
	require.True(closed)
}

func TestReadEmpty(t *testing.T) {
	require := require.New(t)
	table, err := readString(t, "", DefaultReadOptions(), DefaultParseOptions())
	require.NoError(err)
	require.Zero(table.NumCols())
	require.Zero(table.NumRows())

	ro := DefaultReadOptions()
	ro.ColumnNames = []string{"x", "y"}
	table, err = readString(t, "", ro, DefaultParseOptions())
	require.NoError(err)
	require.Equal([]string{"x", "y"}, table.ColumnNames())
	require.Zero(table.NumRows())
}

func TestReadUnsupportedDialect(t *testing.T) {
	for name, mutate := range map[string]func(*ParseOptions){
		"no quoting":      func(po *ParseOptions) { po.Quoting = false },
		"single quote":    func(po *ParseOptions) { po.QuoteChar = '\'' },
		"no double quote": func(po *ParseOptions) { po.DoubleQuote = false },
		"escaping":        func(po *ParseOptions) { po.Escaping = true },
		"keep empty":      func(po *ParseOptions) { po.IgnoreEmptyLines = false },
	} {
		t.Run(name, func(t *testing.T) {
			po := DefaultParseOptions()
			mutate(&po)
			_, err := readString(t, sample, DefaultReadOptions(), po)
			require.ErrorIs(t, err, errs.Unsupported)
		})
	}
}

func TestReadInvalidOptions(t *testing.T) {
	ro := DefaultReadOptions()
	ro.BlockSize = 0
	_, err := readString(t, sample, ro, DefaultParseOptions())
	require.ErrorIs(t, err, errs.InvalidArgument)

	po := DefaultParseOptions()
	po.Delimiter = '\n'
	_, err = readString(t, sample, DefaultReadOptions(), po)
	require.ErrorIs(t, err, errs.InvalidArgument)
}

func TestReadNullNumber(t *testing.T) {
	_, err := readString(t, "id,name\n10,a\n,b\n", DefaultReadOptions(), DefaultParseOptions())
	require.ErrorIs(t, err, errs.Unsupported)
}

func TestReadMalformed(t *testing.T) {
	_, err := readString(t, "id,name\n10,\"open\n20,b\n", DefaultReadOptions(), DefaultParseOptions())
	require.ErrorIs(t, err, errs.CorruptStream)
}

type failingStreams struct {
	after int
	reads int
	pos   int64
}

func (f *failingStreams) Read(id StreamID, n int) ([]byte, error) {
	f.reads++
	if f.reads > f.after {
		return nil, errors.New("disk on fire")
	}
	chunk := "id,name\n"
	if n < len(chunk) {
		chunk = chunk[:n]
	}
	f.pos += int64(len(chunk))
	return []byte(chunk), nil
}

func (f *failingStreams) Tell(id StreamID) (int64, error) { return f.pos, nil }

func (f *failingStreams) Closed(id StreamID) (bool, error) { return false, nil }

func TestForeignFailureIsIoError(t *testing.T) {
	ro := DefaultReadOptions()
	ro.BlockSize = 4
	for _, after := range []int{0, 1, 5} {
		t.Run(fmt.Sprintf("after %d reads", after), func(t *testing.T) {
			_, err := ReadStream(NewStream(&failingStreams{after: after}, 7), ro, DefaultParseOptions())
			require.ErrorIs(t, err, errs.IoError)
			require.Contains(t, err.Error(), "disk on fire")
		})
	}
}

// stallingStreams never closes. It returns data every dataEvery reads and
// reports position pos, moved only when advance is set.
type stallingStreams struct {
	dataEvery int
	advance   bool
	tellErr   error
	reads     int
	pos       int64
}

func (s *stallingStreams) Read(id StreamID, n int) ([]byte, error) {
	s.reads++
	if s.dataEvery == 0 || s.reads%s.dataEvery != 0 {
		return nil, nil
	}
	if s.advance {
		s.pos++
	}
	return []byte("x"), nil
}

func (s *stallingStreams) Tell(id StreamID) (int64, error) { return s.pos, s.tellErr }

func (s *stallingStreams) Closed(id StreamID) (bool, error) { return false, nil }

func TestStalledStreamFails(t *testing.T) {
	ro := DefaultReadOptions()
	ro.BlockSize = 4

	cases := map[string]*stallingStreams{
		"never returns data":  {},
		"data without moving": {dataEvery: 1},
		"tell fails":          {dataEvery: 1, advance: true, tellErr: errors.New("tell broke")},
	}
	for name, foreign := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadStream(NewStream(foreign, 3), ro, DefaultParseOptions())
			require.ErrorIs(t, err, errs.IoError)
			if foreign.tellErr == nil {
				require.ErrorIs(t, err, io.ErrNoProgress)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	require := require.New(t)
	reg := NewRegistry()
	a := reg.Alloc(strings.NewReader("hello"))
	b := reg.Alloc(strings.NewReader("world"))
	require.NotEqual(a, b)
	require.Equal(2, reg.Len())

	chunk, err := reg.Read(a, 3)
	require.NoError(err)
	require.Equal("hel", string(chunk))
	pos, err := reg.Tell(a)
	require.NoError(err)
	require.EqualValues(3, pos)

	reg.Release(a)
	_, err = reg.Read(a, 1)
	require.Error(err)
	_, err = NewStream(reg, a).Read(1)
	require.ErrorIs(err, errs.IoError)
	require.Equal(1, reg.Len())
}
