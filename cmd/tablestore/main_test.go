package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/errs"
	"github.com/VanDung-dev/TableStore-Engine/store"
)

func TestParseID(t *testing.T) {
	require := require.New(t)

	want, err := store.IDFromString("00000000000000000007")
	require.NoError(err)

	got, err := parseID("00000000000000000007")
	require.NoError(err)
	require.Equal(want, got)

	got, err = parseID(want.String())
	require.NoError(err)
	require.Equal(want, got)

	_, err = parseID("short")
	require.ErrorIs(err, errs.InvalidId)
}

func TestWriteCSV(t *testing.T) {
	require := require.New(t)

	b, err := data.NewBuilder(data.StringType)
	require.NoError(err)
	require.NoError(b.AppendStrings([]string{"a", "b"}))
	arr, err := b.Finish()
	require.NoError(err)
	b.Release()

	field, err := data.NewField("letters", data.StringType)
	require.NoError(err)
	schema, err := data.NewSchema([]data.Field{field})
	require.NoError(err)
	table, err := data.NewTable(schema, []*data.Array{arr})
	require.NoError(err)
	defer table.Release()

	var out bytes.Buffer
	require.NoError(writeCSV(&out, table))
	require.Equal("letters\na\nb\n", out.String())
}
