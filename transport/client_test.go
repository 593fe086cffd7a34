package transport

import (
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/TableStore-Engine/codec"
	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/errs"
	"github.com/VanDung-dev/TableStore-Engine/store"
)

func startStore(t *testing.T) *store.Server {
	t.Helper()
	dir := t.TempDir()
	server, err := store.NewServer(store.Config{
		SocketPath: filepath.Join(dir, "store.sock"),
		Dir:        filepath.Join(dir, "objects"),
	})
	require.NoError(t, err)
	require.NoError(t, server.StartAsync())
	t.Cleanup(server.Stop)
	return server
}

func connect(t *testing.T, server *store.Server, opts ...Option) *Client {
	t.Helper()
	client, err := Connect(server.SocketPath(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect() })
	return client
}

func sampleTable(t *testing.T) *data.Table {
	t.Helper()
	require := require.New(t)

	ints, err := data.NewBuilder(data.Integer64Type)
	require.NoError(err)
	require.NoError(ints.AppendInt64s([]int64{1, 2, 3}))
	intArr, err := ints.Finish()
	require.NoError(err)
	ints.Release()

	strs, err := data.NewBuilder(data.StringType)
	require.NoError(err)
	require.NoError(strs.AppendStrings([]string{"a", "b", "c"}))
	strArr, err := strs.Finish()
	require.NoError(err)
	strs.Release()

	numbers, err := data.NewField("id", data.Integer64Type)
	require.NoError(err)
	letters, err := data.NewField("name", data.StringType)
	require.NoError(err)
	schema, err := data.NewSchema([]data.Field{numbers, letters})
	require.NoError(err)

	table, err := data.NewTable(schema, []*data.Array{intArr, strArr})
	require.NoError(err)
	t.Cleanup(table.Release)
	return table
}

func TestWriteThenRead(t *testing.T) {
	require := require.New(t)
	server := startStore(t)
	client := connect(t, server)

	id, err := store.IDFromString("00000000000000000007")
	require.NoError(err)

	table := sampleTable(t)
	n, err := client.Write(table, id)
	require.NoError(err)
	size, err := codec.New().Size(table)
	require.NoError(err)
	require.Equal(size, n)

	got, err := client.Read(id, time.Second)
	require.NoError(err)
	defer got.Release()

	require.Equal(3, got.NumRows())
	col0, err := got.Column(0)
	require.NoError(err)
	v, err := col0.Int64At(1)
	require.NoError(err)
	require.EqualValues(2, v)
	col1, err := got.Column(1)
	require.NoError(err)
	s, err := col1.StringAt(2)
	require.NoError(err)
	require.Equal("c", s)
	require.True(got.Equal(table))

	ok, err := client.Contains(id)
	require.NoError(err)
	require.True(ok)

	require.ErrorIs(client.Delete(id), errs.InvalidArgument)
	require.NoError(client.Release(id))
	require.ErrorIs(client.Release(id), errs.NotAcquired)
	require.NoError(client.Delete(id))
}

func TestWriteExistingID(t *testing.T) {
	server := startStore(t)
	client := connect(t, server)
	id := store.RandomID()

	_, err := client.Write(sampleTable(t), id)
	require.NoError(t, err)
	_, err = client.Write(sampleTable(t), id)
	require.ErrorIs(t, err, errs.ObjectExists)
}

func TestReadDeadline(t *testing.T) {
	server := startStore(t)
	client := connect(t, server)

	deadline := 150 * time.Millisecond
	start := time.Now()
	_, err := client.Read(store.RandomID(), deadline)
	elapsed := time.Since(start)

	require.True(t, errs.IsKind(err, errs.NotFound) || errs.IsKind(err, errs.Timeout), "got %v", err)
	require.Less(t, elapsed, 200*time.Millisecond+deadline/2)
}

func TestUnsealedObjectIsInvisible(t *testing.T) {
	require := require.New(t)
	server := startStore(t)
	writer := connect(t, server)
	reader := connect(t, server)
	id := store.RandomID()

	injected := errors.New("injected failure")
	var observed error
	var wg sync.WaitGroup
	writer.encode = func(w io.Writer, tbl *data.Table) (int64, error) {
		// The object exists but is not sealed while a second client reads it.
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, observed = reader.Read(id, 50*time.Millisecond)
		}()
		wg.Wait()
		return 0, injected
	}

	_, err := writer.Write(sampleTable(t), id)
	require.ErrorIs(err, injected)
	require.True(errs.IsKind(observed, errs.Timeout) || errs.IsKind(observed, errs.NotFound), "got %v", observed)

	// The failed write was aborted, so the id is free again.
	_, err = reader.Read(id, 0)
	require.ErrorIs(err, errs.NotFound)

	writer.encode = writer.codec.Write
	_, err = writer.Write(sampleTable(t), id)
	require.NoError(err)
}

func TestShortWriteIsAborted(t *testing.T) {
	require := require.New(t)
	server := startStore(t)
	client := connect(t, server)
	id := store.RandomID()

	client.encode = func(w io.Writer, tbl *data.Table) (int64, error) {
		n, err := w.Write([]byte("ARROW1"))
		return int64(n), err
	}
	_, err := client.Write(sampleTable(t), id)
	require.ErrorIs(err, errs.IoError)

	stats, err := client.Stats()
	require.NoError(err)
	require.Zero(stats.Objects)
}

func TestConnectFailure(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "missing.sock"), WithDialTimeout(100*time.Millisecond))
	require.ErrorIs(t, err, errs.ConnectionError)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	require := require.New(t)
	server := startStore(t)
	client := connect(t, server)

	require.NoError(client.Disconnect())
	require.NoError(client.Disconnect())

	_, err := client.Contains(store.RandomID())
	require.ErrorIs(err, errs.ConnectionError)
}

func TestCreateSealByHand(t *testing.T) {
	require := require.New(t)
	server := startStore(t)
	client := connect(t, server, WithName("manual"))
	id := store.RandomID()

	table := sampleTable(t)
	encoded, err := codec.New().Marshal(table)
	require.NoError(err)

	buf, err := client.Create(id, int64(len(encoded)))
	require.NoError(err)
	require.Equal(int64(len(encoded)), buf.Size)
	require.NoError(client.fill(buf, table))
	require.NoError(client.Seal(id))

	infos, err := client.List()
	require.NoError(err)
	require.Len(infos, 1)
	require.True(infos[0].Sealed)

	got, err := client.Read(id, time.Second)
	require.NoError(err)
	defer got.Release()
	require.True(got.Equal(table))

	other := store.RandomID()
	_, err = client.Create(other, 16)
	require.NoError(err)
	require.NoError(client.Abort(other))
	ok, err := client.Contains(other)
	require.NoError(err)
	require.False(ok)
}
