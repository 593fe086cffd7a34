package flight

import (
	"context"
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/VanDung-dev/TableStore-Engine/codec"
	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/errs"
	"github.com/VanDung-dev/TableStore-Engine/store"
)

// Client talks to a Flight server over plaintext gRPC.
type Client struct {
	conn arrowflight.Client
	mem  memory.Allocator
}

// Dial connects to the Flight server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := arrowflight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errs.Wrap(err, errs.ConnectionError, "failed to connect to "+addr)
	}
	return &Client{conn: conn, mem: memory.DefaultAllocator}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Fetch downloads object id.
func (c *Client) Fetch(ctx context.Context, id store.ObjectID) (*data.Table, error) {
	stream, err := c.conn.DoGet(ctx, &arrowflight.Ticket{Ticket: []byte(id.String())})
	if err != nil {
		return nil, fromStatus(err)
	}
	src := &recvRecorder{stream: stream}
	rdr, err := arrowflight.NewRecordReader(src, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, src.classify(err)
	}
	defer rdr.Release()

	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, src.classify(err)
	}
	return data.NewTableFromRecords(c.mem, rdr.Schema(), records)
}

// recvRecorder keeps the first failure of the underlying stream, which the
// IPC reader may hide behind its own error.
type recvRecorder struct {
	stream arrowflight.FlightService_DoGetClient
	err    error
}

func (r *recvRecorder) Recv() (*arrowflight.FlightData, error) {
	fd, err := r.stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) && r.err == nil {
		r.err = err
	}
	return fd, err
}

func (r *recvRecorder) classify(err error) error {
	if r.err != nil {
		return fromStatus(r.err)
	}
	return errs.Wrap(err, errs.CorruptStream, "malformed flight stream")
}

// Put uploads t as object id.
func (c *Client) Put(ctx context.Context, id store.ObjectID, t *data.Table) error {
	stream, err := c.conn.DoPut(ctx)
	if err != nil {
		return fromStatus(err)
	}

	w := arrowflight.NewRecordWriter(stream, ipc.WithSchema(t.Schema().Arrow()), ipc.WithAllocator(c.mem))
	w.SetFlightDescriptor(&arrowflight.FlightDescriptor{
		Type: arrowflight.DescriptorPATH,
		Path: []string{id.String()},
	})
	if err := writeTable(w, t, codec.DefaultBatchRows); err != nil {
		return fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return fromStatus(err)
	}
	if _, err := stream.Recv(); err != nil {
		return fromStatus(err)
	}
	return nil
}

// List returns the flights of every sealed object.
func (c *Client) List(ctx context.Context) ([]*arrowflight.FlightInfo, error) {
	stream, err := c.conn.ListFlights(ctx, &arrowflight.Criteria{})
	if err != nil {
		return nil, fromStatus(err)
	}
	var infos []*arrowflight.FlightInfo
	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return infos, nil
		}
		if err != nil {
			return nil, fromStatus(err)
		}
		infos = append(infos, info)
	}
}

// Fetch dials addr, downloads object id and disconnects.
func Fetch(ctx context.Context, addr string, id store.ObjectID) (*data.Table, error) {
	c, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Fetch(ctx, id)
}
