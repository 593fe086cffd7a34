package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/VanDung-dev/TableStore-Engine/codec"
	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/errs"
	"github.com/VanDung-dev/TableStore-Engine/internal/result"
	"github.com/VanDung-dev/TableStore-Engine/internal/shm"
	"github.com/VanDung-dev/TableStore-Engine/store"
)

// Default timeouts
const (
	DefaultDialTimeout = 5 * time.Second
	DefaultOpTimeout   = 10 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithCodec sets the codec used to size, write and read tables.
func WithCodec(c *codec.Codec) Option {
	return func(cl *Client) { cl.codec = c }
}

// WithDialTimeout bounds connect.
func WithDialTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.dialTimeout = d }
}

// WithOpTimeout bounds every request that does not wait for an object.
// Reads get the same amount of grace on top of their own timeout.
func WithOpTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.opTimeout = d }
}

// WithName sets the client name reported in the handshake.
func WithName(name string) Option {
	return func(cl *Client) { cl.name = name }
}

// Client is a connection to a store. It is safe for concurrent use; calls
// are serialized and never interleave on the socket.
type Client struct {
	endpoint    string
	codec       *codec.Codec
	dialTimeout time.Duration
	opTimeout   time.Duration
	name        string

	// encode writes a table into a mapped object. Tests replace it to
	// inject failures between create and seal.
	encode func(w io.Writer, t *data.Table) (int64, error)

	conn      net.Conn
	handshake store.Handshake
	mu        sync.Mutex
}

// Connect dials the store socket at endpoint and performs the handshake.
// Nothing is left open when it fails.
func Connect(endpoint string, opts ...Option) (*Client, error) {
	c := &Client{
		endpoint:    endpoint,
		codec:       codec.New(),
		dialTimeout: DefaultDialTimeout,
		opTimeout:   DefaultOpTimeout,
		name:        "tablestore",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.encode == nil {
		c.encode = c.codec.Write
	}

	conn, err := net.DialTimeout("unix", endpoint, c.dialTimeout)
	if err != nil {
		return nil, errs.Wrap(err, errs.ConnectionError, "failed to connect to "+endpoint)
	}
	c.conn = conn

	hs, err := call[store.Handshake](c, store.Request{Op: store.OpConnect, Client: c.name}, c.opTimeout)
	if err == nil && hs.Version != store.ProtocolVersion {
		err = errs.Newf(errs.ConnectionError, "unsupported protocol version %q", hs.Version)
	}
	if err != nil {
		_ = conn.Close()
		c.conn = nil
		if errs.KindOf(err) != errs.ConnectionError {
			err = errs.Wrap(err, errs.ConnectionError, "handshake failed")
		}
		return nil, err
	}
	c.handshake = hs
	return c, nil
}

// call sends one request and decodes the reply. c.mu must be held or c not
// yet shared. A zero timeout leaves the socket without deadline.
func call[T any](c *Client, req store.Request, timeout time.Duration) (T, error) {
	var zero T
	if c.conn == nil {
		return zero, errs.New(errs.ConnectionError, "client is disconnected")
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return zero, errs.Wrap(err, errs.ConnectionError, "failed to set deadline")
	}

	if err := store.WriteJSON(c.conn, req); err != nil {
		return zero, errs.Wrap(err, errs.ConnectionError, "failed to send "+string(req.Op))
	}
	var res result.Result[T]
	if err := store.ReadJSON(c.conn, &res); err != nil {
		return zero, errs.Wrap(err, errs.ConnectionError, "failed to receive "+string(req.Op)+" reply")
	}
	return res.Unwrap()
}

// Endpoint returns the socket path the client is connected to.
func (c *Client) Endpoint() string { return c.endpoint }

// Session returns the id the store assigned to this connection.
func (c *Client) Session() uint64 { return c.handshake.Session }

// Write stores t under id and seals it. The object is sized up front with
// a dry run of the codec. When encoding fails or produces a different
// byte count the object is aborted and never becomes visible to readers.
func (c *Client) Write(t *data.Table, id store.ObjectID) (int64, error) {
	size, err := c.codec.Size(t)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf, err := call[store.Buffer](c, store.Request{Op: store.OpCreate, ID: id, Size: size}, c.opTimeout)
	if err != nil {
		return 0, err
	}

	if err := c.fill(buf, t); err != nil {
		if _, abortErr := call[store.Empty](c, store.Request{Op: store.OpAbort, ID: id}, c.opTimeout); abortErr != nil {
			return 0, errors.Join(err, abortErr)
		}
		return 0, err
	}

	if _, err := call[store.Empty](c, store.Request{Op: store.OpSeal, ID: id}, c.opTimeout); err != nil {
		return 0, err
	}
	return size, nil
}

func (c *Client) fill(buf store.Buffer, t *data.Table) error {
	region, err := shm.Map(shm.MapOptions{Path: buf.Path, Size: int(buf.Size), Writable: true})
	if err != nil {
		return errs.Wrap(err, errs.IoError, "failed to map object")
	}
	defer region.Close()

	mem, err := region.Bytes()
	if err != nil {
		return errs.Wrap(err, errs.IoError, "failed to map object")
	}
	n, err := c.encode(codec.NewFixedWriter(mem), t)
	if err != nil {
		return err
	}
	if n != buf.Size {
		return errs.Newf(errs.IoError, "wrote %d bytes into an object of %d", n, buf.Size)
	}
	return nil
}

// Read waits up to timeout for id to be sealed and decodes it. The store
// reference taken by a successful read is held until Release.
func (c *Client) Read(id store.ObjectID, timeout time.Duration) (*data.Table, error) {
	if timeout < 0 {
		timeout = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req := store.Request{Op: store.OpGet, ID: id, TimeoutMs: timeout.Milliseconds()}
	fetched, err := call[store.Fetched](c, req, timeout+c.opTimeout)
	if err != nil {
		return nil, err
	}
	switch n := len(fetched.Buffers); {
	case n == 0:
		_, _ = call[store.Empty](c, store.Request{Op: store.OpRelease, ID: id}, c.opTimeout)
		return nil, errs.Newf(errs.CorruptStream, "store returned no buffer for %s", id)
	case n > 1:
		_, _ = call[store.Empty](c, store.Request{Op: store.OpRelease, ID: id}, c.opTimeout)
		return nil, errs.Newf(errs.MultipleBuffers, "store returned %d buffers for %s", n, id)
	}

	t, err := c.decode(fetched.Buffers[0])
	if err != nil {
		_, _ = call[store.Empty](c, store.Request{Op: store.OpRelease, ID: id}, c.opTimeout)
		return nil, err
	}
	return t, nil
}

func (c *Client) decode(buf store.Buffer) (*data.Table, error) {
	region, err := shm.Map(shm.MapOptions{Path: buf.Path, Size: int(buf.Size)})
	if err != nil {
		return nil, errs.Wrap(err, errs.IoError, "failed to map object")
	}
	defer region.Close()

	mem, err := region.Bytes()
	if err != nil {
		return nil, errs.Wrap(err, errs.IoError, "failed to map object")
	}
	return c.codec.Unmarshal(mem)
}

// Release drops the reference taken by Read.
func (c *Client) Release(id store.ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := call[store.Empty](c, store.Request{Op: store.OpRelease, ID: id}, c.opTimeout)
	return err
}

// Create allocates an unsealed object and returns where it lives. The
// caller fills it and calls Seal or Abort.
func (c *Client) Create(id store.ObjectID, size int64) (store.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return call[store.Buffer](c, store.Request{Op: store.OpCreate, ID: id, Size: size}, c.opTimeout)
}

// Seal makes an object created by this client visible to readers.
func (c *Client) Seal(id store.ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := call[store.Empty](c, store.Request{Op: store.OpSeal, ID: id}, c.opTimeout)
	return err
}

// Abort discards an unsealed object created by this client.
func (c *Client) Abort(id store.ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := call[store.Empty](c, store.Request{Op: store.OpAbort, ID: id}, c.opTimeout)
	return err
}

// Contains reports whether id is sealed in the store.
func (c *Client) Contains(id store.ObjectID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return call[bool](c, store.Request{Op: store.OpContains, ID: id}, c.opTimeout)
}

// Delete removes a sealed object nobody holds.
func (c *Client) Delete(id store.ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := call[store.Empty](c, store.Request{Op: store.OpDelete, ID: id}, c.opTimeout)
	return err
}

// List describes every object in the store, oldest first.
func (c *Client) List() ([]store.ObjectInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return call[[]store.ObjectInfo](c, store.Request{Op: store.OpList}, c.opTimeout)
}

// Stats returns store statistics.
func (c *Client) Stats() (store.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return call[store.Stats](c, store.Request{Op: store.OpStats}, c.opTimeout)
}

// Disconnect closes the connection. The store drops every reference this
// client still holds. Calling it again is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return errs.Wrap(err, errs.ConnectionError, "failed to close connection")
	}
	return nil
}
