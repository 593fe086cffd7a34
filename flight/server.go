package flight

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/VanDung-dev/TableStore-Engine/codec"
	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/errs"
	"github.com/VanDung-dev/TableStore-Engine/store"
)

// Store is the part of a store client the Flight service needs.
type Store interface {
	Read(id store.ObjectID, timeout time.Duration) (*data.Table, error)
	Release(id store.ObjectID) error
	Write(t *data.Table, id store.ObjectID) (int64, error)
	List() ([]store.ObjectInfo, error)
}

// Config defines configuration for the Flight server.
type Config struct {
	Addr        string        `yaml:"addr" json:"addr"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:8815",
		ReadTimeout: time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBatchRows bounds the rows of each streamed record batch.
func WithBatchRows(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.batchRows = n
		}
	}
}

// Server exposes store objects as Arrow Flight streams. A ticket names an
// object by its hex id or its 20 raw bytes.
type Server struct {
	arrowflight.BaseFlightServer

	config    Config
	store     Store
	logger    *zap.Logger
	batchRows int
	mem       memory.Allocator

	srv arrowflight.Server
	mu  sync.Mutex
}

// NewServer creates a Flight server reading through st.
func NewServer(config Config, st Store, opts ...Option) *Server {
	s := &Server{
		config:    config,
		store:     st,
		logger:    zap.NewNop(),
		batchRows: codec.DefaultBatchRows,
		mem:       memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init binds the configured address.
func (s *Server) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("flight server already initialized")
	}
	srv := arrowflight.NewServerWithMiddleware(nil)
	srv.RegisterFlightService(s)
	if err := srv.Init(s.config.Addr); err != nil {
		return err
	}
	s.srv = srv
	s.logger.Info("flight listening", zap.Stringer("addr", srv.Addr()))
	return nil
}

// Addr returns the bound address, or nil before Init.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	return s.srv.Addr()
}

// Serve blocks serving requests until Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return errors.New("flight server not initialized")
	}
	return srv.Serve()
}

// Shutdown stops the server.
func (s *Server) Shutdown() {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv != nil {
		srv.Shutdown()
	}
}

// DoGet streams the object named by the ticket.
func (s *Server) DoGet(tkt *arrowflight.Ticket, stream arrowflight.FlightService_DoGetServer) error {
	id, err := ParseTicket(tkt.GetTicket())
	if err != nil {
		return toStatus(err)
	}

	table, err := s.store.Read(id, s.config.ReadTimeout)
	if err != nil {
		s.logger.Debug("flight read failed", zap.Stringer("id", id), zap.Error(err))
		return toStatus(err)
	}
	defer func() {
		table.Release()
		if err := s.store.Release(id); err != nil {
			s.logger.Debug("failed to release object", zap.Stringer("id", id), zap.Error(err))
		}
	}()

	w := arrowflight.NewRecordWriter(stream, ipc.WithSchema(table.Schema().Arrow()), ipc.WithAllocator(s.mem))
	if err := writeTable(w, table, s.batchRows); err != nil {
		return toStatus(errs.Wrap(err, errs.IoError, "failed to stream object"))
	}
	return nil
}

// DoPut stores the streamed table under the id in the flight descriptor
// path, or in its command as raw bytes.
func (s *Server) DoPut(stream arrowflight.FlightService_DoPutServer) error {
	rdr, err := arrowflight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
	if err != nil {
		return toStatus(errs.Wrap(err, errs.CorruptStream, "failed to read schema"))
	}
	defer rdr.Release()

	id, err := descriptorID(rdr.LatestFlightDescriptor())
	if err != nil {
		return toStatus(err)
	}

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
		return toStatus(errs.Wrap(err, errs.CorruptStream, "failed to read record batch"))
	}

	table, err := data.NewTableFromRecords(s.mem, rdr.Schema(), records)
	if err != nil {
		return toStatus(err)
	}
	defer table.Release()

	if _, err := s.store.Write(table, id); err != nil {
		s.logger.Debug("flight write failed", zap.Stringer("id", id), zap.Error(err))
		return toStatus(err)
	}
	return stream.Send(&arrowflight.PutResult{})
}

// ListFlights lists every sealed object.
func (s *Server) ListFlights(_ *arrowflight.Criteria, stream arrowflight.FlightService_ListFlightsServer) error {
	infos, err := s.store.List()
	if err != nil {
		return toStatus(err)
	}
	for _, info := range infos {
		if !info.Sealed {
			continue
		}
		if err := stream.Send(flightInfo(info)); err != nil {
			return err
		}
	}
	return nil
}

func flightInfo(info store.ObjectInfo) *arrowflight.FlightInfo {
	hexID := info.ID.String()
	return &arrowflight.FlightInfo{
		FlightDescriptor: &arrowflight.FlightDescriptor{
			Type: arrowflight.DescriptorPATH,
			Path: []string{hexID},
		},
		Endpoint: []*arrowflight.FlightEndpoint{
			{Ticket: &arrowflight.Ticket{Ticket: []byte(hexID)}},
		},
		TotalRecords: -1,
		TotalBytes:   info.Size,
	}
}

func writeTable(w *arrowflight.Writer, table *data.Table, batchRows int) error {
	for offset := 0; offset < table.NumRows(); offset += batchRows {
		rec, err := table.NewRecord(offset, min(batchRows, table.NumRows()-offset))
		if err != nil {
			return err
		}
		err = w.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}
	return w.Close()
}

// ParseTicket decodes a ticket holding a hex or raw object id.
func ParseTicket(b []byte) (store.ObjectID, error) {
	if len(b) == 2*store.IDLength {
		return store.ParseHex(string(b))
	}
	return store.IDFromBytes(b)
}

func descriptorID(desc *arrowflight.FlightDescriptor) (store.ObjectID, error) {
	switch {
	case desc == nil:
		return store.ObjectID{}, errs.New(errs.InvalidId, "missing flight descriptor")
	case desc.GetType() == arrowflight.DescriptorPATH && len(desc.GetPath()) == 1:
		return store.ParseHex(desc.GetPath()[0])
	case desc.GetType() == arrowflight.DescriptorCMD:
		return store.IDFromBytes(desc.GetCmd())
	}
	return store.ObjectID{}, errs.New(errs.InvalidId, "descriptor does not name an object")
}
