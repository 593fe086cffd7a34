package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config defines configuration for the store server.
type Config struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	Dir        string `yaml:"dir" json:"dir"`
	Capacity   int64  `yaml:"capacity" json:"capacity"` // bytes, 0 means unlimited
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath: "/tmp/tablestore.sock",
		Dir:        "/dev/shm/tablestore",
		Capacity:   1 << 30,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("socket path is required")
	}
	if c.Dir == "" {
		return errors.New("object directory is required")
	}
	if c.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative, got %d", c.Capacity)
	}
	return nil
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics the server records into.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithNotifier sets a receiver for object lifecycle events.
func WithNotifier(n Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// Server is a unix socket server managing shared memory objects.
type Server struct {
	config   Config
	objects  *objectTable
	logger   *zap.Logger
	metrics  *Metrics
	notifier Notifier

	listener net.Listener
	sessions map[uint64]*session
	nextID   atomic.Uint64
	running  bool
	mu       sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer creates a Server. The object directory is created if needed.
func NewServer(config Config, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	if err := os.MkdirAll(config.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create object directory: %w", err)
	}

	s := &Server{
		config:   config,
		logger:   zap.NewNop(),
		sessions: make(map[uint64]*session),
	}
	for _, opt := range opts {
		opt(s)
	}

	objects, err := newObjectTable(config.Dir, config.Capacity, s.onEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to create object table: %w", err)
	}
	s.objects = objects
	return s, nil
}

func (s *Server) onEvent(ev Event) {
	ev.Time = time.Now()
	if s.metrics != nil {
		s.metrics.RecordEvent(ev)
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ev); err != nil {
			s.logger.Debug("failed to publish event",
				zap.String("kind", string(ev.Kind)), zap.Stringer("id", ev.ID), zap.Error(err))
		}
	}
}

func (s *Server) listen() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, fmt.Errorf("server is already running")
	}

	if err := os.Remove(s.config.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", s.config.SocketPath, err)
	}
	lis, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.SocketPath, err)
	}
	if err := os.Chmod(s.config.SocketPath, 0o600); err != nil {
		_ = lis.Close()
		return nil, fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	s.listener = lis
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.logger.Info("store listening",
		zap.String("socket", s.config.SocketPath),
		zap.String("dir", s.config.Dir),
		zap.Int64("capacity", s.config.Capacity))
	return lis, nil
}

// Start starts the server. It blocks until the server is stopped or fails.
func (s *Server) Start() error {
	lis, err := s.listen()
	if err != nil {
		return err
	}
	defer s.Stop()
	s.acceptLoop(lis)
	return nil
}

// StartAsync starts the server in a background goroutine.
func (s *Server) StartAsync() error {
	lis, err := s.listen()
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(lis)
	}()
	return nil
}

func (s *Server) acceptLoop(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		sess := s.openSession(conn)
		if sess == nil {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(sess)
		}()
	}
}

// SocketPath returns the path clients connect to.
func (s *Server) SocketPath() string { return s.config.SocketPath }

// Dir returns the object directory.
func (s *Server) Dir() string { return s.config.Dir }

// Stats returns a snapshot of store statistics.
func (s *Server) Stats() Stats {
	st := s.objects.stats()
	s.mu.Lock()
	st.Sessions = len(s.sessions)
	s.mu.Unlock()
	return st
}

// Stop stops the server, disconnects every client and deletes all objects.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Debug("failed to close listener", zap.Error(err))
		}
	}
	for _, sess := range s.sessions {
		_ = sess.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if err := s.objects.purge(); err != nil {
		s.logger.Warn("failed to remove object files", zap.Error(err))
	}
	_ = os.Remove(s.config.SocketPath)
	s.logger.Info("store stopped")
}
