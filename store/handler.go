package store

import (
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/TableStore-Engine/errs"
	"github.com/VanDung-dev/TableStore-Engine/internal/result"
)

// session is the server side state of one client connection.
type session struct {
	id        uint64
	conn      net.Conn
	client    string
	connected bool
	refs      map[ObjectID]int
	created   map[ObjectID]struct{}
}

func (s *Server) openSession(conn net.Conn) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	sess := &session{
		id:      s.nextID.Add(1),
		conn:    conn,
		refs:    make(map[ObjectID]int),
		created: make(map[ObjectID]struct{}),
	}
	s.sessions[sess.id] = sess
	if s.metrics != nil {
		s.metrics.Sessions.Inc()
	}
	return sess
}

// closeSession drops the references of sess and aborts what it left unsealed.
func (s *Server) closeSession(sess *session) {
	for id, n := range sess.refs {
		for i := 0; i < n; i++ {
			_ = s.objects.release(id)
		}
	}
	for id := range sess.created {
		if err := s.objects.abort(sess.id, id); err == nil {
			s.logger.Debug("aborted unsealed object of closed session",
				zap.Uint64("session", sess.id), zap.Stringer("id", id))
		}
	}

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.Sessions.Dec()
	}
	_ = sess.conn.Close()
}

// handleConnection serves requests of one client until it disconnects.
func (s *Server) handleConnection(sess *session) {
	defer s.closeSession(sess)

	for {
		var req Request
		if err := ReadJSON(sess.conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("dropping client", zap.Uint64("session", sess.id), zap.Error(err))
			}
			return
		}

		reply := s.dispatch(sess, &req)
		if err := WriteJSON(sess.conn, reply); err != nil {
			s.logger.Debug("failed to write reply", zap.Uint64("session", sess.id), zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(sess *session, req *Request) any {
	start := time.Now()
	var reply any
	var err error

	if !sess.connected && req.Op != OpConnect {
		err = errs.New(errs.ConnectionError, "handshake required")
		reply = result.Err[Empty](err)
	} else {
		reply, err = s.apply(sess, req)
	}

	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
		s.logger.Debug("request failed",
			zap.Uint64("session", sess.id), zap.String("op", string(req.Op)),
			zap.Stringer("id", req.ID), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordRequest(req.Op, outcome, time.Since(start))
	}
	return reply
}

func wrap[T any](v T, err error) (any, error) {
	if err != nil {
		return result.Err[T](err), err
	}
	return result.Ok(v), nil
}

func (s *Server) apply(sess *session, req *Request) (any, error) {
	switch req.Op {
	case OpConnect:
		sess.connected = true
		sess.client = req.Client
		return wrap(Handshake{
			Version:  ProtocolVersion,
			Session:  sess.id,
			Dir:      s.config.Dir,
			Capacity: s.config.Capacity,
		}, nil)

	case OpCreate:
		buf, err := s.objects.create(sess.id, req.ID, req.Size)
		if err == nil {
			sess.created[req.ID] = struct{}{}
		}
		return wrap(buf, err)

	case OpSeal:
		err := s.objects.seal(sess.id, req.ID)
		if err == nil {
			delete(sess.created, req.ID)
		}
		return wrap(Empty{}, err)

	case OpAbort:
		err := s.objects.abort(sess.id, req.ID)
		if err == nil {
			delete(sess.created, req.ID)
		}
		return wrap(Empty{}, err)

	case OpGet:
		timeout := time.Duration(req.TimeoutMs) * time.Millisecond
		buf, err := s.objects.get(s.ctx, req.ID, timeout)
		if err != nil {
			return wrap(Fetched{}, err)
		}
		sess.refs[req.ID]++
		return wrap(Fetched{Buffers: []Buffer{buf}}, nil)

	case OpRelease:
		if sess.refs[req.ID] == 0 {
			return wrap(Empty{}, errs.Newf(errs.NotAcquired, "object %s is not held by this client", req.ID))
		}
		if err := s.objects.release(req.ID); err != nil {
			return wrap(Empty{}, err)
		}
		sess.refs[req.ID]--
		if sess.refs[req.ID] == 0 {
			delete(sess.refs, req.ID)
		}
		return wrap(Empty{}, nil)

	case OpContains:
		return wrap(s.objects.contains(req.ID), nil)

	case OpDelete:
		return wrap(Empty{}, s.objects.remove(req.ID))

	case OpList:
		return wrap(s.objects.list(), nil)

	case OpStats:
		return wrap(s.Stats(), nil)
	}

	return wrap(Empty{}, errs.Newf(errs.InvalidArgument, "unknown operation %q", req.Op))
}
