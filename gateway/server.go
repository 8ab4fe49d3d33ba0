// Package gateway serves the client-facing side of the RPC core: a unix
// socket accepting framed JSON envelopes, one Session per connection,
// dispatching every request through a route.Table.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/framing"
	"github.com/machinefabric/extipc-go/pending"
	"github.com/machinefabric/extipc-go/route"
)

// ErrServerClosed is returned by Serve after Close
var ErrServerClosed = errors.New("gateway: server closed")

// ErrUnknownSession is returned by Push for a session id that is not connected
var ErrUnknownSession = errors.New("gateway: unknown session")

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records connection and request metrics
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLimits sets the frame limits for every connection
func WithLimits(l framing.Limits) Option {
	return func(s *Server) { s.limits = l }
}

// OnDisconnect registers a hook that runs after a session is torn down
func OnDisconnect(fn func(*Session)) Option {
	return func(s *Server) { s.onDisconnect = append(s.onDisconnect, fn) }
}

// Server accepts client connections and dispatches their requests
type Server struct {
	table        *route.Table
	logger       *slog.Logger
	metrics      *Metrics
	limits       framing.Limits
	onDisconnect []func(*Session)

	mu       sync.Mutex
	listener net.Listener
	path     string
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// New creates a server dispatching through table
func New(table *route.Table, opts ...Option) *Server {
	s := &Server{
		table:    table,
		logger:   slog.Default(),
		limits:   framing.DefaultLimits(),
		sessions: make(map[string]*Session),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")
	return s
}

// Listen binds the unix socket at path. A stale socket file left by a
// previous instance is removed first.
func (s *Server) Listen(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.path = path
	s.logger.Info("listening", "socket", path)
	return nil
}

// Addr returns the socket path, or "" before Listen
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Serve accepts connections until ctx is done or Close is called. It
// returns nil on an orderly shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("gateway: Serve called before Listen")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				<-s.shutdown
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			<-s.shutdown
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ListenAndServe binds path and serves it until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, path string) error {
	if err := s.Listen(path); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// ServeConn runs one session on an accepted connection and blocks until it
// disconnects
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	sess := newSession(ctx, uuid.NewString(), conn, s.limits, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrServerClosed
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.metrics.connected(1)
	sess.logger.Debug("client connected")

	err := s.readLoop(sess)
	s.disconnect(sess)
	return err
}

func (s *Server) readLoop(sess *Session) error {
	reader := framing.NewReaderLimits(sess.conn, s.limits)
	for {
		data, err := reader.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), sess.Closed():
				sess.logger.Debug("client disconnected")
				return nil
			case framing.IsFramingError(err):
				sess.logger.Warn("framing error, dropping connection", "error", err)
			default:
				sess.logger.Debug("connection read failed", "error", err)
			}
			return err
		}
		s.handleFrame(sess, data)
	}
}

func (s *Server) handleFrame(sess *Session, data []byte) {
	req, err := envelope.DecodeRequest(data)
	if err != nil {
		sess.logger.Warn("dropping undecodable envelope", "error", err)
		return
	}

	label := req.Method
	if !s.table.Has(label) {
		label = "unknown"
	}

	c := route.NewContext(sess.ctx, req.Method, req.ID, sess, sess.logger.With("method", req.Method))
	out := s.table.Dispatch(c, req.Data)
	if out.Async == nil {
		s.finish(sess, c, label, out.Result, out.Err)
		return
	}

	handle, ok := sess.track(out.Async)
	if !ok {
		out.Async.Cancel()
		s.metrics.cancel(1)
		return
	}
	s.metrics.pending(1)
	go s.complete(sess, c, label, handle, out.Async)
}

// complete waits for an asynchronous result and answers it if the session
// is still there to receive it
func (s *Server) complete(sess *Session, c *route.Context, label string, handle uint64, f *pending.Future[json.RawMessage]) {
	<-f.Done()
	sess.untrack(handle)
	s.metrics.pending(-1)

	if f.Cancelled() {
		s.metrics.request(label, "cancelled")
		c.Logger.Debug("request cancelled, not answering", "id", c.ID)
		return
	}
	result, err := f.Result()
	if err != nil {
		s.finish(sess, c, label, nil, route.WireError(err))
		return
	}
	s.finish(sess, c, label, result, nil)
}

func (s *Server) finish(sess *Session, c *route.Context, label string, result json.RawMessage, failure *envelope.ErrorContext) {
	if failure != nil {
		s.metrics.request(label, "error")
	} else {
		s.metrics.request(label, "ok")
	}

	if c.Notification {
		if failure != nil {
			c.Logger.Warn("notification failed", "code", failure.Code, "error", failure.Message)
		}
		return
	}

	var b []byte
	var err error
	if failure != nil {
		b, err = envelope.EncodeError(c.ID, failure)
	} else {
		b, err = envelope.EncodeResult(c.ID, result)
	}
	if err != nil {
		c.Logger.Error("encode response", "id", c.ID, "error", err)
		return
	}
	if err := sess.write(b); err != nil {
		c.Logger.Debug("response dropped", "id", c.ID, "error", err)
	}
}

func (s *Server) disconnect(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	n, _ := sess.close()
	s.metrics.cancel(n)
	s.metrics.connected(-1)
	if n > 0 {
		sess.logger.Info("cancelled in-flight requests on disconnect", "count", n)
	}
	for _, fn := range s.onDisconnect {
		fn(sess)
	}
}

// Session returns a connected session by id
func (s *Server) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns the connected sessions ordered by id
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Push sends a notification to one session
func (s *Server) Push(sessionID, method string, data any) error {
	sess, ok := s.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sess.Notify(method, data)
}

// PushWhere sends a notification to every session holding capability c and
// returns how many received it
func (s *Server) PushWhere(c route.Capability, method string, data any) int {
	sent := 0
	for _, sess := range s.Sessions() {
		if !sess.Has(c) {
			continue
		}
		if err := sess.Notify(method, data); err != nil {
			sess.logger.Debug("push failed", "method", method, "error", err)
			continue
		}
		sent++
	}
	return sent
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, disconnects every session and removes the socket
// file. It waits for connection goroutines started by Serve.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	path := s.path
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = multierr.Append(err, ln.Close())
	}
	for _, sess := range sessions {
		n, cerr := sess.close()
		s.metrics.cancel(n)
		err = multierr.Append(err, cerr)
	}
	s.wg.Wait()

	if path != "" {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = multierr.Append(err, rerr)
		}
	}
	s.logger.Info("gateway closed")
	close(s.shutdown)
	return err
}
