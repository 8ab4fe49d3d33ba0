package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"

	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/framing"
	"github.com/machinefabric/extipc-go/pending"
	"github.com/machinefabric/extipc-go/route"
)

// ErrSessionClosed is returned when writing to a disconnected session
var ErrSessionClosed = errors.New("session closed")

// Session is the per-connection state of a gateway client: its write side,
// the capabilities it was granted, and the asynchronous requests still in
// flight. A closed session never writes again.
type Session struct {
	id      string
	conn    net.Conn
	writer  *framing.Writer
	peerPID int
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	writeMu sync.Mutex
	closed  bool

	mu       sync.Mutex
	caps     map[route.Capability]struct{}
	attrs    map[string]any
	inflight map[uint64]*pending.Future[json.RawMessage]
	nextID   uint64
	draining bool
}

func newSession(ctx context.Context, id string, conn net.Conn, limits framing.Limits, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       id,
		conn:     conn,
		writer:   framing.NewWriterLimits(conn, limits),
		peerPID:  peerPID(conn),
		ctx:      ctx,
		cancel:   cancel,
		caps:     make(map[route.Capability]struct{}),
		attrs:    make(map[string]any),
		inflight: make(map[uint64]*pending.Future[json.RawMessage]),
	}
	s.logger = logger.With("session", id)
	if s.peerPID > 0 {
		s.logger = s.logger.With("peer_pid", s.peerPID)
	}
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// PeerPID returns the pid of the connected process, or 0 if unknown
func (s *Session) PeerPID() int {
	return s.peerPID
}

// Context is cancelled when the session disconnects
func (s *Session) Context() context.Context {
	return s.ctx
}

// Has reports whether the session holds a capability
func (s *Session) Has(c route.Capability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caps[c]
	return ok
}

// Grant gives the session a capability for the rest of its lifetime
func (s *Session) Grant(c route.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps[c] = struct{}{}
}

// Capabilities returns the granted capabilities, sorted
func (s *Session) Capabilities() []route.Capability {
	s.mu.Lock()
	out := make([]route.Capability, 0, len(s.caps))
	for c := range s.caps {
		out = append(out, c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetAttr stores a value on the session
func (s *Session) SetAttr(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[key] = v
}

// Attr returns a value stored with SetAttr
func (s *Session) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// InFlight returns the number of asynchronous requests not yet answered
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Closed reports whether the session has disconnected
func (s *Session) Closed() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closed
}

// Notify sends an unsolicited request without an id
func (s *Session) Notify(method string, data any) error {
	b, err := envelope.EncodeRequest(method, nil, data)
	if err != nil {
		return err
	}
	return s.write(b)
}

func (s *Session) write(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.writer.WriteFrame(payload)
}

// track records an in-flight future. It returns false when the session is
// already closing, in which case the caller must cancel the future.
func (s *Session) track(f *pending.Future[json.RawMessage]) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return 0, false
	}
	s.nextID++
	s.inflight[s.nextID] = f
	return s.nextID, true
}

func (s *Session) untrack(handle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, handle)
}

// close marks the session closed, then cancels every in-flight request.
// It returns the number of requests cancelled.
func (s *Session) close() (int, error) {
	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return 0, nil
	}
	s.closed = true
	s.writeMu.Unlock()

	s.cancel()
	err := s.conn.Close()

	s.mu.Lock()
	s.draining = true
	inflight := s.inflight
	s.inflight = make(map[uint64]*pending.Future[json.RawMessage])
	s.mu.Unlock()

	cancelled := 0
	for _, f := range inflight {
		if f.Cancel() {
			cancelled++
		}
	}
	return cancelled, err
}
