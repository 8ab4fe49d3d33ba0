// Package client is the caller side of the gateway socket: it correlates
// responses to requests by id and surfaces pushed notifications.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/framing"
	"github.com/machinefabric/extipc-go/pending"
)

// DefaultTimeout bounds every call unless WithTimeout says otherwise
const DefaultTimeout = 30 * time.Second

const notificationQueue = 64

var (
	// ErrNotRunning means no server is listening on the socket
	ErrNotRunning = errors.New("no running instance")
	// ErrClosed fails calls pending when the connection goes away
	ErrClosed = errors.New("client: connection closed")
)

// DefaultSocketPath is $XDG_RUNTIME_DIR/extipc/extipc.sock, falling back to a
// per-user directory under the temp dir
func DefaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("extipc-%d", os.Getuid()))
		return filepath.Join(dir, "extipc.sock")
	}
	return filepath.Join(dir, "extipc", "extipc.sock")
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-call timeout. Zero or less disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithLimits sets the frame limits
func WithLimits(l framing.Limits) Option {
	return func(c *Client) { c.limits = l }
}

// Client is a connection to the gateway. It is safe for concurrent use.
type Client struct {
	conn          net.Conn
	writer        *framing.Writer
	tracker       *pending.Tracker[json.RawMessage]
	notifications chan envelope.Request
	timeout       time.Duration
	limits        framing.Limits
	logger        *slog.Logger

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Dial connects to the gateway socket at path
func Dial(ctx context.Context, path string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", ErrNotRunning, path)
		}
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return New(conn, opts...), nil
}

// New wraps an established connection
func New(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:          conn,
		notifications: make(chan envelope.Request, notificationQueue),
		timeout:       DefaultTimeout,
		limits:        framing.DefaultLimits(),
		logger:        slog.Default(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client")
	c.writer = framing.NewWriterLimits(conn, c.limits)
	c.tracker = pending.NewTracker[json.RawMessage](c.logger)
	go c.readLoop()
	return c
}

// Call sends method with data and waits for its result. Error responses
// are returned as *envelope.ErrorContext.
func (c *Client) Call(ctx context.Context, method string, data any) (json.RawMessage, error) {
	id, fut := c.tracker.Issue()
	b, err := envelope.EncodeRequest(method, &id, data)
	if err != nil {
		c.tracker.Forget(id)
		return nil, err
	}
	if err := c.writer.WriteFrame(b); err != nil {
		c.tracker.Forget(id)
		return nil, fmt.Errorf("send %s: %w", method, c.closedErr(err))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	res, err := fut.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		if fut.Cancel() {
			return nil, fmt.Errorf("%s: %w", method, ctx.Err())
		}
		return fut.Result()
	}
	return res, err
}

// Notify sends method without an id. No response is expected.
func (c *Client) Notify(method string, data any) error {
	b, err := envelope.EncodeRequest(method, nil, data)
	if err != nil {
		return err
	}
	if err := c.writer.WriteFrame(b); err != nil {
		return fmt.Errorf("send %s: %w", method, c.closedErr(err))
	}
	return nil
}

// Notifications delivers requests pushed by the server. The channel is
// closed when the connection ends.
func (c *Client) Notifications() <-chan envelope.Request {
	return c.notifications
}

// Pending returns the number of calls awaiting a response
func (c *Client) Pending() int {
	return c.tracker.Len()
}

// Done is closed when the connection has ended
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is up
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection and fails every pending call with ErrClosed
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) closedErr(err error) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
		return err
	}
}

func (c *Client) readLoop() {
	reader := framing.NewReaderLimits(c.conn, c.limits)
	var err error
	for {
		var data []byte
		data, err = reader.ReadFrame()
		if err != nil {
			break
		}
		c.handle(data)
	}

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.conn.Close()
	if n := c.tracker.Close(ErrClosed); n > 0 {
		c.logger.Debug("connection ended with calls pending", "count", n, "error", err)
	}
	close(c.notifications)
	close(c.done)
}

func (c *Client) handle(data []byte) {
	msg, err := envelope.DecodeMessage(data)
	if err != nil {
		c.logger.Warn("dropping undecodable envelope", "error", err)
		return
	}
	if msg.IsResponse() {
		resp := msg.Response()
		if resp.Error != nil {
			c.tracker.Reject(resp.ID, resp.Error)
		} else {
			c.tracker.Resolve(resp.ID, resp.Result)
		}
		return
	}
	select {
	case c.notifications <- *msg.Request():
	default:
		c.logger.Warn("notification queue full, dropping", "method", msg.Request().Method)
	}
}

// Request calls kind with req and decodes the typed result
func Request[Req, Res any](ctx context.Context, c *Client, kind envelope.Kind[Req, Res], req Req) (Res, error) {
	var res Res
	raw, err := c.Call(ctx, kind.Key(), req)
	if err != nil {
		return res, err
	}
	if len(raw) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("decode %s result: %w", kind.Key(), err)
	}
	return res, nil
}

// Oneshot dials path, performs one request and closes the connection
func Oneshot[Req, Res any](ctx context.Context, path string, kind envelope.Kind[Req, Res], req Req, opts ...Option) (Res, error) {
	c, err := Dial(ctx, path, opts...)
	if err != nil {
		var zero Res
		return zero, err
	}
	defer c.Close()
	return Request(ctx, c, kind, req)
}
