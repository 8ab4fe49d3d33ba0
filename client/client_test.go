package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/framing"
	"github.com/machinefabric/extipc-go/gateway"
	"github.com/machinefabric/extipc-go/route"
)

type echoReq struct {
	Text string `json:"text"`
}

type echoRes struct {
	Text string `json:"text"`
	N    int    `json:"n"`
}

var (
	kindEcho = envelope.NewKind[echoReq, echoRes]("echo")
	kindFail = envelope.NewKind[envelope.Empty, envelope.Empty]("fail")
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startGateway(t *testing.T) string {
	t.Helper()
	table := route.New()
	route.Handle(table, kindEcho, func(c *route.Context, req echoReq) (echoRes, error) {
		return echoRes{Text: req.Text, N: len(req.Text)}, nil
	})
	route.Handle(table, kindFail, func(c *route.Context, _ envelope.Empty) (envelope.Empty, error) {
		return envelope.Empty{}, errors.New("No app with id missing")
	})

	srv := gateway.New(table)
	path := filepath.Join(t.TempDir(), "gw.sock")
	require.NoError(t, srv.Listen(path))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path
}

// fakeServer is the raw server end of a pipe, for tests that need to
// control exactly what comes back
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *framing.Reader
	w    *framing.Writer
}

func newPipeClient(t *testing.T, opts ...Option) (*Client, *fakeServer) {
	t.Helper()
	server, conn := net.Pipe()
	c := New(conn, opts...)
	t.Cleanup(func() {
		server.Close()
		c.Close()
	})
	return c, &fakeServer{t: t, conn: server, r: framing.NewReader(server), w: framing.NewWriter(server)}
}

func (s *fakeServer) next() *envelope.Request {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	b, err := s.r.ReadFrame()
	require.NoError(s.t, err)
	req, err := envelope.DecodeRequest(b)
	require.NoError(s.t, err)
	return req
}

func (s *fakeServer) reply(id string, v any) {
	s.t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(s.t, err)
	b, err := envelope.EncodeResult(id, raw)
	require.NoError(s.t, err)
	require.NoError(s.t, s.w.WriteFrame(b))
}

// TEST300: Typed requests round-trip through a real gateway
func Test300_request_roundtrip(t *testing.T) {
	path := startGateway(t)
	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer c.Close()

	res, err := Request(context.Background(), c, kindEcho, echoReq{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, echoRes{Text: "hello", N: 5}, res)
	assert.Equal(t, 0, c.Pending())
}

// TEST301: Dialing without a server reports ErrNotRunning
func Test301_dial_not_running(t *testing.T) {
	dir := t.TempDir()
	_, err := Dial(context.Background(), filepath.Join(dir, "absent.sock"))
	assert.ErrorIs(t, err, ErrNotRunning)

	path := filepath.Join(dir, "dead.sock")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	ln.SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), path)
	assert.ErrorIs(t, err, ErrNotRunning, "socket file without a listener")
}

// TEST302: Error responses surface as envelope errors
func Test302_error_response(t *testing.T) {
	path := startGateway(t)
	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer c.Close()

	_, err = Request(context.Background(), c, kindFail, envelope.Empty{})
	var ec *envelope.ErrorContext
	require.ErrorAs(t, err, &ec)
	assert.Equal(t, envelope.CodeHandler, ec.Code)
	assert.Equal(t, "No app with id missing", ec.Message)

	_, err = c.Call(context.Background(), "missing-method", nil)
	require.ErrorAs(t, err, &ec)
	assert.Equal(t, envelope.CodeUnknownMethod, ec.Code)
}

// TEST303: A call times out, is forgotten, and a late response is only logged
func Test303_timeout(t *testing.T) {
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	c, srv := newPipeClient(t, WithTimeout(50*time.Millisecond), WithLogger(logger))

	errs := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "echo", echoReq{Text: "x"})
		errs <- err
	}()
	req := srv.next()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not time out")
	}
	assert.Equal(t, 0, c.Pending())

	srv.reply(*req.ID, echoRes{Text: "late"})
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "unexpected response")
	}, time.Second, 5*time.Millisecond)
}

// TEST304: Caller cancellation also forgets the call
func Test304_context_cancel(t *testing.T) {
	c, srv := newPipeClient(t, WithTimeout(0))
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "echo", nil)
		errs <- err
	}()
	srv.next()
	assert.Equal(t, 1, c.Pending())
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

// TEST305: Concurrent calls are matched to out-of-order responses by id
func Test305_out_of_order(t *testing.T) {
	c, srv := newPipeClient(t)

	results := make(map[string]chan echoRes)
	for _, text := range []string{"a", "b", "c"} {
		ch := make(chan echoRes, 1)
		results[text] = ch
		go func(text string) {
			res, err := Request(context.Background(), c, kindEcho, echoReq{Text: text})
			assert.NoError(t, err)
			ch <- res
		}(text)
	}

	reqs := make([]*envelope.Request, 0, 3)
	for i := 0; i < 3; i++ {
		reqs = append(reqs, srv.next())
	}
	for i := len(reqs) - 1; i >= 0; i-- {
		var in echoReq
		require.NoError(t, json.Unmarshal(reqs[i].Data, &in))
		srv.reply(*reqs[i].ID, echoRes{Text: in.Text + "!"})
	}

	for text, ch := range results {
		select {
		case res := <-ch:
			assert.Equal(t, text+"!", res.Text)
		case <-time.After(2 * time.Second):
			t.Fatalf("no result for %s", text)
		}
	}
}

// TEST306: Losing the connection fails pending calls and closes notifications
func Test306_connection_lost(t *testing.T) {
	c, srv := newPipeClient(t)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "echo", nil)
		errs <- err
	}()
	srv.next()
	require.NoError(t, srv.conn.Close())

	assert.ErrorIs(t, <-errs, ErrClosed)
	<-c.Done()
	_, open := <-c.Notifications()
	assert.False(t, open)

	_, err := c.Call(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Notify("echo", nil), ErrClosed)
}

// TEST307: Pushed requests arrive on the notifications channel
func Test307_notifications(t *testing.T) {
	c, srv := newPipeClient(t)

	b, err := envelope.EncodeRequest("browser/focus-tab", nil, map[string]int{"tabId": 7})
	require.NoError(t, err)
	require.NoError(t, srv.w.WriteFrame(b))
	require.NoError(t, srv.w.WriteFrame([]byte("garbage")))

	select {
	case n := <-c.Notifications():
		assert.Equal(t, "browser/focus-tab", n.Method)
		assert.JSONEq(t, `{"tabId":7}`, string(n.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	go func() { assert.NoError(t, c.Notify("record", "x")) }()
	req := srv.next()
	assert.True(t, req.IsNotification())
	assert.Equal(t, "record", req.Method)
}

// TEST308: Oneshot dials, calls and closes
func Test308_oneshot(t *testing.T) {
	path := startGateway(t)
	res, err := Oneshot(context.Background(), path, kindEcho, echoReq{Text: "abc"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.N)

	_, err = Oneshot(context.Background(), filepath.Join(t.TempDir(), "none.sock"), kindEcho, echoReq{})
	assert.ErrorIs(t, err, ErrNotRunning)
}

// TEST309: The default socket lives under XDG_RUNTIME_DIR
func Test309_default_socket_path(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/extipc/extipc.sock", DefaultSocketPath())

	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Contains(t, DefaultSocketPath(), "extipc-")
}
