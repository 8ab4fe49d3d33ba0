// Package bridge supervises the extension host process and exchanges
// framed CBOR envelopes with it over the child's stdio.
//
// The main process issues manager requests (correlated by a UUID it
// generates) and emits events. The host issues extension requests, which
// carry a session id and a request id chosen by the host, and are answered
// through IncomingRequest.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/machinefabric/extipc-go/framing"
	"github.com/machinefabric/extipc-go/pending"
)

const (
	DefaultStartTimeout = 5 * time.Second
	DefaultCallTimeout  = 30 * time.Second

	requestQueueSize = 64
	eventQueueSize   = 256
)

// Environment variables exported to the host process
const (
	EnvVersion = "EXTIPC_VERSION"
	EnvCommit  = "EXTIPC_COMMIT"
)

// Config describes how to run the extension host
type Config struct {
	Runtime      RuntimeConfig
	Entrypoint   string
	Args         []string
	Env          []string
	StartTimeout time.Duration
	CallTimeout  time.Duration
	PidFile      string
	Version      string
	Commit       string
	Limits       framing.Limits
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// hostConn is one connected host, spawned or attached
type hostConn struct {
	cmd      *exec.Cmd
	writer   *framing.Writer
	closers  []io.Closer
	stderr   sync.WaitGroup
	done     chan struct{}
	stopping atomic.Bool
}

// Bridge owns the extension host. While the host is down every call fails
// fast with ErrNotRunning; an unexpected exit is never retried.
type Bridge struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	tracker  *pending.Tracker[[]byte]
	requests chan *IncomingRequest
	events   chan ExtensionEvent

	mu   sync.Mutex
	conn *hostConn
}

// New creates a stopped bridge
func New(cfg Config, opts ...Option) *Bridge {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	b := &Bridge{
		cfg:      cfg,
		logger:   slog.Default(),
		requests: make(chan *IncomingRequest, requestQueueSize),
		events:   make(chan ExtensionEvent, eventQueueSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bridge")
	b.tracker = pending.NewTracker[[]byte](b.logger)
	b.tracker.Close(ErrNotRunning)
	return b
}

// Requests delivers requests issued by extension sessions. When the
// consumer falls behind, requests are answered with UnhandledRequest.
func (b *Bridge) Requests() <-chan *IncomingRequest {
	return b.requests
}

// Events delivers events raised by extension sessions
func (b *Bridge) Events() <-chan ExtensionEvent {
	return b.events
}

// Running reports whether a host is connected
func (b *Bridge) Running() bool {
	return b.current() != nil
}

// Pid returns the host's pid, or 0 if it is not a spawned process
func (b *Bridge) Pid() int {
	conn := b.current()
	if conn == nil || conn.cmd == nil || conn.cmd.Process == nil {
		return 0
	}
	return conn.cmd.Process.Pid
}

// Done is closed when the current host goes away. When no host is
// running the returned channel is already closed.
func (b *Bridge) Done() <-chan struct{} {
	if conn := b.current(); conn != nil {
		return conn.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start spawns the extension host. A running host is stopped first. The
// start is not retried on failure.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.Stop(ctx); err != nil {
		return err
	}

	runtime, err := FindRuntime(b.cfg.Runtime)
	if err != nil {
		b.logger.Error("unable to find a suitable runtime executable, extensions will not work", "error", err)
		return err
	}

	var pidFile *PidFile
	if b.cfg.PidFile != "" {
		pidFile = &PidFile{Path: b.cfg.PidFile}
		killed, err := pidFile.KillStale()
		if err != nil {
			b.logger.Warn("failed to clean up stale extension host", "error", err)
		} else if killed {
			b.logger.Info("killed existing extension host instance")
		}
	}

	var args []string
	if b.cfg.Entrypoint != "" {
		args = append(args, b.cfg.Entrypoint)
	}
	args = append(args, b.cfg.Args...)

	cmd := exec.Command(runtime, args...)
	cmd.Env = append(os.Environ(), EnvVersion+"="+b.cfg.Version, EnvCommit+"="+b.cfg.Commit)
	cmd.Env = append(cmd.Env, b.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &Error{Type: ErrorTypeStartFailed, Message: fmt.Sprintf("stdin pipe: %v", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Type: ErrorTypeStartFailed, Message: fmt.Sprintf("stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &Error{Type: ErrorTypeStartFailed, Message: fmt.Sprintf("stderr pipe: %v", err)}
	}

	started := make(chan error, 1)
	go func() { started <- cmd.Start() }()

	timer := time.NewTimer(b.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case err := <-started:
		if err != nil {
			b.logger.Error("failed to start extension host", "runtime", runtime, "error", err)
			return &Error{Type: ErrorTypeStartFailed, Message: err.Error()}
		}
	case <-timer.C:
		go reapLateStart(cmd, started)
		b.logger.Error("extension host did not start in time", "timeout", b.cfg.StartTimeout)
		return &Error{Type: ErrorTypeStartTimeout, Message: b.cfg.StartTimeout.String()}
	case <-ctx.Done():
		go reapLateStart(cmd, started)
		return ctx.Err()
	}

	if pidFile != nil {
		if err := pidFile.Write(cmd.Process.Pid); err != nil {
			b.logger.Warn("failed to write pid file", "path", pidFile.Path, "error", err)
		}
	}

	conn := &hostConn{
		cmd:     cmd,
		writer:  framing.NewWriterLimits(stdin, b.cfg.Limits),
		closers: []io.Closer{stdin},
		done:    make(chan struct{}),
	}
	conn.stderr.Add(1)
	go b.forwardStderr(conn, stderr)
	b.install(conn, framing.NewReaderLimits(stdout, b.cfg.Limits))

	b.logger.Info("started extension host", "entrypoint", b.cfg.Entrypoint, "runtime", runtime, "pid", cmd.Process.Pid)
	return nil
}

// Attach connects a host that is already running, such as one end of a
// pipe. Closing r or w, or the peer closing its side, ends the session.
func (b *Bridge) Attach(r io.Reader, w io.WriteCloser) error {
	if b.Running() {
		return errors.New("a host is already connected")
	}
	conn := &hostConn{
		writer:  framing.NewWriterLimits(w, b.cfg.Limits),
		closers: []io.Closer{w},
		done:    make(chan struct{}),
	}
	if rc, ok := r.(io.Closer); ok {
		conn.closers = append(conn.closers, rc)
	}
	b.install(conn, framing.NewReaderLimits(r, b.cfg.Limits))
	return nil
}

// Stop terminates the host and waits for it to exit. Outstanding calls fail
// with ErrHostStopped. If ctx ends first the process is killed.
func (b *Bridge) Stop(ctx context.Context) error {
	conn := b.current()
	if conn == nil {
		return nil
	}
	conn.stopping.Store(true)

	for _, c := range conn.closers {
		c.Close()
	}
	if conn.cmd != nil && conn.cmd.Process != nil {
		if err := conn.cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			b.logger.Warn("failed to signal extension host", "error", err)
		}
	}

	select {
	case <-conn.done:
		return nil
	case <-ctx.Done():
	}
	if conn.cmd != nil && conn.cmd.Process != nil {
		conn.cmd.Process.Kill()
		<-conn.done
		return nil
	}
	return ctx.Err()
}

// Call sends a manager request and waits for its response. It fails
// immediately when the host is down, and after the configured call timeout
// unless ctx ends sooner.
func (b *Bridge) Call(ctx context.Context, payload []byte) ([]byte, error) {
	if !b.Running() {
		b.metrics.call("not_running")
		return nil, ErrNotRunning
	}
	id, fut := b.tracker.Issue()
	if fut.Settled() {
		b.metrics.call("not_running")
		return fut.Result()
	}
	if err := b.send(NewManagerRequest(id, payload)); err != nil {
		b.tracker.Forget(id)
		b.metrics.call("send_error")
		return nil, err
	}

	waitCtx := ctx
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}
	return b.await(ctx, waitCtx, id, fut)
}

// await waits for a call's outcome. A response that lands while waitCtx is
// ending still wins over the timeout.
func (b *Bridge) await(ctx, waitCtx context.Context, id string, fut *pending.Future[[]byte]) ([]byte, error) {
	v, err := fut.Wait(waitCtx)
	if err != nil && waitCtx.Err() != nil {
		if !fut.Settled() {
			b.tracker.Forget(id)
			if ctx.Err() == nil {
				b.metrics.call("timeout")
				return nil, &Error{Type: ErrorTypeTimeout, Message: b.cfg.CallTimeout.String()}
			}
			b.metrics.call("cancelled")
			return nil, ctx.Err()
		}
		v, err = fut.Result()
	}
	switch {
	case err == nil:
		b.metrics.call("ok")
	case IsTransport(err):
		b.metrics.call("transport")
	default:
		b.metrics.call("remote_error")
	}
	return v, err
}

// Invoke runs a manager operation and decodes its result into Res
func Invoke[Res any](ctx context.Context, b *Bridge, op string, args any) (Res, error) {
	var res Res
	payload, err := EncodeCall(op, args)
	if err != nil {
		return res, err
	}
	value, err := b.Call(ctx, payload)
	if err != nil {
		return res, err
	}
	if len(value) == 0 {
		return res, nil
	}
	err = DecodePayload(value, &res)
	return res, err
}

// Load starts a command and returns its session
func (b *Bridge) Load(ctx context.Context, cmd LoadCommand) (LoadResult, error) {
	return Invoke[LoadResult](ctx, b, OpLoad, cmd)
}

// Unload stops a command session
func (b *Bridge) Unload(ctx context.Context, sessionID string) error {
	_, err := Invoke[struct{}](ctx, b, OpUnload, UnloadCommand{SessionID: sessionID})
	return err
}

// Ping checks that the host answers
func (b *Bridge) Ping(ctx context.Context) (PingResult, error) {
	return Invoke[PingResult](ctx, b, OpPing, nil)
}

// Emit sends an event to the host without waiting for anything
func (b *Bridge) Emit(ev ExtensionEvent) error {
	if err := b.send(NewExtensionEvent(ev)); err != nil {
		return err
	}
	b.metrics.event("out")
	return nil
}

// EmitGeneric invokes a callback registered by an extension session with
// JSON-encoded arguments
func (b *Bridge) EmitGeneric(sessionID, handlerID string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	js, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode event args: %w", err)
	}
	payload, err := EncodePayload(&GenericEvent{HandlerID: handlerID, Args: js})
	if err != nil {
		return err
	}
	return b.Emit(ExtensionEvent{SessionID: sessionID, EventID: EventGeneric, Payload: payload})
}

// Respond answers an extension request by its session and request id
func (b *Bridge) Respond(sessionID, requestID string, value []byte, errText string) error {
	return b.send(NewExtensionResponse(sessionID, requestID, value, errText))
}

func (b *Bridge) current() *hostConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func (b *Bridge) install(conn *hostConn, reader *framing.Reader) {
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	b.tracker.Reopen()
	b.metrics.setUp(true)
	go b.readerLoop(conn, reader)
}

func (b *Bridge) send(msg *Message) error {
	conn := b.current()
	if conn == nil {
		return ErrNotRunning
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		return &Error{Type: ErrorTypeCodec, Message: err.Error()}
	}
	if err := conn.writer.WriteFrame(data); err != nil {
		if framing.IsFramingError(err) {
			return err
		}
		return &Error{Type: ErrorTypeIo, Message: err.Error()}
	}
	return nil
}

func (b *Bridge) readerLoop(conn *hostConn, reader *framing.Reader) {
	var readErr error
	for {
		data, err := reader.ReadFrame()
		if err != nil {
			readErr = err
			break
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			b.logger.Warn("dropping undecodable host message", "error", err)
			continue
		}
		b.handleMessage(msg)
	}
	b.handleExit(conn, readErr)
}

func (b *Bridge) handleMessage(msg *Message) {
	switch msg.Kind {
	case KindManagerResponse:
		res := msg.ManagerResponse
		if res.Error != "" {
			b.tracker.Reject(res.RequestID, &Error{Type: ErrorTypeRemote, Message: res.Error})
		} else {
			b.tracker.Resolve(res.RequestID, res.Value)
		}
	case KindExtensionRequest:
		req := msg.ExtensionRequest
		b.metrics.request()
		in := &IncomingRequest{
			SessionID: req.SessionID,
			RequestID: req.RequestID,
			Payload:   req.Payload,
			bridge:    b,
		}
		select {
		case b.requests <- in:
		default:
			b.logger.Warn("request queue full", "session", req.SessionID, "request", req.RequestID)
			in.Close()
		}
	case KindExtensionEvent:
		b.metrics.event("in")
		select {
		case b.events <- *msg.ExtensionEvent:
		default:
			b.logger.Warn("event queue full, dropping event", "session", msg.ExtensionEvent.SessionID, "event", msg.ExtensionEvent.EventID)
		}
	default:
		b.logger.Warn("unexpected message from host", "kind", msg.Kind.String())
	}
}

func (b *Bridge) handleExit(conn *hostConn, readErr error) {
	for _, c := range conn.closers {
		c.Close()
	}

	var exitErr error
	if conn.cmd != nil {
		// stdout is gone; a host that outlives it is of no use
		conn.cmd.Process.Kill()
		conn.stderr.Wait()
		exitErr = conn.cmd.Wait()
		if b.cfg.PidFile != "" {
			(&PidFile{Path: b.cfg.PidFile}).Remove()
		}
	}

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	b.metrics.setUp(false)

	if conn.stopping.Load() {
		n := b.tracker.Close(ErrHostStopped)
		b.metrics.exited("stopped")
		b.logger.Info("extension host stopped", "cancelled_calls", n)
	} else {
		reason := ""
		if exitErr != nil {
			reason = exitErr.Error()
		} else if readErr != nil && !errors.Is(readErr, io.EOF) {
			reason = readErr.Error()
		}
		n := b.tracker.Close(&Error{Type: ErrorTypeProcessExited, Message: reason})
		b.metrics.exited("crashed")
		b.logger.Error("extension host exited, extensions will not work until restarted",
			"error", reason, "cancelled_calls", n)
	}
	close(conn.done)
}

func (b *Bridge) forwardStderr(conn *hostConn, r io.Reader) {
	defer conn.stderr.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			b.logger.Info("extension host", "line", line)
		}
	}
}

func reapLateStart(cmd *exec.Cmd, started <-chan error) {
	if err := <-started; err == nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
}
