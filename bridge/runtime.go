package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/machinefabric/extipc-go/framing"
	"github.com/machinefabric/extipc-go/pending"
)

// OpHandler serves one manager operation inside the extension host. The
// returned value is CBOR-encoded into the response; nil encodes nothing.
type OpHandler func(ctx context.Context, args cbor.RawMessage) (any, error)

// Runtime is the extension host's end of the bridge. It serves manager
// operations, issues extension requests on behalf of sessions, and raises
// events.
type Runtime struct {
	reader   *framing.Reader
	writer   *framing.Writer
	handlers map[string]OpHandler
	tracker  *pending.Tracker[[]byte]
	events   chan ExtensionEvent
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewRuntime creates a runtime reading envelopes from r and writing to w,
// typically os.Stdin and os.Stdout
func NewRuntime(r io.Reader, w io.Writer, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		reader:   framing.NewReader(r),
		writer:   framing.NewWriter(w),
		handlers: make(map[string]OpHandler),
		tracker:  pending.NewTracker[[]byte](logger),
		events:   make(chan ExtensionEvent, eventQueueSize),
		logger:   logger,
	}
}

// Handle registers the handler for a manager operation. Handlers must be
// registered before Run.
func (rt *Runtime) Handle(op string, h OpHandler) {
	rt.handlers[op] = h
}

// Events delivers events sent by the main process
func (rt *Runtime) Events() <-chan ExtensionEvent {
	return rt.events
}

// Request sends an extension request for sessionID and waits for the main
// process to answer it
func (rt *Runtime) Request(ctx context.Context, sessionID string, payload []byte) ([]byte, error) {
	id, fut := rt.tracker.Issue()
	if err := rt.send(NewExtensionRequest(sessionID, id, payload)); err != nil {
		rt.tracker.Forget(id)
		return nil, err
	}
	v, err := fut.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		rt.tracker.Forget(id)
	}
	return v, err
}

// Emit raises an event for sessionID
func (rt *Runtime) Emit(sessionID, eventID string, payload []byte) error {
	return rt.send(NewExtensionEvent(ExtensionEvent{SessionID: sessionID, EventID: eventID, Payload: payload}))
}

// Run serves until the main process closes the stream or ctx ends.
// Manager requests are handled concurrently.
func (rt *Runtime) Run(ctx context.Context) error {
	defer rt.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := rt.reader.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			rt.tracker.Close(ErrHostStopped)
			return ctx.Err()
		case err := <-readErr:
			rt.tracker.Close(&Error{Type: ErrorTypeIo, Message: "main process closed the stream"})
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case data := <-frames:
			msg, err := DecodeMessage(data)
			if err != nil {
				rt.logger.Warn("dropping undecodable message", "error", err)
				continue
			}
			rt.dispatch(ctx, msg)
		}
	}
}

func (rt *Runtime) dispatch(ctx context.Context, msg *Message) {
	switch msg.Kind {
	case KindManagerRequest:
		req := msg.ManagerRequest
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			value, err := rt.serve(ctx, req.Payload)
			errText := ""
			if err != nil {
				errText = err.Error()
			}
			if err := rt.send(NewManagerResponse(req.RequestID, value, errText)); err != nil {
				rt.logger.Warn("failed to send manager response", "request", req.RequestID, "error", err)
			}
		}()
	case KindExtensionResponse:
		res := msg.ExtensionResponse
		if res.Error != "" {
			rt.tracker.Reject(res.RequestID, &Error{Type: ErrorTypeRemote, Message: res.Error})
		} else {
			rt.tracker.Resolve(res.RequestID, res.Value)
		}
	case KindExtensionEvent:
		select {
		case rt.events <- *msg.ExtensionEvent:
		default:
			rt.logger.Warn("event queue full, dropping event", "event", msg.ExtensionEvent.EventID)
		}
	default:
		rt.logger.Warn("unexpected message from main process", "kind", msg.Kind.String())
	}
}

func (rt *Runtime) serve(ctx context.Context, payload []byte) ([]byte, error) {
	call, err := DecodeCall(payload)
	if err != nil {
		return nil, err
	}
	h, ok := rt.handlers[call.Op]
	if !ok {
		return nil, fmt.Errorf("unknown manager operation %q", call.Op)
	}
	result, err := h(ctx, call.Args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return EncodePayload(result)
}

func (rt *Runtime) send(msg *Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return &Error{Type: ErrorTypeCodec, Message: err.Error()}
	}
	if err := rt.writer.WriteFrame(data); err != nil {
		return &Error{Type: ErrorTypeIo, Message: err.Error()}
	}
	return nil
}
