package bridge

import (
	"sync/atomic"
)

// UnhandledRequest is the error text sent for requests nobody answered
const UnhandledRequest = "Unhandled request"

// IncomingRequest is a request from an extension session awaiting an
// answer. It must be answered exactly once; Close answers with
// UnhandledRequest if that has not happened yet.
type IncomingRequest struct {
	SessionID string
	RequestID string
	Payload   []byte

	bridge    *Bridge
	responded atomic.Bool
}

// Respond answers the request with a value
func (r *IncomingRequest) Respond(value []byte) error {
	return r.respond(value, "")
}

// RespondError answers the request with an error text
func (r *IncomingRequest) RespondError(text string) error {
	if text == "" {
		text = "unknown error"
	}
	return r.respond(nil, text)
}

// Responded reports whether an answer was sent
func (r *IncomingRequest) Responded() bool {
	return r.responded.Load()
}

// Close answers with UnhandledRequest if the request is still open
func (r *IncomingRequest) Close() error {
	if r.responded.Load() {
		return nil
	}
	return r.respond(nil, UnhandledRequest)
}

func (r *IncomingRequest) respond(value []byte, errText string) error {
	if !r.responded.CompareAndSwap(false, true) {
		r.bridge.logger.Error("request already responded", "session", r.SessionID, "request", r.RequestID)
		return &Error{Type: ErrorTypeAlreadyResponded, Message: r.RequestID}
	}
	return r.bridge.Respond(r.SessionID, r.RequestID, value, errText)
}
