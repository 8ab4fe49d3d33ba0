// Package envelope defines the keyed JSON envelope exchanged with gateway
// clients and the typed method kinds carried inside it.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire error codes
const (
	CodeHandler       = -1
	CodeUnknownMethod = -32601
	CodeBadRequest    = -32602
	CodeInternal      = -32603
	CodeRejected      = -32001
	CodeCancelled     = -32800
)

// Request is a keyed request. A request without an id is a notification and
// never receives a response.
type Request struct {
	Method string          `json:"method"`
	ID     *string         `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// IsNotification reports whether no response is expected
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response answers the request with the same id. Exactly one of Result and
// Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorContext   `json:"error,omitempty"`
}

// ErrorContext is the error payload of a response
type ErrorContext struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorContext) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// NewError creates an ErrorContext
func NewError(code int, format string, args ...any) *ErrorContext {
	return &ErrorContext{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorFrom maps err onto a wire error. Errors that already carry an
// ErrorContext keep their code; anything else becomes a handler error.
func ErrorFrom(err error) *ErrorContext {
	if err == nil {
		return nil
	}
	var ec *ErrorContext
	if errors.As(err, &ec) {
		return ec
	}
	return &ErrorContext{Code: CodeHandler, Message: err.Error()}
}

// Message is what a client reads off the socket: either a response to one
// of its requests, or a request pushed by the server.
type Message struct {
	Method string          `json:"method,omitempty"`
	ID     *string         `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorContext   `json:"error,omitempty"`
}

// IsResponse reports whether the message answers an earlier request
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil
}

// Response converts the message into a Response
func (m *Message) Response() *Response {
	r := &Response{Result: m.Result, Error: m.Error}
	if m.ID != nil {
		r.ID = *m.ID
	}
	return r
}

// Request converts the message into a Request
func (m *Message) Request() *Request {
	return &Request{Method: m.Method, ID: m.ID, Data: m.Data}
}

// EncodeRequest builds a request envelope around data
func EncodeRequest(method string, id *string, data any) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Request{Method: method, ID: id, Data: raw})
}

// EncodeResult builds a success response
func EncodeResult(id string, result json.RawMessage) ([]byte, error) {
	if result == nil {
		result = json.RawMessage("{}")
	}
	return json.Marshal(&Response{ID: id, Result: result})
}

// EncodeError builds an error response
func EncodeError(id string, e *ErrorContext) ([]byte, error) {
	return json.Marshal(&Response{ID: id, Error: e})
}

// DecodeRequest parses a request envelope
func DecodeRequest(b []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if r.Method == "" {
		return nil, errors.New("invalid envelope: missing method")
	}
	return &r, nil
}

// DecodeMessage parses anything a client may receive
func DecodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if m.Method == "" && m.ID == nil {
		return nil, errors.New("invalid envelope: neither method nor id")
	}
	return &m, nil
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
