package bridge

import (
	"fmt"
)

// Envelope version written by this package
const EnvelopeVersion uint8 = 1

// Kind is the variant of a host envelope
type Kind uint8

const (
	KindExtensionRequest  Kind = 1 // host → main, callee-assigned ids
	KindExtensionResponse Kind = 2 // main → host
	KindExtensionEvent    Kind = 3 // either direction, fire and forget
	KindManagerRequest    Kind = 4 // main → host, caller-generated UUID
	KindManagerResponse   Kind = 5 // host → main
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindExtensionRequest:
		return "extension_request"
	case KindExtensionResponse:
		return "extension_response"
	case KindExtensionEvent:
		return "extension_event"
	case KindManagerRequest:
		return "manager_request"
	case KindManagerResponse:
		return "manager_response"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", k)
	}
}

// ExtensionRequest is a request issued by an extension session. The
// request id is chosen by the host and only unique within the session.
type ExtensionRequest struct {
	SessionID string `cbor:"0,keyasint"`
	RequestID string `cbor:"1,keyasint"`
	Payload   []byte `cbor:"2,keyasint,omitempty"`
}

// ExtensionResponse answers an ExtensionRequest. Error is empty on success.
type ExtensionResponse struct {
	SessionID string `cbor:"0,keyasint"`
	RequestID string `cbor:"1,keyasint"`
	Value     []byte `cbor:"2,keyasint,omitempty"`
	Error     string `cbor:"3,keyasint,omitempty"`
}

// ExtensionEvent is an event addressed to or raised by an extension session
type ExtensionEvent struct {
	SessionID string `cbor:"0,keyasint"`
	EventID   string `cbor:"1,keyasint"`
	Payload   []byte `cbor:"2,keyasint,omitempty"`
}

// ManagerRequest is a request to the host's extension manager
type ManagerRequest struct {
	RequestID string `cbor:"0,keyasint"`
	Payload   []byte `cbor:"1,keyasint,omitempty"`
}

// ManagerResponse answers a ManagerRequest. Error is empty on success.
type ManagerResponse struct {
	RequestID string `cbor:"0,keyasint"`
	Value     []byte `cbor:"1,keyasint,omitempty"`
	Error     string `cbor:"2,keyasint,omitempty"`
}

// Message is one host envelope. Exactly one variant is set and it matches
// Kind.
type Message struct {
	Kind              Kind
	ExtensionRequest  *ExtensionRequest
	ExtensionResponse *ExtensionResponse
	ExtensionEvent    *ExtensionEvent
	ManagerRequest    *ManagerRequest
	ManagerResponse   *ManagerResponse
}

// NewExtensionRequest creates an extension_request envelope
func NewExtensionRequest(sessionID, requestID string, payload []byte) *Message {
	return &Message{
		Kind:             KindExtensionRequest,
		ExtensionRequest: &ExtensionRequest{SessionID: sessionID, RequestID: requestID, Payload: payload},
	}
}

// NewExtensionResponse creates an extension_response envelope
func NewExtensionResponse(sessionID, requestID string, value []byte, errText string) *Message {
	return &Message{
		Kind: KindExtensionResponse,
		ExtensionResponse: &ExtensionResponse{
			SessionID: sessionID,
			RequestID: requestID,
			Value:     value,
			Error:     errText,
		},
	}
}

// NewExtensionEvent creates an extension_event envelope
func NewExtensionEvent(ev ExtensionEvent) *Message {
	return &Message{Kind: KindExtensionEvent, ExtensionEvent: &ev}
}

// NewManagerRequest creates a manager_request envelope
func NewManagerRequest(requestID string, payload []byte) *Message {
	return &Message{
		Kind:           KindManagerRequest,
		ManagerRequest: &ManagerRequest{RequestID: requestID, Payload: payload},
	}
}

// NewManagerResponse creates a manager_response envelope
func NewManagerResponse(requestID string, value []byte, errText string) *Message {
	return &Message{
		Kind:            KindManagerResponse,
		ManagerResponse: &ManagerResponse{RequestID: requestID, Value: value, Error: errText},
	}
}

// Validate checks that exactly the variant named by Kind is set
func (m *Message) Validate() error {
	set := 0
	for _, present := range []bool{
		m.ExtensionRequest != nil,
		m.ExtensionResponse != nil,
		m.ExtensionEvent != nil,
		m.ManagerRequest != nil,
		m.ManagerResponse != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("envelope must carry exactly one variant, has %d", set)
	}
	if m.body() == nil {
		return fmt.Errorf("envelope kind %s does not match its variant", m.Kind)
	}
	return nil
}

func (m *Message) body() any {
	switch m.Kind {
	case KindExtensionRequest:
		if m.ExtensionRequest != nil {
			return m.ExtensionRequest
		}
	case KindExtensionResponse:
		if m.ExtensionResponse != nil {
			return m.ExtensionResponse
		}
	case KindExtensionEvent:
		if m.ExtensionEvent != nil {
			return m.ExtensionEvent
		}
	case KindManagerRequest:
		if m.ManagerRequest != nil {
			return m.ManagerRequest
		}
	case KindManagerResponse:
		if m.ManagerResponse != nil {
			return m.ManagerResponse
		}
	}
	return nil
}
