package bridge

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys of the outer envelope
const (
	keyVersion = 0 // version (u8)
	keyKind    = 1 // kind (u8)
	keyBody    = 2 // variant body (map with integer keys)
)

// EncodeMessage encodes a Message to CBOR bytes using integer keys
func EncodeMessage(msg *Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	m := map[int]interface{}{
		keyVersion: EnvelopeVersion,
		keyKind:    uint8(msg.Kind),
		keyBody:    msg.body(),
	}
	return cbor.Marshal(m)
}

// DecodeMessage decodes CBOR bytes to a Message
func DecodeMessage(data []byte) (*Message, error) {
	var m map[int]cbor.RawMessage
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	rawVersion, ok := m[keyVersion]
	if !ok {
		return nil, errors.New("missing version field")
	}
	var version uint8
	if err := cbor.Unmarshal(rawVersion, &version); err != nil {
		return nil, fmt.Errorf("invalid version field: %w", err)
	}
	if version != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", version)
	}

	rawKind, ok := m[keyKind]
	if !ok {
		return nil, errors.New("missing kind field")
	}
	var kind uint8
	if err := cbor.Unmarshal(rawKind, &kind); err != nil {
		return nil, fmt.Errorf("invalid kind field: %w", err)
	}

	body, ok := m[keyBody]
	if !ok {
		return nil, errors.New("missing body field")
	}

	msg := &Message{Kind: Kind(kind)}
	var target interface{}
	switch msg.Kind {
	case KindExtensionRequest:
		msg.ExtensionRequest = &ExtensionRequest{}
		target = msg.ExtensionRequest
	case KindExtensionResponse:
		msg.ExtensionResponse = &ExtensionResponse{}
		target = msg.ExtensionResponse
	case KindExtensionEvent:
		msg.ExtensionEvent = &ExtensionEvent{}
		target = msg.ExtensionEvent
	case KindManagerRequest:
		msg.ManagerRequest = &ManagerRequest{}
		target = msg.ManagerRequest
	case KindManagerResponse:
		msg.ManagerResponse = &ManagerResponse{}
		target = msg.ManagerResponse
	default:
		return nil, fmt.Errorf("unknown envelope kind %d", kind)
	}
	if err := cbor.Unmarshal(body, target); err != nil {
		return nil, fmt.Errorf("invalid %s body: %w", msg.Kind, err)
	}
	return msg, nil
}
