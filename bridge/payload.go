package bridge

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Manager operations understood by the extension host
const (
	OpPing   = "ping"
	OpLoad   = "load"
	OpUnload = "unload"
)

// Event ids raised by the extension host
const (
	EventCrash   = "crash"
	EventGeneric = "generic"
)

// ManagerCall is the payload of a manager request: an operation and its
// CBOR-encoded arguments
type ManagerCall struct {
	Op   string          `cbor:"0,keyasint"`
	Args cbor.RawMessage `cbor:"1,keyasint,omitempty"`
}

// CommandMode selects how a loaded command renders
type CommandMode string

const (
	ModeView     CommandMode = "view"
	ModeNoView   CommandMode = "no-view"
	ModeMenuBar  CommandMode = "menu-bar"
	ModeDevelop  CommandMode = "develop"
	ModeInstance CommandMode = "instance"
)

// LoadCommand asks the host to start a command of an extension
type LoadCommand struct {
	ExtensionID string            `cbor:"0,keyasint"`
	Entrypoint  string            `cbor:"1,keyasint"`
	Mode        CommandMode       `cbor:"2,keyasint,omitempty"`
	Env         map[string]string `cbor:"3,keyasint,omitempty"`
	Preferences map[string]string `cbor:"4,keyasint,omitempty"`
	Arguments   map[string]string `cbor:"5,keyasint,omitempty"`
}

// LoadResult identifies the session the host created for a command
type LoadResult struct {
	SessionID string `cbor:"0,keyasint"`
}

// UnloadCommand stops a running command session
type UnloadCommand struct {
	SessionID string `cbor:"0,keyasint"`
}

// PingResult is the host's answer to a ping
type PingResult struct {
	Sessions int `cbor:"0,keyasint"`
}

// CrashEvent reports an uncaught failure inside an extension session
type CrashEvent struct {
	Text string `cbor:"0,keyasint"`
}

// GenericEvent invokes a callback registered by an extension. Args is a
// compact JSON array.
type GenericEvent struct {
	HandlerID string `cbor:"0,keyasint"`
	Args      []byte `cbor:"1,keyasint,omitempty"`
}

// EncodePayload encodes a typed payload
func EncodePayload(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, &Error{Type: ErrorTypeCodec, Message: err.Error()}
	}
	return b, nil
}

// DecodePayload decodes a typed payload
func DecodePayload(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return &Error{Type: ErrorTypeCodec, Message: err.Error()}
	}
	return nil
}

// EncodeCall builds the payload of a manager request for op
func EncodeCall(op string, args any) ([]byte, error) {
	call := ManagerCall{Op: op}
	if args != nil {
		raw, err := cbor.Marshal(args)
		if err != nil {
			return nil, &Error{Type: ErrorTypeCodec, Message: fmt.Sprintf("encode %s args: %v", op, err)}
		}
		call.Args = raw
	}
	return EncodePayload(&call)
}

// DecodeCall parses the payload of a manager request
func DecodeCall(payload []byte) (*ManagerCall, error) {
	var call ManagerCall
	if err := DecodePayload(payload, &call); err != nil {
		return nil, err
	}
	if call.Op == "" {
		return nil, &Error{Type: ErrorTypeCodec, Message: "manager call without op"}
	}
	return &call, nil
}
