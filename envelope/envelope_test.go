package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST020: Requests without an id are notifications
func Test020_request_notification(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"method":"browser/tabs-changed","data":[]}`))
	require.NoError(t, err)
	assert.True(t, req.IsNotification())

	req, err = DecodeRequest([]byte(`{"method":"ping","id":"7","data":{}}`))
	require.NoError(t, err)
	assert.False(t, req.IsNotification())
	assert.Equal(t, "7", *req.ID)
}

// TEST021: Envelopes without a method are rejected
func Test021_request_missing_method(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"id":"1"}`))
	assert.Error(t, err)
	_, err = DecodeRequest([]byte(`not json`))
	assert.Error(t, err)
}

// TEST022: Result and error responses carry exactly one of the two fields
func Test022_response_encoding(t *testing.T) {
	b, err := EncodeResult("1", json.RawMessage(`{"pid":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","result":{"pid":1}}`, string(b))

	b, err = EncodeError("2", NewError(CodeUnknownMethod, "unknown method %q", "nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"2","error":{"code":-32601,"message":"unknown method \"nope\""}}`, string(b))

	b, err = EncodeResult("3", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"3","result":{}}`, string(b))
}

// TEST023: Messages discriminate responses from pushed requests
func Test023_message_discrimination(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"id":"a","result":{}}`))
	require.NoError(t, err)
	assert.True(t, m.IsResponse())
	assert.Equal(t, "a", m.Response().ID)

	m, err = DecodeMessage([]byte(`{"method":"browser/close-tab","data":{"tabId":3}}`))
	require.NoError(t, err)
	assert.False(t, m.IsResponse())
	assert.Equal(t, "browser/close-tab", m.Request().Method)

	_, err = DecodeMessage([]byte(`{}`))
	assert.Error(t, err)
}

// TEST024: ErrorFrom keeps wire codes and defaults plain errors to handler errors
func Test024_error_from(t *testing.T) {
	assert.Nil(t, ErrorFrom(nil))

	ec := ErrorFrom(errors.New("boom"))
	assert.Equal(t, CodeHandler, ec.Code)
	assert.Equal(t, "boom", ec.Message)

	wrapped := fmt.Errorf("wrapped: %w", NewError(CodeRejected, "denied"))
	ec = ErrorFrom(wrapped)
	assert.Equal(t, CodeRejected, ec.Code)
	assert.Equal(t, "denied", ec.Message)
}

// TEST025: Kinds carry their key and optional schema
func Test025_kind(t *testing.T) {
	k := NewKind[Empty, Empty]("ping")
	assert.Equal(t, "ping", k.Key())
	assert.Empty(t, k.Schema())

	k2 := k.WithSchema(`{"type":"object"}`)
	assert.Equal(t, `{"type":"object"}`, k2.Schema())
	assert.Empty(t, k.Schema(), "WithSchema returns a copy")

	b, err := EncodeRequest(k.Key(), nil, Empty{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"ping","data":{}}`, string(b))
}
