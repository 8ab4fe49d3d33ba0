package route

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/pending"
)

type echoReq struct {
	Text string `json:"text"`
}

type echoRes struct {
	Text string `json:"text"`
}

var (
	kindEcho = envelope.NewKind[echoReq, echoRes]("echo").WithSchema(`{
		"type": "object",
		"required": ["text"],
		"properties": {"text": {"type": "string"}}
	}`)
	kindSlow  = envelope.NewKind[echoReq, echoRes]("slow")
	kindFail  = envelope.NewKind[envelope.Empty, envelope.Empty]("fail")
	kindPanic = envelope.NewKind[envelope.Empty, envelope.Empty]("panic")
)

type testCaller struct {
	id   string
	caps map[Capability]bool
}

func newTestCaller() *testCaller {
	return &testCaller{id: "c1", caps: map[Capability]bool{}}
}

func (c *testCaller) ID() string              { return c.id }
func (c *testCaller) Has(cap Capability) bool { return c.caps[cap] }
func (c *testCaller) Grant(cap Capability)    { c.caps[cap] = true }

func call(method string, caller Caller) *Context {
	id := "1"
	return NewContext(context.Background(), method, &id, caller, nil)
}

func newEchoTable(invoked *int) *Table {
	t := New()
	Handle(t, kindEcho, func(c *Context, req echoReq) (echoRes, error) {
		*invoked++
		return echoRes{Text: req.Text}, nil
	})
	return t
}

// TEST050: A registered handler answers with the encoded result
func Test050_dispatch_sync(t *testing.T) {
	var invoked int
	table := newEchoTable(&invoked)

	out := table.Dispatch(call("echo", newTestCaller()), json.RawMessage(`{"text":"hi"}`))
	require.Nil(t, out.Err)
	assert.Nil(t, out.Async)
	assert.JSONEq(t, `{"text":"hi"}`, string(out.Result))
	assert.Equal(t, 1, invoked)
}

// TEST051: Unknown methods fail with CodeUnknownMethod
func Test051_unknown_method(t *testing.T) {
	var invoked int
	table := newEchoTable(&invoked)

	out := table.Dispatch(call("nope", newTestCaller()), json.RawMessage(`{}`))
	require.NotNil(t, out.Err)
	assert.Equal(t, envelope.CodeUnknownMethod, out.Err.Code)
	assert.Contains(t, out.Err.Message, "nope")
}

// TEST052: Data violating the schema or failing to decode is a BadRequest
func Test052_bad_request(t *testing.T) {
	var invoked int
	table := newEchoTable(&invoked)

	for _, raw := range []string{`{}`, `{"text":5}`, `[1,2]`, ``} {
		out := table.Dispatch(call("echo", newTestCaller()), json.RawMessage(raw))
		require.NotNil(t, out.Err, "data %q", raw)
		assert.Equal(t, envelope.CodeBadRequest, out.Err.Code, "data %q", raw)
	}

	noSchema := New()
	Handle(noSchema, kindSlow, func(c *Context, req echoReq) (echoRes, error) { return echoRes{}, nil })
	out := noSchema.Dispatch(call("slow", newTestCaller()), json.RawMessage(`{"text":`))
	require.NotNil(t, out.Err)
	assert.Equal(t, envelope.CodeBadRequest, out.Err.Code)

	assert.Equal(t, 0, invoked)
}

// TEST053: The unknown method check comes before decoding
func Test053_unknown_before_decode(t *testing.T) {
	table := New()
	out := table.Dispatch(call("echo", nil), json.RawMessage(`garbage`))
	assert.Equal(t, envelope.CodeUnknownMethod, out.Err.Code)
}

// TEST054: Middlewares run in order and the first rejection wins
func Test054_middleware_order(t *testing.T) {
	var invoked int
	table := New()
	var order []string
	table.Use(
		func(c *Context) error { order = append(order, "first"); return nil },
		func(c *Context) error { order = append(order, "second"); return errors.New("second says no") },
		func(c *Context) error { order = append(order, "third"); return errors.New("third says no") },
	)
	Handle(table, kindEcho, func(c *Context, req echoReq) (echoRes, error) {
		invoked++
		return echoRes{}, nil
	})

	out := table.Dispatch(call("echo", newTestCaller()), json.RawMessage(`{"text":"x"}`))
	require.NotNil(t, out.Err)
	assert.Equal(t, envelope.CodeRejected, out.Err.Code)
	assert.Equal(t, "second says no", out.Err.Message)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 0, invoked)
}

// TEST055: Middlewares never see requests that failed to decode
func Test055_middleware_after_decode(t *testing.T) {
	table := New()
	var ran bool
	table.Use(func(c *Context) error { ran = true; return nil })
	Handle(table, kindEcho, func(c *Context, req echoReq) (echoRes, error) { return echoRes{}, nil })

	out := table.Dispatch(call("echo", newTestCaller()), json.RawMessage(`{}`))
	assert.Equal(t, envelope.CodeBadRequest, out.Err.Code)
	assert.False(t, ran)
}

// TEST056: RequireCapability gates listed methods only
func Test056_require_capability(t *testing.T) {
	table := New()
	table.Use(RequireCapability("browser", "connection is not a browser integration", "echo"))
	Handle(table, kindEcho, func(c *Context, req echoReq) (echoRes, error) { return echoRes(req), nil })
	Handle(table, kindSlow, func(c *Context, req echoReq) (echoRes, error) { return echoRes(req), nil })

	caller := newTestCaller()
	out := table.Dispatch(call("echo", caller), json.RawMessage(`{"text":"x"}`))
	require.NotNil(t, out.Err)
	assert.Equal(t, "connection is not a browser integration", out.Err.Message)

	out = table.Dispatch(call("slow", caller), json.RawMessage(`{"text":"x"}`))
	assert.Nil(t, out.Err)

	caller.Grant("browser")
	out = table.Dispatch(call("echo", caller), json.RawMessage(`{"text":"x"}`))
	assert.Nil(t, out.Err)
	assert.JSONEq(t, `{"text":"x"}`, string(out.Result))
}

// TEST057: Async handlers return a future that settles with the encoded result
func Test057_dispatch_async(t *testing.T) {
	table := New()
	fut := pending.New[echoRes]()
	HandleAsync(table, kindSlow, func(c *Context, req echoReq) *pending.Future[echoRes] {
		return fut
	})

	out := table.Dispatch(call("slow", newTestCaller()), json.RawMessage(`{"text":"later"}`))
	require.Nil(t, out.Err)
	require.NotNil(t, out.Async)
	assert.False(t, out.Async.Settled())

	fut.Resolve(echoRes{Text: "done"})
	raw, err := out.Async.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"done"}`, string(raw))
}

// TEST058: Cancelling the dispatched future cancels the handler's future
func Test058_async_cancel_propagates(t *testing.T) {
	table := New()
	fut := pending.New[echoRes]()
	var hook bool
	fut.OnCancel(func() { hook = true })
	HandleAsync(table, kindSlow, func(c *Context, req echoReq) *pending.Future[echoRes] { return fut })

	out := table.Dispatch(call("slow", newTestCaller()), json.RawMessage(`{}`))
	out.Async.Cancel()
	assert.True(t, fut.Cancelled())
	assert.True(t, hook)

	_, err := out.Async.Result()
	assert.Equal(t, envelope.CodeCancelled, WireError(err).Code)
}

// TEST059: Handler errors keep their code, plain errors become handler errors, panics are contained
func Test059_handler_errors(t *testing.T) {
	table := New()
	Handle(table, kindFail, func(c *Context, req envelope.Empty) (envelope.Empty, error) {
		return envelope.Empty{}, errors.New("No app with id foo")
	})
	Handle(table, kindPanic, func(c *Context, req envelope.Empty) (envelope.Empty, error) {
		panic("boom")
	})

	out := table.Dispatch(call("fail", nil), nil)
	require.NotNil(t, out.Err)
	assert.Equal(t, envelope.CodeHandler, out.Err.Code)
	assert.Equal(t, "No app with id foo", out.Err.Message)

	out = table.Dispatch(call("panic", nil), nil)
	require.NotNil(t, out.Err)
	assert.Equal(t, envelope.CodeInternal, out.Err.Code)
}

// TEST060: Registration panics on duplicates and after sealing
func Test060_registration_rules(t *testing.T) {
	table := New()
	Handle(table, kindFail, func(c *Context, req envelope.Empty) (envelope.Empty, error) { return req, nil })
	assert.Panics(t, func() {
		Handle(table, kindFail, func(c *Context, req envelope.Empty) (envelope.Empty, error) { return req, nil })
	})
	assert.Panics(t, func() {
		Handle(table, envelope.NewKind[envelope.Empty, envelope.Empty]("bad").WithSchema(`{`),
			func(c *Context, req envelope.Empty) (envelope.Empty, error) { return req, nil })
	})

	table.Dispatch(call("fail", nil), nil)
	assert.Panics(t, func() {
		Handle(table, kindEcho, func(c *Context, req echoReq) (echoRes, error) { return echoRes{}, nil })
	})
	assert.Equal(t, []string{"fail"}, table.Methods())
	assert.True(t, table.Has("fail"))
}

// TEST061: Notifications are flagged on the context
func Test061_notification_context(t *testing.T) {
	c := NewContext(context.Background(), "browser/tabs-changed", nil, nil, nil)
	assert.True(t, c.Notification)
	assert.Empty(t, c.ID)
	assert.NotNil(t, c.Logger)
	assert.NotNil(t, c.Context())
}

// TEST062: A panicking middleware fails the request without escaping Dispatch
func Test062_middleware_panic_contained(t *testing.T) {
	var invoked int
	table := newEchoTable(&invoked)
	var seen map[string]bool
	table.Use(func(c *Context) error {
		seen[c.Method] = true
		return nil
	})

	var out Outcome
	require.NotPanics(t, func() {
		out = table.Dispatch(call("echo", newTestCaller()), json.RawMessage(`{"text":"hi"}`))
	})
	require.NotNil(t, out.Err)
	assert.Equal(t, envelope.CodeInternal, out.Err.Code)
	assert.Equal(t, 0, invoked)
}
