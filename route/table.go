// Package route maps method keys to typed handlers and runs the dispatch
// pipeline: lookup, decode, middlewares, handler.
package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/pending"
)

// HandlerFunc answers a request immediately
type HandlerFunc[Req, Res any] func(c *Context, req Req) (Res, error)

// AsyncHandlerFunc answers a request later through a future
type AsyncHandlerFunc[Req, Res any] func(c *Context, req Req) *pending.Future[Res]

// Middleware runs after decoding and before the handler. A non-nil error
// rejects the request.
type Middleware func(c *Context) error

// Outcome is the result of a dispatch. Exactly one field is set.
type Outcome struct {
	Result json.RawMessage
	Err    *envelope.ErrorContext
	Async  *pending.Future[json.RawMessage]
}

type entry struct {
	key    string
	schema *requestSchema
	decode func(raw json.RawMessage) (any, error)
	call   func(c *Context, req any) Outcome
}

// Table holds the routes. It is built at startup and read-only once sealed;
// dispatch seals it implicitly.
type Table struct {
	entries     map[string]*entry
	middlewares []Middleware
	sealed      atomic.Bool
}

// New creates an empty table
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Use appends middlewares. They run in registration order.
func (t *Table) Use(mw ...Middleware) {
	t.mustBeOpen()
	t.middlewares = append(t.middlewares, mw...)
}

// Seal makes the table read-only
func (t *Table) Seal() {
	t.sealed.Store(true)
}

// Has reports whether a method is registered
func (t *Table) Has(method string) bool {
	_, ok := t.entries[method]
	return ok
}

// Methods returns the registered keys in sorted order
func (t *Table) Methods() []string {
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Handle registers a handler that answers immediately. It panics on a
// duplicate key, an invalid schema, or a sealed table.
func Handle[Req, Res any](t *Table, kind envelope.Kind[Req, Res], h HandlerFunc[Req, Res]) {
	t.add(kind.Key(), kind.Schema(), decodeAs[Req], func(c *Context, req any) Outcome {
		res, err := h(c, req.(Req))
		if err != nil {
			return Outcome{Err: WireError(err)}
		}
		raw, err := json.Marshal(res)
		if err != nil {
			return Outcome{Err: envelope.NewError(envelope.CodeInternal, "encode result: %v", err)}
		}
		return Outcome{Result: raw}
	})
}

// HandleAsync registers a handler whose response arrives later
func HandleAsync[Req, Res any](t *Table, kind envelope.Kind[Req, Res], h AsyncHandlerFunc[Req, Res]) {
	t.add(kind.Key(), kind.Schema(), decodeAs[Req], func(c *Context, req any) Outcome {
		fut := h(c, req.(Req))
		if fut == nil {
			return Outcome{Err: envelope.NewError(envelope.CodeInternal, "handler for %s returned no future", c.Method)}
		}
		return Outcome{Async: pending.Map(fut, func(v Res) (json.RawMessage, error) {
			return json.Marshal(v)
		})}
	})
}

func (t *Table) add(key, schemaDoc string, decode func(json.RawMessage) (any, error), call func(*Context, any) Outcome) {
	t.mustBeOpen()
	if key == "" {
		panic("route: empty method key")
	}
	if _, dup := t.entries[key]; dup {
		panic(fmt.Sprintf("route: duplicate method %q", key))
	}
	schema, err := compileSchema(key, schemaDoc)
	if err != nil {
		panic(fmt.Sprintf("route: %v", err))
	}
	t.entries[key] = &entry{key: key, schema: schema, decode: decode, call: call}
}

func (t *Table) mustBeOpen() {
	if t.sealed.Load() {
		panic("route: table is sealed")
	}
}

// Dispatch runs one request through the table:
//
//  1. unknown method fails with CodeUnknownMethod
//  2. data that violates the schema or does not decode fails with CodeBadRequest
//  3. middlewares run in order; the first rejection wins and the handler is not invoked
//  4. the handler's result, error or future is returned
//
// A panic in a middleware or handler fails only this request with CodeInternal.
func (t *Table) Dispatch(c *Context, raw json.RawMessage) (out Outcome) {
	t.sealed.Store(true)
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("dispatch panicked", "method", c.Method, "panic", r)
			out = Outcome{Err: envelope.NewError(envelope.CodeInternal, "internal error in %s", c.Method)}
		}
	}()

	e, ok := t.entries[c.Method]
	if !ok {
		return Outcome{Err: envelope.NewError(envelope.CodeUnknownMethod, "unknown method %q", c.Method)}
	}

	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if e.schema != nil {
		if err := e.schema.validate(raw); err != nil {
			return Outcome{Err: envelope.NewError(envelope.CodeBadRequest, "%v", err)}
		}
	}
	req, err := e.decode(raw)
	if err != nil {
		return Outcome{Err: envelope.NewError(envelope.CodeBadRequest, "invalid data for %s: %v", c.Method, err)}
	}

	for _, mw := range t.middlewares {
		if err := mw(c); err != nil {
			return Outcome{Err: rejection(err)}
		}
	}

	return e.call(c, req)
}

// WireError maps a handler or future error onto the wire
func WireError(err error) *envelope.ErrorContext {
	if errors.Is(err, pending.ErrCancelled) {
		return envelope.NewError(envelope.CodeCancelled, "request cancelled")
	}
	return envelope.ErrorFrom(err)
}

func rejection(err error) *envelope.ErrorContext {
	var ec *envelope.ErrorContext
	if errors.As(err, &ec) {
		return ec
	}
	return &envelope.ErrorContext{Code: envelope.CodeRejected, Message: err.Error()}
}

func decodeAs[Req any](raw json.RawMessage) (any, error) {
	var req Req
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return req, nil
}
