package route

import (
	"context"
	"log/slog"
)

// Capability is a flag granted to a caller during its session
type Capability string

// Caller is the identity a request arrives from
type Caller interface {
	ID() string
	Has(c Capability) bool
	Grant(c Capability)
}

// Context is handed to middlewares and handlers for one request
type Context struct {
	ctx          context.Context
	Method       string
	ID           string
	Notification bool
	Caller       Caller
	Logger       *slog.Logger
}

// NewContext creates the per-request context. An empty id marks a
// notification.
func NewContext(ctx context.Context, method string, id *string, caller Caller, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		ctx:    ctx,
		Method: method,
		Caller: caller,
		Logger: logger,
	}
	if id == nil {
		c.Notification = true
	} else {
		c.ID = *id
	}
	return c
}

// Context returns the request's context. It is cancelled when the caller
// goes away.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}
