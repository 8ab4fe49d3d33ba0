package route

import (
	"errors"
)

// RequireCapability rejects the given methods unless the caller holds capability.
// Other methods pass through.
func RequireCapability(capability Capability, reason string, methods ...string) Middleware {
	gated := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		gated[m] = struct{}{}
	}
	if reason == "" {
		reason = "missing capability " + string(capability)
	}
	return func(c *Context) error {
		if _, ok := gated[c.Method]; !ok {
			return nil
		}
		if c.Caller == nil || !c.Caller.Has(capability) {
			return errors.New(reason)
		}
		return nil
	}
}
