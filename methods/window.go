package methods

import (
	"context"
	"errors"
	"net/url"
	"sync"
)

// Visibility is the server's view of whether the launcher window is shown
// and the search text it was opened with. The toggle, open and close
// deeplinks drive it; their fallbackText parameter becomes the query.
type Visibility struct {
	mu       sync.Mutex
	open     bool
	query    string
	onChange []func(open bool)
}

// OnChange registers fn to run after every change
func (v *Visibility) OnChange(fn func(open bool)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = append(v.onChange, fn)
}

func (v *Visibility) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open
}

// Query returns the search text of the open window
func (v *Visibility) Query() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query
}

// Toggle flips the window and returns the new state. query seeds the search
// text when the window opens.
func (v *Visibility) Toggle(query string) bool {
	v.mu.Lock()
	v.open = !v.open
	open := v.open
	v.query = ""
	if open {
		v.query = query
	}
	v.mu.Unlock()
	v.notify(open)
	return open
}

// Open shows the window with query as its search text. An open window only
// accepts a new query.
func (v *Visibility) Open(query string) error {
	v.mu.Lock()
	if v.open && query == "" {
		v.mu.Unlock()
		return errors.New("Already opened")
	}
	v.open = true
	v.query = query
	v.mu.Unlock()
	v.notify(true)
	return nil
}

func (v *Visibility) Close() error {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return errors.New("Already closed")
	}
	v.open = false
	v.query = ""
	v.mu.Unlock()
	v.notify(false)
	return nil
}

func (v *Visibility) notify(open bool) {
	v.mu.Lock()
	hooks := append([]func(bool){}, v.onChange...)
	v.mu.Unlock()
	for _, fn := range hooks {
		fn(open)
	}
}

// Verbs installs toggle, open and close on r
func (v *Visibility) Verbs(r *LinkRouter) {
	r.Verb("toggle", func(ctx context.Context, path string, q url.Values) error {
		v.Toggle(q.Get("fallbackText"))
		return nil
	})
	r.Verb("open", func(ctx context.Context, path string, q url.Values) error {
		return v.Open(q.Get("fallbackText"))
	})
	r.Verb("close", func(ctx context.Context, path string, q url.Values) error {
		return v.Close()
	})
}
