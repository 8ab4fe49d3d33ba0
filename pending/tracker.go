package pending

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Call describes an outstanding call
type Call struct {
	ID        string
	CreatedAt time.Time
}

type entry[T any] struct {
	future  *Future[T]
	created time.Time
}

// Tracker correlates outbound calls with responses by a generated id.
// Every issued id is resolved, rejected, forgotten or cancelled exactly once.
type Tracker[T any] struct {
	mu     sync.Mutex
	calls  map[string]*entry[T]
	closed error
	logger *slog.Logger
}

// NewTracker creates an empty tracker. A nil logger uses slog.Default().
func NewTracker[T any](logger *slog.Logger) *Tracker[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker[T]{
		calls:  make(map[string]*entry[T]),
		logger: logger,
	}
}

// Issue registers a new call and returns its id and the future the response
// will settle. Cancelling the future forgets the call. On a closed tracker
// the future is already failed with the close error.
func (t *Tracker[T]) Issue() (string, *Future[T]) {
	id := uuid.NewString()
	f := New[T]()

	t.mu.Lock()
	if t.closed != nil {
		err := t.closed
		t.mu.Unlock()
		f.Reject(err)
		return id, f
	}
	t.calls[id] = &entry[T]{future: f, created: time.Now()}
	t.mu.Unlock()

	f.OnCancel(func() { t.Forget(id) })
	return id, f
}

// Resolve completes the call with id. Unknown ids are logged and ignored.
func (t *Tracker[T]) Resolve(id string, v T) bool {
	e := t.take(id)
	if e == nil {
		t.logger.Warn("unexpected response", "id", id)
		return false
	}
	return e.future.Resolve(v)
}

// Reject fails the call with id. Unknown ids are logged and ignored.
func (t *Tracker[T]) Reject(id string, err error) bool {
	e := t.take(id)
	if e == nil {
		t.logger.Warn("unexpected error response", "id", id, "error", err)
		return false
	}
	return e.future.Reject(err)
}

// Forget drops the call without settling it. A late response for id is
// then treated as unexpected.
func (t *Tracker[T]) Forget(id string) bool {
	return t.take(id) != nil
}

// CancelAll fails every outstanding call with err and returns how many
// there were.
func (t *Tracker[T]) CancelAll(err error) int {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*entry[T])
	t.mu.Unlock()

	for _, e := range calls {
		e.future.Reject(err)
	}
	return len(calls)
}

// Close cancels everything with err and fails all later Issue calls with
// the same error until Reopen.
func (t *Tracker[T]) Close(err error) int {
	t.mu.Lock()
	t.closed = err
	t.mu.Unlock()
	return t.CancelAll(err)
}

// Reopen accepts new calls again after Close
func (t *Tracker[T]) Reopen() {
	t.mu.Lock()
	t.closed = nil
	t.mu.Unlock()
}

// Len returns the number of outstanding calls
func (t *Tracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Pending returns the outstanding calls, oldest first
func (t *Tracker[T]) Pending() []Call {
	t.mu.Lock()
	out := make([]Call, 0, len(t.calls))
	for id, e := range t.calls {
		out = append(out, Call{ID: id, CreatedAt: e.created})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (t *Tracker[T]) take(id string) *entry[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	return e
}
