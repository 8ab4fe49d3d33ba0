// Package pending provides single-assignment futures and the tracker that
// correlates outbound calls with their eventual responses.
package pending

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is the error of a cancelled future
var ErrCancelled = errors.New("cancelled")

// Future is a value that becomes available later. It is settled exactly
// once, by Resolve, Reject or Cancel; later attempts are ignored.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	cancelled bool
	value     T
	err       error
	onCancel  []func()
}

// New creates an unsettled future
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved creates a future already settled with v
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Failed creates a future already settled with err
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve settles the future with a value
func (f *Future[T]) Resolve(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.value = v
	f.settle()
	return true
}

// Reject settles the future with an error
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = errors.New("rejected with nil error")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.err = err
	f.settle()
	return true
}

// Cancel settles the future with ErrCancelled and runs the OnCancel hooks.
// Cancelling a settled future does nothing.
func (f *Future[T]) Cancel() bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	hooks := f.onCancel
	f.err = ErrCancelled
	f.cancelled = true
	f.settle()
	f.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return true
}

// OnCancel registers fn to run when the future is cancelled. If it already
// was, fn runs immediately; if it settled any other way, fn never runs.
func (f *Future[T]) OnCancel(fn func()) {
	f.mu.Lock()
	if f.cancelled {
		f.mu.Unlock()
		fn()
		return
	}
	if !f.settled {
		f.onCancel = append(f.onCancel, fn)
	}
	f.mu.Unlock()
}

// Done is closed once the future is settled
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future is settled and returns its outcome
func (f *Future[T]) Result() (T, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Wait is Result bounded by ctx. The future itself is left untouched when
// ctx ends first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled reports whether the future has an outcome
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Cancelled reports whether the future was settled by Cancel
func (f *Future[T]) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *Future[T]) settle() {
	f.settled = true
	f.onCancel = nil
	close(f.done)
}

// Map derives a future whose value is fn applied to src's value. Cancelling
// the derived future cancels src.
func Map[T, U any](src *Future[T], fn func(T) (U, error)) *Future[U] {
	dst := New[U]()
	dst.OnCancel(func() { src.Cancel() })
	go func() {
		select {
		case <-src.Done():
		case <-dst.Done():
			return
		}
		v, err := src.Result()
		if err != nil {
			dst.Reject(err)
			return
		}
		u, err := fn(v)
		if err != nil {
			dst.Reject(err)
			return
		}
		dst.Resolve(u)
	}()
	return dst
}
