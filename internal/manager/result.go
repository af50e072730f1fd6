package manager

import (
	"errors"
	"sync"
)

// ErrResultCancelled resolves a Result whose work was cancelled before it
// produced a value.
var ErrResultCancelled = errors.New("result cancelled")

// Result is the handle every manager operation returns: a value that is
// either already available or still being produced on a worker.
//
// All methods are safe for concurrent use.
type Result[T any] struct {
	done chan struct{}

	mu         sync.Mutex
	value      T
	err        error
	resolved   bool
	cancelled  bool
	onCancel   func()
	hasDefault bool
	defaultVal T
	callbacks  []func(T, error)
}

// ResultOption configures a Result at construction.
type ResultOption[T any] func(*Result[T])

// WithDefault makes Get return the given value, without an error, when the
// underlying work fails. Callers that can render a placeholder use this to
// skip per-call error handling.
func WithDefault[T any](v T) ResultOption[T] {
	return func(r *Result[T]) {
		r.hasDefault = true
		r.defaultVal = v
	}
}

// WithOnCancel registers a hook run exactly once if the Result is cancelled,
// typically to abort an underlying transfer.
func WithOnCancel[T any](hook func()) ResultOption[T] {
	return func(r *Result[T]) {
		r.onCancel = hook
	}
}

// Of returns an already-resolved Result. Get never blocks on it.
func Of[T any](value T) *Result[T] {
	r := newResult[T]()
	r.resolve(value, nil)
	return r
}

// Failed returns an already-resolved Result carrying an error.
func Failed[T any](err error, opts ...ResultOption[T]) *Result[T] {
	r := newResult(opts...)
	var zero T
	r.resolve(zero, err)
	return r
}

// Async runs fn on the pool and returns a Result that resolves with its
// outcome. If the pool is closed the Result resolves immediately with
// ErrPoolClosed.
func Async[T any](pool *Pool, fn func() (T, error), opts ...ResultOption[T]) *Result[T] {
	r := newResult(opts...)
	err := pool.Submit(func() {
		v, err := fn()
		r.resolve(v, err)
	})
	if err != nil {
		var zero T
		r.resolve(zero, err)
	}
	return r
}

// Pending returns an unresolved Result that the caller resolves through the
// returned function. Resolving more than once is a no-op.
func Pending[T any](opts ...ResultOption[T]) (*Result[T], func(T, error)) {
	r := newResult(opts...)
	return r, r.resolve
}

func newResult[T any](opts ...ResultOption[T]) *Result[T] {
	r := &Result[T]{done: make(chan struct{})}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get blocks until the Result resolves and returns its value. A failure is
// replaced by the default value when one was configured.
func (r *Result[T]) Get() (T, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil && r.hasDefault {
		return r.defaultVal, nil
	}
	return r.value, r.err
}

// Available reports whether Get would return without blocking.
func (r *Result[T]) Available() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the Result resolves.
func (r *Result[T]) Done() <-chan struct{} { return r.done }

// OnDone registers a callback invoked exactly once with the Result's outcome.
// If the Result is already resolved the callback runs synchronously before
// OnDone returns; otherwise it runs on the resolving goroutine. The callback
// sees the same default-value substitution as Get.
func (r *Result[T]) OnDone(fn func(T, error)) {
	r.mu.Lock()
	if !r.resolved {
		r.callbacks = append(r.callbacks, fn)
		r.mu.Unlock()
		return
	}
	v, err := r.value, r.err
	if err != nil && r.hasDefault {
		v, err = r.defaultVal, nil
	}
	r.mu.Unlock()
	fn(v, err)
}

// Cancel marks the Result cancelled and runs the cancel hook. If the value has
// not been produced yet the Result resolves with ErrResultCancelled. Calling
// Cancel again, or after resolution, is a no-op.
func (r *Result[T]) Cancel() {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	hook := r.onCancel
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	var zero T
	r.resolve(zero, ErrResultCancelled)
}

// Cancelled reports whether Cancel was called.
func (r *Result[T]) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *Result[T]) resolve(value T, err error) {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return
	}
	r.value = value
	r.err = err
	r.resolved = true
	callbacks := r.callbacks
	r.callbacks = nil
	v, cbErr := value, err
	if err != nil && r.hasDefault {
		v, cbErr = r.defaultVal, nil
	}
	r.mu.Unlock()

	close(r.done)
	for _, fn := range callbacks {
		fn(v, cbErr)
	}
}
