package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for adapter operations.
var (
	// ErrNotSupported indicates an operation was invoked on an adapter whose
	// capability flag for it is false. This is a caller programming error
	// (a missed capability check), never a data-layer failure, and is never
	// absorbed into cache-miss fallback.
	ErrNotSupported = errors.New("operation not supported by adapter")

	// ErrServerUnreachable indicates the ground-truth server cannot be
	// reached at the moment.
	ErrServerUnreachable = errors.New("server is unreachable")

	// ErrOfflineMode indicates a request needed the network while offline
	// mode is on.
	ErrOfflineMode = errors.New("offline mode is on")
)

// NotSupported wraps ErrNotSupported with the operation name. Adapters return
// this from operations whose capability flag the caller failed to check.
func NotSupported(op string) error {
	return fmt.Errorf("%s called, did you forget to check the capability flag: %w", op, ErrNotSupported)
}

// CacheMissError reports that the caching adapter could not service a
// request. It is the normal trigger for ground-truth fallback, and the
// uniform failure shape callers see when the ground truth fails too.
//
// PartialData carries whatever stale data the cache still holds for the
// request, so the UI can render something while flagging the failure. It is
// nil when nothing usable exists (for example after a delete).
type CacheMissError struct {
	PartialData any
	Err         error // underlying cause, when the miss wraps a deeper failure
}

func (e *CacheMissError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache miss: %v", e.Err)
	}
	return "cache miss"
}

func (e *CacheMissError) Unwrap() error { return e.Err }

// CacheMiss builds a CacheMissError carrying partial data.
func CacheMiss(partial any) *CacheMissError {
	return &CacheMissError{PartialData: partial}
}

// CacheMissFrom wraps an underlying failure (typically a transport or server
// error) into a CacheMissError, preserving any partial data gathered from the
// cache step.
func CacheMissFrom(err error, partial any) *CacheMissError {
	return &CacheMissError{PartialData: partial, Err: err}
}

// AsCacheMiss unwraps err into a CacheMissError, or returns nil if it is not
// one.
func AsCacheMiss(err error) *CacheMissError {
	var miss *CacheMissError
	if errors.As(err, &miss) {
		return miss
	}
	return nil
}
