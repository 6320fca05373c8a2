package dispatch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOperationTimeout is returned when a client call loses the race against its deadline.
	ErrOperationTimeout = errors.New("operation timed out")
	// ErrDispatchInFlight is returned when a trigger arrives while another dispatch is running.
	ErrDispatchInFlight = errors.New("dispatch already in flight")
	// ErrDuplicate means an identical poll was already delivered inside the dedup window.
	ErrDuplicate = errors.New("poll already delivered")
)

// TimeoutError names the operation that timed out.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %v after %s", e.Op, ErrOperationTimeout, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrOperationTimeout }

// NoRetry marks an error as permanent so the retry loop stops immediately.
//
//	return dispatch.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
