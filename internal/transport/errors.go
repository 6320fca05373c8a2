package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("conversation not found")
	ErrNotConnected = errors.New("client not connected")
	ErrAuthFailure  = errors.New("authentication failed")
	ErrClosed       = errors.New("client closed")
)

// Error wraps a platform SDK failure with the operation that caused it.
type Error struct {
	Platform string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, leaves already wrapped errors alone,
// and otherwise returns an *Error.
func Wrap(platform, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Platform: platform, Op: op, Err: err}
}
