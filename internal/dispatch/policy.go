package dispatch

import (
	"context"
	"errors"
	"time"

	"pollbot/internal/target"
)

// Policy bounds one dispatch: how often to try and how long each call may take.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration

	SendTimeout   time.Duration
	ListTimeout   time.Duration
	LookupTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		RetryDelay:    5 * time.Second,
		SendTimeout:   20 * time.Second,
		ListTimeout:   30 * time.Second,
		LookupTimeout: 20 * time.Second,
	}
}

// MaxAttempts is MaxRetries+1.
func (p Policy) MaxAttempts() int { return max(0, p.MaxRetries) + 1 }

// ShouldRetry decides whether another attempt follows attempt (1-based) failing with err.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	switch {
	case err == nil:
		return false
	case attempt >= p.MaxAttempts():
		return false
	case IsNoRetry(err),
		errors.Is(err, target.ErrTargetNotFound),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Sleeper waits for d or until ctx ends. Tests replace it to count delays.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
