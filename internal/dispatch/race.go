package dispatch

import (
	"context"
	"time"

	"pollbot/internal/transport"
)

// raceTimeout runs fn and returns whichever finishes first: fn or the timer.
// A losing fn is abandoned; its context is cancelled but it may still complete
// in the background.
func raceTimeout[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return fn(ctx)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{v: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, &TimeoutError{Op: op, After: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// timedClient bounds the resolver's client calls by the policy timeouts.
type timedClient struct {
	c      transport.Client
	list   time.Duration
	lookup time.Duration
}

func (t timedClient) ListConversations(ctx context.Context) ([]transport.Conversation, error) {
	return raceTimeout(ctx, t.list, "list conversations", t.c.ListConversations)
}

func (t timedClient) GetConversation(ctx context.Context, id string) (transport.Conversation, error) {
	return raceTimeout(ctx, t.lookup, "get conversation", func(ctx context.Context) (transport.Conversation, error) {
		return t.c.GetConversation(ctx, id)
	})
}
