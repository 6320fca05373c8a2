package eventbus

import "time"

// Dispatch lifecycle event types.
const (
	DispatchStarted       = "dispatch.started"
	DispatchAttemptFailed = "dispatch.attempt_failed"
	DispatchSucceeded     = "dispatch.succeeded"
	DispatchFailed        = "dispatch.failed"
	DispatchSkipped       = "dispatch.skipped"
)

// Dispatch is the Data payload of every dispatch.* event.
type Dispatch struct {
	ID       string
	Trigger  string
	Target   string
	Question string
	// Attempt is 1-based. MaxAttempts is MaxRetries+1.
	Attempt     int
	MaxAttempts int
	MessageID   string
	Err         string
	// Reason explains a skip ("in_flight", "duplicate").
	Reason  string
	Started time.Time
	Took    time.Duration
}
