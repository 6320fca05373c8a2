// Package dispatch posts the weekly poll with bounded, sequential retries.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pollbot/internal/eventbus"
	"pollbot/internal/poll"
	"pollbot/internal/storage"
	"pollbot/internal/target"
	"pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

// Options wires a Dispatcher. Client, Template and one of TargetName/TargetID are required.
type Options struct {
	Client     transport.Client
	TargetName string
	TargetID   string
	Template   poll.Template
	// Location is the timezone used for the date label and success logs. Default UTC.
	Location *time.Location
	Policy   Policy

	// Store enables duplicate suppression. Nil disables it.
	Store       storage.Store
	DedupWindow time.Duration

	Bus eventbus.Bus
	Log logx.Logger

	Now   func() time.Time
	Sleep Sleeper
}

// Result describes one Dispatch call.
type Result struct {
	ID       string
	Trigger  string
	Target   transport.Conversation
	Question string
	Message  transport.MessageRef
	Attempts int
	// Skipped is "in_flight" or "duplicate" when nothing was sent on purpose.
	Skipped string
	Err     error
	Took    time.Duration
}

func (r Result) OK() bool { return r.Err == nil && r.Skipped == "" }

// Dispatcher sends the poll. At most one Dispatch runs at a time.
type Dispatcher struct {
	client   transport.Client
	resolver target.Resolver
	tpl      poll.Template
	loc      *time.Location
	policy   Policy

	store       storage.Store
	dedupWindow time.Duration

	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
	sleep Sleeper

	inflight sync.Mutex
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Client == nil {
		return nil, errors.New("dispatch: client is required")
	}
	base := opts.Log
	if base.IsZero() {
		base = logx.Nop()
	}
	log := base.With(logx.String("comp", "dispatch"))

	tc := timedClient{c: opts.Client, list: opts.Policy.ListTimeout, lookup: opts.Policy.LookupTimeout}
	res, err := target.New(opts.TargetName, opts.TargetID, tc, base)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		client:      opts.Client,
		resolver:    res,
		tpl:         opts.Template,
		loc:         opts.Location,
		policy:      opts.Policy,
		store:       opts.Store,
		dedupWindow: opts.DedupWindow,
		bus:         opts.Bus,
		log:         log,
		now:         opts.Now,
		sleep:       opts.Sleep,
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	return d, nil
}

// Target describes the configured destination ("name:<x>" or "id:<x>").
func (d *Dispatcher) Target() string { return d.resolver.Describe() }

// Dispatch resolves the target and sends the poll, retrying per Policy.
// It never panics on client failures; the outcome is logged and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger string) Result {
	res := Result{ID: uuid.NewString(), Trigger: trigger}
	log := d.log.With(logx.String("dispatch_id", res.ID), logx.String("trigger", trigger))

	if !d.inflight.TryLock() {
		res.Skipped, res.Err = "in_flight", ErrDispatchInFlight
		log.Warn("dispatch skipped: previous dispatch still running")
		d.publish(eventbus.DispatchSkipped, res, 0, time.Time{})
		return res
	}
	defer d.inflight.Unlock()

	start := d.now()
	maxAttempts := d.policy.MaxAttempts()
	log.Info("dispatch started", logx.String("target", d.resolver.Describe()), logx.Int("max_attempts", maxAttempts))
	d.publish(eventbus.DispatchStarted, res, 0, start)

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		err := d.attempt(ctx, log, &res)
		if err == nil {
			res.Err = nil
			res.Took = d.now().Sub(start)
			log.Info("poll sent",
				logx.String("target", res.Target.Name),
				logx.String("message_id", res.Message.MessageID),
				logx.String("sent_at", d.now().In(d.loc).Format("2006-01-02 15:04:05 MST")),
				logx.Int("attempt", attempt),
			)
			d.publish(eventbus.DispatchSucceeded, res, attempt, start)
			return res
		}
		res.Err = err

		if errors.Is(err, ErrDuplicate) {
			res.Skipped, res.Took = "duplicate", d.now().Sub(start)
			log.Info("dispatch skipped: identical poll already delivered", logx.String("question", res.Question))
			d.publish(eventbus.DispatchSkipped, res, attempt, start)
			return res
		}

		log.Warn("poll attempt failed",
			logx.String("attempt", fmt.Sprintf("%d/%d", attempt, maxAttempts)),
			logx.Err(err),
		)
		d.publish(eventbus.DispatchAttemptFailed, res, attempt, start)

		if !d.policy.ShouldRetry(attempt, err) {
			break
		}
		log.Info("retrying after delay", logx.Duration("delay", d.policy.RetryDelay), logx.Int("next_attempt", attempt+1))
		if serr := d.sleep(ctx, d.policy.RetryDelay); serr != nil {
			res.Err = fmt.Errorf("retry wait aborted: %w", serr)
			break
		}
	}

	res.Took = d.now().Sub(start)
	switch {
	case errors.Is(res.Err, target.ErrTargetNotFound):
		log.Error("dispatch abandoned: target not found; fix the configured group name or id", logx.Err(res.Err))
	default:
		log.Error("dispatch failed after all attempts; check network connectivity and that the messaging session is still linked",
			logx.Int("attempts", res.Attempts),
			logx.Duration("took", res.Took),
			logx.Err(res.Err),
		)
	}
	d.publish(eventbus.DispatchFailed, res, res.Attempts, start)
	return res
}

// attempt runs one resolve+send cycle, filling res as it goes.
func (d *Dispatcher) attempt(ctx context.Context, log logx.Logger, res *Result) error {
	conv, err := d.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	res.Target = conv

	now := d.now().In(d.loc)
	msg := d.tpl.Build(now)
	res.Question = msg.Question

	key := d.dedupKey(res.Trigger, conv, msg.Question)
	if d.isDuplicate(ctx, log, key, now) {
		return ErrDuplicate
	}

	log.Info("sending poll",
		logx.String("question", msg.Question),
		logx.Strings("options", msg.Options),
		logx.Bool("allow_multiple", msg.AllowMultiple),
	)
	req := transport.PollRequest{Question: msg.Question, Options: msg.Options, AllowMultiple: msg.AllowMultiple}
	ref, err := raceTimeout(ctx, d.policy.SendTimeout, "send poll", func(ctx context.Context) (transport.MessageRef, error) {
		return d.client.SendPoll(ctx, conv, req)
	})
	if errors.Is(err, transport.ErrClosed) {
		return NoRetry(err)
	}
	if err != nil {
		return err
	}
	res.Message = ref
	d.remember(ctx, log, key, now)
	return nil
}

// dedupKey is scoped per trigger so a startup test never suppresses the
// scheduled poll carrying the same date label.
func (d *Dispatcher) dedupKey(trigger string, conv transport.Conversation, question string) string {
	return d.client.Platform() + "|" + trigger + "|" + conv.ID + "|" + question
}

func (d *Dispatcher) isDuplicate(ctx context.Context, log logx.Logger, key string, now time.Time) bool {
	if d.store == nil || d.dedupWindow <= 0 {
		return false
	}
	until, ok, err := d.store.GetDedup(ctx, key)
	if err != nil {
		log.Warn("dedup lookup failed; sending anyway", logx.Err(err))
		return false
	}
	return ok && until.After(now)
}

func (d *Dispatcher) remember(ctx context.Context, log logx.Logger, key string, now time.Time) {
	if d.store == nil || d.dedupWindow <= 0 {
		return
	}
	if err := d.store.PutDedup(ctx, key, now.Add(d.dedupWindow)); err != nil {
		log.Warn("dedup write failed", logx.Err(err))
	}
}

func (d *Dispatcher) publish(typ string, r Result, attempt int, start time.Time) {
	if d.bus == nil {
		return
	}
	ev := eventbus.Dispatch{
		ID:          r.ID,
		Trigger:     r.Trigger,
		Target:      d.resolver.Describe(),
		Question:    r.Question,
		Attempt:     attempt,
		MaxAttempts: d.policy.MaxAttempts(),
		MessageID:   r.Message.MessageID,
		Reason:      r.Skipped,
		Started:     start,
		Took:        r.Took,
	}
	if r.Err != nil {
		ev.Err = r.Err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
