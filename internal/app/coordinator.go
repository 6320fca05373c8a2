package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"pollbot/internal/dispatch"
	"pollbot/internal/poll"
	"pollbot/internal/runtime/supervisor"
	"pollbot/internal/scheduler"
	"pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

const (
	weeklyJob      = "weekly-poll"
	startupTestJob = "startup-test"

	reconnectMin = time.Second
	reconnectMax = time.Minute
)

// Dispatcher is the part of dispatch.Dispatcher the coordinator drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger string) dispatch.Result
}

// Coordinator reacts to client lifecycle events: it renders pairing codes,
// starts the schedule on the first ready and reconnects after disconnects.
type Coordinator struct {
	Client     transport.Client
	Scheduler  *scheduler.Service
	Dispatcher Dispatcher
	Supervisor *supervisor.Supervisor

	// Schedule is the weekly trigger expression.
	Schedule string
	// StartupTestDelay > 0 sends one extra poll that long after the first ready.
	StartupTestDelay time.Duration

	// QR receives rendered pairing codes. RenderQR draws one code.
	QR       io.Writer
	RenderQR func(w io.Writer, code string)

	// OnReady runs once, after the schedule is registered.
	OnReady func()

	Log logx.Logger

	startOnce    sync.Once
	reconnecting atomic.Bool
	ready        atomic.Bool
}

// Ready reports whether the client is currently usable.
func (c *Coordinator) Ready() bool { return c.ready.Load() }

// Connect starts the initial connection under the reconnect backoff.
func (c *Coordinator) Connect() { c.connectLoop("client.connect") }

// Run consumes client events until ctx ends or the client closes its channel.
func (c *Coordinator) Run(ctx context.Context) error {
	events := c.Client.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				c.ready.Store(false)
				return nil
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventQR:
		c.Log.Info("scan the QR code with the phone to link this session")
		if c.QR != nil && c.RenderQR != nil {
			c.RenderQR(c.QR, ev.Code)
		}
	case transport.EventAuthenticated:
		c.Log.Info("client authenticated")
	case transport.EventAuthFailure:
		c.ready.Store(false)
		c.Log.Error("client authentication failed; relink or fix credentials and restart", logx.String("reason", ev.Reason))
	case transport.EventReady:
		c.ready.Store(true)
		c.Log.Info("client ready", logx.String("platform", c.Client.Platform()))
		c.startOnce.Do(func() { c.start() })
	case transport.EventDisconnected:
		c.ready.Store(false)
		if ctx.Err() != nil {
			return
		}
		c.Log.Warn("client disconnected; reconnecting", logx.String("reason", ev.Reason))
		c.connectLoop("client.reconnect")
	default:
		c.Log.Debug("unhandled client event", logx.String("kind", string(ev.Kind)))
	}
}

// start registers the weekly trigger. Later ready events after a reconnect
// leave the schedule as is.
func (c *Coordinator) start() {
	job := func(trigger string) scheduler.Job {
		return func(ctx context.Context) { c.Dispatcher.Dispatch(ctx, trigger) }
	}
	spec, err := c.Scheduler.Add(weeklyJob, c.Schedule, job("schedule"))
	if err != nil {
		c.Log.Error("schedule registration failed", logx.String("schedule", c.Schedule), logx.Err(err))
		return
	}
	c.Scheduler.Start()

	loc := c.Scheduler.Location()
	if next := spec.Next(time.Now(), loc); !next.IsZero() {
		c.Log.Info("weekly poll scheduled",
			logx.String("schedule", spec.Expr),
			logx.String("tz", loc.String()),
			logx.String("next_run", next.In(loc).Format("Mon 2 Jan 2006 15:04 MST")),
			logx.String("next_label", poll.Label(next.In(loc))),
		)
	}

	if c.StartupTestDelay > 0 {
		c.Scheduler.Once(startupTestJob, c.StartupTestDelay, job(startupTestJob))
	}
	if c.OnReady != nil {
		c.OnReady()
	}
}

// connectLoop calls Connect with exponential backoff until it succeeds.
// Authentication failures are not retried.
func (c *Coordinator) connectLoop(name string) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	c.Supervisor.GoRestart(name, func(ctx context.Context) error {
		err := c.Client.Connect(ctx)
		switch {
		case err == nil:
			c.reconnecting.Store(false)
			return nil
		case errors.Is(err, transport.ErrAuthFailure), errors.Is(err, transport.ErrClosed):
			c.reconnecting.Store(false)
			c.Log.Error("client connect abandoned", logx.Err(err))
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("connect: %w", err)
		}
	}, supervisor.WithRestartBackoff(reconnectMin, reconnectMax))
}
