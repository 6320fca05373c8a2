package dispatch

import (
	"context"
	"time"

	"pollbot/internal/eventbus"
	"pollbot/internal/storage"
	logx "pollbot/pkg/logx"
)

// Recorder appends one audit record per finished dispatch.
type Recorder struct {
	Store    storage.Store
	Bus      eventbus.Bus
	Platform string
	Log      logx.Logger
}

// Run consumes terminal dispatch events until ctx ends.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.Bus.Subscribe(32, eventbus.DispatchSucceeded, eventbus.DispatchFailed, eventbus.DispatchSkipped)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev eventbus.Event) {
	d, ok := ev.Data.(eventbus.Dispatch)
	if !ok {
		return
	}
	rec := storage.DispatchRecord{
		ID:        d.ID,
		At:        ev.Time,
		Trigger:   d.Trigger,
		Platform:  r.Platform,
		Target:    d.Target,
		Question:  d.Question,
		Attempts:  d.Attempt,
		OK:        ev.Type == eventbus.DispatchSucceeded,
		Skipped:   d.Reason,
		MessageID: d.MessageID,
		Error:     d.Err,
		TookMS:    d.Took.Milliseconds(),
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.Store.AppendDispatch(wctx, rec); err != nil {
		r.Log.Warn("dispatch audit write failed", logx.String("dispatch_id", d.ID), logx.Err(err))
	}
}
