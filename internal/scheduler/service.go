// Package scheduler triggers jobs on cron schedules in a fixed timezone.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "pollbot/pkg/logx"
)

// Job is invoked on every activation with the scheduler's run context.
type Job func(ctx context.Context)

// Entry describes a registered schedule.
type Entry struct {
	Name string
	Spec Spec
	Next time.Time
	Prev time.Time
}

// Service wraps robfig/cron. Registration works before and after Start.
type Service struct {
	loc *time.Location
	log logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]registered
	timers  map[string]*time.Timer
}

type registered struct {
	id   cron.EntryID
	spec Spec
}

func New(loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "scheduler"))
	s := &Service{
		loc:     loc,
		log:     log,
		entries: map[string]registered{},
		timers:  map[string]*time.Timer{},
	}
	cl := cronLogger{log: log}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Service) Location() *time.Location { return s.loc }

// Add registers job under name. Re-adding a name replaces the previous schedule.
func (s *Service) Add(name, expr string, job Job) (Spec, error) {
	spec, err := ParseSchedule(expr)
	if err != nil {
		return Spec{}, err
	}
	if job == nil {
		return Spec{}, fmt.Errorf("scheduler: nil job for %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok {
		s.c.Remove(old.id)
	}
	ctx := s.ctx
	id := s.c.Schedule(spec.sched, cron.FuncJob(func() {
		s.log.Info("schedule fired", logx.String("name", name), logx.String("spec", spec.Expr))
		job(ctx)
	}))
	s.entries[name] = registered{id: id, spec: spec}
	s.log.Info("schedule registered", logx.String("name", name), logx.String("spec", spec.Expr), logx.String("tz", s.loc.String()))
	return spec, nil
}

// Remove unregisters name. Unknown names are ignored.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.entries[name]; ok {
		s.c.Remove(r.id)
		delete(s.entries, name)
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// Once runs job after delay. A pending timer with the same name is replaced.
func (s *Service) Once(name string, delay time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
	}
	ctx := s.ctx
	s.timers[name] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, name)
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("one-shot job panicked", logx.String("name", name), logx.Any("panic", r))
			}
		}()
		s.log.Info("one-shot job fired", logx.String("name", name))
		job(ctx)
	})
	s.log.Info("one-shot job scheduled", logx.String("name", name), logx.Duration("delay", delay))
}

// Has reports whether name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// NextRun returns the next activation of name after now.
func (s *Service) NextRun(name string, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	r, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return r.spec.Next(now, s.loc), true
}

// Entries lists registered schedules sorted by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for name, r := range s.entries {
		e := s.c.Entry(r.id)
		out = append(out, Entry{Name: name, Spec: r.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins triggering. Calling it twice is harmless.
func (s *Service) Start() {
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.Entries())))
}

// Stop halts triggers and waits for running jobs until ctx ends.
// Running jobs see their context cancelled.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for running jobs")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
