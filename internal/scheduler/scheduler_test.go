package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "pollbot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		expr   string
		source string
		every  time.Duration
	}{
		{name: "weekly cron", raw: "0 12 * * 6", expr: "0 12 * * 6", source: "cron"},
		{name: "seconds cron", raw: "0 0 12 * * SAT", expr: "0 0 12 * * SAT", source: "cron"},
		{name: "prefixed cron", raw: "cron:@weekly", expr: "@weekly", source: "cron"},
		{name: "duration", raw: "10m", expr: "@every 10m0s", source: "duration", every: 10 * time.Minute},
		{name: "prefixed interval", raw: "every:45s", expr: "@every 45s", source: "duration", every: 45 * time.Second},
		{name: "hhmm", raw: "01:30", expr: "@every 1h30m0s", source: "hhmm", every: 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Expr != tt.expr || got.Source != tt.source || got.Every != tt.every {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not-a-schedule", "0 25 * * *", "00:75", "0s", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) expected error", raw)
		}
	}
}

func TestNextRunWeekly(t *testing.T) {
	t.Parallel()

	sgt, err := time.LoadLocation("Asia/Singapore")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "saturday after noon",
			now:  time.Date(2025, time.October, 18, 13, 0, 0, 0, sgt),
			want: time.Date(2025, time.October, 25, 12, 0, 0, 0, sgt),
		},
		{
			name: "saturday before noon",
			now:  time.Date(2025, time.October, 18, 11, 0, 0, 0, sgt),
			want: time.Date(2025, time.October, 18, 12, 0, 0, 0, sgt),
		},
		{
			name: "exactly noon",
			now:  time.Date(2025, time.October, 18, 12, 0, 0, 0, sgt),
			want: time.Date(2025, time.October, 25, 12, 0, 0, 0, sgt),
		},
		{
			name: "utc reference",
			now:  time.Date(2025, time.October, 18, 3, 59, 0, 0, time.UTC),
			want: time.Date(2025, time.October, 18, 12, 0, 0, 0, sgt),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun("0 12 * * 6", sgt, tt.now)
			if err != nil {
				t.Fatalf("NextRun: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextRun(%v)=%v want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestServiceRegistersAndRuns(t *testing.T) {
	t.Parallel()

	s := New(time.UTC, logx.Nop())
	var runs atomic.Int32
	fired := make(chan struct{}, 4)
	if _, err := s.Add("tick", "@every 1s", func(context.Context) {
		runs.Add(1)
		fired <- struct{}{}
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.Has("tick") {
		t.Fatalf("Has(tick)=false")
	}
	now := time.Date(2025, time.October, 18, 12, 0, 0, 0, time.UTC)
	if next, ok := s.NextRun("tick", now); !ok || !next.Equal(now.Add(time.Second)) {
		t.Fatalf("NextRun=%v,%v", next, ok)
	}

	s.Start()
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not fire")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	s.Remove("tick")
	if s.Has("tick") || len(s.Entries()) != 0 {
		t.Fatalf("Remove did not unregister")
	}
}

func TestServiceAddRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := New(time.UTC, logx.Nop())
	if _, err := s.Add("bad", "every tuesday", func(context.Context) {}); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := s.Add("nil", "@daily", nil); err == nil {
		t.Fatalf("expected nil job error")
	}
}

func TestServiceOnce(t *testing.T) {
	t.Parallel()

	s := New(time.UTC, logx.Nop())
	done := make(chan struct{})
	s.Once("startup-test", 10*time.Millisecond, func(ctx context.Context) {
		if ctx.Err() != nil {
			t.Errorf("job context already cancelled")
		}
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("one-shot job did not fire")
	}

	cancelled := make(chan struct{})
	s.Once("never", time.Hour, func(context.Context) { close(cancelled) })
	s.Stop(context.Background())
	select {
	case <-cancelled:
		t.Fatalf("stopped scheduler fired a pending timer")
	case <-time.After(20 * time.Millisecond):
	}
}
