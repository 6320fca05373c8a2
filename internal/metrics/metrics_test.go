package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"pollbot/internal/eventbus"
	logx "pollbot/pkg/logx"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if outcome == "" || hasLabel(m, "outcome", outcome) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestObserveOutcome(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg, "", logx.Nop())
	m.ObserveOutcome("success", 2, time.Second)
	m.ObserveOutcome("failure", 4, 20*time.Second)
	m.ObserveOutcome("skipped", 0, 0)

	if got := counterValue(t, reg, "pollbot_dispatch_total", "success"); got != 1 {
		t.Fatalf("success=%v", got)
	}
	if got := counterValue(t, reg, "pollbot_dispatch_attempts_total", ""); got != 6 {
		t.Fatalf("attempts=%v", got)
	}
}

func TestNilSafe(t *testing.T) {
	t.Parallel()

	var m *Dispatch
	m.ObserveOutcome("success", 1, time.Second)
	m.SetNextRun(time.Now())
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestRunWritesTextfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prom", "pollbot.prom")
	m := New(nil, path, logx.Nop())
	bus := eventbus.New()
	next := time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus, func() time.Time { return next })
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(eventbus.Event{Type: eventbus.DispatchSucceeded, Data: eventbus.Dispatch{Attempt: 1, Took: time.Second}})
		b, err := os.ReadFile(path)
		if err == nil && strings.Contains(string(b), `pollbot_dispatch_total{outcome="success"}`) {
			if !strings.Contains(string(b), "pollbot_next_run_timestamp_seconds 1.7613936e+09") {
				t.Fatalf("next run gauge missing:\n%s", b)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("textfile not written: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
