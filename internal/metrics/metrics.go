// Package metrics keeps dispatch counters and writes them in the
// node_exporter textfile format.
package metrics

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pollbot/internal/eventbus"
	logx "pollbot/pkg/logx"
)

// Dispatch exposes counters and histograms for poll dispatches.
type Dispatch struct {
	gatherer prometheus.Gatherer
	textfile string
	log      logx.Logger

	total    *prometheus.CounterVec
	attempts prometheus.Counter
	duration prometheus.Histogram
	nextRun  prometheus.Gauge
}

// New registers the collectors on reg. A nil reg gets a private registry.
// textfile may be empty, in which case nothing is written to disk.
func New(reg *prometheus.Registry, textfile string, log logx.Logger) *Dispatch {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Dispatch{
		gatherer: reg,
		textfile: textfile,
		log:      log.With(logx.String("comp", "metrics")),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollbot",
			Name:      "dispatch_total",
			Help:      "Finished poll dispatches by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pollbot",
			Name:      "dispatch_attempts_total",
			Help:      "Send attempts, including retries.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pollbot",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of a dispatch from start to final outcome.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		nextRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pollbot",
			Name:      "next_run_timestamp_seconds",
			Help:      "Unix time of the next scheduled dispatch.",
		}),
	}
	reg.MustRegister(m.total, m.attempts, m.duration, m.nextRun)
	return m
}

func (m *Dispatch) ObserveOutcome(outcome string, attempts int, took time.Duration) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.attempts.Add(float64(attempts))
	}
	if outcome != "skipped" {
		m.duration.Observe(took.Seconds())
	}
}

func (m *Dispatch) SetNextRun(at time.Time) {
	if m == nil || at.IsZero() {
		return
	}
	m.nextRun.Set(float64(at.Unix()))
}

// Flush writes the textfile. It is a no-op when no path is configured.
func (m *Dispatch) Flush() error {
	if m == nil || m.textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.textfile), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(m.textfile, m.gatherer)
}

// Run folds terminal dispatch events into the counters until ctx ends.
// nextRun, when set, refreshes the next-run gauge after each dispatch.
func (m *Dispatch) Run(ctx context.Context, bus eventbus.Bus, nextRun func() time.Time) error {
	ch, unsub := bus.Subscribe(32, eventbus.DispatchSucceeded, eventbus.DispatchFailed, eventbus.DispatchSkipped)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			d, _ := ev.Data.(eventbus.Dispatch)
			m.ObserveOutcome(outcomeOf(ev.Type), d.Attempt, d.Took)
			if nextRun != nil {
				m.SetNextRun(nextRun())
			}
			if err := m.Flush(); err != nil {
				m.log.Warn("metrics textfile write failed", logx.String("path", m.textfile), logx.Err(err))
			}
		}
	}
}

func outcomeOf(eventType string) string {
	switch eventType {
	case eventbus.DispatchSucceeded:
		return "success"
	case eventbus.DispatchSkipped:
		return "skipped"
	default:
		return "failure"
	}
}
