package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("ParseLevel(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).With(String("comp", "dispatch"))
	l.Info("poll sent", Int("attempt", 2), Err(nil))

	out := buf.String()
	for _, want := range []string{`"comp":"dispatch"`, `"attempt":2`, `"message":"poll sent"`, `"caller":"logx_test.go:`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, `"err"`) {
		t.Fatalf("nil error should not be rendered: %s", out)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("dropped")
	if Nop().IsZero() {
		t.Fatalf("Nop logger should not be zero")
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"error","time":"x","caller":"a.go:1","message":"send failed","target":"Team","attempt":4}` + "\n")
	got := formatAlert(line)
	want := "[ERROR] send failed\n- attempt=4\n- target=Team"
	if got != want {
		t.Fatalf("formatAlert()=%q want %q", got, want)
	}

	if got := formatAlert([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("non-JSON passthrough=%q", got)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	ch   chan struct{}
}

func (r *recordingSender) SendAlert(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	r.ch <- struct{}{}
	return nil
}

func TestAlertSinkForwardsAboveMinLevel(t *testing.T) {
	t.Parallel()

	a := newAlertSink()
	a.configure(AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10})
	rec := &recordingSender{ch: make(chan struct{}, 4)}
	a.setSender(rec)
	a.start()
	defer a.stop()

	_, _ = a.WriteLevel(zerolog.InfoLevel, []byte(`{"level":"info","message":"quiet"}`))
	_, _ = a.WriteLevel(zerolog.ErrorLevel, []byte(`{"level":"error","message":"loud"}`))

	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("alert not delivered")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.msgs) != 1 || rec.msgs[0] != "[ERROR] loud" {
		t.Fatalf("msgs=%v", rec.msgs)
	}
}

func TestAlertSinkWithoutSenderDrops(t *testing.T) {
	t.Parallel()

	a := newAlertSink()
	a.configure(AlertConfig{Enabled: true, RatePerSec: 1})
	n, err := a.WriteLevel(zerolog.ErrorLevel, []byte(`{"message":"x"}`))
	if err != nil || n == 0 {
		t.Fatalf("WriteLevel()=%d,%v", n, err)
	}
	if len(a.queue) != 0 {
		t.Fatalf("queue should stay empty without sender")
	}
}
