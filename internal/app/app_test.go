package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pollbot/internal/config"
	"pollbot/internal/transport"
	"pollbot/internal/transport/transporttest"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func noEnv(string) (string, bool) { return "", false }

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	body := `transport:
  platform: whatsapp
poll:
  target:
    name: Badminton
  startup_test_delay: 100ms
logging:
  level: error
storage:
  driver: file
  path: ` + filepath.Join(dir, "store") + `
metrics:
  textfile: ` + filepath.Join(dir, "prom", "pollbot.prom") + `
` + extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func startApp(t *testing.T, fake *transporttest.Client, opts ...Option) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	opts = append([]Option{WithClient(fake), WithEnvLookup(noEnv)}, opts...)
	a, err := New(context.Background(), path, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a, dir
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReadyStartsScheduleAndStartupTest(t *testing.T) {
	fake := transporttest.New(
		transport.Conversation{ID: "g1", Name: "Badminton", IsGroup: true},
		transport.Conversation{ID: "g2", Name: "Chess", IsGroup: true},
	)
	a, dir := startApp(t, fake)

	waitFor(t, "initial connect", func() bool { return fake.Connects() == 1 })
	fake.Emit(transport.Event{Kind: transport.EventAuthenticated})
	fake.Emit(transport.Event{Kind: transport.EventReady})

	waitFor(t, "weekly schedule", func() bool { return a.sched.Has(weeklyJob) })
	waitFor(t, "startup test poll", func() bool { return len(fake.Polls()) == 1 })

	sent := fake.Polls()[0]
	if sent.To.ID != "g1" {
		t.Fatalf("sent to %+v", sent.To)
	}
	if !strings.HasSuffix(sent.Req.Question, " Wed 8-10pm @SLK") {
		t.Fatalf("question=%q", sent.Req.Question)
	}
	if len(sent.Req.Options) != 2 || sent.Req.Options[0] != "On" || sent.Req.Options[1] != "Off" || sent.Req.AllowMultiple {
		t.Fatalf("request=%+v", sent.Req)
	}

	waitFor(t, "audit record", func() bool {
		recs, err := a.store.RecentDispatches(context.Background(), 10)
		return err == nil && len(recs) == 1 && recs[0].OK && recs[0].Trigger == startupTestJob
	})
	waitFor(t, "metrics textfile", func() bool {
		b, err := os.ReadFile(filepath.Join(dir, "prom", "pollbot.prom"))
		return err == nil && strings.Contains(string(b), `pollbot_dispatch_total{outcome="success"} 1`)
	})

	next := a.nextRun()
	if next.Weekday() != time.Saturday || next.Hour() != 12 || next.Location().String() != "Asia/Singapore" {
		t.Fatalf("next run=%v", next)
	}
}

func TestSecondReadyDoesNotRestartSchedule(t *testing.T) {
	fake := transporttest.New(transport.Conversation{ID: "g1", Name: "Badminton", IsGroup: true})
	a, _ := startApp(t, fake)

	calls := 0
	a.coord.OnReady = func() { calls++ }
	a.coord.StartupTestDelay = 0
	ctx := context.Background()
	a.coord.handle(ctx, transport.Event{Kind: transport.EventReady})
	a.coord.handle(ctx, transport.Event{Kind: transport.EventReady})
	if calls != 1 {
		t.Fatalf("OnReady called %d times", calls)
	}
	if !a.coord.Ready() {
		t.Fatalf("coordinator should be ready")
	}
}

func TestDisconnectReconnects(t *testing.T) {
	fake := transporttest.New(transport.Conversation{ID: "g1", Name: "Badminton", IsGroup: true})
	a, _ := startApp(t, fake)

	waitFor(t, "initial connect", func() bool { return fake.Connects() == 1 && !a.coord.reconnecting.Load() })
	fake.Emit(transport.Event{Kind: transport.EventReady})
	fake.Emit(transport.Event{Kind: transport.EventDisconnected, Reason: "test"})
	waitFor(t, "reconnect", func() bool { return fake.Connects() == 2 })
}

func TestConnectRetriesTransientErrors(t *testing.T) {
	fake := transporttest.New()
	var mu sync.Mutex
	failures := 1
	fake.ConnectFn = func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}
	a, _ := startApp(t, fake)

	waitFor(t, "second connect", func() bool { return fake.Connects() == 2 && !a.coord.reconnecting.Load() })
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	fake := transporttest.New()
	fake.ConnectFn = func(context.Context) error { return transport.ErrAuthFailure }
	a, _ := startApp(t, fake)

	waitFor(t, "connect abandoned", func() bool { return fake.Connects() == 1 && !a.coord.reconnecting.Load() })
	time.Sleep(1200 * time.Millisecond)
	if n := fake.Connects(); n != 1 {
		t.Fatalf("connects=%d, auth failure must not be retried", n)
	}
}

func TestQRIsRendered(t *testing.T) {
	fake := transporttest.New()
	qr := &syncBuffer{}
	startApp(t, fake, WithQRWriter(qr))

	fake.Emit(transport.Event{Kind: transport.EventQR, Code: "2@pairing-code"})
	waitFor(t, "qr output", func() bool { return qr.String() != "" })
}

func TestStopClosesClient(t *testing.T) {
	fake := transporttest.New()
	dir := t.TempDir()
	a, err := New(context.Background(), writeConfig(t, dir, ""), WithClient(fake), WithEnvLookup(noEnv))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !fake.Closed() {
		t.Fatalf("client not closed")
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	b, _ := os.ReadFile(path)
	b = bytes.Replace(b, []byte("  startup_test_delay: 100ms\n"), []byte("  startup_test_delay: 100ms\n  schedule: \"61 25 * * *\"\n"), 1)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := New(context.Background(), path, WithClient(transporttest.New()), WithEnvLookup(noEnv))
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err=%v want ErrInvalid", err)
	}
}

func TestApplyConfigUpdatesAlertTarget(t *testing.T) {
	fake := transporttest.New(transport.Conversation{ID: "ops", Name: "Ops", IsGroup: true})
	a, _ := startApp(t, fake)

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Logging.Alert.TargetID = "ops"
	a.applyConfig(oldCfg, &newCfg)

	if err := a.alert.SendAlert(context.Background(), "disk full"); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if texts := fake.Texts(); len(texts) != 1 || texts[0] != "disk full" {
		t.Fatalf("texts=%v", texts)
	}
}

func TestAlertSenderWithoutTarget(t *testing.T) {
	t.Parallel()

	fake := transporttest.New()
	s := newAlertSender(fake, " ")
	if err := s.SendAlert(context.Background(), "x"); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if len(fake.Texts()) != 0 {
		t.Fatalf("unexpected send")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		storage config.StorageConfig
		driver  string
		window  time.Duration
		wantErr bool
	}{
		{name: "none", storage: config.StorageConfig{Driver: "none"}, driver: "none", window: config.DefaultDedupWindow},
		{name: "file", storage: config.StorageConfig{Driver: "file", Path: "./data"}, driver: "file", window: config.DefaultDedupWindow},
		{name: "sqlite custom window", storage: config.StorageConfig{Driver: "sqlite", Path: "x.db", DedupWindow: "48h"}, driver: "sqlite", window: 48 * time.Hour},
		{name: "missing path", storage: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad busy timeout", storage: config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		sc, window, err := mapStorageConfig(&config.Config{Storage: tt.storage})
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tt.name, err, tt.wantErr)
		}
		if err != nil {
			continue
		}
		if sc.Driver != tt.driver || window != tt.window {
			t.Fatalf("%s: driver=%q window=%v", tt.name, sc.Driver, window)
		}
	}
}
