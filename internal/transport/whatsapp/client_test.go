package whatsapp

import (
	"bytes"
	"testing"

	"go.mau.fi/whatsmeow/types/events"

	"pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

func newTestClient() *Client {
	return &Client{log: logx.Nop(), events: transport.NewEmitter(16)}
}

func drain(c *Client) []transport.EventKind {
	var out []transport.EventKind
	for {
		select {
		case ev := <-c.events.C():
			out = append(out, ev.Kind)
		default:
			return out
		}
	}
}

func equalKinds(a, b []transport.EventKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHandleMapsLifecycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		connected bool
		evt       interface{}
		want      []transport.EventKind
	}{
		{name: "connected", evt: &events.Connected{}, want: []transport.EventKind{transport.EventAuthenticated, transport.EventReady}},
		{name: "pair success", evt: &events.PairSuccess{}, want: []transport.EventKind{transport.EventAuthenticated}},
		{name: "disconnect while connected", connected: true, evt: &events.Disconnected{}, want: []transport.EventKind{transport.EventDisconnected}},
		{name: "disconnect before connect", evt: &events.Disconnected{}, want: nil},
		{name: "stream replaced", connected: true, evt: &events.StreamReplaced{}, want: []transport.EventKind{transport.EventDisconnected}},
		{name: "logged out", connected: true, evt: &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, want: []transport.EventKind{transport.EventAuthFailure, transport.EventDisconnected}},
		{name: "connect failure logged out", evt: &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, want: []transport.EventKind{transport.EventAuthFailure}},
		{name: "unrelated", evt: &events.Message{}, want: nil},
	}
	for _, tt := range tests {
		c := newTestClient()
		c.connected = tt.connected
		c.handle(tt.evt)
		if got := drain(c); !equalKinds(got, tt.want) {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}

func TestDisconnectAfterCloseIsSilent(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	c.connected = true
	c.closed = true
	c.handle(&events.Disconnected{})
	if got := drain(c); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestRenderQR(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	RenderQR(&buf, "2@abc,def,ghi")
	if buf.Len() == 0 {
		t.Fatalf("expected QR output")
	}
}

func TestWALoggerSub(t *testing.T) {
	t.Parallel()

	l := newWALogger(logx.Nop()).Sub("client")
	l.Infof("hello %s", "world")
	l.Debugf("n=%d", 1)
	l.Warnf("w")
	l.Errorf("e")
}
