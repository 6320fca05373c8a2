package transport

import (
	"errors"
	"testing"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	if Wrap("slack", "send", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
	base := errors.New("boom")
	err := Wrap("slack", "send", base)
	var te *Error
	if !errors.As(err, &te) || te.Op != "send" || !errors.Is(err, base) {
		t.Fatalf("wrap=%v", err)
	}
	if again := Wrap("slack", "list", err); again != err {
		t.Fatalf("already wrapped errors should pass through")
	}
	if err.Error() != "slack send: boom" {
		t.Fatalf("Error()=%q", err.Error())
	}
}

func TestEmitterDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	e := NewEmitter(2)
	e.Emit(Event{Kind: EventQR, Code: "1"})
	e.Emit(Event{Kind: EventQR, Code: "2"})
	e.Emit(Event{Kind: EventReady})

	first := <-e.C()
	second := <-e.C()
	if first.Code != "2" || second.Kind != EventReady {
		t.Fatalf("got %+v, %+v", first, second)
	}
	if second.Time.IsZero() {
		t.Fatalf("Emit should stamp time")
	}

	e.Close()
	e.Emit(Event{Kind: EventDisconnected})
	if _, ok := <-e.C(); ok {
		t.Fatalf("channel should be closed")
	}
	e.Close()
}
