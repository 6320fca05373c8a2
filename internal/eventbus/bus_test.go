package eventbus

import (
	"testing"
	"time"
)

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	ok, unsubOK := b.Subscribe(4, DispatchSucceeded)
	defer unsubOK()

	b.Publish(Event{Type: DispatchStarted})
	b.Publish(Event{Type: DispatchSucceeded, Data: Dispatch{ID: "d1"}})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events", got)
	}
	if got := len(ok); got != 1 {
		t.Fatalf("filtered subscriber got %d events", got)
	}
	e := <-ok
	if e.Time.IsZero() {
		t.Fatalf("Publish should stamp time")
	}
	if d, _ := e.Data.(Dispatch); d.ID != "d1" {
		t.Fatalf("payload=%+v", e.Data)
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: DispatchStarted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("buffer len=%d", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: DispatchStarted})
}
