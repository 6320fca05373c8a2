package transport

import (
	"sync"
	"time"
)

// Emitter fans lifecycle events into a buffered channel without blocking the SDK callback.
// When the buffer is full the oldest event is discarded.
type Emitter struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 16
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

func (e *Emitter) C() <-chan Event { return e.ch }

func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
		return
	default:
	}
	select {
	case <-e.ch:
	default:
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Close closes the channel. Later Emit calls are ignored.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
