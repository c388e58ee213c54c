package pipeline

import (
	"context"
	"errors"
	"sync"

	"visdom/internal/domain"
)

// ErrStreamClosed is returned when emitting after the terminal event.
var ErrStreamClosed = errors.New("event stream already terminated")

// Emitter delivers progress events to a caller.
type Emitter interface {
	Emit(ctx context.Context, e domain.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, e domain.Event) error

func (f EmitterFunc) Emit(ctx context.Context, e domain.Event) error { return f(ctx, e) }

// Stream wraps an Emitter for one task. Progress is clamped so it never
// decreases, and nothing passes after the first terminal event.
type Stream struct {
	mu     sync.Mutex
	next   Emitter
	last   int
	closed bool
}

func NewStream(next Emitter) *Stream {
	return &Stream{next: next}
}

func (s *Stream) Emit(ctx context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	p := e.Progress()
	if p < s.last {
		p = s.last
	}
	if p > 100 {
		p = 100
	}
	if p != e.Progress() {
		e = e.WithProgress(p)
	}
	s.last = p
	if domain.IsTerminal(e) {
		s.closed = true
	}
	if s.next == nil {
		return nil
	}
	return s.next.Emit(ctx, e)
}

// Progress returns the last progress value emitted.
func (s *Stream) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Closed reports whether the terminal event has been emitted.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Collector records every event it receives.
type Collector struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *Collector) Emit(_ context.Context, e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

// Last returns the most recent event, or nil.
func (c *Collector) Last() domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}
