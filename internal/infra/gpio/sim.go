package gpio

import "sync"

// Sim is an in-memory pin source for development machines without
// hardware and for tests.
type Sim struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewSim creates a simulated pin source.
func NewSim() *Sim {
	return &Sim{ch: make(chan Event, 64)}
}

// Events returns the transition stream.
func (s *Sim) Events() <-chan Event {
	return s.ch
}

// Inject publishes one pin transition. Transitions are dropped when the
// consumer lags behind the buffer; Inject never blocks.
func (s *Sim) Inject(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// Close stops the stream.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
