// Package fake implements a navigation event source that tests feed by hand.
package fake

import (
	"sync"

	"github.com/armgaze/armgaze/services/navigation"
)

// Source delivers whatever is sent to it.
type Source struct {
	mu     sync.Mutex
	events chan navigation.Event
	closed bool
}

var _ navigation.Source = (*Source)(nil)

// NewSource returns an open source with a small buffer.
func NewSource() *Source {
	return &Source{events: make(chan navigation.Event, 16)}
}

// Send queues ev. It blocks when the buffer is full and does nothing after Close.
func (s *Source) Send(ev navigation.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// SendStatus parses and queues a raw status update.
func (s *Source) SendStatus(mode, status string) {
	s.Send(navigation.ParseStatus(mode, status))
}

// Events returns the event stream.
func (s *Source) Events() <-chan navigation.Event {
	return s.events
}

// Close closes the event stream.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
