package sinks

import (
	"context"
	"sync"

	"kartsync/server/logging"
)

// Memory keeps every event; tests read them back.
type Memory struct {
	mu     sync.RWMutex
	events []logging.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) Write(event logging.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *Memory) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]logging.Event(nil), s.events...)
}

// OfType filters the recorded events.
func (s *Memory) OfType(t logging.EventType) []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []logging.Event
	for _, event := range s.events {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

func (s *Memory) Reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func (s *Memory) Close(context.Context) error {
	return nil
}

// Recorder is a Publisher that writes straight to a Memory sink without a
// router, for synchronous tests.
type Recorder struct {
	Memory
}

func (r *Recorder) Publish(_ context.Context, event logging.Event) {
	r.Write(event)
}
