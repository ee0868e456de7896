package testutil

import (
	"sync"

	"github.com/roach88/resultexport/internal/telemetry"
)

// RecordedEvent is one business event captured by RecordingSink.
type RecordedEvent struct {
	Event  telemetry.BusinessEvent
	Fields telemetry.Fields
}

// RecordingSink is a telemetry.Sink that keeps business events and counts
// log lines per level.
type RecordingSink struct {
	mu     sync.Mutex
	events []RecordedEvent
	lines  map[string]int
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{lines: map[string]int{}}
}

func (s *RecordingSink) log(level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[level]++
}

func (s *RecordingSink) Debug(string, telemetry.Fields) { s.log("debug") }
func (s *RecordingSink) Info(string, telemetry.Fields)  { s.log("info") }
func (s *RecordingSink) Warn(string, telemetry.Fields)  { s.log("warn") }
func (s *RecordingSink) Error(string, telemetry.Fields) { s.log("error") }

func (s *RecordingSink) Event(ev telemetry.BusinessEvent, f telemetry.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, RecordedEvent{Event: ev, Fields: f})
}

// Events returns the recorded events named ev, in order.
func (s *RecordingSink) Events(ev telemetry.BusinessEvent) []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RecordedEvent
	for _, e := range s.events {
		if e.Event == ev {
			out = append(out, e)
		}
	}
	return out
}

// Lines returns the number of log lines written at level.
func (s *RecordingSink) Lines(level string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[level]
}
