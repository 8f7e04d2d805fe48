package ingest

import (
	"fmt"
	"log"
	"sync"
)

// LogSink is a per-run log buffer passed into the Dispatcher as an explicit
// dependency rather than read through a package-global logger, so the
// Notifier's debug email can attach exactly one run's messages without
// reaching into process-wide state.
type LogSink struct {
	mu      sync.Mutex
	entries []string
}

// NewLogSink returns an empty sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Printf records a formatted line and also emits it through the standard
// logger.
func (s *LogSink) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	log.Print(line)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.entries = append(s.entries, line)
	s.mu.Unlock()
}

// Entries returns a snapshot of everything recorded so far.
func (s *LogSink) Entries() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out
}
