package notes

import (
	"context"
	"sync"
)

// MemorySink is a Sink that keeps notes in process memory. It backs
// deployments without a database; everything is lost on restart.
type MemorySink struct {
	mu    sync.Mutex
	notes []Note
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

var _ Sink = (*MemorySink)(nil)

// CreateNote appends the note.
func (s *MemorySink) CreateNote(_ context.Context, n Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

// ListRecent returns up to limit notes for the session, newest first.
func (s *MemorySink) ListRecent(_ context.Context, sessionID string, limit int) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Note
	for i := len(s.notes) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notes[i].SessionID == sessionID {
			out = append(out, s.notes[i])
		}
	}
	return out, nil
}
