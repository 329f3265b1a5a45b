// Package mock provides a test double for [notes.Sink].
package mock

import (
	"context"
	"sync"

	"github.com/voxnote/voxnote/internal/notes"
)

// Sink is an in-memory mock implementation of [notes.Sink]. It records every
// created note for later inspection.
type Sink struct {
	mu sync.Mutex

	// CreateErr, if non-nil, is returned from every CreateNote call.
	CreateErr error

	// Created records every note passed to CreateNote, in order.
	Created []notes.Note
}

var _ notes.Sink = (*Sink)(nil)

// CreateNote records the note and returns CreateErr.
func (s *Sink) CreateNote(_ context.Context, note notes.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.Created = append(s.Created, note)
	return nil
}

// ListRecent returns recorded notes for the session, newest first.
func (s *Sink) ListRecent(_ context.Context, sessionID string, limit int) ([]notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notes.Note
	for i := len(s.Created) - 1; i >= 0 && len(out) < limit; i-- {
		if s.Created[i].SessionID == sessionID {
			out = append(out, s.Created[i])
		}
	}
	return out, nil
}

// Notes returns a snapshot of all created notes.
func (s *Sink) Notes() []notes.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notes.Note, len(s.Created))
	copy(out, s.Created)
	return out
}
