// Package notes defines the note sink consumed by the session pipeline.
//
// A note is the end product of a voice session: one transcribed speech
// segment that passed the quality gate. Sinks only ever see accepted
// transcripts; rejected ones are discarded upstream.
package notes

import (
	"context"
	"time"
)

// Note is one accepted transcript tied to a session.
type Note struct {
	// SessionID identifies the voice session the note was captured in.
	SessionID string

	// Text is the accepted transcript.
	Text string

	// Provider names the transcription backend that produced Text.
	Provider string

	// RecordedAt is the wall-clock time the speech segment started.
	RecordedAt time.Time

	// AudioDuration is the length of the underlying audio segment.
	AudioDuration time.Duration
}

// Sink persists accepted notes. Implementations must be safe for concurrent
// use; the session manager shares one sink across all live sessions.
type Sink interface {
	// CreateNote stores the note.
	CreateNote(ctx context.Context, note Note) error

	// ListRecent returns up to limit notes for the session, newest first.
	ListRecent(ctx context.Context, sessionID string, limit int) ([]Note, error)
}
