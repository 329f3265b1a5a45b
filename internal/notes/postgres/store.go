// Package postgres provides a PostgreSQL-backed implementation of
// [notes.Sink].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.CreateNote(ctx, note)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxnote/voxnote/internal/notes"
)

// Compile-time interface check.
var _ notes.Sink = (*Store)(nil)

const ddlNotes = `
CREATE TABLE IF NOT EXISTS notes (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    provider     TEXT         NOT NULL DEFAULT '',
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notes_session_id
    ON notes (session_id);

CREATE INDEX IF NOT EXISTS idx_notes_session_recorded
    ON notes (session_id, recorded_at);

CREATE INDEX IF NOT EXISTS idx_notes_fts
    ON notes USING GIN (to_tsvector('english', text));
`

// Migrate creates or ensures the notes table and its indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlNotes); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed [notes.Sink] holding a single [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn
// and runs [Migrate] to ensure the notes table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateNote implements [notes.Sink].
func (s *Store) CreateNote(ctx context.Context, note notes.Note) error {
	const q = `
		INSERT INTO notes (session_id, text, provider, recorded_at, duration_ns)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		note.SessionID,
		note.Text,
		note.Provider,
		note.RecordedAt,
		note.AudioDuration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("notes store: create note: %w", err)
	}
	return nil
}

// ListRecent implements [notes.Sink]. Notes are returned newest first.
func (s *Store) ListRecent(ctx context.Context, sessionID string, limit int) ([]notes.Note, error) {
	const q = `
		SELECT session_id, text, provider, recorded_at, duration_ns
		FROM   notes
		WHERE  session_id = $1
		ORDER  BY recorded_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("notes store: list recent: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notes.Note, error) {
		var (
			n          notes.Note
			durationNS int64
		)
		if err := row.Scan(&n.SessionID, &n.Text, &n.Provider, &n.RecordedAt, &durationNS); err != nil {
			return notes.Note{}, err
		}
		n.AudioDuration = time.Duration(durationNS)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("notes store: scan rows: %w", err)
	}
	return out, nil
}
