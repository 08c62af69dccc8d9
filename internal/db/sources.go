package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Source Methods
// -----------------------------------------------------------------------------

const sourceColumns = `id, name, feed_url, status, window_start, window_end,
	poll_seconds, batch_size, cursor, thread_cursors, failure_count,
	last_error, collected_at, created_at, updated_at`

func scanSource(row pgx.Row) (*Source, error) {
	var s Source
	var threadCursorsJSON []byte

	err := row.Scan(&s.ID, &s.Name, &s.FeedURL, &s.Status, &s.WindowStart,
		&s.WindowEnd, &s.PollSeconds, &s.BatchSize, &s.Cursor,
		&threadCursorsJSON, &s.FailureCount, &s.LastError, &s.CollectedAt,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if threadCursorsJSON != nil {
		_ = json.Unmarshal(threadCursorsJSON, &s.ThreadCursors)
	}
	return &s, nil
}

// CreateSource registers a new collection target in active status
func (db *DB) CreateSource(ctx context.Context, s *Source) error {
	if s.Status == "" {
		s.Status = SourceActive
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sources (id, name, feed_url, status, window_start, window_end, poll_seconds, batch_size)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Name, s.FeedURL, s.Status, s.WindowStart, s.WindowEnd, s.PollSeconds, s.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to create source %s: %w", s.ID, err)
	}
	return nil
}

// GetSource retrieves a source by its ID
func (db *DB) GetSource(ctx context.Context, id string) (*Source, error) {
	s, err := scanSource(db.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return s, nil
}

// ListSources retrieves all sources ordered by ID
func (db *DB) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, *s)
	}
	return sources, nil
}

// UpdateSourceStatus transitions a source's status, optionally recording the
// error that caused the transition
func (db *DB) UpdateSourceStatus(ctx context.Context, id, status string, lastError *string) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE sources SET status = $1, last_error = $2, updated_at = NOW() WHERE id = $3`,
		status, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update source status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("source not found: %s", id)
	}
	return nil
}

// AdvanceCursor moves the top-level high-watermark for a source. Callers must
// only invoke this after the covered batch has been durably persisted.
func (db *DB) AdvanceCursor(ctx context.Context, id, cursor string) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE sources SET cursor = $1, collected_at = NOW(), updated_at = NOW() WHERE id = $2`,
		cursor, id,
	)
	if err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("source not found: %s", id)
	}
	return nil
}

// AdvanceThreadCursor moves the watermark for one nested stream independently
// of all other threads. The JSONB merge keeps other thread watermarks intact.
func (db *DB) AdvanceThreadCursor(ctx context.Context, id, parentID, cursor string) error {
	patch, err := json.Marshal(map[string]string{parentID: cursor})
	if err != nil {
		return fmt.Errorf("failed to marshal thread cursor: %w", err)
	}

	result, err := db.pool.Exec(ctx,
		`UPDATE sources
		 SET thread_cursors = COALESCE(thread_cursors, '{}'::jsonb) || $1::jsonb,
		     collected_at = NOW(), updated_at = NOW()
		 WHERE id = $2`,
		patch, id,
	)
	if err != nil {
		return fmt.Errorf("failed to advance thread cursor: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("source not found: %s", id)
	}
	return nil
}

// BumpFailureCount increments a source's consecutive failure counter
func (db *DB) BumpFailureCount(ctx context.Context, id string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE sources SET failure_count = failure_count + 1, updated_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to bump failure count: %w", err)
	}
	return nil
}

// ResetSource clears the error state and failure counter so collection can
// resume. This is the external intervention required after budget exhaustion.
func (db *DB) ResetSource(ctx context.Context, id string) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE sources
		 SET status = $1, failure_count = 0, last_error = NULL, updated_at = NOW()
		 WHERE id = $2`,
		SourceActive, id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("source not found: %s", id)
	}
	return nil
}
