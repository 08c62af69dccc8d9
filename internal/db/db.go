// Package db provides PostgreSQL persistence for the pipeline. All writers
// use conflict-safe upsert or insert-if-absent statements keyed by canonical
// identifiers, which is what makes every stage safely re-runnable.
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// CreateRun creates a run ledger record for one pipeline stage and returns its ID
func (db *DB) CreateRun(ctx context.Context, sourceID, stage string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO runs (source_id, stage, status)
		 VALUES ($1, $2, 'running')
		 RETURNING id`,
		sourceID, stage,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// CompleteRun marks a run as completed and attaches its report
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string, report any) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, report = $2, completed_at = NOW() WHERE id = $3`,
		status, reportJSON, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	var reportJSON []byte

	err := db.pool.QueryRow(ctx,
		`SELECT id, source_id, stage, status, report, started_at, completed_at
		 FROM runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.SourceID, &run.Stage, &run.Status, &reportJSON, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if reportJSON != nil {
		_ = json.Unmarshal(reportJSON, &run.Report)
	}
	return &run, nil
}

// ListRuns retrieves recent runs, newest first
func (db *DB) ListRuns(ctx context.Context, sourceID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, source_id, stage, status, report, started_at, completed_at
		FROM runs WHERE 1=1`
	args := []any{}
	argNum := 1

	if sourceID != "" {
		query += fmt.Sprintf(" AND source_id = $%d", argNum)
		args = append(args, sourceID)
		argNum++
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var reportJSON []byte
		if err := rows.Scan(&run.ID, &run.SourceID, &run.Stage, &run.Status, &reportJSON, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if reportJSON != nil {
			_ = json.Unmarshal(reportJSON, &run.Report)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
