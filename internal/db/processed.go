package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Processed Item Methods
// -----------------------------------------------------------------------------

// UpsertProcessedItem replaces the enrichment result for a source ref and
// clears any failure record for it in the same transaction. This is the
// "upsert-then-clear-failure" commit point; a crash between the two writes
// cannot leave a stale failure behind.
func (db *DB) UpsertProcessedItem(ctx context.Context, item *ProcessedItem) error {
	metadataJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment metadata: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`INSERT INTO processed_items (id, source_ref, source_id, primary_text, summary,
		                              topics, entities, language, metadata, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (source_ref) DO UPDATE SET
		     primary_text = $4, summary = $5, topics = $6, entities = $7,
		     language = $8, metadata = $9, processed_at = NOW()`,
		item.ID, item.SourceRef, item.SourceID, item.PrimaryText, item.Summary,
		item.Topics, item.Entities, item.Language, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert processed item %s: %w", item.SourceRef, err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM failures WHERE source_ref = $1`, item.SourceRef)
	if err != nil {
		return fmt.Errorf("failed to clear failure record %s: %w", item.SourceRef, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit processed item %s: %w", item.SourceRef, err)
	}
	return nil
}

const processedColumns = `id, source_ref, source_id, primary_text, summary,
	topics, entities, language, metadata, processed_at`

func scanProcessed(row pgx.Row) (*ProcessedItem, error) {
	var item ProcessedItem
	var metadataJSON []byte

	err := row.Scan(&item.ID, &item.SourceRef, &item.SourceID, &item.PrimaryText,
		&item.Summary, &item.Topics, &item.Entities, &item.Language,
		&metadataJSON, &item.ProcessedAt)
	if err != nil {
		return nil, err
	}

	if metadataJSON != nil {
		_ = json.Unmarshal(metadataJSON, &item.Metadata)
	}
	return &item, nil
}

// GetProcessedItem retrieves the enrichment result for a source ref
func (db *DB) GetProcessedItem(ctx context.Context, sourceRef string) (*ProcessedItem, error) {
	item, err := scanProcessed(db.pool.QueryRow(ctx,
		`SELECT `+processedColumns+` FROM processed_items WHERE source_ref = $1`,
		sourceRef))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get processed item %s: %w", sourceRef, err)
	}
	return item, nil
}

// ListProcessedBySource retrieves all enrichment results for one source
// ordered by source ref
func (db *DB) ListProcessedBySource(ctx context.Context, sourceID string) ([]ProcessedItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+processedColumns+` FROM processed_items
		 WHERE source_id = $1 ORDER BY source_ref ASC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed items: %w", err)
	}
	defer rows.Close()

	var items []ProcessedItem
	for rows.Next() {
		item, err := scanProcessed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processed item: %w", err)
		}
		items = append(items, *item)
	}
	return items, nil
}

// CountProcessedBySource returns the number of enrichment results for a source
func (db *DB) CountProcessedBySource(ctx context.Context, sourceID string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM processed_items WHERE source_id = $1`, sourceID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count processed items: %w", err)
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Failure Record Methods
// -----------------------------------------------------------------------------

// UpsertFailure records an exhausted enrichment attempt for a source ref.
// The ledger never accumulates beyond one row per key.
func (db *DB) UpsertFailure(ctx context.Context, f *FailureRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO failures (source_ref, source_id, attempts, error_class, error_text, last_try)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (source_ref) DO UPDATE SET
		     attempts = $3, error_class = $4, error_text = $5, last_try = NOW()`,
		f.SourceRef, f.SourceID, f.Attempts, f.ErrorClass, f.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert failure %s: %w", f.SourceRef, err)
	}
	return nil
}

// DeleteFailure removes the failure record for a source ref, if any
func (db *DB) DeleteFailure(ctx context.Context, sourceRef string) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM failures WHERE source_ref = $1`, sourceRef)
	if err != nil {
		return fmt.Errorf("failed to delete failure %s: %w", sourceRef, err)
	}
	return nil
}

// GetFailure retrieves the failure record for a source ref
func (db *DB) GetFailure(ctx context.Context, sourceRef string) (*FailureRecord, error) {
	var f FailureRecord
	err := db.pool.QueryRow(ctx,
		`SELECT source_ref, source_id, attempts, error_class, error_text, last_try
		 FROM failures WHERE source_ref = $1`,
		sourceRef,
	).Scan(&f.SourceRef, &f.SourceID, &f.Attempts, &f.ErrorClass, &f.ErrorText, &f.LastTry)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get failure %s: %w", sourceRef, err)
	}
	return &f, nil
}

// ListFailuresBySource retrieves the failure ledger for one source
func (db *DB) ListFailuresBySource(ctx context.Context, sourceID string) ([]FailureRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT source_ref, source_id, attempts, error_class, error_text, last_try
		 FROM failures WHERE source_id = $1 ORDER BY source_ref ASC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var failures []FailureRecord
	for rows.Next() {
		var f FailureRecord
		if err := rows.Scan(&f.SourceRef, &f.SourceID, &f.Attempts, &f.ErrorClass, &f.ErrorText, &f.LastTry); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, nil
}
