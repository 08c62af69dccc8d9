package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Raw Item Methods
// -----------------------------------------------------------------------------

// InsertRawItem stores a raw item snapshot if none exists for its source ref.
// Returns true if the row was inserted. If a row already exists with a
// different content hash, the observation is recorded as a conflict instead
// of overwriting the snapshot.
func (db *DB) InsertRawItem(ctx context.Context, item *RawItem) (bool, error) {
	result, err := db.pool.Exec(ctx,
		`INSERT INTO raw_items (source_ref, source_id, item_type, item_id, parent_id,
		                        item_timestamp, text, content_hash, payload, truncated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (source_ref) DO NOTHING`,
		item.SourceRef, item.SourceID, item.ItemType, item.ItemID, item.ParentID,
		item.Timestamp, item.Text, item.ContentHash, item.Payload, item.Truncated,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert raw item %s: %w", item.SourceRef, err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	// Existing row: flag a conflict if the observed content differs.
	var storedHash string
	err = db.pool.QueryRow(ctx,
		`SELECT content_hash FROM raw_items WHERE source_ref = $1`,
		item.SourceRef,
	).Scan(&storedHash)
	if err != nil {
		return false, fmt.Errorf("failed to read stored raw item %s: %w", item.SourceRef, err)
	}

	if storedHash != item.ContentHash {
		_, err = db.pool.Exec(ctx,
			`INSERT INTO raw_item_conflicts (source_ref, seen_hash, seen_text, stored_hash)
			 VALUES ($1, $2, $3, $4)`,
			item.SourceRef, item.ContentHash, item.Text, storedHash,
		)
		if err != nil {
			return false, fmt.Errorf("failed to record raw item conflict %s: %w", item.SourceRef, err)
		}
	}
	return false, nil
}

// GetRawItem retrieves a raw item by its source ref
func (db *DB) GetRawItem(ctx context.Context, sourceRef string) (*RawItem, error) {
	var item RawItem
	err := db.pool.QueryRow(ctx,
		`SELECT source_ref, source_id, item_type, item_id, parent_id, item_timestamp,
		        text, content_hash, payload, truncated, created_at
		 FROM raw_items WHERE source_ref = $1`,
		sourceRef,
	).Scan(&item.SourceRef, &item.SourceID, &item.ItemType, &item.ItemID,
		&item.ParentID, &item.Timestamp, &item.Text, &item.ContentHash,
		&item.Payload, &item.Truncated, &item.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get raw item %s: %w", sourceRef, err)
	}
	return &item, nil
}

// ListRawItemsBySource retrieves raw items for one source ordered by source ref
func (db *DB) ListRawItemsBySource(ctx context.Context, sourceID string, limit int) ([]RawItem, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := db.pool.Query(ctx,
		`SELECT source_ref, source_id, item_type, item_id, parent_id, item_timestamp,
		        text, content_hash, payload, truncated, created_at
		 FROM raw_items WHERE source_id = $1 ORDER BY source_ref ASC LIMIT $2`,
		sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw items: %w", err)
	}
	defer rows.Close()

	var items []RawItem
	for rows.Next() {
		var item RawItem
		if err := rows.Scan(&item.SourceRef, &item.SourceID, &item.ItemType,
			&item.ItemID, &item.ParentID, &item.Timestamp, &item.Text,
			&item.ContentHash, &item.Payload, &item.Truncated, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ListUnprocessedBySource retrieves raw items that have no enrichment result yet
func (db *DB) ListUnprocessedBySource(ctx context.Context, sourceID string, limit int) ([]RawItem, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := db.pool.Query(ctx,
		`SELECT r.source_ref, r.source_id, r.item_type, r.item_id, r.parent_id,
		        r.item_timestamp, r.text, r.content_hash, r.payload, r.truncated, r.created_at
		 FROM raw_items r
		 LEFT JOIN processed_items p ON p.source_ref = r.source_ref
		 WHERE r.source_id = $1 AND p.source_ref IS NULL
		 ORDER BY r.source_ref ASC LIMIT $2`,
		sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed items: %w", err)
	}
	defer rows.Close()

	var items []RawItem
	for rows.Next() {
		var item RawItem
		if err := rows.Scan(&item.SourceRef, &item.SourceID, &item.ItemType,
			&item.ItemID, &item.ParentID, &item.Timestamp, &item.Text,
			&item.ContentHash, &item.Payload, &item.Truncated, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ListConflicts retrieves conflict records for one source ref
func (db *DB) ListConflicts(ctx context.Context, sourceRef string) ([]RawItemConflict, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, source_ref, seen_hash, seen_text, seen_at, stored_hash
		 FROM raw_item_conflicts WHERE source_ref = $1 ORDER BY seen_at ASC`,
		sourceRef,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []RawItemConflict
	for rows.Next() {
		var c RawItemConflict
		if err := rows.Scan(&c.ID, &c.SourceRef, &c.SeenHash, &c.SeenText, &c.SeenAt, &c.StoredHash); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, nil
}

// truncatedPayload is the shape written in place of an oversized raw payload.
// The key fields must survive truncation.
type truncatedPayload struct {
	Truncated bool      `json:"truncated"`
	ItemID    string    `json:"item_id"`
	ItemType  string    `json:"item_type"`
	Timestamp time.Time `json:"timestamp"`
	TextHead  string    `json:"text_head"`
}

// CapPayload enforces the raw payload size limit. Oversized payloads are
// replaced by a marker object that preserves the item's key fields and the
// head of its text.
func CapPayload(item *RawItem, maxBytes int) error {
	if maxBytes <= 0 || len(item.Payload) <= maxBytes {
		return nil
	}

	head := item.Text
	if len(head) > 1024 {
		head = head[:1024]
	}
	replacement, err := json.Marshal(truncatedPayload{
		Truncated: true,
		ItemID:    item.ItemID,
		ItemType:  item.ItemType,
		Timestamp: item.Timestamp,
		TextHead:  head,
	})
	if err != nil {
		return fmt.Errorf("failed to build truncated payload: %w", err)
	}

	item.Payload = replacement
	item.Truncated = true
	return nil
}
