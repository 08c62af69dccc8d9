package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Topic Artifact Methods
// -----------------------------------------------------------------------------

// UpsertTopicArtifact replaces the artifact for a topic id
func (db *DB) UpsertTopicArtifact(ctx context.Context, t *TopicArtifact) error {
	anchorsJSON, err := json.Marshal(t.Anchors)
	if err != nil {
		return fmt.Errorf("failed to marshal anchors: %w", err)
	}
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal topic metadata: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO topic_artifacts (id, source_id, title, description, kind, anchors, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     source_id = $2, title = $3, description = $4, kind = $5,
		     anchors = $6, metadata = $7, updated_at = NOW()`,
		t.ID, t.SourceID, t.Title, t.Description, t.Kind, anchorsJSON, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert topic artifact %s: %w", t.ID, err)
	}
	return nil
}

const topicColumns = `id, source_id, title, description, kind, anchors, metadata, created_at, updated_at`

func scanTopic(row pgx.Row) (*TopicArtifact, error) {
	var t TopicArtifact
	var anchorsJSON, metadataJSON []byte

	err := row.Scan(&t.ID, &t.SourceID, &t.Title, &t.Description, &t.Kind,
		&anchorsJSON, &metadataJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if anchorsJSON != nil {
		_ = json.Unmarshal(anchorsJSON, &t.Anchors)
	}
	if metadataJSON != nil {
		_ = json.Unmarshal(metadataJSON, &t.Metadata)
	}
	return &t, nil
}

// GetTopicArtifact retrieves a topic artifact by its id
func (db *DB) GetTopicArtifact(ctx context.Context, id string) (*TopicArtifact, error) {
	t, err := scanTopic(db.pool.QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topic_artifacts WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get topic artifact %s: %w", id, err)
	}
	return t, nil
}

// ListTopicsBySource retrieves all topic artifacts for one source ordered by id
func (db *DB) ListTopicsBySource(ctx context.Context, sourceID string) ([]TopicArtifact, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+topicColumns+` FROM topic_artifacts
		 WHERE source_id = $1 ORDER BY id ASC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list topic artifacts: %w", err)
	}
	defer rows.Close()

	var topics []TopicArtifact
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic artifact: %w", err)
		}
		topics = append(topics, *t)
	}
	return topics, nil
}

// -----------------------------------------------------------------------------
// Topic Extent Methods
// -----------------------------------------------------------------------------

// UpsertTopicExtent replaces the extent bundle for a topic id
func (db *DB) UpsertTopicExtent(ctx context.Context, e *TopicExtent) error {
	itemsJSON, err := json.Marshal(e.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal extent items: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO topic_extents (topic_id, source_id, items)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (topic_id) DO UPDATE SET
		     source_id = $2, items = $3, updated_at = NOW()`,
		e.TopicID, e.SourceID, itemsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert topic extent %s: %w", e.TopicID, err)
	}
	return nil
}

// GetTopicExtent retrieves the extent bundle for a topic id
func (db *DB) GetTopicExtent(ctx context.Context, topicID string) (*TopicExtent, error) {
	var e TopicExtent
	var itemsJSON []byte

	err := db.pool.QueryRow(ctx,
		`SELECT topic_id, source_id, items, updated_at
		 FROM topic_extents WHERE topic_id = $1`,
		topicID,
	).Scan(&e.TopicID, &e.SourceID, &itemsJSON, &e.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get topic extent %s: %w", topicID, err)
	}

	if itemsJSON != nil {
		_ = json.Unmarshal(itemsJSON, &e.Items)
	}
	return &e, nil
}
