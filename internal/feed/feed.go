// Package feed provides the client for external feed sources. The wire
// format is a JSON item stream with opaque resume cursors; errors are
// classified so the collection stage can decide what to retry.
package feed

import (
	"context"
	"encoding/json"
	"time"
)

// Item is one unit fetched from a feed before canonicalization.
type Item struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	ParentID  string          `json:"parent_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Text      string          `json:"text,omitempty"`
	HTML      string          `json:"html,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Source is the capability consumed by the collection stage. Both methods
// return the batch together with the cursor to resume from; an empty batch
// with an unchanged cursor means the stream is exhausted.
type Source interface {
	// FetchItems retrieves a batch of top-level items after the cursor.
	FetchItems(ctx context.Context, feedURL, cursor string, limit int) ([]Item, string, error)
	// FetchNested retrieves nested items (e.g. replies) for one parent,
	// resuming from the per-thread cursor.
	FetchNested(ctx context.Context, feedURL, parentID, cursor string) ([]Item, string, error)
}
