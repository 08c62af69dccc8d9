// Package export renders stored artifacts as deterministic JSON documents.
// Every document is fully ordered before marshaling, so exporting the same
// stored state twice produces byte-identical output. Timestamps are
// deliberately excluded from export views for the same reason.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jonathan/feedforge/internal/db"
)

// Version identifies the export document format.
const Version = "export:v1"

// Store is the read surface the exporter needs.
type Store interface {
	ListTopicsBySource(ctx context.Context, sourceID string) ([]db.TopicArtifact, error)
	GetTopicArtifact(ctx context.Context, id string) (*db.TopicArtifact, error)
	GetTopicExtent(ctx context.Context, topicID string) (*db.TopicExtent, error)
	ListProcessedBySource(ctx context.Context, sourceID string) ([]db.ProcessedItem, error)
}

// CatalogEntry is one topic's summary line in the catalog.
type CatalogEntry struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Kind       string `json:"kind"`
	AnchorRefs int    `json:"anchor_refs"`
}

// Catalog lists every topic of a source, ordered by topic id.
type Catalog struct {
	Version  string         `json:"version"`
	SourceID string         `json:"source_id"`
	Topics   []CatalogEntry `json:"topics"`
}

// TopicView is a topic artifact without storage timestamps.
type TopicView struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Kind        string           `json:"kind"`
	Anchors     []db.Anchor      `json:"anchors"`
	Metadata    db.TopicMetadata `json:"metadata"`
}

// Bundle is the full export of one topic: the artifact plus its ordered
// extent. Anchors come before supporting items; within a role, higher
// scores first with ref as the tie break.
type Bundle struct {
	Version string          `json:"version"`
	Topic   TopicView       `json:"topic"`
	Extent  []db.ExtentItem `json:"extent"`
}

// ResolutionEntry maps one item ref to the topic that claims it.
type ResolutionEntry struct {
	Ref           string  `json:"ref"`
	TopicID       string  `json:"topic_id"`
	Role          string  `json:"role"`
	Score         float64 `json:"score"`
	Justification string  `json:"justification,omitempty"`
}

// Resolution is the source-wide ref-to-topic table. Each ref appears once:
// when multiple topics claim a ref, an anchor role beats a supporting one,
// then higher score, then lower topic id.
type Resolution struct {
	Version  string            `json:"version"`
	SourceID string            `json:"source_id"`
	Entries  []ResolutionEntry `json:"entries"`
}

// Records is the flat stream of processed items, ordered by record id.
type Records struct {
	Version  string       `json:"version"`
	SourceID string       `json:"source_id"`
	Records  []RecordView `json:"records"`
}

// RecordView is a processed item without storage timestamps.
type RecordView struct {
	ID          string                `json:"id"`
	SourceRef   string                `json:"source_ref"`
	PrimaryText string                `json:"primary_text"`
	Summary     string                `json:"summary,omitempty"`
	Topics      []string              `json:"topics,omitempty"`
	Entities    []string              `json:"entities,omitempty"`
	Language    string                `json:"language,omitempty"`
	Metadata    db.EnrichmentMetadata `json:"metadata"`
}

// Exporter renders stored state into export documents.
type Exporter struct {
	store Store
}

// New creates an exporter.
func New(store Store) *Exporter {
	return &Exporter{store: store}
}

// Catalog builds the ordered topic catalog for a source.
func (e *Exporter) Catalog(ctx context.Context, sourceID string) (*Catalog, error) {
	topics, err := e.store.ListTopicsBySource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	entries := make([]CatalogEntry, 0, len(topics))
	for _, t := range topics {
		entries = append(entries, CatalogEntry{
			ID:         t.ID,
			Title:      t.Title,
			Kind:       t.Kind,
			AnchorRefs: len(t.Anchors),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return &Catalog{Version: Version, SourceID: sourceID, Topics: entries}, nil
}

// Topic builds the export bundle for one topic.
func (e *Exporter) Topic(ctx context.Context, topicID string) (*Bundle, error) {
	artifact, err := e.store.GetTopicArtifact(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, fmt.Errorf("topic not found: %s", topicID)
	}

	extent, err := e.store.GetTopicExtent(ctx, topicID)
	if err != nil {
		return nil, err
	}

	var items []db.ExtentItem
	if extent != nil {
		items = append(items, extent.Items...)
	}
	sortExtent(items)

	return &Bundle{
		Version: Version,
		Topic: TopicView{
			ID:          artifact.ID,
			Title:       artifact.Title,
			Description: artifact.Description,
			Kind:        artifact.Kind,
			Anchors:     artifact.Anchors,
			Metadata:    artifact.Metadata,
		},
		Extent: items,
	}, nil
}

// Resolution builds the source-wide ref resolution table from every
// topic's extent.
func (e *Exporter) Resolution(ctx context.Context, sourceID string) (*Resolution, error) {
	topics, err := e.store.ListTopicsBySource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	best := make(map[string]ResolutionEntry)
	for _, t := range topics {
		extent, err := e.store.GetTopicExtent(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if extent == nil {
			continue
		}
		for _, it := range extent.Items {
			cand := ResolutionEntry{
				Ref:           it.Ref,
				TopicID:       t.ID,
				Role:          it.Role,
				Score:         it.Score,
				Justification: it.Justification,
			}
			prev, ok := best[it.Ref]
			if !ok || wins(cand, prev) {
				best[it.Ref] = cand
			}
		}
	}

	entries := make([]ResolutionEntry, 0, len(best))
	for _, entry := range best {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ref < entries[j].Ref })

	return &Resolution{Version: Version, SourceID: sourceID, Entries: entries}, nil
}

// Records builds the flat record stream for a source.
func (e *Exporter) Records(ctx context.Context, sourceID string) (*Records, error) {
	items, err := e.store.ListProcessedBySource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	records := make([]RecordView, 0, len(items))
	for _, it := range items {
		records = append(records, RecordView{
			ID:          it.ID,
			SourceRef:   it.SourceRef,
			PrimaryText: it.PrimaryText,
			Summary:     it.Summary,
			Topics:      it.Topics,
			Entities:    it.Entities,
			Language:    it.Language,
			Metadata:    it.Metadata,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	return &Records{Version: Version, SourceID: sourceID, Records: records}, nil
}

// Marshal renders any export document with the stable two-space layout.
func Marshal(doc any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export document: %w", err)
	}
	return append(data, '\n'), nil
}

func roleRank(role string) int {
	if role == db.RoleAnchor {
		return 0
	}
	return 1
}

func sortExtent(items []db.ExtentItem) {
	sort.Slice(items, func(i, j int) bool {
		if roleRank(items[i].Role) != roleRank(items[j].Role) {
			return roleRank(items[i].Role) < roleRank(items[j].Role)
		}
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Ref < items[j].Ref
	})
}

// wins reports whether cand should replace prev in the resolution table.
func wins(cand, prev ResolutionEntry) bool {
	if roleRank(cand.Role) != roleRank(prev.Role) {
		return roleRank(cand.Role) < roleRank(prev.Role)
	}
	if cand.Score != prev.Score {
		return cand.Score > prev.Score
	}
	return cand.TopicID < prev.TopicID
}
