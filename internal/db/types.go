package db

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source status constants
const (
	SourceActive = "active"
	SourcePaused = "paused"
	SourceError  = "error"
)

// Run stage constants
const (
	StageCollect = "collect"
	StageEnrich  = "enrich"
	StageTopics  = "topics"
)

// Run status constants
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Extent item roles. An anchor is a primary representative of a topic;
// supporting items passed the relevance threshold but are not anchors.
const (
	RoleAnchor     = "anchor"
	RoleSupporting = "supporting"
)

// Source represents one collection target with its cursor state
type Source struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	FeedURL       string            `json:"feed_url"`
	Status        string            `json:"status"`
	WindowStart   *time.Time        `json:"window_start,omitempty"`
	WindowEnd     *time.Time        `json:"window_end,omitempty"`
	PollSeconds   int               `json:"poll_seconds"`
	BatchSize     int               `json:"batch_size"`
	Cursor        string            `json:"cursor"`
	ThreadCursors map[string]string `json:"thread_cursors,omitempty"`
	FailureCount  int               `json:"failure_count"`
	LastError     *string           `json:"last_error,omitempty"`
	CollectedAt   *time.Time        `json:"collected_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// RawItem is an immutable snapshot of one externally-sourced unit at the
// moment it was first observed
type RawItem struct {
	SourceRef   string          `json:"source_ref"`
	SourceID    string          `json:"source_id"`
	ItemType    string          `json:"item_type"`
	ItemID      string          `json:"item_id"`
	ParentID    string          `json:"parent_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Text        string          `json:"text"`
	ContentHash string          `json:"content_hash"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Truncated   bool            `json:"truncated"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RawItemConflict records a later observation of a source ref whose content
// differs from the stored snapshot. The snapshot is never silently
// overwritten; conflicts are kept for audit instead.
type RawItemConflict struct {
	ID         uuid.UUID `json:"id"`
	SourceRef  string    `json:"source_ref"`
	SeenHash   string    `json:"seen_hash"`
	SeenText   string    `json:"seen_text"`
	SeenAt     time.Time `json:"seen_at"`
	StoredHash string    `json:"stored_hash"`
}

// EnrichmentMetadata records the exact deterministic parameters used to
// produce a ProcessedItem, for reproducibility audits
type EnrichmentMetadata struct {
	PipelineVersion string  `json:"pipeline_version"`
	Model           string  `json:"model"`
	PromptIdentity  string  `json:"prompt_identity"`
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
}

// ProcessedItem is the single authoritative enrichment result for one RawItem
type ProcessedItem struct {
	ID          string             `json:"id"`
	SourceRef   string             `json:"source_ref"`
	SourceID    string             `json:"source_id"`
	PrimaryText string             `json:"primary_text"`
	Summary     string             `json:"summary,omitempty"`
	Topics      []string           `json:"topics,omitempty"`
	Entities    []string           `json:"entities,omitempty"`
	Language    string             `json:"language,omitempty"`
	Metadata    EnrichmentMetadata `json:"metadata"`
	ProcessedAt time.Time          `json:"processed_at"`
}

// FailureRecord is the per-item failure ledger entry for enrichment.
// At most one row per source ref; deleted on a subsequent success.
type FailureRecord struct {
	SourceRef  string    `json:"source_ref"`
	SourceID   string    `json:"source_id"`
	Attempts   int       `json:"attempts"`
	ErrorClass string    `json:"error_class"`
	ErrorText  string    `json:"error_text"`
	LastTry    time.Time `json:"last_try"`
}

// Anchor is a primary representative item of a topic with its relevance score
type Anchor struct {
	Ref   string  `json:"ref"`
	Score float64 `json:"score"`
}

// TopicMetadata records the clustering run and parameters that produced an
// artifact
type TopicMetadata struct {
	RunID              string  `json:"run_id"`
	Algorithm          string  `json:"algorithm"`
	Model              string  `json:"model,omitempty"`
	InputScope         string  `json:"input_scope"`
	TopicAnchors       int     `json:"topic_anchors"`
	SingletonMinScore  float64 `json:"singleton_min_score"`
	SingletonMinLength int     `json:"singleton_min_length"`
	ClusterMinScore    float64 `json:"cluster_min_score"`
	SupportingMinScore float64 `json:"supporting_min_score"`
}

// TopicArtifact is a named cluster of processed items
type TopicArtifact struct {
	ID          string        `json:"id"`
	SourceID    string        `json:"source_id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Kind        string        `json:"kind"`
	Anchors     []Anchor      `json:"anchors"`
	Metadata    TopicMetadata `json:"metadata"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Topic kind constants
const (
	TopicSingleton = "singleton"
	TopicCluster   = "cluster"
)

// ExtentItem is one member of a topic's extent
type ExtentItem struct {
	Ref           string  `json:"ref"`
	Role          string  `json:"role"`
	Score         float64 `json:"score"`
	Justification string  `json:"justification,omitempty"`
}

// TopicExtent is the full set of items considered "about" one topic
type TopicExtent struct {
	TopicID   string       `json:"topic_id"`
	SourceID  string       `json:"source_id"`
	Items     []ExtentItem `json:"items"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Run represents one ledger entry for a pipeline stage invocation
type Run struct {
	ID          uuid.UUID      `json:"id"`
	SourceID    string         `json:"source_id"`
	Stage       string         `json:"stage"`
	Status      string         `json:"status"`
	Report      map[string]any `json:"report,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ContentHash returns the hex digest identifying a raw item's observed
// content. Collection uses it to detect conflicting re-observations and
// enrichment records it as part of the prompt identity.
func ContentHash(text string, timestamp time.Time) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte(timestamp.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}
