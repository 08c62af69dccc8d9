// Package llm provides the inference capability consumed by the enrichment
// and topicization stages: structured annotation of a single text and
// clustering of a document set. Providers must honor the deterministic
// parameter contract - near-zero temperature, pinned model identity - and
// echo the exact parameters used so callers can record them in metadata.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Params are the generation parameters for one inference call. They are
// recorded verbatim in result metadata for reproducibility audits.
type Params struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// DeterministicParams returns the pinned parameter set for pipeline calls.
func DeterministicParams(model string) Params {
	return Params{
		Model:       model,
		Temperature: 0.0,
		MaxTokens:   2048,
	}
}

// EnrichmentResult is the structured annotation of one text. PrimaryText is
// the only mandatory field; everything else defaults to empty.
type EnrichmentResult struct {
	PrimaryText string   `json:"primary_text"`
	Summary     string   `json:"summary,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Entities    []string `json:"entities,omitempty"`
	Language    string   `json:"language,omitempty"`

	// Echoed identity for metadata capture.
	Model  string `json:"-"`
	Params Params `json:"-"`
}

// Document is one clustering input.
type Document struct {
	Ref  string `json:"ref"`
	Text string `json:"text"`
}

// Member is one document's membership in a cluster with its relevance score.
type Member struct {
	Ref           string  `json:"ref"`
	Score         float64 `json:"score"`
	Justification string  `json:"justification,omitempty"`
}

// Cluster is one group proposed by the clustering capability.
type Cluster struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Members     []Member `json:"members"`

	// Echoed identity for metadata capture.
	Model string `json:"-"`
}

// Capability is the inference abstraction over LLM providers.
type Capability interface {
	// Enrich produces structured annotations for one text.
	Enrich(ctx context.Context, text string, params Params) (*EnrichmentResult, error)
	// Cluster groups documents and scores each member's relevance in [0,1].
	Cluster(ctx context.Context, docs []Document, params Params) ([]Cluster, error)
	// Close releases any resources held by the provider.
	Close() error
}

// Provider name constants
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// NewCapability creates a provider based on configuration.
func NewCapability(ctx context.Context, provider, apiKey string) (Capability, error) {
	switch strings.ToLower(provider) {
	case ProviderGemini, "":
		return NewGeminiProvider(ctx, apiKey)
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey)
	default:
		return nil, fmt.Errorf("unknown inference provider: %s (supported: gemini, openai)", provider)
	}
}

// DefaultModel returns the default model identity for a provider.
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "gemini-2.0-flash"
	}
}

// cleanJSONBlock removes markdown code block wrappers from JSON
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
