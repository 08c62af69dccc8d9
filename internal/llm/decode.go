package llm

import (
	"encoding/json"
	"fmt"

	"github.com/jonathan/feedforge/internal/retry"
	"github.com/jonathan/feedforge/internal/schemas"
)

// enrichmentSchema is the contract for structured annotation output.
// primary_text is the single mandatory field; everything else is optional
// and is default-filled on decode.
const enrichmentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["primary_text"],
	"properties": {
		"primary_text": {"type": "string", "minLength": 1},
		"summary": {"type": "string"},
		"topics": {"type": "array", "items": {"type": "string"}},
		"entities": {"type": "array", "items": {"type": "string"}},
		"language": {"type": "string"}
	}
}`

// clusterSchema is the contract for clustering output.
const clusterSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["clusters"],
	"properties": {
		"clusters": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title", "members"],
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"members": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["ref", "score"],
							"properties": {
								"ref": {"type": "string", "minLength": 1},
								"score": {"type": "number", "minimum": 0, "maximum": 1},
								"justification": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`

// decodeEnrichment validates and decodes a raw model response. A missing or
// empty primary_text is a permanent error; optional fields default to
// empty/neutral values rather than failing the item.
func decodeEnrichment(raw string) (*EnrichmentResult, error) {
	raw = cleanJSONBlock(raw)

	if err := schemas.ValidateJSONString(enrichmentSchema, raw); err != nil {
		return nil, retry.Permanent(fmt.Errorf("enrichment output rejected: %w", err))
	}

	var result EnrichmentResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to decode enrichment output: %w", err))
	}

	if result.Topics == nil {
		result.Topics = []string{}
	}
	if result.Entities == nil {
		result.Entities = []string{}
	}
	return &result, nil
}

type clusterResponse struct {
	Clusters []Cluster `json:"clusters"`
}

// decodeClusters validates and decodes a raw clustering response.
func decodeClusters(raw string) ([]Cluster, error) {
	raw = cleanJSONBlock(raw)

	if err := schemas.ValidateJSONString(clusterSchema, raw); err != nil {
		return nil, retry.Permanent(fmt.Errorf("clustering output rejected: %w", err))
	}

	var resp clusterResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to decode clustering output: %w", err))
	}
	return resp.Clusters, nil
}
