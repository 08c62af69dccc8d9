// Package keys derives the canonical identifiers shared by every pipeline
// stage. All stages must call these functions rather than building keys
// inline; a single divergent key format breaks idempotency across the system.
package keys

import (
	"fmt"
	"strings"
)

// Separator joins the components of a source reference.
const Separator = ":"

// Prefixes for derived identifiers.
const (
	processedPrefix = "proc"
	topicPrefix     = "topic"
	exportPrefix    = "export"
)

// SourceRef builds the canonical key for one externally-sourced item.
// Components must not contain the separator character; callers are expected
// to escape or encode upstream identifiers before calling.
func SourceRef(sourceID, itemType, itemID string) (string, error) {
	for _, part := range []string{sourceID, itemType, itemID} {
		if part == "" {
			return "", fmt.Errorf("source ref component is empty")
		}
		if strings.Contains(part, Separator) {
			return "", fmt.Errorf("source ref component %q contains separator %q", part, Separator)
		}
	}
	return sourceID + Separator + itemType + Separator + itemID, nil
}

// ProcessedID returns the identifier for the enrichment result of a source ref.
func ProcessedID(sourceRef string) string {
	return processedPrefix + Separator + sourceRef
}

// TopicID returns the identifier for a topic anchored on the given source ref.
// Because anchors are selected deterministically, re-running topicization on
// unchanged input reproduces the same id.
func TopicID(primaryAnchorRef string) string {
	return topicPrefix + Separator + primaryAnchorRef
}

// ExportID returns the identifier for an export record of the given kind.
func ExportID(kind, key string) string {
	return exportPrefix + Separator + kind + Separator + key
}

// FileSafe converts an identifier into a filesystem-safe name by replacing
// each separator with an underscore. The mapping is injective because key
// components never contain the separator.
func FileSafe(id string) string {
	return strings.ReplaceAll(id, Separator, "_")
}
