// Package topics groups enriched items into topic artifacts. Clustering
// proposals come from the inference capability; everything after that is
// deterministic: member dedupe, ranking, anchor selection, quality gates,
// and extent construction all follow fixed ordering rules so the same
// inputs always yield the same artifacts.
package topics

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/keys"
	"github.com/jonathan/feedforge/internal/llm"
	"github.com/jonathan/feedforge/internal/retry"
)

// Algorithm identifies the clustering strategy for artifact metadata.
const Algorithm = "llm-cluster:v1"

// Store is the persistence surface the engine needs.
type Store interface {
	ListProcessedBySource(ctx context.Context, sourceID string) ([]db.ProcessedItem, error)
	UpsertTopicArtifact(ctx context.Context, t *db.TopicArtifact) error
	UpsertTopicExtent(ctx context.Context, e *db.TopicExtent) error
}

// Thresholds are the quality gate parameters for one run.
type Thresholds struct {
	TopicAnchors       int
	SingletonMinScore  float64
	SingletonMinLength int
	ClusterMinScore    float64
	SupportingMinScore float64
}

// DefaultThresholds returns the standard gate parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TopicAnchors:       3,
		SingletonMinScore:  0.75,
		SingletonMinLength: 300,
		ClusterMinScore:    0.6,
		SupportingMinScore: 0.5,
	}
}

// Report summarizes one topicization run for the run ledger. Coverage is
// the fraction of input items that ended up in at least one accepted
// topic's extent.
type Report struct {
	SourceID   string        `json:"source_id"`
	RunID      string        `json:"run_id"`
	Inputs     int           `json:"inputs"`
	Proposed   int           `json:"proposed"`
	Singletons int           `json:"singletons"`
	Clusters   int           `json:"clusters"`
	Rejected   int           `json:"rejected"`
	Coverage   float64       `json:"coverage"`
	Duration   time.Duration `json:"duration_ns"`
}

// Engine turns cluster proposals into persisted topic artifacts.
type Engine struct {
	store      Store
	inference  llm.Capability
	policy     retry.Policy
	params     llm.Params
	thresholds Thresholds
	log        *slog.Logger
}

// New creates an engine with the given thresholds.
func New(store Store, inference llm.Capability, policy retry.Policy, params llm.Params, thresholds Thresholds, log *slog.Logger) *Engine {
	if thresholds.TopicAnchors < 1 {
		thresholds.TopicAnchors = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:      store,
		inference:  inference,
		policy:     policy,
		params:     params,
		thresholds: thresholds,
		log:        log,
	}
}

// Topicize runs one full topicization pass over a source's processed items.
func (e *Engine) Topicize(ctx context.Context, sourceID string) (*Report, error) {
	start := time.Now()
	report := &Report{SourceID: sourceID, RunID: uuid.New().String()}

	items, err := e.store.ListProcessedBySource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	report.Inputs = len(items)
	if len(items) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	byRef := make(map[string]*db.ProcessedItem, len(items))
	docs := make([]llm.Document, 0, len(items))
	for i := range items {
		byRef[items[i].SourceRef] = &items[i]
		docs = append(docs, llm.Document{Ref: items[i].SourceRef, Text: items[i].PrimaryText})
	}

	var clusters []llm.Cluster
	err = e.policy.Do(ctx, func(ctx context.Context) error {
		var ierr error
		clusters, ierr = e.inference.Cluster(ctx, docs, e.params)
		return ierr
	})
	if err != nil {
		return nil, err
	}
	report.Proposed = len(clusters)

	covered := make(map[string]bool)
	for _, cl := range clusters {
		members := e.normalizeMembers(cl.Members, byRef)
		if len(members) == 0 {
			report.Rejected++
			continue
		}

		n := e.thresholds.TopicAnchors
		if n > len(members) {
			n = len(members)
		}
		anchors := members[:n]

		kind, ok := e.gate(members, anchors, byRef)
		if !ok {
			report.Rejected++
			continue
		}
		if kind == db.TopicSingleton {
			report.Singletons++
		} else {
			report.Clusters++
		}

		artifact := e.buildArtifact(sourceID, report.RunID, cl, kind, anchors)
		extent := e.buildExtent(artifact.ID, sourceID, anchors, members)

		if err := e.store.UpsertTopicArtifact(ctx, artifact); err != nil {
			return nil, err
		}
		if err := e.store.UpsertTopicExtent(ctx, extent); err != nil {
			return nil, err
		}
		for _, it := range extent.Items {
			covered[it.Ref] = true
		}
	}

	report.Coverage = float64(len(covered)) / float64(len(items))
	report.Duration = time.Since(start)
	return report, nil
}

// normalizeMembers drops refs that are not in the input set, collapses
// duplicate refs keeping the highest score, and ranks the survivors by
// score descending with ref ascending as the tie break.
func (e *Engine) normalizeMembers(members []llm.Member, byRef map[string]*db.ProcessedItem) []llm.Member {
	best := make(map[string]llm.Member)
	for _, m := range members {
		if _, ok := byRef[m.Ref]; !ok {
			e.log.Warn("dropping unknown member ref", "ref", m.Ref)
			continue
		}
		if prev, ok := best[m.Ref]; !ok || m.Score > prev.Score {
			best[m.Ref] = m
		}
	}

	out := make([]llm.Member, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Ref < out[j].Ref
	})
	return out
}

// gate applies the quality thresholds and returns the topic kind.
// A single-member proposal is a singleton: it must be substantial (primary
// text at or above the minimum length) and confidently scored. A
// multi-member proposal needs at least two anchors at or above the cluster
// minimum score.
func (e *Engine) gate(members, anchors []llm.Member, byRef map[string]*db.ProcessedItem) (string, bool) {
	if len(members) == 1 {
		m := members[0]
		item := byRef[m.Ref]
		if len(item.PrimaryText) >= e.thresholds.SingletonMinLength && m.Score >= e.thresholds.SingletonMinScore {
			return db.TopicSingleton, true
		}
		return db.TopicSingleton, false
	}

	strong := 0
	for _, a := range anchors {
		if a.Score >= e.thresholds.ClusterMinScore {
			strong++
		}
	}
	return db.TopicCluster, strong >= 2
}

func (e *Engine) buildArtifact(sourceID, runID string, cl llm.Cluster, kind string, anchors []llm.Member) *db.TopicArtifact {
	dbAnchors := make([]db.Anchor, 0, len(anchors))
	for _, a := range anchors {
		dbAnchors = append(dbAnchors, db.Anchor{Ref: a.Ref, Score: a.Score})
	}
	return &db.TopicArtifact{
		ID:          keys.TopicID(anchors[0].Ref),
		SourceID:    sourceID,
		Title:       cl.Title,
		Description: cl.Description,
		Kind:        kind,
		Anchors:     dbAnchors,
		Metadata: db.TopicMetadata{
			RunID:              runID,
			Algorithm:          Algorithm,
			Model:              cl.Model,
			InputScope:         sourceID,
			TopicAnchors:       e.thresholds.TopicAnchors,
			SingletonMinScore:  e.thresholds.SingletonMinScore,
			SingletonMinLength: e.thresholds.SingletonMinLength,
			ClusterMinScore:    e.thresholds.ClusterMinScore,
			SupportingMinScore: e.thresholds.SupportingMinScore,
		},
	}
}

// buildExtent combines the anchors with every remaining member at or above
// the supporting threshold. Members are already deduplicated, so each ref
// appears exactly once; anchors always carry the anchor role.
func (e *Engine) buildExtent(topicID, sourceID string, anchors, members []llm.Member) *db.TopicExtent {
	isAnchor := make(map[string]bool, len(anchors))
	items := make([]db.ExtentItem, 0, len(members))
	for _, a := range anchors {
		isAnchor[a.Ref] = true
		items = append(items, db.ExtentItem{
			Ref:           a.Ref,
			Role:          db.RoleAnchor,
			Score:         a.Score,
			Justification: a.Justification,
		})
	}
	for _, m := range members {
		if isAnchor[m.Ref] || m.Score < e.thresholds.SupportingMinScore {
			continue
		}
		items = append(items, db.ExtentItem{
			Ref:           m.Ref,
			Role:          db.RoleSupporting,
			Score:         m.Score,
			Justification: m.Justification,
		})
	}
	return &db.TopicExtent{TopicID: topicID, SourceID: sourceID, Items: items}
}
