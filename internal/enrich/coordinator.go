// Package enrich drives per-item enrichment over batches of raw items.
// Items are processed independently: one item's failure ends up in the
// failure ledger and never aborts the batch. Re-running is idempotent
// because results are keyed by source ref and written with upsert.
package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/keys"
	"github.com/jonathan/feedforge/internal/llm"
	"github.com/jonathan/feedforge/internal/retry"
)

// PipelineVersion identifies the enrichment stage for metadata capture.
// Bump when the prompt template or decode contract changes.
const PipelineVersion = "enrich:v1.0.0"

// Store is the persistence surface the coordinator needs.
type Store interface {
	GetProcessedItem(ctx context.Context, sourceRef string) (*db.ProcessedItem, error)
	UpsertProcessedItem(ctx context.Context, item *db.ProcessedItem) error
	UpsertFailure(ctx context.Context, f *db.FailureRecord) error
	ListRawItemsBySource(ctx context.Context, sourceID string, limit int) ([]db.RawItem, error)
	ListUnprocessedBySource(ctx context.Context, sourceID string, limit int) ([]db.RawItem, error)
}

// Report summarizes one enrichment run for the run ledger.
type Report struct {
	SourceID  string        `json:"source_id"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// Coordinator runs enrichment with bounded concurrency.
type Coordinator struct {
	store       Store
	inference   llm.Capability
	policy      retry.Policy
	params      llm.Params
	concurrency int64
	log         *slog.Logger
}

// New creates a coordinator. params must be the deterministic parameter set;
// they are recorded verbatim in every result's metadata.
func New(store Store, inference llm.Capability, policy retry.Policy, params llm.Params, concurrency int, log *slog.Logger) *Coordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:       store,
		inference:   inference,
		policy:      policy,
		params:      params,
		concurrency: int64(concurrency),
		log:         log,
	}
}

// EnrichSource enriches all pending items of one source. With force set,
// already-processed items are re-enriched and their results replaced.
func (c *Coordinator) EnrichSource(ctx context.Context, sourceID string, force bool) (*Report, error) {
	var items []db.RawItem
	var err error
	if force {
		items, err = c.store.ListRawItemsBySource(ctx, sourceID, 0)
	} else {
		items, err = c.store.ListUnprocessedBySource(ctx, sourceID, 0)
	}
	if err != nil {
		return nil, err
	}

	report, err := c.ProcessBatch(ctx, items, force)
	if report != nil {
		report.SourceID = sourceID
	}
	return report, err
}

// ProcessBatch enriches a batch of raw items concurrently up to the
// configured limit. The returned error is only non-nil when the run itself
// was aborted (context cancellation); per-item failures are counted in the
// report and recorded in the failure ledger.
func (c *Coordinator) ProcessBatch(ctx context.Context, items []db.RawItem, force bool) (*Report, error) {
	report := &Report{}
	start := time.Now()

	sem := semaphore.NewWeighted(c.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, item := range items {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			outcome := c.processOne(gctx, &item, force)

			mu.Lock()
			switch outcome {
			case outcomeProcessed:
				report.Processed++
			case outcomeSkipped:
				report.Skipped++
			case outcomeFailed:
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	report.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

// processOne runs the full per-item protocol: skip check, retried inference,
// validation, then either upsert-and-clear-failure or a failure ledger write.
func (c *Coordinator) processOne(ctx context.Context, item *db.RawItem, force bool) outcome {
	if !force {
		existing, err := c.store.GetProcessedItem(ctx, item.SourceRef)
		if err != nil {
			c.log.Error("failed to check existing result", "ref", item.SourceRef, "error", err)
			return outcomeFailed
		}
		if existing != nil {
			return outcomeSkipped
		}
	}

	var result *llm.EnrichmentResult
	attempts := 0
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		var ierr error
		result, ierr = c.inference.Enrich(ctx, item.Text, c.params)
		return ierr
	})
	if err != nil {
		c.log.Warn("enrichment failed", "ref", item.SourceRef,
			"attempts", attempts, "class", retry.Classify(err), "error", err)

		ferr := c.store.UpsertFailure(ctx, &db.FailureRecord{
			SourceRef:  item.SourceRef,
			SourceID:   item.SourceID,
			Attempts:   attempts,
			ErrorClass: string(retry.Classify(err)),
			ErrorText:  err.Error(),
		})
		if ferr != nil {
			c.log.Error("failed to record failure", "ref", item.SourceRef, "error", ferr)
		}
		return outcomeFailed
	}

	processed := &db.ProcessedItem{
		ID:          keys.ProcessedID(item.SourceRef),
		SourceRef:   item.SourceRef,
		SourceID:    item.SourceID,
		PrimaryText: result.PrimaryText,
		Summary:     result.Summary,
		Topics:      result.Topics,
		Entities:    result.Entities,
		Language:    result.Language,
		Metadata: db.EnrichmentMetadata{
			PipelineVersion: PipelineVersion,
			Model:           result.Model,
			PromptIdentity:  item.ContentHash,
			Temperature:     result.Params.Temperature,
			MaxTokens:       result.Params.MaxTokens,
		},
	}
	if err := c.store.UpsertProcessedItem(ctx, processed); err != nil {
		c.log.Error("failed to store result", "ref", item.SourceRef, "error", err)
		return outcomeFailed
	}
	return outcomeProcessed
}
