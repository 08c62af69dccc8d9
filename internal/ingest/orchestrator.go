// Package ingest drives collection for one source through the
// snapshot/incremental modes. The commit discipline is persist-then-advance:
// a cursor only ever moves after the batch it covers has been durably
// written, so a crash at any point leaves a state that a re-run repairs
// without gaps or duplicates.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/feed"
	"github.com/jonathan/feedforge/internal/keys"
	"github.com/jonathan/feedforge/internal/retry"
)

// Mode selects how a collection run starts.
type Mode string

const (
	// ModeSnapshot collects a bounded historical window from the start.
	ModeSnapshot Mode = "snapshot"
	// ModeIncremental resumes from the source's cursor.
	ModeIncremental Mode = "incremental"
)

// State is the orchestrator's position in the per-source state machine.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateCommitting State = "committing"
	StateBackingOff State = "backing_off"
	StateError      State = "error"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetSource(ctx context.Context, id string) (*db.Source, error)
	UpdateSourceStatus(ctx context.Context, id, status string, lastError *string) error
	AdvanceCursor(ctx context.Context, id, cursor string) error
	AdvanceThreadCursor(ctx context.Context, id, parentID, cursor string) error
	BumpFailureCount(ctx context.Context, id string) error
	InsertRawItem(ctx context.Context, item *db.RawItem) (bool, error)
}

// Report summarizes one collection run.
type Report struct {
	SourceID   string        `json:"source_id"`
	Mode       string        `json:"mode"`
	Batches    int           `json:"batches"`
	Fetched    int           `json:"fetched"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Invalid    int           `json:"invalid"`
	Nested     int           `json:"nested"`
	Duration   time.Duration `json:"duration_ns"`
}

// Orchestrator runs collection for sources. It is sequential per source;
// distinct sources may be collected concurrently since the store is the only
// shared state.
type Orchestrator struct {
	store      Store
	source     feed.Source
	policy     retry.Policy
	maxPayload int
	log        *slog.Logger
}

// New creates an orchestrator.
func New(store Store, source feed.Source, policy retry.Policy, maxPayloadBytes int, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:      store,
		source:     source,
		policy:     policy,
		maxPayload: maxPayloadBytes,
		log:        log,
	}
}

// Collect runs one collection pass for a source. On retry-budget exhaustion
// or a permanent upstream failure the source transitions to error status and
// requires an external reset before it is collected again.
func (o *Orchestrator) Collect(ctx context.Context, sourceID string, mode Mode) (*Report, error) {
	src, err := o.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("source not found: %s", sourceID)
	}
	if src.Status != db.SourceActive {
		return nil, fmt.Errorf("source %s is %s, not active", sourceID, src.Status)
	}

	report := &Report{SourceID: sourceID, Mode: string(mode)}
	start := time.Now()

	newParents, err := o.collectTopLevel(ctx, src, mode, report)
	if err != nil {
		o.failSource(ctx, sourceID, err)
		report.Duration = time.Since(start)
		return report, err
	}
	if err := o.collectNested(ctx, src, newParents, report); err != nil {
		o.failSource(ctx, sourceID, err)
		report.Duration = time.Since(start)
		return report, err
	}

	report.Duration = time.Since(start)
	o.log.Info("collection complete",
		"source", sourceID, "mode", mode,
		"fetched", report.Fetched, "inserted", report.Inserted,
		"duplicates", report.Duplicates, "nested", report.Nested)
	return report, nil
}

// collectTopLevel walks the top-level stream batch by batch. It returns the
// ids of newly observed top-level items so the nested pass can open their
// threads.
func (o *Orchestrator) collectTopLevel(ctx context.Context, src *db.Source, mode Mode, report *Report) ([]string, error) {
	cursor := src.Cursor
	if mode == ModeSnapshot {
		cursor = ""
	}

	var newParents []string
	for {
		o.logState(src.ID, StateCollecting, cursor)

		var items []feed.Item
		var next string
		// Fetch and persist are one retryable unit: re-running the persist
		// is safe because raw item writes are insert-if-absent.
		err := o.withBackoffLogging(src.ID).Do(ctx, func(ctx context.Context) error {
			var ferr error
			items, next, ferr = o.source.FetchItems(ctx, src.FeedURL, cursor, src.BatchSize)
			if ferr != nil {
				return ferr
			}

			o.logState(src.ID, StateCommitting, cursor)
			return o.persistBatch(ctx, src, mode, items, report)
		})
		if err != nil {
			o.logState(src.ID, StateError, cursor)
			return nil, err
		}

		if len(items) == 0 {
			return newParents, nil
		}
		report.Batches++
		report.Fetched += len(items)
		for _, item := range items {
			if item.ParentID == "" {
				newParents = append(newParents, item.ID)
			}
		}

		// Durable write succeeded: only now may the cursor move.
		if next == "" || next == cursor {
			return newParents, nil
		}
		if err := o.store.AdvanceCursor(ctx, src.ID, next); err != nil {
			return nil, err
		}
		cursor = next
	}
}

// collectNested walks each parent's reply stream independently so partial
// progress on one thread never blocks another.
func (o *Orchestrator) collectNested(ctx context.Context, src *db.Source, newParents []string, report *Report) error {
	parents := make(map[string]string)
	for _, id := range newParents {
		parents[id] = ""
	}
	// Known thread cursors win over the empty start for re-observed parents.
	for id, cur := range src.ThreadCursors {
		parents[id] = cur
	}

	for parentID, threadCursor := range parents {
		cursor := threadCursor
		for {
			var items []feed.Item
			var next string
			err := o.withBackoffLogging(src.ID).Do(ctx, func(ctx context.Context) error {
				var ferr error
				items, next, ferr = o.source.FetchNested(ctx, src.FeedURL, parentID, cursor)
				if ferr != nil {
					return ferr
				}
				return o.persistBatch(ctx, src, ModeIncremental, items, report)
			})
			if err != nil {
				return err
			}

			if len(items) == 0 {
				break
			}
			report.Nested += len(items)

			if next == "" || next == cursor {
				break
			}
			if err := o.store.AdvanceThreadCursor(ctx, src.ID, parentID, next); err != nil {
				return err
			}
			cursor = next
		}
	}
	return nil
}

// persistBatch writes every item of a batch via insert-if-absent.
func (o *Orchestrator) persistBatch(ctx context.Context, src *db.Source, mode Mode, items []feed.Item, report *Report) error {
	for _, item := range items {
		if mode == ModeSnapshot && !o.inWindow(src, item.Timestamp) {
			report.Invalid++
			continue
		}

		ref, err := keys.SourceRef(src.ID, item.Type, item.ID)
		if err != nil {
			// Malformed upstream identifiers are data defects, not transient
			// failures; skip the item rather than poison the batch.
			o.log.Warn("skipping item with invalid identifiers",
				"source", src.ID, "item", item.ID, "error", err)
			report.Invalid++
			continue
		}

		raw := &db.RawItem{
			SourceRef:   ref,
			SourceID:    src.ID,
			ItemType:    item.Type,
			ItemID:      item.ID,
			ParentID:    item.ParentID,
			Timestamp:   item.Timestamp,
			Text:        item.Text,
			ContentHash: db.ContentHash(item.Text, item.Timestamp),
			Payload:     item.Payload,
		}
		if err := db.CapPayload(raw, o.maxPayload); err != nil {
			return retry.Permanent(err)
		}

		inserted, err := o.store.InsertRawItem(ctx, raw)
		if err != nil {
			return err
		}
		if inserted {
			report.Inserted++
		} else {
			report.Duplicates++
		}
	}
	return nil
}

func (o *Orchestrator) logState(sourceID string, state State, cursor string) {
	o.log.Debug("state transition", "source", sourceID, "state", state, "cursor", cursor)
}

// withBackoffLogging returns a copy of the policy that surfaces the
// backing_off state in the log.
func (o *Orchestrator) withBackoffLogging(sourceID string) retry.Policy {
	p := o.policy
	p.OnBackoff = func(attempt int, delay time.Duration) {
		o.log.Debug("state transition", "source", sourceID, "state", StateBackingOff,
			"attempt", attempt, "delay", delay)
	}
	return p
}

func (o *Orchestrator) inWindow(src *db.Source, ts time.Time) bool {
	if src.WindowStart != nil && ts.Before(*src.WindowStart) {
		return false
	}
	if src.WindowEnd != nil && ts.After(*src.WindowEnd) {
		return false
	}
	return true
}

// failSource records exhaustion: bump the failure counter and park the
// source in error status until an operator resets it.
func (o *Orchestrator) failSource(ctx context.Context, sourceID string, cause error) {
	o.log.Error("collection failed", "source", sourceID, "error", cause)

	if err := o.store.BumpFailureCount(ctx, sourceID); err != nil {
		o.log.Error("failed to bump failure count", "source", sourceID, "error", err)
	}
	msg := cause.Error()
	if err := o.store.UpdateSourceStatus(ctx, sourceID, db.SourceError, &msg); err != nil {
		o.log.Error("failed to update source status", "source", sourceID, "error", err)
	}
}
