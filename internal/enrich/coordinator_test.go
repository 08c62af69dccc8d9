package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/llm"
	"github.com/jonathan/feedforge/internal/retry"
)

type fakeStore struct {
	mu        sync.Mutex
	processed map[string]*db.ProcessedItem
	failures  map[string]*db.FailureRecord
	raw       []db.RawItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		processed: make(map[string]*db.ProcessedItem),
		failures:  make(map[string]*db.FailureRecord),
	}
}

func (s *fakeStore) GetProcessedItem(_ context.Context, ref string) (*db.ProcessedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[ref], nil
}

func (s *fakeStore) UpsertProcessedItem(_ context.Context, item *db.ProcessedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[item.SourceRef] = item
	delete(s.failures, item.SourceRef)
	return nil
}

func (s *fakeStore) UpsertFailure(_ context.Context, f *db.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[f.SourceRef] = f
	return nil
}

func (s *fakeStore) ListRawItemsBySource(_ context.Context, sourceID string, _ int) ([]db.RawItem, error) {
	var out []db.RawItem
	for _, r := range s.raw {
		if r.SourceID == sourceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListUnprocessedBySource(ctx context.Context, sourceID string, limit int) ([]db.RawItem, error) {
	all, _ := s.ListRawItemsBySource(ctx, sourceID, limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.RawItem
	for _, r := range all {
		if _, ok := s.processed[r.SourceRef]; !ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeCapability struct {
	mu       sync.Mutex
	calls    map[string]int
	failWith map[string]error
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func newFakeCapability() *fakeCapability {
	return &fakeCapability{
		calls:    make(map[string]int),
		failWith: make(map[string]error),
	}
}

func (c *fakeCapability) Enrich(_ context.Context, text string, params llm.Params) (*llm.EnrichmentResult, error) {
	c.mu.Lock()
	c.calls[text]++
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	err := c.failWith[text]
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &llm.EnrichmentResult{
		PrimaryText: "enriched: " + text,
		Summary:     "summary",
		Topics:      []string{"t"},
		Entities:    []string{},
		Model:       params.Model,
		Params:      params,
	}, nil
}

func (c *fakeCapability) Cluster(context.Context, []llm.Document, llm.Params) ([]llm.Cluster, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeCapability) Close() error { return nil }

func rawItem(sourceID string, n int) db.RawItem {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	text := fmt.Sprintf("item %d body", n)
	return db.RawItem{
		SourceRef:   fmt.Sprintf("%s:post:%d", sourceID, n),
		SourceID:    sourceID,
		ItemType:    "post",
		ItemID:      fmt.Sprintf("%d", n),
		Timestamp:   ts,
		Text:        text,
		ContentHash: db.ContentHash(text, ts),
	}
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestProcessBatch_EnrichesAndRecordsMetadata(t *testing.T) {
	store := newFakeStore()
	cap := newFakeCapability()
	params := llm.DeterministicParams("test-model")
	coord := New(store, cap, testPolicy(), params, 2, nil)

	item := rawItem("src1", 1)
	report, err := coord.ProcessBatch(context.Background(), []db.RawItem{item}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Failed)

	got := store.processed[item.SourceRef]
	require.NotNil(t, got)
	assert.Equal(t, "proc:"+item.SourceRef, got.ID)
	assert.Equal(t, "enriched: item 1 body", got.PrimaryText)
	assert.Equal(t, PipelineVersion, got.Metadata.PipelineVersion)
	assert.Equal(t, "test-model", got.Metadata.Model)
	assert.Equal(t, item.ContentHash, got.Metadata.PromptIdentity)
	assert.Equal(t, 0.0, got.Metadata.Temperature)
}

func TestProcessBatch_SkipsAlreadyProcessed(t *testing.T) {
	store := newFakeStore()
	cap := newFakeCapability()
	coord := New(store, cap, testPolicy(), llm.DeterministicParams("m"), 1, nil)

	item := rawItem("src1", 1)
	_, err := coord.ProcessBatch(context.Background(), []db.RawItem{item}, false)
	require.NoError(t, err)

	report, err := coord.ProcessBatch(context.Background(), []db.RawItem{item}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, cap.calls[item.Text], "no second inference call without force")
}

func TestProcessBatch_ForceReprocesses(t *testing.T) {
	store := newFakeStore()
	cap := newFakeCapability()
	coord := New(store, cap, testPolicy(), llm.DeterministicParams("m"), 1, nil)

	item := rawItem("src1", 1)
	_, err := coord.ProcessBatch(context.Background(), []db.RawItem{item}, false)
	require.NoError(t, err)

	report, err := coord.ProcessBatch(context.Background(), []db.RawItem{item}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 2, cap.calls[item.Text])
}

func TestProcessBatch_PerItemIsolation(t *testing.T) {
	store := newFakeStore()
	cap := newFakeCapability()
	bad := rawItem("src1", 2)
	cap.failWith[bad.Text] = retry.Permanent(errors.New("malformed response"))
	coord := New(store, cap, testPolicy(), llm.DeterministicParams("m"), 2, nil)

	items := []db.RawItem{rawItem("src1", 1), bad, rawItem("src1", 3)}
	report, err := coord.ProcessBatch(context.Background(), items, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Failed)

	f := store.failures[bad.SourceRef]
	require.NotNil(t, f)
	assert.Equal(t, string(retry.ClassPermanent), f.ErrorClass)
	assert.Equal(t, 1, f.Attempts, "permanent errors must not consume the retry budget")
	assert.Contains(t, f.ErrorText, "malformed response")
}

func TestProcessBatch_RetryableExhaustsAttempts(t *testing.T) {
	store := newFakeStore()
	cap := newFakeCapability()
	item := rawItem("src1", 1)
	cap.failWith[item.Text] = retry.Retryable(errors.New("rate limited"))
	coord := New(store, cap, testPolicy(), llm.DeterministicParams("m"), 1, nil)

	report, err := coord.ProcessBatch(context.Background(), []db.RawItem{item}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	f := store.failures[item.SourceRef]
	require.NotNil(t, f)
	assert.Equal(t, 3, f.Attempts)
	assert.Equal(t, string(retry.ClassRetryable), f.ErrorClass)
}

func TestProcessBatch_SuccessClearsFailure(t *testing.T) {
	store := newFakeStore()
	cap := newFakeCapability()
	item := rawItem("src1", 1)
	cap.failWith[item.Text] = retry.Permanent(errors.New("boom"))
	coord := New(store, cap, testPolicy(), llm.DeterministicParams("m"), 1, nil)

	_, err := coord.ProcessBatch(context.Background(), []db.RawItem{item}, false)
	require.NoError(t, err)
	require.NotNil(t, store.failures[item.SourceRef])

	delete(cap.failWith, item.Text)
	report, err := coord.ProcessBatch(context.Background(), []db.RawItem{item}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Nil(t, store.failures[item.SourceRef], "success must clear the failure ledger entry")
}

func TestProcessBatch_BoundedConcurrency(t *testing.T) {
	store := newFakeStore()
	cap := newFakeCapability()
	cap.delay = 20 * time.Millisecond
	coord := New(store, cap, testPolicy(), llm.DeterministicParams("m"), 2, nil)

	var items []db.RawItem
	for i := 0; i < 8; i++ {
		items = append(items, rawItem("src1", i))
	}
	report, err := coord.ProcessBatch(context.Background(), items, false)
	require.NoError(t, err)
	assert.Equal(t, 8, report.Processed)
	assert.LessOrEqual(t, cap.maxSeen, 2)
}

func TestEnrichSource_ListsPendingOnly(t *testing.T) {
	store := newFakeStore()
	store.raw = []db.RawItem{rawItem("src1", 1), rawItem("src1", 2), rawItem("src2", 9)}
	cap := newFakeCapability()
	coord := New(store, cap, testPolicy(), llm.DeterministicParams("m"), 2, nil)

	report, err := coord.EnrichSource(context.Background(), "src1", false)
	require.NoError(t, err)
	assert.Equal(t, "src1", report.SourceID)
	assert.Equal(t, 2, report.Processed)

	// Second run finds nothing pending.
	report, err = coord.EnrichSource(context.Background(), "src1", false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 0, report.Skipped)
}
