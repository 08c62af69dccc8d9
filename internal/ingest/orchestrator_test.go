package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/feed"
	"github.com/jonathan/feedforge/internal/retry"
)

// fakeStore is an in-memory Store with optional write-failure injection.
type fakeStore struct {
	source      *db.Source
	rawItems    map[string]*db.RawItem
	failInserts int // fail this many inserts before succeeding
	inserts     int
}

func newFakeStore(source *db.Source) *fakeStore {
	return &fakeStore{source: source, rawItems: make(map[string]*db.RawItem)}
}

func (s *fakeStore) GetSource(_ context.Context, id string) (*db.Source, error) {
	if s.source == nil || s.source.ID != id {
		return nil, nil
	}
	cp := *s.source
	return &cp, nil
}

func (s *fakeStore) UpdateSourceStatus(_ context.Context, id, status string, lastError *string) error {
	s.source.Status = status
	s.source.LastError = lastError
	return nil
}

func (s *fakeStore) AdvanceCursor(_ context.Context, id, cursor string) error {
	s.source.Cursor = cursor
	return nil
}

func (s *fakeStore) AdvanceThreadCursor(_ context.Context, id, parentID, cursor string) error {
	if s.source.ThreadCursors == nil {
		s.source.ThreadCursors = make(map[string]string)
	}
	s.source.ThreadCursors[parentID] = cursor
	return nil
}

func (s *fakeStore) BumpFailureCount(_ context.Context, id string) error {
	s.source.FailureCount++
	return nil
}

func (s *fakeStore) InsertRawItem(_ context.Context, item *db.RawItem) (bool, error) {
	if s.failInserts > 0 {
		s.failInserts--
		return false, retry.Retryable(errors.New("injected write failure"))
	}
	s.inserts++
	if _, exists := s.rawItems[item.SourceRef]; exists {
		return false, nil
	}
	cp := *item
	s.rawItems[item.SourceRef] = &cp
	return true, nil
}

// fakeFeed serves a fixed item stream in pages keyed by cursor.
type fakeFeed struct {
	pages       map[string]page // cursor -> page
	nested      map[string]page // parentID -> page
	failFetches int
}

type page struct {
	items []feed.Item
	next  string
}

func (f *fakeFeed) FetchItems(_ context.Context, _, cursor string, _ int) ([]feed.Item, string, error) {
	if f.failFetches > 0 {
		f.failFetches--
		return nil, "", retry.Retryable(errors.New("injected fetch failure"))
	}
	p, ok := f.pages[cursor]
	if !ok {
		return nil, cursor, nil
	}
	return p.items, p.next, nil
}

func (f *fakeFeed) FetchNested(_ context.Context, _, parentID, cursor string) ([]feed.Item, string, error) {
	if cursor != "" {
		return nil, cursor, nil
	}
	p, ok := f.nested[parentID]
	if !ok {
		return nil, cursor, nil
	}
	return p.items, p.next, nil
}

func activeSource() *db.Source {
	return &db.Source{
		ID:        "s1",
		Name:      "Source One",
		FeedURL:   "https://feed.example.test/v1",
		Status:    db.SourceActive,
		BatchSize: 10,
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func post(id, text string, ts time.Time) feed.Item {
	return feed.Item{ID: id, Type: "post", Timestamp: ts, Text: text}
}

func TestCollect_Incremental(t *testing.T) {
	ts := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	source := &fakeFeed{pages: map[string]page{
		"":   {items: []feed.Item{post("1", "one", ts), post("2", "two", ts)}, next: "c2"},
		"c2": {items: []feed.Item{post("3", "three", ts)}, next: "c3"},
		"c3": {},
	}}
	store := newFakeStore(activeSource())

	o := New(store, source, fastPolicy(), 0, nil)
	report, err := o.Collect(context.Background(), "s1", ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 3, report.Inserted)
	assert.Equal(t, 0, report.Duplicates)
	assert.Equal(t, "c3", store.source.Cursor)
	assert.Contains(t, store.rawItems, "s1:post:1")
	assert.Contains(t, store.rawItems, "s1:post:3")
}

func TestCollect_IdempotentRerun(t *testing.T) {
	ts := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	source := &fakeFeed{pages: map[string]page{
		"":   {items: []feed.Item{post("1", "one", ts)}, next: "c2"},
		"c2": {},
	}}
	store := newFakeStore(activeSource())
	o := New(store, source, fastPolicy(), 0, nil)

	_, err := o.Collect(context.Background(), "s1", ModeSnapshot)
	require.NoError(t, err)
	report, err := o.Collect(context.Background(), "s1", ModeSnapshot)
	require.NoError(t, err)

	// Second pass sees the same window but stores nothing new.
	assert.Equal(t, 0, report.Inserted)
	assert.Equal(t, 1, report.Duplicates)
	assert.Len(t, store.rawItems, 1)
}

func TestCollect_CursorUnchangedWhenPersistFails(t *testing.T) {
	ts := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	source := &fakeFeed{pages: map[string]page{
		"": {items: []feed.Item{post("1", "one", ts)}, next: "c2"},
	}}
	store := newFakeStore(activeSource())
	store.failInserts = 100 // exhaust every retry

	o := New(store, source, fastPolicy(), 0, nil)
	_, err := o.Collect(context.Background(), "s1", ModeIncremental)
	require.Error(t, err)

	// Fetch succeeded but persistence did not: the cursor must not move,
	// and the source is parked in error status.
	assert.Equal(t, "", store.source.Cursor)
	assert.Equal(t, db.SourceError, store.source.Status)
	assert.Equal(t, 1, store.source.FailureCount)
	require.NotNil(t, store.source.LastError)
}

func TestCollect_RecoversAfterTransientFailure(t *testing.T) {
	ts := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	source := &fakeFeed{
		pages: map[string]page{
			"":   {items: []feed.Item{post("1", "one", ts)}, next: "c2"},
			"c2": {},
		},
		failFetches: 1,
	}
	store := newFakeStore(activeSource())

	o := New(store, source, fastPolicy(), 0, nil)
	report, err := o.Collect(context.Background(), "s1", ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, "c2", store.source.Cursor)
	assert.Equal(t, db.SourceActive, store.source.Status)
}

func TestCollect_SnapshotWindowFiltering(t *testing.T) {
	winStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	winEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	src := activeSource()
	src.WindowStart = &winStart
	src.WindowEnd = &winEnd

	source := &fakeFeed{pages: map[string]page{
		"": {items: []feed.Item{
			post("old", "too old", winStart.Add(-time.Hour)),
			post("in", "in window", winStart.Add(time.Hour)),
			post("new", "too new", winEnd.Add(time.Hour)),
		}, next: "done"},
		"done": {},
	}}
	store := newFakeStore(src)

	o := New(store, source, fastPolicy(), 0, nil)
	report, err := o.Collect(context.Background(), "s1", ModeSnapshot)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 2, report.Invalid)
	assert.Contains(t, store.rawItems, "s1:post:in")
}

func TestCollect_NestedThreadsIndependent(t *testing.T) {
	ts := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	source := &fakeFeed{
		pages: map[string]page{
			"":   {items: []feed.Item{post("p1", "parent one", ts), post("p2", "parent two", ts)}, next: "c2"},
			"c2": {},
		},
		nested: map[string]page{
			"p1": {items: []feed.Item{{ID: "r1", Type: "reply", ParentID: "p1", Timestamp: ts, Text: "reply"}}, next: "t1"},
		},
	}
	store := newFakeStore(activeSource())

	o := New(store, source, fastPolicy(), 0, nil)
	report, err := o.Collect(context.Background(), "s1", ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Nested)
	assert.Contains(t, store.rawItems, "s1:reply:r1")
	assert.Equal(t, "t1", store.source.ThreadCursors["p1"])
	_, hasP2 := store.source.ThreadCursors["p2"]
	assert.False(t, hasP2, "empty thread should not record a cursor")
}

func TestCollect_SkipsItemsWithSeparatorInID(t *testing.T) {
	ts := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	source := &fakeFeed{pages: map[string]page{
		"":   {items: []feed.Item{post("bad:id", "x", ts), post("good", "y", ts)}, next: "c2"},
		"c2": {},
	}}
	store := newFakeStore(activeSource())

	o := New(store, source, fastPolicy(), 0, nil)
	report, err := o.Collect(context.Background(), "s1", ModeIncremental)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Invalid)
}

func TestCollect_RefusesInactiveSource(t *testing.T) {
	for _, status := range []string{db.SourcePaused, db.SourceError} {
		t.Run(status, func(t *testing.T) {
			src := activeSource()
			src.Status = status
			store := newFakeStore(src)

			o := New(store, &fakeFeed{}, fastPolicy(), 0, nil)
			_, err := o.Collect(context.Background(), "s1", ModeIncremental)
			require.Error(t, err)
			assert.Contains(t, err.Error(), fmt.Sprintf("is %s", status))
		})
	}
}

func TestCollect_UnknownSource(t *testing.T) {
	store := newFakeStore(activeSource())
	o := New(store, &fakeFeed{}, fastPolicy(), 0, nil)

	_, err := o.Collect(context.Background(), "missing", ModeIncremental)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
