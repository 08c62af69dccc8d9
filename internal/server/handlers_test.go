package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/feedforge/internal/db"
)

type fakeStore struct {
	sources   map[string]*db.Source
	failures  map[string][]db.FailureRecord
	conflicts map[string][]db.RawItemConflict
	runs      []db.Run
	topics    []db.TopicArtifact
	extents   map[string]*db.TopicExtent
	processed []db.ProcessedItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources:   make(map[string]*db.Source),
		failures:  make(map[string][]db.FailureRecord),
		conflicts: make(map[string][]db.RawItemConflict),
		extents:   make(map[string]*db.TopicExtent),
	}
}

func (s *fakeStore) CreateSource(_ context.Context, src *db.Source) error {
	s.sources[src.ID] = src
	return nil
}

func (s *fakeStore) GetSource(_ context.Context, id string) (*db.Source, error) {
	return s.sources[id], nil
}

func (s *fakeStore) ListSources(context.Context) ([]db.Source, error) {
	var out []db.Source
	for _, src := range s.sources {
		out = append(out, *src)
	}
	return out, nil
}

func (s *fakeStore) UpdateSourceStatus(_ context.Context, id, status string, _ *string) error {
	s.sources[id].Status = status
	return nil
}

func (s *fakeStore) ResetSource(_ context.Context, id string) error {
	src := s.sources[id]
	src.Status = db.SourceActive
	src.FailureCount = 0
	src.LastError = nil
	return nil
}

func (s *fakeStore) ListFailuresBySource(_ context.Context, sourceID string) ([]db.FailureRecord, error) {
	return s.failures[sourceID], nil
}

func (s *fakeStore) ListConflicts(_ context.Context, ref string) ([]db.RawItemConflict, error) {
	return s.conflicts[ref], nil
}

func (s *fakeStore) ListRuns(_ context.Context, sourceID string, _ int) ([]db.Run, error) {
	var out []db.Run
	for _, r := range s.runs {
		if sourceID == "" || r.SourceID == sourceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListTopicsBySource(_ context.Context, sourceID string) ([]db.TopicArtifact, error) {
	var out []db.TopicArtifact
	for _, t := range s.topics {
		if t.SourceID == sourceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) GetTopicArtifact(_ context.Context, id string) (*db.TopicArtifact, error) {
	for i := range s.topics {
		if s.topics[i].ID == id {
			return &s.topics[i], nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetTopicExtent(_ context.Context, topicID string) (*db.TopicExtent, error) {
	return s.extents[topicID], nil
}

func (s *fakeStore) ListProcessedBySource(_ context.Context, sourceID string) ([]db.ProcessedItem, error) {
	var out []db.ProcessedItem
	for _, p := range s.processed {
		if p.SourceID == sourceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func testServer(store Store) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newServer(store, 0, log)
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s := testServer(newFakeStore())
	rec := doRequest(s, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleCreateSource(t *testing.T) {
	store := newFakeStore()
	s := testServer(store)

	body := []byte(`{"id":"forum-main","name":"Main forum","feed_url":"https://forum.example.com/feed"}`)
	rec := doRequest(s, http.MethodPost, "/sources", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, store.sources["forum-main"])
	assert.Equal(t, "https://forum.example.com/feed", store.sources["forum-main"].FeedURL)
}

func TestHandleCreateSource_RejectsSeparatorInID(t *testing.T) {
	s := testServer(newFakeStore())

	body := []byte(`{"id":"forum:main","feed_url":"https://forum.example.com/feed"}`)
	rec := doRequest(s, http.MethodPost, "/sources", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must not contain")
}

func TestHandleCreateSource_MissingFields(t *testing.T) {
	s := testServer(newFakeStore())

	rec := doRequest(s, http.MethodPost, "/sources", []byte(`{"id":"forum-main"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodPost, "/sources", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetSource_NotFound(t *testing.T) {
	s := testServer(newFakeStore())
	rec := doRequest(s, http.MethodGet, "/sources/unknown", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePauseAndResumeSource(t *testing.T) {
	store := newFakeStore()
	store.sources["forum-main"] = &db.Source{ID: "forum-main", Status: db.SourceActive}
	s := testServer(store)

	rec := doRequest(s, http.MethodPost, "/sources/forum-main/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, db.SourcePaused, store.sources["forum-main"].Status)

	rec = doRequest(s, http.MethodPost, "/sources/forum-main/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, db.SourceActive, store.sources["forum-main"].Status)
}

func TestHandleResetSource(t *testing.T) {
	store := newFakeStore()
	lastErr := "budget exhausted"
	store.sources["forum-main"] = &db.Source{
		ID:           "forum-main",
		Status:       db.SourceError,
		Cursor:       "c42",
		FailureCount: 3,
		LastError:    &lastErr,
	}
	s := testServer(store)

	rec := doRequest(s, http.MethodPost, "/sources/forum-main/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	src := store.sources["forum-main"]
	assert.Equal(t, db.SourceActive, src.Status)
	assert.Zero(t, src.FailureCount)
	assert.Nil(t, src.LastError)
	// Cursors survive a reset so collection resumes where it left off.
	assert.Equal(t, "c42", src.Cursor)
}

func TestHandleListFailures(t *testing.T) {
	store := newFakeStore()
	store.failures["forum-main"] = []db.FailureRecord{
		{SourceRef: "forum-main:post:17", ErrorClass: "retryable", Attempts: 4},
	}
	s := testServer(store)

	rec := doRequest(s, http.MethodGet, "/sources/forum-main/failures", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Failures []db.FailureRecord `json:"failures"`
		Total    int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "forum-main:post:17", resp.Failures[0].SourceRef)
}

func TestHandleListConflicts_RequiresRef(t *testing.T) {
	s := testServer(newFakeStore())
	rec := doRequest(s, http.MethodGet, "/conflicts", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListRuns_FilterBySource(t *testing.T) {
	store := newFakeStore()
	store.runs = []db.Run{
		{SourceID: "forum-main", Stage: db.StageCollect, Status: db.RunCompleted},
		{SourceID: "blog", Stage: db.StageEnrich, Status: db.RunCompleted},
	}
	s := testServer(store)

	rec := doRequest(s, http.MethodGet, "/runs?source_id=forum-main", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
}

func TestHandleTopic(t *testing.T) {
	store := newFakeStore()
	store.topics = []db.TopicArtifact{
		{
			ID:       "topic:src1:post:a",
			SourceID: "src1",
			Title:    "Alpha",
			Kind:     db.TopicSingleton,
			Anchors:  []db.Anchor{{Ref: "src1:post:a", Score: 0.9}},
		},
	}
	store.extents["topic:src1:post:a"] = &db.TopicExtent{
		TopicID: "topic:src1:post:a",
		Items:   []db.ExtentItem{{Ref: "src1:post:a", Role: db.RoleAnchor, Score: 0.9}},
	}
	s := testServer(store)

	rec := doRequest(s, http.MethodGet, "/topics/topic:src1:post:a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title": "Alpha"`)

	rec = doRequest(s, http.MethodGet, "/topics/topic:src1:post:missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCatalog(t *testing.T) {
	store := newFakeStore()
	store.topics = []db.TopicArtifact{
		{ID: "topic:src1:post:b", SourceID: "src1", Title: "Beta", Kind: db.TopicCluster},
		{ID: "topic:src1:post:a", SourceID: "src1", Title: "Alpha", Kind: db.TopicSingleton},
	}
	s := testServer(store)

	rec := doRequest(s, http.MethodGet, "/sources/src1/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var catalog struct {
		Topics []struct {
			ID string `json:"id"`
		} `json:"topics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	require.Len(t, catalog.Topics, 2)
	assert.Equal(t, "topic:src1:post:a", catalog.Topics[0].ID)
	assert.Equal(t, "topic:src1:post:b", catalog.Topics[1].ID)
}

func TestHandleRecords(t *testing.T) {
	store := newFakeStore()
	store.processed = []db.ProcessedItem{
		{ID: "proc:src1:post:a", SourceRef: "src1:post:a", SourceID: "src1", PrimaryText: "body"},
	}
	s := testServer(store)

	rec := doRequest(s, http.MethodGet, "/sources/src1/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"proc:src1:post:a"`)
}
