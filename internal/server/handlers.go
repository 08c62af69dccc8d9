package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/keys"
)

// parseQueryInt parses an integer query parameter with default and max values
func parseQueryInt(r *http.Request, key string, defaultValue, maxValue int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		return defaultValue
	}
	if maxValue > 0 && val > maxValue {
		return maxValue
	}
	return val
}

// handleListSources lists all collection sources
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"sources": sources,
		"total":   len(sources),
	})
}

// createSourceRequest is the POST /sources body.
type createSourceRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FeedURL     string `json:"feed_url"`
	PollSeconds int    `json:"poll_seconds"`
	BatchSize   int    `json:"batch_size"`
}

// handleCreateSource registers a new collection source
func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ID == "" || req.FeedURL == "" {
		s.errorResponse(w, http.StatusBadRequest, "Source id and feed_url are required")
		return
	}
	if strings.Contains(req.ID, keys.Separator) {
		s.errorResponse(w, http.StatusBadRequest, "Source id must not contain '"+keys.Separator+"'")
		return
	}

	src := &db.Source{
		ID:          req.ID,
		Name:        req.Name,
		FeedURL:     req.FeedURL,
		PollSeconds: req.PollSeconds,
		BatchSize:   req.BatchSize,
	}
	if err := s.store.CreateSource(r.Context(), src); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusCreated, src)
}

// handleGetSource retrieves a source by ID
func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetSource(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if src == nil {
		s.errorResponse(w, http.StatusNotFound, "Source not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, src)
}

// handlePauseSource pauses collection for a source
func (s *Server) handlePauseSource(w http.ResponseWriter, r *http.Request) {
	s.setSourceStatus(w, r, db.SourcePaused)
}

// handleResumeSource reactivates a paused or errored source
func (s *Server) handleResumeSource(w http.ResponseWriter, r *http.Request) {
	s.setSourceStatus(w, r, db.SourceActive)
}

func (s *Server) setSourceStatus(w http.ResponseWriter, r *http.Request, status string) {
	id := r.PathValue("id")
	src, err := s.store.GetSource(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if src == nil {
		s.errorResponse(w, http.StatusNotFound, "Source not found")
		return
	}

	if err := s.store.UpdateSourceStatus(r.Context(), id, status, nil); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"id": id, "status": status})
}

// handleResetSource clears a source's error state and failure counter so
// collection can resume. Cursors are preserved; the next run continues from
// where the last successful batch committed.
func (s *Server) handleResetSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	src, err := s.store.GetSource(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if src == nil {
		s.errorResponse(w, http.StatusNotFound, "Source not found")
		return
	}

	if err := s.store.ResetSource(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"id": id, "status": db.SourceActive})
}

// handleListFailures lists the failure ledger entries for a source
func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("id")
	failures, err := s.store.ListFailuresBySource(r.Context(), sourceID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"failures": failures,
		"total":    len(failures),
	})
}

// handleListRuns lists pipeline run ledger entries, optionally filtered by
// source
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	limit := parseQueryInt(r, "limit", 50, 200)

	runs, err := s.store.ListRuns(r.Context(), sourceID, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": len(runs),
	})
}

// handleListConflicts lists content conflicts recorded for one item ref.
// The ref contains the key separator, so it is passed as a query parameter.
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		s.errorResponse(w, http.StatusBadRequest, "Item ref is required")
		return
	}

	conflicts, err := s.store.ListConflicts(r.Context(), ref)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"conflicts": conflicts,
		"total":     len(conflicts),
	})
}

// handleCatalog serves the deterministic topic catalog for a source
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.exporter.Catalog(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Export error: "+err.Error())
		return
	}
	s.exportResponse(w, catalog)
}

// handleResolution serves the source-wide ref resolution table
func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request) {
	res, err := s.exporter.Resolution(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Export error: "+err.Error())
		return
	}
	s.exportResponse(w, res)
}

// handleRecords serves the flat record stream for a source
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.exporter.Records(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Export error: "+err.Error())
		return
	}
	s.exportResponse(w, records)
}

// handleTopic serves the export bundle for one topic
func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.exporter.Topic(r.Context(), r.PathValue("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			s.errorResponse(w, http.StatusNotFound, "Topic not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Export error: "+err.Error())
		return
	}
	s.exportResponse(w, bundle)
}
