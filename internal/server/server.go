// Package server provides the HTTP REST API over collected, enriched, and
// topicized data. All endpoints are read-only except source administration;
// pipeline stages run through the CLI, not the API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/export"
	"github.com/jonathan/feedforge/internal/server/ratelimit"
)

// Store is the persistence surface the API reads from and administers.
type Store interface {
	export.Store

	CreateSource(ctx context.Context, s *db.Source) error
	GetSource(ctx context.Context, id string) (*db.Source, error)
	ListSources(ctx context.Context) ([]db.Source, error)
	UpdateSourceStatus(ctx context.Context, id, status string, lastError *string) error
	ResetSource(ctx context.Context, id string) error

	ListFailuresBySource(ctx context.Context, sourceID string) ([]db.FailureRecord, error)
	ListConflicts(ctx context.Context, sourceRef string) ([]db.RawItemConflict, error)
	ListRuns(ctx context.Context, sourceID string, limit int) ([]db.Run, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	store       Store
	exporter    *export.Exporter
	rateLimiter *ratelimit.Limiter
	log         *slog.Logger
	closeDB     func()
}

// Config holds server configuration
type Config struct {
	Port        int
	DatabaseURL string
}

// New creates a new server instance backed by Postgres.
func New(cfg Config) (*Server, error) {
	database, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := newServer(database, cfg.Port, slog.Default())
	s.closeDB = database.Close
	return s, nil
}

// newServer wires the routes and middleware around a store.
func newServer(store Store, port int, log *slog.Logger) *Server {
	s := &Server{
		store:       store,
		exporter:    export.New(store),
		rateLimiter: ratelimit.NewLimiter(ratelimit.LoadConfig()),
		log:         log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// Source administration
	mux.HandleFunc("GET /sources", s.handleListSources)
	mux.HandleFunc("POST /sources", s.handleCreateSource)
	mux.HandleFunc("GET /sources/{id}", s.handleGetSource)
	mux.HandleFunc("POST /sources/{id}/pause", s.handlePauseSource)
	mux.HandleFunc("POST /sources/{id}/resume", s.handleResumeSource)
	mux.HandleFunc("POST /sources/{id}/reset", s.handleResetSource)

	// Pipeline state
	mux.HandleFunc("GET /sources/{id}/failures", s.handleListFailures)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /conflicts", s.handleListConflicts)

	// Deterministic exports
	mux.HandleFunc("GET /sources/{id}/catalog", s.handleCatalog)
	mux.HandleFunc("GET /sources/{id}/resolution", s.handleResolution)
	mux.HandleFunc("GET /sources/{id}/records", s.handleRecords)
	mux.HandleFunc("GET /topics/{id}", s.handleTopic)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.withRateLimit(s.withLogging(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for requests and blocks until shutdown.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		s.log.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	s.log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.rateLimiter.Stop()
	if s.closeDB != nil {
		s.closeDB()
	}
	s.log.Info("server stopped")
	return nil
}

// withRateLimit adds per-client rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.Allow(s.extractClientID(r)) {
			s.errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// extractClientID extracts the client identifier from the request.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

// exportResponse writes a pre-marshaled export document.
func (s *Server) exportResponse(w http.ResponseWriter, doc any) {
	data, err := export.Marshal(doc)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
