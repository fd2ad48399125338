// Package api implements thin gorilla/mux handlers over the REST surface
// described in §6: search, facets, crawl enqueue/cancel, progress
// snapshots and streaming, index reset, and scheduler status. Grounded
// on the teacher's Server (mux.Router, JSON responses, a CORS/logging
// middleware pair) generalized from a read-only repository browser to
// the full read/write surface this system needs. No auth, session, or
// user/role logic is implemented here (spec.md §1 Non-goals) — handlers
// assume a trusted caller.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/codegrove/codesearch/internal/errs"
	"github.com/codegrove/codesearch/internal/index"
	"github.com/codegrove/codesearch/internal/logging"
	"github.com/codegrove/codesearch/internal/metrics"
	"github.com/codegrove/codesearch/internal/progresstracker"
	"github.com/codegrove/codesearch/internal/scheduler"
)

// Searcher is the subset of index.Service/CachedService the API needs.
type Searcher interface {
	Search(ctx context.Context, req index.SearchRequest) (index.SearchResult, error)
	Facets(ctx context.Context, queryText string, filters []index.Filter, fields []string) (map[string][]index.FacetCount, error)
	Reset(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (index.Stats, error)
}

// Config holds API server configuration.
type Config struct {
	Addr string
}

// Server is the HTTP front door: it owns no business logic of its own,
// only translates requests into calls against the index and scheduler.
type Server struct {
	cfg     Config
	router  *mux.Router
	http    *http.Server
	index   Searcher
	tracker *progresstracker.Tracker
	sched   *scheduler.Scheduler
	engine  *scheduler.Engine
}

// NewServer wires a Server against the already-constructed search index,
// progress tracker, and scheduler/engine pair.
func NewServer(cfg Config, idx Searcher, tracker *progresstracker.Tracker, sched *scheduler.Scheduler, engine *scheduler.Engine) *Server {
	s := &Server{cfg: cfg, router: mux.NewRouter(), index: idx, tracker: tracker, sched: sched, engine: engine}
	s.setupRoutes()
	s.http = &http.Server{Addr: cfg.Addr, Handler: s.router}
	return s
}

// Router exposes the underlying mux.Router for tests and for embedding
// in an http.Server.
func (s *Server) Router() *mux.Router { return s.router }

// ListenAndServe starts the HTTP server on cfg.Addr, returning
// http.ErrServerClosed once Shutdown has been called.
func (s *Server) ListenAndServe() error {
	logging.Get().Info().Str("addr", s.cfg.Addr).Msg("api server listening")
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight
// requests (including open /progress/stream connections) to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	s.router.HandleFunc("/facets", s.handleFacets).Methods(http.MethodGet)

	s.router.HandleFunc("/repositories/{id}/crawl", s.handleCrawlStart).Methods(http.MethodPost)
	s.router.HandleFunc("/repositories/{id}/crawl", s.handleCrawlCancel).Methods(http.MethodDelete)

	s.router.HandleFunc("/progress", s.handleProgressList).Methods(http.MethodGet)
	s.router.HandleFunc("/progress/stream", s.handleProgressStream).Methods(http.MethodGet)
	s.router.HandleFunc("/progress/{id}", s.handleProgressGet).Methods(http.MethodGet)

	s.router.HandleFunc("/admin/search/reset-index", s.handleResetIndex).Methods(http.MethodPost)
	s.router.HandleFunc("/scheduler/status", s.handleSchedulerStatus).Methods(http.MethodGet)

	s.router.Use(loggingMiddleware)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSearch implements `GET /search?q=&project=&version=&extension=&repository=&page=&size=&sort=`.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))

	req := index.SearchRequest{
		QueryText: q.Get("q"),
		Filters:   filtersFromQuery(q),
		Page:      page,
		Size:      size,
		Sort:      index.SortKey(q.Get("sort")),
	}

	result, err := s.index.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hits":  result.Hits,
		"total": result.Total,
		"page":  req.Page,
		"size":  req.Size,
	})
}

// handleFacets implements `GET /facets?q=&field=&project=&extension=&…`.
func (s *Server) handleFacets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fields := q["field"]
	if len(fields) == 0 {
		fields = []string{"project", "version", "extension", "repository"}
	}

	result, err := s.index.Facets(r.Context(), q.Get("q"), filtersFromQuery(q), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

var facetFieldMap = map[string]string{
	"project":    "project",
	"version":    "version",
	"extension":  "extension",
	"repository": "repository",
}

func filtersFromQuery(q map[string][]string) []index.Filter {
	var filters []index.Filter
	for _, param := range []string{"project", "version", "extension", "repository"} {
		field := facetFieldMap[param]
		values := q[param]
		if len(values) == 0 {
			continue
		}
		// Allow a single comma-separated param as a disjunction, per
		// §3's "project∈{a,b}" filter shape.
		var expanded []string
		for _, v := range values {
			expanded = append(expanded, strings.Split(v, ",")...)
		}
		filters = append(filters, index.Filter{Field: field, Values: expanded})
	}
	return filters
}

// handleCrawlStart implements `POST /repositories/{id}/crawl`.
func (s *Server) handleCrawlStart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if p, ok := s.tracker.Get(id); ok && !p.Phase.Terminal() {
		writeError(w, errs.NewConflict("crawl already active for repository "+id))
		return
	}
	s.engine.Submit(id)
	w.WriteHeader(http.StatusAccepted)
}

// handleCrawlCancel implements `DELETE /repositories/{id}/crawl`.
func (s *Server) handleCrawlCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.tracker.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProgressList implements `GET /progress`: a snapshot of every
// repository whose crawl has not yet finished.
func (s *Server) handleProgressList(w http.ResponseWriter, r *http.Request) {
	ids := s.tracker.Active()
	snapshots := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.tracker.Get(id); ok {
			snapshots = append(snapshots, p)
		}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// handleProgressGet implements `GET /progress/{id}`.
func (s *Server) handleProgressGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := s.tracker.Get(id)
	if !ok {
		writeError(w, errs.NewNotFound("no progress record for repository "+id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleProgressStream implements `GET /progress/stream?id=`: a
// server-sent-events feed of Progress snapshots for one repository.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errs.NewValidation("id query parameter is required"))
		return
	}

	updates, cancel, ok := s.tracker.Subscribe(id)
	if !ok {
		writeError(w, errs.NewNotFound("no active crawl for repository "+id))
		return
	}
	defer cancel()

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case p, open := <-updates:
			if !open {
				return
			}
			data, err := json.Marshal(p)
			if err != nil {
				continue
			}
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			if canFlush {
				flusher.Flush()
			}
			if p.Phase.Terminal() {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleResetIndex implements `POST /admin/search/reset-index`.
func (s *Server) handleResetIndex(w http.ResponseWriter, r *http.Request) {
	docsBefore, err := s.index.Reset(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"docs_before": docsBefore,
		"docs_after":  0,
	})
}

// handleSchedulerStatus implements `GET /scheduler/status`, returning
// the §4.7 status payload.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var structured *errs.Error
	status := http.StatusInternalServerError
	if errors.As(err, &structured) && structured.HTTPStatus != 0 {
		status = structured.HTTPStatus
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Get().Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
