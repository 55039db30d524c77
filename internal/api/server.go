// Package api exposes a read-only HTTP view of the synchronized gallery. It
// serves from the synchronizer's in-memory snapshot, never hitting the record
// store on the request path.
package api

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mornew/gallery/internal/gallery"
	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
)

const (
	defaultPageSize = 24
	maxPageSize     = 100
	maxRandomCount  = 50
)

// Server is the read-only gallery API.
type Server struct {
	sync *gallery.Synchronizer
}

// NewServer creates a Server over the given synchronizer.
func NewServer(sync *gallery.Synchronizer) *Server {
	return &Server{sync: sync}
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware())

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/images", s.handleList)
		r.Get("/images/random", s.handleRandom)
		r.Get("/images/{id}", s.handleByID)
		r.Get("/images/uploader/{name}", s.handleByUploader)
		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"loading": s.sync.Loading(),
		"items":   s.sync.Len(),
	})
}

// handleList serves a page of items, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items := s.sync.Snapshot()

	page := intQuery(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := intQuery(r, "limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	start := (page - 1) * limit
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items[start:end],
		"page":  page,
		"limit": limit,
		"total": len(items),
	})
}

func (s *Server) handleByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, it := range s.sync.Snapshot() {
		if it.ID == id {
			writeJSON(w, http.StatusOK, it)
			return
		}
	}
	writeError(w, http.StatusNotFound, models.ErrItemNotFound.Error())
}

func (s *Server) handleByUploader(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	matched := []models.GalleryItem{}
	for _, it := range s.sync.Snapshot() {
		if it.UploaderName == name {
			matched = append(matched, it)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": matched,
		"total": len(matched),
	})
}

// handleRandom serves a random sample without replacement.
func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	items := s.sync.Snapshot()

	count := intQuery(r, "count", 1)
	if count < 1 {
		count = 1
	}
	if count > maxRandomCount {
		count = maxRandomCount
	}
	if count > len(items) {
		count = len(items)
	}

	rand.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items[:count],
	})
}

// handleStats summarizes the pool: totals, byte size and per-uploader counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	items := s.sync.Snapshot()

	var totalBytes int64
	perUploader := make(map[string]int)
	var newest time.Time
	for _, it := range items {
		totalBytes += it.FileSize
		perUploader[it.UploaderName]++
		if it.CreatedAt.After(newest) {
			newest = it.CreatedAt
		}
	}

	stats := map[string]interface{}{
		"totalItems":  len(items),
		"totalBytes":  totalBytes,
		"uploaders":   len(perUploader),
		"perUploader": perUploader,
	}
	if !newest.IsZero() {
		stats["newestItemAt"] = newest
	}

	writeJSON(w, http.StatusOK, stats)
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
