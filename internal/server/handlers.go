package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"octopus/internal/core"
	"octopus/internal/persistence"
)

// HealthResponse is returned by /health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// StoryListResponse is returned by GET /api/stories
type StoryListResponse struct {
	Stories []persistence.StoryView `json:"stories"`
	Total   int                     `json:"total"`
}

// DigestListResponse is returned by GET /api/digests
type DigestListResponse struct {
	Digests []persistence.DigestView `json:"digests"`
	Total   int                      `json:"total"`
}

// PromptListResponse is returned by GET /api/prompts
type PromptListResponse struct {
	Prompts []core.PromptRecord `json:"prompts"`
	Total   int                 `json:"total"`
}

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("Database health check failed", "error", err)
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}

	checks["database"] = "ok"
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

// handleListStories handles GET /api/stories
func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter persistence.StoryFilter
	var err error

	if filter.Start, filter.End, err = queryWindow(r); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := q.Get("min_score"); v != "" {
		if filter.MinScore, err = strconv.ParseFloat(v, 64); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid min_score")
			return
		}
	}
	if v := q.Get("type"); v != "" {
		if filter.Kind, err = core.ParseKind(v); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	switch v := q.Get("order_by"); v {
	case "", persistence.OrderByDate, persistence.OrderByScore:
		filter.OrderBy = v
	default:
		s.respondError(w, http.StatusBadRequest, "order_by must be date or score")
		return
	}
	if filter.Limit, err = queryInt(r, "limit", persistence.DefaultStoryLimit, 1, persistence.MaxStoryLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stories, err := s.queries.ListStories(r.Context(), filter)
	if err != nil {
		s.log.Error("Failed to list stories", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to load stories")
		return
	}
	if stories == nil {
		stories = []persistence.StoryView{}
	}
	s.respondJSON(w, http.StatusOK, StoryListResponse{Stories: stories, Total: len(stories)})
}

// handleGetStory handles GET /api/stories/{type}/{id}
func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseKind(chi.URLParam(r, "type"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ref, err := core.NewRelatedItem(kind, id)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	story, err := s.queries.GetStory(r.Context(), ref)
	if err != nil {
		s.lookupFailed(w, err, "story")
		return
	}
	s.respondJSON(w, http.StatusOK, story)
}

// handleListDigests handles GET /api/digests
func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	start, end, err := queryWindow(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	digests, err := s.queries.ListDigests(r.Context(), start, end)
	if err != nil {
		s.log.Error("Failed to list digests", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to load digests")
		return
	}
	if digests == nil {
		digests = []persistence.DigestView{}
	}
	s.respondJSON(w, http.StatusOK, DigestListResponse{Digests: digests, Total: len(digests)})
}

// handleGetDigest handles GET /api/digests/{id}
func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	d, err := s.queries.GetDigest(r.Context(), id)
	if err != nil {
		s.lookupFailed(w, err, "digest")
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// handleListPrompts handles GET /api/prompts
func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	filter := persistence.PromptFilter{Format: r.URL.Query().Get("format")}
	var err error
	if filter.Skip, err = queryInt(r, "skip", 0, 0, -1); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit, err = queryInt(r, "limit", persistence.DefaultPromptLimit, 1, persistence.MaxPromptLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	prompts, err := s.queries.ListPrompts(r.Context(), filter)
	if err != nil {
		s.log.Error("Failed to list prompts", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to load prompts")
		return
	}
	if prompts == nil {
		prompts = []core.PromptRecord{}
	}
	s.respondJSON(w, http.StatusOK, PromptListResponse{Prompts: prompts, Total: len(prompts)})
}

// handleGetPrompt handles GET /api/prompts/{id}
func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	p, err := s.queries.GetPrompt(r.Context(), id)
	if err != nil {
		s.lookupFailed(w, err, "prompt")
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

// lookupFailed maps a single-row lookup error to 404 or a generic 500
func (s *Server) lookupFailed(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, core.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("%s not found", what))
		return
	}
	s.log.Error("Failed to load "+what, "error", err)
	s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load %s", what))
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(v string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (expected RFC3339 or YYYY-MM-DD)", v)
}

// queryWindow reads the optional start and end parameters
func queryWindow(r *http.Request) (start, end time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		if start, err = parseDate(v); err != nil {
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if end, err = parseDate(v); err != nil {
			return
		}
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		err = fmt.Errorf("start must be before end")
	}
	return
}

// queryInt reads an integer parameter within [lo, hi]; hi < 0 means unbounded
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || (hi >= 0 && n > hi) {
		if hi >= 0 {
			return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
		}
		return 0, fmt.Errorf("%s must be at least %d", name, lo)
	}
	return n, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
