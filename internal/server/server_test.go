package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"octopus/internal/config"
	"octopus/internal/core"
	"octopus/internal/persistence"
)

type fakeQueries struct {
	stories      []persistence.StoryView
	storyFilter  persistence.StoryFilter
	promptFilter persistence.PromptFilter
	digestStart  time.Time
	err          error
}

func (f *fakeQueries) ListStories(ctx context.Context, filter persistence.StoryFilter) ([]persistence.StoryView, error) {
	f.storyFilter = filter
	return f.stories, f.err
}

func (f *fakeQueries) GetStory(ctx context.Context, ref core.RelatedItem) (*persistence.StoryView, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.stories {
		if s.Type == ref.Kind() && s.ID == ref.RawID() {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("story: %w", core.ErrNotFound)
}

func (f *fakeQueries) ListDigests(ctx context.Context, start, end time.Time) ([]persistence.DigestView, error) {
	f.digestStart = start
	return nil, f.err
}

func (f *fakeQueries) GetDigest(ctx context.Context, id int64) (*persistence.DigestView, error) {
	if id != 1 {
		return nil, fmt.Errorf("digest %d: %w", id, core.ErrNotFound)
	}
	return &persistence.DigestView{Digest: core.Digest{ID: 1, Content: "digest"}}, nil
}

func (f *fakeQueries) ListPrompts(ctx context.Context, filter persistence.PromptFilter) ([]core.PromptRecord, error) {
	f.promptFilter = filter
	return []core.PromptRecord{{ID: 3, ResponseFormat: filter.Format}}, f.err
}

func (f *fakeQueries) GetPrompt(ctx context.Context, id int64) (*core.PromptRecord, error) {
	return nil, f.err
}

type fakeStore struct {
	queries *fakeQueries
	pingErr error
}

func (f *fakeStore) Queries() persistence.QueryRepository { return f.queries }
func (f *fakeStore) Ping(ctx context.Context) error       { return f.pingErr }

func newTestServer(q *fakeQueries, pingErr error) *Server {
	return New(&fakeStore{queries: q, pingErr: pingErr}, config.Server{Host: "localhost", Port: 0})
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(&fakeQueries{}, nil), "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	rec = get(t, newTestServer(&fakeQueries{}, errors.New("connection refused")), "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" || resp.Checks["database"] != "error" {
		t.Errorf("Unexpected health response %+v", resp)
	}
}

func TestListStoriesFilters(t *testing.T) {
	q := &fakeQueries{stories: []persistence.StoryView{{ID: 7, Type: core.KindHackerNews, Title: "Go 1.24"}}}
	s := newTestServer(q, nil)

	rec := get(t, s, "/api/stories?start=2025-01-01&end=2025-01-08T00:00:00Z&min_score=0.5&type=hn&order_by=score&limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	f := q.storyFilter
	if !f.Start.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) || !f.End.Equal(time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected window %v - %v", f.Start, f.End)
	}
	if f.MinScore != 0.5 || f.Kind != core.KindHackerNews || f.OrderBy != persistence.OrderByScore || f.Limit != 10 {
		t.Errorf("Unexpected filter %+v", f)
	}

	var resp StoryListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Total != 1 || resp.Stories[0].Title != "Go 1.24" {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestListStoriesDefaults(t *testing.T) {
	q := &fakeQueries{}
	rec := get(t, newTestServer(q, nil), "/api/stories")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if q.storyFilter.Limit != persistence.DefaultStoryLimit {
		t.Errorf("Expected default limit %d, got %d", persistence.DefaultStoryLimit, q.storyFilter.Limit)
	}
	if body := rec.Body.String(); body != "{\"stories\":[],\"total\":0}\n" {
		t.Errorf("Expected empty list, got %q", body)
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"bad date", "/api/stories?start=yesterday"},
		{"reversed window", "/api/stories?start=2025-01-08&end=2025-01-01"},
		{"bad score", "/api/stories?min_score=high"},
		{"unknown type", "/api/stories?type=rss"},
		{"unknown order", "/api/stories?order_by=votes"},
		{"story limit too large", "/api/stories?limit=51"},
		{"zero limit", "/api/stories?limit=0"},
		{"prompt limit too large", "/api/prompts?limit=101"},
		{"negative skip", "/api/prompts?skip=-1"},
		{"bad story id", "/api/stories/hn/abc"},
		{"bad story type", "/api/stories/rss/1"},
		{"bad digest id", "/api/digests/0"},
	}
	s := newTestServer(&fakeQueries{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.target)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp["error"] == "" {
				t.Error("Expected error message")
			}
		})
	}
}

func TestGetStory(t *testing.T) {
	q := &fakeQueries{stories: []persistence.StoryView{{ID: 7, Type: core.KindEmail, Title: "Newsletter pick"}}}
	s := newTestServer(q, nil)

	rec := get(t, s, "/api/stories/email/7")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var story persistence.StoryView
	if err := json.NewDecoder(rec.Body).Decode(&story); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if story.Title != "Newsletter pick" {
		t.Errorf("Expected Newsletter pick, got %q", story.Title)
	}

	if rec := get(t, s, "/api/stories/email/8"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestDigestEndpoints(t *testing.T) {
	q := &fakeQueries{}
	s := newTestServer(q, nil)

	if rec := get(t, s, "/api/digests/1"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if rec := get(t, s, "/api/digests/2"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec := get(t, s, "/api/digests?start=2025-01-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !q.digestStart.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected start %v", q.digestStart)
	}
}

func TestPromptEndpoints(t *testing.T) {
	q := &fakeQueries{}
	s := newTestServer(q, nil)

	rec := get(t, s, "/api/prompts?skip=20&limit=5&format=yaml")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if q.promptFilter != (persistence.PromptFilter{Skip: 20, Limit: 5, Format: "yaml"}) {
		t.Errorf("Unexpected filter %+v", q.promptFilter)
	}
}

func TestPersistenceErrorsAreGeneric(t *testing.T) {
	q := &fakeQueries{err: errors.New("pq: relation \"processed_stories\" does not exist")}
	s := newTestServer(q, nil)

	for _, target := range []string{"/api/stories", "/api/stories/hn/1", "/api/prompts", "/api/prompts/4"} {
		rec := get(t, s, target)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: Expected 500, got %d", target, rec.Code)
		}
		var resp map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp["error"] == "" || resp["error"] == q.err.Error() {
			t.Errorf("%s: Expected generic error, got %q", target, resp["error"])
		}
	}
}
