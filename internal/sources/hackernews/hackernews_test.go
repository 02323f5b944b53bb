package hackernews

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"octopus/internal/core"
)

// fakeAPI serves items from a map over the real JSON endpoints
func fakeAPI(t *testing.T, newStories []int64, items map[int64]interface{}) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path == "/v0/newstories.json" {
			_ = json.NewEncoder(w).Encode(newStories)
			return
		}
		id, ok := parseItemPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		item, ok := items[id]
		if !ok {
			_, _ = w.Write([]byte("null"))
			return
		}
		if status, ok := item.(int); ok {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(item)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func parseItemPath(path string) (int64, bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, "/v0/item/"), ".json")
	id, err := strconv.ParseInt(trimmed, 10, 64)
	return id, err == nil
}

func intPtr(v int) *int { return &v }

type memoryStore struct {
	stories  map[int64]*core.HNStory
	votes    []core.HNVote
	latest   map[int64]int
	comments map[int64]*core.HNComment
	refresh  []int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		stories:  make(map[int64]*core.HNStory),
		latest:   make(map[int64]int),
		comments: make(map[int64]*core.HNComment),
	}
}

func (m *memoryStore) KnownStoryIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	known := make(map[int64]bool)
	for _, id := range ids {
		if _, ok := m.stories[id]; ok {
			known[id] = true
		}
	}
	return known, nil
}

func (m *memoryStore) CreateStory(ctx context.Context, story *core.HNStory) error {
	cp := *story
	m.stories[story.ID] = &cp
	return nil
}

func (m *memoryStore) ListStoryIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id := range m.stories {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memoryStore) LatestVotes(ctx context.Context) (map[int64]int, error) {
	out := make(map[int64]int, len(m.latest))
	for k, v := range m.latest {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) AddVote(ctx context.Context, vote core.HNVote) error {
	m.votes = append(m.votes, vote)
	m.latest[vote.StoryID] = vote.VoteCount
	return nil
}

func (m *memoryStore) ListCommentRefreshCandidates(ctx context.Context, postedAfter, staleBefore time.Time) ([]int64, error) {
	return m.refresh, nil
}

func (m *memoryStore) GetComment(ctx context.Context, id int64) (*core.HNComment, error) {
	c, ok := m.comments[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memoryStore) UpsertComment(ctx context.Context, c *core.HNComment) error {
	cp := *c
	m.comments[c.ID] = &cp
	return nil
}

func (m *memoryStore) ListMissingContent(ctx context.Context) ([]core.HNStory, error) {
	var out []core.HNStory
	for _, s := range m.stories {
		if s.URL != "" && s.TargetContent == "" {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateTargetContent(ctx context.Context, id int64, content string) error {
	m.stories[id].TargetContent = content
	return nil
}

type trimSlashNormalizer struct{}

func (trimSlashNormalizer) Normalize(ctx context.Context, raw string) string {
	return strings.TrimSuffix(raw, "/")
}

func TestClientItemNull(t *testing.T) {
	srv := fakeAPI(t, nil, map[int64]interface{}{})
	client := NewClient(srv.URL, time.Second)

	_, err := client.Item(context.Background(), 42)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for null item, got %v", err)
	}
}

func TestClientStatusError(t *testing.T) {
	srv := fakeAPI(t, nil, map[int64]interface{}{7: http.StatusInternalServerError})
	client := NewClient(srv.URL, time.Second)

	if _, err := client.Item(context.Background(), 7); err == nil {
		t.Error("Expected error for 500 response")
	}
}

func TestFetchNewStories(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("a", 2000)
	srv := fakeAPI(t, []int64{1, 2, 3, 4, 5}, map[int64]interface{}{
		1: Item{ID: 1, Type: "story", Title: "Known", Time: 1700000000},
		2: Item{ID: 2, Type: "story", Title: "Fresh", URL: "https://example.com/post/", By: "pg", Time: 1700000000},
		3: Item{ID: 3, Type: "story", Title: "Dead", Dead: true, Time: 1700000000},
		4: Item{ID: 4, Type: "story", Title: "Long", URL: long, Time: 1700000000},
		5: http.StatusBadGateway,
	})
	store := newMemoryStore()
	store.stories[1] = &core.HNStory{ID: 1, Title: "Known"}

	s := NewSyncer(NewClient(srv.URL, time.Second), store, trimSlashNormalizer{}, nil, Config{})
	stats, err := s.FetchNewStories(context.Background())
	if err != nil {
		t.Fatalf("FetchNewStories failed: %v", err)
	}

	if stats.Added != 2 || stats.Skipped != 2 || stats.Failed != 1 {
		t.Errorf("Expected added=2 skipped=2 failed=1, got %s", stats)
	}
	fresh := store.stories[2]
	if fresh == nil || fresh.URL != "https://example.com/post" || fresh.User != "pg" {
		t.Fatalf("Unexpected stored story: %+v", fresh)
	}
	if !fresh.PostedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Unexpected posted_at %v", fresh.PostedAt)
	}
	if got := len(store.stories[4].URL); got != MaxURLLength {
		t.Errorf("Expected url truncated to %d, got %d", MaxURLLength, got)
	}
	if _, ok := store.stories[3]; ok {
		t.Error("Expected dead story to be skipped")
	}
}

func TestUpdateVotesOnlyRecordsChanges(t *testing.T) {
	srv := fakeAPI(t, nil, map[int64]interface{}{
		1: Item{ID: 1, Score: intPtr(10)},
		2: Item{ID: 2, Score: intPtr(25)},
		3: Item{ID: 3, Score: intPtr(3)},
		4: http.StatusInternalServerError,
	})
	store := newMemoryStore()
	for _, id := range []int64{1, 2, 3, 4} {
		store.stories[id] = &core.HNStory{ID: id}
	}
	store.latest[1] = 10
	store.latest[2] = 20

	s := NewSyncer(NewClient(srv.URL, time.Second), store, nil, nil, Config{VoteConcurrency: 2})
	stats, err := s.UpdateVotes(context.Background())
	if err != nil {
		t.Fatalf("UpdateVotes failed: %v", err)
	}

	if stats.Added != 2 || stats.Skipped != 1 || stats.Failed != 1 {
		t.Errorf("Expected added=2 skipped=1 failed=1, got %s", stats)
	}
	if store.latest[2] != 25 || store.latest[3] != 3 {
		t.Errorf("Unexpected latest votes %v", store.latest)
	}
	for _, v := range store.votes {
		if v.StoryID == 1 {
			t.Error("Expected unchanged score not to be recorded")
		}
	}
}

func TestRefreshCommentsWalksTree(t *testing.T) {
	srv := fakeAPI(t, nil, map[int64]interface{}{
		100: Item{ID: 100, Kids: []int64{101, 102, 105}},
		101: Item{ID: 101, Text: "top", By: "a", Time: 1700000100, Kids: []int64{103}},
		102: Item{ID: 102, Deleted: true},
		103: Item{ID: 103, Text: "reply", By: "b", Time: 1700000200},
		105: Item{ID: 105, Text: "back again", By: "c", Time: 1700000300},
	})
	store := newMemoryStore()
	store.refresh = []int64{100}
	store.comments[105] = &core.HNComment{ID: 105, StoryID: 100, Deleted: true}

	s := NewSyncer(NewClient(srv.URL, time.Second), store, nil, nil, Config{})
	stats, err := s.RefreshComments(context.Background())
	if err != nil {
		t.Fatalf("RefreshComments failed: %v", err)
	}

	if stats.Added != 2 || stats.Updated != 1 || stats.Skipped != 1 {
		t.Errorf("Expected added=2 updated=1 skipped=1, got %s", stats)
	}
	reply := store.comments[103]
	if reply == nil || reply.ParentID != 101 || reply.StoryID != 100 {
		t.Fatalf("Expected nested reply under 101, got %+v", reply)
	}
	if top := store.comments[101]; top.ParentID != 0 || top.Content != "top" {
		t.Errorf("Unexpected top-level comment %+v", top)
	}
	if _, ok := store.comments[102]; ok {
		t.Error("Expected deleted comment to be skipped")
	}
	if revived := store.comments[105]; revived.Deleted || revived.Content != "back again" {
		t.Errorf("Expected comment to be revived, got %+v", revived)
	}
}

type fakeContent struct {
	pages map[string]string
}

func (f *fakeContent) GetOrExtract(ctx context.Context, url string) (string, bool, error) {
	text, ok := f.pages[url]
	return text, ok, nil
}

func TestBackfillContent(t *testing.T) {
	store := newMemoryStore()
	store.stories[1] = &core.HNStory{ID: 1, URL: "https://a.example"}
	store.stories[2] = &core.HNStory{ID: 2, URL: "https://b.example"}
	store.stories[3] = &core.HNStory{ID: 3}

	content := &fakeContent{pages: map[string]string{"https://a.example": "article"}}
	s := NewSyncer(nil, store, nil, content, Config{})
	stats, err := s.BackfillContent(context.Background())
	if err != nil {
		t.Fatalf("BackfillContent failed: %v", err)
	}
	if stats.Updated != 1 || stats.Skipped != 1 {
		t.Errorf("Expected updated=1 skipped=1, got %s", stats)
	}
	if store.stories[1].TargetContent != "article" {
		t.Errorf("Expected content stored, got %q", store.stories[1].TargetContent)
	}
}
