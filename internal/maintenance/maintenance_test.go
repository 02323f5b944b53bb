package maintenance

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"octopus/internal/core"
	"octopus/internal/llm"
	"octopus/internal/persistence"
)

type fakeItems struct {
	duplicates []int64
	empty      []int64
	zero       int64
	zeroCalls  int
}

func (f *fakeItems) ListDuplicateIDs(ctx context.Context) ([]int64, error) { return f.duplicates, nil }
func (f *fakeItems) ListEmptyEmailItemIDs(ctx context.Context) ([]int64, error) {
	return f.empty, nil
}
func (f *fakeItems) CountZeroScoreRelations(ctx context.Context) (int64, error) { return f.zero, nil }
func (f *fakeItems) DeleteZeroScoreRelations(ctx context.Context) (int64, error) {
	f.zeroCalls++
	n := f.zero
	f.zero = 0
	return n, nil
}

type fakeEmails struct {
	expired   []int64
	gotCutoff time.Time
}

func (f *fakeEmails) ListExpiredEmails(ctx context.Context, cutoff time.Time) ([]int64, error) {
	f.gotCutoff = cutoff
	return f.expired, nil
}

type fakeCascade struct {
	deletedItems  []int64
	deletedEmails []int64
	missing       map[int64]bool
}

func (f *fakeCascade) DeleteProcessedItems(ctx context.Context, ids []int64) (int64, error) {
	f.deletedItems = append(f.deletedItems, ids...)
	return int64(len(ids)), nil
}

func (f *fakeCascade) DeleteDigestEmail(ctx context.Context, id int64) error {
	if f.missing[id] {
		return core.ErrNotFound
	}
	f.deletedEmails = append(f.deletedEmails, id)
	return nil
}

func TestCleanerDeletesItems(t *testing.T) {
	items := &fakeItems{duplicates: []int64{3, 4}, empty: nil}
	cascade := &fakeCascade{}
	c := NewCleaner(items, &fakeEmails{}, cascade, 0)

	n, err := c.DeleteDuplicates(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 deleted, got %d %v", n, err)
	}
	n, err = c.DeleteEmptyContent(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Expected nothing deleted, got %d %v", n, err)
	}
	if !reflect.DeepEqual(cascade.deletedItems, []int64{3, 4}) {
		t.Errorf("Expected [3 4] deleted, got %v", cascade.deletedItems)
	}
}

func TestDeleteZeroScoresDryRun(t *testing.T) {
	items := &fakeItems{zero: 7}
	c := NewCleaner(items, &fakeEmails{}, &fakeCascade{}, 0)

	n, err := c.DeleteZeroScores(context.Background(), true)
	if err != nil || n != 7 {
		t.Fatalf("Expected 7 counted, got %d %v", n, err)
	}
	if items.zeroCalls != 0 {
		t.Error("Expected dry run not to delete")
	}

	n, err = c.DeleteZeroScores(context.Background(), false)
	if err != nil || n != 7 || items.zeroCalls != 1 {
		t.Errorf("Expected 7 deleted once, got %d calls=%d %v", n, items.zeroCalls, err)
	}
}

func TestDeleteOldEmails(t *testing.T) {
	now := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
	emails := &fakeEmails{expired: []int64{1, 2, 3}}
	cascade := &fakeCascade{missing: map[int64]bool{2: true}}
	c := NewCleaner(&fakeItems{}, emails, cascade, 0)
	c.now = func() time.Time { return now }

	n, err := c.DeleteOldEmails(context.Background())
	if err != nil {
		t.Fatalf("DeleteOldEmails failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deleted, got %d", n)
	}
	if want := now.Add(-DefaultEmailRetention); !emails.gotCutoff.Equal(want) {
		t.Errorf("Expected cutoff %v, got %v", want, emails.gotCutoff)
	}
	if !reflect.DeepEqual(cascade.deletedEmails, []int64{1, 3}) {
		t.Errorf("Expected [1 3] deleted, got %v", cascade.deletedEmails)
	}
}

type memoryURLs struct {
	hn      []core.HNStory
	stories []core.EmailStory
	links   []core.DigestLink
}

func (m *memoryURLs) ListURLs(ctx context.Context) ([]core.HNStory, error) { return m.hn, nil }

func (m *memoryURLs) UpdateURL(ctx context.Context, id int64, url string) error {
	for i := range m.hn {
		if m.hn[i].ID == id {
			m.hn[i].URL = url
		}
	}
	return nil
}

func (m *memoryURLs) URLTaken(ctx context.Context, url string, exceptID int64) (bool, error) {
	for _, s := range m.hn {
		if s.URL == url && s.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryURLs) ListStoryURLs(ctx context.Context) ([]core.EmailStory, error) {
	return m.stories, nil
}

func (m *memoryURLs) UpdateStoryURL(ctx context.Context, id int64, url string) error {
	for i := range m.stories {
		if m.stories[i].ID == id {
			m.stories[i].URL = url
		}
	}
	return nil
}

func (m *memoryURLs) StoryURLTaken(ctx context.Context, url string, exceptID int64) (bool, error) {
	for _, s := range m.stories {
		if s.URL == url && s.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryURLs) ListLinks(ctx context.Context) ([]core.DigestLink, error) { return m.links, nil }

func (m *memoryURLs) UpdateLinkURL(ctx context.Context, id int64, url string) error {
	for i := range m.links {
		if m.links[i].ID == id {
			m.links[i].URL = url
		}
	}
	return nil
}

func (m *memoryURLs) LinkURLTaken(ctx context.Context, emailID int64, url string, exceptID int64) (bool, error) {
	for _, l := range m.links {
		if l.EmailID == emailID && l.URL == url && l.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

type lowerNormalizer struct{}

func (lowerNormalizer) Normalize(ctx context.Context, raw string) string {
	return strings.ToLower(raw)
}

func TestURLRenormalizer(t *testing.T) {
	store := &memoryURLs{
		hn: []core.HNStory{
			{ID: 1, URL: "https://A.example"},
			{ID: 2, URL: "https://b.example"},
			{ID: 3, URL: "https://B.example"},
		},
		stories: []core.EmailStory{
			{ID: 10, URL: "https://C.example"},
		},
		links: []core.DigestLink{
			{ID: 20, EmailID: 1, URL: "https://D.example"},
			{ID: 21, EmailID: 1, URL: "https://d.example"},
			{ID: 22, EmailID: 2, URL: "https://D.example"},
		},
	}

	r := NewURLRenormalizer(store, store, lowerNormalizer{})
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.HNStories != 1 || stats.EmailStories != 1 || stats.DigestLinks != 1 || stats.Conflicts != 2 {
		t.Errorf("Unexpected stats %s", stats)
	}
	if store.hn[0].URL != "https://a.example" {
		t.Errorf("Expected story 1 normalized, got %q", store.hn[0].URL)
	}
	if store.hn[2].URL != "https://B.example" {
		t.Errorf("Expected conflicting story 3 untouched, got %q", store.hn[2].URL)
	}
	if store.links[0].URL != "https://D.example" || store.links[2].URL != "https://d.example" {
		t.Errorf("Expected only the link of the other email rewritten, got %+v", store.links)
	}
}

func TestParseTagMapping(t *testing.T) {
	var doc any
	src := `
tag_mapping:
  "AI": ["artificial intelligence"]
  "ml ops": ["machine learning", "devops", "Machine Learning"]
  "security": []
  "rust": ~
`
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	got, err := ParseTagMapping(doc)
	if err != nil {
		t.Fatalf("ParseTagMapping failed: %v", err)
	}
	want := map[string][]string{
		"ai":       {"artificial intelligence"},
		"ml ops":   {"machine learning", "devops"},
		"security": {"security"},
		"rust":     {"rust"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	invalid := []any{
		"just text",
		map[string]any{"mapping": map[string]any{}},
		map[string]any{"tag_mapping": []any{"a"}},
		map[string]any{"tag_mapping": map[string]any{"a": "b"}},
	}
	for _, doc := range invalid {
		if _, err := ParseTagMapping(doc); !errors.Is(err, ErrInvalidMapping) {
			t.Errorf("Expected ErrInvalidMapping for %v, got %v", doc, err)
		}
	}
}

type fakeAnalyzer struct {
	data   any
	prompt string
}

func (f *fakeAnalyzer) Process(ctx context.Context, prompt string, opts llm.Options) (*llm.Response, error) {
	f.prompt = prompt
	if opts.Format != llm.FormatYAML {
		return nil, errors.New("expected yaml format")
	}
	return &llm.Response{Data: f.data}, nil
}

type memoryTags struct {
	tags   []core.Tag
	rels   map[int64][]persistence.TagRelation
	nextID int64
}

func (m *memoryTags) ListTags(ctx context.Context) ([]core.Tag, error) { return m.tags, nil }

func (m *memoryTags) GetOrCreateTag(ctx context.Context, name string) (int64, error) {
	for _, t := range m.tags {
		if t.Name == name {
			return t.ID, nil
		}
	}
	m.nextID++
	m.tags = append(m.tags, core.Tag{ID: m.nextID, Name: name})
	return m.nextID, nil
}

func (m *memoryTags) ListTagRelations(ctx context.Context, tagID int64) ([]persistence.TagRelation, error) {
	return append([]persistence.TagRelation(nil), m.rels[tagID]...), nil
}

func (m *memoryTags) AddTagRelation(ctx context.Context, rel persistence.TagRelation) (bool, error) {
	for _, r := range m.rels[rel.TagID] {
		if r.ItemID == rel.ItemID {
			return false, nil
		}
	}
	m.rels[rel.TagID] = append(m.rels[rel.TagID], rel)
	return true, nil
}

func (m *memoryTags) DeleteTagRelations(ctx context.Context, tagID int64) (int64, error) {
	n := int64(len(m.rels[tagID]))
	delete(m.rels, tagID)
	return n, nil
}

func itemsOf(rels []persistence.TagRelation) []int64 {
	var ids []int64
	for _, r := range rels {
		ids = append(ids, r.ItemID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func newTagFixture() *memoryTags {
	return &memoryTags{
		tags: []core.Tag{{ID: 1, Name: "ai"}, {ID: 2, Name: "artificial intelligence"}, {ID: 3, Name: "ml ops"}},
		rels: map[int64][]persistence.TagRelation{
			1: {{ItemID: 100, TagID: 1, Score: 0.9}, {ItemID: 101, TagID: 1, Score: 0}, {ItemID: 102, TagID: 1, Score: 0.4}},
			2: {{ItemID: 102, TagID: 2, Score: 0.8}},
			3: {{ItemID: 200, TagID: 3, Score: 0.7}},
		},
		nextID: 3,
	}
}

var revisionMapping = map[string]any{
	"tag_mapping": map[string]any{
		"ai":                      []any{"artificial intelligence"},
		"artificial intelligence": []any{},
		"ml ops":                  []any{"machine learning", "ml ops"},
	},
}

func TestTagReviserRenameAndSplit(t *testing.T) {
	store := newTagFixture()
	analyzer := &fakeAnalyzer{data: revisionMapping}

	stats, err := NewTagReviser(analyzer, store).Revise(context.Background(), false)
	if err != nil {
		t.Fatalf("Revise failed: %v", err)
	}

	if !strings.Contains(analyzer.prompt, "- artificial intelligence") {
		t.Errorf("Expected tag list in prompt, got %q", analyzer.prompt)
	}
	if stats.Mapped != 2 || stats.CreatedTags != 1 || stats.Added != 2 || stats.Removed != 3 {
		t.Errorf("Unexpected stats %s", stats)
	}

	// Rename: item 100 moved, zero-score 101 dropped, 102 kept its own score
	if got := itemsOf(store.rels[2]); !reflect.DeepEqual(got, []int64{100, 102}) {
		t.Errorf("Expected artificial intelligence on [100 102], got %v", got)
	}
	for _, r := range store.rels[2] {
		if r.ItemID == 102 && r.Score != 0.8 {
			t.Errorf("Expected existing relation untouched, got %v", r.Score)
		}
	}
	if _, ok := store.rels[1]; ok {
		t.Error("Expected relations of the renamed tag to be removed")
	}

	// Split that keeps the old tag
	if got := itemsOf(store.rels[3]); !reflect.DeepEqual(got, []int64{200}) {
		t.Errorf("Expected ml ops kept, got %v", got)
	}
	if got := itemsOf(store.rels[4]); !reflect.DeepEqual(got, []int64{200}) {
		t.Errorf("Expected machine learning created with item 200, got %v", got)
	}
}

func TestTagReviserDryRun(t *testing.T) {
	store := newTagFixture()
	stats, err := NewTagReviser(&fakeAnalyzer{data: revisionMapping}, store).Revise(context.Background(), true)
	if err != nil {
		t.Fatalf("Revise failed: %v", err)
	}
	if stats.Mapped != 2 || stats.CreatedTags != 1 || stats.Added != 0 || stats.Removed != 0 {
		t.Errorf("Unexpected dry run stats %s", stats)
	}
	if len(store.tags) != 3 || len(store.rels[1]) != 3 {
		t.Error("Expected dry run to leave the store untouched")
	}
}

func TestTagReviserInvalidMapping(t *testing.T) {
	store := newTagFixture()
	_, err := NewTagReviser(&fakeAnalyzer{data: map[string]any{"other": 1}}, store).Revise(context.Background(), false)
	if !errors.Is(err, ErrInvalidMapping) {
		t.Errorf("Expected ErrInvalidMapping, got %v", err)
	}
}
