// Package digest selects relevant processed items over a date range, fits
// them into a token budget and asks the model for a narrative digest.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"octopus/internal/core"
	"octopus/internal/llm"
	"octopus/internal/logger"
)

// ErrNoRelevantItems is returned when the window holds nothing to digest.
// Nothing is generated, archived or stored in that case.
var ErrNoRelevantItems = errors.New("no relevant stories found")

// Defaults
const (
	DefaultMinScore         = 0.3
	DefaultDays             = 7
	DefaultMaxContextTokens = 100000
	DefaultTemperature      = 0.3
)

// DefaultRelevantTags are the tags that make an item digest-worthy
var DefaultRelevantTags = []string{
	"artificial intelligence",
	"machine learning",
	"generative ai",
	"large language models",
	"computer vision",
	"cybersecurity",
}

// Store is the storage the generator needs
type Store interface {
	// ListRelevantItems returns distinct processed items created in
	// [start, end) with at least one of tags scored at or above minScore,
	// newest first, entities included.
	ListRelevantItems(ctx context.Context, start, end time.Time, tags []string, minScore float64) ([]core.ProcessedItem, error)
	// ResolveView loads the raw item behind ref. Returns core.ErrNotFound
	// when it no longer exists.
	ResolveView(ctx context.Context, ref core.RelatedItem) (core.RawItemView, error)
	// CreateDigest stores d and links it to itemIDs atomically
	CreateDigest(ctx context.Context, d *core.Digest, itemIDs []int64) error
}

// Analyzer is the subset of llm.Processor the generator uses
type Analyzer interface {
	Process(ctx context.Context, prompt string, opts llm.Options) (*llm.Response, error)
}

// Window is a half-open [Start, End) date range
type Window struct {
	Start time.Time
	End   time.Time
}

// Config tunes digest generation
type Config struct {
	RelevantTags     []string
	MinScore         float64
	DefaultDays      int
	MaxContextTokens int
	Temperature      *float64 // Nil uses DefaultTemperature
}

// Result describes a stored digest
type Result struct {
	Digest        *core.Digest
	ItemIDs       []int64
	ContextTokens int
}

// Generator produces digests
type Generator struct {
	analyzer Analyzer
	store    Store
	archive  Archive
	cfg      Config
	now      func() time.Time
	log      *slog.Logger
}

// NewGenerator creates a generator. Zero config values fall back to defaults.
func NewGenerator(analyzer Analyzer, store Store, archive Archive, cfg Config) *Generator {
	if len(cfg.RelevantTags) == 0 {
		cfg.RelevantTags = DefaultRelevantTags
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = DefaultDays
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = DefaultMaxContextTokens
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	return &Generator{
		analyzer: analyzer,
		store:    store,
		archive:  archive,
		cfg:      cfg,
		now:      time.Now,
		log:      logger.Get(),
	}
}

// DefaultWindow is the configured number of days ending now
func (g *Generator) DefaultWindow() Window {
	end := g.now().UTC()
	return Window{Start: end.AddDate(0, 0, -g.cfg.DefaultDays), End: end}
}

// Generate builds, archives and stores the digest for w. A zero window means
// the default window.
func (g *Generator) Generate(ctx context.Context, w Window) (*Result, error) {
	if w.Start.IsZero() && w.End.IsZero() {
		w = g.DefaultWindow()
	}
	if !w.Start.Before(w.End) {
		return nil, fmt.Errorf("invalid digest window: start %s is not before end %s",
			w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly))
	}

	items, err := g.store.ListRelevantItems(ctx, w.Start, w.End, g.cfg.RelevantTags, g.cfg.MinScore)
	if err != nil {
		return nil, fmt.Errorf("failed to select relevant items: %w", err)
	}
	if len(items) == 0 {
		g.log.Info("No relevant stories found", "start", w.Start, "end", w.End)
		return nil, ErrNoRelevantItems
	}

	contextItems := make([]ContextItem, 0, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ci, err := g.contextItem(ctx, item)
		if err != nil {
			return nil, err
		}
		contextItems = append(contextItems, ci)
		ids = append(ids, item.ID)
	}

	reserved := EstimateTokens(DigestPrompt(""))
	storyContext := BuildContext(contextItems, reserved, g.cfg.MaxContextTokens)
	contextTokens := EstimateTokens(storyContext)
	g.log.Info("Built digest context",
		"items", len(contextItems),
		"context_tokens", contextTokens,
		"budget", g.cfg.MaxContextTokens-reserved)

	temp := *g.cfg.Temperature
	resp, err := g.analyzer.Process(ctx, DigestPrompt(storyContext), llm.Options{
		Format:      llm.FormatRaw,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate digest: %w", err)
	}

	created := g.now()
	location, err := g.archive.Save(ctx, FileName(created), []byte(FileContent(w, resp.Text)))
	if err != nil {
		return nil, err
	}

	d := &core.Digest{
		Content:   resp.Text,
		StartDate: w.Start,
		EndDate:   w.End,
		CreatedAt: created,
		FilePath:  location,
	}
	if err := g.store.CreateDigest(ctx, d, ids); err != nil {
		return nil, fmt.Errorf("failed to store digest: %w", err)
	}

	g.log.Info("Digest generated", "digest_id", d.ID, "items", len(ids), "file", location)
	return &Result{Digest: d, ItemIDs: ids, ContextTokens: contextTokens}, nil
}

func (g *Generator) contextItem(ctx context.Context, item core.ProcessedItem) (ContextItem, error) {
	ci := ContextItem{Ref: item.Related, Summary: item.Summary, Entities: item.Entities}
	if item.Related == nil {
		return ci, nil
	}
	view, err := g.store.ResolveView(ctx, item.Related)
	switch {
	case errors.Is(err, core.ErrNotFound):
		g.log.Warn("Raw item missing for processed item",
			"processed_item_id", item.ID,
			"type", item.Related.Kind(),
			"id", item.Related.RawID())
		return ci, nil
	case err != nil:
		return ci, fmt.Errorf("failed to load %s %d: %w", item.Related.Kind(), item.Related.RawID(), err)
	}
	ci.Title = view.Title
	ci.Locator = view.Locator
	ci.Content = view.Content
	return ci, nil
}

// FileName is the archive name of a digest created at t
func FileName(t time.Time) string {
	return t.Format("tech_digest_20060102_150405.txt")
}

// FileContent is the archived file body: a header line, a rule and the digest
func FileContent(w Window, digest string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tech Digest - %s to %s\n", w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly))
	b.WriteString(strings.Repeat("=", 40))
	b.WriteByte('\n')
	b.WriteString(digest)
	return b.String()
}
