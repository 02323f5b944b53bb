// Package enrich turns raw stories into processed items carrying an LLM
// summary, scored tags and entities.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"octopus/internal/core"
	"octopus/internal/llm"
	"octopus/internal/logger"
)

// ErrEmptySummary marks an item with nothing to analyze
var ErrEmptySummary = errors.New("empty content provided")

// DefaultRequiredTags are scored on every item
var DefaultRequiredTags = []string{"machine learning", "generative ai", "cybersecurity"}

// DefaultBatchSize is the page size when none is configured
const DefaultBatchSize = 100

// Source enumerates the raw items of one kind and builds their analysis input
type Source interface {
	Kind() core.ItemKind
	// NextBatch returns up to limit items with a raw id above afterID in id
	// order. Items that already have a processed item are excluded unless
	// includeProcessed is set.
	NextBatch(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]core.RelatedItem, error)
	// Input resolves the content of ref. Returned errors are storage errors.
	Input(ctx context.Context, ref core.RelatedItem) (Input, error)
}

// ItemStore persists analyses
type ItemStore interface {
	EnsureTags(ctx context.Context, names []string) error
	// SaveAnalysis creates the processed item for item.Related or replaces the
	// existing one in place, setting item.ID and item.CreatedAt.
	SaveAnalysis(ctx context.Context, item *core.ProcessedItem) error
}

// Analyzer is the subset of llm.Processor the pipeline uses
type Analyzer interface {
	Process(ctx context.Context, prompt string, opts llm.Options) (*llm.Response, error)
}

// Config tunes the pipeline
type Config struct {
	BatchSize    int
	RequiredTags []string
	MaxTokens    int
}

// RunOptions controls a single run
type RunOptions struct {
	ForceRegenerate bool
}

// Stats counts item outcomes of a run
type Stats struct {
	Processed int
	Skipped   int
	Failed    int
}

func (s Stats) String() string {
	return fmt.Sprintf("processed=%d skipped=%d failed=%d", s.Processed, s.Skipped, s.Failed)
}

// Pipeline enriches items one at a time, committing each on its own
type Pipeline struct {
	analyzer Analyzer
	store    ItemStore
	cfg      Config
	log      *slog.Logger
}

// NewPipeline creates a pipeline
func NewPipeline(analyzer Analyzer, store ItemStore, cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RequiredTags == nil {
		cfg.RequiredTags = DefaultRequiredTags
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	return &Pipeline{
		analyzer: analyzer,
		store:    store,
		cfg:      cfg,
		log:      logger.Get(),
	}
}

// Run enriches every eligible item of src. Storage errors stop the run and
// are returned with the counts so far; item-level failures are counted.
func (p *Pipeline) Run(ctx context.Context, src Source, opts RunOptions) (Stats, error) {
	var stats Stats
	log := p.log.With("source", string(src.Kind()))

	if err := p.store.EnsureTags(ctx, p.cfg.RequiredTags); err != nil {
		return stats, fmt.Errorf("failed to ensure required tags: %w", err)
	}

	var cursor int64
	for {
		batch, err := src.NextBatch(ctx, cursor, p.cfg.BatchSize, opts.ForceRegenerate)
		if err != nil {
			log.Error("Failed to load batch", "error", err.Error(), "after_id", cursor)
			return stats, fmt.Errorf("failed to load %s batch: %w", src.Kind(), err)
		}
		if len(batch) == 0 {
			break
		}

		for _, ref := range batch {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			cursor = ref.RawID()

			outcome, err := p.enrichItem(ctx, src, ref)
			switch outcome {
			case outcomeProcessed:
				stats.Processed++
			case outcomeSkipped:
				stats.Skipped++
			case outcomeFailed:
				stats.Failed++
			case outcomeAbort:
				log.Error("Storage error, stopping run", "error", err.Error(), "item_id", ref.RawID())
				return stats, err
			}
		}

		if len(batch) < p.cfg.BatchSize {
			break
		}
	}

	log.Info("Enrichment finished", "processed", stats.Processed, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeAbort
)

func (p *Pipeline) enrichItem(ctx context.Context, src Source, ref core.RelatedItem) (outcome, error) {
	log := p.log.With("type", string(ref.Kind()), "item_id", ref.RawID())

	in, err := src.Input(ctx, ref)
	if err != nil {
		return outcomeAbort, fmt.Errorf("failed to load item %d: %w", ref.RawID(), err)
	}

	analysis, err := p.Analyze(ctx, in)
	switch {
	case errors.Is(err, ErrEmptySummary):
		log.Info("Skipping item with empty content")
		return outcomeSkipped, nil
	case err != nil:
		if ctx.Err() != nil {
			return outcomeAbort, ctx.Err()
		}
		log.Warn("Failed to analyze item", "error", err.Error())
		return outcomeFailed, nil
	}

	item := &core.ProcessedItem{
		Summary:  analysis.Summary,
		Related:  ref,
		Tags:     analysis.Tags,
		Entities: analysis.Entities,
	}
	if err := p.store.SaveAnalysis(ctx, item); err != nil {
		return outcomeAbort, fmt.Errorf("failed to save analysis for item %d: %w", ref.RawID(), err)
	}

	log.Info("Processed item", "processed_item_id", item.ID, "tags", len(item.Tags), "entities", len(item.Entities))
	return outcomeProcessed, nil
}

// Analyze sends in through the model and validates the result. Format
// failures that survive the processor's retries degrade to a placeholder
// analysis; provider errors are returned.
func (p *Pipeline) Analyze(ctx context.Context, in Input) (Analysis, error) {
	if in.Empty() {
		return Analysis{}, ErrEmptySummary
	}

	resp, err := p.analyzer.Process(ctx, AnalysisPrompt(in), llm.Options{
		Format:    llm.FormatYAML,
		MaxTokens: p.cfg.MaxTokens,
	})
	if err != nil {
		if llm.IsValidationError(err) {
			p.log.Error("Invalid YAML response from processor", "error", err.Error())
			return Degraded(SummaryInvalidFormat, p.cfg.RequiredTags), nil
		}
		return Analysis{}, err
	}

	return ParseAnalysis(resp.Data, p.cfg.RequiredTags, p.log), nil
}
