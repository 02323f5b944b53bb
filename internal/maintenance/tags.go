package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"octopus/internal/core"
	"octopus/internal/enrich"
	"octopus/internal/llm"
	"octopus/internal/logger"
	"octopus/internal/persistence"
)

// ReviseTagsPromptTemplate asks the model to consolidate the tag vocabulary.
// {tags} is replaced with a bulleted list.
const ReviseTagsPromptTemplate = `You maintain the tag vocabulary of a technology news aggregator.
Below is the current list of tags. Many are near duplicates, overly specific
or combine two topics in one tag.

Propose a cleaner vocabulary by mapping every existing tag to the tags it
should become:
- map a tag to itself (or to an empty list) to keep it unchanged
- map a tag to one different tag to rename or merge it
- map a tag to several tags to split it
- use short, lowercase, general topic names

Tags:
{tags}

Respond with YAML only, in this structure:

tag_mapping:
  "old tag": ["new tag"]
  "combined tag": ["first topic", "second topic"]
  "good tag": []
`

// RevisePrompt renders the revision prompt for names
func RevisePrompt(names []string) string {
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(name)
	}
	return strings.Replace(ReviseTagsPromptTemplate, "{tags}", b.String(), 1)
}

// ErrInvalidMapping reports a tag mapping response with the wrong structure
var ErrInvalidMapping = errors.New("invalid tag mapping")

// ParseTagMapping validates a decoded response and returns old tag -> new
// tags. An empty list keeps the tag unchanged. Names are lowercased.
func ParseTagMapping(doc any) (map[string][]string, error) {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: response must be a mapping", ErrInvalidMapping)
	}
	raw, ok := root["tag_mapping"]
	if !ok {
		return nil, fmt.Errorf("%w: response must contain 'tag_mapping'", ErrInvalidMapping)
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: tag_mapping must be a mapping", ErrInvalidMapping)
	}

	mapping := make(map[string][]string, len(entries))
	for oldName, value := range entries {
		old := enrich.NormalizeTag(oldName)
		if old == "" {
			continue
		}
		var list []any
		switch v := value.(type) {
		case nil:
		case []any:
			list = v
		default:
			return nil, fmt.Errorf("%w: mapping for '%s' must be a list", ErrInvalidMapping, oldName)
		}

		var targets []string
		seen := make(map[string]bool)
		for _, item := range list {
			name := enrich.NormalizeTag(fmt.Sprint(item))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			targets = append(targets, name)
		}
		if len(targets) == 0 {
			targets = []string{old}
		}
		mapping[old] = targets
	}
	return mapping, nil
}

// TagStore is the tag vocabulary and its relations
type TagStore interface {
	ListTags(ctx context.Context) ([]core.Tag, error)
	GetOrCreateTag(ctx context.Context, name string) (int64, error)
	ListTagRelations(ctx context.Context, tagID int64) ([]persistence.TagRelation, error)
	AddTagRelation(ctx context.Context, rel persistence.TagRelation) (bool, error)
	DeleteTagRelations(ctx context.Context, tagID int64) (int64, error)
}

// Analyzer is the subset of llm.Processor the reviser uses
type Analyzer interface {
	Process(ctx context.Context, prompt string, opts llm.Options) (*llm.Response, error)
}

// TagStats summarizes a revision
type TagStats struct {
	Mapped      int // Tags that change
	CreatedTags int
	Added       int // Relations copied onto new tags
	Removed     int64
}

func (s TagStats) String() string {
	return fmt.Sprintf("mapped=%d created_tags=%d added=%d removed=%d", s.Mapped, s.CreatedTags, s.Added, s.Removed)
}

// TagReviser consolidates the tag vocabulary with the model's help
type TagReviser struct {
	analyzer Analyzer
	store    TagStore
	log      *slog.Logger
}

// NewTagReviser creates a reviser
func NewTagReviser(analyzer Analyzer, store TagStore) *TagReviser {
	return &TagReviser{analyzer: analyzer, store: store, log: logger.Get()}
}

// Revise asks for a mapping and applies it. Relations are copied onto the
// target tags keeping their score; zero scores and relations the item
// already has are skipped. Tags mapped away lose their relations. With
// dryRun nothing is written.
func (r *TagReviser) Revise(ctx context.Context, dryRun bool) (TagStats, error) {
	var stats TagStats

	tags, err := r.store.ListTags(ctx)
	if err != nil {
		return stats, err
	}
	if len(tags) == 0 {
		r.log.Info("No tags found")
		return stats, nil
	}

	ids := make(map[string]int64, len(tags))
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		ids[t.Name] = t.ID
		names = append(names, t.Name)
	}

	resp, err := r.analyzer.Process(ctx, RevisePrompt(names), llm.Options{Format: llm.FormatYAML})
	if err != nil {
		return stats, fmt.Errorf("failed to get tag mapping: %w", err)
	}
	mapping, err := ParseTagMapping(resp.Data)
	if err != nil {
		return stats, err
	}

	olds := make([]string, 0, len(mapping))
	for old := range mapping {
		olds = append(olds, old)
	}
	sort.Strings(olds)

	for _, old := range olds {
		targets := mapping[old]
		if len(targets) == 1 && targets[0] == old {
			continue
		}
		oldID, ok := ids[old]
		if !ok {
			r.log.Warn("Mapping names an unknown tag", "tag", old)
			continue
		}
		stats.Mapped++
		r.log.Info("Converting tag", "tag", old, "into", targets, "dry_run", dryRun)

		if err := r.apply(ctx, old, oldID, targets, ids, dryRun, &stats); err != nil {
			return stats, fmt.Errorf("failed to revise tag %q: %w", old, err)
		}
	}

	r.log.Info("Tag revision completed", "stats", stats.String(), "dry_run", dryRun)
	return stats, nil
}

func (r *TagReviser) apply(ctx context.Context, old string, oldID int64, targets []string, ids map[string]int64, dryRun bool, stats *TagStats) error {
	rels, err := r.store.ListTagRelations(ctx, oldID)
	if err != nil {
		return err
	}

	keepOld := false
	var targetIDs []int64
	for _, name := range targets {
		if name == old {
			keepOld = true
			continue
		}
		id, known := ids[name]
		if !known {
			stats.CreatedTags++
			if dryRun {
				r.log.Info("Would create tag", "tag", name)
				continue
			}
			if id, err = r.store.GetOrCreateTag(ctx, name); err != nil {
				return err
			}
			ids[name] = id
		}
		targetIDs = append(targetIDs, id)
	}

	if dryRun {
		r.log.Info("Would move tag relations", "tag", old, "relations", len(rels), "keep_old", keepOld)
		return nil
	}

	for _, rel := range rels {
		if rel.Score <= 0 {
			continue
		}
		for _, id := range targetIDs {
			added, err := r.store.AddTagRelation(ctx, persistence.TagRelation{ItemID: rel.ItemID, TagID: id, Score: rel.Score})
			if err != nil {
				return err
			}
			if added {
				stats.Added++
			}
		}
	}

	if !keepOld {
		n, err := r.store.DeleteTagRelations(ctx, oldID)
		if err != nil {
			return err
		}
		stats.Removed += n
	}
	return nil
}
