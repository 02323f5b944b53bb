package hackernews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"octopus/internal/core"
	"octopus/internal/logger"
)

// MaxURLLength is the stored URL limit
const MaxURLLength = 1024

// Defaults
const (
	DefaultCommentMaxStoryAge  = 48 * time.Hour
	DefaultCommentRefreshAfter = 6 * time.Hour
	DefaultVoteConcurrency     = 8
)

// API is the subset of Client the syncer uses
type API interface {
	NewStories(ctx context.Context) ([]int64, error)
	Item(ctx context.Context, id int64) (*Item, error)
}

// Store is the storage the syncer needs
type Store interface {
	KnownStoryIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	CreateStory(ctx context.Context, story *core.HNStory) error
	ListStoryIDs(ctx context.Context) ([]int64, error)
	LatestVotes(ctx context.Context) (map[int64]int, error)
	AddVote(ctx context.Context, vote core.HNVote) error
	ListCommentRefreshCandidates(ctx context.Context, postedAfter, staleBefore time.Time) ([]int64, error)
	GetComment(ctx context.Context, id int64) (*core.HNComment, error)
	UpsertComment(ctx context.Context, comment *core.HNComment) error
	ListMissingContent(ctx context.Context) ([]core.HNStory, error)
	UpdateTargetContent(ctx context.Context, id int64, content string) error
}

// URLNormalizer canonicalizes story URLs
type URLNormalizer interface {
	Normalize(ctx context.Context, raw string) string
}

// ContentResolver returns extracted article text
type ContentResolver interface {
	GetOrExtract(ctx context.Context, url string) (string, bool, error)
}

// Config tunes the syncer
type Config struct {
	CommentMaxStoryAge  time.Duration
	CommentRefreshAfter time.Duration
	VoteConcurrency     int
}

// Stats counts outcomes of a sync step
type Stats struct {
	Added   int
	Updated int
	Skipped int
	Failed  int
}

func (s Stats) String() string {
	return fmt.Sprintf("added=%d updated=%d skipped=%d failed=%d", s.Added, s.Updated, s.Skipped, s.Failed)
}

// Syncer mirrors Hacker News into the local store. API errors on a single
// item are logged and counted; storage errors abort the step.
type Syncer struct {
	api        API
	store      Store
	normalizer URLNormalizer
	content    ContentResolver
	cfg        Config
	now        func() time.Time
	log        *slog.Logger
}

// NewSyncer creates a syncer. normalizer and content may be nil when the
// corresponding steps are not used.
func NewSyncer(api API, store Store, normalizer URLNormalizer, content ContentResolver, cfg Config) *Syncer {
	if cfg.CommentMaxStoryAge <= 0 {
		cfg.CommentMaxStoryAge = DefaultCommentMaxStoryAge
	}
	if cfg.CommentRefreshAfter <= 0 {
		cfg.CommentRefreshAfter = DefaultCommentRefreshAfter
	}
	if cfg.VoteConcurrency <= 0 {
		cfg.VoteConcurrency = DefaultVoteConcurrency
	}
	return &Syncer{
		api:        api,
		store:      store,
		normalizer: normalizer,
		content:    content,
		cfg:        cfg,
		now:        time.Now,
		log:        logger.Get(),
	}
}

// FetchNewStories stores every new story that is not yet known and not dead
func (s *Syncer) FetchNewStories(ctx context.Context) (Stats, error) {
	var stats Stats

	ids, err := s.api.NewStories(ctx)
	if err != nil {
		return stats, err
	}
	s.log.Info("Fetched new story ids", "count", len(ids))

	known, err := s.store.KnownStoryIDs(ctx, ids)
	if err != nil {
		return stats, err
	}

	for _, id := range ids {
		if known[id] {
			stats.Skipped++
			continue
		}
		item, err := s.api.Item(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			s.log.Warn("Failed to fetch story", "story_id", id, "error", err)
			stats.Failed++
			continue
		}
		if item.Dead || item.Deleted || item.Title == "" {
			stats.Skipped++
			continue
		}

		story := &core.HNStory{
			ID:       item.ID,
			Title:    item.Title,
			URL:      s.storyURL(ctx, item.URL),
			Content:  item.Text,
			PostedAt: item.PostedAt(),
			User:     item.By,
		}
		if err := s.store.CreateStory(ctx, story); err != nil {
			return stats, err
		}
		stats.Added++
	}

	s.log.Info("New stories synced", "stats", stats.String())
	return stats, nil
}

func (s *Syncer) storyURL(ctx context.Context, raw string) string {
	if raw == "" {
		return ""
	}
	u := raw
	if s.normalizer != nil {
		u = s.normalizer.Normalize(ctx, raw)
	}
	return TruncateURL(u)
}

// TruncateURL cuts u to MaxURLLength runes
func TruncateURL(u string) string {
	return truncateRunes(u, MaxURLLength)
}

// UpdateVotes polls the score of every stored story and records a vote
// sample when it differs from the latest one. Fetches run concurrently;
// writes happen afterwards in id order.
func (s *Syncer) UpdateVotes(ctx context.Context) (Stats, error) {
	var stats Stats

	ids, err := s.store.ListStoryIDs(ctx)
	if err != nil {
		return stats, err
	}
	latest, err := s.store.LatestVotes(ctx)
	if err != nil {
		return stats, err
	}

	scores := make([]*int, len(ids))
	failed := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.VoteConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			item, err := s.api.Item(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn("Failed to fetch votes", "story_id", id, "error", err)
				failed[i] = true
				return nil
			}
			scores[i] = item.Score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	now := s.now()
	for i, id := range ids {
		switch {
		case failed[i]:
			stats.Failed++
			continue
		case scores[i] == nil:
			stats.Skipped++
			continue
		}
		if prev, ok := latest[id]; ok && prev == *scores[i] {
			stats.Skipped++
			continue
		}
		if err := s.store.AddVote(ctx, core.HNVote{StoryID: id, VoteCount: *scores[i], Timestamp: now}); err != nil {
			return stats, err
		}
		stats.Added++
	}

	s.log.Info("Votes synced", "stats", stats.String())
	return stats, nil
}

// RefreshComments walks the comment trees of recent stories that have no
// comments or only stale ones
func (s *Syncer) RefreshComments(ctx context.Context) (Stats, error) {
	var stats Stats

	now := s.now()
	ids, err := s.store.ListCommentRefreshCandidates(ctx,
		now.Add(-s.cfg.CommentMaxStoryAge), now.Add(-s.cfg.CommentRefreshAfter))
	if err != nil {
		return stats, err
	}

	for _, storyID := range ids {
		story, err := s.api.Item(ctx, storyID)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			s.log.Warn("Failed to fetch story comments", "story_id", storyID, "error", err)
			stats.Failed++
			continue
		}
		for _, kid := range story.Kids {
			if err := s.walkComment(ctx, kid, storyID, 0, &stats); err != nil {
				return stats, err
			}
		}
	}

	s.log.Info("Comments synced", "stories", len(ids), "stats", stats.String())
	return stats, nil
}

// walkComment stores a comment and its replies. Known comments are only
// re-checked when they were deleted, reviving them if the API shows text
// again.
func (s *Syncer) walkComment(ctx context.Context, id, storyID, parentID int64, stats *Stats) error {
	existing, err := s.store.GetComment(ctx, id)
	switch {
	case err == nil:
		if !existing.Deleted {
			stats.Skipped++
			return nil
		}
		item, err := s.api.Item(ctx, id)
		if err != nil {
			s.log.Warn("Failed to re-check comment", "comment_id", id, "error", err)
			stats.Failed++
			return ctx.Err()
		}
		if item.Deleted || item.Dead {
			stats.Skipped++
			return nil
		}
		existing.Deleted = false
		existing.Content = item.Text
		if err := s.store.UpsertComment(ctx, existing); err != nil {
			return err
		}
		stats.Updated++
		return nil
	case !errors.Is(err, core.ErrNotFound):
		return err
	}

	item, err := s.api.Item(ctx, id)
	if err != nil {
		s.log.Warn("Failed to fetch comment", "comment_id", id, "error", err)
		stats.Failed++
		return ctx.Err()
	}
	if item.Deleted || item.Dead {
		stats.Skipped++
		return nil
	}

	comment := &core.HNComment{
		ID:       item.ID,
		StoryID:  storyID,
		ParentID: parentID,
		Content:  item.Text,
		PostedAt: item.PostedAt(),
		User:     item.By,
	}
	if err := s.store.UpsertComment(ctx, comment); err != nil {
		return err
	}
	stats.Added++

	for _, kid := range item.Kids {
		if err := s.walkComment(ctx, kid, storyID, id, stats); err != nil {
			return err
		}
	}
	return nil
}

// BackfillContent extracts article text for stories that have a URL but no
// content yet
func (s *Syncer) BackfillContent(ctx context.Context) (Stats, error) {
	var stats Stats
	if s.content == nil {
		return stats, errors.New("content backfill requires a content resolver")
	}

	stories, err := s.store.ListMissingContent(ctx)
	if err != nil {
		return stats, err
	}
	for _, story := range stories {
		text, ok, err := s.content.GetOrExtract(ctx, story.URL)
		if err != nil {
			return stats, err
		}
		if !ok {
			stats.Skipped++
			continue
		}
		if err := s.store.UpdateTargetContent(ctx, story.ID, text); err != nil {
			return stats, err
		}
		stats.Updated++
	}

	s.log.Info("Story content backfilled", "stats", stats.String())
	return stats, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
