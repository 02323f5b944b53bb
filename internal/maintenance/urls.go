package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"octopus/internal/core"
	"octopus/internal/logger"
	"octopus/internal/persistence"
	"octopus/internal/sources/hackernews"
)

// HNURLStore holds Hacker News story URLs
type HNURLStore interface {
	ListURLs(ctx context.Context) ([]core.HNStory, error)
	UpdateURL(ctx context.Context, id int64, url string) error
	URLTaken(ctx context.Context, url string, exceptID int64) (bool, error)
}

// EmailURLStore holds email story and digest link URLs
type EmailURLStore interface {
	ListStoryURLs(ctx context.Context) ([]core.EmailStory, error)
	UpdateStoryURL(ctx context.Context, id int64, url string) error
	StoryURLTaken(ctx context.Context, url string, exceptID int64) (bool, error)
	ListLinks(ctx context.Context) ([]core.DigestLink, error)
	UpdateLinkURL(ctx context.Context, id int64, url string) error
	LinkURLTaken(ctx context.Context, emailID int64, url string, exceptID int64) (bool, error)
}

// URLNormalizer canonicalizes URLs
type URLNormalizer interface {
	Normalize(ctx context.Context, raw string) string
}

// URLStats counts rewritten URLs per table
type URLStats struct {
	DigestLinks  int
	EmailStories int
	HNStories    int
	Conflicts    int
}

// Total is the number of rewritten rows
func (s URLStats) Total() int {
	return s.DigestLinks + s.EmailStories + s.HNStories
}

func (s URLStats) String() string {
	return fmt.Sprintf("digest_links=%d email_stories=%d hn_stories=%d conflicts=%d total=%d",
		s.DigestLinks, s.EmailStories, s.HNStories, s.Conflicts, s.Total())
}

// URLRenormalizer re-applies the current normalization rules to stored URLs
type URLRenormalizer struct {
	hn         HNURLStore
	emails     EmailURLStore
	normalizer URLNormalizer
	log        *slog.Logger
}

// NewURLRenormalizer creates a renormalizer
func NewURLRenormalizer(hn HNURLStore, emails EmailURLStore, normalizer URLNormalizer) *URLRenormalizer {
	return &URLRenormalizer{hn: hn, emails: emails, normalizer: normalizer, log: logger.Get()}
}

// Run rewrites every URL whose normalized form differs. A row is left alone
// when its normalized URL already belongs to another row.
func (r *URLRenormalizer) Run(ctx context.Context) (URLStats, error) {
	var stats URLStats
	steps := []struct {
		name string
		fn   func(context.Context, *URLStats) error
	}{
		{"digest links", r.digestLinks},
		{"email stories", r.emailStories},
		{"hn stories", r.hnStories},
	}
	for _, step := range steps {
		if err := step.fn(ctx, &stats); err != nil {
			return stats, fmt.Errorf("failed to normalize %s: %w", step.name, err)
		}
	}
	r.log.Info("URLs normalized", "stats", stats.String())
	return stats, nil
}

func (r *URLRenormalizer) normalized(ctx context.Context, raw string) (string, bool) {
	n := r.normalizer.Normalize(ctx, raw)
	return n, n != "" && n != raw
}

func (r *URLRenormalizer) digestLinks(ctx context.Context, stats *URLStats) error {
	links, err := r.emails.ListLinks(ctx)
	if err != nil {
		return err
	}
	for _, link := range links {
		n, changed := r.normalized(ctx, link.URL)
		if !changed {
			continue
		}
		taken, err := r.emails.LinkURLTaken(ctx, link.EmailID, n, link.ID)
		if err != nil {
			return err
		}
		if taken {
			r.log.Debug("Normalized link already exists for email", "link_id", link.ID, "url", n)
			stats.Conflicts++
			continue
		}
		if err := r.emails.UpdateLinkURL(ctx, link.ID, n); err != nil {
			if errors.Is(err, persistence.ErrDuplicate) {
				stats.Conflicts++
				continue
			}
			return err
		}
		stats.DigestLinks++
	}
	return nil
}

func (r *URLRenormalizer) emailStories(ctx context.Context, stats *URLStats) error {
	stories, err := r.emails.ListStoryURLs(ctx)
	if err != nil {
		return err
	}
	for _, story := range stories {
		n, changed := r.normalized(ctx, story.URL)
		if !changed {
			continue
		}
		taken, err := r.emails.StoryURLTaken(ctx, n, story.ID)
		if err != nil {
			return err
		}
		if taken {
			stats.Conflicts++
			continue
		}
		if err := r.emails.UpdateStoryURL(ctx, story.ID, n); err != nil {
			return err
		}
		stats.EmailStories++
	}
	return nil
}

func (r *URLRenormalizer) hnStories(ctx context.Context, stats *URLStats) error {
	stories, err := r.hn.ListURLs(ctx)
	if err != nil {
		return err
	}
	for _, story := range stories {
		n, changed := r.normalized(ctx, story.URL)
		if !changed {
			continue
		}
		n = hackernews.TruncateURL(n)
		if n == story.URL {
			continue
		}
		taken, err := r.hn.URLTaken(ctx, n, story.ID)
		if err != nil {
			return err
		}
		if taken {
			stats.Conflicts++
			continue
		}
		if err := r.hn.UpdateURL(ctx, story.ID, n); err != nil {
			return err
		}
		stats.HNStories++
	}
	return nil
}
