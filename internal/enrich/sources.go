package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"octopus/internal/core"
	"octopus/internal/logger"
)

// ContentResolver returns extracted content for a normalized URL
type ContentResolver interface {
	GetOrExtract(ctx context.Context, url string) (string, bool, error)
}

// URLNormalizer canonicalizes URLs found in message text
type URLNormalizer interface {
	Normalize(ctx context.Context, raw string) string
}

// HNStore is the storage the Hacker News source needs
type HNStore interface {
	ListEnrichCandidates(ctx context.Context, afterID int64, limit, minVotes int, includeProcessed bool) ([]int64, error)
	GetStory(ctx context.Context, id int64) (*core.HNStory, error)
	ListComments(ctx context.Context, storyID int64) ([]core.HNComment, error)
	UpdateTargetContent(ctx context.Context, id int64, content string) error
}

// HNSource enriches popular Hacker News stories with their discussion
type HNSource struct {
	store    HNStore
	content  ContentResolver
	minVotes int
}

// NewHNSource creates the Hacker News source
func NewHNSource(store HNStore, content ContentResolver, minVotes int) *HNSource {
	return &HNSource{store: store, content: content, minVotes: minVotes}
}

func (s *HNSource) Kind() core.ItemKind { return core.KindHackerNews }

func (s *HNSource) NextBatch(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]core.RelatedItem, error) {
	ids, err := s.store.ListEnrichCandidates(ctx, afterID, limit, s.minVotes, includeProcessed)
	if err != nil {
		return nil, err
	}
	return wrapIDs(core.KindHackerNews, ids)
}

func (s *HNSource) Input(ctx context.Context, ref core.RelatedItem) (Input, error) {
	story, err := s.store.GetStory(ctx, ref.RawID())
	if err != nil {
		return Input{}, err
	}

	target := story.TargetContent
	if target == "" && story.URL != "" {
		text, ok, err := s.content.GetOrExtract(ctx, story.URL)
		if err != nil {
			return Input{}, err
		}
		if ok {
			target = text
			if err := s.store.UpdateTargetContent(ctx, story.ID, text); err != nil {
				return Input{}, err
			}
		}
	}

	comments, err := s.store.ListComments(ctx, story.ID)
	if err != nil {
		return Input{}, err
	}
	var texts []string
	for _, c := range comments {
		if c.Deleted || strings.TrimSpace(c.Content) == "" {
			continue
		}
		texts = append(texts, c.Content)
	}

	return Input{Content: story.Content, TargetContent: target, Comments: texts}, nil
}

// EmailStore is the storage the email source needs
type EmailStore interface {
	ListEnrichCandidates(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]int64, error)
	GetEmailStory(ctx context.Context, id int64) (*core.EmailStory, error)
	UpdateTargetContent(ctx context.Context, id int64, content string) error
}

// EmailSource enriches stories discovered in newsletter emails
type EmailSource struct {
	store   EmailStore
	content ContentResolver
	log     *slog.Logger
}

// NewEmailSource creates the email source
func NewEmailSource(store EmailStore, content ContentResolver) *EmailSource {
	return &EmailSource{store: store, content: content, log: logger.Get()}
}

func (s *EmailSource) Kind() core.ItemKind { return core.KindEmail }

func (s *EmailSource) NextBatch(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]core.RelatedItem, error) {
	ids, err := s.store.ListEnrichCandidates(ctx, afterID, limit, includeProcessed)
	if err != nil {
		return nil, err
	}
	return wrapIDs(core.KindEmail, ids)
}

// Input returns an empty Input when the linked article has no content, so
// email stories without text are skipped.
func (s *EmailSource) Input(ctx context.Context, ref core.RelatedItem) (Input, error) {
	story, err := s.store.GetEmailStory(ctx, ref.RawID())
	if err != nil {
		return Input{}, err
	}

	target := story.TargetContent
	if target == "" && story.URL != "" {
		text, ok, err := s.content.GetOrExtract(ctx, story.URL)
		if err != nil {
			return Input{}, err
		}
		if ok {
			target = text
			if err := s.store.UpdateTargetContent(ctx, story.ID, text); err != nil {
				return Input{}, err
			}
		}
	}

	if strings.TrimSpace(target) == "" {
		s.log.Info("Email story has no content", "story_id", story.ID, "url", story.URL)
		return Input{}, nil
	}
	return Input{Content: story.Title, TargetContent: target}, nil
}

// telegramURLPattern matches the links posted in channel messages
var telegramURLPattern = regexp.MustCompile(`https?://(?:[-\w.]|(?:%[\da-fA-F]{2}))+`)

// ExtractURLs returns the URLs found in a message in order of appearance
func ExtractURLs(text string) []string {
	return telegramURLPattern.FindAllString(text, -1)
}

// TelegramStore is the storage the Telegram source needs
type TelegramStore interface {
	ListEnrichCandidates(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]int64, error)
	GetTelegramStory(ctx context.Context, id int64) (*core.TelegramStory, error)
	UpdateURLs(ctx context.Context, id int64, urls []string) error
}

// TelegramSource enriches channel messages with the articles they link to
type TelegramSource struct {
	store      TelegramStore
	content    ContentResolver
	normalizer URLNormalizer
}

// NewTelegramSource creates the Telegram source
func NewTelegramSource(store TelegramStore, content ContentResolver, normalizer URLNormalizer) *TelegramSource {
	return &TelegramSource{store: store, content: content, normalizer: normalizer}
}

func (s *TelegramSource) Kind() core.ItemKind { return core.KindTelegram }

func (s *TelegramSource) NextBatch(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]core.RelatedItem, error) {
	ids, err := s.store.ListEnrichCandidates(ctx, afterID, limit, includeProcessed)
	if err != nil {
		return nil, err
	}
	return wrapIDs(core.KindTelegram, ids)
}

func (s *TelegramSource) Input(ctx context.Context, ref core.RelatedItem) (Input, error) {
	story, err := s.store.GetTelegramStory(ctx, ref.RawID())
	if err != nil {
		return Input{}, err
	}

	urls := story.URLs
	if urls == nil {
		urls = []string{}
		for _, raw := range ExtractURLs(story.Content) {
			u := raw
			if s.normalizer != nil {
				u = s.normalizer.Normalize(ctx, raw)
			}
			urls = append(urls, u)
		}
		if err := s.store.UpdateURLs(ctx, story.ID, urls); err != nil {
			return Input{}, err
		}
	}

	var contents []string
	for _, u := range urls {
		text, ok, err := s.content.GetOrExtract(ctx, u)
		if err != nil {
			return Input{}, err
		}
		if ok {
			contents = append(contents, text)
		}
	}

	return Input{Content: story.Content, TargetContent: strings.Join(contents, "\n\n")}, nil
}

func wrapIDs(kind core.ItemKind, ids []int64) ([]core.RelatedItem, error) {
	refs := make([]core.RelatedItem, 0, len(ids))
	for _, id := range ids {
		ref, err := core.NewRelatedItem(kind, id)
		if err != nil {
			return nil, fmt.Errorf("failed to wrap id %d: %w", id, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
