// Package persistence provides the Postgres storage for raw items, content,
// processed items, digests and prompt records
package persistence

import (
	"context"
	"time"

	"octopus/internal/core"
)

// HNRepository handles Hacker News stories, comments and votes
type HNRepository interface {
	// CreateStory inserts a story, ignoring one that already exists
	CreateStory(ctx context.Context, story *core.HNStory) error

	// GetStory retrieves a story by its HN id
	GetStory(ctx context.Context, id int64) (*core.HNStory, error)

	// KnownStoryIDs returns the subset of ids already stored
	KnownStoryIDs(ctx context.Context, ids []int64) (map[int64]bool, error)

	// ListStoryIDs returns every stored story id
	ListStoryIDs(ctx context.Context) ([]int64, error)

	// ListEnrichCandidates pages story ids above afterID whose latest vote
	// count exceeds minVotes
	ListEnrichCandidates(ctx context.Context, afterID int64, limit, minVotes int, includeProcessed bool) ([]int64, error)

	// ListMissingContent returns stories with a URL and no target content
	ListMissingContent(ctx context.Context) ([]core.HNStory, error)

	// UpdateTargetContent sets the extracted article text
	UpdateTargetContent(ctx context.Context, id int64, content string) error

	// ListURLs returns id and url of stories that have a URL
	ListURLs(ctx context.Context) ([]core.HNStory, error)

	// UpdateURL rewrites the story URL
	UpdateURL(ctx context.Context, id int64, url string) error

	// URLTaken reports whether another story already has url
	URLTaken(ctx context.Context, url string, exceptID int64) (bool, error)

	// LatestVotes returns the most recent vote count per story
	LatestVotes(ctx context.Context) (map[int64]int, error)

	// AddVote appends a vote sample
	AddVote(ctx context.Context, vote core.HNVote) error

	// ListCommentRefreshCandidates returns stories posted after postedAfter
	// that have no comments or whose oldest comment predates staleBefore
	ListCommentRefreshCandidates(ctx context.Context, postedAfter, staleBefore time.Time) ([]int64, error)

	// ListComments returns the comments of a story ordered by time
	ListComments(ctx context.Context, storyID int64) ([]core.HNComment, error)

	// GetComment retrieves a comment by its HN id
	GetComment(ctx context.Context, id int64) (*core.HNComment, error)

	// UpsertComment inserts a comment or updates its content and deleted flag
	UpsertComment(ctx context.Context, comment *core.HNComment) error
}

// EmailRepository handles digest emails, their links and email stories
type EmailRepository interface {
	// EmailExists reports whether a Gmail message was already ingested
	EmailExists(ctx context.Context, messageID string) (bool, error)

	// SaveDigestEmail stores email and its links in one transaction. Links
	// already recorded for the email are skipped; each new link is attached to
	// the email story holding its URL, created when missing. Returns the
	// number of new links.
	SaveDigestEmail(ctx context.Context, email *core.DigestEmail, links []core.DigestLink) (int, error)

	// GetEmailStory retrieves an email story by id
	GetEmailStory(ctx context.Context, id int64) (*core.EmailStory, error)

	// ListEnrichCandidates pages email story ids above afterID
	ListEnrichCandidates(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]int64, error)

	// UpdateTargetContent sets the extracted article text
	UpdateTargetContent(ctx context.Context, id int64, content string) error

	// ListStoryURLs returns id and url of every email story
	ListStoryURLs(ctx context.Context) ([]core.EmailStory, error)

	// UpdateStoryURL rewrites an email story URL
	UpdateStoryURL(ctx context.Context, id int64, url string) error

	// StoryURLTaken reports whether another email story already has url
	StoryURLTaken(ctx context.Context, url string, exceptID int64) (bool, error)

	// ListLinks returns every digest link
	ListLinks(ctx context.Context) ([]core.DigestLink, error)

	// UpdateLinkURL rewrites a digest link URL
	UpdateLinkURL(ctx context.Context, id int64, url string) error

	// LinkURLTaken reports whether another link of the same email has url
	LinkURLTaken(ctx context.Context, emailID int64, url string, exceptID int64) (bool, error)

	// ListExpiredEmails returns ids of emails received before cutoff whose
	// links are all processed
	ListExpiredEmails(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// TelegramRepository handles channel messages
type TelegramRepository interface {
	// CreateIfAbsent inserts a message unless (channel, message id) exists
	CreateIfAbsent(ctx context.Context, story *core.TelegramStory) (bool, error)

	// MaxMessageID returns the highest stored message id of a channel, or 0
	MaxMessageID(ctx context.Context, channelID string) (int64, error)

	// GetTelegramStory retrieves a message by id
	GetTelegramStory(ctx context.Context, id int64) (*core.TelegramStory, error)

	// ListEnrichCandidates pages message ids above afterID
	ListEnrichCandidates(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]int64, error)

	// UpdateURLs stores the normalized URLs found in a message
	UpdateURLs(ctx context.Context, id int64, urls []string) error
}

// ContentRepository is the durable layer of the content cache
type ContentRepository interface {
	// GetContent returns core.ErrNotFound when no entry exists
	GetContent(ctx context.Context, url string) (*core.ContentCacheEntry, error)

	// UpsertContent creates or replaces the entry for url
	UpsertContent(ctx context.Context, url, content string) error
}

// TagRelation is one scored link between a processed item and a tag
type TagRelation struct {
	ItemID int64
	TagID  int64
	Score  float64
}

// ProcessedItemRepository handles processed items and their tag and entity
// relations
type ProcessedItemRepository interface {
	// EnsureTags creates missing tags
	EnsureTags(ctx context.Context, names []string) error

	// SaveAnalysis creates or replaces the processed item for item.Related
	// together with its relations
	SaveAnalysis(ctx context.Context, item *core.ProcessedItem) error

	// GetByRelated retrieves the processed item of a raw item
	GetByRelated(ctx context.Context, ref core.RelatedItem) (*core.ProcessedItem, error)

	// ListTags returns the tag vocabulary ordered by name
	ListTags(ctx context.Context) ([]core.Tag, error)

	// GetOrCreateTag returns the id of the tag called name
	GetOrCreateTag(ctx context.Context, name string) (int64, error)

	// ListTagRelations returns the relations of a tag
	ListTagRelations(ctx context.Context, tagID int64) ([]TagRelation, error)

	// AddTagRelation inserts a relation unless the item already has the tag.
	// Reports whether a row was inserted.
	AddTagRelation(ctx context.Context, rel TagRelation) (bool, error)

	// DeleteTagRelations removes every relation of a tag
	DeleteTagRelations(ctx context.Context, tagID int64) (int64, error)

	// CountZeroScoreRelations counts tag relations with score 0
	CountZeroScoreRelations(ctx context.Context) (int64, error)

	// DeleteZeroScoreRelations removes tag relations with score 0
	DeleteZeroScoreRelations(ctx context.Context) (int64, error)

	// ListDuplicateIDs returns processed items that share a related item
	// with a newer one
	ListDuplicateIDs(ctx context.Context) ([]int64, error)

	// ListEmptyEmailItemIDs returns processed email items whose story has no
	// target content
	ListEmptyEmailItemIDs(ctx context.Context) ([]int64, error)
}

// DigestRepository handles digests and the selection of their items
type DigestRepository interface {
	// ListRelevantItems returns distinct processed items created in
	// [start, end) carrying one of tags at minScore or higher, newest first
	ListRelevantItems(ctx context.Context, start, end time.Time, tags []string, minScore float64) ([]core.ProcessedItem, error)

	// ResolveView loads the raw item behind ref
	ResolveView(ctx context.Context, ref core.RelatedItem) (core.RawItemView, error)

	// CreateDigest inserts d and its story links in one transaction
	CreateDigest(ctx context.Context, d *core.Digest, itemIDs []int64) error
}

// PromptRepository is the append-only prompt audit log
type PromptRepository interface {
	RecordPrompt(ctx context.Context, record *core.PromptRecord) error
}

// Sort orders for story listings
const (
	OrderByDate  = "date"
	OrderByScore = "score"
)

// StoryFilter narrows a story listing
type StoryFilter struct {
	Start    time.Time     // Inclusive, zero for unbounded
	End      time.Time     // Exclusive, zero for unbounded
	MinScore float64       // Minimum score of any tag
	Kind     core.ItemKind // Empty for every source
	OrderBy  string        // OrderByDate or OrderByScore
	Limit    int
}

// StoryView is a processed item joined with its raw item
type StoryView struct {
	ProcessedItemID int64                `json:"processed_item_id"`
	Type            core.ItemKind        `json:"type"`
	ID              int64                `json:"id"`
	Title           string               `json:"title"`
	URL             string               `json:"url,omitempty"`
	Summary         string               `json:"summary"`
	CreatedAt       time.Time            `json:"created_at"`
	MaxScore        float64              `json:"max_score"`
	Tags            []core.TagScore      `json:"tags"`
	Entities        []core.EntityMention `json:"entities"`
}

// DigestView is a digest with the stories it was built from
type DigestView struct {
	core.Digest
	Stories []StoryView `json:"stories,omitempty"`
}

// PromptFilter narrows a prompt listing
type PromptFilter struct {
	Skip   int
	Limit  int
	Format string
}

// QueryRepository is the read surface used by the HTTP API
type QueryRepository interface {
	ListStories(ctx context.Context, filter StoryFilter) ([]StoryView, error)
	GetStory(ctx context.Context, ref core.RelatedItem) (*StoryView, error)
	ListDigests(ctx context.Context, start, end time.Time) ([]DigestView, error)
	GetDigest(ctx context.Context, id int64) (*DigestView, error)
	ListPrompts(ctx context.Context, filter PromptFilter) ([]core.PromptRecord, error)
	GetPrompt(ctx context.Context, id int64) (*core.PromptRecord, error)
}

// Database is the storage aggregate
type Database interface {
	HackerNews() HNRepository
	Emails() EmailRepository
	Telegram() TelegramRepository
	Contents() ContentRepository
	ProcessedItems() ProcessedItemRepository
	Digests() DigestRepository
	Prompts() PromptRepository
	Queries() QueryRepository

	// DeleteProcessedItems removes items with their relations and digest links
	DeleteProcessedItems(ctx context.Context, ids []int64) (int64, error)

	// DeleteDigestEmail removes an email and its links. Email stories stay.
	DeleteDigestEmail(ctx context.Context, id int64) error

	Close() error
	Ping(ctx context.Context) error
}
