package core

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// HNStory is a Hacker News story as stored locally.
type HNStory struct {
	ID            int64     `json:"id"`             // Hacker News item id
	Title         string    `json:"title"`          // Story title
	URL           string    `json:"url"`            // Normalized target URL, empty for text posts
	Content       string    `json:"content"`        // HN text body (Ask HN etc.)
	TargetContent string    `json:"target_content"` // Extracted article text for URL
	PostedAt      time.Time `json:"posted_at"`      // Submission time
	User          string    `json:"user"`           // Submitter
}

// HNComment is a single comment in a story thread.
type HNComment struct {
	ID       int64     `json:"id"`
	StoryID  int64     `json:"story_id"`
	ParentID int64     `json:"parent_id"` // Zero for top-level comments
	Content  string    `json:"content"`
	PostedAt time.Time `json:"posted_at"`
	User     string    `json:"user"`
	Deleted  bool      `json:"deleted"`
}

// HNVote is a point-in-time vote count sample.
type HNVote struct {
	StoryID   int64     `json:"story_id"`
	VoteCount int       `json:"vote_count"`
	Timestamp time.Time `json:"tstamp"`
}

// DigestEmail is a newsletter email pulled from Gmail.
type DigestEmail struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"message_id"` // Gmail message id, unique
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	ReceivedAt  time.Time `json:"received_at"`
	ContentText string    `json:"content_text"`
	ContentHTML string    `json:"content_html"`
}

// DigestLink is a link found inside a digest email.
type DigestLink struct {
	ID        int64  `json:"id"`
	EmailID   int64  `json:"email_id"`
	URL       string `json:"url"` // Normalized
	Title     string `json:"title"`
	Context   string `json:"context"`
	Processed bool   `json:"processed"`
	StoryID   int64  `json:"story_id"` // Zero when no story is attached
}

// EmailStory is a story discovered through a digest email link.
type EmailStory struct {
	ID            int64     `json:"id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	DiscoveredAt  time.Time `json:"discovered_at"`
	SourceEmailID int64     `json:"source_email_id"`
	TargetContent string    `json:"target_content"`
}

// TelegramStory is a channel message.
type TelegramStory struct {
	ID           int64     `json:"id"`
	ChannelID    string    `json:"channel_id"`
	MessageID    int64     `json:"message_id"`
	Content      string    `json:"content"`
	URLs         []string  `json:"urls"` // Nil until extracted
	PostedAt     time.Time `json:"posted_at"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// ContentCacheEntry maps a normalized URL to its extracted text.
type ContentCacheEntry struct {
	URL           string    `json:"url"`
	Content       string    `json:"target_content"`
	HasContent    bool      `json:"-"` // False when the stored content is NULL
	ExtractedAt   time.Time `json:"extracted_at"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// ProcessedItem is the enrichment output for exactly one raw item.
type ProcessedItem struct {
	ID        int64           `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Summary   string          `json:"summary"`
	Related   RelatedItem     `json:"-"`
	Tags      []TagScore      `json:"tags,omitempty"`
	Entities  []EntityMention `json:"entities,omitempty"`
}

// Tag is a vocabulary term shared by all items.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TagScore is a tag with its relevance to one item.
type TagScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Entity types accepted from the model.
const (
	EntityCompany   = "company"
	EntityProduct   = "product"
	EntityPerson    = "person"
	EntityFramework = "framework"
)

// ValidEntityType reports whether t belongs to the entity vocabulary.
func ValidEntityType(t string) bool {
	switch t {
	case EntityCompany, EntityProduct, EntityPerson, EntityFramework:
		return true
	}
	return false
}

// Entity is identified by its (name, type) pair.
type Entity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// EntityMention is an entity as it relates to one item.
type EntityMention struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Score   float64 `json:"score"`
	Context string  `json:"context"`
}

// Digest is a synthesized narrative over a date range.
type Digest struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	CreatedAt time.Time `json:"created_at"`
	FilePath  string    `json:"file_path"` // Archive location
}

// PromptRecord is an audit entry for one model call.
type PromptRecord struct {
	ID             int64     `json:"id"`
	PromptText     string    `json:"prompt_text"`
	ResponseText   string    `json:"response_text"`
	ResponseFormat string    `json:"response_format"`
	Temperature    *float64  `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens"`
	CreatedAt      time.Time `json:"created_at"`
}
