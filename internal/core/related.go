package core

import "fmt"

// ItemKind is the persisted discriminant of a RelatedItem.
type ItemKind string

const (
	KindHackerNews ItemKind = "hacker_news_story"
	KindEmail      ItemKind = "email_story"
	KindTelegram   ItemKind = "telegram_story"
)

// Kinds lists every source kind in a stable order.
var Kinds = []ItemKind{KindHackerNews, KindEmail, KindTelegram}

// RelatedItem points a ProcessedItem at the raw item it was produced from.
// The set of implementations is closed: HackerNewsRef, EmailRef, TelegramRef.
type RelatedItem interface {
	Kind() ItemKind
	RawID() int64
	relatedItem()
}

// HackerNewsRef refers to a row in stories.
type HackerNewsRef struct{ StoryID int64 }

// EmailRef refers to a row in email_stories.
type EmailRef struct{ StoryID int64 }

// TelegramRef refers to a row in telegram_stories.
type TelegramRef struct{ StoryID int64 }

func (r HackerNewsRef) Kind() ItemKind { return KindHackerNews }
func (r HackerNewsRef) RawID() int64   { return r.StoryID }
func (HackerNewsRef) relatedItem()     {}

func (r EmailRef) Kind() ItemKind { return KindEmail }
func (r EmailRef) RawID() int64   { return r.StoryID }
func (EmailRef) relatedItem()     {}

func (r TelegramRef) Kind() ItemKind { return KindTelegram }
func (r TelegramRef) RawID() int64   { return r.StoryID }
func (TelegramRef) relatedItem()     {}

// NewRelatedItem wraps id in the variant matching kind.
func NewRelatedItem(kind ItemKind, id int64) (RelatedItem, error) {
	switch kind {
	case KindHackerNews:
		return HackerNewsRef{StoryID: id}, nil
	case KindEmail:
		return EmailRef{StoryID: id}, nil
	case KindTelegram:
		return TelegramRef{StoryID: id}, nil
	}
	return nil, fmt.Errorf("unknown related item type %q", kind)
}

// ParseRelatedItem rebuilds a RelatedItem from its persisted columns.
func ParseRelatedItem(kind string, id int64) (RelatedItem, error) {
	return NewRelatedItem(ItemKind(kind), id)
}

// ParseKind validates a kind name given on the command line or in a query.
func ParseKind(s string) (ItemKind, error) {
	switch s {
	case "hn", "hackernews", string(KindHackerNews):
		return KindHackerNews, nil
	case "email", string(KindEmail):
		return KindEmail, nil
	case "telegram", string(KindTelegram):
		return KindTelegram, nil
	}
	return "", fmt.Errorf("unknown source %q (expected hn, email or telegram)", s)
}

// RawItemView is the source-independent projection used to render an item.
type RawItemView struct {
	Title   string // Defaults to "Untitled" at render time
	Locator string // URL or other locator shown after the title
	Content string // Full body used for digest context
}
