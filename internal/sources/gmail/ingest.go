package gmail

import (
	"context"
	"fmt"
	"log/slog"

	gmailapi "google.golang.org/api/gmail/v1"

	"octopus/internal/core"
	"octopus/internal/logger"
)

// Defaults
const (
	DefaultQuery      = "(label:AI OR label:tech) newer_than:30d"
	DefaultMaxResults = 200
)

// MessageAPI lists and fetches messages
type MessageAPI interface {
	ListMessageIDs(ctx context.Context, query string, max int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*gmailapi.Message, error)
}

// Store persists digest emails
type Store interface {
	EmailExists(ctx context.Context, messageID string) (bool, error)
	SaveDigestEmail(ctx context.Context, email *core.DigestEmail, links []core.DigestLink) (int, error)
}

// URLNormalizer canonicalizes link URLs
type URLNormalizer interface {
	Normalize(ctx context.Context, raw string) string
}

// Stats counts the outcome of an ingestion run
type Stats struct {
	Emails  int
	Links   int
	Skipped int
	Failed  int
}

func (s Stats) String() string {
	return fmt.Sprintf("emails=%d links=%d skipped=%d failed=%d", s.Emails, s.Links, s.Skipped, s.Failed)
}

// Ingester copies labeled newsletter emails and their links into the store
type Ingester struct {
	api        MessageAPI
	store      Store
	normalizer URLNormalizer
	query      string
	maxResults int64
	log        *slog.Logger
}

// NewIngester creates an ingester. Empty query and non-positive maxResults
// use the defaults.
func NewIngester(api MessageAPI, store Store, normalizer URLNormalizer, query string, maxResults int64) *Ingester {
	if query == "" {
		query = DefaultQuery
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Ingester{
		api:        api,
		store:      store,
		normalizer: normalizer,
		query:      query,
		maxResults: maxResults,
		log:        logger.Get(),
	}
}

// Ingest stores every matching message that is not yet known
func (i *Ingester) Ingest(ctx context.Context) (Stats, error) {
	var stats Stats

	ids, err := i.api.ListMessageIDs(ctx, i.query, i.maxResults)
	if err != nil {
		return stats, err
	}
	i.log.Info("Listed digest emails", "count", len(ids), "query", i.query)

	for _, id := range ids {
		exists, err := i.store.EmailExists(ctx, id)
		if err != nil {
			return stats, err
		}
		if exists {
			stats.Skipped++
			continue
		}

		msg, err := i.api.GetMessage(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			i.log.Warn("Failed to fetch digest email", "message_id", id, "error", err)
			stats.Failed++
			continue
		}

		email, links := i.convert(ctx, id, msg)
		created, err := i.store.SaveDigestEmail(ctx, email, links)
		if err != nil {
			return stats, fmt.Errorf("failed to save email %s: %w", id, err)
		}
		stats.Emails++
		stats.Links += created
		i.log.Debug("Stored digest email", "message_id", id, "subject", email.Subject, "links", created)
	}

	i.log.Info("Digest emails ingested", "stats", stats.String())
	return stats, nil
}

func (i *Ingester) convert(ctx context.Context, id string, msg *gmailapi.Message) (*core.DigestEmail, []core.DigestLink) {
	meta := ParseMetadata(msg)
	text, htmlBody := Bodies(msg)

	email := &core.DigestEmail{
		MessageID:   id,
		Sender:      meta.Sender,
		Subject:     meta.Subject,
		ReceivedAt:  meta.ReceivedAt,
		ContentText: text,
		ContentHTML: htmlBody,
	}

	seen := make(map[string]bool)
	var links []core.DigestLink
	for _, l := range ExtractLinks(htmlBody) {
		u := l.URL
		if i.normalizer != nil {
			u = i.normalizer.Normalize(ctx, u)
		}
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		links = append(links, core.DigestLink{URL: u, Title: l.Title, Context: l.Context})
	}
	return email, links
}
