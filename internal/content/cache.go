// Package content resolves article text for story URLs, caching extractions
// so each normalized URL is fetched from the extraction service once.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"octopus/internal/core"
	"octopus/internal/logger"
)

// Store persists extracted content keyed by normalized URL
type Store interface {
	// GetContent returns core.ErrNotFound when no entry exists
	GetContent(ctx context.Context, url string) (*core.ContentCacheEntry, error)
	// UpsertContent creates or replaces the entry, stamping both timestamps
	UpsertContent(ctx context.Context, url, content string) error
}

// Extractor turns a URL into article text. An empty result with a nil error
// means the page had no extractable text.
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Cache is a read-through cache in front of an Extractor
type Cache struct {
	store     Store
	extractor Extractor
	log       *slog.Logger
}

// NewCache creates a content cache
func NewCache(store Store, extractor Extractor) *Cache {
	return &Cache{
		store:     store,
		extractor: extractor,
		log:       logger.Get(),
	}
}

// GetOrExtract returns cached content for url, extracting and storing it on a
// miss. Extraction failures yield ("", false, nil) and leave the store
// untouched; only store errors are returned.
func (c *Cache) GetOrExtract(ctx context.Context, url string) (string, bool, error) {
	if !Extractable(url) {
		c.log.Debug("Skipping non-http URL", "url", url)
		return "", false, nil
	}

	entry, err := c.store.GetContent(ctx, url)
	switch {
	case err == nil && entry.HasContent && entry.Content != "":
		return entry.Content, true, nil
	case err != nil && !errors.Is(err, core.ErrNotFound):
		return "", false, fmt.Errorf("failed to look up content for %s: %w", url, err)
	}

	text, err := c.extractor.Extract(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		c.log.Warn("Content extraction failed", "url", url, "error", err.Error())
		return "", false, nil
	}
	if strings.TrimSpace(text) == "" {
		c.log.Info("No content extracted", "url", url)
		return "", false, nil
	}

	if err := c.store.UpsertContent(ctx, url, text); err != nil {
		return "", false, fmt.Errorf("failed to store content for %s: %w", url, err)
	}
	return text, true, nil
}

// Extractable reports whether url uses a scheme the extractors can fetch
func Extractable(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
