// Package maintenance holds the housekeeping jobs run against the store:
// cleanup cascades, URL re-normalization and tag revision
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"octopus/internal/core"
	"octopus/internal/logger"
)

// DefaultEmailRetention is how long processed digest emails are kept
const DefaultEmailRetention = 30 * 24 * time.Hour

// ItemStore finds processed items and tag relations to clean up
type ItemStore interface {
	ListDuplicateIDs(ctx context.Context) ([]int64, error)
	ListEmptyEmailItemIDs(ctx context.Context) ([]int64, error)
	CountZeroScoreRelations(ctx context.Context) (int64, error)
	DeleteZeroScoreRelations(ctx context.Context) (int64, error)
}

// EmailStore finds digest emails past retention
type EmailStore interface {
	ListExpiredEmails(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// Cascader runs the multi-table deletes
type Cascader interface {
	DeleteProcessedItems(ctx context.Context, ids []int64) (int64, error)
	DeleteDigestEmail(ctx context.Context, id int64) error
}

// Cleaner removes stale and redundant rows
type Cleaner struct {
	items     ItemStore
	emails    EmailStore
	cascade   Cascader
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// NewCleaner creates a cleaner. A non-positive retention uses
// DefaultEmailRetention.
func NewCleaner(items ItemStore, emails EmailStore, cascade Cascader, retention time.Duration) *Cleaner {
	if retention <= 0 {
		retention = DefaultEmailRetention
	}
	return &Cleaner{
		items:     items,
		emails:    emails,
		cascade:   cascade,
		retention: retention,
		now:       time.Now,
		log:       logger.Get(),
	}
}

// DeleteDuplicates keeps the newest processed item per raw item and deletes
// the rest
func (c *Cleaner) DeleteDuplicates(ctx context.Context) (int64, error) {
	ids, err := c.items.ListDuplicateIDs(ctx)
	if err != nil {
		return 0, err
	}
	return c.deleteItems(ctx, ids, "duplicate")
}

// DeleteEmptyContent deletes processed email items whose story never got
// article text
func (c *Cleaner) DeleteEmptyContent(ctx context.Context) (int64, error) {
	ids, err := c.items.ListEmptyEmailItemIDs(ctx)
	if err != nil {
		return 0, err
	}
	return c.deleteItems(ctx, ids, "empty content")
}

func (c *Cleaner) deleteItems(ctx context.Context, ids []int64, reason string) (int64, error) {
	if len(ids) == 0 {
		c.log.Info("Nothing to clean up", "reason", reason)
		return 0, nil
	}
	n, err := c.cascade.DeleteProcessedItems(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s items: %w", reason, err)
	}
	c.log.Info("Deleted processed items", "reason", reason, "count", n)
	return n, nil
}

// DeleteZeroScores removes tag relations scored 0. With dryRun it only
// counts them.
func (c *Cleaner) DeleteZeroScores(ctx context.Context, dryRun bool) (int64, error) {
	if dryRun {
		n, err := c.items.CountZeroScoreRelations(ctx)
		if err != nil {
			return 0, err
		}
		c.log.Info("Would delete zero-score tag relations", "count", n)
		return n, nil
	}
	n, err := c.items.DeleteZeroScoreRelations(ctx)
	if err != nil {
		return 0, err
	}
	c.log.Info("Deleted zero-score tag relations", "count", n)
	return n, nil
}

// DeleteOldEmails removes digest emails older than the retention whose links
// are all processed. Their email stories stay.
func (c *Cleaner) DeleteOldEmails(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.retention)
	ids, err := c.emails.ListExpiredEmails(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		if err := c.cascade.DeleteDigestEmail(ctx, id); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("failed to delete digest email %d: %w", id, err)
		}
		deleted++
	}
	c.log.Info("Deleted old digest emails", "count", deleted, "cutoff", cutoff.Format(time.RFC3339))
	return deleted, nil
}
