package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"octopus/internal/core"
)

// postgresTelegramRepo implements TelegramRepository for PostgreSQL
type postgresTelegramRepo struct {
	db *sql.DB
}

func (r *postgresTelegramRepo) CreateIfAbsent(ctx context.Context, story *core.TelegramStory) (bool, error) {
	query := `
		INSERT INTO telegram_stories (channel_id, message_id, content, urls, posted_at, discovered_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (channel_id, message_id) DO NOTHING
		RETURNING id, discovered_at
	`
	var urls interface{}
	if story.URLs != nil {
		urls = pq.StringArray(story.URLs)
	}
	err := r.db.QueryRowContext(ctx, query,
		story.ChannelID, story.MessageID, story.Content, urls, story.PostedAt.UTC(),
	).Scan(&story.ID, &story.DiscoveredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert telegram story: %w", err)
	}
	return true, nil
}

func (r *postgresTelegramRepo) MaxMessageID(ctx context.Context, channelID string) (int64, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(message_id) FROM telegram_stories WHERE channel_id = $1`, channelID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest message id: %w", err)
	}
	return max.Int64, nil
}

func (r *postgresTelegramRepo) GetTelegramStory(ctx context.Context, id int64) (*core.TelegramStory, error) {
	query := `
		SELECT id, channel_id, message_id, content, urls, posted_at, discovered_at
		FROM telegram_stories WHERE id = $1
	`
	var s core.TelegramStory
	var urls pq.StringArray
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.ChannelID, &s.MessageID, &s.Content, &urls, &s.PostedAt, &s.DiscoveredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("telegram story %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get telegram story: %w", err)
	}
	// A NULL column scans to a nil array, which means not yet extracted
	if urls != nil {
		s.URLs = []string(urls)
	}
	return &s, nil
}

func (r *postgresTelegramRepo) ListEnrichCandidates(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]int64, error) {
	query := `
		SELECT t.id FROM telegram_stories t
		WHERE t.id > $1
		  AND ($2 OR NOT EXISTS (
			SELECT 1 FROM processed_stories p
			WHERE p.related_item_type = $3 AND p.related_item_id = t.id
		  ))
		ORDER BY t.id
		LIMIT $4
	`
	ids, err := queryIDs(ctx, r.db, query, afterID, includeProcessed, string(core.KindTelegram), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list telegram candidates: %w", err)
	}
	return ids, nil
}

func (r *postgresTelegramRepo) UpdateURLs(ctx context.Context, id int64, urls []string) error {
	if urls == nil {
		urls = []string{}
	}
	_, err := r.db.ExecContext(ctx, `UPDATE telegram_stories SET urls = $2 WHERE id = $1`, id, pq.StringArray(urls))
	if err != nil {
		return fmt.Errorf("failed to update telegram urls: %w", err)
	}
	return nil
}
