package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"octopus/internal/core"
)

// postgresContentRepo implements ContentRepository for PostgreSQL
type postgresContentRepo struct {
	db *sql.DB
}

func (r *postgresContentRepo) GetContent(ctx context.Context, url string) (*core.ContentCacheEntry, error) {
	query := `
		SELECT url, target_content, extracted_at, last_checked_at
		FROM url_contents WHERE url = $1
	`
	var e core.ContentCacheEntry
	var content sql.NullString
	err := r.db.QueryRowContext(ctx, query, url).Scan(&e.URL, &content, &e.ExtractedAt, &e.LastCheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	e.Content, e.HasContent = content.String, content.Valid
	return &e, nil
}

func (r *postgresContentRepo) UpsertContent(ctx context.Context, url, content string) error {
	query := `
		INSERT INTO url_contents (url, target_content, extracted_at, last_checked_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (url) DO UPDATE SET
			target_content = EXCLUDED.target_content,
			extracted_at = EXCLUDED.extracted_at,
			last_checked_at = EXCLUDED.last_checked_at
	`
	if _, err := r.db.ExecContext(ctx, query, url, content); err != nil {
		return fmt.Errorf("failed to upsert content: %w", err)
	}
	return nil
}
