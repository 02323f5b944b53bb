package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"octopus/internal/core"
)

// postgresDigestRepo implements DigestRepository for PostgreSQL
type postgresDigestRepo struct {
	db *sql.DB
}

func (r *postgresDigestRepo) ListRelevantItems(ctx context.Context, start, end time.Time, tags []string, minScore float64) ([]core.ProcessedItem, error) {
	query := `
		SELECT DISTINCT p.id, p.created_at, p.summary, p.related_item_type, p.related_item_id
		FROM processed_stories p
		JOIN item_tag_relations r ON r.item_id = p.id
		JOIN item_tags t ON t.id = r.tag_id
		WHERE p.created_at >= $1
		  AND p.created_at < $2
		  AND t.name = ANY($3)
		  AND r.relation_value >= $4
		ORDER BY p.created_at DESC, p.id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, start.UTC(), end.UTC(), pq.StringArray(tags), minScore)
	if err != nil {
		return nil, fmt.Errorf("failed to query relevant items: %w", err)
	}
	items, err := scanProcessedItems(rows)
	if err != nil {
		return nil, err
	}
	if err := loadRelations(ctx, r.db, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *postgresDigestRepo) ResolveView(ctx context.Context, ref core.RelatedItem) (core.RawItemView, error) {
	return resolveView(ctx, r.db, ref)
}

func (r *postgresDigestRepo) CreateDigest(ctx context.Context, d *core.Digest, itemIDs []int64) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO digests (content, start_date, end_date, created_at, file_path)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, d.Content, d.StartDate.UTC(), d.EndDate.UTC(), created.UTC(), d.FilePath).Scan(&d.ID, &d.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert digest: %w", err)
		}

		for _, id := range itemIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO digest_stories (digest_id, processed_item_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, d.ID, id)
			if err != nil {
				return fmt.Errorf("failed to link digest story: %w", err)
			}
		}
		return nil
	})
}

// scanProcessedItems reads (id, created_at, summary, type, related id) rows
// and closes them
func scanProcessedItems(rows *sql.Rows) ([]core.ProcessedItem, error) {
	defer rows.Close()

	var items []core.ProcessedItem
	for rows.Next() {
		var item core.ProcessedItem
		var kind string
		var relatedID int64
		if err := rows.Scan(&item.ID, &item.CreatedAt, &item.Summary, &kind, &relatedID); err != nil {
			return nil, fmt.Errorf("failed to scan processed item: %w", err)
		}
		ref, err := core.ParseRelatedItem(kind, relatedID)
		if err != nil {
			return nil, err
		}
		item.Related = ref
		items = append(items, item)
	}
	return items, rows.Err()
}
