package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"octopus/internal/core"
)

// postgresProcessedRepo implements ProcessedItemRepository for PostgreSQL
type postgresProcessedRepo struct {
	db *sql.DB
}

func (r *postgresProcessedRepo) EnsureTags(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := getOrCreateTag(ctx, r.db, name); err != nil {
			return err
		}
	}
	return nil
}

// SaveAnalysis upserts the item row, then rewrites its relations, all in one
// transaction. Regeneration keeps the item id and resets created_at.
func (r *postgresProcessedRepo) SaveAnalysis(ctx context.Context, item *core.ProcessedItem) error {
	if item.Related == nil {
		return errors.New("processed item has no related item")
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO processed_stories (created_at, summary, related_item_type, related_item_id)
			VALUES (NOW(), $1, $2, $3)
			ON CONFLICT (related_item_type, related_item_id) DO UPDATE SET
				summary = EXCLUDED.summary,
				created_at = EXCLUDED.created_at
			RETURNING id, created_at
		`
		err := tx.QueryRowContext(ctx, query,
			item.Summary, string(item.Related.Kind()), item.Related.RawID(),
		).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert processed item: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM item_tag_relations WHERE item_id = $1`, item.ID); err != nil {
			return fmt.Errorf("failed to clear tag relations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM item_entity_relations WHERE item_id = $1`, item.ID); err != nil {
			return fmt.Errorf("failed to clear entity relations: %w", err)
		}

		for _, tag := range item.Tags {
			tagID, err := getOrCreateTag(ctx, tx, tag.Name)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO item_tag_relations (item_id, tag_id, relation_value) VALUES ($1, $2, $3)
				ON CONFLICT (item_id, tag_id) DO UPDATE SET relation_value = EXCLUDED.relation_value
			`, item.ID, tagID, tag.Score)
			if err != nil {
				return fmt.Errorf("failed to insert tag relation: %w", err)
			}
		}

		for _, e := range item.Entities {
			entityID, err := getOrCreateEntity(ctx, tx, e.Name, e.Type)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO item_entity_relations (item_id, entity_id, relation_value, context) VALUES ($1, $2, $3, $4)
				ON CONFLICT (item_id, entity_id) DO UPDATE SET
					relation_value = EXCLUDED.relation_value,
					context = EXCLUDED.context
			`, item.ID, entityID, e.Score, e.Context)
			if err != nil {
				return fmt.Errorf("failed to insert entity relation: %w", err)
			}
		}
		return nil
	})
}

func (r *postgresProcessedRepo) GetByRelated(ctx context.Context, ref core.RelatedItem) (*core.ProcessedItem, error) {
	query := `
		SELECT id, created_at, summary FROM processed_stories
		WHERE related_item_type = $1 AND related_item_id = $2
	`
	item := core.ProcessedItem{Related: ref}
	err := r.db.QueryRowContext(ctx, query, string(ref.Kind()), ref.RawID()).Scan(&item.ID, &item.CreatedAt, &item.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("processed item for %s %d: %w", ref.Kind(), ref.RawID(), core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed item: %w", err)
	}

	items := []core.ProcessedItem{item}
	if err := loadRelations(ctx, r.db, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

func (r *postgresProcessedRepo) ListTags(ctx context.Context) ([]core.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM item_tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []core.Tag
	for rows.Next() {
		var t core.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (r *postgresProcessedRepo) GetOrCreateTag(ctx context.Context, name string) (int64, error) {
	return getOrCreateTag(ctx, r.db, name)
}

func (r *postgresProcessedRepo) ListTagRelations(ctx context.Context, tagID int64) ([]TagRelation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_id, tag_id, relation_value FROM item_tag_relations WHERE tag_id = $1 ORDER BY item_id`, tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tag relations: %w", err)
	}
	defer rows.Close()

	var rels []TagRelation
	for rows.Next() {
		var rel TagRelation
		if err := rows.Scan(&rel.ItemID, &rel.TagID, &rel.Score); err != nil {
			return nil, fmt.Errorf("failed to scan tag relation: %w", err)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

func (r *postgresProcessedRepo) AddTagRelation(ctx context.Context, rel TagRelation) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO item_tag_relations (item_id, tag_id, relation_value) VALUES ($1, $2, $3)
		ON CONFLICT (item_id, tag_id) DO NOTHING
	`, rel.ItemID, rel.TagID, rel.Score)
	if err != nil {
		return false, fmt.Errorf("failed to add tag relation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *postgresProcessedRepo) DeleteTagRelations(ctx context.Context, tagID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM item_tag_relations WHERE tag_id = $1`, tagID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tag relations: %w", err)
	}
	return res.RowsAffected()
}

func (r *postgresProcessedRepo) CountZeroScoreRelations(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM item_tag_relations WHERE relation_value = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count zero score relations: %w", err)
	}
	return n, nil
}

func (r *postgresProcessedRepo) DeleteZeroScoreRelations(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM item_tag_relations WHERE relation_value = 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete zero score relations: %w", err)
	}
	return res.RowsAffected()
}

func (r *postgresProcessedRepo) ListDuplicateIDs(ctx context.Context) ([]int64, error) {
	query := `
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY related_item_type, related_item_id
				ORDER BY created_at DESC, id DESC
			) AS rn
			FROM processed_stories
		) ranked
		WHERE rn > 1
		ORDER BY id
	`
	ids, err := queryIDs(ctx, r.db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate items: %w", err)
	}
	return ids, nil
}

func (r *postgresProcessedRepo) ListEmptyEmailItemIDs(ctx context.Context) ([]int64, error) {
	query := `
		SELECT p.id FROM processed_stories p
		JOIN email_stories s ON s.id = p.related_item_id
		WHERE p.related_item_type = $1
		  AND (s.target_content IS NULL OR btrim(s.target_content) = '')
		ORDER BY p.id
	`
	ids, err := queryIDs(ctx, r.db, query, string(core.KindEmail))
	if err != nil {
		return nil, fmt.Errorf("failed to list empty email items: %w", err)
	}
	return ids, nil
}

// getOrCreateTag tolerates concurrent creators through ON CONFLICT
func getOrCreateTag(ctx context.Context, q queryer, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO item_tags (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = q.QueryRowContext(ctx, `SELECT id FROM item_tags WHERE name = $1`, name).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get or create tag %q: %w", name, err)
	}
	return id, nil
}

func getOrCreateEntity(ctx context.Context, q queryer, name, entityType string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO item_entities (name, type) VALUES ($1, $2) ON CONFLICT (name, type) DO NOTHING RETURNING id`,
		name, entityType,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = q.QueryRowContext(ctx, `SELECT id FROM item_entities WHERE name = $1 AND type = $2`, name, entityType).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get or create entity %q: %w", name, err)
	}
	return id, nil
}

// loadRelations fills Tags and Entities of items in two queries
func loadRelations(ctx context.Context, q queryer, items []core.ProcessedItem) error {
	if len(items) == 0 {
		return nil
	}
	index := make(map[int64]int, len(items))
	ids := make([]int64, len(items))
	for i, item := range items {
		index[item.ID] = i
		ids[i] = item.ID
	}

	rows, err := q.QueryContext(ctx, `
		SELECT r.item_id, t.name, r.relation_value
		FROM item_tag_relations r JOIN item_tags t ON t.id = r.tag_id
		WHERE r.item_id = ANY($1)
		ORDER BY r.item_id, r.relation_value DESC, t.name
	`, pq.Int64Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load tags: %w", err)
	}
	for rows.Next() {
		var itemID int64
		var tag core.TagScore
		if err := rows.Scan(&itemID, &tag.Name, &tag.Score); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan tag: %w", err)
		}
		i := index[itemID]
		items[i].Tags = append(items[i].Tags, tag)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT r.item_id, e.name, e.type, r.relation_value, r.context
		FROM item_entity_relations r JOIN item_entities e ON e.id = r.entity_id
		WHERE r.item_id = ANY($1)
		ORDER BY r.item_id, r.relation_value DESC, e.name
	`, pq.Int64Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var itemID int64
		var e core.EntityMention
		if err := rows.Scan(&itemID, &e.Name, &e.Type, &e.Score, &e.Context); err != nil {
			return fmt.Errorf("failed to scan entity: %w", err)
		}
		i := index[itemID]
		items[i].Entities = append(items[i].Entities, e)
	}
	return rows.Err()
}
