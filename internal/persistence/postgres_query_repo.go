package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"octopus/internal/core"
)

// Listing limits
const (
	DefaultStoryLimit  = 20
	MaxStoryLimit      = 50
	DefaultPromptLimit = 20
	MaxPromptLimit     = 100
)

// postgresQueryRepo implements QueryRepository for PostgreSQL
type postgresQueryRepo struct {
	db *sql.DB
}

// storiesQuery builds the listing query for filter
func storiesQuery(filter StoryFilter) sq.SelectBuilder {
	q := psql.Select(
		"p.id", "p.created_at", "p.summary", "p.related_item_type", "p.related_item_id",
		"COALESCE(MAX(r.relation_value), 0) AS max_score",
	).
		From("processed_stories p").
		LeftJoin("item_tag_relations r ON r.item_id = p.id").
		GroupBy("p.id")

	if !filter.Start.IsZero() {
		q = q.Where(sq.GtOrEq{"p.created_at": filter.Start.UTC()})
	}
	if !filter.End.IsZero() {
		q = q.Where(sq.Lt{"p.created_at": filter.End.UTC()})
	}
	if filter.Kind != "" {
		q = q.Where(sq.Eq{"p.related_item_type": string(filter.Kind)})
	}
	if filter.MinScore > 0 {
		q = q.Having("MAX(r.relation_value) >= ?", filter.MinScore)
	}

	if filter.OrderBy == OrderByScore {
		q = q.OrderBy("max_score DESC", "p.created_at DESC", "p.id DESC")
	} else {
		q = q.OrderBy("p.created_at DESC", "p.id DESC")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultStoryLimit
	}
	if limit > MaxStoryLimit {
		limit = MaxStoryLimit
	}
	return q.Limit(uint64(limit))
}

func (r *postgresQueryRepo) ListStories(ctx context.Context, filter StoryFilter) ([]StoryView, error) {
	query, args, err := storiesQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stories query: %w", err)
	}
	return r.stories(ctx, query, args...)
}

func (r *postgresQueryRepo) GetStory(ctx context.Context, ref core.RelatedItem) (*StoryView, error) {
	query, args, err := psql.Select(
		"p.id", "p.created_at", "p.summary", "p.related_item_type", "p.related_item_id",
		"COALESCE(MAX(r.relation_value), 0) AS max_score",
	).
		From("processed_stories p").
		LeftJoin("item_tag_relations r ON r.item_id = p.id").
		Where(sq.Eq{"p.related_item_type": string(ref.Kind()), "p.related_item_id": ref.RawID()}).
		GroupBy("p.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build story query: %w", err)
	}

	views, err := r.stories(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, fmt.Errorf("story %s %d: %w", ref.Kind(), ref.RawID(), core.ErrNotFound)
	}
	return &views[0], nil
}

// stories runs a query selecting processed item columns plus max_score, then
// joins relations and raw item details
func (r *postgresQueryRepo) stories(ctx context.Context, query string, args ...interface{}) ([]StoryView, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories: %w", err)
	}
	defer rows.Close()

	var items []core.ProcessedItem
	var scores []float64
	for rows.Next() {
		var item core.ProcessedItem
		var kind string
		var relatedID int64
		var score float64
		if err := rows.Scan(&item.ID, &item.CreatedAt, &item.Summary, &kind, &relatedID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		if item.Related, err = core.ParseRelatedItem(kind, relatedID); err != nil {
			return nil, err
		}
		items = append(items, item)
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	return r.views(ctx, items, scores)
}

func (r *postgresQueryRepo) views(ctx context.Context, items []core.ProcessedItem, scores []float64) ([]StoryView, error) {
	if err := loadRelations(ctx, r.db, items); err != nil {
		return nil, err
	}

	views := make([]StoryView, 0, len(items))
	for i, item := range items {
		v := StoryView{
			ProcessedItemID: item.ID,
			Type:            item.Related.Kind(),
			ID:              item.Related.RawID(),
			Summary:         item.Summary,
			CreatedAt:       item.CreatedAt,
			Tags:            item.Tags,
			Entities:        item.Entities,
		}
		if scores != nil {
			v.MaxScore = scores[i]
		} else {
			for _, t := range item.Tags {
				if t.Score > v.MaxScore {
					v.MaxScore = t.Score
				}
			}
		}

		raw, err := resolveView(ctx, r.db, item.Related)
		switch {
		case errors.Is(err, core.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			v.Title = raw.Title
			if item.Related.Kind() != core.KindTelegram {
				v.URL = raw.Locator
			}
		}
		if v.Tags == nil {
			v.Tags = []core.TagScore{}
		}
		if v.Entities == nil {
			v.Entities = []core.EntityMention{}
		}
		views = append(views, v)
	}
	return views, nil
}

func (r *postgresQueryRepo) ListDigests(ctx context.Context, start, end time.Time) ([]DigestView, error) {
	q := psql.Select("id", "content", "start_date", "end_date", "created_at", "file_path").
		From("digests").
		OrderBy("created_at DESC", "id DESC")
	if !start.IsZero() {
		q = q.Where(sq.GtOrEq{"start_date": start.UTC()})
	}
	if !end.IsZero() {
		q = q.Where(sq.LtOrEq{"end_date": end.UTC()})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build digests query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list digests: %w", err)
	}
	var digests []DigestView
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		digests = append(digests, DigestView{Digest: *d})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range digests {
		if digests[i].Stories, err = r.digestStories(ctx, digests[i].ID); err != nil {
			return nil, err
		}
	}
	return digests, nil
}

func (r *postgresQueryRepo) GetDigest(ctx context.Context, id int64) (*DigestView, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, content, start_date, end_date, created_at, file_path FROM digests WHERE id = $1`, id)
	d, err := scanDigest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("digest %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	view := &DigestView{Digest: *d}
	if view.Stories, err = r.digestStories(ctx, id); err != nil {
		return nil, err
	}
	return view, nil
}

func (r *postgresQueryRepo) digestStories(ctx context.Context, digestID int64) ([]StoryView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.created_at, p.summary, p.related_item_type, p.related_item_id
		FROM digest_stories ds
		JOIN processed_stories p ON p.id = ds.processed_item_id
		WHERE ds.digest_id = $1
		ORDER BY p.created_at DESC, p.id DESC
	`, digestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest stories: %w", err)
	}
	items, err := scanProcessedItems(rows)
	if err != nil {
		return nil, err
	}
	return r.views(ctx, items, nil)
}

func scanDigest(row rowScanner) (*core.Digest, error) {
	var d core.Digest
	if err := row.Scan(&d.ID, &d.Content, &d.StartDate, &d.EndDate, &d.CreatedAt, &d.FilePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan digest: %w", err)
	}
	return &d, nil
}

// promptsQuery builds the listing query for filter
func promptsQuery(filter PromptFilter) sq.SelectBuilder {
	q := psql.Select("id", "prompt_text", "response_text", "response_format", "temperature", "max_tokens", "created_at").
		From("prompts").
		OrderBy("created_at DESC", "id DESC")
	if filter.Format != "" {
		q = q.Where(sq.Eq{"response_format": filter.Format})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPromptLimit
	}
	if limit > MaxPromptLimit {
		limit = MaxPromptLimit
	}
	q = q.Limit(uint64(limit))
	if filter.Skip > 0 {
		q = q.Offset(uint64(filter.Skip))
	}
	return q
}

func (r *postgresQueryRepo) ListPrompts(ctx context.Context, filter PromptFilter) ([]core.PromptRecord, error) {
	query, args, err := promptsQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build prompts query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	prompts := []core.PromptRecord{}
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, *p)
	}
	return prompts, rows.Err()
}

func (r *postgresQueryRepo) GetPrompt(ctx context.Context, id int64) (*core.PromptRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, prompt_text, response_text, response_format, temperature, max_tokens, created_at
		FROM prompts WHERE id = $1
	`, id)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prompt %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}
	return p, nil
}
