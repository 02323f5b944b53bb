package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"octopus/internal/core"
)

// postgresHNRepo implements HNRepository for PostgreSQL
type postgresHNRepo struct {
	db *sql.DB
}

func (r *postgresHNRepo) CreateStory(ctx context.Context, story *core.HNStory) error {
	query := `
		INSERT INTO stories (id, title, url, content, target_content, posted_at, "user")
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		story.ID, story.Title, nullString(story.URL), nullString(story.Content),
		nullString(story.TargetContent), story.PostedAt.UTC(), story.User,
	)
	if err != nil {
		return fmt.Errorf("failed to insert story: %w", err)
	}
	return nil
}

func (r *postgresHNRepo) GetStory(ctx context.Context, id int64) (*core.HNStory, error) {
	query := `
		SELECT id, title, url, content, target_content, posted_at, "user"
		FROM stories WHERE id = $1
	`
	var s core.HNStory
	var url, content, target sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.Title, &url, &content, &target, &s.PostedAt, &s.User,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("story %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}
	s.URL, s.Content, s.TargetContent = url.String, content.String, target.String
	return &s, nil
}

func (r *postgresHNRepo) KnownStoryIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	known := make(map[int64]bool)
	if len(ids) == 0 {
		return known, nil
	}
	found, err := queryIDs(ctx, r.db, `SELECT id FROM stories WHERE id = ANY($1)`, pq.Int64Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query known stories: %w", err)
	}
	for _, id := range found {
		known[id] = true
	}
	return known, nil
}

func (r *postgresHNRepo) ListStoryIDs(ctx context.Context) ([]int64, error) {
	ids, err := queryIDs(ctx, r.db, `SELECT id FROM stories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return ids, nil
}

func (r *postgresHNRepo) ListEnrichCandidates(ctx context.Context, afterID int64, limit, minVotes int, includeProcessed bool) ([]int64, error) {
	query := `
		SELECT s.id
		FROM stories s
		JOIN LATERAL (
			SELECT v.vote_count FROM story_votes v
			WHERE v.story_id = s.id
			ORDER BY v.tstamp DESC, v.id DESC
			LIMIT 1
		) latest ON TRUE
		WHERE s.id > $1
		  AND latest.vote_count > $2
		  AND ($3 OR NOT EXISTS (
			SELECT 1 FROM processed_stories p
			WHERE p.related_item_type = $4 AND p.related_item_id = s.id
		  ))
		ORDER BY s.id
		LIMIT $5
	`
	ids, err := queryIDs(ctx, r.db, query, afterID, minVotes, includeProcessed, string(core.KindHackerNews), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list story candidates: %w", err)
	}
	return ids, nil
}

func (r *postgresHNRepo) ListMissingContent(ctx context.Context) ([]core.HNStory, error) {
	query := `
		SELECT id, url FROM stories
		WHERE url IS NOT NULL AND url <> '' AND target_content IS NULL
		ORDER BY id
	`
	return r.listURLs(ctx, query)
}

func (r *postgresHNRepo) UpdateTargetContent(ctx context.Context, id int64, content string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE stories SET target_content = $2 WHERE id = $1`, id, content)
	if err != nil {
		return fmt.Errorf("failed to update story content: %w", err)
	}
	return nil
}

func (r *postgresHNRepo) ListURLs(ctx context.Context) ([]core.HNStory, error) {
	return r.listURLs(ctx, `SELECT id, url FROM stories WHERE url IS NOT NULL AND url <> '' ORDER BY id`)
}

func (r *postgresHNRepo) listURLs(ctx context.Context, query string) ([]core.HNStory, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list story urls: %w", err)
	}
	defer rows.Close()

	var stories []core.HNStory
	for rows.Next() {
		var s core.HNStory
		if err := rows.Scan(&s.ID, &s.URL); err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		stories = append(stories, s)
	}
	return stories, rows.Err()
}

func (r *postgresHNRepo) UpdateURL(ctx context.Context, id int64, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE stories SET url = $2 WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("failed to update story url: %w", err)
	}
	return nil
}

func (r *postgresHNRepo) URLTaken(ctx context.Context, url string, exceptID int64) (bool, error) {
	return exists(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM stories WHERE url = $1 AND id <> $2)`, url, exceptID)
}

func (r *postgresHNRepo) LatestVotes(ctx context.Context) (map[int64]int, error) {
	query := `
		SELECT DISTINCT ON (story_id) story_id, vote_count
		FROM story_votes
		ORDER BY story_id, tstamp DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest votes: %w", err)
	}
	defer rows.Close()

	votes := make(map[int64]int)
	for rows.Next() {
		var id int64
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes[id] = count
	}
	return votes, rows.Err()
}

func (r *postgresHNRepo) AddVote(ctx context.Context, vote core.HNVote) error {
	ts := vote.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO story_votes (story_id, vote_count, tstamp) VALUES ($1, $2, $3)`,
		vote.StoryID, vote.VoteCount, ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

func (r *postgresHNRepo) ListCommentRefreshCandidates(ctx context.Context, postedAfter, staleBefore time.Time) ([]int64, error) {
	query := `
		SELECT s.id
		FROM stories s
		LEFT JOIN story_comments c ON c.story_id = s.id
		WHERE s.posted_at >= $1
		GROUP BY s.id
		HAVING COUNT(c.id) = 0 OR MAX(c.posted_at) <= $2
		ORDER BY s.id
	`
	ids, err := queryIDs(ctx, r.db, query, postedAfter.UTC(), staleBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list comment refresh candidates: %w", err)
	}
	return ids, nil
}

func (r *postgresHNRepo) ListComments(ctx context.Context, storyID int64) ([]core.HNComment, error) {
	query := `
		SELECT id, story_id, parent_id, content, posted_at, "user", deleted
		FROM story_comments WHERE story_id = $1
		ORDER BY posted_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []core.HNComment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

func (r *postgresHNRepo) GetComment(ctx context.Context, id int64) (*core.HNComment, error) {
	query := `
		SELECT id, story_id, parent_id, content, posted_at, "user", deleted
		FROM story_comments WHERE id = $1
	`
	c, err := scanComment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comment %d: %w", id, core.ErrNotFound)
	}
	return c, err
}

func (r *postgresHNRepo) UpsertComment(ctx context.Context, c *core.HNComment) error {
	query := `
		INSERT INTO story_comments (id, story_id, parent_id, content, posted_at, "user", deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			deleted = EXCLUDED.deleted
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.StoryID, nullInt64(c.ParentID), nullString(c.Content), c.PostedAt.UTC(), c.User, c.Deleted,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert comment: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanComment(row rowScanner) (*core.HNComment, error) {
	var c core.HNComment
	var parent sql.NullInt64
	var content sql.NullString
	if err := row.Scan(&c.ID, &c.StoryID, &parent, &content, &c.PostedAt, &c.User, &c.Deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan comment: %w", err)
	}
	c.ParentID, c.Content = parent.Int64, content.String
	return &c, nil
}

// queryIDs runs a query returning a single bigint column
func queryIDs(ctx context.Context, q queryer, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func exists(ctx context.Context, q queryer, query string, args ...interface{}) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return ok, nil
}
