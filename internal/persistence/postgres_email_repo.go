package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"octopus/internal/core"
)

// postgresEmailRepo implements EmailRepository for PostgreSQL
type postgresEmailRepo struct {
	db *sql.DB
}

func (r *postgresEmailRepo) EmailExists(ctx context.Context, messageID string) (bool, error) {
	return exists(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM digest_emails WHERE message_id = $1)`, messageID)
}

func (r *postgresEmailRepo) SaveDigestEmail(ctx context.Context, email *core.DigestEmail, links []core.DigestLink) (int, error) {
	created := 0
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO digest_emails (message_id, sender, subject, received_at, content_text, content_html)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`
		err := tx.QueryRowContext(ctx, query,
			email.MessageID, email.Sender, email.Subject, email.ReceivedAt.UTC(),
			nullString(email.ContentText), nullString(email.ContentHTML),
		).Scan(&email.ID)
		if err != nil {
			return fmt.Errorf("failed to insert digest email: %w", err)
		}

		for i := range links {
			link := &links[i]
			link.EmailID = email.ID

			dup, err := exists(ctx, tx,
				`SELECT EXISTS (SELECT 1 FROM digest_links WHERE email_id = $1 AND url = $2)`,
				email.ID, link.URL)
			if err != nil {
				return err
			}
			if dup {
				continue
			}

			storyID, err := r.storyForURL(ctx, tx, email, link)
			if err != nil {
				return err
			}
			link.StoryID = storyID
			link.Processed = true

			err = tx.QueryRowContext(ctx, `
				INSERT INTO digest_links (email_id, url, title, context, processed, story_id)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id
			`, link.EmailID, link.URL, link.Title, link.Context, link.Processed, nullInt64(link.StoryID)).Scan(&link.ID)
			if err != nil {
				return fmt.Errorf("failed to insert digest link: %w", err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// storyForURL returns the email story holding link.URL, creating it when
// missing
func (r *postgresEmailRepo) storyForURL(ctx context.Context, tx *sql.Tx, email *core.DigestEmail, link *core.DigestLink) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM email_stories WHERE url = $1 ORDER BY id LIMIT 1`, link.URL).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up email story: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO email_stories (url, title, discovered_at, source_email_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, link.URL, link.Title, email.ReceivedAt.UTC(), email.ID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert email story: %w", err)
	}
	return id, nil
}

func (r *postgresEmailRepo) GetEmailStory(ctx context.Context, id int64) (*core.EmailStory, error) {
	query := `
		SELECT id, url, title, discovered_at, source_email_id, target_content
		FROM email_stories WHERE id = $1
	`
	var s core.EmailStory
	var source sql.NullInt64
	var target sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.URL, &s.Title, &s.DiscoveredAt, &source, &target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email story %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email story: %w", err)
	}
	s.SourceEmailID, s.TargetContent = source.Int64, target.String
	return &s, nil
}

func (r *postgresEmailRepo) ListEnrichCandidates(ctx context.Context, afterID int64, limit int, includeProcessed bool) ([]int64, error) {
	query := `
		SELECT s.id FROM email_stories s
		WHERE s.id > $1
		  AND ($2 OR NOT EXISTS (
			SELECT 1 FROM processed_stories p
			WHERE p.related_item_type = $3 AND p.related_item_id = s.id
		  ))
		ORDER BY s.id
		LIMIT $4
	`
	ids, err := queryIDs(ctx, r.db, query, afterID, includeProcessed, string(core.KindEmail), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list email story candidates: %w", err)
	}
	return ids, nil
}

func (r *postgresEmailRepo) UpdateTargetContent(ctx context.Context, id int64, content string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE email_stories SET target_content = $2 WHERE id = $1`, id, content)
	if err != nil {
		return fmt.Errorf("failed to update email story content: %w", err)
	}
	return nil
}

func (r *postgresEmailRepo) ListStoryURLs(ctx context.Context) ([]core.EmailStory, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, url FROM email_stories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list email story urls: %w", err)
	}
	defer rows.Close()

	var stories []core.EmailStory
	for rows.Next() {
		var s core.EmailStory
		if err := rows.Scan(&s.ID, &s.URL); err != nil {
			return nil, fmt.Errorf("failed to scan email story: %w", err)
		}
		stories = append(stories, s)
	}
	return stories, rows.Err()
}

func (r *postgresEmailRepo) UpdateStoryURL(ctx context.Context, id int64, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE email_stories SET url = $2 WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("failed to update email story url: %w", err)
	}
	return nil
}

func (r *postgresEmailRepo) StoryURLTaken(ctx context.Context, url string, exceptID int64) (bool, error) {
	return exists(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM email_stories WHERE url = $1 AND id <> $2)`, url, exceptID)
}

func (r *postgresEmailRepo) ListLinks(ctx context.Context) ([]core.DigestLink, error) {
	query := `
		SELECT id, email_id, url, title, context, processed, story_id
		FROM digest_links ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list digest links: %w", err)
	}
	defer rows.Close()

	var links []core.DigestLink
	for rows.Next() {
		var l core.DigestLink
		var story sql.NullInt64
		if err := rows.Scan(&l.ID, &l.EmailID, &l.URL, &l.Title, &l.Context, &l.Processed, &story); err != nil {
			return nil, fmt.Errorf("failed to scan digest link: %w", err)
		}
		l.StoryID = story.Int64
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *postgresEmailRepo) UpdateLinkURL(ctx context.Context, id int64, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE digest_links SET url = $2 WHERE id = $1`, id, url)
	if isUniqueViolation(err) {
		return fmt.Errorf("digest link %d url %q: %w", id, url, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update digest link url: %w", err)
	}
	return nil
}

func (r *postgresEmailRepo) LinkURLTaken(ctx context.Context, emailID int64, url string, exceptID int64) (bool, error) {
	return exists(ctx, r.db,
		`SELECT EXISTS (SELECT 1 FROM digest_links WHERE email_id = $1 AND url = $2 AND id <> $3)`,
		emailID, url, exceptID)
}

func (r *postgresEmailRepo) ListExpiredEmails(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `
		SELECT e.id FROM digest_emails e
		WHERE e.received_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM digest_links l
			WHERE l.email_id = e.id AND NOT l.processed
		  )
		ORDER BY e.id
	`
	ids, err := queryIDs(ctx, r.db, query, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired emails: %w", err)
	}
	return ids, nil
}
