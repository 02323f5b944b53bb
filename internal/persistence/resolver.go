package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"octopus/internal/core"
)

// resolveView loads the source-independent view of the raw item behind ref
func resolveView(ctx context.Context, q queryer, ref core.RelatedItem) (core.RawItemView, error) {
	var view core.RawItemView
	var err error

	switch r := ref.(type) {
	case core.HackerNewsRef:
		var url, content, target sql.NullString
		err = q.QueryRowContext(ctx,
			`SELECT title, url, content, target_content FROM stories WHERE id = $1`, r.StoryID,
		).Scan(&view.Title, &url, &content, &target)
		view.Locator = url.String
		view.Content = target.String
		if view.Content == "" {
			view.Content = content.String
		}

	case core.EmailRef:
		var target sql.NullString
		err = q.QueryRowContext(ctx,
			`SELECT title, url, target_content FROM email_stories WHERE id = $1`, r.StoryID,
		).Scan(&view.Title, &view.Locator, &target)
		view.Content = target.String

	case core.TelegramRef:
		var channel string
		var messageID int64
		err = q.QueryRowContext(ctx,
			`SELECT channel_id, message_id, content FROM telegram_stories WHERE id = $1`, r.StoryID,
		).Scan(&channel, &messageID, &view.Content)
		view.Title = "Telegram: " + channel
		view.Locator = fmt.Sprintf("Message ID: %d", messageID)

	default:
		return view, fmt.Errorf("unsupported related item %T", ref)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return core.RawItemView{}, fmt.Errorf("%s %d: %w", ref.Kind(), ref.RawID(), core.ErrNotFound)
	}
	if err != nil {
		return core.RawItemView{}, fmt.Errorf("failed to load %s %d: %w", ref.Kind(), ref.RawID(), err)
	}
	return view, nil
}
