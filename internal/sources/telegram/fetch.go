package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"octopus/internal/core"
	"octopus/internal/logger"
)

// DefaultFetchLimit caps the messages read per channel and run
const DefaultFetchLimit = 100

// Store persists channel messages
type Store interface {
	MaxMessageID(ctx context.Context, channelID string) (int64, error)
	CreateIfAbsent(ctx context.Context, story *core.TelegramStory) (bool, error)
}

// Stats counts the outcome of a fetch
type Stats struct {
	Added   int
	Skipped int
	Failed  int
}

func (s Stats) String() string {
	return fmt.Sprintf("added=%d skipped=%d failed=%d", s.Added, s.Skipped, s.Failed)
}

// Fetcher pulls new messages of the configured channels
type Fetcher struct {
	store    Store
	channels []string
	limit    int
	log      *slog.Logger
}

// NewFetcher creates a fetcher for channels
func NewFetcher(store Store, channels []string, limit int) *Fetcher {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	return &Fetcher{store: store, channels: channels, limit: limit, log: logger.Get()}
}

// Fetch reads every channel from its latest stored message onwards. A
// channel that cannot be read is logged and counted; storage errors abort.
func (f *Fetcher) Fetch(ctx context.Context, api HistoryAPI) (Stats, error) {
	var stats Stats
	for _, channel := range f.channels {
		latest, err := f.store.MaxMessageID(ctx, channel)
		if err != nil {
			return stats, err
		}

		messages, err := api.History(ctx, channel, latest, f.limit)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			f.log.Error("Failed to fetch channel messages", "channel", channel, "error", err)
			stats.Failed++
			continue
		}
		if len(messages) == 0 {
			f.log.Info("No new messages", "channel", channel)
			continue
		}

		added := 0
		for _, m := range messages {
			created, err := f.store.CreateIfAbsent(ctx, &core.TelegramStory{
				ChannelID: channel,
				MessageID: m.ID,
				Content:   m.Text,
				PostedAt:  m.PostedAt,
			})
			if err != nil {
				return stats, err
			}
			if !created {
				stats.Skipped++
				continue
			}
			added++
		}
		stats.Added += added
		f.log.Info("Saved channel messages", "channel", channel, "added", added, "after_message_id", latest)
	}
	return stats, nil
}
