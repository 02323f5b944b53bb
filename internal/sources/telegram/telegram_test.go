package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"octopus/internal/core"
)

func TestMessages(t *testing.T) {
	resp := &tg.MessagesChannelMessages{
		Messages: []tg.MessageClass{
			&tg.Message{ID: 14, Message: "newest", Date: 1700000300},
			&tg.MessageService{ID: 13},
			&tg.Message{ID: 12, Message: "", Date: 1700000200},
			&tg.Message{ID: 11, Message: "older", Date: 1700000100},
			&tg.Message{ID: 10, Message: "already stored", Date: 1700000000},
		},
	}

	got := Messages(resp, 10, 0)
	if len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %d: %+v", len(got), got)
	}
	if got[0].ID != 11 || got[1].ID != 14 {
		t.Errorf("Expected oldest first [11 14], got [%d %d]", got[0].ID, got[1].ID)
	}
	if !got[0].PostedAt.Equal(time.Unix(1700000100, 0)) {
		t.Errorf("Unexpected posted_at %v", got[0].PostedAt)
	}

	if limited := Messages(resp, 0, 1); len(limited) != 1 || limited[0].ID != 10 {
		t.Errorf("Expected only the oldest message, got %+v", limited)
	}
	if none := Messages(&tg.MessagesMessagesNotModified{}, 0, 10); none != nil {
		t.Errorf("Expected nil for not modified, got %+v", none)
	}
}

type fakeHistory struct {
	byChannel map[string][]Message
	gotMinID  map[string]int64
}

func (f *fakeHistory) History(ctx context.Context, channel string, minID int64, limit int) ([]Message, error) {
	f.gotMinID[channel] = minID
	msgs, ok := f.byChannel[channel]
	if !ok {
		return nil, errors.New("CHANNEL_INVALID")
	}
	return msgs, nil
}

type memoryStore struct {
	max     map[string]int64
	stories map[string]bool
	saved   []core.TelegramStory
}

func key(channel string, id int64) string {
	return fmt.Sprintf("%s/%d", channel, id)
}

func (m *memoryStore) MaxMessageID(ctx context.Context, channelID string) (int64, error) {
	return m.max[channelID], nil
}

func (m *memoryStore) CreateIfAbsent(ctx context.Context, story *core.TelegramStory) (bool, error) {
	k := key(story.ChannelID, story.MessageID)
	if m.stories[k] {
		return false, nil
	}
	m.stories[k] = true
	m.saved = append(m.saved, *story)
	return true, nil
}

func TestFetch(t *testing.T) {
	posted := time.Date(2025, 4, 5, 12, 0, 0, 0, time.UTC)
	api := &fakeHistory{
		byChannel: map[string][]Message{
			"ai_news": {{ID: 5, Text: "five", PostedAt: posted}, {ID: 6, Text: "six", PostedAt: posted}},
			"quiet":   nil,
		},
		gotMinID: map[string]int64{},
	}
	store := &memoryStore{
		max:     map[string]int64{"ai_news": 4},
		stories: map[string]bool{key("ai_news", 6): true},
	}

	f := NewFetcher(store, []string{"ai_news", "quiet", "gone"}, 0)
	stats, err := f.Fetch(context.Background(), api)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if stats.Added != 1 || stats.Skipped != 1 || stats.Failed != 1 {
		t.Errorf("Expected added=1 skipped=1 failed=1, got %s", stats)
	}
	if api.gotMinID["ai_news"] != 4 {
		t.Errorf("Expected history after message 4, got %d", api.gotMinID["ai_news"])
	}
	if len(store.saved) != 1 {
		t.Fatalf("Expected one saved story, got %d", len(store.saved))
	}
	s := store.saved[0]
	if s.ChannelID != "ai_news" || s.MessageID != 5 || s.Content != "five" || !s.PostedAt.Equal(posted) {
		t.Errorf("Unexpected story %+v", s)
	}
	if s.URLs != nil {
		t.Errorf("Expected URLs to stay unextracted, got %v", s.URLs)
	}
}
