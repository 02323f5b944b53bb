// Package hackernews ingests stories, votes and comments from the Hacker News
// Firebase API
package hackernews

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"octopus/internal/core"
)

// DefaultAPIURL is the public Firebase endpoint
const DefaultAPIURL = "https://hacker-news.firebaseio.com"

// Item is an HN API item. Stories and comments share the shape.
type Item struct {
	ID      int64   `json:"id"`
	Type    string  `json:"type"`
	By      string  `json:"by"`
	Time    int64   `json:"time"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Text    string  `json:"text"`
	Score   *int    `json:"score"`
	Parent  int64   `json:"parent"`
	Kids    []int64 `json:"kids"`
	Deleted bool    `json:"deleted"`
	Dead    bool    `json:"dead"`
}

// PostedAt converts the unix timestamp
func (i *Item) PostedAt() time.Time {
	return time.Unix(i.Time, 0).UTC()
}

// Client reads the HN API
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL, the public API when empty
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewStories returns the ids of the newest stories
func (c *Client) NewStories(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := c.get(ctx, "/v0/newstories.json", &ids); err != nil {
		return nil, fmt.Errorf("failed to fetch new stories: %w", err)
	}
	return ids, nil
}

// Item fetches one item. The API answers null for unknown ids, reported as
// core.ErrNotFound.
func (c *Client) Item(ctx context.Context, id int64) (*Item, error) {
	var item *Item
	if err := c.get(ctx, fmt.Sprintf("/v0/item/%d.json", id), &item); err != nil {
		return nil, fmt.Errorf("failed to fetch item %d: %w", id, err)
	}
	if item == nil {
		return nil, fmt.Errorf("item %d: %w", id, core.ErrNotFound)
	}
	return item, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Octopus News Aggregator/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("hacker news API returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
