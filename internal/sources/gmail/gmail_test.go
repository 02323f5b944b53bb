package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"

	"octopus/internal/core"
)

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

const newsletterHTML = `<html><body>
<div class="intro">Weekly AI news</div>
<p>OpenAI ships <a href="https://example.com/gpt?utm_source=mail">a new   model</a> today.</p>
<a href="https://example.com/bare">Bare link</a>
<a href="https://example.com/empty"></a>
<a>No href</a>
<script>var x = 1;</script>
</body></html>`

func TestExtractLinks(t *testing.T) {
	links := ExtractLinks(newsletterHTML)
	if len(links) != 2 {
		t.Fatalf("Expected 2 links, got %d: %+v", len(links), links)
	}

	if links[0].URL != "https://example.com/gpt?utm_source=mail" {
		t.Errorf("Unexpected url %q", links[0].URL)
	}
	if links[0].Title != "a new model" {
		t.Errorf("Expected collapsed title, got %q", links[0].Title)
	}
	if links[0].Context != "OpenAI ships a new model today." {
		t.Errorf("Expected paragraph context, got %q", links[0].Context)
	}
	if links[1].Context != "Bare link" {
		t.Errorf("Expected title as context without parent, got %q", links[1].Context)
	}
}

func TestExtractLinksEmpty(t *testing.T) {
	if links := ExtractLinks(""); links != nil {
		t.Errorf("Expected nil, got %v", links)
	}
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText(`<p>Hello <b>world</b></p><script>ignored()</script><div>  again </div>`)
	if got != "Hello world again" {
		t.Errorf("Expected 'Hello world again', got %q", got)
	}
}

func TestBodies(t *testing.T) {
	tests := []struct {
		name     string
		payload  *gmailapi.MessagePart
		wantText string
		wantHTML string
	}{
		{
			name: "multipart",
			payload: &gmailapi.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmailapi.MessagePart{
					{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: encode("plain body")}},
					{MimeType: "text/html", Body: &gmailapi.MessagePartBody{Data: encode("<p>html body</p>")}},
				},
			},
			wantText: "plain body",
			wantHTML: "<p>html body</p>",
		},
		{
			name: "html only",
			payload: &gmailapi.MessagePart{
				MimeType: "text/html",
				Body:     &gmailapi.MessagePartBody{Data: encode("<p>only <i>html</i></p>")},
			},
			wantText: "only html",
			wantHTML: "<p>only <i>html</i></p>",
		},
		{
			name: "unpadded",
			payload: &gmailapi.MessagePart{
				MimeType: "text/plain",
				Body:     &gmailapi.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("ab"))},
			},
			wantText: "ab",
		},
		{
			name:    "empty",
			payload: &gmailapi.MessagePart{MimeType: "text/plain"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, html := Bodies(&gmailapi.Message{Payload: tt.payload})
			if text != tt.wantText {
				t.Errorf("Expected text %q, got %q", tt.wantText, text)
			}
			if html != tt.wantHTML {
				t.Errorf("Expected html %q, got %q", tt.wantHTML, html)
			}
		})
	}
}

func TestParseMetadata(t *testing.T) {
	msg := &gmailapi.Message{
		InternalDate: 1700000000000,
		Payload: &gmailapi.MessagePart{Headers: []*gmailapi.MessagePartHeader{
			{Name: "FROM", Value: "TLDR <dan@tldr.tech>"},
			{Name: "Subject", Value: "TLDR AI"},
			{Name: "Date", Value: "Tue, 07 Jan 2025 10:30:00 +0200"},
		}},
	}
	meta := ParseMetadata(msg)
	if meta.Sender != "TLDR <dan@tldr.tech>" || meta.Subject != "TLDR AI" {
		t.Errorf("Unexpected headers %+v", meta)
	}
	want := time.Date(2025, 1, 7, 8, 30, 0, 0, time.UTC)
	if !meta.ReceivedAt.Equal(want) {
		t.Errorf("Expected %v, got %v", want, meta.ReceivedAt)
	}

	fallback := ParseMetadata(&gmailapi.Message{InternalDate: 1700000000000, Payload: &gmailapi.MessagePart{}})
	if fallback.Sender != "Unknown" || fallback.Subject != "No Subject" {
		t.Errorf("Expected header defaults, got %+v", fallback)
	}
	if !fallback.ReceivedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("Expected internal date fallback, got %v", fallback.ReceivedAt)
	}
}

type fakeAPI struct {
	ids      []string
	messages map[string]*gmailapi.Message
	gotQuery string
	gotMax   int64
}

func (f *fakeAPI) ListMessageIDs(ctx context.Context, query string, max int64) ([]string, error) {
	f.gotQuery, f.gotMax = query, max
	return f.ids, nil
}

func (f *fakeAPI) GetMessage(ctx context.Context, id string) (*gmailapi.Message, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, errors.New("boom")
	}
	return msg, nil
}

type fakeStore struct {
	known map[string]bool
	saved map[string][]core.DigestLink
}

func (f *fakeStore) EmailExists(ctx context.Context, messageID string) (bool, error) {
	return f.known[messageID], nil
}

func (f *fakeStore) SaveDigestEmail(ctx context.Context, email *core.DigestEmail, links []core.DigestLink) (int, error) {
	f.saved[email.MessageID] = links
	return len(links), nil
}

type stripQueryNormalizer struct{}

func (stripQueryNormalizer) Normalize(ctx context.Context, raw string) string {
	u, _, _ := strings.Cut(raw, "?")
	return u
}

func TestIngest(t *testing.T) {
	html := `<p><a href="https://example.com/a?utm_source=x">First</a> and <a href="https://example.com/a">again</a></p>`
	api := &fakeAPI{
		ids: []string{"old", "new", "broken"},
		messages: map[string]*gmailapi.Message{
			"new": {
				Id: "new",
				Payload: &gmailapi.MessagePart{
					MimeType: "text/html",
					Body:     &gmailapi.MessagePartBody{Data: encode(html)},
				},
			},
		},
	}
	store := &fakeStore{known: map[string]bool{"old": true}, saved: map[string][]core.DigestLink{}}

	ing := NewIngester(api, store, stripQueryNormalizer{}, "", 0)
	stats, err := ing.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if api.gotQuery != DefaultQuery || api.gotMax != DefaultMaxResults {
		t.Errorf("Expected default query, got %q %d", api.gotQuery, api.gotMax)
	}
	if stats.Emails != 1 || stats.Links != 1 || stats.Skipped != 1 || stats.Failed != 1 {
		t.Errorf("Expected emails=1 links=1 skipped=1 failed=1, got %s", stats)
	}
	links := store.saved["new"]
	if len(links) != 1 || links[0].URL != "https://example.com/a" || links[0].Title != "First" {
		t.Errorf("Expected one normalized link, got %+v", links)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	if _, err := loadToken(path); !errors.Is(err, ErrNoToken) {
		t.Errorf("Expected ErrNoToken, got %v", err)
	}

	if err := saveToken(path, &oauth2.Token{AccessToken: "abc", RefreshToken: "r"}); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected token file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}
	tok, err := loadToken(path)
	if err != nil {
		t.Fatalf("loadToken failed: %v", err)
	}
	if tok.AccessToken != "abc" || tok.RefreshToken != "r" {
		t.Errorf("Unexpected token %+v", tok)
	}
}

type staticTokenSource struct{ tok *oauth2.Token }

func (s staticTokenSource) Token() (*oauth2.Token, error) { return s.tok, nil }

func TestSavingTokenSourceWritesRefreshedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	src := &savingTokenSource{
		base: staticTokenSource{&oauth2.Token{AccessToken: "fresh"}},
		path: path,
		last: "stale",
	}
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	tok, err := loadToken(path)
	if err != nil || tok.AccessToken != "fresh" {
		t.Errorf("Expected refreshed token saved, got %+v %v", tok, err)
	}
}
