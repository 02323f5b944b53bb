// Package gmail ingests newsletter digest emails and the links they carry
package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// ErrNoToken means the OAuth token file is missing and the login flow has to
// run first
var ErrNoToken = errors.New("gmail token not found, run 'octopus email login' first")

// OAuthConfig reads the installed-app client secret file
func OAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read gmail credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gmail credentials: %w", err)
	}
	return cfg, nil
}

// Login runs the copy-paste authorization code flow and stores the token
func Login(ctx context.Context, cfg *oauth2.Config, tokenPath string, in io.Reader, out io.Writer) error {
	authURL := cfg.AuthCodeURL("octopus", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open the following URL in a browser and paste the authorization code:\n\n%s\n\nCode: ", authURL)

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("empty authorization code")
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return saveToken(tokenPath, tok)
}

// NewService builds a Gmail API service from the stored token. Refreshed
// tokens are written back to tokenPath.
func NewService(ctx context.Context, cfg *oauth2.Config, tokenPath string) (*gmailapi.Service, error) {
	tok, err := loadToken(tokenPath)
	if err != nil {
		return nil, err
	}

	src := &savingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenPath,
		last: tok.AccessToken,
	}
	client := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src))

	srv, err := gmailapi.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return srv, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to read gmail token: %w", err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("failed to parse gmail token: %w", err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write gmail token: %w", err)
	}
	return nil
}

// savingTokenSource persists a token whenever the underlying source refreshes it
type savingTokenSource struct {
	base oauth2.TokenSource
	path string
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.path, tok); err != nil {
			return nil, err
		}
	}
	return tok, nil
}

// Client is the part of the Gmail API the ingester uses
type Client struct {
	srv *gmailapi.Service
}

// NewClient wraps a Gmail service
func NewClient(srv *gmailapi.Service) *Client {
	return &Client{srv: srv}
}

// ListMessageIDs returns up to max message ids matching query, newest first
func (c *Client) ListMessageIDs(ctx context.Context, query string, max int64) ([]string, error) {
	var ids []string
	call := c.srv.Users.Messages.List("me").Q(query).MaxResults(max)
	err := call.Pages(ctx, func(resp *gmailapi.ListMessagesResponse) error {
		for _, m := range resp.Messages {
			if int64(len(ids)) >= max {
				return errStopPaging
			}
			ids = append(ids, m.Id)
		}
		if int64(len(ids)) >= max {
			return errStopPaging
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopPaging) {
		return nil, fmt.Errorf("failed to list gmail messages: %w", err)
	}
	return ids, nil
}

var errStopPaging = errors.New("stop paging")

// GetMessage fetches a full message
func (c *Client) GetMessage(ctx context.Context, id string) (*gmailapi.Message, error) {
	msg, err := c.srv.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get gmail message %s: %w", id, err)
	}
	return msg, nil
}
