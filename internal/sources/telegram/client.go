// Package telegram ingests text messages from public Telegram channels over
// MTProto
package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message/peer"
	"github.com/gotd/td/tg"
)

// ErrNotAuthorized means the session file holds no authorized user
var ErrNotAuthorized = errors.New("telegram session is not authorized, run 'octopus telegram login' first")

// Message is a channel text message
type Message struct {
	ID       int64
	Text     string
	PostedAt time.Time
}

// HistoryAPI reads channel history
type HistoryAPI interface {
	// History returns up to limit text messages with an id above minID,
	// oldest first
	History(ctx context.Context, channel string, minID int64, limit int) ([]Message, error)
}

// ClientConfig holds the application credentials and session location
type ClientConfig struct {
	AppID       int
	AppHash     string
	Phone       string
	Password    string
	SessionPath string
}

// Client is an MTProto user client backed by a session file
type Client struct {
	cfg    ClientConfig
	client *telegram.Client
}

// NewClient creates a client. Nothing connects until Login or Run.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.SessionPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	client := telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionPath},
	})
	return &Client{cfg: cfg, client: client}, nil
}

// Login authorizes the session, reading the login code from in
func (c *Client) Login(ctx context.Context, in io.Reader, out io.Writer) error {
	if c.cfg.Phone == "" {
		return errors.New("telegram login requires TELEGRAM_PHONE")
	}
	reader := bufio.NewReader(in)
	codePrompt := auth.CodeAuthenticatorFunc(func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
		fmt.Fprint(out, "Enter the code Telegram sent you: ")
		code, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(code), nil
	})
	flow := auth.NewFlow(auth.Constant(c.cfg.Phone, c.cfg.Password, codePrompt), auth.SendCodeOptions{})

	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("telegram login failed: %w", err)
		}
		fmt.Fprintln(out, "Telegram session stored at", c.cfg.SessionPath)
		return nil
	})
}

// Run connects with the stored session and calls fn with a history reader
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context, api HistoryAPI) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to check telegram auth status: %w", err)
		}
		if !status.Authorized {
			return ErrNotAuthorized
		}
		raw := c.client.API()
		return fn(ctx, &history{api: raw, resolver: peer.DefaultResolver(raw)})
	})
}

type history struct {
	api      *tg.Client
	resolver peer.Resolver
}

func (h *history) History(ctx context.Context, channel string, minID int64, limit int) ([]Message, error) {
	p, err := h.resolver.ResolveDomain(ctx, strings.TrimPrefix(channel, "@"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channel %s: %w", channel, err)
	}

	// A negative add offset pages forward from just above minID
	resp, err := h.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      p,
		OffsetID:  int(minID) + 1,
		AddOffset: -limit,
		Limit:     limit,
		MinID:     int(minID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s: %w", channel, err)
	}
	return Messages(resp, minID, limit), nil
}

// Messages extracts text messages above minID from a history response,
// oldest first and at most limit of them
func Messages(resp tg.MessagesMessagesClass, minID int64, limit int) []Message {
	var raw []tg.MessageClass
	switch r := resp.(type) {
	case *tg.MessagesMessages:
		raw = r.Messages
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
	case *tg.MessagesChannelMessages:
		raw = r.Messages
	default:
		return nil
	}

	var out []Message
	for _, m := range raw {
		msg, ok := m.(*tg.Message)
		if !ok || msg.Message == "" || int64(msg.ID) <= minID {
			continue
		}
		out = append(out, Message{
			ID:       int64(msg.ID),
			Text:     msg.Message,
			PostedAt: time.Unix(int64(msg.Date), 0).UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
