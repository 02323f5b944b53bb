package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"octopus/internal/logger"
)

// DefaultDiffbotURL is the DiffBot article endpoint
const DefaultDiffbotURL = "https://api.diffbot.com/v3/article"

// DiffbotConfig configures a DiffbotExtractor
type DiffbotConfig struct {
	Token        string
	APIURL       string
	MaxAttempts  int           // Total attempts when rate limited, default 3
	InitialDelay time.Duration // First backoff delay, doubled per retry, default 1s
	Timeout      time.Duration
}

// DiffbotExtractor calls the DiffBot article API
type DiffbotExtractor struct {
	cfg    DiffbotConfig
	client *http.Client
	log    *slog.Logger
}

// NewDiffbotExtractor creates an extractor, filling unset fields with defaults
func NewDiffbotExtractor(cfg DiffbotConfig) *DiffbotExtractor {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultDiffbotURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &DiffbotExtractor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.Get(),
	}
}

type diffbotResponse struct {
	Objects []struct {
		Text string `json:"text"`
	} `json:"objects"`
}

// errRateLimited marks a 429 response
type errRateLimited struct{}

func (errRateLimited) Error() string { return "rate limited" }

// Extract fetches the article text for pageURL. Rate-limited responses are
// retried with exponential backoff; any other failure is returned at once.
func (e *DiffbotExtractor) Extract(ctx context.Context, pageURL string) (string, error) {
	if !Extractable(pageURL) {
		return "", nil
	}

	delay := e.cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		text, err := e.fetch(ctx, pageURL)
		if err == nil {
			return text, nil
		}
		if _, limited := err.(errRateLimited); !limited {
			return "", err
		}
		lastErr = err
		if attempt == e.cfg.MaxAttempts {
			break
		}

		e.log.Warn("Rate limit hit, retrying", "url", pageURL, "delay", delay.String(), "attempt", attempt)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", fmt.Errorf("diffbot extraction for %s gave up after %d attempts: %w", pageURL, e.cfg.MaxAttempts, lastErr)
}

func (e *DiffbotExtractor) fetch(ctx context.Context, pageURL string) (string, error) {
	params := url.Values{}
	params.Set("token", e.cfg.Token)
	params.Set("url", pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build diffbot request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("diffbot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", errRateLimited{}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("diffbot returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded diffbotResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode diffbot response: %w", err)
	}
	if len(decoded.Objects) == 0 {
		return "", nil
	}
	return decoded.Objects[0].Text, nil
}
