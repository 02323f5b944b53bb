package content

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"octopus/internal/logger"
)

const extractorUserAgent = "Mozilla/5.0 (compatible; octopus/1.0)"

// ReadabilityExtractor downloads the page itself and runs readability over it
type ReadabilityExtractor struct {
	client *http.Client
}

// NewReadabilityExtractor creates a local extractor
func NewReadabilityExtractor(timeout time.Duration) *ReadabilityExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ReadabilityExtractor{client: &http.Client{Timeout: timeout}}
}

// Extract returns the readable text content of pageURL
func (r *ReadabilityExtractor) Extract(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %s: %w", pageURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", extractorUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: status code %d", pageURL, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("readability extraction failed: %w", err)
	}
	return strings.TrimSpace(article.TextContent), nil
}

// ChainExtractor tries each extractor in order until one yields text
type ChainExtractor []Extractor

// Extract returns the first non-empty result. The last error is returned
// only when every extractor failed.
func (c ChainExtractor) Extract(ctx context.Context, pageURL string) (string, error) {
	var lastErr error
	for i, e := range c {
		text, err := e.Extract(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Debug("Extractor failed, trying next", "index", i, "url", pageURL, "error", err.Error())
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", nil
}
