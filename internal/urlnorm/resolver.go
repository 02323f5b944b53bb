package urlnorm

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// HTTPResolver follows HTTP redirects with a plain client
type HTTPResolver struct {
	client *http.Client
}

// NewHTTPResolver creates a resolver; a nil client uses http.DefaultClient
func NewHTTPResolver(client *http.Client) *HTTPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResolver{client: client}
}

// Resolve issues a GET and returns the URL of the last request in the chain
func (r *HTTPResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("failed to fetch %s: status code %d", rawURL, resp.StatusCode)
	}
	return resp.Request.URL.String(), nil
}

// BrowserResolver navigates a headless Chrome tab so script and meta
// redirects are followed as well.
type BrowserResolver struct {
	allocCtx context.Context
	cancel   context.CancelFunc
}

// NewBrowserResolver starts a browser allocator. Call Close when done.
func NewBrowserResolver(ctx context.Context) *BrowserResolver {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	return &BrowserResolver{allocCtx: allocCtx, cancel: cancel}
}

// Resolve opens rawURL in a new tab and reads the final location
func (r *BrowserResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(r.allocCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var final string
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.Location(&final),
	); err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	return final, nil
}

// Close shuts the browser down
func (r *BrowserResolver) Close() {
	r.cancel()
}
