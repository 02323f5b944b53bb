package urlnorm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"octopus/internal/logger"
)

// DefaultRedirectTimeout bounds a single redirect resolution
const DefaultRedirectTimeout = 3 * time.Second

// Resolver follows redirects and reports the final URL
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Normalizer canonicalizes URLs, optionally following redirects first
type Normalizer struct {
	resolver Resolver
	timeout  time.Duration
	log      *slog.Logger
}

// NewNormalizer creates a normalizer. A nil resolver disables redirect following.
func NewNormalizer(resolver Resolver, timeout time.Duration) *Normalizer {
	if timeout <= 0 {
		timeout = DefaultRedirectTimeout
	}
	return &Normalizer{
		resolver: resolver,
		timeout:  timeout,
		log:      logger.Get(),
	}
}

// Normalize never fails: when redirect resolution errors or times out the
// pre-redirect URL is canonicalized instead.
func (n *Normalizer) Normalize(ctx context.Context, raw string) string {
	if raw == "" {
		return raw
	}
	target := UnwrapTracking(raw)

	if n.resolver != nil && isHTTP(target) {
		rctx, cancel := context.WithTimeout(ctx, n.timeout)
		final, err := n.resolver.Resolve(rctx, target)
		cancel()
		switch {
		case err != nil:
			n.log.Debug("Redirect resolution failed", "url", target, "error", err.Error())
		case final != "":
			target = final
		}
	}

	return Canonicalize(target)
}

func isHTTP(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
