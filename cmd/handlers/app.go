/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"octopus/internal/config"
	"octopus/internal/content"
	"octopus/internal/digest"
	"octopus/internal/enrich"
	"octopus/internal/llm"
	"octopus/internal/logger"
	"octopus/internal/persistence"
	"octopus/internal/sources/gmail"
	"octopus/internal/sources/hackernews"
	"octopus/internal/sources/telegram"
	"octopus/internal/urlnorm"
)

// app wires components from the configuration. Components are built on first
// use so a command only needs the settings it actually touches.
type app struct {
	cfg *config.Config
	db  *persistence.PostgresDB
	log *slog.Logger

	normalizer *urlnorm.Normalizer
	cache      *content.Cache
	processor  *llm.Processor
	closers    []func()
}

// newApp loads the configuration and connects to the database
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	db, err := persistence.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)

	a := &app{cfg: cfg, db: db, log: logger.Get()}
	a.closers = append(a.closers, func() { _ = db.Close() })
	return a, nil
}

// Close releases every resource in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Normalizer follows redirects with the configured resolver. The browser
// resolver lives until Close.
func (a *app) Normalizer() *urlnorm.Normalizer {
	if a.normalizer != nil {
		return a.normalizer
	}

	var resolver urlnorm.Resolver
	if a.cfg.URLs.FollowRedirects {
		switch a.cfg.URLs.Resolver {
		case "browser":
			br := urlnorm.NewBrowserResolver(context.Background())
			a.closers = append(a.closers, br.Close)
			resolver = br
		default:
			resolver = urlnorm.NewHTTPResolver(&http.Client{Timeout: a.cfg.URLs.RedirectTimeout})
		}
	}
	a.normalizer = urlnorm.NewNormalizer(resolver, a.cfg.URLs.RedirectTimeout)
	return a.normalizer
}

// ContentCache extracts article text through DiffBot, optionally falling back
// to readability, and keeps results in Postgres with an optional Redis layer
func (a *app) ContentCache(ctx context.Context) (*content.Cache, error) {
	if a.cache != nil {
		return a.cache, nil
	}
	if err := a.cfg.RequireDiffbot(); err != nil {
		return nil, err
	}

	d := a.cfg.Extraction.Diffbot
	var extractor content.Extractor = content.NewDiffbotExtractor(content.DiffbotConfig{
		Token:        d.Token,
		APIURL:       d.APIURL,
		MaxAttempts:  d.MaxRetries,
		InitialDelay: d.InitialDelay,
		Timeout:      d.Timeout,
	})
	if a.cfg.Extraction.ReadabilityFallback {
		extractor = content.ChainExtractor{extractor, content.NewReadabilityExtractor(d.Timeout)}
	}

	var store content.Store = a.db.Contents()
	if r := a.cfg.Extraction.Redis; r.Addr != "" {
		hot, err := content.NewRedisHotCache(ctx, r.Addr, r.Password, r.DB, r.TTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = hot.Close() })
		store = content.NewLayeredStore(hot, store)
	}

	a.cache = content.NewCache(store, extractor)
	return a.cache, nil
}

// Processor sends prompts to the configured provider and records every call
func (a *app) Processor(ctx context.Context) (*llm.Processor, error) {
	if a.processor != nil {
		return a.processor, nil
	}
	if err := a.cfg.RequireLLM(); err != nil {
		return nil, err
	}

	client, err := llm.NewClient(ctx, a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	a.processor = llm.NewProcessor(client, a.db.Prompts(), llm.ProcessorConfig{
		Temperature: a.cfg.LLM.Temperature,
		MaxRetries:  a.cfg.LLM.MaxRetries,
	})
	return a.processor, nil
}

// HNSyncer mirrors Hacker News. Content extraction is only wired when
// withContent is set.
func (a *app) HNSyncer(ctx context.Context, withContent bool) (*hackernews.Syncer, error) {
	h := a.cfg.HackerNews
	var resolver hackernews.ContentResolver
	if withContent {
		cache, err := a.ContentCache(ctx)
		if err != nil {
			return nil, err
		}
		resolver = cache
	}
	return hackernews.NewSyncer(
		hackernews.NewClient(h.APIURL, h.Timeout),
		a.db.HackerNews(),
		a.Normalizer(),
		resolver,
		hackernews.Config{
			CommentMaxStoryAge:  h.CommentMaxStoryAge,
			CommentRefreshAfter: h.CommentRefreshAfter,
			VoteConcurrency:     h.VoteConcurrency,
		},
	), nil
}

// GmailIngester reads newsletters with the stored OAuth token
func (a *app) GmailIngester(ctx context.Context) (*gmail.Ingester, error) {
	if err := a.cfg.RequireGmail(); err != nil {
		return nil, err
	}
	oauthCfg, err := gmail.OAuthConfig(a.cfg.Gmail.CredentialsPath)
	if err != nil {
		return nil, err
	}
	srv, err := gmail.NewService(ctx, oauthCfg, a.cfg.Gmail.TokenPath)
	if err != nil {
		return nil, err
	}
	return gmail.NewIngester(gmail.NewClient(srv), a.db.Emails(), a.Normalizer(), a.cfg.Gmail.Query, a.cfg.Gmail.MaxResults), nil
}

// Telegram returns the MTProto client and a fetcher for the configured channels
func (a *app) Telegram() (*telegram.Client, *telegram.Fetcher, error) {
	if err := a.cfg.RequireTelegram(); err != nil {
		return nil, nil, err
	}
	client, err := newTelegramClient(a.cfg.Telegram)
	if err != nil {
		return nil, nil, err
	}
	return client, telegram.NewFetcher(a.db.Telegram(), a.cfg.Telegram.Channels, a.cfg.Telegram.FetchLimit), nil
}

func newTelegramClient(t config.Telegram) (*telegram.Client, error) {
	return telegram.NewClient(telegram.ClientConfig{
		AppID:       t.AppID,
		AppHash:     t.AppHash,
		Phone:       t.Phone,
		Password:    t.Password,
		SessionPath: t.SessionPath,
	})
}

// EnrichPipeline analyzes items with the configured tags and limits
func (a *app) EnrichPipeline(ctx context.Context) (*enrich.Pipeline, error) {
	processor, err := a.Processor(ctx)
	if err != nil {
		return nil, err
	}
	return enrich.NewPipeline(processor, a.db.ProcessedItems(), enrich.Config{
		BatchSize:    a.cfg.Enrich.BatchSize,
		RequiredTags: a.cfg.Enrich.RequiredTags,
		MaxTokens:    a.cfg.LLM.MaxTokens,
	}), nil
}

// EnrichSource returns the item source for a story kind
func (a *app) EnrichSource(ctx context.Context, kind string) (enrich.Source, error) {
	cache, err := a.ContentCache(ctx)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "hn":
		return enrich.NewHNSource(a.db.HackerNews(), cache, a.cfg.Enrich.HNMinVotes), nil
	case "email":
		return enrich.NewEmailSource(a.db.Emails(), cache), nil
	case "telegram":
		return enrich.NewTelegramSource(a.db.Telegram(), cache, a.Normalizer()), nil
	}
	return nil, fmt.Errorf("unknown source %q (expected hn, email or telegram)", kind)
}

// DigestGenerator writes digests to the configured archive
func (a *app) DigestGenerator(ctx context.Context) (*digest.Generator, error) {
	processor, err := a.Processor(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := newArchive(ctx, a.cfg.Digest.Archive)
	if err != nil {
		return nil, err
	}
	d := a.cfg.Digest
	temperature := d.Temperature
	return digest.NewGenerator(processor, a.db.Digests(), archive, digest.Config{
		RelevantTags:     d.RelevantTags,
		MinScore:         d.MinScore,
		DefaultDays:      d.DefaultDays,
		MaxContextTokens: d.MaxContextTokens,
		Temperature:      &temperature,
	}), nil
}

func newArchive(ctx context.Context, cfg config.ArchiveConfig) (digest.Archive, error) {
	switch cfg.Kind {
	case "", "local":
		return digest.NewLocalArchive(cfg.Directory), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("digest archive kind s3 requires digest.archive.s3_bucket")
		}
		return digest.NewS3Archive(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix)
	}
	return nil, fmt.Errorf("unknown digest archive kind %q (expected local or s3)", cfg.Kind)
}
