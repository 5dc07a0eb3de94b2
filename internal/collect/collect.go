// Package collect ingests candidate items from RSS/Atom feeds and NewsAPI.
package collect

import (
	"context"
	"log/slog"

	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/logging"
)

// Store is the subset of the database the collector writes to.
type Store interface {
	InsertItem(ctx context.Context, it database.NewItem) (int64, error)
}

// Result holds the results of a collection run.
type Result struct {
	TotalFound int
	NewItems   int
	Duplicates int
	Errors     int
	Sources    map[string]int
}

// Collector orchestrates item collection from RSS feeds and NewsAPI.
type Collector struct {
	db         Store
	feedParser *FeedParser
	newsClient *NewsAPIClient
	newsQuery  string
	newsAuth   int
	logger     *slog.Logger
}

// NewCollector creates a new item collector.
func NewCollector(cfg *config.Config, db Store, logger *slog.Logger) *Collector {
	logger = logging.OrDefault(logger)
	c := &Collector{db: db, logger: logger}

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name, Authority: f.Authority}
		}
		c.feedParser = NewFeedParser(feeds, logger)
	}

	apiCfg := cfg.Sources.APIs.NewsAPI
	if apiCfg.Enabled {
		c.newsClient = NewNewsAPIClient(apiCfg.APIKeyEnv, logger)
		c.newsQuery = apiCfg.Query
		if c.newsQuery == "" {
			c.newsQuery = "technology industry"
		}
		c.newsAuth = apiCfg.Authority
	}

	return c
}

// Collect collects items published within lookbackHours from all
// configured sources. Collected items start with a pending summary status.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) *Result {
	r := &Result{Sources: make(map[string]int)}

	if c.feedParser != nil {
		c.logger.Info("collecting from feeds")
		entries := c.feedParser.ParseAll(ctx, lookbackHours)
		r.TotalFound += len(entries)
		c.store(ctx, r, entries)
	}

	if c.newsClient != nil && c.newsClient.IsConfigured() {
		c.logger.Info("collecting from NewsAPI")
		entries, err := c.newsClient.Search(ctx, c.newsQuery, lookbackHours, 100)
		if err != nil {
			c.logger.Warn("NewsAPI search failed", "err", err)
			r.Errors++
		}
		for i := range entries {
			entries[i].Authority = c.newsAuth
		}
		r.TotalFound += len(entries)
		c.store(ctx, r, entries)
	}

	c.logger.Info("collection complete", "found", r.TotalFound, "new", r.NewItems,
		"duplicates", r.Duplicates, "errors", r.Errors)
	return r
}

func (c *Collector) store(ctx context.Context, r *Result, entries []Entry) {
	for _, e := range entries {
		id, err := c.db.InsertItem(ctx, database.NewItem{
			URL:             e.URL,
			Title:           e.Title,
			Source:          e.Source,
			SourceAuthority: e.Authority,
			Content:         e.Content,
			PublishedAt:     e.PublishedAt,
		})
		switch {
		case err != nil:
			c.logger.Error("failed to store item", "url", e.URL, "err", err)
			r.Errors++
		case id > 0:
			r.NewItems++
			r.Sources[e.Source]++
		default:
			r.Duplicates++
		}
	}
}
