package collect

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/curator/internal/logging"
)

const maxPerFeed = 20

// Entry is a collected item before it is stored.
type Entry struct {
	URL         string
	Title       string
	PublishedAt *time.Time
	Content     string
	Source      string
	Authority   int
}

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL       string
	Name      string
	Authority int
}

// FeedParser parses RSS/Atom feeds.
type FeedParser struct {
	feeds  []FeedConfig
	logger *slog.Logger
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser(feeds []FeedConfig, logger *slog.Logger) *FeedParser {
	return &FeedParser{feeds: feeds, logger: logging.OrDefault(logger)}
}

// ParseAll parses all configured feeds and returns entries published within
// lookbackHours. Entries without a date are kept.
func (fp *FeedParser) ParseAll(ctx context.Context, lookbackHours int) []Entry {
	cutoff := time.Now().Add(-time.Duration(lookbackHours) * time.Hour)
	var all []Entry

	parser := gofeed.NewParser()
	for _, fc := range fp.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		entries, err := parseFeed(ctx, parser, fc, name, cutoff)
		if err != nil {
			fp.logger.Warn("failed to parse feed", "url", fc.URL, "err", err)
			continue
		}
		all = append(all, entries...)
		fp.logger.Debug("parsed feed", "source", name, "entries", len(entries))
	}

	return all
}

func parseFeed(ctx context.Context, parser *gofeed.Parser, fc FeedConfig, sourceName string, cutoff time.Time) ([]Entry, error) {
	feed, err := parser.ParseURLWithContext(fc.URL, ctx)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, item := range feed.Items {
		if len(entries) >= maxPerFeed {
			break
		}

		entry := parseItem(item, sourceName)
		if entry == nil {
			continue
		}
		if entry.PublishedAt == nil || !entry.PublishedAt.Before(cutoff) {
			entry.Authority = fc.Authority
			entries = append(entries, *entry)
		}
	}

	return entries, nil
}

func parseItem(item *gofeed.Item, source string) *Entry {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}

	var content string
	if item.Content != "" {
		content = stripHTML(item.Content)
	} else if item.Description != "" {
		content = stripHTML(item.Description)
	}

	return &Entry{
		URL:         itemURL,
		Title:       title,
		PublishedAt: published,
		Content:     content,
		Source:      source,
	}
}

// stripHTML returns the text of an HTML fragment with whitespace collapsed.
func stripHTML(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.Join(strings.Fields(text), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
