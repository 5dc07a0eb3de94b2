// Package fetch fills in full text for collected items whose feed entry
// carried no content.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/logging"
)

// minContentLength is the shortest extracted text accepted as content.
const minContentLength = 100

// Store is the subset of the database the fetcher needs.
type Store interface {
	ItemsNeedingFetch(ctx context.Context, limit int) ([]database.Item, error)
	UpdateItemContent(ctx context.Context, id int64, content string) error
	MarkFetchAttempted(ctx context.Context, id int64) error
}

// Result holds the results of a content fetch run.
type Result struct {
	Fetched int
	Failed  int
	Skipped int
}

// ContentFetcher fetches full item text via HTTP + readability extraction.
type ContentFetcher struct {
	db     Store
	client *http.Client
	logger *slog.Logger
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(db Store, timeout time.Duration, logger *slog.Logger) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		db: db,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger: logging.OrDefault(logger),
	}
}

// FetchMissingContent fetches content for up to limit items with empty
// content. After an HTTP error the remaining items of that host are skipped.
func (f *ContentFetcher) FetchMissingContent(ctx context.Context, limit int) (*Result, error) {
	items, err := f.db.ItemsNeedingFetch(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("get items needing fetch: %w", err)
	}
	if len(items) == 0 {
		f.logger.Info("no items need content fetching")
		return &Result{}, nil
	}

	result := &Result{}
	failedHosts := make(map[string]struct{})

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		host := ""
		if u, err := url.Parse(item.URL); err == nil {
			host = strings.ToLower(u.Host)
		}

		if _, failed := failedHosts[host]; failed {
			f.markAttempted(ctx, item.ID)
			result.Skipped++
			continue
		}

		content, err := f.fetchContent(ctx, item.URL)
		var statusErr *httpError
		if errors.As(err, &statusErr) {
			f.markAttempted(ctx, item.ID)
			result.Failed++
			if host != "" {
				failedHosts[host] = struct{}{}
			}
			f.logger.Warn("HTTP error, skipping remaining items from host", "url", item.URL,
				"host", host, "status", statusErr.code)
			continue
		}

		if content == "" {
			f.markAttempted(ctx, item.ID)
			result.Failed++
			f.logger.Debug("no extractable content", "url", item.URL, "err", err)
			continue
		}

		if err := f.db.UpdateItemContent(ctx, item.ID, content); err != nil {
			f.logger.Error("failed to store content", "item_id", item.ID, "err", err)
			result.Failed++
			continue
		}
		result.Fetched++
		f.logger.Debug("fetched content", "title", item.Title)
	}

	f.logger.Info("content fetch complete", "fetched", result.Fetched, "failed", result.Failed,
		"skipped", result.Skipped)
	return result, nil
}

func (f *ContentFetcher) markAttempted(ctx context.Context, id int64) {
	if err := f.db.MarkFetchAttempted(ctx, id); err != nil {
		f.logger.Error("failed to mark fetch attempted", "item_id", id, "err", err)
	}
}

// fetchContent returns the readable text of a page, or "" when none could be
// extracted. Only HTTP status failures are reported as *httpError.
func (f *ContentFetcher) fetchContent(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "curator/1.0 (news aggregator)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > minContentLength {
		return text, nil
	}
	return "", nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
