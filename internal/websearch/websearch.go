// Package websearch fetches live results from a DuckDuckGo-compatible HTML
// endpoint to augment chat answers.
package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/curator/internal/logging"
)

// DefaultBaseURL is the HTML endpoint queried when none is configured.
const DefaultBaseURL = "https://html.duckduckgo.com/html/"

const userAgent = "Mozilla/5.0 (compatible; curator/1.0)"

// Result is one web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Client queries the search endpoint. A disabled client reports itself
// unavailable and is never called by the chat pipeline.
type Client struct {
	BaseURL string
	Enabled bool

	client *http.Client
	logger *slog.Logger
}

// New creates a client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, enabled bool, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		Enabled: enabled,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logging.OrDefault(logger),
	}
}

// IsAvailable reports whether searches may be issued.
func (c *Client) IsAvailable() bool {
	return c != nil && c.Enabled
}

// Search returns up to n results for query.
func (c *Client) Search(ctx context.Context, query string, n int) ([]Result, error) {
	if !c.IsAvailable() {
		return nil, fmt.Errorf("web search disabled")
	}
	if n <= 0 {
		n = 3
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid search url %s: %w", c.BaseURL, err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}

	results := extractResults(doc, n)
	c.logger.Debug("web search done", "query", query, "results", len(results))
	return results, nil
}

// SearchForContext formats up to n results as a numbered block for a
// system prompt. No results yields an empty string.
func (c *Client) SearchForContext(ctx context.Context, query string, n int) (string, error) {
	results, err := c.Search(ctx, query, n)
	if err != nil {
		return "", err
	}
	return FormatResults(results), nil
}

// FormatResults renders results as a numbered list.
func FormatResults(results []Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, r.Title)
		if r.URL != "" {
			fmt.Fprintf(&b, " (%s)", r.URL)
		}
		if r.Snippet != "" {
			b.WriteString("\n   " + r.Snippet)
		}
	}
	return b.String()
}

func extractResults(doc *goquery.Document, n int) []Result {
	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")
		results = append(results, Result{
			Title:   title,
			URL:     resolveLink(href),
			Snippet: strings.Join(strings.Fields(s.Find(".result__snippet").First().Text()), " "),
		})
		return len(results) < n
	})
	return results
}

// resolveLink unwraps DuckDuckGo redirect links to the target URL.
func resolveLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
