package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/curator/internal/logging"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIClient fetches items from NewsAPI.
type NewsAPIClient struct {
	BaseURL string

	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewNewsAPIClient creates a NewsAPI client reading its key from apiKeyEnv.
func NewNewsAPIClient(apiKeyEnv string, logger *slog.Logger) *NewsAPIClient {
	return &NewsAPIClient{
		BaseURL: newsAPIBaseURL,
		apiKey:  os.Getenv(apiKeyEnv),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logging.OrDefault(logger),
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search searches for items matching a query published within lookbackHours.
func (c *NewsAPIClient) Search(ctx context.Context, query string, lookbackHours, pageSize int) ([]Entry, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("NewsAPI key not configured")
	}

	now := time.Now().UTC()
	from := now.Add(-time.Duration(lookbackHours) * time.Hour)
	pageSize = min(pageSize, 100)

	params := url.Values{
		"q":        {query},
		"from":     {from.Format(time.RFC3339)},
		"to":       {now.Format(time.RFC3339)},
		"language": {"en"},
		"pageSize": {strconv.Itoa(pageSize)},
		"sortBy":   {"publishedAt"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NewsAPI request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NewsAPI returned %s", resp.Status)
	}

	var result struct {
		Status   string `json:"status"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Content     string `json:"content"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode NewsAPI response: %w", err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("NewsAPI status %q", result.Status)
	}

	var entries []Entry
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var published *time.Time
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			published = &t
		}

		content := a.Content
		if content == "" {
			content = a.Description
		}

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		entries = append(entries, Entry{
			URL:         a.URL,
			Title:       strings.TrimSpace(a.Title),
			PublishedAt: published,
			Content:     strings.TrimSpace(content),
			Source:      source,
		})
	}

	c.logger.Debug("fetched NewsAPI items", "query", query, "count", len(entries))
	return entries, nil
}
