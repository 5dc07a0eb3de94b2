package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/logging"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func rssFeed(now time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Test</title>
<item><title>Fresh item</title><link>https://example.com/fresh</link>
  <pubDate>%s</pubDate><description>&lt;p&gt;Acme &amp;amp; Globex&lt;/p&gt;</description></item>
<item><title>Stale item</title><link>https://example.com/stale</link>
  <pubDate>%s</pubDate></item>
<item><title>Undated item</title><link>https://example.com/undated</link></item>
<item><title>   </title><link>https://example.com/untitled</link></item>
</channel></rss>`, now.Add(-2*time.Hour).Format(time.RFC1123Z), now.Add(-72*time.Hour).Format(time.RFC1123Z))
}

func TestCollectFeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFeed(time.Now()))
	}))
	defer srv.Close()

	db := openTestDB(t)
	ctx := context.Background()
	cfg := &config.Config{Sources: config.Sources{Feeds: []config.Feed{
		{URL: srv.URL, Name: "Test Feed", Authority: 7},
	}}}

	c := NewCollector(cfg, db, logging.Discard())
	r := c.Collect(ctx, 24)
	if r.TotalFound != 2 || r.NewItems != 2 {
		t.Fatalf("expected 2 found and new, got %+v", r)
	}
	if r.Sources["Test Feed"] != 2 {
		t.Errorf("sources = %v", r.Sources)
	}

	items, _ := db.FindCandidates(ctx, database.CandidateQuery{})
	if len(items) != 2 {
		t.Fatalf("expected 2 stored items, got %d", len(items))
	}
	for _, it := range items {
		if it.SourceAuthority != 7 {
			t.Errorf("%s: authority = %d, want 7", it.Title, it.SourceAuthority)
		}
		if it.SummaryStatus != database.SummaryPending {
			t.Errorf("%s: status = %s", it.Title, it.SummaryStatus)
		}
		if it.Title == "Fresh item" {
			if it.Content == nil || *it.Content != "Acme & Globex" {
				t.Errorf("content = %v", it.Content)
			}
			if it.PublishedAt == nil {
				t.Error("expected published time")
			}
		}
	}

	r = c.Collect(ctx, 24)
	if r.NewItems != 0 || r.Duplicates != 2 {
		t.Errorf("second run should only find duplicates, got %+v", r)
	}
}

func TestNewsAPISearch(t *testing.T) {
	var gotKey, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, `{"status":"ok","articles":[
			{"url":"https://n.com/1","title":" Chip deal ","publishedAt":"2026-10-14T08:00:00Z","description":"desc","source":{"name":"Wire"}},
			{"url":"https://removed.com","title":"[Removed]"},
			{"url":"","title":"no url"},
			{"url":"https://n.com/2","title":"No source","content":"body"}
		]}`)
	}))
	defer srv.Close()

	t.Setenv("TEST_NEWSAPI_KEY", "secret")
	c := NewNewsAPIClient("TEST_NEWSAPI_KEY", logging.Discard())
	c.BaseURL = srv.URL

	entries, err := c.Search(context.Background(), "chips", 24, 500)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotKey != "secret" || gotQuery != "chips" {
		t.Errorf("key=%q query=%q", gotKey, gotQuery)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Title != "Chip deal" || entries[0].Content != "desc" || entries[0].Source != "Wire" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[0].PublishedAt == nil || entries[0].PublishedAt.Day() != 14 {
		t.Errorf("published = %v", entries[0].PublishedAt)
	}
	if entries[1].Source != "NewsAPI" || entries[1].PublishedAt != nil {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestNewsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	unconfigured := NewNewsAPIClient("TEST_NEWSAPI_MISSING", logging.Discard())
	if unconfigured.IsConfigured() {
		t.Fatal("expected unconfigured client")
	}
	if _, err := unconfigured.Search(context.Background(), "q", 24, 10); err == nil {
		t.Error("expected error without key")
	}

	t.Setenv("TEST_NEWSAPI_KEY", "secret")
	c := NewNewsAPIClient("TEST_NEWSAPI_KEY", logging.Discard())
	c.BaseURL = srv.URL
	if _, err := c.Search(context.Background(), "q", 24, 10); err == nil {
		t.Error("expected error on HTTP 401")
	}
}

func TestStripHTML(t *testing.T) {
	got := stripHTML("<p>Hello <b>world</b></p>\n<p>again&nbsp;&amp; more</p>")
	if got != "Hello world again & more" {
		t.Errorf("stripHTML = %q", got)
	}
}

func TestExtractSourceName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://www.techcrunch.com/feed/", "Techcrunch"},
		{"https://feeds.arstechnica.com/arstechnica/index", "Arstechnica"},
		{"https://localhost/rss", "Localhost"},
	}
	for _, tc := range cases {
		if got := extractSourceName(tc.in); got != tc.want {
			t.Errorf("extractSourceName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
