package digest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

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

type seed struct {
	title      string
	authority  int
	age        time.Duration
	companies  []string
	industries []string
	pending    bool
}

func seedItems(t *testing.T, db *database.DB, items []seed) []int64 {
	t.Helper()
	ctx := context.Background()
	var ids []int64
	for i, s := range items {
		ingested := time.Now().Add(-s.age)
		id, err := db.InsertItem(ctx, database.NewItem{
			URL:             "https://example.com/" + strings.ReplaceAll(s.title, " ", "-"),
			Title:           s.title,
			Source:          "Wire",
			SourceAuthority: s.authority,
			PublishedAt:     &ingested,
			IngestedAt:      ingested,
		})
		if err != nil || id == 0 {
			t.Fatalf("seed item %d: %v", i, err)
		}
		tags := database.Tags{Companies: s.companies, Industries: s.industries}
		if err := db.UpdateItemTags(ctx, id, tags, nil, nil); err != nil {
			t.Fatalf("tag item %d: %v", i, err)
		}
		if !s.pending {
			if err := db.CompleteSummaries(ctx, id, s.title+" micro", s.title+" standard", s.title+" detailed"); err != nil {
				t.Fatalf("complete item %d: %v", i, err)
			}
		}
		ids = append(ids, id)
	}
	return ids
}

func newUser(t *testing.T, db *database.DB, subs map[string][]string) *database.User {
	t.Helper()
	ctx := context.Background()
	u, err := db.CreateUser(ctx, "reader@example.com", "Reader")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	for dim, values := range subs {
		for _, v := range values {
			if err := db.Subscribe(ctx, u.ID, dim, v); err != nil {
				t.Fatalf("subscribe: %v", err)
			}
		}
	}
	return u
}

func TestBuildPersonalized(t *testing.T) {
	db := openTestDB(t)
	seedItems(t, db, []seed{
		{title: "Acme raises", age: time.Hour, companies: []string{"Acme"}},
		{title: "Fintech roundup", age: 2 * time.Hour, industries: []string{"fintech"}},
		{title: "Unrelated", age: 30 * time.Minute, companies: []string{"Globex"}},
		{title: "Acme pending", age: time.Hour, companies: []string{"Acme"}, pending: true},
		{title: "Acme old", age: 72 * time.Hour, companies: []string{"Acme"}},
	})
	u := newUser(t, db, map[string][]string{
		database.DimCompany:  {"Acme"},
		database.DimIndustry: {"fintech"},
	})

	a := NewAssembler(db, logging.Discard())
	d, err := a.Build(context.Background(), u.ID, 10, 24)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !d.Personalized {
		t.Error("expected personalized digest")
	}
	if len(d.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(d.Entries))
	}
	if d.Entries[0].Item.Title != "Acme raises" {
		t.Errorf("expected company match first, got %q", d.Entries[0].Item.Title)
	}
	if d.Entries[0].Score.PreferenceMatch != 100 || d.Entries[1].Score.PreferenceMatch != 75 {
		t.Errorf("unexpected preference scores: %+v / %+v", d.Entries[0].Score, d.Entries[1].Score)
	}
	for i := 1; i < len(d.Entries); i++ {
		if d.Entries[i].Score.Total > d.Entries[i-1].Score.Total {
			t.Error("entries not sorted by total descending")
		}
	}
}

func TestBuildFallsBackWhenSubscriptionsMatchNothing(t *testing.T) {
	db := openTestDB(t)
	seedItems(t, db, []seed{
		{title: "Low authority", authority: 2, age: time.Hour, companies: []string{"Globex"}},
		{title: "High authority", authority: 9, age: 5 * time.Hour, companies: []string{"Initech"}},
		{title: "Old but trusted", authority: 8, age: 96 * time.Hour},
	})
	u := newUser(t, db, map[string][]string{database.DimCompany: {"Nonexistent"}})

	a := NewAssembler(db, logging.Discard())
	d, err := a.Build(context.Background(), u.ID, 10, 24)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if d.Personalized {
		t.Error("expected unpersonalized fallback")
	}
	if len(d.Entries) != 3 {
		t.Fatalf("expected whole completed pool, got %d entries", len(d.Entries))
	}
}

func TestBuildWithoutSubscriptionsIsUnpersonalized(t *testing.T) {
	db := openTestDB(t)
	seedItems(t, db, []seed{
		{title: "One", age: time.Hour},
		{title: "Two", age: 2 * time.Hour},
	})
	u := newUser(t, db, nil)

	d, err := NewAssembler(db, logging.Discard()).Build(context.Background(), u.ID, 10, 24)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if d.Personalized {
		t.Error("expected unpersonalized digest for user without subscriptions")
	}
	if len(d.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(d.Entries))
	}
	if d.Entries[0].Score.PreferenceMatch != 50 {
		t.Errorf("expected neutral preference, got %v", d.Entries[0].Score.PreferenceMatch)
	}
}

func TestBuildRespectsMaxItems(t *testing.T) {
	db := openTestDB(t)
	var seeds []seed
	for i := 0; i < 12; i++ {
		seeds = append(seeds, seed{title: "Acme item " + string(rune('a'+i)), age: time.Duration(i+1) * time.Minute, companies: []string{"Acme"}})
	}
	seedItems(t, db, seeds)
	u := newUser(t, db, map[string][]string{database.DimCompany: {"Acme"}})

	d, err := NewAssembler(db, logging.Discard()).Build(context.Background(), u.ID, 3, 24)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(d.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(d.Entries))
	}
	if d.Entries[0].Score.Diversity != 100 {
		t.Errorf("expected first-scored item to top the digest, got diversity %v", d.Entries[0].Score.Diversity)
	}
	if d.Entries[0].Item.Title != "Acme item a" {
		t.Errorf("expected newest item first, got %q", d.Entries[0].Item.Title)
	}
}

func TestBuildUnknownUser(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewAssembler(db, logging.Discard()).Build(context.Background(), "ghost", 10, 24); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestBuildRejectsBadLimits(t *testing.T) {
	db := openTestDB(t)
	a := NewAssembler(db, logging.Discard())
	if _, err := a.Build(context.Background(), "x", 0, 24); err == nil {
		t.Error("expected error for zero max items")
	}
	if _, err := a.Build(context.Background(), "x", 10, 0); err == nil {
		t.Error("expected error for zero lookback")
	}
}

func TestBuildTestUsesAuthorityOrder(t *testing.T) {
	db := openTestDB(t)
	seedItems(t, db, []seed{
		{title: "Low", authority: 1, age: time.Hour, companies: []string{"Acme"}},
		{title: "High", authority: 9, age: 3 * time.Hour},
		{title: "Mid", authority: 5, age: 2 * time.Hour},
	})
	newUser(t, db, map[string][]string{database.DimCompany: {"Acme"}})

	d, err := NewAssembler(db, logging.Discard()).BuildTest(context.Background(), "reader@example.com", 2, 24)
	if err != nil {
		t.Fatalf("build test: %v", err)
	}
	if d.Personalized {
		t.Error("test digest should never be personalized")
	}
	if len(d.Entries) != 2 || d.Entries[0].Item.Title != "High" || d.Entries[1].Item.Title != "Mid" {
		t.Errorf("unexpected test digest order: %+v", d.Entries)
	}
}

func TestSaveAndRender(t *testing.T) {
	db := openTestDB(t)
	seedItems(t, db, []seed{{title: "Acme raises", age: time.Hour, companies: []string{"Acme"}}})
	u := newUser(t, db, map[string][]string{database.DimCompany: {"Acme"}})

	a := NewAssembler(db, logging.Discard())
	d, err := a.Build(context.Background(), u.ID, 5, 24)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := a.Save(context.Background(), d); err != nil {
		t.Fatalf("save: %v", err)
	}
	saved, _ := db.RecentDigests(context.Background(), u.ID, 1)
	if len(saved) != 1 || len(saved[0].Entries) != 1 || !saved[0].Personalized {
		t.Fatalf("unexpected saved digest: %+v", saved)
	}

	md := RenderMarkdown(d)
	for _, want := range []string{"# Your digest for", "Acme raises micro", "## 1. [Acme raises]", "Acme raises standard", "Acme"} {
		if !strings.Contains(md, want) {
			t.Errorf("rendered digest missing %q:\n%s", want, md)
		}
	}
}

func TestRenderEmptyDigest(t *testing.T) {
	md := RenderMarkdown(&Digest{Date: "2026-02-06"})
	if !strings.Contains(md, "Feb 06, 2026") || !strings.Contains(md, "No new items") {
		t.Errorf("unexpected empty rendering:\n%s", md)
	}
	if !strings.Contains(md, "personalize") {
		t.Error("expected unpersonalized note")
	}
}
