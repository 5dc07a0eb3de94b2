package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

func insertItem(t *testing.T, db *DB, url, title string, authority int, ingested time.Time) int64 {
	t.Helper()
	id, err := db.InsertItem(context.Background(), NewItem{
		URL:             url,
		Title:           title,
		Source:          "Test Source",
		SourceAuthority: authority,
		IngestedAt:      ingested,
	})
	if err != nil {
		t.Fatalf("insert item: %v", err)
	}
	return id
}

func TestInsertItem(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	published := time.Now().Add(-2 * time.Hour)
	id, err := db.InsertItem(ctx, NewItem{
		URL:         "https://example.com/test",
		Title:       "Test Item",
		Source:      "Test Source",
		Content:     "Test content here",
		PublishedAt: &published,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero item ID")
	}

	it, err := db.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it == nil {
		t.Fatal("expected item")
	}
	if it.SummaryStatus != SummaryPending {
		t.Errorf("expected pending status, got %q", it.SummaryStatus)
	}
	if it.PublishedAt == nil || it.PublishedAt.UnixMilli() != published.UnixMilli() {
		t.Errorf("published_at not round-tripped: %v", it.PublishedAt)
	}
	if it.Content == nil || *it.Content != "Test content here" {
		t.Errorf("unexpected content: %v", it.Content)
	}
}

func TestInsertDuplicateItem(t *testing.T) {
	db := openTestDB(t)
	insertItem(t, db, "https://example.com/dup", "First", 0, time.Time{})
	id, err := db.InsertItem(context.Background(), NewItem{URL: "https://example.com/dup", Title: "Duplicate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 0 {
		t.Error("expected 0 for duplicate item")
	}
}

func TestGetItemMissing(t *testing.T) {
	db := openTestDB(t)
	it, err := db.GetItem(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it != nil {
		t.Errorf("expected nil for missing item, got %+v", it)
	}
}

func TestGetItemsByIDPreservesOrder(t *testing.T) {
	db := openTestDB(t)
	a := insertItem(t, db, "https://a.com", "A", 0, time.Time{})
	b := insertItem(t, db, "https://b.com", "B", 0, time.Time{})
	c := insertItem(t, db, "https://c.com", "C", 0, time.Time{})

	items, err := db.GetItemsByID(context.Background(), []int64{c, 999, a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].ID != c || items[1].ID != a || items[2].ID != b {
		t.Errorf("unexpected order: %d %d %d", items[0].ID, items[1].ID, items[2].ID)
	}
}

func TestItemTagsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := insertItem(t, db, "https://a.com", "A", 0, time.Time{})

	tags := Tags{
		Companies:  []string{"Acme"},
		Industries: []string{"fintech", "ai"},
		Topics:     []string{"funding"},
	}
	if err := db.UpdateItemTags(ctx, id, tags, ptr(7), ptr(0.8)); err != nil {
		t.Fatalf("update tags: %v", err)
	}

	it, _ := db.GetItem(ctx, id)
	if !it.Tagged {
		t.Error("expected item to be marked tagged")
	}
	if len(it.Companies) != 1 || it.Companies[0] != "Acme" {
		t.Errorf("unexpected companies: %v", it.Companies)
	}
	if len(it.Industries) != 2 {
		t.Errorf("unexpected industries: %v", it.Industries)
	}
	if it.Technologies != nil {
		t.Errorf("expected nil technologies, got %v", it.Technologies)
	}
	if it.ImpactScore == nil || *it.ImpactScore != 7 {
		t.Errorf("unexpected impact: %v", it.ImpactScore)
	}
	if it.QualityScore == nil || *it.QualityScore != 0.8 {
		t.Errorf("unexpected quality: %v", it.QualityScore)
	}

	untagged, _ := db.UntaggedItems(ctx, 0)
	if len(untagged) != 0 {
		t.Errorf("expected no untagged items, got %d", len(untagged))
	}
}

func TestItemsNeedingFetch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertItem(t, db, "https://a.com", "No content", 0, time.Time{})
	db.InsertItem(ctx, NewItem{URL: "https://b.com", Title: "Has content", Content: "Some text"})

	needing, err := db.ItemsNeedingFetch(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(needing) != 1 {
		t.Fatalf("expected 1 item needing fetch, got %d", len(needing))
	}
	if needing[0].Title != "No content" {
		t.Errorf("expected 'No content', got %q", needing[0].Title)
	}

	if err := db.MarkFetchAttempted(ctx, needing[0].ID); err != nil {
		t.Fatalf("mark fetch: %v", err)
	}
	needing, _ = db.ItemsNeedingFetch(ctx, 0)
	if len(needing) != 0 {
		t.Errorf("expected no items after fetch attempt, got %d", len(needing))
	}
}

func TestCompleteSummaries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := insertItem(t, db, "https://a.com", "A", 0, time.Time{})

	pending, _ := db.PendingSummaryItems(ctx, 0)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending item, got %d", len(pending))
	}
	if err := db.CompleteSummaries(ctx, id, "micro", "standard", "detailed"); err != nil {
		t.Fatalf("complete summaries: %v", err)
	}

	it, _ := db.GetItem(ctx, id)
	if it.SummaryStatus != SummaryCompleted {
		t.Errorf("expected completed, got %q", it.SummaryStatus)
	}
	if it.Summary() != "standard" {
		t.Errorf("expected standard summary preferred, got %q", it.Summary())
	}
}

func TestFindCandidates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	old := insertItem(t, db, "https://old.com", "Old", 9, now.Add(-72*time.Hour))
	low := insertItem(t, db, "https://low.com", "Low", 2, now.Add(-1*time.Hour))
	high := insertItem(t, db, "https://high.com", "High", 8, now.Add(-3*time.Hour))
	pending := insertItem(t, db, "https://pending.com", "Pending", 5, now)
	for _, id := range []int64{old, low, high} {
		db.CompleteSummaries(ctx, id, "m", "s", "d")
	}

	since := now.Add(-24 * time.Hour)
	recent, err := db.FindCandidates(ctx, CandidateQuery{Status: SummaryCompleted, IngestedSince: &since})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent completed items, got %d", len(recent))
	}
	if recent[0].ID != low || recent[1].ID != high {
		t.Errorf("expected newest first, got %d then %d", recent[0].ID, recent[1].ID)
	}

	byAuthority, err := db.FindCandidates(ctx, CandidateQuery{Status: SummaryCompleted, Order: OrderAuthority, Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byAuthority) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(byAuthority))
	}
	if byAuthority[0].ID != old || byAuthority[1].ID != high {
		t.Errorf("expected authority order, got %d then %d", byAuthority[0].ID, byAuthority[1].ID)
	}

	all, _ := db.FindCandidates(ctx, CandidateQuery{})
	if len(all) != 4 || all[0].ID != pending {
		t.Errorf("expected all 4 items with pending newest, got %d", len(all))
	}
}

func TestUserLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	u, err := db.CreateUser(ctx, "reader@example.com", "Reader")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated user ID")
	}

	if err := db.Subscribe(ctx, u.ID, DimCompany, "Acme"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := db.Subscribe(ctx, u.ID, DimIndustry, "fintech"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := db.Subscribe(ctx, u.ID, DimCompany, "Acme"); err != nil {
		t.Fatalf("duplicate subscribe should be ignored: %v", err)
	}
	if err := db.Subscribe(ctx, u.ID, "galaxy", "x"); err == nil {
		t.Error("expected error for unknown dimension")
	}

	got, err := db.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(got.Subscriptions.Companies) != 1 || got.Subscriptions.Industries[0] != "fintech" {
		t.Errorf("unexpected subscriptions: %+v", got.Subscriptions)
	}

	byEmail, err := db.GetUserByEmail(ctx, "reader@example.com")
	if err != nil || byEmail.ID != u.ID {
		t.Errorf("lookup by email failed: %v", err)
	}

	if err := db.Unsubscribe(ctx, u.ID, DimCompany, "Acme"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	got, _ = db.GetUser(ctx, u.ID)
	if len(got.Subscriptions.Companies) != 0 {
		t.Errorf("expected no company subscriptions, got %v", got.Subscriptions.Companies)
	}

	users, _ := db.ListUsers(ctx)
	if len(users) != 1 {
		t.Errorf("expected 1 user, got %d", len(users))
	}
}

func TestGetUserNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetUser(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyItemFeedback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	u, _ := db.CreateUser(ctx, "reader@example.com", "")
	id := insertItem(t, db, "https://a.com", "A", 0, time.Time{})
	db.UpdateItemTags(ctx, id, Tags{Companies: []string{"Acme"}, Topics: []string{"funding"}}, nil, nil)

	if err := db.ApplyItemFeedback(ctx, u.ID, id, true); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	w, _ := db.GetWeightTable(ctx, u.ID)
	if w.Companies["Acme"] != 0.6 || w.Topics["funding"] != 0.6 {
		t.Errorf("expected 0.6 after positive feedback, got %+v", w)
	}

	for i := 0; i < 8; i++ {
		db.ApplyItemFeedback(ctx, u.ID, id, false)
	}
	w, _ = db.GetWeightTable(ctx, u.ID)
	if w.Companies["Acme"] != 0 {
		t.Errorf("expected weight clamped at 0, got %v", w.Companies["Acme"])
	}

	profile, err := db.LoadProfile(ctx, u.ID)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if _, ok := profile.Weights.Topics["funding"]; !ok {
		t.Error("expected topic weight in profile")
	}

	if err := db.ApplyItemFeedback(ctx, u.ID, 999, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing item, got %v", err)
	}
}

func TestClampWeight(t *testing.T) {
	drift := 0.1
	drift += 0.2
	cases := []struct{ in, want float64 }{
		{-0.1, 0},
		{0.3, 0.3},
		{1.2, 1},
		{drift, 0.3},
	}
	for _, c := range cases {
		if got := ClampWeight(c.in); got != c.want {
			t.Errorf("ClampWeight(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestDigestLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	u, _ := db.CreateUser(ctx, "reader@example.com", "")

	for i := 0; i < 4; i++ {
		_, err := db.InsertDigest(ctx, DigestRecord{
			UserID:       u.ID,
			Personalized: i%2 == 0,
			Entries:      []DigestEntry{{ItemID: int64(i + 1), Title: "T", Total: 71.5}},
			GeneratedAt:  time.Now().Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert digest: %v", err)
		}
	}

	digests, err := db.RecentDigests(ctx, u.ID, 3)
	if err != nil {
		t.Fatalf("recent digests: %v", err)
	}
	if len(digests) != 3 {
		t.Fatalf("expected 3 digests, got %d", len(digests))
	}
	if digests[0].Entries[0].ItemID != 4 {
		t.Errorf("expected newest digest first, got entry %d", digests[0].Entries[0].ItemID)
	}
	if digests[0].Date == "" {
		t.Error("expected digest date to default")
	}
}

func TestTurnsLastNChronological(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i, content := range []string{"q1", "a1", "q2", "a2", "q3"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		turn := Turn{SessionID: "s1", Role: role, Content: content}
		if role == RoleAssistant {
			turn.Metadata = &TurnMetadata{Confidence: ptr(0.8), LayersUsed: []string{"session"}}
		}
		if _, err := db.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}
	db.AppendTurn(ctx, Turn{SessionID: "other", Role: RoleUser, Content: "elsewhere"})

	turns, err := db.GetTurns(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("get turns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Content != "q2" || turns[2].Content != "q3" {
		t.Errorf("expected q2..q3, got %q..%q", turns[0].Content, turns[2].Content)
	}
	if turns[1].Metadata == nil || *turns[1].Metadata.Confidence != 0.8 {
		t.Errorf("expected metadata on assistant turn, got %+v", turns[1].Metadata)
	}

	all, _ := db.GetTurns(ctx, "s1", 0)
	if len(all) != 5 {
		t.Errorf("expected 5 turns, got %d", len(all))
	}
}

func TestVectorLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := insertItem(t, db, "https://a.com", "A", 0, time.Time{})
	b := insertItem(t, db, "https://b.com", "B", 0, time.Time{})
	db.CompleteSummaries(ctx, a, "m", "s", "d")
	db.CompleteSummaries(ctx, b, "m", "s", "d")

	missing, _ := db.ItemsWithoutVectors(ctx, 0)
	if len(missing) != 2 {
		t.Fatalf("expected 2 items without vectors, got %d", len(missing))
	}

	if err := db.SaveVector(ctx, a, []float64{0.1, -0.5, 1}, "nomic"); err != nil {
		t.Fatalf("save vector: %v", err)
	}
	if err := db.SaveVector(ctx, a, []float64{0.25, 0.5}, "nomic"); err != nil {
		t.Fatalf("replace vector: %v", err)
	}

	vectors, err := db.AllVectors(ctx)
	if err != nil {
		t.Fatalf("all vectors: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
	if len(vectors[0].Embedding) != 2 || vectors[0].Embedding[1] != 0.5 {
		t.Errorf("unexpected embedding: %v", vectors[0].Embedding)
	}

	missing, _ = db.ItemsWithoutVectors(ctx, 0)
	if len(missing) != 1 || missing[0].ID != b {
		t.Errorf("expected only item %d without vector", b)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := insertItem(t, db, "https://a.com", "A", 0, time.Time{})
	insertItem(t, db, "https://b.com", "B", 0, time.Time{})
	db.CompleteSummaries(ctx, id, "m", "s", "d")
	db.AppendTurn(ctx, Turn{SessionID: "s1", Role: RoleUser, Content: "hi"})
	db.AppendTurn(ctx, Turn{SessionID: "s2", Role: RoleUser, Content: "hi"})

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalItems != 2 {
		t.Errorf("expected 2 total items, got %d", stats.TotalItems)
	}
	if stats.CompletedItems != 1 || stats.PendingItems != 1 {
		t.Errorf("unexpected summary counts: %+v", stats)
	}
	if stats.Turns != 2 || stats.Sessions != 2 {
		t.Errorf("unexpected turn counts: %+v", stats)
	}
}

func TestGetToday(t *testing.T) {
	today := GetToday()
	if len(today) != 10 {
		t.Errorf("expected YYYY-MM-DD format, got %q", today)
	}
	if _, err := time.Parse("2006-01-02", today); err != nil {
		t.Errorf("invalid date format: %v", err)
	}
}

func TestFormatDateDisplay(t *testing.T) {
	if got := FormatDateDisplay("2026-02-06"); got != "Feb 06, 2026" {
		t.Errorf("expected 'Feb 06, 2026', got %q", got)
	}
	if got := FormatDateDisplay("not-a-date"); got != "not-a-date" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
