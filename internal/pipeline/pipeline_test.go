package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/llm"
	"github.com/TobiSchelling/curator/internal/logging"
)

// mockProvider answers every request with the same text.
type mockProvider struct {
	response string
}

func (m *mockProvider) Generate(_ context.Context, _ llm.Request) (string, error) {
	return m.response, nil
}

func (m *mockProvider) Stream(_ context.Context, _ llm.Request, onChunk func(string)) (string, error) {
	onChunk(m.response)
	return m.response, nil
}

func (m *mockProvider) IsConfigured() bool { return true }

type mockEmbedder struct {
	calls int
	err   error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = []float64{float64(len(text)), 1}
	}
	return out, nil
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		LLM:     config.LLM{EmbeddingModel: "test-embed"},
		Tagging: config.Tagging{Companies: []string{"Acme"}},
	}
}

func seed(t *testing.T, db *database.DB, n int) {
	t.Helper()
	for i := range n {
		_, err := db.InsertItem(context.Background(), database.NewItem{
			URL:     "https://example.com/" + string(rune('a'+i)),
			Title:   "Acme news",
			Content: "Acme shipped robots. More details follow in the body.",
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestRunCompletesItems(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seed(t, db, 3)

	provider := &mockProvider{response: "MICRO: Acme ships robots.\nSTANDARD: Acme shipped robots today.\nDETAILED: Acme shipped robots to warehouses."}
	embedder := &mockEmbedder{}
	r := New(testConfig(), db, provider, embedder, logging.Discard()).Run(ctx, 24)

	if r.Failed() {
		t.Fatalf("pipeline failed: %+v", r.Steps)
	}
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	if got := strings.Join(names, ","); got != "Collect,Fetch,Tag,Summarize,Embed" {
		t.Errorf("steps = %s", got)
	}

	items, _ := db.FindCandidates(ctx, database.CandidateQuery{Status: database.SummaryCompleted})
	if len(items) != 3 {
		t.Fatalf("expected 3 completed items, got %d", len(items))
	}
	for _, it := range items {
		if it.Micro == nil || *it.Micro != "Acme ships robots." {
			t.Errorf("micro = %v", it.Micro)
		}
		if !it.Tagged || len(it.Companies) != 1 {
			t.Errorf("expected dictionary tag Acme, got %v", it.Companies)
		}
	}

	vectors, _ := db.AllVectors(ctx)
	if len(vectors) != 3 {
		t.Errorf("expected 3 vectors, got %d", len(vectors))
	}
	if vectors[0].Model != "test-embed" {
		t.Errorf("model = %q", vectors[0].Model)
	}
	if embedder.calls != 1 {
		t.Errorf("expected one embedding batch, got %d", embedder.calls)
	}
}

func TestRunWithoutBackends(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seed(t, db, 1)

	r := New(testConfig(), db, nil, nil, logging.Discard()).Run(ctx, 24)
	if r.Failed() {
		t.Fatalf("pipeline failed: %+v", r.Steps)
	}
	if last := r.Steps[len(r.Steps)-1]; !strings.HasPrefix(last.Summary, "Skipped") {
		t.Errorf("embed step = %+v", last)
	}

	items, _ := db.FindCandidates(ctx, database.CandidateQuery{Status: database.SummaryCompleted})
	if len(items) != 1 || items[0].Micro == nil || *items[0].Micro != "Acme shipped robots." {
		t.Errorf("expected local micro summary, got %+v", items)
	}
}

func TestEmbedErrorReported(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 1)

	r := New(testConfig(), db, nil, &mockEmbedder{err: errors.New("down")}, logging.Discard()).
		Run(context.Background(), 24)
	if !r.Failed() {
		t.Fatal("expected embed failure to be reported")
	}
}

func TestDryRun(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 2)

	cfg := testConfig()
	cfg.Sources.Feeds = []config.Feed{{URL: "https://example.com/feed"}}
	r := New(cfg, db, nil, nil, logging.Discard()).DryRun(context.Background())

	want := []string{
		"[dry-run] 1 sources configured",
		"[dry-run] 0 items need content fetching",
		"[dry-run] 2 items need tagging",
		"[dry-run] 2 items need summaries",
		"[dry-run] 0 completed items need embeddings",
	}
	if len(r.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(r.Steps))
	}
	for i, w := range want {
		if r.Steps[i].Summary != w {
			t.Errorf("step %d = %q, want %q", i, r.Steps[i].Summary, w)
		}
	}
}

func TestEmbeddingText(t *testing.T) {
	std := "Standard summary"
	if got := EmbeddingText(database.Item{Title: "T", Standard: &std}); got != "T\n\nStandard summary" {
		t.Errorf("EmbeddingText = %q", got)
	}
	if got := EmbeddingText(database.Item{Title: "T"}); got != "T" {
		t.Errorf("EmbeddingText = %q", got)
	}
}
