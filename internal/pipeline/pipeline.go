// Package pipeline runs the ingestion steps that turn feed entries into
// completed, tagged and embedded items.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/curator/internal/collect"
	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/fetch"
	"github.com/TobiSchelling/curator/internal/llm"
	"github.com/TobiSchelling/curator/internal/logging"
	"github.com/TobiSchelling/curator/internal/retrieval"
	"github.com/TobiSchelling/curator/internal/tagging"
	"github.com/TobiSchelling/curator/internal/tiered"
)

const embedBatchSize = 16

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Pipeline orchestrates the 5-step ingestion pipeline.
type Pipeline struct {
	cfg       *config.Config
	db        *database.DB
	provider  llm.Provider
	embedder  llm.Embedder
	generator *tiered.Generator
	index     *retrieval.Index
	logger    *slog.Logger
}

// New creates a pipeline. provider and embedder may be nil: tagging then
// uses the dictionary, summaries are truncated locally and embedding is
// skipped.
func New(cfg *config.Config, db *database.DB, provider llm.Provider, embedder llm.Embedder, logger *slog.Logger) *Pipeline {
	logger = logging.OrDefault(logger)
	return &Pipeline{
		cfg:       cfg,
		db:        db,
		provider:  provider,
		embedder:  embedder,
		generator: tiered.New(provider, tiered.TimeoutsFromConfig(cfg.Generation), logger),
		index:     retrieval.NewIndex(db, cfg.LLM.EmbeddingModel),
		logger:    logger,
	}
}

// Run executes the full pipeline for items published within lookbackHours.
func (p *Pipeline) Run(ctx context.Context, lookbackHours int) *Result {
	r := &Result{}
	for _, run := range []func(context.Context, int) StepResult{
		p.runCollect,
		p.runFetch,
		p.runTag,
		p.runSummarize,
		p.runEmbed,
	} {
		if err := ctx.Err(); err != nil {
			r.Steps = append(r.Steps, StepResult{Name: "Cancelled", Err: err})
			return r
		}
		r.Steps = append(r.Steps, run(ctx, lookbackHours))
	}
	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(ctx context.Context) *Result {
	r := &Result{}

	sources := len(p.cfg.Sources.Feeds)
	if p.cfg.Sources.APIs.NewsAPI.Enabled {
		sources++
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("[dry-run] %d sources configured", sources),
	})

	for _, c := range []struct {
		name   string
		format string
		query  func(context.Context, int) ([]database.Item, error)
	}{
		{"Fetch", "[dry-run] %d items need content fetching", p.db.ItemsNeedingFetch},
		{"Tag", "[dry-run] %d items need tagging", p.db.UntaggedItems},
		{"Summarize", "[dry-run] %d items need summaries", p.db.PendingSummaryItems},
		{"Embed", "[dry-run] %d completed items need embeddings", p.db.ItemsWithoutVectors},
	} {
		items, err := c.query(ctx, 0)
		r.Steps = append(r.Steps, StepResult{Name: c.name, Summary: fmt.Sprintf(c.format, len(items)), Err: err})
	}
	return r
}

func (p *Pipeline) runCollect(ctx context.Context, lookbackHours int) StepResult {
	p.logger.Info("step 1/5: collecting items")
	result := collect.NewCollector(p.cfg, p.db, p.logger).Collect(ctx, lookbackHours)
	return StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("Found %d new items (%d total, %d duplicates)", result.NewItems, result.TotalFound, result.Duplicates),
	}
}

func (p *Pipeline) runFetch(ctx context.Context, _ int) StepResult {
	p.logger.Info("step 2/5: fetching item content")
	result, err := fetch.NewContentFetcher(p.db, 15*time.Second, p.logger).FetchMissingContent(ctx, 0)
	if err != nil {
		return StepResult{Name: "Fetch", Err: err}
	}
	return StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Fetched %d items, %d failed, %d skipped", result.Fetched, result.Failed, result.Skipped),
	}
}

func (p *Pipeline) runTag(ctx context.Context, _ int) StepResult {
	p.logger.Info("step 3/5: tagging items")
	result, err := tagging.NewTagger(p.db, p.provider, p.cfg.Tagging, p.logger).TagItems(ctx, 0)
	if err != nil {
		return StepResult{Name: "Tag", Err: err}
	}
	return StepResult{
		Name: "Tag",
		Summary: fmt.Sprintf("Tagged %d items (%d generated, %d dictionary)",
			result.Processed, result.Generated, result.Dictionary),
	}
}

func (p *Pipeline) runSummarize(ctx context.Context, _ int) StepResult {
	p.logger.Info("step 4/5: summarizing items")
	items, err := p.db.PendingSummaryItems(ctx, 0)
	if err != nil {
		return StepResult{Name: "Summarize", Err: fmt.Errorf("get pending items: %w", err)}
	}

	done, failed := 0, 0
	for _, item := range items {
		content := ""
		if item.Content != nil {
			content = *item.Content
		}
		tiers := p.generator.SummarizeTiers(ctx, item.Title, content)
		if err := p.db.CompleteSummaries(ctx, item.ID, tiers.Micro, tiers.Standard, tiers.Detailed); err != nil {
			p.logger.Error("failed to store summaries", "item_id", item.ID, "err", err)
			failed++
			continue
		}
		done++
	}
	return StepResult{
		Name:    "Summarize",
		Summary: fmt.Sprintf("Summarized %d items, %d failed", done, failed),
	}
}

func (p *Pipeline) runEmbed(ctx context.Context, _ int) StepResult {
	p.logger.Info("step 5/5: embedding items")
	if p.embedder == nil {
		return StepResult{Name: "Embed", Summary: "Skipped: no embedding backend"}
	}

	items, err := p.db.ItemsWithoutVectors(ctx, 0)
	if err != nil {
		return StepResult{Name: "Embed", Err: fmt.Errorf("get items without vectors: %w", err)}
	}

	embedded := 0
	for start := 0; start < len(items); start += embedBatchSize {
		batch := items[start:min(start+embedBatchSize, len(items))]
		texts := make([]string, len(batch))
		for i, item := range batch {
			texts[i] = EmbeddingText(item)
		}

		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return StepResult{
				Name: "Embed",
				Err:  fmt.Errorf("embed batch after %d items: %w", embedded, err),
			}
		}
		for i, item := range batch {
			if err := p.index.Upsert(ctx, item.ID, vectors[i]); err != nil {
				p.logger.Error("failed to store vector", "item_id", item.ID, "err", err)
				continue
			}
			embedded++
		}
	}
	return StepResult{
		Name:    "Embed",
		Summary: fmt.Sprintf("Embedded %d of %d items", embedded, len(items)),
	}
}

// EmbeddingText is the text embedded for an item: its title followed by
// its best summary.
func EmbeddingText(item database.Item) string {
	if s := item.Summary(); s != "" {
		return item.Title + "\n\n" + s
	}
	return item.Title
}
