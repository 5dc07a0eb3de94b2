package retrieval

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/llm"
	"github.com/TobiSchelling/curator/internal/scoring"
)

// overFetch widens the vector search so post-filters still leave topK results.
const overFetch = 3

// ItemStore hydrates items by ID.
type ItemStore interface {
	GetItemsByID(ctx context.Context, ids []int64) ([]database.Item, error)
}

// Options narrows a retrieval.
type Options struct {
	TopK       int
	Since      *time.Time // items published (or ingested) before this are dropped
	Companies  []string   // with Industries: keep items matching either
	Industries []string
	Exclude    []int64
}

// Result is a hydrated item with its similarity to the query.
type Result struct {
	Item       database.Item
	Similarity float64
}

// Retriever embeds a query, searches the index and hydrates matching items.
type Retriever struct {
	embedder llm.Embedder
	index    *Index
	items    ItemStore
	now      func() time.Time
}

// NewRetriever creates a retriever.
func NewRetriever(embedder llm.Embedder, index *Index, items ItemStore) *Retriever {
	return &Retriever{embedder: embedder, index: index, items: items, now: time.Now}
}

// Retrieve returns up to opts.TopK items ranked by similarity to query.
// Ties go to the more recent item.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	if r.embedder == nil {
		return nil, llm.ErrNotConfigured
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: no vector returned")
	}

	exclude := make(map[int64]bool, len(opts.Exclude))
	for _, id := range opts.Exclude {
		exclude[id] = true
	}
	hits, err := r.index.Search(ctx, vecs[0], topK*overFetch, exclude)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	similarity := make(map[int64]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ItemID
		similarity[h.ItemID] = h.Similarity
	}
	items, err := r.items.GetItemsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate items: %w", err)
	}

	filter := newTagFilter(opts.Companies, opts.Industries)
	var results []Result
	for _, it := range items {
		if opts.Since != nil && itemTime(it).Before(*opts.Since) {
			continue
		}
		if !filter.match(it) {
			continue
		}
		results = append(results, Result{Item: it, Similarity: similarity[it.ID]})
	}

	now := r.now()
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		ra, rb := scoring.Recency(a.Item.PublishedAt, now), scoring.Recency(b.Item.PublishedAt, now)
		switch {
		case ra > rb:
			return -1
		case ra < rb:
			return 1
		}
		return 0
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func itemTime(it database.Item) time.Time {
	if it.PublishedAt != nil {
		return *it.PublishedAt
	}
	return it.IngestedAt
}

type tagFilter struct {
	companies  map[string]struct{}
	industries map[string]struct{}
}

func newTagFilter(companies, industries []string) tagFilter {
	f := tagFilter{companies: map[string]struct{}{}, industries: map[string]struct{}{}}
	for _, c := range companies {
		f.companies[strings.ToLower(c)] = struct{}{}
	}
	for _, i := range industries {
		f.industries[strings.ToLower(i)] = struct{}{}
	}
	return f
}

func (f tagFilter) match(it database.Item) bool {
	if len(f.companies) == 0 && len(f.industries) == 0 {
		return true
	}
	for _, c := range it.Companies {
		if _, ok := f.companies[strings.ToLower(c)]; ok {
			return true
		}
	}
	for _, i := range it.Industries {
		if _, ok := f.industries[strings.ToLower(i)]; ok {
			return true
		}
	}
	return false
}
