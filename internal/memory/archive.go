package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/logging"
	"github.com/TobiSchelling/curator/internal/retrieval"
)

// Archive layer defaults.
const (
	DefaultArchiveTopK         = 5
	DefaultArchiveLookbackDays = 30
)

// Retriever is the semantic search the archive wraps.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]retrieval.Result, error)
}

// ItemLookup hydrates a single reference item.
type ItemLookup interface {
	GetItem(ctx context.Context, id int64) (*database.Item, error)
}

// Archive searches all historical items by meaning. Failures are logged and
// reported as no hits.
type Archive struct {
	retriever    Retriever
	items        ItemLookup
	topK         int
	lookbackDays int
	logger       *slog.Logger
	now          func() time.Time

	mu    sync.Mutex
	cache map[string][]retrieval.Result
	hits  []retrieval.Result
}

// NewArchive creates the archive layer. Non-positive limits use the defaults.
func NewArchive(retriever Retriever, items ItemLookup, topK, lookbackDays int, logger *slog.Logger) *Archive {
	if topK <= 0 {
		topK = DefaultArchiveTopK
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultArchiveLookbackDays
	}
	return &Archive{
		retriever:    retriever,
		items:        items,
		topK:         topK,
		lookbackDays: lookbackDays,
		logger:       logging.OrDefault(logger),
		now:          time.Now,
		cache:        make(map[string][]retrieval.Result),
	}
}

// Search runs an unfiltered semantic search.
func (a *Archive) Search(ctx context.Context, query string, topK int) []retrieval.Result {
	if topK <= 0 {
		topK = a.topK
	}
	return a.search(ctx, query, retrieval.Options{TopK: topK})
}

// SearchPersonalized limits the search to the lookback window and the
// user's company and industry subscriptions.
func (a *Archive) SearchPersonalized(ctx context.Context, query string, profile *database.User, topK int) []retrieval.Result {
	if topK <= 0 {
		topK = a.topK
	}
	since := a.now().AddDate(0, 0, -a.lookbackDays)
	opts := retrieval.Options{TopK: topK, Since: &since}
	if profile != nil {
		opts.Companies = profile.Subscriptions.Companies
		opts.Industries = profile.Subscriptions.Industries
	}
	return a.search(ctx, query, opts)
}

// GetSimilar finds items similar to a reference item, excluding it.
func (a *Archive) GetSimilar(ctx context.Context, itemID int64, topK int) []retrieval.Result {
	if topK <= 0 {
		topK = a.topK
	}
	ref, err := a.items.GetItem(ctx, itemID)
	if err != nil {
		a.logger.Warn("similar items: reference lookup failed", "item_id", itemID, "err", err)
		return nil
	}
	if ref == nil {
		a.logger.Warn("similar items: reference not found", "item_id", itemID)
		return nil
	}
	query := strings.TrimSpace(ref.Title + "\n" + ref.Summary())
	return a.search(ctx, query, retrieval.Options{TopK: topK, Exclude: []int64{itemID}})
}

// Load searches the archive for the query, personalized when a profile is
// given, records the hits and returns them as context text.
func (a *Archive) Load(ctx context.Context, query string, profile *database.User) string {
	var hits []retrieval.Result
	if profile != nil && (len(profile.Subscriptions.Companies) > 0 || len(profile.Subscriptions.Industries) > 0) {
		hits = a.SearchPersonalized(ctx, query, profile, a.topK)
		if len(hits) == 0 {
			hits = a.Search(ctx, query, a.topK)
		}
	} else {
		hits = a.Search(ctx, query, a.topK)
	}

	a.mu.Lock()
	a.hits = hits
	a.mu.Unlock()
	return FormatArchive(hits)
}

// Hits returns the results of the last Load.
func (a *Archive) Hits() []retrieval.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits
}

// Clear drops cached searches and hits.
func (a *Archive) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string][]retrieval.Result)
	a.hits = nil
}

func (a *Archive) search(ctx context.Context, query string, opts retrieval.Options) []retrieval.Result {
	key := cacheKey(query, opts)
	a.mu.Lock()
	if cached, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return cached
	}
	a.mu.Unlock()

	results, err := a.retriever.Retrieve(ctx, query, opts)
	if err != nil {
		a.logger.Warn("archive search failed", "err", err)
		return nil
	}

	a.mu.Lock()
	a.cache[key] = results
	a.mu.Unlock()
	return results
}

func cacheKey(query string, opts retrieval.Options) string {
	since := ""
	if opts.Since != nil {
		since = opts.Since.Format("2006-01-02")
	}
	return fmt.Sprintf("%s|%d|%s|%v|%v|%v", query, opts.TopK, since, opts.Companies, opts.Industries, opts.Exclude)
}

// FormatArchive renders archive hits as context text.
func FormatArchive(hits []retrieval.Result) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant archived items:\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. %s", i+1, h.Item.Title)
		var meta []string
		if h.Item.Source != nil && *h.Item.Source != "" {
			meta = append(meta, *h.Item.Source)
		}
		if h.Item.PublishedAt != nil {
			meta = append(meta, h.Item.PublishedAt.Format("Jan 02, 2006"))
		}
		if len(meta) > 0 {
			b.WriteString(" (" + strings.Join(meta, ", ") + ")")
		}
		b.WriteString("\n")
		if s := h.Item.Summary(); s != "" {
			b.WriteString("   " + truncateRunes(s, 400) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
