// Package memory holds the three context sources a conversation draws on:
// today's items and digests, the session's own turns, and the archive.
//
// Each layer caches per instance until Clear is called. Instances are not
// shared across sessions.
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
)

// Immediate layer defaults.
const (
	DefaultImmediateItems   = 20
	DefaultImmediateDigests = 3
	immediateWindow         = 24 * time.Hour
)

// ImmediateStore is what the immediate layer reads.
type ImmediateStore interface {
	FindCandidates(ctx context.Context, q database.CandidateQuery) ([]database.Item, error)
	RecentDigests(ctx context.Context, userID string, limit int) ([]database.DigestRecord, error)
}

// Immediate exposes items ingested in the last day and the user's most
// recent digests, newest first.
type Immediate struct {
	store      ImmediateStore
	userID     string
	maxItems   int
	maxDigests int
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	loaded  bool
	items   []database.Item
	digests []database.DigestRecord
}

// NewImmediate creates the immediate layer for one user. Non-positive
// limits use the defaults.
func NewImmediate(store ImmediateStore, userID string, maxItems, maxDigests int, logger *slog.Logger) *Immediate {
	if maxItems <= 0 {
		maxItems = DefaultImmediateItems
	}
	if maxDigests <= 0 {
		maxDigests = DefaultImmediateDigests
	}
	return &Immediate{
		store:      store,
		userID:     userID,
		maxItems:   maxItems,
		maxDigests: maxDigests,
		logger:     logging.OrDefault(logger),
		now:        time.Now,
	}
}

func (m *Immediate) ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}

	since := m.now().Add(-immediateWindow)
	items, err := m.store.FindCandidates(ctx, database.CandidateQuery{
		IngestedSince: &since,
		Order:         database.OrderNewest,
		Limit:         m.maxItems,
	})
	if err != nil {
		return fmt.Errorf("loading today's items: %w", err)
	}

	var digests []database.DigestRecord
	if m.userID != "" {
		digests, err = m.store.RecentDigests(ctx, m.userID, m.maxDigests)
		if err != nil {
			return fmt.Errorf("loading recent digests: %w", err)
		}
	}

	m.items = items
	m.digests = digests
	m.loaded = true
	m.logger.Debug("immediate context loaded", "items", len(items), "digests", len(digests))
	return nil
}

// Load returns today's items and recent digests as context text. It is
// empty when there is nothing to report.
func (m *Immediate) Load(ctx context.Context) (string, error) {
	if err := m.ensure(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 && len(m.digests) == 0 {
		return "", nil
	}

	var b strings.Builder
	if len(m.items) > 0 {
		b.WriteString("Today's items:\n")
		for _, it := range m.items {
			line := "- " + it.Title
			if s := shortSummary(it); s != "" {
				line += ": " + s
			}
			b.WriteString(line + "\n")
		}
	}
	if len(m.digests) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Recent digests:\n")
		for _, d := range m.digests {
			titles := make([]string, len(d.Entries))
			for i, e := range d.Entries {
				titles[i] = e.Title
			}
			fmt.Fprintf(&b, "- %s: %s\n", database.FormatDateDisplay(d.Date), strings.Join(titles, "; "))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Items returns the cached items, loading them if needed.
func (m *Immediate) Items(ctx context.Context) ([]database.Item, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items, nil
}

// Digests returns the cached digests, loading them if needed.
func (m *Immediate) Digests(ctx context.Context) ([]database.DigestRecord, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.digests, nil
}

// Search returns cached items whose title or summary contains keyword,
// case-insensitively, in cache order.
func (m *Immediate) Search(ctx context.Context, keyword string) ([]database.Item, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil, nil
	}
	items, err := m.Items(ctx)
	if err != nil {
		return nil, err
	}
	var out []database.Item
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Title), keyword) ||
			strings.Contains(strings.ToLower(it.Summary()), keyword) {
			out = append(out, it)
		}
	}
	return out, nil
}

// Clear drops the cache.
func (m *Immediate) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
	m.items = nil
	m.digests = nil
}

func shortSummary(it database.Item) string {
	if it.Micro != nil && *it.Micro != "" {
		return *it.Micro
	}
	return truncateRunes(it.Summary(), 200)
}

func truncateRunes(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
