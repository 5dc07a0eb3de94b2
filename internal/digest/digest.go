// Package digest assembles a ranked, bounded set of items for one user.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/logging"
	"github.com/TobiSchelling/curator/internal/scoring"
)

// candidateFactor bounds the scoring pool to a multiple of the digest size.
const candidateFactor = 3

// Store is the subset of the database the assembler reads and writes.
type Store interface {
	LoadProfile(ctx context.Context, id string) (*database.User, error)
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	FindCandidates(ctx context.Context, q database.CandidateQuery) ([]database.Item, error)
	InsertDigest(ctx context.Context, d database.DigestRecord) (int64, error)
}

// Entry is one selected item with its full score breakdown.
type Entry struct {
	Item  database.Item
	Score scoring.Breakdown
}

// Digest is the ordered selection for one user at one point in time.
type Digest struct {
	UserID       string
	Date         string
	GeneratedAt  time.Time
	Personalized bool
	Entries      []Entry
}

// Record converts the digest to its persisted form.
func (d *Digest) Record() database.DigestRecord {
	entries := make([]database.DigestEntry, len(d.Entries))
	for i, e := range d.Entries {
		entries[i] = database.DigestEntry{ItemID: e.Item.ID, Title: e.Item.Title, Total: e.Score.Total}
	}
	return database.DigestRecord{
		UserID:       d.UserID,
		Date:         d.Date,
		Personalized: d.Personalized,
		Entries:      entries,
		GeneratedAt:  d.GeneratedAt,
	}
}

// Assembler builds digests from the completed item pool.
type Assembler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAssembler creates a digest assembler.
func NewAssembler(store Store, logger *slog.Logger) *Assembler {
	return &Assembler{store: store, logger: logging.OrDefault(logger), now: time.Now}
}

// Build selects up to maxItems items for the user. When the user's
// subscriptions match nothing in the lookback window, the digest falls back
// to the most authoritative completed items and is marked unpersonalized.
func (a *Assembler) Build(ctx context.Context, userID string, maxItems, lookbackHours int) (*Digest, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("max items must be positive, got %d", maxItems)
	}
	if lookbackHours <= 0 {
		return nil, fmt.Errorf("lookback hours must be positive, got %d", lookbackHours)
	}

	profile, err := a.store.LoadProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w", userID, err)
	}

	now := a.now()
	since := now.Add(-time.Duration(lookbackHours) * time.Hour)
	candidates, err := a.store.FindCandidates(ctx, database.CandidateQuery{
		Status:        database.SummaryCompleted,
		IngestedSince: &since,
		Order:         database.OrderNewest,
		Limit:         candidateFactor * maxItems,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching candidates: %w", err)
	}

	pool := candidates
	personalized := false
	if !profile.Subscriptions.IsEmpty() {
		pool = filterSubscribed(candidates, profile.Subscriptions)
		personalized = len(pool) > 0
	}
	if len(pool) == 0 {
		a.logger.Info("no personalized candidates, using authority fallback",
			"user", userID, "recent", len(candidates))
		pool, err = a.store.FindCandidates(ctx, database.CandidateQuery{
			Status: database.SummaryCompleted,
			Order:  database.OrderAuthority,
			Limit:  candidateFactor * maxItems,
		})
		if err != nil {
			return nil, fmt.Errorf("fetching fallback candidates: %w", err)
		}
		personalized = false
	}

	scored := scoring.ScoreSequence(pool, profile, now, a.logger)
	slices.SortStableFunc(scored, func(x, y scoring.Scored) int {
		switch {
		case x.Score.Total > y.Score.Total:
			return -1
		case x.Score.Total < y.Score.Total:
			return 1
		}
		return 0
	})
	if len(scored) > maxItems {
		scored = scored[:maxItems]
	}

	d := &Digest{
		UserID:       userID,
		Date:         now.Format("2006-01-02"),
		GeneratedAt:  now,
		Personalized: personalized,
		Entries:      make([]Entry, len(scored)),
	}
	for i, s := range scored {
		d.Entries[i] = Entry{Item: s.Item, Score: s.Score}
	}
	a.logger.Info("digest assembled", "user", userID, "items", len(d.Entries),
		"pool", len(pool), "personalized", personalized)
	return d, nil
}

// BuildTest returns the most authoritative recent items for a user without
// personalization. Used to smoke-test delivery.
func (a *Assembler) BuildTest(ctx context.Context, email string, maxItems, lookbackHours int) (*Digest, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("max items must be positive, got %d", maxItems)
	}
	user, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", email, err)
	}

	now := a.now()
	q := database.CandidateQuery{
		Status: database.SummaryCompleted,
		Order:  database.OrderAuthority,
		Limit:  maxItems,
	}
	if lookbackHours > 0 {
		since := now.Add(-time.Duration(lookbackHours) * time.Hour)
		q.IngestedSince = &since
	}
	items, err := a.store.FindCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetching candidates: %w", err)
	}

	scored := scoring.ScoreSequence(items, nil, now, a.logger)
	d := &Digest{
		UserID:      user.ID,
		Date:        now.Format("2006-01-02"),
		GeneratedAt: now,
		Entries:     make([]Entry, len(scored)),
	}
	for i, s := range scored {
		d.Entries[i] = Entry{Item: s.Item, Score: s.Score}
	}
	return d, nil
}

// Save persists a digest so it can be recalled as immediate context.
func (a *Assembler) Save(ctx context.Context, d *Digest) (int64, error) {
	id, err := a.store.InsertDigest(ctx, d.Record())
	if err != nil {
		return 0, fmt.Errorf("saving digest: %w", err)
	}
	return id, nil
}

func filterSubscribed(items []database.Item, subs database.Tags) []database.Item {
	companies := lowerSet(subs.Companies)
	industries := lowerSet(subs.Industries)

	var out []database.Item
	for _, it := range items {
		if anyIn(it.Companies, companies) || anyIn(it.Industries, industries) {
			out = append(out, it)
		}
	}
	return out
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

func anyIn(values []string, set map[string]struct{}) bool {
	for _, v := range values {
		if _, ok := set[strings.ToLower(v)]; ok {
			return true
		}
	}
	return false
}
