// Package scoring computes the relevance of a candidate item for one user.
//
// The total is a fixed weighted sum of five sub-scores, each in [0,100].
// Diversity depends on what was already selected, so a ranking pass must
// score candidates one at a time in the order they are considered.
package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/logging"
)

// Factor weights. They sum to 1.
const (
	WeightPreference = 0.30
	WeightEngagement = 0.25
	WeightRecency    = 0.20
	WeightQuality    = 0.15
	WeightDiversity  = 0.10
)

// Neutral is the sub-score used when a factor has no signal.
const Neutral = 50.0

// ErrMalformedItem is returned for candidates missing required fields.
var ErrMalformedItem = errors.New("malformed item")

// Breakdown is a total score with its five factor sub-scores.
type Breakdown struct {
	Total           float64 `json:"total"`
	PreferenceMatch float64 `json:"preference_match"`
	Engagement      float64 `json:"engagement"`
	Recency         float64 `json:"recency"`
	Quality         float64 `json:"quality"`
	Diversity       float64 `json:"diversity"`
}

// Included is the multiset of company and industry tags of items already
// chosen earlier in the same ranking pass. Keys are lower-cased.
type Included map[string]int

// Add appends an item's company and industry tags.
func (in Included) Add(item *database.Item) {
	for _, c := range item.Companies {
		in[strings.ToLower(c)]++
	}
	for _, ind := range item.Industries {
		in[strings.ToLower(ind)]++
	}
}

func (in Included) count(tag string) int {
	return in[strings.ToLower(tag)]
}

// Score computes the breakdown for one item. A nil profile is treated as a
// user with no subscriptions and no learned weights.
func Score(item *database.Item, profile *database.User, included Included, now time.Time) (Breakdown, error) {
	if item == nil {
		return Breakdown{}, fmt.Errorf("nil item: %w", ErrMalformedItem)
	}
	if item.ID == 0 || strings.TrimSpace(item.Title) == "" {
		return Breakdown{}, fmt.Errorf("item %d without title: %w", item.ID, ErrMalformedItem)
	}

	var subs database.Tags
	var weights database.WeightTable
	if profile != nil {
		subs = profile.Subscriptions
		weights = profile.Weights
	}

	b := Breakdown{
		PreferenceMatch: PreferenceMatch(item.Tags, subs),
		Engagement:      Engagement(item.Tags, weights),
		Recency:         Recency(item.PublishedAt, now),
		Quality:         Quality(item.QualityScore, item.ImpactScore),
		Diversity:       Diversity(item.Tags, included),
	}
	b.Total = round2(WeightPreference*b.PreferenceMatch +
		WeightEngagement*b.Engagement +
		WeightRecency*b.Recency +
		WeightQuality*b.Quality +
		WeightDiversity*b.Diversity)
	return b, nil
}

// PreferenceMatch is tiered: the first matching tier wins.
func PreferenceMatch(item, subs database.Tags) float64 {
	if subs.IsEmpty() {
		return Neutral
	}
	switch {
	case intersects(item.Companies, subs.Companies):
		return 100
	case intersects(item.Industries, subs.Industries):
		return 75
	case intersects(item.Technologies, subs.Technologies), intersects(item.People, subs.People):
		return 50
	}
	return 0
}

// Engagement averages weight×100 over the item's tags that have a learned weight.
func Engagement(item database.Tags, weights database.WeightTable) float64 {
	var sum float64
	var n int
	add := func(tags []string, table map[string]float64) {
		for _, t := range tags {
			if w, ok := table[t]; ok {
				sum += w * 100
				n++
			}
		}
	}
	add(item.Companies, weights.Companies)
	add(item.Industries, weights.Industries)
	add(item.Topics, weights.Topics)
	if n == 0 {
		return Neutral
	}
	return clamp(sum / float64(n))
}

// Recency steps down with age in hours, then halves every 24h after 48h.
func Recency(published *time.Time, now time.Time) float64 {
	if published == nil {
		return Neutral
	}
	age := now.Sub(*published).Hours()
	switch {
	case age < 6:
		return 100
	case age < 12:
		return 80
	case age < 18:
		return 60
	case age < 24:
		return 40
	case age < 48:
		return 20
	}
	return math.Max(0, 20*math.Pow(0.5, (age-48)/24))
}

// Quality prefers an explicit quality score, then a 1-10 impact score.
func Quality(quality *float64, impact *int) float64 {
	if quality != nil {
		return clamp(*quality * 100)
	}
	if impact != nil {
		return clamp(float64(*impact) * 10)
	}
	return Neutral
}

// Diversity penalizes companies and industries already in the selection.
func Diversity(item database.Tags, included Included) float64 {
	score := 100.0
	for _, c := range item.Companies {
		switch n := included.count(c); {
		case n >= 3:
			score -= 30
		case n >= 2:
			score -= 15
		case n >= 1:
			score -= 5
		}
	}
	for _, ind := range item.Industries {
		switch n := included.count(ind); {
		case n >= 2:
			score -= 20
		case n >= 1:
			score -= 10
		}
	}
	return clamp(score)
}

// Scored pairs an item with its breakdown.
type Scored struct {
	Item  database.Item
	Score Breakdown
}

// ScoreSequence scores items in order, adding each scored item's tags to
// the included multiset before the next one. Malformed items are logged
// and skipped without touching the multiset.
func ScoreSequence(items []database.Item, profile *database.User, now time.Time, logger *slog.Logger) []Scored {
	logger = logging.OrDefault(logger)
	included := make(Included)
	scored := make([]Scored, 0, len(items))
	for i := range items {
		b, err := Score(&items[i], profile, included, now)
		if err != nil {
			logger.Warn("skipping candidate", "item_id", items[i].ID, "err", err)
			continue
		}
		included.Add(&items[i])
		scored = append(scored, Scored{Item: items[i], Score: b})
	}
	return scored
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[strings.ToLower(v)] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[strings.ToLower(v)]; ok {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
