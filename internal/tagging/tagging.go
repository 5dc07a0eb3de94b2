// Package tagging attaches company, industry, technology, person and topic
// tags to collected items.
package tagging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/llm"
	"github.com/TobiSchelling/curator/internal/logging"
)

const tagPrompt = `You are tagging a news item for a personalized industry digest.

Extract the entities the item is substantially about. Do not list entities that are only mentioned in passing.

Title: %s
Source: %s
Content:
%s

Respond with ONLY this JSON:
{
    "companies": ["company names"],
    "industries": ["industry names"],
    "technologies": ["technology names"],
    "people": ["person names"],
    "topics": ["short topic labels"],
    "impact_score": 1-10,
    "quality_score": 0.0-1.0
}

impact_score: 10 = industry-changing, 1 = trivial. quality_score rates the writing and sourcing.`

const maxPromptContent = 4000

// Store is the subset of the database the tagger needs.
type Store interface {
	UntaggedItems(ctx context.Context, limit int) ([]database.Item, error)
	UpdateItemTags(ctx context.Context, id int64, tags database.Tags, impact *int, quality *float64) error
}

// Result holds the results of a tagging run.
type Result struct {
	Processed  int
	Generated  int
	Dictionary int
	Errors     int
}

// Tagger tags items with the generation backend and falls back to a
// dictionary matcher over a configured vocabulary.
type Tagger struct {
	db       Store
	provider llm.Provider
	dict     *Dictionary
	logger   *slog.Logger
}

// NewTagger creates a tagger. provider may be nil, in which case every item
// is tagged from the dictionary.
func NewTagger(db Store, provider llm.Provider, vocab config.Tagging, logger *slog.Logger) *Tagger {
	return &Tagger{
		db:       db,
		provider: provider,
		dict:     NewDictionary(vocab),
		logger:   logging.OrDefault(logger),
	}
}

// TagItems tags up to limit untagged items. limit 0 means all.
func (t *Tagger) TagItems(ctx context.Context, limit int) (*Result, error) {
	items, err := t.db.UntaggedItems(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("get untagged items: %w", err)
	}
	if len(items) == 0 {
		t.logger.Info("no items pending tagging")
		return &Result{}, nil
	}

	r := &Result{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return r, err
		}

		tags, impact, quality, generated := t.tagItem(ctx, item)
		if err := t.db.UpdateItemTags(ctx, item.ID, tags, impact, quality); err != nil {
			t.logger.Error("failed to store tags", "item_id", item.ID, "err", err)
			r.Errors++
			continue
		}
		r.Processed++
		if generated {
			r.Generated++
		} else {
			r.Dictionary++
		}
		t.logger.Debug("item tagged", "item_id", item.ID, "companies", tags.Companies,
			"industries", tags.Industries, "generated", generated)
	}

	t.logger.Info("tagging complete", "processed", r.Processed, "generated", r.Generated,
		"dictionary", r.Dictionary, "errors", r.Errors)
	return r, nil
}

func (t *Tagger) tagItem(ctx context.Context, item database.Item) (database.Tags, *int, *float64, bool) {
	text := itemText(item)
	if t.provider != nil && t.provider.IsConfigured() {
		tags, impact, quality, err := t.generate(ctx, item, text)
		if err == nil {
			return tags, impact, quality, true
		}
		t.logger.Warn("generated tagging failed, using dictionary", "item_id", item.ID, "err", err)
	}
	return t.dict.Match(item.Title + "\n" + text), nil, nil, false
}

func (t *Tagger) generate(ctx context.Context, item database.Item, text string) (database.Tags, *int, *float64, error) {
	if len(text) > maxPromptContent {
		text = text[:maxPromptContent] + "..."
	}
	source := "Unknown"
	if item.Source != nil {
		source = *item.Source
	}

	resp, err := t.provider.Generate(ctx, llm.Request{
		Prompt:      fmt.Sprintf(tagPrompt, item.Title, source, text),
		MaxTokens:   512,
		Temperature: 0.1,
	})
	if err != nil {
		return database.Tags{}, nil, nil, err
	}

	parsed := llm.ParseJSONResponse(resp)
	if parsed == nil {
		return database.Tags{}, nil, nil, fmt.Errorf("unparseable tagging response")
	}

	tags := database.Tags{
		Companies:    dedupe(llm.StringList(parsed, "companies")),
		Industries:   dedupe(llm.StringList(parsed, "industries")),
		Technologies: dedupe(llm.StringList(parsed, "technologies")),
		People:       dedupe(llm.StringList(parsed, "people")),
		Topics:       dedupe(llm.StringList(parsed, "topics")),
	}

	var impact *int
	if v, ok := parsed["impact_score"].(float64); ok {
		n := min(max(int(v), 1), 10)
		impact = &n
	}
	var quality *float64
	if v, ok := parsed["quality_score"].(float64); ok {
		q := min(max(v, 0), 1)
		quality = &q
	}
	return tags, impact, quality, nil
}

func itemText(item database.Item) string {
	if item.Content != nil && *item.Content != "" {
		return *item.Content
	}
	return item.Title
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// Dictionary tags text by matching a fixed vocabulary on word boundaries.
// Terms of three characters or fewer must match case; longer terms match
// case-insensitively.
type Dictionary struct {
	dims []dictDimension
}

type dictDimension struct {
	dim   string
	terms []dictTerm
}

type dictTerm struct {
	value string
	re    *regexp.Regexp
}

// NewDictionary compiles a vocabulary.
func NewDictionary(vocab config.Tagging) *Dictionary {
	d := &Dictionary{}
	for _, dim := range []struct {
		name  string
		terms []string
	}{
		{database.DimCompany, vocab.Companies},
		{database.DimIndustry, vocab.Industries},
		{database.DimTechnology, vocab.Technologies},
		{database.DimPerson, vocab.People},
	} {
		dd := dictDimension{dim: dim.name}
		for _, term := range dim.terms {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			pattern := `\b` + regexp.QuoteMeta(term) + `\b`
			if len([]rune(term)) > 3 {
				pattern = `(?i)` + pattern
			}
			dd.terms = append(dd.terms, dictTerm{value: term, re: regexp.MustCompile(pattern)})
		}
		d.dims = append(d.dims, dd)
	}
	return d
}

// Match returns the vocabulary terms found in text.
func (d *Dictionary) Match(text string) database.Tags {
	var tags database.Tags
	for _, dd := range d.dims {
		var found []string
		for _, term := range dd.terms {
			if term.re.MatchString(text) {
				found = append(found, term.value)
			}
		}
		switch dd.dim {
		case database.DimCompany:
			tags.Companies = found
		case database.DimIndustry:
			tags.Industries = found
		case database.DimTechnology:
			tags.Technologies = found
		case database.DimPerson:
			tags.People = found
		}
	}
	return tags
}
