package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Order selects the ordering of a candidate query.
type Order int

const (
	// OrderNewest orders by ingestion time, newest first.
	OrderNewest Order = iota
	// OrderAuthority orders by source authority, then publication recency.
	OrderAuthority
)

// CandidateQuery filters the item pool for digests and memory layers.
type CandidateQuery struct {
	Status        string     // "" matches any summary status
	IngestedSince *time.Time // nil means no lower bound
	Order         Order
	Limit         int // 0 means unbounded
}

var itemColumns = []string{
	"id", "url", "title", "source", "source_authority", "content", "content_fetched",
	"micro_summary", "standard_summary", "detailed_summary", "summary_status", "tagged",
	"companies", "industries", "technologies", "people", "topics",
	"quality_score", "impact_score", "published_at", "ingested_at",
}

// InsertItem inserts a collected item as pending. Returns the ID on success, 0 if duplicate.
func (db *DB) InsertItem(ctx context.Context, it NewItem) (int64, error) {
	ingested := it.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now()
	}
	var published *int64
	if it.PublishedAt != nil {
		ms := it.PublishedAt.UnixMilli()
		published = &ms
	}

	result, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO items (url, title, source, source_authority, content, published_at, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		it.URL, it.Title, nullString(it.Source), it.SourceAuthority, nullString(it.Content),
		published, ingested.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetItem returns a single item by ID, or nil if it does not exist.
func (db *DB) GetItem(ctx context.Context, id int64) (*Item, error) {
	items, err := db.GetItemsByID(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// GetItemsByID hydrates items for the given IDs. Missing IDs are skipped;
// order follows the ids argument.
func (db *DB) GetItemsByID(ctx context.Context, ids []int64) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sq.Select(itemColumns...).From("items").
		Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}
	items, err := db.queryItems(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	ordered := make([]Item, 0, len(items))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			ordered = append(ordered, it)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// FindCandidates returns items matching q in the requested order.
func (db *DB) FindCandidates(ctx context.Context, q CandidateQuery) ([]Item, error) {
	b := sq.Select(itemColumns...).From("items")
	if q.Status != "" {
		b = b.Where(sq.Eq{"summary_status": q.Status})
	}
	if q.IngestedSince != nil {
		b = b.Where(sq.GtOrEq{"ingested_at": q.IngestedSince.UnixMilli()})
	}
	switch q.Order {
	case OrderAuthority:
		b = b.OrderBy("source_authority DESC", "COALESCE(published_at, ingested_at) DESC", "id DESC")
	default:
		b = b.OrderBy("ingested_at DESC", "id DESC")
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}
	return db.queryItems(ctx, query, args...)
}

// ItemsNeedingFetch returns items with empty content that haven't been fetched.
func (db *DB) ItemsNeedingFetch(ctx context.Context, limit int) ([]Item, error) {
	return db.selectItems(ctx, sq.And{
		sq.Or{sq.Eq{"content": nil}, sq.Eq{"content": ""}},
		sq.Eq{"content_fetched": 0},
	}, limit)
}

// UpdateItemContent stores fetched content.
func (db *DB) UpdateItemContent(ctx context.Context, id int64, content string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE items SET content = ?, content_fetched = 1 WHERE id = ?", content, id)
	return err
}

// MarkFetchAttempted marks that we tried to fetch content.
func (db *DB) MarkFetchAttempted(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE items SET content_fetched = 1 WHERE id = ?", id)
	return err
}

// UntaggedItems returns items that have not been through the tagger.
func (db *DB) UntaggedItems(ctx context.Context, limit int) ([]Item, error) {
	return db.selectItems(ctx, sq.Eq{"tagged": 0}, limit)
}

// UpdateItemTags stores tags and quality signals for an item.
func (db *DB) UpdateItemTags(ctx context.Context, id int64, tags Tags, impact *int, quality *float64) error {
	cols := map[string]any{
		"tagged":        1,
		"impact_score":  impact,
		"quality_score": quality,
	}
	for col, values := range map[string][]string{
		"companies":    tags.Companies,
		"industries":   tags.Industries,
		"technologies": tags.Technologies,
		"people":       tags.People,
		"topics":       tags.Topics,
	} {
		enc, err := encodeList(values)
		if err != nil {
			return err
		}
		cols[col] = enc
	}

	query, args, err := sq.Update("items").SetMap(cols).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build tag update: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, query, args...)
	return err
}

// PendingSummaryItems returns items whose granular summaries are not yet written.
func (db *DB) PendingSummaryItems(ctx context.Context, limit int) ([]Item, error) {
	return db.selectItems(ctx, sq.Eq{"summary_status": SummaryPending}, limit)
}

// CompleteSummaries writes the three granular summaries and marks the item completed.
func (db *DB) CompleteSummaries(ctx context.Context, id int64, micro, standard, detailed string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE items SET micro_summary = ?, standard_summary = ?, detailed_summary = ?,
		summary_status = 'completed' WHERE id = ?`,
		micro, standard, detailed, id,
	)
	return err
}

func (db *DB) selectItems(ctx context.Context, where sq.Sqlizer, limit int) ([]Item, error) {
	b := sq.Select(itemColumns...).From("items").Where(where).OrderBy("ingested_at DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}
	return db.queryItems(ctx, query, args...)
}

func (db *DB) queryItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func scanItem(rows *sql.Rows) (*Item, error) {
	var it Item
	var fetched, tagged int
	var companies, industries, technologies, people, topics *string
	var impact, published *int64
	var ingested int64
	if err := rows.Scan(&it.ID, &it.URL, &it.Title, &it.Source, &it.SourceAuthority, &it.Content, &fetched,
		&it.Micro, &it.Standard, &it.Detailed, &it.SummaryStatus, &tagged,
		&companies, &industries, &technologies, &people, &topics,
		&it.QualityScore, &impact, &published, &ingested); err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	it.ContentFetched = fetched != 0
	it.Tagged = tagged != 0
	it.IngestedAt = time.UnixMilli(ingested)
	if published != nil {
		t := time.UnixMilli(*published)
		it.PublishedAt = &t
	}
	if impact != nil {
		v := int(*impact)
		it.ImpactScore = &v
	}
	it.Companies = decodeList(companies)
	it.Industries = decodeList(industries)
	it.Technologies = decodeList(technologies)
	it.People = decodeList(people)
	it.Topics = decodeList(topics)
	return &it, nil
}

func encodeList(values []string) (*string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func decodeList(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(*raw), &values); err != nil {
		return nil
	}
	return values
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
