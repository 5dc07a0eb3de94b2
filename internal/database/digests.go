package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertDigest persists an assembled digest and returns its ID.
func (db *DB) InsertDigest(ctx context.Context, d DigestRecord) (int64, error) {
	entries, err := json.Marshal(d.Entries)
	if err != nil {
		return 0, fmt.Errorf("encode digest entries: %w", err)
	}
	generated := d.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	date := d.Date
	if date == "" {
		date = generated.Format("2006-01-02")
	}
	personalized := 0
	if d.Personalized {
		personalized = 1
	}

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO digests (user_id, digest_date, personalized, entries, generated_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.UserID, date, personalized, string(entries), generated.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert digest: %w", err)
	}
	return result.LastInsertId()
}

// RecentDigests returns a user's most recent digests, newest first.
func (db *DB) RecentDigests(ctx context.Context, userID string, limit int) ([]DigestRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, digest_date, personalized, entries, generated_at
		FROM digests WHERE user_id = ? ORDER BY generated_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query digests: %w", err)
	}
	defer rows.Close()

	var digests []DigestRecord
	for rows.Next() {
		var d DigestRecord
		var personalized int
		var entries string
		var generated int64
		if err := rows.Scan(&d.ID, &d.UserID, &d.Date, &personalized, &entries, &generated); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		d.Personalized = personalized != 0
		d.GeneratedAt = time.UnixMilli(generated)
		if err := json.Unmarshal([]byte(entries), &d.Entries); err != nil {
			return nil, fmt.Errorf("decode digest %d entries: %w", d.ID, err)
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}
