package database

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// SaveVector stores or replaces the embedding for an item.
func (db *DB) SaveVector(ctx context.Context, itemID int64, embedding []float64, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO item_vectors (item_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET embedding = excluded.embedding, model = excluded.model,
			dimensions = excluded.dimensions, created_at = excluded.created_at
	`, itemID, blob, model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// AllVectors returns every stored item embedding.
func (db *DB) AllVectors(ctx context.Context) ([]VectorRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT item_id, embedding, model, created_at FROM item_vectors ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("all vectors: %w", err)
	}
	defer rows.Close()

	var records []VectorRecord
	for rows.Next() {
		var v VectorRecord
		var blob []byte
		var created int64
		if err := rows.Scan(&v.ItemID, &blob, &v.Model, &created); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		v.Embedding = decodeEmbedding(blob)
		v.CreatedAt = time.UnixMilli(created)
		records = append(records, v)
	}
	return records, rows.Err()
}

// ItemsWithoutVectors returns completed items that have no embedding yet.
func (db *DB) ItemsWithoutVectors(ctx context.Context, limit int) ([]Item, error) {
	query := `SELECT ` + joinColumns("i.") + ` FROM items i
		LEFT JOIN item_vectors v ON v.item_id = i.id
		WHERE v.item_id IS NULL AND i.summary_status = 'completed'
		ORDER BY i.ingested_at DESC, i.id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return db.queryItems(ctx, query, args...)
}

func joinColumns(prefix string) string {
	s := ""
	for i, c := range itemColumns {
		if i > 0 {
			s += ", "
		}
		s += prefix + c
	}
	return s
}
