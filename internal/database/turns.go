package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AppendTurn stores one conversation turn and returns its ID.
func (db *DB) AppendTurn(ctx context.Context, t Turn) (int64, error) {
	var metadata *string
	if t.Metadata != nil {
		data, err := json.Marshal(t.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode turn metadata: %w", err)
		}
		s := string(data)
		metadata = &s
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO conversation_turns (session_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.SessionID, t.Role, t.Content, metadata, created.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	return result.LastInsertId()
}

// GetTurns returns the last limit turns of a session in chronological order.
// A limit of 0 returns the whole session.
func (db *DB) GetTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	query := `SELECT id, session_id, role, content, metadata, created_at
		FROM conversation_turns WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var metadata *string
		var created int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = time.UnixMilli(created)
		if metadata != nil && *metadata != "" {
			var md TurnMetadata
			if err := json.Unmarshal([]byte(*metadata), &md); err == nil {
				t.Metadata = &md
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
