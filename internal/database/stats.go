package database

import "context"

// GetStats returns aggregate database statistics.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	counts := []struct {
		dest  *int
		query string
	}{
		{&s.TotalItems, "SELECT COUNT(*) FROM items"},
		{&s.CompletedItems, "SELECT COUNT(*) FROM items WHERE summary_status = 'completed'"},
		{&s.PendingItems, "SELECT COUNT(*) FROM items WHERE summary_status = 'pending'"},
		{&s.TaggedItems, "SELECT COUNT(*) FROM items WHERE tagged = 1"},
		{&s.EmbeddedItems, "SELECT COUNT(*) FROM item_vectors"},
		{&s.Users, "SELECT COUNT(*) FROM users"},
		{&s.Digests, "SELECT COUNT(*) FROM digests"},
		{&s.Turns, "SELECT COUNT(*) FROM conversation_turns"},
		{&s.Sessions, "SELECT COUNT(DISTINCT session_id) FROM conversation_turns"},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
