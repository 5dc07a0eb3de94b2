package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
// Timestamps are stored as unix milliseconds.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    source TEXT,
    source_authority INTEGER DEFAULT 0,
    content TEXT,
    content_fetched INTEGER DEFAULT 0,
    micro_summary TEXT,
    standard_summary TEXT,
    detailed_summary TEXT,
    summary_status TEXT NOT NULL DEFAULT 'pending' CHECK(summary_status IN ('pending', 'completed')),
    tagged INTEGER DEFAULT 0,
    companies TEXT,
    industries TEXT,
    technologies TEXT,
    people TEXT,
    topics TEXT,
    quality_score REAL,
    impact_score INTEGER,
    published_at INTEGER,
    ingested_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    name TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    dimension TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (user_id, dimension, value)
);

CREATE TABLE IF NOT EXISTS learned_weights (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    dimension TEXT NOT NULL CHECK(dimension IN ('company', 'industry', 'topic')),
    tag TEXT NOT NULL,
    weight REAL NOT NULL CHECK(weight >= 0 AND weight <= 1),
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, dimension, tag)
);

CREATE TABLE IF NOT EXISTS digests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    digest_date TEXT NOT NULL,
    personalized INTEGER NOT NULL DEFAULT 0,
    entries TEXT NOT NULL,
    generated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS item_vectors (
    item_id INTEGER PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
    embedding BLOB NOT NULL,
    model TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_ingested ON items(ingested_at);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(summary_status);
CREATE INDEX IF NOT EXISTS idx_digests_user ON digests(user_id, generated_at);
CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
