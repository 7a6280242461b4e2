package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: long-term facts about the subject",
		SQL: `
CREATE TABLE memories (
    id               TEXT PRIMARY KEY,
    owner_id         TEXT NOT NULL,
    content          TEXT NOT NULL,
    summary          TEXT,
    category         TEXT NOT NULL CHECK (category IN ('fact', 'preference', 'experience', 'relationship', 'habit')),
    source           TEXT,
    source_ref       TEXT,
    importance       REAL NOT NULL DEFAULT 0.5,
    access_count     INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    last_accessed_at INTEGER
);

CREATE INDEX idx_memories_owner      ON memories(owner_id, created_at DESC);
CREATE INDEX idx_memories_category   ON memories(owner_id, category);
CREATE INDEX idx_memories_source_ref ON memories(owner_id, source_ref);
`,
	},
	{
		Version:     2,
		Description: "memory_vectors: embeddings for semantic search",
		SQL: `
CREATE TABLE memory_vectors (
    memory_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "insights: append-only structured observations",
		SQL: `
CREATE TABLE insights (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    category   TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    source     TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_insights_owner ON insights(owner_id, created_at DESC);
`,
	},
	{
		Version:     4,
		Description: "conversations and messages: short-term chat history",
		SQL: `
CREATE TABLE conversations (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    title      TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX idx_conversations_owner ON conversations(owner_id, updated_at DESC);

CREATE TABLE messages (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content         TEXT NOT NULL,
    embedding       BLOB,
    created_at      INTEGER NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX idx_messages_conversation ON messages(conversation_id, created_at);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
