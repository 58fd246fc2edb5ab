package store

import "fmt"

// Base record table. Nullable entity/key/value: the pair (entity, key) is
// the case-insensitive upsert key only when both are present.
const memoriesTable = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'other',
	importance REAL NOT NULL DEFAULT 0.7,
	entity TEXT,
	key TEXT,
	value TEXT,
	source TEXT NOT NULL DEFAULT 'conversation',
	created_at INTEGER NOT NULL,
	decay_class TEXT NOT NULL DEFAULT 'stable',
	expires_at INTEGER,
	last_confirmed_at INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 1.0,
	search_tags TEXT NOT NULL DEFAULT ''
);
`

// Indexes that do not depend on migrated state. The entity and unique
// (entity, key) indexes are created by the nocase_index migration, after
// legacy rows have been deduplicated.
const memoriesBaseIndexes = `
CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_memories_decay_class ON memories(decay_class);
`

// External-content FTS index over the searchable columns. The tokenizer must
// stem and fold diacritics so English and French queries hit accented text.
// Created by the fts_version migration so legacy indexes get rebuilt.
const memoriesFTSTable = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	text, category, entity, key, value, search_tags,
	content='memories', content_rowid='rowid',
	tokenize='porter unicode61 remove_diacritics 2'
);
`

// Sync triggers keep the FTS index row-for-row with the record table.
const memoriesFTSTriggers = `
CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, text, category, entity, key, value, search_tags)
	VALUES (new.rowid, new.text, new.category, new.entity, new.key, new.value, new.search_tags);
END;
CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, text, category, entity, key, value, search_tags)
	VALUES ('delete', old.rowid, old.text, old.category, old.entity, old.key, old.value, old.search_tags);
END;
CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, text, category, entity, key, value, search_tags)
	VALUES ('delete', old.rowid, old.text, old.category, old.entity, old.key, old.value, old.search_tags);
	INSERT INTO memories_fts(rowid, text, category, entity, key, value, search_tags)
	VALUES (new.rowid, new.text, new.category, new.entity, new.key, new.value, new.search_tags);
END;
`

// Migration markers live here; foreign readers must not bypass them.
const metaTable = `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// initialize creates the base schema. Index and FTS creation that depends on
// migrated data runs in runMigrations, for fresh and legacy databases alike.
func (s *Store) initialize() error {
	for _, stmt := range []string{
		metaTable,
		memoriesTable,
		memoriesBaseIndexes,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
