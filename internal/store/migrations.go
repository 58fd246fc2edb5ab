package store

import (
	"database/sql"
	"fmt"

	"mnemos/internal/logging"
	"mnemos/internal/memory"
)

// Schema markers written to _meta. Versions observed in the wild:
// fts_version=3 (porter tokenizer + search_tags column), nocase_index=1
// (case-insensitive entity index + unique (entity, key)).
const (
	metaFTSVersion     = "fts_version"
	currentFTSVersion  = "3"
	metaNocaseIndex    = "nocase_index"
	currentNocaseIndex = "1"
	metaDecayColumns   = "decay_columns"
	metaEpochSeconds   = "epoch_seconds"
	metaExpiryBackfill = "expiry_backfill"
)

// Timestamps above this are milliseconds left over from older writers.
const msEpochThreshold = 1_000_000_000_000

type migration struct {
	key    string
	target string
	run    func(s *Store) error
}

// migrations run in order on every open; each step is idempotent and gated
// by its _meta marker.
var migrations = []migration{
	{metaDecayColumns, "1", (*Store).migrateDecayColumns},
	{metaEpochSeconds, "1", (*Store).migrateEpochSeconds},
	{metaFTSVersion, currentFTSVersion, (*Store).migrateFTS},
	{metaNocaseIndex, currentNocaseIndex, (*Store).migrateNocaseIndex},
	{metaExpiryBackfill, "1", (*Store).migrateExpiryBackfill},
}

func (s *Store) runMigrations() error {
	timer := logging.StartTimer(logging.CategoryStore, "runMigrations")
	defer timer.Stop()

	for _, m := range migrations {
		current, err := s.getMeta(m.key)
		if err != nil {
			return err
		}
		if current == m.target {
			logging.StoreDebug("Migration %s already at %s, skipping", m.key, m.target)
			continue
		}
		logging.Store("Running migration %s -> %s", m.key, m.target)
		if err := m.run(s); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.key, err)
		}
		if err := s.setMeta(m.key, m.target); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM _meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta read failed for %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO _meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("meta write failed for %s: %w", key, err)
	}
	return nil
}

// columnExists checks a column via PRAGMA table_info.
func (s *Store) columnExists(table, column string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func (s *Store) indexExists(name string) bool {
	var n int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", name,
	).Scan(&n); err != nil {
		return false
	}
	return n > 0
}

// migrateDecayColumns adds the decay columns to databases that predate the
// decay model, seeding last_confirmed_at from created_at.
func (s *Store) migrateDecayColumns() error {
	adds := []struct{ column, def string }{
		{"decay_class", "TEXT NOT NULL DEFAULT 'stable'"},
		{"expires_at", "INTEGER"},
		{"last_confirmed_at", "INTEGER NOT NULL DEFAULT 0"},
		{"confidence", "REAL NOT NULL DEFAULT 1.0"},
		{"search_tags", "TEXT NOT NULL DEFAULT ''"},
	}
	for _, a := range adds {
		if s.columnExists("memories", a.column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE memories ADD COLUMN %s %s", a.column, a.def)
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to add memories.%s: %w", a.column, err)
		}
		logging.Store("Migration added column memories.%s", a.column)
	}
	_, err := s.db.Exec("UPDATE memories SET last_confirmed_at = created_at WHERE last_confirmed_at = 0")
	return err
}

// migrateEpochSeconds converts millisecond timestamps written by older
// clients down to seconds.
func (s *Store) migrateEpochSeconds() error {
	stmts := []string{
		fmt.Sprintf("UPDATE memories SET created_at = created_at / 1000 WHERE created_at > %d", msEpochThreshold),
		fmt.Sprintf("UPDATE memories SET expires_at = expires_at / 1000 WHERE expires_at IS NOT NULL AND expires_at > %d", msEpochThreshold),
		fmt.Sprintf("UPDATE memories SET last_confirmed_at = last_confirmed_at / 1000 WHERE last_confirmed_at > %d", msEpochThreshold),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateFTS rebuilds the full-text index with the stemming tokenizer and
// the search_tags column, then repopulates it from the record table.
func (s *Store) migrateFTS() error {
	drops := []string{
		"DROP TRIGGER IF EXISTS memories_ai",
		"DROP TRIGGER IF EXISTS memories_ad",
		"DROP TRIGGER IF EXISTS memories_au",
		"DROP TABLE IF EXISTS memories_fts",
	}
	for _, stmt := range drops {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(memoriesFTSTable); err != nil {
		return fmt.Errorf("failed to create FTS table: %w", err)
	}
	if _, err := s.db.Exec(memoriesFTSTriggers); err != nil {
		return fmt.Errorf("failed to create FTS triggers: %w", err)
	}
	if _, err := s.db.Exec("INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')"); err != nil {
		return fmt.Errorf("failed to rebuild FTS index: %w", err)
	}
	logging.Store("FTS index rebuilt at version %s", currentFTSVersion)
	return nil
}

// migrateNocaseIndex deduplicates non-null (entity, key) pairs
// case-insensitively, keeping the latest row, then creates the unique index
// and replaces the case-sensitive entity index with a NOCASE one.
func (s *Store) migrateNocaseIndex() error {
	dedup := `
	DELETE FROM memories WHERE rowid NOT IN (
		SELECT rowid FROM (
			SELECT rowid, ROW_NUMBER() OVER (
				PARTITION BY lower(entity), lower(key)
				ORDER BY created_at DESC, rowid DESC
			) AS rn
			FROM memories
			WHERE entity IS NOT NULL AND key IS NOT NULL
		) WHERE rn = 1
	) AND entity IS NOT NULL AND key IS NOT NULL`
	res, err := s.db.Exec(dedup)
	if err != nil {
		return fmt.Errorf("entity/key dedup failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Store("Deduplicated %d records with conflicting (entity, key)", n)
	}

	if s.indexExists("idx_memories_entity") {
		if _, err := s.db.Exec("DROP INDEX idx_memories_entity"); err != nil {
			return err
		}
	}
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_memories_entity_nocase ON memories(entity COLLATE NOCASE)",
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_entity_key
			ON memories(lower(entity), lower(key))
			WHERE entity IS NOT NULL AND key IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("index creation failed: %w", err)
		}
	}
	return nil
}

// migrateExpiryBackfill fills null expires_at on non-permanent rows using
// the effective per-class TTLs (memory.TTL: configured overrides, else the
// defaults), anchored at last_confirmed_at so the
// expires_at >= last_confirmed_at invariant holds.
func (s *Store) migrateExpiryBackfill() error {
	for class := range memory.TTLSeconds {
		_, err := s.db.Exec(
			"UPDATE memories SET expires_at = last_confirmed_at + ? WHERE expires_at IS NULL AND decay_class = ?",
			memory.TTL(class), string(class),
		)
		if err != nil {
			return err
		}
	}
	// Unknown classes fall back to stable's TTL rather than staying immortal.
	_, err := s.db.Exec(
		"UPDATE memories SET expires_at = last_confirmed_at + ? WHERE expires_at IS NULL AND decay_class != ?",
		memory.TTL(memory.DecayStable), string(memory.DecayPermanent),
	)
	return err
}
