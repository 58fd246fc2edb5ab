// Package store implements the lexical memory store: a SQLite record table
// mirrored by an FTS5 index, with upsert discipline, composite-scored
// search, access-driven TTL refresh, soft confidence decay and hard pruning.
//
// The store is single-writer, multi-reader: one connection in WAL mode
// serializes writes while readers proceed concurrently.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"mnemos/internal/clock"
	"mnemos/internal/logging"
	"mnemos/internal/memory"
)

// Store is the lexical memory store.
type Store struct {
	db     *sql.DB
	dbPath string
	clock  clock.Clock
}

// Open initializes the SQLite database at the given path, creating parent
// directories, applying the schema and running migrations. Open or migration
// failure is fatal: the engine must refuse to start on it.
func Open(path string, clk clock.Clock) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if clk == nil {
		clk = clock.System{}
	}

	logging.Store("Opening lexical store at %s", path)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and considerably faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path, clock: clk}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.Store("Lexical store ready: %s", path)
	return s, nil
}

// Close closes the database connection. Required for graceful shutdown.
func (s *Store) Close() error {
	logging.Store("Closing lexical store")
	return s.db.Close()
}

// DB exposes the underlying connection; the tests use it to read raw
// columns.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Count returns the total number of records.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return n, nil
}

// CountExpired returns the number of records whose hard expiry has passed.
func (s *Store) CountExpired() (int64, error) {
	var n int64
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?",
		s.clock.Now(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("countExpired failed: %w", err)
	}
	return n, nil
}

// Stats holds the by-class breakdown returned by StatsBreakdown.
type Stats struct {
	Total   int64
	Expired int64
	ByClass map[memory.DecayClass]int64
}

// StatsBreakdown groups record counts by decay class.
func (s *Store) StatsBreakdown() (*Stats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "StatsBreakdown")
	defer timer.Stop()

	stats := &Stats{ByClass: make(map[memory.DecayClass]int64)}

	var err error
	if stats.Total, err = s.Count(); err != nil {
		return nil, err
	}
	if stats.Expired, err = s.CountExpired(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query("SELECT decay_class, COUNT(*) FROM memories GROUP BY decay_class")
	if err != nil {
		return nil, fmt.Errorf("stats breakdown failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var class string
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return nil, fmt.Errorf("stats scan failed: %w", err)
		}
		stats.ByClass[memory.DecayClass(class)] = n
	}
	return stats, rows.Err()
}

// HasDuplicate reports whether a record with exactly this text exists.
func (s *Store) HasDuplicate(text string) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memories WHERE text = ?", text).Scan(&n); err != nil {
		return false, fmt.Errorf("duplicate check failed: %w", err)
	}
	return n > 0, nil
}

// Delete removes a record by id. Returns false when no such row exists.
func (s *Store) Delete(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.StoreDebug("Deleted record %s", id)
	}
	return n > 0, nil
}

// Vacuum reclaims disk space after large prunes.
func (s *Store) Vacuum() error {
	timer := logging.StartTimer(logging.CategoryStore, "Vacuum")
	defer timer.Stop()
	_, err := s.db.Exec("VACUUM")
	return err
}
