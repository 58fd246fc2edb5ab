// Package vector implements the approximate-nearest-neighbor store over a
// sqlite-vec vec0 virtual table. It owns one table named "memories" inside
// a caller-supplied directory and is single-writer: callers must not
// interleave writes across processes.
package vector

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"mnemos/internal/clock"
	"mnemos/internal/logging"
	"mnemos/internal/memory"
)

const tableName = "memories"

// DefaultMinScore is the recall floor applied when the caller passes 0.
const DefaultMinScore = 0.3

// DuplicateThreshold is the nearest-neighbor score at or above which a
// vector counts as a duplicate.
const DuplicateThreshold = 0.95

// Store is the vector memory store.
type Store struct {
	db    *sql.DB
	dir   string
	dims  int
	clock clock.Clock
}

// Entry is the input to Store.Store. ID is optional; a fresh one is
// generated when absent.
type Entry struct {
	ID         string
	Text       string
	Vector     []float32
	Importance float64
	Category   memory.Category
}

var vecDimsRe = regexp.MustCompile(`float\[(\d+)\]`)

// Open initializes the vector database inside dir. An existing memories
// table pins the vector dimension from its own schema; otherwise the table
// is created with the given dimension and pinned with a seed row that is
// deleted immediately.
func Open(dir string, dims int, clk clock.Clock) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryVector, "Open")
	defer timer.Stop()

	if clk == nil {
		clk = clock.System{}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector directory: %w", err)
	}

	path := filepath.Join(dir, "memories.db")
	logging.Vector("Opening vector store at %s", path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.VectorDebug("Failed to set busy_timeout: %v", err)
	}

	s := &Store{db: db, dir: dir, clock: clk}

	existing, err := s.existingDims()
	if err != nil {
		db.Close()
		return nil, err
	}
	if existing > 0 {
		if dims > 0 && dims != existing {
			logging.Get(logging.CategoryVector).Warn(
				"Configured dims %d differ from table dims %d; table wins", dims, existing)
		}
		s.dims = existing
		logging.Vector("Vector table ready (existing, dims=%d)", s.dims)
		return s, nil
	}

	if dims <= 0 {
		db.Close()
		return nil, fmt.Errorf("vector dimension required to create table %s", tableName)
	}
	if err := s.createTable(dims); err != nil {
		db.Close()
		return nil, err
	}
	s.dims = dims
	logging.Vector("Vector table created (dims=%d)", s.dims)
	return s, nil
}

// existingDims reads the vector dimension from the table's DDL, or 0 when
// the table does not exist.
func (s *Store) existingDims() (int, error) {
	var ddl string
	err := s.db.QueryRow(
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", tableName,
	).Scan(&ddl)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to inspect vector table: %w", err)
	}
	m := vecDimsRe.FindStringSubmatch(ddl)
	if m == nil {
		return 0, fmt.Errorf("vector table %s has no float[N] column in its DDL", tableName)
	}
	dims, err := strconv.Atoi(m[1])
	if err != nil || dims <= 0 {
		return 0, fmt.Errorf("vector table %s has invalid dimension %q", tableName, m[1])
	}
	return dims, nil
}

func (s *Store) createTable(dims int) error {
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE %s USING vec0(
		id TEXT PRIMARY KEY,
		embedding float[%d] distance_metric=cosine,
		+text TEXT,
		+importance FLOAT,
		+category TEXT,
		+created_at INTEGER
	)`, tableName, dims)
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	// Seed row pins the dimension, then goes away.
	seedID := uuid.NewString()
	seed := make([]float32, dims)
	if _, err := s.db.Exec(
		fmt.Sprintf("INSERT INTO %s (id, embedding, text, importance, category, created_at) VALUES (?, ?, ?, ?, ?, ?)", tableName),
		seedID, encodeVector(seed), "", 0.0, "", int64(0),
	); err != nil {
		return fmt.Errorf("failed to seed vector table: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", tableName), seedID); err != nil {
		return fmt.Errorf("failed to delete seed row: %w", err)
	}
	return nil
}

// Close closes the vector database.
func (s *Store) Close() error {
	logging.Vector("Closing vector store")
	return s.db.Close()
}

// Dimensions returns the pinned vector dimension.
func (s *Store) Dimensions() int {
	return s.dims
}

// Store upserts a vector record by id: any existing row with the id is
// deleted best-effort, then the new row is inserted. Returns the id.
func (s *Store) Store(e Entry) (string, error) {
	timer := logging.StartTimer(logging.CategoryVector, "Store")
	defer timer.Stop()

	if len(e.Vector) != s.dims {
		return "", fmt.Errorf("vector has %d dims, table expects %d", len(e.Vector), s.dims)
	}
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", tableName), id); err != nil {
		logging.VectorDebug("Pre-insert delete for %s failed: %v", id, err)
	}

	_, err := s.db.Exec(
		fmt.Sprintf("INSERT INTO %s (id, embedding, text, importance, category, created_at) VALUES (?, ?, ?, ?, ?, ?)", tableName),
		id, encodeVector(e.Vector), e.Text, e.Importance, string(e.Category), s.clock.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("vector insert failed: %w", err)
	}
	logging.VectorDebug("Stored vector %s", id)
	return id, nil
}

// Search performs k-NN with k=limit and maps distance to score = 1/(1+d),
// dropping rows under minScore (DefaultMinScore when 0). Results are
// projections: entity/key/value empty and decay class stable; callers who
// need TTL semantics must re-fetch by id from the lexical store.
func (s *Store) Search(vector []float32, limit int, minScore float64) ([]*memory.MemoryEntry, error) {
	timer := logging.StartTimer(logging.CategoryVector, "Search")
	defer timer.Stop()

	if len(vector) != s.dims {
		return nil, fmt.Errorf("query vector has %d dims, table expects %d", len(vector), s.dims)
	}
	if limit <= 0 {
		limit = 5
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}

	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT id, text, importance, category, created_at, distance
		 FROM %s
		 WHERE embedding MATCH ? AND k = ?
		 ORDER BY distance`, tableName),
		encodeVector(vector), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []*memory.MemoryEntry
	for rows.Next() {
		var (
			id, text, category string
			importance         float64
			createdAt          int64
			distance           float64
		)
		if err := rows.Scan(&id, &text, &importance, &category, &createdAt, &distance); err != nil {
			return nil, fmt.Errorf("vector scan failed: %w", err)
		}
		score := 1.0 / (1.0 + distance)
		if score < minScore {
			continue
		}
		results = append(results, &memory.MemoryEntry{
			ID:         id,
			Text:       text,
			Category:   memory.Category(category),
			Importance: importance,
			CreatedAt:  createdAt,
			DecayClass: memory.DecayStable,
			Confidence: 1.0,
			Score:      score,
			Backend:    memory.BackendVector,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector iteration failed: %w", err)
	}
	logging.VectorDebug("Vector search returned %d results", len(results))
	return results, nil
}

// HasDuplicate reports whether the nearest neighbor scores at or above the
// threshold (DuplicateThreshold when 0).
func (s *Store) HasDuplicate(vector []float32, threshold float64) (bool, error) {
	if threshold <= 0 {
		threshold = DuplicateThreshold
	}
	results, err := s.Search(vector, 1, 0)
	if err != nil {
		return false, err
	}
	return len(results) > 0 && results[0].Score >= threshold, nil
}

// Delete removes one row by id. Non-UUID ids are skipped silently.
func (s *Store) Delete(id string) error {
	if !validID(id) {
		logging.VectorDebug("Skipping delete of non-uuid id %q", id)
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", tableName), id); err != nil {
		return fmt.Errorf("vector delete failed: %w", err)
	}
	return nil
}

// DeleteMany removes a batch of ids, skipping non-UUID ids and continuing on
// per-id errors. Returns the number of deletes issued successfully.
func (s *Store) DeleteMany(ids []string) int {
	timer := logging.StartTimer(logging.CategoryVector, "DeleteMany")
	defer timer.Stop()

	deleted := 0
	for _, id := range ids {
		if !validID(id) {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", tableName), id); err != nil {
			logging.Get(logging.CategoryVector).Warn("Vector delete failed for %s: %v", id, err)
			continue
		}
		deleted++
	}
	logging.VectorDebug("Deleted %d/%d vectors", deleted, len(ids))
	return deleted
}

// Count returns the number of vector rows.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName)).Scan(&n); err != nil {
		return 0, fmt.Errorf("vector count failed: %w", err)
	}
	return n, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// encodeVector serializes a float32 slice as the little-endian blob
// sqlite-vec expects.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
