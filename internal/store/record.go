package store

import (
	"database/sql"
	"fmt"

	"mnemos/internal/memory"
)

// recordColumns is the canonical SELECT list for decoding a MemoryEntry.
const recordColumns = `m.id, m.text, m.category, m.importance, m.entity, m.key, m.value,
	m.source, m.created_at, m.decay_class, m.expires_at, m.last_confirmed_at, m.confidence, m.search_tags`

// rowScanner matches *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord decodes one row into a MemoryEntry, rejecting malformed rows
// instead of propagating raw column bags outward. Extra destinations scan
// columns selected after the record columns (e.g. FTS rank).
func scanRecord(sc rowScanner, extra ...interface{}) (*memory.MemoryEntry, error) {
	var (
		e         memory.MemoryEntry
		entity    sql.NullString
		key       sql.NullString
		value     sql.NullString
		expiresAt sql.NullInt64
		category  string
		class     string
	)
	dest := []interface{}{
		&e.ID, &e.Text, &category, &e.Importance, &entity, &key, &value,
		&e.Source, &e.CreatedAt, &class, &expiresAt, &e.LastConfirmedAt,
		&e.Confidence, &e.SearchTags,
	}
	dest = append(dest, extra...)
	err := sc.Scan(dest...)
	if err != nil {
		return nil, err
	}

	e.Category = memory.Category(category)
	e.DecayClass = memory.DecayClass(class)
	if !e.DecayClass.Valid() {
		return nil, fmt.Errorf("record %s has unknown decay class %q", e.ID, class)
	}
	if e.ID == "" || e.Text == "" {
		return nil, fmt.Errorf("record missing id or text")
	}
	e.Entity = entity.String
	e.Key = key.String
	e.Value = value.String
	if expiresAt.Valid {
		e.ExpiresAt = expiresAt.Int64
	} else {
		e.ExpiresAt = memory.ExpiresNever
	}
	e.Backend = memory.BackendLexical
	return &e, nil
}

// nullable maps "" to NULL so empty entity/key/value never participate in
// the unique index.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableExpiry maps ExpiresNever to NULL.
func nullableExpiry(v int64) interface{} {
	if v == memory.ExpiresNever {
		return nil
	}
	return v
}
