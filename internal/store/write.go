package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mnemos/internal/logging"
	"mnemos/internal/memory"
)

// Candidate is the input to Store. Zero-valued optional fields are filled
// in: DecayClass by the classifier, ExpiresAt by the calculator, Confidence
// defaults to 1.0, SearchTags to the synonym expansion. Importance is a
// pointer so a caller-supplied 0 is distinguishable from unset (0.7).
type Candidate struct {
	Text       string
	Category   memory.Category
	Importance *float64
	Entity     string
	Key        string
	Value      string
	Source     string

	DecayClass memory.DecayClass
	ExpiresAt  *int64
	SearchTags string
}

// StoreResultAction reports what Store did.
type StoreResultAction string

const (
	ActionCreated StoreResultAction = "created"
	ActionUpdated StoreResultAction = "updated"
)

// Store upserts a candidate. When entity and key are both non-empty and a
// row exists with the same case-insensitive pair, that row is overwritten in
// place and keeps its id; otherwise a new row is inserted with a fresh id.
func (s *Store) Store(c Candidate) (string, StoreResultAction, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Store")
	defer timer.Stop()

	if strings.TrimSpace(c.Text) == "" {
		return "", "", fmt.Errorf("memory text must not be empty")
	}

	now := s.clock.Now()

	class := c.DecayClass
	if class == "" {
		class = memory.ClassifyDecay(c.Entity, c.Key, c.Value, c.Text)
	} else if !class.Valid() {
		return "", "", fmt.Errorf("unknown decay class %q", class)
	}

	var expiresAt int64
	if c.ExpiresAt != nil {
		expiresAt = *c.ExpiresAt
	} else {
		expiresAt = memory.CalculateExpiry(class, now)
	}
	if class == memory.DecayPermanent {
		expiresAt = memory.ExpiresNever
	}

	category := c.Category
	if category == "" {
		category = memory.CategoryOther
	}
	importance := 0.7
	if c.Importance != nil {
		importance = *c.Importance
	}
	source := c.Source
	if source == "" {
		source = "conversation"
	}
	tags := c.SearchTags
	if tags == "" {
		tags = memory.ExpandSynonyms(c.Text, c.Entity, c.Key, c.Value)
	}

	if c.Entity != "" && c.Key != "" {
		var existingID string
		err := s.db.QueryRow(
			`SELECT id FROM memories
			 WHERE entity IS NOT NULL AND key IS NOT NULL
			   AND lower(entity) = lower(?) AND lower(key) = lower(?)`,
			c.Entity, c.Key,
		).Scan(&existingID)
		switch {
		case err == nil:
			_, err = s.db.Exec(
				`UPDATE memories SET
					text = ?, value = ?, importance = ?, category = ?, source = ?,
					created_at = ?, decay_class = ?, expires_at = ?,
					last_confirmed_at = ?, confidence = ?, search_tags = ?
				 WHERE id = ?`,
				c.Text, nullable(c.Value), importance, string(category), source,
				now, string(class), nullableExpiry(expiresAt),
				now, 1.0, tags, existingID,
			)
			if err != nil {
				return "", "", fmt.Errorf("upsert failed: %w", err)
			}
			logging.StoreDebug("Upserted (%s, %s) -> %s", c.Entity, c.Key, existingID)
			return existingID, ActionUpdated, nil
		case err != sql.ErrNoRows:
			return "", "", fmt.Errorf("upsert lookup failed: %w", err)
		}
	}

	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO memories (
			id, text, category, importance, entity, key, value, source,
			created_at, decay_class, expires_at, last_confirmed_at, confidence, search_tags
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.Text, string(category), importance,
		nullable(c.Entity), nullable(c.Key), nullable(c.Value), source,
		now, string(class), nullableExpiry(expiresAt), now, 1.0, tags,
	)
	if err != nil {
		return "", "", fmt.Errorf("insert failed: %w", err)
	}
	logging.StoreDebug("Inserted record %s (class=%s)", id, class)
	return id, ActionCreated, nil
}

// ConfirmFact resets a record's confidence to 1.0 and recomputes its expiry
// from its decay class. Returns false when the row does not exist.
func (s *Store) ConfirmFact(id string) (bool, error) {
	now := s.clock.Now()

	var class string
	err := s.db.QueryRow("SELECT decay_class FROM memories WHERE id = ?", id).Scan(&class)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("confirm lookup failed: %w", err)
	}

	expiresAt := memory.CalculateExpiry(memory.DecayClass(class), now)
	_, err = s.db.Exec(
		"UPDATE memories SET confidence = 1.0, last_confirmed_at = ?, expires_at = ? WHERE id = ?",
		now, nullableExpiry(expiresAt), id,
	)
	if err != nil {
		return false, fmt.Errorf("confirm failed: %w", err)
	}
	logging.StoreDebug("Confirmed record %s", id)
	return true, nil
}

// touch applies access refresh to the given ids: last_confirmed_at moves to
// now for all of them, and expires_at extends only for stable and active
// records. Issued after result assembly, never before.
func (s *Store) touch(ids []string) {
	if len(ids) == 0 {
		return
	}
	now := s.clock.Now()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, now, now+memory.TTL(memory.DecayStable), now+memory.TTL(memory.DecayActive))
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(
		`UPDATE memories SET
			last_confirmed_at = ?,
			expires_at = CASE decay_class
				WHEN 'stable' THEN ?
				WHEN 'active' THEN ?
				ELSE expires_at
			END
		 WHERE id IN (%s)`, placeholders)
	if _, err := s.db.Exec(query, args...); err != nil {
		logging.Get(logging.CategoryStore).Warn("Access refresh failed for %d ids: %v", len(ids), err)
	}
}
