package store

import (
	"fmt"

	"mnemos/internal/logging"
	"mnemos/internal/memory"
)

// DecayConfidence linearly interpolates confidence between the last
// confirmation and the hard expiry for every non-permanent row with a
// positive window. Pure soft update, no deletions. Returns rows touched.
func (s *Store) DecayConfidence() (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "DecayConfidence")
	defer timer.Stop()

	now := s.clock.Now()
	res, err := s.db.Exec(
		`UPDATE memories SET confidence = MAX(0.05, MIN(1.0,
			1.0 - (CAST(? - last_confirmed_at AS REAL) / (expires_at - last_confirmed_at))))
		 WHERE expires_at IS NOT NULL AND expires_at > last_confirmed_at`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("confidence decay failed: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Store("Soft decay updated %d records", n)
	return n, nil
}

// PruneResult reports what a hard prune removed; the ids let the vector
// store mirror the deletion.
type PruneResult struct {
	Count int64
	IDs   []string
}

// PruneExpired deletes every row whose expiry has passed. Permanent rows
// carry a NULL expiry and never leave.
func (s *Store) PruneExpired() (*PruneResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "PruneExpired")
	defer timer.Stop()

	now := s.clock.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("prune begin failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?", now)
	if err != nil {
		return nil, fmt.Errorf("prune select failed: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("prune scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("prune iteration failed: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return &PruneResult{}, tx.Commit()
	}

	res, err := tx.Exec("DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?", now)
	if err != nil {
		return nil, fmt.Errorf("prune delete failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("prune commit failed: %w", err)
	}

	count, _ := res.RowsAffected()
	logging.Store("Hard prune removed %d expired records", count)
	return &PruneResult{Count: count, IDs: ids}, nil
}

// BackfillDecayClasses re-runs the classifier over rows whose class is
// stable or whose expiry is null without being permanent, writing changes in
// a single transaction. Returns a by-class count of updates. Idempotent: a
// second pass is a fixed point.
func (s *Store) BackfillDecayClasses() (map[memory.DecayClass]int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "BackfillDecayClasses")
	defer timer.Stop()

	now := s.clock.Now()

	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM memories m
		 WHERE m.decay_class = ?
		    OR (m.expires_at IS NULL AND m.decay_class != ?)`, recordColumns),
		string(memory.DecayStable), string(memory.DecayPermanent),
	)
	if err != nil {
		return nil, fmt.Errorf("backfill select failed: %w", err)
	}

	type change struct {
		id        string
		class     memory.DecayClass
		expiresAt int64
	}
	var changes []change
	for rows.Next() {
		entry, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("backfill scan failed: %w", err)
		}
		class := memory.ClassifyDecay(entry.Entity, entry.Key, entry.Value, entry.Text)
		if class == entry.DecayClass && entry.ExpiresAt != memory.ExpiresNever {
			continue
		}
		if class == entry.DecayClass && class == memory.DecayPermanent {
			continue
		}
		changes = append(changes, change{
			id:        entry.ID,
			class:     class,
			expiresAt: memory.CalculateExpiry(class, now),
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("backfill iteration failed: %w", err)
	}
	rows.Close()

	counts := make(map[memory.DecayClass]int64)
	if len(changes) == 0 {
		return counts, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("backfill begin failed: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE memories SET decay_class = ?, expires_at = ? WHERE id = ?")
	if err != nil {
		return nil, fmt.Errorf("backfill prepare failed: %w", err)
	}
	defer stmt.Close()

	for _, ch := range changes {
		if _, err := stmt.Exec(string(ch.class), nullableExpiry(ch.expiresAt), ch.id); err != nil {
			return nil, fmt.Errorf("backfill update failed for %s: %w", ch.id, err)
		}
		counts[ch.class]++
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("backfill commit failed: %w", err)
	}

	logging.Store("Backfill reclassified %d records", len(changes))
	return counts, nil
}
