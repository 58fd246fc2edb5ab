package store

import (
	"encoding/json"
	"fmt"

	"mnemos/internal/logging"
	"mnemos/internal/memory"
)

// Checkpoint records are regular lexical records under the system entity
// with a checkpoint: key and the checkpoint decay class; their text is the
// JSON-encoded context blob.
const checkpointEntity = "system"

// SaveCheckpoint stores a context blob and returns the record id.
func (s *Store) SaveCheckpoint(ctx memory.CheckpointContext) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SaveCheckpoint")
	defer timer.Stop()

	now := s.clock.Now()
	ctx.SavedAt = now

	blob, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	id, _, err := s.Store(Candidate{
		Text:       string(blob),
		Category:   memory.CategoryOther,
		Entity:     checkpointEntity,
		Key:        fmt.Sprintf("checkpoint:%d", now),
		Source:     "checkpoint",
		DecayClass: memory.DecayCheckpoint,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store checkpoint: %w", err)
	}
	logging.Store("Checkpoint saved: %s", id)
	return id, nil
}

// RestoreCheckpoint returns the most recent non-expired checkpoint context,
// or (nil, nil) when none exists. Malformed blobs are treated as missing.
func (s *Store) RestoreCheckpoint() (*memory.CheckpointContext, error) {
	timer := logging.StartTimer(logging.CategoryStore, "RestoreCheckpoint")
	defer timer.Stop()

	now := s.clock.Now()
	rows, err := s.db.Query(
		`SELECT text FROM memories
		 WHERE entity IS NOT NULL AND lower(entity) = ?
		   AND key IS NOT NULL AND key LIKE 'checkpoint:%'
		   AND decay_class = ?
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY created_at DESC`,
		checkpointEntity, string(memory.DecayCheckpoint), now,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpoint lookup failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("checkpoint scan failed: %w", err)
		}
		var ctx memory.CheckpointContext
		if err := json.Unmarshal([]byte(text), &ctx); err != nil {
			logging.StoreDebug("Skipping malformed checkpoint blob: %v", err)
			continue
		}
		if ctx.Intent == "" && ctx.State == "" {
			continue
		}
		return &ctx, nil
	}
	return nil, rows.Err()
}
