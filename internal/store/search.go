package store

import (
	"fmt"
	"math"
	"sort"

	"mnemos/internal/logging"
	"mnemos/internal/memory"
)

// Composite score weights. This formula is the public scoring contract.
const (
	weightBM25       = 0.60
	weightFreshness  = 0.25
	weightConfidence = 0.15

	// freshnessWindow is the horizon over which remaining TTL maps onto
	// [0, 1].
	freshnessWindow = 7 * 86400
)

// fetchFactor over-fetches raw-rank candidates before composite scoring.
// A higher-composite row outside the top fetchFactor*limit by raw rank is
// not recovered; changing the factor needs coordinated retuning.
const fetchFactor = 2

// SearchOptions tunes Search.
type SearchOptions struct {
	IncludeExpired bool
}

// Search compiles the query, runs it against the FTS index and re-ranks the
// candidates by the composite score. Returned ids receive access refresh.
func (s *Store) Search(query string, limit int, opts SearchOptions) ([]*memory.MemoryEntry, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Search")
	defer timer.Stop()

	if limit <= 0 {
		limit = 5
	}

	match := memory.CompileQuery(query)
	if match == "" {
		logging.StoreDebug("Query compiled to nothing, skipping storage: %q", query)
		return nil, nil
	}

	now := s.clock.Now()

	includeExpired := 0
	if opts.IncludeExpired {
		includeExpired = 1
	}

	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s, f.rank
		 FROM memories_fts f
		 JOIN memories m ON m.rowid = f.rowid
		 WHERE memories_fts MATCH ?
		   AND (? = 1 OR m.expires_at IS NULL OR m.expires_at > ?)
		 ORDER BY f.rank
		 LIMIT ?`, recordColumns),
		match, includeExpired, now, limit*fetchFactor,
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		entry *memory.MemoryEntry
		rank  float64
	}
	var candidates []candidate
	for rows.Next() {
		var rank float64
		entry, err := scanRecord(rows, &rank)
		if err != nil {
			return nil, fmt.Errorf("search scan failed: %w", err)
		}
		candidates = append(candidates, candidate{entry: entry, rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search iteration failed: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	minRank, maxRank := candidates[0].rank, candidates[0].rank
	for _, c := range candidates[1:] {
		minRank = math.Min(minRank, c.rank)
		maxRank = math.Max(maxRank, c.rank)
	}
	denom := math.Max(1, maxRank-minRank)

	results := make([]*memory.MemoryEntry, 0, len(candidates))
	for _, c := range candidates {
		bm25 := 1 - (c.rank-minRank)/denom
		c.entry.Score = weightBM25*bm25 +
			weightFreshness*freshness(c.entry.ExpiresAt, now) +
			weightConfidence*c.entry.Confidence
		results = append(results, c.entry)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	s.touch(resultIDs(results))
	logging.StoreDebug("Search %q returned %d results", query, len(results))
	return results, nil
}

// freshness maps remaining TTL onto [0, 1]: permanent records are always
// fresh, expired ones are stale, everything else scales over the window.
func freshness(expiresAt, now int64) float64 {
	if expiresAt == memory.ExpiresNever {
		return 1.0
	}
	if expiresAt <= now {
		return 0.0
	}
	return math.Min(1.0, float64(expiresAt-now)/freshnessWindow)
}

// Lookup returns all non-expired records for an entity (and optionally key),
// matched case-insensitively, ordered by confidence then recency. Score is
// the record's own confidence. Returned ids receive access refresh.
func (s *Store) Lookup(entity, key string) ([]*memory.MemoryEntry, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Lookup")
	defer timer.Stop()

	now := s.clock.Now()

	query := fmt.Sprintf(`SELECT %s FROM memories m
		WHERE m.entity IS NOT NULL AND lower(m.entity) = lower(?)
		  AND (m.expires_at IS NULL OR m.expires_at > ?)`, recordColumns)
	args := []interface{}{entity, now}
	if key != "" {
		query += " AND m.key IS NOT NULL AND lower(m.key) = lower(?)"
		args = append(args, key)
	}
	query += " ORDER BY m.confidence DESC, m.created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	defer rows.Close()

	var results []*memory.MemoryEntry
	for rows.Next() {
		entry, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("lookup scan failed: %w", err)
		}
		entry.Score = entry.Confidence
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup iteration failed: %w", err)
	}

	s.touch(resultIDs(results))
	return results, nil
}

func resultIDs(entries []*memory.MemoryEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
