package engine

import (
	"sort"
	"strings"

	"mnemos/internal/memory"
)

// MergeResults fuses a lexical and a vector result list deterministically:
// the lexical list is walked first and keeps each unique id; vector entries
// are dropped when their id is already present or their text matches a kept
// entry case-insensitively; survivors are stable-sorted by score descending
// and truncated to limit. On any collision the lexical entry wins regardless
// of score.
func MergeResults(lexical, vector []*memory.MemoryEntry, limit int) []*memory.MemoryEntry {
	seenIDs := make(map[string]bool, len(lexical))
	seenTexts := make(map[string]bool, len(lexical))
	merged := make([]*memory.MemoryEntry, 0, len(lexical)+len(vector))

	for _, e := range lexical {
		if e == nil || seenIDs[e.ID] {
			continue
		}
		seenIDs[e.ID] = true
		seenTexts[strings.ToLower(e.Text)] = true
		merged = append(merged, e)
	}

	for _, e := range vector {
		if e == nil || seenIDs[e.ID] {
			continue
		}
		if seenTexts[strings.ToLower(e.Text)] {
			continue
		}
		seenIDs[e.ID] = true
		seenTexts[strings.ToLower(e.Text)] = true
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
