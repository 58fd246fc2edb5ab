package store

import (
	"path/filepath"
	"testing"

	"mnemos/internal/clock"
	"mnemos/internal/memory"
)

const testNow = int64(1_700_000_000)

func newTestStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testNow)
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"), clk)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

func mustStore(t *testing.T, s *Store, c Candidate) string {
	t.Helper()
	id, _, err := s.Store(c)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	return id
}

func TestStore_InsertAndCount(t *testing.T) {
	s, _ := newTestStore(t)

	mustStore(t, s, Candidate{Text: "I prefer TypeScript over JavaScript"})
	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}

	dup, err := s.HasDuplicate("I prefer TypeScript over JavaScript")
	if err != nil {
		t.Fatalf("HasDuplicate failed: %v", err)
	}
	if !dup {
		t.Error("HasDuplicate should see the exact text")
	}
	dup, _ = s.HasDuplicate("i prefer typescript over javascript")
	if dup {
		t.Error("HasDuplicate is exact-match, case matters")
	}
}

func TestStore_ImportanceDefaultAndExplicitZero(t *testing.T) {
	s, _ := newTestStore(t)

	readImportance := func(id string) float64 {
		var v float64
		if err := s.DB().QueryRow("SELECT importance FROM memories WHERE id = ?", id).Scan(&v); err != nil {
			t.Fatalf("importance read failed: %v", err)
		}
		return v
	}

	unset := mustStore(t, s, Candidate{Text: "The harbor office has good coffee"})
	if got := readImportance(unset); got != 0.7 {
		t.Errorf("unset importance = %f, want the 0.7 default", got)
	}

	zero := 0.0
	explicit := mustStore(t, s, Candidate{Text: "The ferry schedule changed again", Importance: &zero})
	if got := readImportance(explicit); got != 0.0 {
		t.Errorf("explicit zero importance = %f, want 0.0 preserved", got)
	}
}

func TestStore_UpsertCaseInsensitive(t *testing.T) {
	s, _ := newTestStore(t)

	first := mustStore(t, s, Candidate{
		Text: "Fred's editor is VSCode", Entity: "Fred", Key: "editor", Value: "VSCode",
	})
	second := mustStore(t, s, Candidate{
		Text: "Fred's editor is Cursor", Entity: "FRED", Key: "EDITOR", Value: "Cursor",
	})

	if first != second {
		t.Errorf("upsert should preserve id: %s != %s", first, second)
	}
	n, _ := s.Count()
	if n != 1 {
		t.Errorf("Count = %d, want 1 after upsert", n)
	}

	results, err := s.Lookup("FRED", "editor")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Lookup returned %d results, want 1", len(results))
	}
	if results[0].Value != "Cursor" {
		t.Errorf("Lookup value = %q, want Cursor", results[0].Value)
	}
	if results[0].Score != results[0].Confidence {
		t.Errorf("Lookup score should be the record confidence")
	}
}

func TestStore_SessionTTL(t *testing.T) {
	s, clk := newTestStore(t)

	id := mustStore(t, s, Candidate{Text: "Currently debugging auth"})

	var class string
	var expiresAt int64
	err := s.DB().QueryRow("SELECT decay_class, expires_at FROM memories WHERE id = ?", id).
		Scan(&class, &expiresAt)
	if err != nil {
		t.Fatalf("row read failed: %v", err)
	}
	if class != string(memory.DecaySession) {
		t.Errorf("decay class = %s, want session", class)
	}
	if expiresAt-clk.Now() > 86400 {
		t.Errorf("session expiry %d exceeds 24h from now", expiresAt-clk.Now())
	}
	if expiresAt <= clk.Now() {
		t.Errorf("expiry should be in the future")
	}
}

func TestStore_PermanentInvariant(t *testing.T) {
	s, _ := newTestStore(t)

	id := mustStore(t, s, Candidate{
		Text: "We decided to use Postgres", Entity: "decision", Key: "db", Value: "postgres",
	})

	var expiresAt interface{}
	if err := s.DB().QueryRow("SELECT expires_at FROM memories WHERE id = ?", id).Scan(&expiresAt); err != nil {
		t.Fatalf("row read failed: %v", err)
	}
	if expiresAt != nil {
		t.Errorf("permanent record must have NULL expiry, got %v", expiresAt)
	}
}

func TestSearch_EmptyAndStopwordQueries(t *testing.T) {
	s, _ := newTestStore(t)
	mustStore(t, s, Candidate{Text: "I prefer TypeScript"})

	for _, q := range []string{"", "a a a", "the of and"} {
		results, err := s.Search(q, 5, SearchOptions{})
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", q, err)
		}
		if len(results) != 0 {
			t.Errorf("Search(%q) = %d results, want 0", q, len(results))
		}
	}
}

func TestSearch_LimitAndOrdering(t *testing.T) {
	s, _ := newTestStore(t)

	texts := []string{
		"The API port for staging is 3000",
		"The API port for production is 8080",
		"The API gateway handles retries",
		"API tokens rotate monthly",
	}
	for _, text := range texts {
		mustStore(t, s, Candidate{Text: text})
	}

	results, err := s.Search("API port", 2, SearchOptions{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) > 2 {
		t.Errorf("Search returned %d results, limit was 2", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by score: %f after %f", results[i].Score, results[i-1].Score)
		}
	}
	for _, r := range results {
		if r.Backend != memory.BackendLexical {
			t.Errorf("backend = %q, want %q", r.Backend, memory.BackendLexical)
		}
	}
}

func TestSearch_ExcludesExpired(t *testing.T) {
	s, clk := newTestStore(t)

	expired := clk.Now() - 100
	mustStore(t, s, Candidate{
		Text: "The API port is 3000", Entity: "decision", Key: "port", Value: "3000",
	})
	mustStore(t, s, Candidate{
		Text:       "The API port is 8080",
		DecayClass: memory.DecaySession,
		ExpiresAt:  &expired,
	})

	results, err := s.Search("API port", 5, SearchOptions{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search returned %d results, want only the live row", len(results))
	}
	if results[0].Value != "3000" {
		t.Errorf("surviving row = %q, want the permanent 3000 record", results[0].Text)
	}

	withExpired, err := s.Search("API port", 5, SearchOptions{IncludeExpired: true})
	if err != nil {
		t.Fatalf("Search includeExpired failed: %v", err)
	}
	if len(withExpired) != 2 {
		t.Errorf("includeExpired returned %d results, want 2", len(withExpired))
	}
}

func TestAccessRefresh_ExtendsOnlyStableAndActive(t *testing.T) {
	s, clk := newTestStore(t)

	stableID := mustStore(t, s, Candidate{Text: "The harbor office has good coffee"})
	sessionID := mustStore(t, s, Candidate{Text: "Currently debugging the auth flow"})

	readExpiry := func(id string) int64 {
		var v int64
		if err := s.DB().QueryRow("SELECT expires_at FROM memories WHERE id = ?", id).Scan(&v); err != nil {
			t.Fatalf("expiry read failed: %v", err)
		}
		return v
	}
	stableBefore := readExpiry(stableID)
	sessionBefore := readExpiry(sessionID)

	clk.Advance(1000)
	s.touch([]string{stableID, sessionID})

	if got := readExpiry(stableID); got != clk.Now()+memory.TTLSeconds[memory.DecayStable] {
		t.Errorf("stable expiry = %d, want extended from now; before=%d", got, stableBefore)
	}
	if got := readExpiry(sessionID); got != sessionBefore {
		t.Errorf("session expiry changed on access: %d -> %d", sessionBefore, got)
	}

	var confirmed int64
	if err := s.DB().QueryRow("SELECT last_confirmed_at FROM memories WHERE id = ?", sessionID).Scan(&confirmed); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if confirmed != clk.Now() {
		t.Errorf("last_confirmed_at = %d, want %d for all touched rows", confirmed, clk.Now())
	}
}

func TestDecayConfidence(t *testing.T) {
	s, clk := newTestStore(t)

	id := mustStore(t, s, Candidate{Text: "The harbor office has good coffee"})

	halfWindow := memory.TTLSeconds[memory.DecayStable] / 2
	clk.Advance(halfWindow)
	n, err := s.DecayConfidence()
	if err != nil {
		t.Fatalf("DecayConfidence failed: %v", err)
	}
	if n != 1 {
		t.Errorf("DecayConfidence touched %d rows, want 1", n)
	}

	readConfidence := func() float64 {
		var v float64
		if err := s.DB().QueryRow("SELECT confidence FROM memories WHERE id = ?", id).Scan(&v); err != nil {
			t.Fatalf("confidence read failed: %v", err)
		}
		return v
	}
	mid := readConfidence()
	if mid < 0.45 || mid > 0.55 {
		t.Errorf("confidence at half window = %f, want ~0.5", mid)
	}

	clk.Advance(memory.TTLSeconds[memory.DecayStable])
	if _, err := s.DecayConfidence(); err != nil {
		t.Fatalf("DecayConfidence failed: %v", err)
	}
	floor := readConfidence()
	if floor != 0.05 {
		t.Errorf("confidence floor = %f, want 0.05", floor)
	}

	count, _ := s.Count()
	if count != 1 {
		t.Errorf("soft decay must not delete rows")
	}
}

func TestDecayConfidence_SkipsPermanent(t *testing.T) {
	s, clk := newTestStore(t)
	id := mustStore(t, s, Candidate{
		Text: "We decided to use Postgres", Entity: "decision", Key: "db", Value: "postgres",
	})

	clk.Advance(400 * 86400)
	if _, err := s.DecayConfidence(); err != nil {
		t.Fatalf("DecayConfidence failed: %v", err)
	}

	var confidence float64
	if err := s.DB().QueryRow("SELECT confidence FROM memories WHERE id = ?", id).Scan(&confidence); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if confidence != 1.0 {
		t.Errorf("permanent confidence = %f, want untouched 1.0", confidence)
	}
}

func TestPruneExpired(t *testing.T) {
	s, clk := newTestStore(t)

	keepID := mustStore(t, s, Candidate{
		Text: "We decided to use Postgres", Entity: "decision", Key: "db", Value: "postgres",
	})
	goneID := mustStore(t, s, Candidate{Text: "Currently debugging the auth flow"})

	clk.Advance(2 * 86400)
	result, err := s.PruneExpired()
	if err != nil {
		t.Fatalf("PruneExpired failed: %v", err)
	}
	if result.Count != 1 {
		t.Errorf("pruned %d rows, want 1", result.Count)
	}
	if len(result.IDs) != 1 || result.IDs[0] != goneID {
		t.Errorf("pruned ids = %v, want [%s]", result.IDs, goneID)
	}

	if exists, _ := s.Delete(keepID); !exists {
		t.Error("permanent row should have survived the prune")
	}
}

func TestConfirmFact(t *testing.T) {
	s, clk := newTestStore(t)
	id := mustStore(t, s, Candidate{Text: "The harbor office has good coffee"})

	clk.Advance(40 * 86400)
	if _, err := s.DecayConfidence(); err != nil {
		t.Fatalf("decay failed: %v", err)
	}

	ok, err := s.ConfirmFact(id)
	if err != nil {
		t.Fatalf("ConfirmFact failed: %v", err)
	}
	if !ok {
		t.Fatal("ConfirmFact should find the row")
	}

	var confidence float64
	var expiresAt int64
	if err := s.DB().QueryRow("SELECT confidence, expires_at FROM memories WHERE id = ?", id).
		Scan(&confidence, &expiresAt); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if confidence != 1.0 {
		t.Errorf("confidence = %f, want reset to 1.0", confidence)
	}
	if want := clk.Now() + memory.TTLSeconds[memory.DecayStable]; expiresAt != want {
		t.Errorf("expiry = %d, want recomputed %d", expiresAt, want)
	}

	ok, err = s.ConfirmFact("00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("ConfirmFact on missing errored: %v", err)
	}
	if ok {
		t.Error("ConfirmFact on missing row should report false")
	}
}

func TestCheckpoint_SaveAndRestore(t *testing.T) {
	s, clk := newTestStore(t)

	id, err := s.SaveCheckpoint(memory.CheckpointContext{
		Intent: "migrate the search index", State: "halfway through backfill",
		WorkingFiles: []string{"internal/store/search.go"},
	})
	if err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if id == "" {
		t.Fatal("SaveCheckpoint returned empty id")
	}

	ctx, err := s.RestoreCheckpoint()
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if ctx == nil {
		t.Fatal("RestoreCheckpoint returned nothing")
	}
	if ctx.Intent != "migrate the search index" {
		t.Errorf("restored intent = %q", ctx.Intent)
	}
	if ctx.SavedAt != clk.Now() {
		t.Errorf("savedAt = %d, want %d", ctx.SavedAt, clk.Now())
	}
}

func TestCheckpoint_MalformedBlobSkipped(t *testing.T) {
	s, clk := newTestStore(t)

	if _, err := s.SaveCheckpoint(memory.CheckpointContext{Intent: "older intent", State: "older state"}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	clk.Advance(10)
	mustStore(t, s, Candidate{
		Text:       "this is not json",
		Entity:     "system",
		Key:        "checkpoint:malformed",
		Source:     "checkpoint",
		DecayClass: memory.DecayCheckpoint,
	})

	ctx, err := s.RestoreCheckpoint()
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if ctx == nil || ctx.Intent != "older intent" {
		t.Errorf("malformed blob should be skipped in favor of the older valid one, got %+v", ctx)
	}
}

func TestCheckpoint_ExpiredNotRestored(t *testing.T) {
	s, clk := newTestStore(t)

	if _, err := s.SaveCheckpoint(memory.CheckpointContext{Intent: "old", State: "old"}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	clk.Advance(5 * 3600)
	ctx, err := s.RestoreCheckpoint()
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if ctx != nil {
		t.Errorf("expired checkpoint should not restore, got %+v", ctx)
	}
}

func TestFTSMirror_RowForRow(t *testing.T) {
	s, _ := newTestStore(t)

	idA := mustStore(t, s, Candidate{Text: "I prefer TypeScript over JavaScript"})
	mustStore(t, s, Candidate{Text: "The API port is 3000"})
	mustStore(t, s, Candidate{
		Text: "Fred's editor is VSCode", Entity: "Fred", Key: "editor", Value: "VSCode",
	})
	mustStore(t, s, Candidate{
		Text: "Fred's editor is Cursor", Entity: "fred", Key: "EDITOR", Value: "Cursor",
	})
	if _, err := s.Delete(idA); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var records, indexed int64
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM memories").Scan(&records); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM memories_fts").Scan(&indexed); err != nil {
		t.Fatalf("fts count failed: %v", err)
	}
	if records != indexed {
		t.Errorf("FTS index out of sync: %d records, %d indexed", records, indexed)
	}
}

func TestBackfillDecayClasses_FixedPoint(t *testing.T) {
	s, _ := newTestStore(t)

	// A row stored with an explicit stable class whose text now classifies
	// as permanent.
	mustStore(t, s, Candidate{
		Text:       "We decided to use Postgres",
		DecayClass: memory.DecayStable,
	})
	mustStore(t, s, Candidate{Text: "The harbor office has good coffee"})

	first, err := s.BackfillDecayClasses()
	if err != nil {
		t.Fatalf("BackfillDecayClasses failed: %v", err)
	}
	if first[memory.DecayPermanent] != 1 {
		t.Errorf("first pass = %v, want 1 permanent reclassification", first)
	}

	second, err := s.BackfillDecayClasses()
	if err != nil {
		t.Fatalf("second BackfillDecayClasses failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("backfill is not a fixed point: second pass = %v", second)
	}
}

func TestStatsBreakdown(t *testing.T) {
	s, _ := newTestStore(t)

	mustStore(t, s, Candidate{Text: "We decided to use Postgres", Entity: "decision", Key: "db", Value: "pg"})
	mustStore(t, s, Candidate{Text: "Currently debugging the auth flow"})
	mustStore(t, s, Candidate{Text: "The harbor office has good coffee"})

	stats, err := s.StatsBreakdown()
	if err != nil {
		t.Fatalf("StatsBreakdown failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByClass[memory.DecayPermanent] != 1 || stats.ByClass[memory.DecaySession] != 1 || stats.ByClass[memory.DecayStable] != 1 {
		t.Errorf("by-class breakdown = %v", stats.ByClass)
	}
}

func TestReopen_MigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")
	clk := clock.NewFake(testNow)

	s, err := Open(path, clk)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	mustStore(t, s, Candidate{Text: "I prefer TypeScript over JavaScript"})
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	s2, err := Open(path, clk)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	n, _ := s2.Count()
	if n != 1 {
		t.Errorf("reopen lost rows: count = %d", n)
	}

	results, err := s2.Search("typescript", 5, SearchOptions{})
	if err != nil {
		t.Fatalf("post-reopen search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("post-reopen search = %d results, want 1", len(results))
	}
}
