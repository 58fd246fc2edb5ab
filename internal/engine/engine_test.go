package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"mnemos/internal/clock"
	"mnemos/internal/memory"
	"mnemos/internal/store"
	"mnemos/internal/vector"
)

const testNow = int64(1_700_000_000)

// failingEmbedder always errors; recall must degrade to lexical-only.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding backend down")
}
func (failingEmbedder) Dimensions() int { return 4 }
func (failingEmbedder) Name() string    { return "failing" }

func newTestEngine(t *testing.T) (*Engine, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testNow)
	lex, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), clk)
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	eng, err := New(lex, nil, nil, clk)
	if err != nil {
		t.Fatalf("engine new failed: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, clk
}

func TestStore_FillsIdentityFromExtractor(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.Store(ctx, StoreRequest{Text: "Fred's editor is VSCode"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if result.Action != "created" {
		t.Errorf("action = %s, want created", result.Action)
	}

	entries, err := eng.Lexical().Lookup("fred", "editor")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Value != "VSCode" {
		t.Errorf("extractor identity not stored: %+v", entries)
	}
}

func TestStore_DuplicateShortCircuits(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Store(ctx, StoreRequest{Text: "I prefer TypeScript over JavaScript"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if first.Action != "created" {
		t.Fatalf("first action = %s", first.Action)
	}

	second, err := eng.Store(ctx, StoreRequest{Text: "I prefer TypeScript over JavaScript"})
	if err != nil {
		t.Fatalf("duplicate Store failed: %v", err)
	}
	if second.Action != "duplicate" {
		t.Errorf("second action = %s, want duplicate", second.Action)
	}

	n, _ := eng.Lexical().Count()
	if n != 1 {
		t.Errorf("count = %d, want 1 after duplicate", n)
	}
}

func TestStore_EmptyTextRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.Store(context.Background(), StoreRequest{Text: "   "}); err == nil {
		t.Error("empty text should be rejected")
	}
}

func TestRecall_LexicalOnlyWhenEmbeddingFails(t *testing.T) {
	clk := clock.NewFake(testNow)
	dir := t.TempDir()
	lex, err := store.Open(filepath.Join(dir, "memory.db"), clk)
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	vec, err := vector.Open(filepath.Join(dir, "vectors"), 4, clk)
	if err != nil {
		t.Fatalf("vector open failed: %v", err)
	}
	eng, err := New(lex, vec, failingEmbedder{}, clk)
	if err != nil {
		t.Fatalf("engine new failed: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	if _, err := eng.Store(ctx, StoreRequest{Text: "The API port for staging is 3000"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	results, err := eng.Recall(ctx, "API port", 5, "")
	if err != nil {
		t.Fatalf("Recall should absorb embedding failure: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("recall = %d results, want 1", len(results))
	}
	if results[0].Backend != memory.BackendLexical {
		t.Errorf("backend = %s, want lexical", results[0].Backend)
	}
}

func TestRecall_EntityLookupPrecedesSearch(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, StoreRequest{Text: "Fred's editor is VSCode"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := eng.Store(ctx, StoreRequest{Text: "The editor wars continue unabated"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	results, err := eng.Recall(ctx, "editor", 5, "Fred")
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("recall returned nothing")
	}
	if results[0].Entity != "Fred" {
		t.Errorf("first result entity = %q, want the lookup hit first", results[0].Entity)
	}
}

func TestForget_ByID(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := eng.Store(ctx, StoreRequest{Text: "I prefer TypeScript over JavaScript"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	result, err := eng.Forget(ctx, created.ID, "")
	if err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if !result.Deleted {
		t.Error("Forget by id should delete")
	}

	again, err := eng.Forget(ctx, created.ID, "")
	if err != nil {
		t.Fatalf("repeat Forget failed: %v", err)
	}
	if again.Deleted {
		t.Error("Forget of a missing id should report false, not error")
	}
}

func TestForget_ByQueryReturnsCandidates(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for _, text := range []string{
		"The API port for staging is 3000",
		"The API port for production is 8080",
	} {
		if _, err := eng.Store(ctx, StoreRequest{Text: text}); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	result, err := eng.Forget(ctx, "", "API port")
	if err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if result.Deleted {
		t.Error("query-based forget must not delete")
	}
	if len(result.Candidates) == 0 || len(result.Candidates) > 5 {
		t.Errorf("candidates = %d, want 1..5 for disambiguation", len(result.Candidates))
	}

	n, _ := eng.Lexical().Count()
	if n != 2 {
		t.Errorf("count = %d, forget-by-query must not remove rows", n)
	}
}

func TestForget_RequiresIDOrQuery(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.Forget(context.Background(), "", ""); err == nil {
		t.Error("forget with neither id nor query should error")
	}
}

func TestCheckpoint_RequiresIntentAndState(t *testing.T) {
	eng, _ := newTestEngine(t)

	if _, err := eng.SaveCheckpoint(memory.CheckpointContext{Intent: "", State: "x"}); err == nil {
		t.Error("missing intent should be rejected")
	}
	if _, err := eng.SaveCheckpoint(memory.CheckpointContext{Intent: "x", State: " "}); err == nil {
		t.Error("missing state should be rejected")
	}

	id, err := eng.SaveCheckpoint(memory.CheckpointContext{Intent: "resume", State: "mid-task"})
	if err != nil {
		t.Fatalf("valid checkpoint save failed: %v", err)
	}
	if id == "" {
		t.Error("save returned empty id")
	}
}

func TestPrune_Modes(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, StoreRequest{Text: "Currently debugging the auth flow"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := eng.Store(ctx, StoreRequest{Text: "The harbor office has good coffee"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	clk.Advance(2 * 86400)

	soft, err := eng.Prune(PruneSoft)
	if err != nil {
		t.Fatalf("soft prune failed: %v", err)
	}
	if soft.HardPruned != 0 {
		t.Errorf("soft prune removed rows: %d", soft.HardPruned)
	}
	if soft.SoftDecayed == 0 {
		t.Error("soft prune should have decayed confidence")
	}

	hard, err := eng.Prune(PruneHard)
	if err != nil {
		t.Fatalf("hard prune failed: %v", err)
	}
	if hard.HardPruned != 1 {
		t.Errorf("hard prune removed %d rows, want the expired session row only", hard.HardPruned)
	}
}

func TestAutoRecall_ShortPromptSkipped(t *testing.T) {
	eng, _ := newTestEngine(t)
	if block := eng.BeforeAgentStart(context.Background(), "hi"); block != "" {
		t.Errorf("short prompt produced context: %q", block)
	}
}

func TestAutoRecall_TagsBlock(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, StoreRequest{Text: "I prefer TypeScript over JavaScript"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	block := eng.BeforeAgentStart(ctx, "what language does the user prefer for typescript work")
	if block == "" {
		t.Fatal("expected a prepend-context block")
	}
	if block[:len("<relevant-memories>")] != "<relevant-memories>" {
		t.Errorf("block not tagged: %q", block)
	}
}

func TestAutoCapture_CapsAndFilters(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	messages := []string{
		"hi",
		"My editor is Neovim these days",
		"My shell is fish for interactive use",
		"Fred's birthday is in June",
		"My terminal is ghostty on the desktop",
		"the weather stayed grey over the harbor all afternoon",
	}
	eng.AgentEnd(ctx, true, messages)

	n, _ := eng.Lexical().Count()
	if n != 3 {
		t.Errorf("count = %d, want the per-turn cap of 3", n)
	}
}

func TestAutoCapture_SkipsDuplicates(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	eng.AgentEnd(ctx, true, []string{"My editor is Neovim these days"})
	eng.AgentEnd(ctx, true, []string{"My editor is Neovim these days"})

	n, _ := eng.Lexical().Count()
	if n != 1 {
		t.Errorf("count = %d, want 1 after duplicate capture", n)
	}
}

func TestMaintenanceLoop_StartsAndStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clock.NewFake(testNow)
	lex, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), clk)
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	eng, err := New(lex, nil, nil, clk)
	if err != nil {
		t.Fatalf("engine new failed: %v", err)
	}

	eng.StartMaintenance(10 * time.Millisecond)
	// Starting twice must not spawn a second loop.
	eng.StartMaintenance(10 * time.Millisecond)
	time.Sleep(35 * time.Millisecond)

	if err := eng.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestMaintenanceTick_PrunesExpired(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, StoreRequest{Text: "Currently debugging the auth flow"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	clk.Advance(2 * 86400)

	eng.MaintenanceTick()

	n, _ := eng.Lexical().Count()
	if n != 0 {
		t.Errorf("count = %d, maintenance tick should have pruned the session row", n)
	}
}
