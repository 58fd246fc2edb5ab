// Package engine is the facade over the lexical and vector stores. It
// implements the five user-facing operations (recall, store, forget,
// checkpoint, prune), the scheduled maintenance loop and the agent event
// hooks. Within one ingest the lexical write precedes the vector write;
// embedding and vector failures degrade behavior, they never fail the
// lexical path.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"mnemos/internal/clock"
	"mnemos/internal/embedding"
	"mnemos/internal/logging"
	"mnemos/internal/memory"
	"mnemos/internal/store"
	"mnemos/internal/vector"
)

// DefaultRecallLimit bounds recall when the caller passes 0.
const DefaultRecallLimit = 5

// Engine owns the two store handles and the embedding provider.
type Engine struct {
	lex      *store.Store
	vec      *vector.Store
	embedder embedding.Engine
	clock    clock.Clock

	loopMu sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New assembles an engine. vec and embedder may be nil, degrading recall to
// lexical-only; lex is required.
func New(lex *store.Store, vec *vector.Store, embedder embedding.Engine, clk clock.Clock) (*Engine, error) {
	if lex == nil {
		return nil, fmt.Errorf("lexical store is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{lex: lex, vec: vec, embedder: embedder, clock: clk}, nil
}

// Lexical exposes the lexical store for callers who need to re-fetch vector
// projections by id.
func (e *Engine) Lexical() *store.Store {
	return e.lex
}

// Close stops the maintenance loop and closes both stores. Closing the
// lexical store is required for graceful shutdown.
func (e *Engine) Close() error {
	e.StopMaintenance()
	var firstErr error
	if e.vec != nil {
		if err := e.vec.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.lex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Recall answers a query by fusing lexical full-text search (plus an
// optional entity lookup) with vector recall. Embedding errors are logged
// and downgrade the result to lexical-only.
func (e *Engine) Recall(ctx context.Context, query string, limit int, entity string) ([]*memory.MemoryEntry, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Recall")
	defer timer.Stop()

	if limit <= 0 {
		limit = DefaultRecallLimit
	}

	var lexical []*memory.MemoryEntry
	if entity != "" {
		byEntity, err := e.lex.Lookup(entity, "")
		if err != nil {
			return nil, err
		}
		lexical = append(lexical, byEntity...)
	}
	bySearch, err := e.lex.Search(query, limit, store.SearchOptions{})
	if err != nil {
		return nil, err
	}
	lexical = append(lexical, bySearch...)

	vecResults := e.vectorRecall(ctx, query, limit)

	return MergeResults(lexical, vecResults, limit), nil
}

// vectorRecall embeds the query and searches the vector store. All failures
// yield an empty list.
func (e *Engine) vectorRecall(ctx context.Context, query string, limit int) []*memory.MemoryEntry {
	if e.vec == nil || e.embedder == nil {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		logging.Get(logging.CategoryEngine).Warn("Query embedding failed, lexical-only recall: %v", err)
		return nil
	}
	results, err := e.vec.Search(vec, limit, 0)
	if err != nil {
		logging.Get(logging.CategoryEngine).Warn("Vector search failed, lexical-only recall: %v", err)
		return nil
	}
	return results
}

// StoreRequest is the input to Store. Empty optional fields are filled by
// the extractor and classifier. Importance is a pointer so an explicit 0 is
// distinguishable from unset (0.7).
type StoreRequest struct {
	Text       string
	Importance *float64
	Category   memory.Category
	Entity     string
	Key        string
	Value      string
	DecayClass memory.DecayClass
	Source     string
}

// StoreResult reports what Store did.
type StoreResult struct {
	Action     string // "created", "updated" or "duplicate"
	ID         string
	DecayClass memory.DecayClass
}

// Store ingests one statement: duplicate text short-circuits, the extractor
// fills missing identity, the lexical write lands first and the vector write
// is best-effort behind its own duplicate guard.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Store")
	defer timer.Stop()

	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("memory text must not be empty")
	}

	dup, err := e.lex.HasDuplicate(req.Text)
	if err != nil {
		return nil, err
	}
	if dup {
		logging.EngineDebug("Duplicate text, skipping store")
		return &StoreResult{Action: "duplicate"}, nil
	}

	category := req.Category
	if category == "" {
		category = memory.DetectCategory(req.Text)
	}
	if req.Entity == "" && req.Key == "" && req.Value == "" {
		if t, ok := memory.Extract(req.Text, category); ok {
			req.Entity, req.Key, req.Value = t.Entity, t.Key, t.Value
		}
	}

	id, action, err := e.lex.Store(store.Candidate{
		Text:       req.Text,
		Category:   category,
		Importance: req.Importance,
		Entity:     req.Entity,
		Key:        req.Key,
		Value:      req.Value,
		Source:     req.Source,
		DecayClass: req.DecayClass,
	})
	if err != nil {
		return nil, err
	}

	class := req.DecayClass
	if class == "" {
		class = memory.ClassifyDecay(req.Entity, req.Key, req.Value, req.Text)
	}

	importance := 0.7
	if req.Importance != nil {
		importance = *req.Importance
	}
	e.storeVector(ctx, id, req.Text, importance, category)

	return &StoreResult{Action: string(action), ID: id, DecayClass: class}, nil
}

// storeVector mirrors a lexical record into the vector store, best-effort.
func (e *Engine) storeVector(ctx context.Context, id, text string, importance float64, category memory.Category) {
	if e.vec == nil || e.embedder == nil {
		return
	}
	vecEmbedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		logging.Get(logging.CategoryEngine).Warn("Embedding failed, vector write skipped: %v", err)
		return
	}
	dup, err := e.vec.HasDuplicate(vecEmbedding, 0)
	if err != nil {
		logging.Get(logging.CategoryEngine).Warn("Vector duplicate check failed, write skipped: %v", err)
		return
	}
	if dup {
		logging.EngineDebug("Near-duplicate vector, skipping vector write")
		return
	}
	if _, err := e.vec.Store(vector.Entry{
		ID:         id,
		Text:       text,
		Vector:     vecEmbedding,
		Importance: importance,
		Category:   category,
	}); err != nil {
		logging.Get(logging.CategoryEngine).Warn("Vector write failed: %v", err)
	}
}

// ForgetResult is either a confirmed deletion or a candidate list for
// disambiguation.
type ForgetResult struct {
	Deleted    bool
	ID         string
	Candidates []*memory.MemoryEntry
}

// Forget deletes by id in both stores, or returns the top fused candidates
// for a query so the caller can disambiguate.
func (e *Engine) Forget(ctx context.Context, id, query string) (*ForgetResult, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Forget")
	defer timer.Stop()

	switch {
	case id != "":
		deleted, err := e.lex.Delete(id)
		if err != nil {
			return nil, err
		}
		if e.vec != nil {
			if err := e.vec.Delete(id); err != nil {
				logging.Get(logging.CategoryEngine).Warn("Vector delete failed for %s: %v", id, err)
			}
		}
		return &ForgetResult{Deleted: deleted, ID: id}, nil
	case query != "":
		candidates, err := e.Recall(ctx, query, 5, "")
		if err != nil {
			return nil, err
		}
		return &ForgetResult{Candidates: candidates}, nil
	default:
		return nil, fmt.Errorf("forget requires a memory id or a query")
	}
}

// SaveCheckpoint stores a context blob; intent and state are required.
func (e *Engine) SaveCheckpoint(ctx memory.CheckpointContext) (string, error) {
	if strings.TrimSpace(ctx.Intent) == "" || strings.TrimSpace(ctx.State) == "" {
		return "", fmt.Errorf("checkpoint save requires intent and state")
	}
	return e.lex.SaveCheckpoint(ctx)
}

// RestoreCheckpoint returns the most recent non-expired checkpoint, or nil.
func (e *Engine) RestoreCheckpoint() (*memory.CheckpointContext, error) {
	return e.lex.RestoreCheckpoint()
}

// PruneMode selects which prune passes run.
type PruneMode string

const (
	PruneHard PruneMode = "hard"
	PruneSoft PruneMode = "soft"
	PruneBoth PruneMode = "both"
)

// PruneResult aggregates the passes that ran.
type PruneResult struct {
	HardPruned    int64
	VectorsPruned int
	SoftDecayed   int64
}

// Prune runs hard prune (mirroring deletions into the vector store), soft
// confidence decay, or both. Lexical prune is authoritative for residency;
// a vector deletion that fails is logged and not retried, because later
// hard prunes only report ids still present in the lexical store.
func (e *Engine) Prune(mode PruneMode) (*PruneResult, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Prune")
	defer timer.Stop()

	if mode == "" {
		mode = PruneBoth
	}
	result := &PruneResult{}

	if mode == PruneHard || mode == PruneBoth {
		pruned, err := e.lex.PruneExpired()
		if err != nil {
			return nil, err
		}
		result.HardPruned = pruned.Count
		if e.vec != nil && len(pruned.IDs) > 0 {
			result.VectorsPruned = e.vec.DeleteMany(pruned.IDs)
		}
	}
	if mode == PruneSoft || mode == PruneBoth {
		decayed, err := e.lex.DecayConfidence()
		if err != nil {
			return nil, err
		}
		result.SoftDecayed = decayed
	}
	return result, nil
}
