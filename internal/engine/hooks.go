package engine

import (
	"context"
	"fmt"
	"strings"

	"mnemos/internal/logging"
	"mnemos/internal/memory"
	"mnemos/internal/store"
)

// Auto-recall and auto-capture bounds.
const (
	autoRecallMinPromptLen = 5
	autoRecallPerBackend   = 3
	autoRecallLimit        = 5
	autoCapturePerTurn     = 3
)

// recallBlockTag wraps prepended context so downstream capture filters can
// recognize and skip it.
const recallBlockTag = "relevant-memories"

// BeforeAgentStart computes the auto-recall context for an incoming prompt.
// Returns "" when the prompt is too short or nothing relevant is stored.
func (e *Engine) BeforeAgentStart(ctx context.Context, prompt string) string {
	timer := logging.StartTimer(logging.CategoryEngine, "BeforeAgentStart")
	defer timer.Stop()

	if len(strings.TrimSpace(prompt)) < autoRecallMinPromptLen {
		return ""
	}

	lexical, err := e.lex.Search(prompt, autoRecallPerBackend, store.SearchOptions{})
	if err != nil {
		logging.Get(logging.CategoryEngine).Warn("Auto-recall lexical search failed: %v", err)
		lexical = nil
	}
	vecResults := e.vectorRecall(ctx, prompt, autoRecallPerBackend)

	merged := MergeResults(lexical, vecResults, autoRecallLimit)
	if len(merged) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<%s>\n", recallBlockTag)
	for _, m := range merged {
		fmt.Fprintf(&b, "- %s\n", m.Text)
	}
	fmt.Fprintf(&b, "</%s>", recallBlockTag)
	return b.String()
}

// AgentEnd runs auto-capture over the turn's user messages: plain text
// blocks pass the capture filter, at most autoCapturePerTurn are kept, each
// must extract a non-empty entity or key, duplicates are skipped and all
// failures are logged and swallowed.
func (e *Engine) AgentEnd(ctx context.Context, success bool, messages []string) {
	timer := logging.StartTimer(logging.CategoryEngine, "AgentEnd")
	defer timer.Stop()

	captured := 0
	for _, text := range messages {
		if captured >= autoCapturePerTurn {
			break
		}
		if !memory.ShouldCapture(text) {
			continue
		}

		category := memory.DetectCategory(text)
		triple, ok := memory.Extract(text, category)
		if !ok || (triple.Entity == "" && triple.Key == "") {
			continue
		}

		result, err := e.Store(ctx, StoreRequest{
			Text:     text,
			Category: category,
			Entity:   triple.Entity,
			Key:      triple.Key,
			Value:    triple.Value,
			Source:   "auto-capture",
		})
		if err != nil {
			logging.Get(logging.CategoryEngine).Warn("Auto-capture failed: %v", err)
			continue
		}
		if result.Action == "duplicate" {
			continue
		}
		captured++
	}
	if captured > 0 {
		logging.Engine("Auto-captured %d memories (success=%v)", captured, success)
	}
}
