// Package embedding provides vector embedding generation for semantic
// recall. The engine is an external collaborator: its failures are
// recoverable and downgrade recall to lexical-only.
package embedding

import (
	"context"
	"fmt"

	"mnemos/internal/config"
	"mnemos/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of produced embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// NewEngine creates an embedding engine based on configuration. Provider
// "none" returns (nil, nil): the caller runs lexical-only.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	switch cfg.Provider {
	case "", "none":
		logging.Embedding("No embedding provider configured; recall is lexical-only")
		return nil, nil
	case "ollama":
		dims := cfg.Dimensions
		if dims == 0 {
			dims = DimsForModel(cfg.Model)
		}
		logging.Embedding("Initializing Ollama embedding engine: endpoint=%s, model=%s, dims=%d",
			cfg.Endpoint, cfg.Model, dims)
		return NewOllamaEngine(cfg.Endpoint, cfg.Model, dims)
	default:
		logging.Get(logging.CategoryEmbedding).Error("Unsupported embedding provider: %s", cfg.Provider)
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'none')", cfg.Provider)
	}
}

// modelDims maps known embedding models to their output dimension.
var modelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"embeddinggemma":         768,
	"gemini-embedding-001":   3072,
}

// defaultDims is used when the model is unknown; matches the most common
// local embedding models.
const defaultDims = 768

// DimsForModel returns the vector dimension for a model name. Pure lookup.
func DimsForModel(name string) int {
	if d, ok := modelDims[name]; ok {
		return d
	}
	return defaultDims
}
