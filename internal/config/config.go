// Package config loads mnemos configuration from a yaml file with
// environment-variable overrides. Missing file means defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"mnemos/internal/memory"
)

// Config holds all mnemos configuration.
type Config struct {
	// Workspace root; databases and logs live under <workspace>/.mnemos/.
	Workspace string `yaml:"workspace"`

	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Decay     DecayConfig     `yaml:"decay"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig configures the two on-disk stores.
type StoreConfig struct {
	// DatabasePath is the lexical SQLite database file.
	DatabasePath string `yaml:"database_path"`

	// VectorDir is the directory holding the vector database.
	VectorDir string `yaml:"vector_dir"`

	// MaintenanceInterval between prune/decay passes, in seconds. Nothing in
	// this module reads it; ingest.Startup takes its interval as an argument.
	MaintenanceInterval int `yaml:"maintenance_interval"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider: "ollama" or "none" (lexical-only recall).
	Provider string `yaml:"provider"`

	Endpoint string `yaml:"endpoint"` // Default: "http://localhost:11434"
	Model    string `yaml:"model"`    // Default: "nomic-embed-text"

	// Dimensions overrides the model lookup; 0 means derive from Model.
	Dimensions int `yaml:"dimensions"`

	// MinScore is the vector recall score floor. The engine does not read
	// it; vector recall applies vector.DefaultMinScore.
	MinScore float64 `yaml:"min_score"`
}

// DecayConfig overrides the per-class TTL defaults.
type DecayConfig struct {
	// TTLOverrides maps a decay class (stable, active, session, checkpoint)
	// to its time-to-live in seconds. Unknown classes and non-positive
	// values are ignored; permanent cannot be overridden.
	TTLOverrides map[string]int64 `yaml:"ttl_overrides"`
}

// TTLByClass converts the yaml string keys into decay classes for
// memory.ConfigureTTL.
func (d DecayConfig) TTLByClass() map[memory.DecayClass]int64 {
	if len(d.TTLOverrides) == 0 {
		return nil
	}
	overrides := make(map[memory.DecayClass]int64, len(d.TTLOverrides))
	for class, ttl := range d.TTLOverrides {
		overrides[memory.DecayClass(class)] = ttl
	}
	return overrides
}

// IngestConfig configures markdown ingestion.
type IngestConfig struct {
	// NotesDir holds daily notes named YYYY-MM-DD.md.
	NotesDir string `yaml:"notes_dir"`

	// Days of daily notes scanned on startup.
	Days int `yaml:"days"`

	// MemoryFile is the designated long-lived notes file.
	MemoryFile string `yaml:"memory_file"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns sensible defaults rooted at the given workspace.
func DefaultConfig(workspace string) Config {
	return Config{
		Workspace: workspace,
		Store: StoreConfig{
			DatabasePath:        filepath.Join(workspace, ".mnemos", "memory.db"),
			VectorDir:           filepath.Join(workspace, ".mnemos", "vectors"),
			MaintenanceInterval: 3600,
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Endpoint: "http://localhost:11434",
			Model:    "nomic-embed-text",
			MinScore: 0.3,
		},
		Ingest: IngestConfig{
			NotesDir:   filepath.Join(workspace, "notes"),
			Days:       2,
			MemoryFile: filepath.Join(workspace, "MEMORY.md"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from <workspace>/.mnemos/config.yaml, falling back to
// defaults when the file does not exist, then applies env overrides.
func Load(workspace string) (Config, error) {
	cfg := DefaultConfig(workspace)

	path := filepath.Join(workspace, ".mnemos", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Workspace == "" {
		cfg.Workspace = workspace
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets MNEMOS_* env vars win over file values, so the CLI
// works in environments where editing config files is awkward.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MNEMOS_DB_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}
	if v := os.Getenv("MNEMOS_VECTOR_DIR"); v != "" {
		cfg.Store.VectorDir = v
	}
	if v := os.Getenv("MNEMOS_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("MNEMOS_EMBEDDING_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("MNEMOS_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MNEMOS_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("MNEMOS_DEBUG"); v != "" {
		cfg.Logging.Debug = v == "1" || v == "true"
	}
}
