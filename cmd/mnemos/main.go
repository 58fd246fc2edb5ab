// Package main implements the mnemos CLI - a long-lived memory store for
// conversational agents.
//
// Command implementations are split across cmd_*.go files:
//   - main.go       - entry point, rootCmd, global flags, engine wiring
//   - cmd_memory.go - the memory subcommand group (stats, search, lookup,
//     prune, checkpoint, backfill-decay, extract-daily)
//   - cmd_hooks.go  - agent event hooks (before-agent-start, agent-end)
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mnemos/internal/clock"
	"mnemos/internal/config"
	"mnemos/internal/embedding"
	"mnemos/internal/engine"
	"mnemos/internal/logging"
	"mnemos/internal/memory"
	"mnemos/internal/store"
	"mnemos/internal/vector"
)

var (
	// Global flags
	verbose   bool
	workspace string

	logger *zap.Logger
	cfg    config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mnemos",
	Short: "Long-lived memory store for conversational agents",
	Long: `mnemos ingests natural-language statements, extracts structured
identity, persists memories under a time-to-live discipline and answers
recall queries by fusing lexical full-text search with vector search.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env first so config env overrides can come from it.
		_ = godotenv.Load()

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}

		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}
		memory.ConfigureTTL(cfg.Decay.TTLByClass())
		if verbose {
			cfg.Logging.Debug = true
			cfg.Logging.Level = "debug"
		}
		return logging.Initialize(workspace, logging.Options{
			Debug:      cfg.Logging.Debug,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

// openEngine wires the stores and embedding provider. Lexical open failure
// is fatal; embedding and vector failures degrade to lexical-only.
func openEngine() (*engine.Engine, error) {
	clk := clock.System{}

	lex, err := store.Open(cfg.Store.DatabasePath, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logger.Warn("embedding engine unavailable, recall is lexical-only", zap.Error(err))
		embedder = nil
	}

	var vec *vector.Store
	dims := cfg.Embedding.Dimensions
	if embedder != nil {
		dims = embedder.Dimensions()
	} else if dims == 0 {
		dims = embedding.DimsForModel(cfg.Embedding.Model)
	}
	vec, err = vector.Open(cfg.Store.VectorDir, dims, clk)
	if err != nil {
		logger.Warn("vector store unavailable, recall is lexical-only", zap.Error(err))
		vec = nil
	}

	return engine.New(lex, vec, embedder, clk)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")

	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(hooksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
