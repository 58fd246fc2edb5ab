package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mnemos/internal/engine"
	"mnemos/internal/ingest"
	"mnemos/internal/memory"
)

var (
	searchLimit    int
	lookupKey      string
	pruneHard      bool
	pruneSoft      bool
	pruneDryRun    bool
	checkpointArgs struct {
		intent          string
		state           string
		expectedOutcome string
		workingFiles    []string
	}
	extractDays int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the memory store",
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts by decay class",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		stats, err := eng.Lexical().StatsBreakdown()
		if err != nil {
			return err
		}

		fmt.Printf("Total:   %d\n", stats.Total)
		fmt.Printf("Expired: %d\n", stats.Expired)
		classes := make([]string, 0, len(stats.ByClass))
		for class := range stats.ByClass {
			classes = append(classes, string(class))
		}
		sort.Strings(classes)
		for _, class := range classes {
			fmt.Printf("  %-11s %d\n", class, stats.ByClass[memory.DecayClass(class)])
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid recall for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		query := strings.Join(args, " ")
		results, err := eng.Recall(cmd.Context(), query, searchLimit, "")
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No memories found.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%.3f  [%s/%s]  %s\n", r.Score, r.Backend, r.Category, r.Text)
		}
		return nil
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <entity>",
	Short: "Look up memories for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		results, err := eng.Lexical().Lookup(args[0], lookupKey)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No memories found.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%.2f  %s.%s = %s  (%s)\n", r.Confidence, r.Entity, r.Key, r.Value, r.Text)
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Hard-prune expired memories and/or soft-decay confidence",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if pruneDryRun {
			expired, err := eng.Lexical().CountExpired()
			if err != nil {
				return err
			}
			fmt.Printf("Would prune %d expired memories.\n", expired)
			return nil
		}

		mode := engine.PruneBoth
		switch {
		case pruneHard && !pruneSoft:
			mode = engine.PruneHard
		case pruneSoft && !pruneHard:
			mode = engine.PruneSoft
		}
		result, err := eng.Prune(mode)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d expired (mirrored %d vectors), soft-decayed %d.\n",
			result.HardPruned, result.VectorsPruned, result.SoftDecayed)

		if result.HardPruned > 500 {
			if err := eng.Lexical().Vacuum(); err != nil {
				logger.Warn("vacuum failed")
			}
		}
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <save|restore>",
	Short: "Save or restore a pre-flight context checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		switch args[0] {
		case "save":
			id, err := eng.SaveCheckpoint(memory.CheckpointContext{
				Intent:          checkpointArgs.intent,
				State:           checkpointArgs.state,
				ExpectedOutcome: checkpointArgs.expectedOutcome,
				WorkingFiles:    checkpointArgs.workingFiles,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Checkpoint saved: %s\n", id)
			return nil
		case "restore":
			ctx, err := eng.RestoreCheckpoint()
			if err != nil {
				return err
			}
			if ctx == nil {
				fmt.Println("No checkpoint found.")
				return nil
			}
			fmt.Printf("Intent: %s\nState: %s\n", ctx.Intent, ctx.State)
			if ctx.ExpectedOutcome != "" {
				fmt.Printf("Expected outcome: %s\n", ctx.ExpectedOutcome)
			}
			if len(ctx.WorkingFiles) > 0 {
				fmt.Printf("Working files: %s\n", strings.Join(ctx.WorkingFiles, ", "))
			}
			return nil
		default:
			return fmt.Errorf("unknown checkpoint action %q (use save or restore)", args[0])
		}
	},
}

var backfillDecayCmd = &cobra.Command{
	Use:   "backfill-decay",
	Short: "Re-run the decay classifier over stale records",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		counts, err := eng.Lexical().BackfillDecayClasses()
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Println("Nothing to reclassify.")
			return nil
		}
		for class, n := range counts {
			fmt.Printf("  %-11s %d\n", class, n)
		}
		return nil
	},
}

var extractDailyCmd = &cobra.Command{
	Use:   "extract-daily",
	Short: "Ingest recent daily notes and the memory file",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		days := extractDays
		if days == 0 {
			days = cfg.Ingest.Days
		}
		ing := ingest.New(eng, nil)
		res, err := ing.IngestDaily(cmd.Context(), cfg.Ingest.NotesDir, days, cfg.Ingest.MemoryFile)
		if err != nil {
			return err
		}
		fmt.Printf("Scanned %d files (%d lines): stored %d, skipped %d duplicates.\n",
			res.FilesScanned, res.LinesSeen, res.Stored, res.Duplicates)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "maximum results")
	lookupCmd.Flags().StringVar(&lookupKey, "key", "", "restrict to one key")
	pruneCmd.Flags().BoolVar(&pruneHard, "hard", false, "hard prune only")
	pruneCmd.Flags().BoolVar(&pruneSoft, "soft", false, "soft decay only")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "report what would be pruned")
	checkpointCmd.Flags().StringVar(&checkpointArgs.intent, "intent", "", "what the agent was about to do")
	checkpointCmd.Flags().StringVar(&checkpointArgs.state, "state", "", "where the work stands")
	checkpointCmd.Flags().StringVar(&checkpointArgs.expectedOutcome, "expected-outcome", "", "what success looks like")
	checkpointCmd.Flags().StringSliceVar(&checkpointArgs.workingFiles, "working-files", nil, "files in flight")
	extractDailyCmd.Flags().IntVar(&extractDays, "days", 0, "days of daily notes to scan")

	memoryCmd.AddCommand(statsCmd, searchCmd, lookupCmd, pruneCmd, checkpointCmd, backfillDecayCmd, extractDailyCmd)
}
