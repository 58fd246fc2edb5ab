package ingest

import (
	"context"
	"time"

	"mnemos/internal/engine"
	"mnemos/internal/logging"
)

// Startup runs the engine's boot sequence: one hard prune (mirrored into
// the vector store), then markdown ingestion for the recent daily notes and
// the memory file, then the hourly maintenance loop. Soft confidence decay
// is the hourly tick's job, not boot's. Ingestion failures are logged and
// do not abort startup.
func Startup(ctx context.Context, eng *engine.Engine, notesDir string, days int, memoryFile string, interval time.Duration) {
	if _, err := eng.Prune(engine.PruneHard); err != nil {
		logging.Get(logging.CategoryIngest).Warn("Startup prune failed: %v", err)
	}

	ing := New(eng, nil)
	if _, err := ing.IngestDaily(ctx, notesDir, days, memoryFile); err != nil {
		logging.Get(logging.CategoryIngest).Warn("Startup ingest failed: %v", err)
	}

	eng.StartMaintenance(interval)
}
