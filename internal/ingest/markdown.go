// Package ingest feeds the memory engine from markdown notes: daily files
// named YYYY-MM-DD.md plus a designated long-lived memory file. Extraction
// is line-level; the capture filter decides what is worth keeping.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mnemos/internal/clock"
	"mnemos/internal/engine"
	"mnemos/internal/logging"
	"mnemos/internal/memory"
)

// Ingester scans markdown files and stores eligible statements.
type Ingester struct {
	engine *engine.Engine
	clock  clock.Clock
}

// New creates an ingester over the given engine.
func New(eng *engine.Engine, clk clock.Clock) *Ingester {
	if clk == nil {
		clk = clock.System{}
	}
	return &Ingester{engine: eng, clock: clk}
}

// Result counts one ingestion pass.
type Result struct {
	FilesScanned int
	LinesSeen    int
	Stored       int
	Duplicates   int
}

// IngestDaily scans the daily notes for the last `days` days plus the
// designated memory file. Missing files are skipped silently.
func (g *Ingester) IngestDaily(ctx context.Context, notesDir string, days int, memoryFile string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryIngest, "IngestDaily")
	defer timer.Stop()

	if days <= 0 {
		days = 1
	}

	total := &Result{}
	now := time.Unix(g.clock.Now(), 0).UTC()
	for i := 0; i < days; i++ {
		day := now.AddDate(0, 0, -i).Format("2006-01-02")
		path := filepath.Join(notesDir, day+".md")
		res, err := g.IngestFile(ctx, path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return total, err
		}
		accumulate(total, res)
	}

	if memoryFile != "" {
		res, err := g.IngestFile(ctx, memoryFile)
		if err != nil && !os.IsNotExist(err) {
			return total, err
		}
		if res != nil {
			accumulate(total, res)
		}
	}

	logging.Ingest("Daily ingest: files=%d lines=%d stored=%d duplicates=%d",
		total.FilesScanned, total.LinesSeen, total.Stored, total.Duplicates)
	return total, nil
}

// IngestFile scans one markdown file line by line. Returns os.ErrNotExist
// via the underlying open when the file is missing.
func (g *Ingester) IngestFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res := &Result{FilesScanned: 1}
	source := "markdown:" + filepath.Base(path)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := cleanLine(scanner.Text())
		if line == "" {
			continue
		}
		res.LinesSeen++
		if !memory.ShouldCapture(line) {
			continue
		}

		result, err := g.engine.Store(ctx, engine.StoreRequest{
			Text:   line,
			Source: source,
		})
		if err != nil {
			logging.Get(logging.CategoryIngest).Warn("Failed to store line from %s: %v", path, err)
			continue
		}
		if result.Action == "duplicate" {
			res.Duplicates++
		} else {
			res.Stored++
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	logging.IngestDebug("Ingested %s: lines=%d stored=%d", path, res.LinesSeen, res.Stored)
	return res, nil
}

// cleanLine strips markdown list markers, checkboxes and emphasis so the
// capture filter sees plain statements.
func cleanLine(line string) string {
	s := strings.TrimSpace(line)
	for _, prefix := range []string{"- [ ] ", "- [x] ", "- [X] ", "- ", "* ", "+ ", "> "} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
			break
		}
	}
	s = strings.Trim(s, "*_`")
	return strings.TrimSpace(s)
}

func accumulate(total, res *Result) {
	total.FilesScanned += res.FilesScanned
	total.LinesSeen += res.LinesSeen
	total.Stored += res.Stored
	total.Duplicates += res.Duplicates
}
