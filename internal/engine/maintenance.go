package engine

import (
	"time"

	"mnemos/internal/logging"
)

// DefaultMaintenanceInterval between prune/decay passes.
const DefaultMaintenanceInterval = time.Hour

// StartMaintenance launches the periodic maintenance loop: every interval a
// hard prune runs (mirrored into the vector store) followed by soft
// confidence decay. The tick holds no external lock and competes for the
// same writer as user operations; its work is bounded fixed-predicate scans,
// so it finishes well inside its period.
func (e *Engine) StartMaintenance(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}

	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.stopCh != nil {
		return
	}
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh

	logging.Engine("Maintenance loop starting (interval=%v)", interval)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				e.MaintenanceTick()
			}
		}
	}()
}

// StopMaintenance stops the loop and waits for an in-flight tick.
func (e *Engine) StopMaintenance() {
	e.loopMu.Lock()
	if e.stopCh == nil {
		e.loopMu.Unlock()
		return
	}
	close(e.stopCh)
	e.stopCh = nil
	e.loopMu.Unlock()
	e.wg.Wait()
	logging.Engine("Maintenance loop stopped")
}

// MaintenanceTick runs one prune+decay pass. Exported so tests can run it
// synchronously. Errors are logged, not returned: the next tick retries.
func (e *Engine) MaintenanceTick() {
	timer := logging.StartTimer(logging.CategoryEngine, "MaintenanceTick")
	defer timer.Stop()

	result, err := e.Prune(PruneBoth)
	if err != nil {
		logging.Get(logging.CategoryEngine).Warn("Maintenance prune failed: %v", err)
		return
	}
	logging.Engine("Maintenance: pruned=%d, vectors=%d, decayed=%d",
		result.HardPruned, result.VectorsPruned, result.SoftDecayed)
}
