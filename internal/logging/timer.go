package logging

import "time"

// Timer measures an operation and logs its duration on Stop.
// Operations slower than the warn threshold are logged at Warn so slow
// queries stand out without a separate profiler.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

const slowOpThreshold = 250 * time.Millisecond

// StartTimer begins timing an operation in the given category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{category: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time. Safe to call via defer.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed >= slowOpThreshold {
		l.Warn("%s took %v (slow)", t.op, elapsed)
	} else {
		l.Debug("%s took %v", t.op, elapsed)
	}
}
