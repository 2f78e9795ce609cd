package engine

import (
	"sync"
	"time"
)

// timeByRun records run start times for duration measurement. Entries are
// removed on first read so finished runs do not accumulate.
type timeByRun struct {
	mu *sync.Mutex
	m  map[string]time.Time
}

func newTimeByRun() timeByRun {
	return timeByRun{mu: &sync.Mutex{}, m: make(map[string]time.Time)}
}

func (t timeByRun) set(runID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[runID] = at
}

func (t timeByRun) since(runID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.m[runID]
	if !ok {
		return 0
	}
	delete(t.m, runID)
	return time.Since(start)
}
