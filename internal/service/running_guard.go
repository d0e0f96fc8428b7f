package service

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ExportedRunningGuard is an exported alias so _test packages can test the guard.
type ExportedRunningGuard = runningJobsGuard

// runningJobsGuard ensures only one run of a given ingest job is in
// flight at a time. Overlapping runs of the same job would race on the
// job's output directory. It also remembers when each run started, so
// shutdown can report which jobs it is still waiting on.
type runningJobsGuard struct {
	mu      sync.Mutex
	started map[string]time.Time
	wg      sync.WaitGroup
}

// TryLock marks jobID as running. It returns false if a run of that
// job is already in flight.
func (g *runningJobsGuard) TryLock(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started == nil {
		g.started = make(map[string]time.Time)
	}
	if _, ok := g.started[jobID]; ok {
		return false
	}
	g.started[jobID] = time.Now()
	g.wg.Add(1)
	return true
}

// Unlock marks the job as finished. Must pair with a successful TryLock.
func (g *runningJobsGuard) Unlock(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.started, jobID)
	g.wg.Done()
}

// Running returns the IDs of jobs currently in flight, sorted.
func (g *runningJobsGuard) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.started))
	for id := range g.started {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WaitAll blocks until every in-flight run finishes or ctx is cancelled.
func (g *runningJobsGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
