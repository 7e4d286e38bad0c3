package coordinator

import (
	"sort"
	"sync"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// Tracker enforces at most one job per request id. Finished ids are kept
// for the life of the process so they are never picked up again.
type Tracker struct {
	mu        sync.RWMutex
	active    map[domain.RequestID]domain.ResolutionJob
	committed map[domain.RequestID]struct{}
	failed    map[domain.RequestID]struct{}
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:    make(map[domain.RequestID]domain.ResolutionJob),
		committed: make(map[domain.RequestID]struct{}),
		failed:    make(map[domain.RequestID]struct{}),
	}
}

// Claim registers job as active. It returns false if the id is already
// active, committed or failed in this run.
func (t *Tracker) Claim(job domain.ResolutionJob) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.knownLocked(job.RequestID) {
		return false
	}
	t.active[job.RequestID] = job
	return true
}

// Known reports whether id is active or finished.
func (t *Tracker) Known(id domain.RequestID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.knownLocked(id)
}

func (t *Tracker) knownLocked(id domain.RequestID) bool {
	if _, ok := t.active[id]; ok {
		return true
	}
	if _, ok := t.committed[id]; ok {
		return true
	}
	_, ok := t.failed[id]
	return ok
}

// Update replaces the snapshot of an active job.
func (t *Tracker) Update(job domain.ResolutionJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[job.RequestID]; ok {
		t.active[job.RequestID] = job
	}
}

// Finish drops id from the active set and remembers its terminal state.
func (t *Tracker) Finish(id domain.RequestID, state domain.JobState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
	switch state {
	case domain.JobStateCommitted:
		t.committed[id] = struct{}{}
	case domain.JobStateFailed:
		t.failed[id] = struct{}{}
	}
}

// Release drops id from the active set without recording an outcome, for
// jobs abandoned before any work was done.
func (t *Tracker) Release(id domain.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
}

// Get returns the active job for id.
func (t *Tracker) Get(id domain.RequestID) (domain.ResolutionJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.active[id]
	return job, ok
}

// Active returns snapshots of all active jobs, oldest first.
func (t *Tracker) Active() []domain.ResolutionJob {
	t.mu.RLock()
	out := make([]domain.ResolutionJob, 0, len(t.active))
	for _, job := range t.active {
		out = append(out, job)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// Counts returns the number of active, committed and failed ids.
func (t *Tracker) Counts() (active, committed, failed int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active), len(t.committed), len(t.failed)
}
