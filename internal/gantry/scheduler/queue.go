package scheduler

import (
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
)

// Item is one dispatch-ready job attempt waiting for a matching worker
type Item struct {
	RunID      string
	JobRunID   string
	Job        string
	Attempt    int
	Tags       []string
	EnqueuedAt time.Time
}

// DispatchQueue holds dispatch-ready job attempts in arrival order.
// Workers drain it through TakeMatch, which honors the job's tag
// requirements and the per-run concurrency cap. Taken items count
// against the run until Release is called for them.
type DispatchQueue struct {
	mu        sync.Mutex
	items     []*Item
	inFlight  map[string]int // run ID -> taken but not yet released
	maxPerRun int            // 0 = unlimited
	wake      chan struct{}  // closed and replaced to broadcast new work
}

// NewDispatchQueue creates an empty queue with the given per-run cap
func NewDispatchQueue(maxPerRun int) *DispatchQueue {
	return &DispatchQueue{
		inFlight:  make(map[string]int),
		maxPerRun: maxPerRun,
		wake:      make(chan struct{}),
	}
}

// Enqueue appends an item. A second entry for the same job run attempt
// is dropped, so a revived job cannot appear twice.
func (q *DispatchQueue) Enqueue(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.items {
		if existing.JobRunID == item.JobRunID && existing.Attempt == item.Attempt {
			return
		}
	}

	q.items = append(q.items, item)
	q.wakeLocked()
}

// Wake returns a channel closed on the next enqueue or capacity release.
// Pollers select on it to recheck the queue without busy-waiting.
func (q *DispatchQueue) Wake() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wake
}

// TakeMatch removes and returns up to max items whose tags the worker
// advertises, skipping items whose run is at its concurrency cap.
// Scanning stays in arrival order so a starved item is picked up as soon
// as a matching worker has room.
func (q *DispatchQueue) TakeMatch(w *domain.Worker, max int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var taken []*Item
	remaining := q.items[:0]
	for _, item := range q.items {
		if len(taken) >= max || !w.CanTake(item.Tags) || q.atCapLocked(item.RunID) {
			remaining = append(remaining, item)
			continue
		}
		q.inFlight[item.RunID]++
		taken = append(taken, item)
	}
	q.items = remaining
	return taken
}

// Release frees one in-flight slot for the run: the taken attempt
// finished, failed, or turned out not to be dispatchable after all.
func (q *DispatchQueue) Release(runID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := q.inFlight[runID]; n > 1 {
		q.inFlight[runID] = n - 1
	} else {
		delete(q.inFlight, runID)
	}
	q.wakeLocked()
}

// Remove deletes queued entries for the given job run IDs
func (q *DispatchQueue) Remove(jobRunIDs ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	drop := make(map[string]bool, len(jobRunIDs))
	for _, id := range jobRunIDs {
		drop[id] = true
	}

	remaining := q.items[:0]
	for _, item := range q.items {
		if !drop[item.JobRunID] {
			remaining = append(remaining, item)
		}
	}
	q.items = remaining
}

// PurgeRun drops every queued item of a finished run and forgets its
// in-flight accounting. Nothing new is dispatched for a terminal run.
func (q *DispatchQueue) PurgeRun(runID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := q.items[:0]
	for _, item := range q.items {
		if item.RunID != runID {
			remaining = append(remaining, item)
		}
	}
	q.items = remaining
	delete(q.inFlight, runID)
}

// Depth returns the number of queued items
func (q *DispatchQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns how many taken attempts of the run are unreleased
func (q *DispatchQueue) InFlight(runID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[runID]
}

func (q *DispatchQueue) atCapLocked(runID string) bool {
	return q.maxPerRun > 0 && q.inFlight[runID] >= q.maxPerRun
}

func (q *DispatchQueue) wakeLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
