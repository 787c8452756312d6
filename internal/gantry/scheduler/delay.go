package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// ReleaseFunc is called by the delay loop when a parked job's start time
// arrives
type ReleaseFunc func(runID, job string)

// DelayQueue parks jobs with a delayed start until their release time.
// The loop sleeps until the earliest parked entry and re-arms whenever
// Park adds a sooner one.
type DelayQueue struct {
	mu       sync.Mutex
	entries  delayHeap
	release  ReleaseFunc
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewDelayQueue creates a delay queue delivering due jobs to release
func NewDelayQueue(release ReleaseFunc) *DelayQueue {
	return &DelayQueue{
		release: release,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Park schedules the job for release at the given time
func (d *DelayQueue) Park(runID, job string, until time.Time) {
	d.mu.Lock()
	heap.Push(&d.entries, delayEntry{runID: runID, job: job, at: until})
	d.mu.Unlock()

	d.signalWake()
}

// Drop discards every parked entry of a run
func (d *DelayQueue) Drop(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	remaining := d.entries[:0]
	for _, entry := range d.entries {
		if entry.runID != runID {
			remaining = append(remaining, entry)
		}
	}
	d.entries = remaining
	heap.Init(&d.entries)
}

// Start launches the release loop
func (d *DelayQueue) Start() {
	go d.loop()
}

// Stop terminates the release loop
func (d *DelayQueue) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}

func (d *DelayQueue) loop() {
	for {
		next, ok := d.nextDue()
		if !ok {
			select {
			case <-d.wake:
				continue
			case <-d.stop:
				return
			}
		}

		wait := time.Until(next)
		if wait <= 0 {
			d.releaseDue(time.Now())
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			d.releaseDue(time.Now())
		case <-d.wake:
			timer.Stop()
		case <-d.stop:
			timer.Stop()
			return
		}
	}
}

func (d *DelayQueue) nextDue() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.entries.Len() == 0 {
		return time.Time{}, false
	}
	return d.entries[0].at, true
}

// releaseDue pops every entry at or past now and hands it to the release
// callback outside the lock, since releasing can park new entries
func (d *DelayQueue) releaseDue(now time.Time) {
	d.mu.Lock()
	var due []delayEntry
	for d.entries.Len() > 0 && !d.entries[0].at.After(now) {
		due = append(due, heap.Pop(&d.entries).(delayEntry))
	}
	d.mu.Unlock()

	for _, entry := range due {
		d.release(entry.runID, entry.job)
	}
}

func (d *DelayQueue) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// delayEntry pairs a parked job with its release time
type delayEntry struct {
	runID string
	job   string
	at    time.Time
}

// delayHeap is a min-heap ordered by release time
type delayHeap []delayEntry

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h delayHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x interface{}) { *h = append(*h, x.(delayEntry)) }
func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
