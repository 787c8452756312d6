package domain

import (
	"time"
)

// WorkerState represents the registration state of a worker
type WorkerState string

const (
	WorkerOnline   WorkerState = "ONLINE"
	WorkerDraining WorkerState = "DRAINING" // Finishing current jobs, takes no new ones
	WorkerOffline  WorkerState = "OFFLINE"
)

// Worker is a registered execution agent
type Worker struct {
	ID            string
	Name          string
	Tags          []string // Capabilities the worker advertises
	Capacity      int      // Maximum concurrent job runs
	State         WorkerState
	RegisteredAt  time.Time
	LastHeartbeat time.Time
	Running       []string // Job run IDs currently leased to this worker
}

// CanTake returns true if the worker advertises every required tag
func (w *Worker) CanTake(tags []string) bool {
	for _, required := range tags {
		found := false
		for _, have := range w.Tags {
			if have == required {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HasCapacity returns true if the worker can accept another job run
func (w *Worker) HasCapacity() bool {
	return len(w.Running) < w.Capacity
}

// Accepting returns true if the worker is taking new assignments
func (w *Worker) Accepting() bool {
	return w.State == WorkerOnline
}

// HeartbeatExpired returns true if the worker has not reported within the timeout
func (w *Worker) HeartbeatExpired(timeout time.Duration, now time.Time) bool {
	return now.Sub(w.LastHeartbeat) > timeout
}

// RemoveRunning drops a job run ID from the worker's running set
func (w *Worker) RemoveRunning(jobRunID string) {
	for i, id := range w.Running {
		if id == jobRunID {
			w.Running = append(w.Running[:i], w.Running[i+1:]...)
			return
		}
	}
}

// DeepCopy creates a deep copy of the worker
func (w *Worker) DeepCopy() *Worker {
	if w == nil {
		return nil
	}

	workerCopy := &Worker{
		ID:            w.ID,
		Name:          w.Name,
		Tags:          make([]string, len(w.Tags)),
		Capacity:      w.Capacity,
		State:         w.State,
		RegisteredAt:  w.RegisteredAt,
		LastHeartbeat: w.LastHeartbeat,
		Running:       make([]string, len(w.Running)),
	}

	copy(workerCopy.Tags, w.Tags)
	copy(workerCopy.Running, w.Running)

	return workerCopy
}
