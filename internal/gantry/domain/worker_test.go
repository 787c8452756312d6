package domain

import (
	"testing"
	"time"
)

func TestWorkerCanTake(t *testing.T) {
	tests := []struct {
		name       string
		workerTags []string
		jobTags    []string
		canTake    bool
	}{
		{
			name:       "exact match",
			workerTags: []string{"linux", "docker"},
			jobTags:    []string{"linux", "docker"},
			canTake:    true,
		},
		{
			name:       "worker superset",
			workerTags: []string{"linux", "docker", "gpu"},
			jobTags:    []string{"linux"},
			canTake:    true,
		},
		{
			name:       "missing tag",
			workerTags: []string{"linux"},
			jobTags:    []string{"linux", "gpu"},
			canTake:    false,
		},
		{
			name:       "untagged job matches any worker",
			workerTags: []string{"linux"},
			jobTags:    nil,
			canTake:    true,
		},
		{
			name:       "untagged worker only takes untagged jobs",
			workerTags: nil,
			jobTags:    []string{"linux"},
			canTake:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Worker{ID: "worker-1", Tags: tt.workerTags}
			if got := w.CanTake(tt.jobTags); got != tt.canTake {
				t.Errorf("CanTake(%v) = %v, want %v", tt.jobTags, got, tt.canTake)
			}
		})
	}
}

func TestWorkerCapacity(t *testing.T) {
	w := &Worker{ID: "worker-1", Capacity: 2}

	if !w.HasCapacity() {
		t.Error("empty worker must have capacity")
	}

	w.Running = []string{"jr-1"}
	if !w.HasCapacity() {
		t.Error("worker below capacity must accept more")
	}

	w.Running = append(w.Running, "jr-2")
	if w.HasCapacity() {
		t.Error("worker at capacity must not accept more")
	}

	w.RemoveRunning("jr-1")
	if len(w.Running) != 1 || w.Running[0] != "jr-2" {
		t.Errorf("expected only jr-2 running, got %v", w.Running)
	}
	if !w.HasCapacity() {
		t.Error("worker must regain capacity after a job finishes")
	}

	// Removing an unknown ID is a no-op
	w.RemoveRunning("jr-404")
	if len(w.Running) != 1 {
		t.Errorf("expected running set unchanged, got %v", w.Running)
	}
}

func TestWorkerAccepting(t *testing.T) {
	w := &Worker{ID: "worker-1", State: WorkerOnline}
	if !w.Accepting() {
		t.Error("online worker must accept work")
	}

	w.State = WorkerDraining
	if w.Accepting() {
		t.Error("draining worker must not accept work")
	}

	w.State = WorkerOffline
	if w.Accepting() {
		t.Error("offline worker must not accept work")
	}
}

func TestWorkerHeartbeatExpired(t *testing.T) {
	now := time.Now()
	w := &Worker{
		ID:            "worker-1",
		LastHeartbeat: now.Add(-45 * time.Second),
	}

	if !w.HeartbeatExpired(30*time.Second, now) {
		t.Error("expected heartbeat to be expired after 45s with 30s timeout")
	}
	if w.HeartbeatExpired(60*time.Second, now) {
		t.Error("expected heartbeat to be live within 60s timeout")
	}
}

func TestWorkerDeepCopy(t *testing.T) {
	original := &Worker{
		ID:       "worker-1",
		Name:     "builder-a",
		Tags:     []string{"linux"},
		Capacity: 4,
		State:    WorkerOnline,
		Running:  []string{"jr-1"},
	}

	workerCopy := original.DeepCopy()
	workerCopy.Tags[0] = "windows"
	workerCopy.Running[0] = "jr-9"

	if original.Tags[0] != "linux" {
		t.Error("tags must not be shared with the copy")
	}
	if original.Running[0] != "jr-1" {
		t.Error("running set must not be shared with the copy")
	}

	var nilWorker *Worker
	if nilWorker.DeepCopy() != nil {
		t.Error("nil worker must copy to nil")
	}
}
