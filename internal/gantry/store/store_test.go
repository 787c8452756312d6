package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/graph"
	"github.com/gantryci/gantry/internal/gantry/run"
	"github.com/gantryci/gantry/pkg/errors"
	"github.com/gantryci/gantry/pkg/logger"
)

func testRun(t *testing.T, id string) *run.Run {
	t.Helper()

	def := &domain.PipelineDefinition{
		Name:   "web",
		Stages: []string{"build"},
		Jobs: []*domain.JobDefinition{
			{Name: "compile", Stage: "build", Script: []string{"make"}},
		},
	}
	g, err := graph.Build(def)
	if err != nil {
		t.Fatalf("graph.Build() error = %v", err)
	}
	return run.New(id, def, g, domain.TriggerContext{Ref: "main", Source: "api"}, 2, time.Now())
}

func testWorker(id string) *domain.Worker {
	return &domain.Worker{
		ID:       id,
		Name:     "agent-" + id,
		Tags:     []string{"linux"},
		Capacity: 2,
		State:    domain.WorkerOnline,
	}
}

func TestRunStoreAddGet(t *testing.T) {
	s := NewRunStore(logger.New())

	r := testRun(t, "run-1")
	if err := s.Add(r); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	got, ok := s.Get("run-1")
	if !ok {
		t.Fatal("Get(run-1) not found")
	}
	if got != r {
		t.Error("Get() should return the stored aggregate")
	}

	if _, ok := s.Get("run-missing"); ok {
		t.Error("Get() on unknown ID should report not found")
	}
}

func TestRunStoreRejectsDuplicate(t *testing.T) {
	s := NewRunStore(logger.New())

	if err := s.Add(testRun(t, "run-1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	err := s.Add(testRun(t, "run-1"))
	if err == nil {
		t.Fatal("Add() with duplicate ID should fail")
	}
	if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Add() error = %v, want ErrInvalidTransition", err)
	}
}

func TestRunStoreListAndRemove(t *testing.T) {
	s := NewRunStore(logger.New())

	for i := 1; i <= 3; i++ {
		if err := s.Add(testRun(t, fmt.Sprintf("run-%d", i))); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if got := len(s.List()); got != 3 {
		t.Fatalf("List() returned %d runs, want 3", got)
	}

	s.Remove("run-2")
	if got := len(s.List()); got != 2 {
		t.Errorf("List() after Remove returned %d runs, want 2", got)
	}
	if _, ok := s.Get("run-2"); ok {
		t.Error("Get() should not find a removed run")
	}
}

func TestWorkerStoreReadsAreDetached(t *testing.T) {
	s := NewWorkerStore(logger.New())
	s.Register(testWorker("wrk-1"))

	got, ok := s.Get("wrk-1")
	if !ok {
		t.Fatal("Get(wrk-1) not found")
	}
	got.Running = append(got.Running, "jr-1")
	got.Tags[0] = "windows"

	again, _ := s.Get("wrk-1")
	if len(again.Running) != 0 {
		t.Error("mutating a Get() result should not touch the stored worker")
	}
	if again.Tags[0] != "linux" {
		t.Error("mutating a Get() result's tags should not touch the stored worker")
	}
}

func TestWorkerStoreUpdate(t *testing.T) {
	s := NewWorkerStore(logger.New())
	s.Register(testWorker("wrk-1"))

	err := s.Update("wrk-1", func(w *domain.Worker) error {
		w.Running = append(w.Running, "jr-1")
		w.State = domain.WorkerDraining
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := s.Get("wrk-1")
	if len(got.Running) != 1 || got.Running[0] != "jr-1" {
		t.Errorf("Running = %v, want [jr-1]", got.Running)
	}
	if got.State != domain.WorkerDraining {
		t.Errorf("State = %s, want DRAINING", got.State)
	}
}

func TestWorkerStoreUpdateErrorDiscardsChanges(t *testing.T) {
	s := NewWorkerStore(logger.New())
	s.Register(testWorker("wrk-1"))

	wantErr := errors.ErrWorkerOffline
	err := s.Update("wrk-1", func(w *domain.Worker) error {
		w.Running = append(w.Running, "jr-1")
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Update() error = %v, want %v", err, wantErr)
	}

	got, _ := s.Get("wrk-1")
	if len(got.Running) != 0 {
		t.Error("failed Update() must not leave partial changes behind")
	}
}

func TestWorkerStoreUpdateUnknownWorker(t *testing.T) {
	s := NewWorkerStore(logger.New())

	err := s.Update("wrk-ghost", func(w *domain.Worker) error { return nil })
	if !errors.Is(err, errors.ErrWorkerNotFound) {
		t.Errorf("Update() error = %v, want ErrWorkerNotFound", err)
	}
}

func TestWorkerStoreConcurrentUpdates(t *testing.T) {
	s := NewWorkerStore(logger.New())
	s.Register(testWorker("wrk-1"))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Update("wrk-1", func(w *domain.Worker) error {
				w.Running = append(w.Running, fmt.Sprintf("jr-%d", i))
				return nil
			})
		}(i)
	}
	wg.Wait()

	got, _ := s.Get("wrk-1")
	if len(got.Running) != n {
		t.Errorf("Running has %d entries after %d concurrent updates, want %d", len(got.Running), n, n)
	}
}

func TestWorkerStoreRemove(t *testing.T) {
	s := NewWorkerStore(logger.New())
	s.Register(testWorker("wrk-1"))

	s.Remove("wrk-1")
	if _, ok := s.Get("wrk-1"); ok {
		t.Error("Get() should not find a removed worker")
	}
	if got := len(s.List()); got != 0 {
		t.Errorf("List() returned %d workers, want 0", got)
	}
}
