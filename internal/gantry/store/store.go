// Package store keeps the live orchestrator state: run aggregates and the
// worker registry. Both stores are process-local; finished runs move to
// the archive backend.
package store

import (
	"sync"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/run"
	"github.com/gantryci/gantry/pkg/errors"
	"github.com/gantryci/gantry/pkg/logger"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// RunStorer tracks the live run aggregates by ID. The aggregates carry
// their own locks; the store only guards the map.
//
//counterfeiter:generate . RunStorer
type RunStorer interface {
	Add(r *run.Run) error
	Get(id string) (*run.Run, bool)
	List() []*run.Run
	Remove(id string)
	Close() error
}

// WorkerStorer owns the worker registry. All mutations go through Update
// so read-modify-write sequences (capacity checks, lease accounting) are
// atomic; reads hand out detached copies.
//
//counterfeiter:generate . WorkerStorer
type WorkerStorer interface {
	Register(w *domain.Worker)
	Get(id string) (*domain.Worker, bool)
	List() []*domain.Worker
	Update(id string, fn func(w *domain.Worker) error) error
	Remove(id string)
	Close() error
}

// NewRunStore creates the in-memory run store
func NewRunStore(log *logger.Logger) RunStorer {
	return &SimpleRunStore{
		runs:   make(map[string]*run.Run),
		logger: log.WithField("component", "run-store"),
	}
}

// NewWorkerStore creates the in-memory worker registry
func NewWorkerStore(log *logger.Logger) WorkerStorer {
	return &SimpleWorkerStore{
		workers: make(map[string]*domain.Worker),
		logger:  log.WithField("component", "worker-store"),
	}
}

type SimpleRunStore struct {
	runs   map[string]*run.Run
	mutex  sync.RWMutex
	logger *logger.Logger
}

func (s *SimpleRunStore) Add(r *run.Run) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.runs[r.ID()]; exists {
		return errors.WrapRunError(r.ID(), "add", errors.ErrInvalidTransition)
	}
	s.runs[r.ID()] = r
	return nil
}

func (s *SimpleRunStore) Get(id string) (*run.Run, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	r, exists := s.runs[id]
	return r, exists
}

func (s *SimpleRunStore) List() []*run.Run {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*run.Run, 0, len(s.runs))
	for _, r := range s.runs {
		result = append(result, r)
	}
	return result
}

func (s *SimpleRunStore) Remove(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.runs, id)
}

func (s *SimpleRunStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.runs = make(map[string]*run.Run)
	return nil
}

type SimpleWorkerStore struct {
	workers map[string]*domain.Worker
	mutex   sync.RWMutex
	logger  *logger.Logger
}

func (s *SimpleWorkerStore) Register(w *domain.Worker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.workers[w.ID] = w.DeepCopy()
}

func (s *SimpleWorkerStore) Get(id string) (*domain.Worker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	w, exists := s.workers[id]
	if !exists {
		return nil, false
	}
	return w.DeepCopy(), true
}

func (s *SimpleWorkerStore) List() []*domain.Worker {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*domain.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		result = append(result, w.DeepCopy())
	}
	return result
}

// Update applies fn to the live worker record under the store lock. A
// non-nil error from fn aborts the mutation and is returned unchanged.
func (s *SimpleWorkerStore) Update(id string, fn func(w *domain.Worker) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	w, exists := s.workers[id]
	if !exists {
		return errors.NewWorkerNotFoundError(id)
	}

	staged := w.DeepCopy()
	if err := fn(staged); err != nil {
		return err
	}
	s.workers[id] = staged
	return nil
}

func (s *SimpleWorkerStore) Remove(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.workers, id)
}

func (s *SimpleWorkerStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.workers = make(map[string]*domain.Worker)
	return nil
}
