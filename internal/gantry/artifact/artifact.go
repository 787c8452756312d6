// Package artifact tracks the artifacts job runs publish and resolves the
// inputs downstream jobs consume. Byte storage is external: records here
// carry store keys, never content.
package artifact

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/ids"
	"github.com/gantryci/gantry/pkg/errors"
	"github.com/gantryci/gantry/pkg/logger"
)

// ProducedArtifact is a worker-reported upload reference
type ProducedArtifact struct {
	Paths    []string
	Size     int64
	StoreKey string
}

// InUseFunc reports whether an artifact still has a waiting or running
// consumer. The sweeper never deletes an in-use artifact, expired or not.
type InUseFunc func(a *domain.Artifact) bool

// Manager is the in-memory artifact registry with retention sweeping
type Manager struct {
	mu         sync.Mutex
	byID       map[string]*domain.Artifact
	byProducer map[string]map[string][]*domain.Artifact // runID -> job name -> records

	gen           *ids.Generator
	defaultExpiry time.Duration
	sweepRetry    time.Duration
	inUse         InUseFunc
	logger        *logger.Logger

	expiries expiryHeap
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates an artifact manager. defaultExpiry applies to
// declarations without their own expire_in; sweepRetry is how soon an
// expired artifact still held by a live consumer is rechecked (0 = one
// minute); inUse may be nil.
func NewManager(defaultExpiry, sweepRetry time.Duration, inUse InUseFunc, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.New()
	}
	if sweepRetry <= 0 {
		sweepRetry = time.Minute
	}
	return &Manager{
		byID:          make(map[string]*domain.Artifact),
		byProducer:    make(map[string]map[string][]*domain.Artifact),
		gen:           ids.New(ids.ArtifactPrefix),
		defaultExpiry: defaultExpiry,
		sweepRetry:    sweepRetry,
		inUse:         inUse,
		logger:        log.WithField("component", "artifact-manager"),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
}

// ShouldPublish reports whether a declaration's when clause covers the
// attempt's outcome
func ShouldPublish(when domain.ArtifactWhen, success bool) bool {
	switch when {
	case domain.ArtifactAlways:
		return true
	case domain.ArtifactOnFailure:
		return !success
	default:
		return success
	}
}

// Register records the artifacts one attempt produced and returns the new
// records. Artifacts are immutable once registered.
func (m *Manager) Register(runID string, jr *domain.JobRun, decl domain.ArtifactDecl, produced []ProducedArtifact, now time.Time) []*domain.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	switch {
	case decl.ExpireIn == domain.NeverExpire:
		// zero time, kept forever
	case decl.ExpireIn > 0:
		expiresAt = now.Add(decl.ExpireIn)
	case m.defaultExpiry > 0:
		expiresAt = now.Add(m.defaultExpiry)
	}

	records := make([]*domain.Artifact, 0, len(produced))
	for _, p := range produced {
		paths := make([]string, len(p.Paths))
		copy(paths, p.Paths)

		a := &domain.Artifact{
			ID:        m.gen.Next(),
			RunID:     runID,
			JobRunID:  jr.ID,
			JobName:   jr.Name,
			Attempt:   jr.Attempt,
			Paths:     paths,
			Size:      p.Size,
			StoreKey:  p.StoreKey,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		}

		m.byID[a.ID] = a
		perRun := m.byProducer[runID]
		if perRun == nil {
			perRun = make(map[string][]*domain.Artifact)
			m.byProducer[runID] = perRun
		}
		perRun[jr.Name] = append(perRun[jr.Name], a)
		records = append(records, a)

		if !expiresAt.IsZero() {
			heap.Push(&m.expiries, expiryEntry{id: a.ID, at: expiresAt})
		}
	}

	if len(records) > 0 {
		m.logger.Debug("artifacts registered",
			"runId", runID, "job", jr.Name, "attempt", jr.Attempt, "count", len(records))
		m.signalWake()
	}

	return records
}

// Resolve returns the input artifacts the named job consumes: for each
// resolved producer, the records of its final attempt. A producer named in
// an explicit dependencies list that published nothing, or any expired
// input, yields MissingArtifact.
func (m *Manager) Resolve(run *domain.PipelineRun, jobName string, now time.Time) ([]*domain.Artifact, error) {
	def := run.Pipeline.Job(jobName)
	if def == nil {
		return nil, errors.NewJobNotFoundError(jobName)
	}

	explicit := def.Dependencies != nil
	var producers []string
	if explicit {
		producers = def.Dependencies
	} else {
		for _, pred := range run.Pipeline.Predecessors(def) {
			if p := run.Pipeline.Job(pred); p != nil && p.HasArtifacts() {
				producers = append(producers, pred)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var inputs []*domain.Artifact
	for _, producer := range producers {
		jr := run.Job(producer)
		if jr == nil {
			return nil, errors.NewMissingArtifactError(producer,
				fmt.Errorf("producer has no run record"))
		}

		records := m.currentAttemptLocked(run.ID, producer, jr.Attempt)
		if len(records) == 0 {
			if explicit {
				return nil, errors.NewMissingArtifactError(producer,
					fmt.Errorf("attempt %d published no artifacts", jr.Attempt))
			}
			// An implicit producer may have been rule-skipped or have
			// published nothing; that is not an error.
			continue
		}

		for _, a := range records {
			if a.IsExpired(now) {
				return nil, errors.NewMissingArtifactError(producer, errors.ErrArtifactExpired)
			}
			inputs = append(inputs, a.DeepCopy())
		}
	}

	return inputs, nil
}

// currentAttemptLocked returns the records the producer's given attempt
// registered. Earlier attempts' artifacts are never handed out.
func (m *Manager) currentAttemptLocked(runID, jobName string, attempt int) []*domain.Artifact {
	var records []*domain.Artifact
	for _, a := range m.byProducer[runID][jobName] {
		if a.Attempt == attempt {
			records = append(records, a)
		}
	}
	return records
}

// Get returns a copy of one artifact record
func (m *Manager) Get(id string) (*domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, exists := m.byID[id]
	if !exists {
		return nil, errors.WrapArtifactError(id, "lookup", errors.ErrArtifactNotFound)
	}
	return a.DeepCopy(), nil
}

// ListByProducer returns copies of every record a job registered in a run,
// all attempts included
func (m *Manager) ListByProducer(runID, jobName string) []*domain.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.byProducer[runID][jobName]
	out := make([]*domain.Artifact, 0, len(records))
	for _, a := range records {
		out = append(out, a.DeepCopy())
	}
	return out
}

// Start launches the retention sweeper. The loop sleeps until the next
// known expiry and re-arms when registrations add an earlier one.
func (m *Manager) Start() {
	go m.sweepLoop()
}

// Stop terminates the retention sweeper
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

func (m *Manager) sweepLoop() {
	for {
		next, ok := m.nextExpiry()
		if !ok {
			select {
			case <-m.wake:
				continue
			case <-m.stop:
				return
			}
		}

		wait := time.Until(next)
		if wait <= 0 {
			m.sweepExpired(time.Now())
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			m.sweepExpired(time.Now())
		case <-m.wake:
			timer.Stop()
		case <-m.stop:
			timer.Stop()
			return
		}
	}
}

// nextExpiry peeks the earliest pending expiry, discarding entries whose
// artifacts are already gone
func (m *Manager) nextExpiry() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.expiries.Len() > 0 {
		entry := m.expiries[0]
		if _, exists := m.byID[entry.id]; !exists {
			heap.Pop(&m.expiries)
			continue
		}
		return entry.at, true
	}
	return time.Time{}, false
}

// sweepExpired deletes artifacts past expiry unless a live consumer still
// needs them; retained ones are re-queued for the next pass.
func (m *Manager) sweepExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var retained []expiryEntry
	for m.expiries.Len() > 0 && !m.expiries[0].at.After(now) {
		entry := heap.Pop(&m.expiries).(expiryEntry)

		a, exists := m.byID[entry.id]
		if !exists || !a.IsExpired(now) {
			continue
		}
		if m.inUse != nil && m.inUse(a) {
			retained = append(retained, expiryEntry{id: a.ID, at: now.Add(m.sweepRetry)})
			continue
		}

		m.deleteLocked(a)
	}

	for _, entry := range retained {
		heap.Push(&m.expiries, entry)
	}
}

func (m *Manager) deleteLocked(a *domain.Artifact) {
	delete(m.byID, a.ID)

	records := m.byProducer[a.RunID][a.JobName]
	for i, r := range records {
		if r.ID == a.ID {
			m.byProducer[a.RunID][a.JobName] = append(records[:i], records[i+1:]...)
			break
		}
	}

	m.logger.Info("expired artifact deleted",
		"artifactId", a.ID, "runId", a.RunID, "job", a.JobName, "storeKey", a.StoreKey)
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// expiryEntry pairs an artifact with its expiry for the sweep heap
type expiryEntry struct {
	id string
	at time.Time
}

// expiryHeap is a min-heap ordered by expiry time
type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
