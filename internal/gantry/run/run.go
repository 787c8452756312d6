// Package run owns the execution state machine of a single pipeline run.
// Each Run is an independently locked aggregate: every mutation and the
// eligibility sweep it triggers happen under one lock, so predecessor
// completion is always visible before a dependent can be handed out.
package run

import (
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/graph"
	"github.com/gantryci/gantry/internal/gantry/ids"
	"github.com/gantryci/gantry/pkg/errors"
)

// Run is the live aggregate for one pipeline run
type Run struct {
	mu sync.Mutex

	pr       *domain.PipelineRun
	graph    *graph.Graph
	retryCap int
}

// DelayedJob names a job parked by a delayed rule and when it may start
type DelayedJob struct {
	Name  string
	Until time.Time
}

// Changes describes the observable effects of one mutation. The scheduler
// feeds its queues from this instead of re-reading the whole aggregate.
type Changes struct {
	Ready        []string     // Newly eligible and dispatch-ready
	Manual       []string     // Newly eligible, holding for an explicit play
	Delayed      []DelayedJob // Newly eligible, parked until a release time
	Skipped      []string
	Retried      []string // Failed attempts automatically reset for another try
	AbortWorkers []string // Job-run IDs whose workers must be told to stop

	RunState    domain.RunState
	RunFinished bool // The run reached a terminal state in this mutation
}

// New instantiates the aggregate for a freshly triggered run. Every job
// starts in PENDING; nothing is evaluated until Begin. retryCap is the
// server-wide ceiling on per-job retry counts.
func New(id string, def *domain.PipelineDefinition, g *graph.Graph, trigger domain.TriggerContext, retryCap int, now time.Time) *Run {
	gen := ids.New(ids.JobRunPrefix)

	jobs := make(map[string]*domain.JobRun, len(def.Jobs))
	for _, job := range def.Jobs {
		tags := make([]string, len(job.Tags))
		copy(tags, job.Tags)

		jobs[job.Name] = &domain.JobRun{
			ID:           gen.Next(),
			RunID:        id,
			Name:         job.Name,
			Stage:        job.Stage,
			State:        domain.JobPending,
			Tags:         tags,
			Attempt:      1,
			AllowFailure: job.AllowFailure,
			Timeout:      job.Timeout,
		}
	}

	return &Run{
		pr: &domain.PipelineRun{
			ID:        id,
			Pipeline:  def,
			Trigger:   trigger,
			State:     domain.RunCreated,
			CreatedAt: now,
			Jobs:      jobs,
		},
		graph:    g,
		retryCap: retryCap,
	}
}

// Begin moves the run from CREATED to RUNNING and performs the first
// eligibility sweep, activating the graph's roots.
func (r *Run) Begin(now time.Time) (Changes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pr.State != domain.RunCreated {
		return Changes{RunState: r.pr.State}, errors.WrapRunError(r.pr.ID, "begin", errors.ErrInvalidTransition)
	}

	r.pr.State = domain.RunRunning
	startedAt := now
	r.pr.StartedAt = &startedAt

	var ch Changes
	r.sweep(now, &ch)
	return ch, nil
}

// ID returns the run identifier
func (r *Run) ID() string {
	return r.pr.ID
}

// State returns the current rolled-up run state
func (r *Run) State() domain.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pr.State
}

// Definition returns the parsed pipeline definition. Definitions are
// immutable after parsing and safe to read without the run lock.
func (r *Run) Definition() *domain.PipelineDefinition {
	return r.pr.Pipeline
}

// Graph returns the resolved dependency graph. Immutable after build.
func (r *Run) Graph() *graph.Graph {
	return r.graph
}

// Snapshot returns a deep copy of the run for status queries. The copy is
// detached: callers can hold it without blocking the state machine.
func (r *Run) Snapshot() *domain.PipelineRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pr.DeepCopy()
}

// JobSnapshot returns a detached copy of one job's run record
func (r *Run) JobSnapshot(name string) (*domain.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr := r.pr.Job(name)
	if jr == nil {
		return nil, errors.NewJobNotFoundError(name)
	}
	return jr.DeepCopy(), nil
}
