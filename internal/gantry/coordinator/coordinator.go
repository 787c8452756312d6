// Package coordinator owns the worker-facing half of dispatch: worker
// registration and liveness, the poll loop that hands queued jobs to
// matching workers under a lease, and the report path that feeds
// outcomes back into the run aggregates. A job run is leased to at most
// one worker at a time, and a worker is never handed more jobs than its
// declared capacity.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/gantry/artifact"
	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/events"
	"github.com/gantryci/gantry/internal/gantry/ids"
	"github.com/gantryci/gantry/internal/gantry/run"
	"github.com/gantryci/gantry/internal/gantry/scheduler"
	"github.com/gantryci/gantry/internal/gantry/store"
	"github.com/gantryci/gantry/pkg/config"
	"github.com/gantryci/gantry/pkg/errors"
	"github.com/gantryci/gantry/pkg/logger"
)

// Idempotency keys older than this are forgotten; worker retries arrive
// within seconds, not hours.
const seenKeyRetention = time.Hour

// Lease binds one dispatched job attempt to the worker executing it
type Lease struct {
	ID        string
	JobRunID  string
	RunID     string
	Job       string
	WorkerID  string
	Attempt   int
	ExpiresAt time.Time // Pushed forward by heartbeats
	Deadline  time.Time // Execution timeout for the attempt
}

// Assignment is everything a worker needs to execute one job attempt
type Assignment struct {
	JobRunID  string
	RunID     string
	Job       string
	Attempt   int
	LeaseID   string
	Script    []string
	Variables map[string]string
	Timeout   time.Duration
	Inputs    []*domain.Artifact  // Artifact references to fetch before running
	Collect   domain.ArtifactDecl // What to publish afterwards, and when
}

// PollResponse carries new assignments and stop notices for jobs the
// worker should abort
type PollResponse struct {
	Assignments []*Assignment
	Cancels     []string // Job run IDs
}

// Report is a worker's terminal outcome for one leased job attempt
type Report struct {
	WorkerID       string
	RunID          string
	Job            string
	JobRunID       string
	LeaseID        string
	IdempotencyKey string

	Success       bool
	ExitCode      int
	FailureReason string
	Artifacts     []artifact.ProducedArtifact
}

type cancelNotice struct {
	workerID string
	deadline time.Time // Zero when no force-finish applies
}

// Coordinator mediates between the dispatch queue and registered workers
type Coordinator struct {
	cfg        config.CoordinatorConfig
	jobTimeout time.Duration // Applied when a job declares none

	workers   store.WorkerStorer
	runs      store.RunStorer
	sched     *scheduler.Scheduler
	artifacts *artifact.Manager
	bus       events.EventBus
	logger    *logger.Logger

	mu        sync.Mutex
	leases    map[string]*Lease       // by job run ID
	cancels   map[string][]string     // worker ID -> undelivered stop notices
	canceling map[string]cancelNotice // job run ID -> confirmation tracking
	seenKeys  map[string]time.Time    // idempotency keys already applied

	workerIDs *ids.Generator
	leaseIDs  *ids.Generator

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a coordinator. defaultJobTimeout bounds jobs that declare
// no timeout of their own. Call Start to launch the monitor loop.
func New(cfg config.CoordinatorConfig, defaultJobTimeout time.Duration, workers store.WorkerStorer, runs store.RunStorer, sched *scheduler.Scheduler, artifacts *artifact.Manager, bus events.EventBus, log *logger.Logger) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		jobTimeout: defaultJobTimeout,
		workers:    workers,
		runs:       runs,
		sched:      sched,
		artifacts:  artifacts,
		bus:        bus,
		logger:     log.WithField("component", "coordinator"),
		leases:     make(map[string]*Lease),
		cancels:    make(map[string][]string),
		canceling:  make(map[string]cancelNotice),
		seenKeys:   make(map[string]time.Time),
		workerIDs:  ids.New(ids.WorkerPrefix),
		leaseIDs:   ids.New(ids.LeasePrefix),
		stop:       make(chan struct{}),
	}
}

// Register adds a worker to the registry and returns its record
func (c *Coordinator) Register(ctx context.Context, name string, tags []string, capacity int) (*domain.Worker, error) {
	now := time.Now()
	w := &domain.Worker{
		ID:            c.workerIDs.Next(),
		Name:          name,
		Tags:          append([]string(nil), tags...),
		Capacity:      capacity,
		State:         domain.WorkerOnline,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	c.workers.Register(w)

	c.logger.Info("worker registered", "workerId", w.ID, "name", name, "tags", tags, "capacity", capacity)
	c.publishWorker(ctx, events.WorkerRegistered, w)
	return w, nil
}

// Heartbeat refreshes the worker's liveness, extends its leases, and
// returns stop notices for jobs it should abort
func (c *Coordinator) Heartbeat(ctx context.Context, workerID string) ([]string, error) {
	if err := c.touch(workerID, time.Now()); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeCancelsLocked(workerID), nil
}

// Deregister removes a worker. A worker with leased jobs drains first:
// it takes no new work and is removed once its last job reports.
func (c *Coordinator) Deregister(ctx context.Context, workerID string) error {
	w, ok := c.workers.Get(workerID)
	if !ok {
		return errors.NewWorkerNotFoundError(workerID)
	}

	if len(w.Running) > 0 {
		err := c.workers.Update(workerID, func(w *domain.Worker) error {
			w.State = domain.WorkerDraining
			return nil
		})
		if err != nil {
			return err
		}
		c.logger.Info("worker draining", "workerId", workerID, "running", len(w.Running))
		c.publishWorker(ctx, events.WorkerDraining, w)
		return nil
	}

	c.workers.Remove(workerID)
	c.logger.Info("worker deregistered", "workerId", workerID)
	c.publishWorker(ctx, events.WorkerDeregistered, w)
	return nil
}

// Poll long-polls for work. It returns as soon as the worker has stop
// notices or at least one matching queued job fits its capacity, and
// otherwise waits for queue activity until the poll window or ctx ends.
func (c *Coordinator) Poll(ctx context.Context, workerID string, max int) (*PollResponse, error) {
	// Polling counts as liveness contact
	if err := c.touch(workerID, time.Now()); err != nil {
		return nil, err
	}

	limit := max
	if limit <= 0 || limit > c.cfg.MaxJobsPerPoll {
		limit = c.cfg.MaxJobsPerPoll
	}

	window := time.NewTimer(c.cfg.PollWait)
	defer window.Stop()

	for {
		c.mu.Lock()
		cancels := c.takeCancelsLocked(workerID)
		c.mu.Unlock()
		if len(cancels) > 0 {
			return &PollResponse{Cancels: cancels}, nil
		}

		w, ok := c.workers.Get(workerID)
		if !ok {
			return nil, errors.NewWorkerNotFoundError(workerID)
		}
		if !w.Accepting() {
			return &PollResponse{}, nil
		}

		if room := w.Capacity - len(w.Running); room > 0 {
			if room > limit {
				room = limit
			}
			items := c.sched.Queue().TakeMatch(w, room)
			if assignments := c.assign(ctx, workerID, items); len(assignments) > 0 {
				return &PollResponse{Assignments: assignments}, nil
			}
		}

		wake := c.sched.Queue().Wake()
		select {
		case <-ctx.Done():
			return &PollResponse{}, nil
		case <-window.C:
			return &PollResponse{}, nil
		case <-c.stop:
			return &PollResponse{}, nil
		case <-wake:
		}
	}
}

// assign converts taken queue items into leased assignments. Items that
// fail the capacity re-check go back on the queue; items whose job is no
// longer dispatchable are dropped.
func (c *Coordinator) assign(ctx context.Context, workerID string, items []*scheduler.Item) []*Assignment {
	now := time.Now()
	queue := c.sched.Queue()

	var assignments []*Assignment
	for i, item := range items {
		r, ok := c.runs.Get(item.RunID)
		if !ok {
			queue.Release(item.RunID)
			continue
		}
		def := r.Definition().Job(item.Job)
		if def == nil {
			queue.Release(item.RunID)
			continue
		}

		// Inputs can expire between enqueue and dispatch; this check is
		// the authoritative one
		inputs, err := c.artifacts.Resolve(r.Snapshot(), item.Job, now)
		if err != nil {
			queue.Release(item.RunID)
			c.logger.Warn("job failed at dispatch: inputs unresolvable",
				"runId", item.RunID, "job", item.Job, "error", err)
			if ch, ferr := r.FailJob(item.Job, domain.FailureMissingArtifact, err.Error(), now); ferr == nil {
				c.sched.Apply(ctx, r, ch)
				c.publishJob(ctx, events.JobFinished, r, item.Job)
			}
			continue
		}

		// Reserve a capacity slot under the store lock; concurrent polls
		// for the same worker contend here
		err = c.workers.Update(workerID, func(w *domain.Worker) error {
			if !w.Accepting() || !w.HasCapacity() {
				return errors.WrapWorkerError(workerID, "assign", errors.ErrWorkerOffline)
			}
			w.Running = append(w.Running, item.JobRunID)
			return nil
		})
		if err != nil {
			// Put back everything we cannot place
			for _, requeue := range items[i:] {
				queue.Enqueue(requeue)
				queue.Release(requeue.RunID)
			}
			break
		}

		if err := r.MarkDispatched(item.Job, workerID, now); err != nil {
			// Canceled or revived since it was queued
			c.releaseWorkerSlot(workerID, item.JobRunID)
			queue.Release(item.RunID)
			continue
		}

		lease := &Lease{
			ID:        c.leaseIDs.Next(),
			JobRunID:  item.JobRunID,
			RunID:     item.RunID,
			Job:       item.Job,
			WorkerID:  workerID,
			Attempt:   item.Attempt,
			ExpiresAt: now.Add(c.cfg.WorkerTimeout),
			Deadline:  now.Add(c.timeoutFor(def)),
		}
		c.mu.Lock()
		c.leases[item.JobRunID] = lease
		c.mu.Unlock()

		snap := r.Snapshot()
		assignments = append(assignments, &Assignment{
			JobRunID:  item.JobRunID,
			RunID:     item.RunID,
			Job:       item.Job,
			Attempt:   item.Attempt,
			LeaseID:   lease.ID,
			Script:    append([]string(nil), def.Script...),
			Variables: snap.VariablesFor(def),
			Timeout:   c.timeoutFor(def),
			Inputs:    inputs,
			Collect:   def.Artifacts,
		})

		c.logger.Info("job dispatched",
			"runId", item.RunID, "job", item.Job, "attempt", item.Attempt,
			"workerId", workerID, "leaseId", lease.ID)
		c.publishDispatch(ctx, r, item.Job, workerID)
	}
	return assignments
}

// HandleReport validates the lease and applies a worker's outcome. It is
// idempotent per IdempotencyKey: replays of an applied report are
// acknowledged without effect.
func (c *Coordinator) HandleReport(ctx context.Context, rep *Report) error {
	now := time.Now()

	c.mu.Lock()
	if rep.IdempotencyKey != "" {
		if _, applied := c.seenKeys[rep.IdempotencyKey]; applied {
			c.mu.Unlock()
			c.logger.Debug("replayed report acknowledged", "jobRunId", rep.JobRunID, "key", rep.IdempotencyKey)
			return nil
		}
	}

	lease, ok := c.leases[rep.JobRunID]
	if !ok || lease.ID != rep.LeaseID || lease.WorkerID != rep.WorkerID ||
		lease.RunID != rep.RunID || lease.Job != rep.Job {
		c.mu.Unlock()
		return c.rejectReport(rep)
	}

	// Claim: from here this report owns the attempt
	delete(c.leases, rep.JobRunID)
	delete(c.canceling, rep.JobRunID)
	c.dropCancelLocked(rep.WorkerID, rep.JobRunID)
	if rep.IdempotencyKey != "" {
		c.seenKeys[rep.IdempotencyKey] = now
	}
	c.mu.Unlock()

	c.releaseWorkerSlot(rep.WorkerID, rep.JobRunID)

	r, ok := c.runs.Get(rep.RunID)
	if !ok {
		c.sched.Queue().Release(rep.RunID)
		return nil
	}

	// Register artifacts before the transition so consumers becoming
	// eligible in the same sweep can resolve them
	c.registerArtifacts(r, rep, lease.Attempt, now)

	ch, err := r.ReportResult(rep.Job, run.Outcome{
		Success:       rep.Success,
		ExitCode:      rep.ExitCode,
		FailureReason: rep.FailureReason,
	}, now)
	c.sched.Queue().Release(rep.RunID)
	if err != nil {
		// The job was canceled while running; the report confirms the stop
		c.logger.Debug("report for non-running job dropped",
			"runId", rep.RunID, "job", rep.Job, "error", err)
		return nil
	}

	c.sched.Apply(ctx, r, ch)
	if !contains(ch.Retried, rep.Job) {
		c.publishJob(ctx, events.JobFinished, r, rep.Job)
	}
	return nil
}

// rejectReport classifies a report that matches no live lease: a
// terminal attempt means a duplicate, anything else a stale lease
func (c *Coordinator) rejectReport(rep *Report) error {
	if r, ok := c.runs.Get(rep.RunID); ok {
		if jr, err := r.JobSnapshot(rep.Job); err == nil && jr.IsTerminal() {
			return errors.WrapJobError(rep.Job, "report", errors.ErrDuplicateReport)
		}
	}
	return errors.WrapJobError(rep.Job, "report", errors.ErrStaleLease)
}

// registerArtifacts records the attempt's produced artifacts when the
// declaration's when-filter matches the outcome
func (c *Coordinator) registerArtifacts(r *run.Run, rep *Report, attempt int, now time.Time) {
	def := r.Definition().Job(rep.Job)
	if def == nil || !def.HasArtifacts() || len(rep.Artifacts) == 0 {
		return
	}
	if !artifact.ShouldPublish(def.Artifacts.When, rep.Success) {
		return
	}

	jr, err := r.JobSnapshot(rep.Job)
	if err != nil || jr.Attempt != attempt {
		return
	}

	records := c.artifacts.Register(rep.RunID, jr, def.Artifacts, rep.Artifacts, now)
	recordIDs := make([]string, 0, len(records))
	for _, rec := range records {
		recordIDs = append(recordIDs, rec.ID)
	}
	if err := r.AttachArtifacts(rep.Job, attempt, recordIDs); err != nil {
		c.logger.Debug("artifact references dropped", "runId", rep.RunID, "job", rep.Job, "error", err)
	}
}

// AbortJobs records stop notices for leased job runs. Workers receive
// them on their next poll or heartbeat; a worker that does not confirm
// within the cancel grace period has its lease force-finished.
func (c *Coordinator) AbortJobs(ctx context.Context, jobRunIDs []string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range jobRunIDs {
		lease, ok := c.leases[id]
		if !ok {
			continue
		}
		c.cancels[lease.WorkerID] = append(c.cancels[lease.WorkerID], id)
		c.canceling[id] = cancelNotice{
			workerID: lease.WorkerID,
			deadline: now.Add(c.cfg.CancelGrace),
		}
		c.logger.Info("stop notice recorded", "jobRunId", id, "workerId", lease.WorkerID)
	}
}

// Workers returns a detached snapshot of the registry
func (c *Coordinator) Workers() []*domain.Worker {
	return c.workers.List()
}

// touch refreshes the worker's liveness; contact from a worker marked
// offline brings it back online (its previous leases are already gone)
func (c *Coordinator) touch(workerID string, now time.Time) error {
	err := c.workers.Update(workerID, func(w *domain.Worker) error {
		w.LastHeartbeat = now
		if w.State == domain.WorkerOffline {
			w.State = domain.WorkerOnline
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, lease := range c.leases {
		if lease.WorkerID == workerID {
			lease.ExpiresAt = now.Add(c.cfg.WorkerTimeout)
		}
	}
	return nil
}

// releaseWorkerSlot removes the job run from the worker's running set
func (c *Coordinator) releaseWorkerSlot(workerID, jobRunID string) {
	err := c.workers.Update(workerID, func(w *domain.Worker) error {
		w.RemoveRunning(jobRunID)
		return nil
	})
	if err != nil && !errors.Is(err, errors.ErrWorkerNotFound) {
		c.logger.Warn("worker slot not released", "workerId", workerID, "jobRunId", jobRunID, "error", err)
	}
}

// takeCancelsLocked pops the undelivered stop notices for a worker
func (c *Coordinator) takeCancelsLocked(workerID string) []string {
	notices := c.cancels[workerID]
	if len(notices) == 0 {
		return nil
	}
	delete(c.cancels, workerID)
	return notices
}

// dropCancelLocked removes one job run from a worker's undelivered notices
func (c *Coordinator) dropCancelLocked(workerID, jobRunID string) {
	notices := c.cancels[workerID]
	for i, id := range notices {
		if id == jobRunID {
			c.cancels[workerID] = append(notices[:i], notices[i+1:]...)
			if len(c.cancels[workerID]) == 0 {
				delete(c.cancels, workerID)
			}
			return
		}
	}
}

func (c *Coordinator) timeoutFor(def *domain.JobDefinition) time.Duration {
	if def.Timeout > 0 {
		return def.Timeout
	}
	return c.jobTimeout
}

func (c *Coordinator) publishWorker(ctx context.Context, eventType events.EventType, w *domain.Worker) {
	event := events.Event{
		Type:     eventType,
		WorkerID: w.ID,
		Data: events.WorkerEventData{
			Name:     w.Name,
			Tags:     w.Tags,
			Capacity: w.Capacity,
			State:    w.State,
		},
		Timestamp: time.Now().Unix(),
	}
	if err := c.bus.Publish(ctx, event); err != nil {
		c.logger.Warn("event handlers reported errors", "event", string(eventType), "workerId", w.ID, "error", err)
	}
}

func (c *Coordinator) publishDispatch(ctx context.Context, r *run.Run, job, workerID string) {
	data := events.JobEventData{}
	if jr, err := r.JobSnapshot(job); err == nil {
		data.State = jr.State
		data.Attempt = jr.Attempt
	}
	event := events.Event{
		Type:      events.JobDispatched,
		RunID:     r.ID(),
		Job:       job,
		WorkerID:  workerID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.bus.Publish(ctx, event); err != nil {
		c.logger.Warn("event handlers reported errors", "event", "job.dispatched", "runId", r.ID(), "job", job, "error", err)
	}
}

func (c *Coordinator) publishJob(ctx context.Context, eventType events.EventType, r *run.Run, job string) {
	data := events.JobEventData{}
	if jr, err := r.JobSnapshot(job); err == nil {
		data.State = jr.State
		data.Attempt = jr.Attempt
		data.FailureKind = jr.FailureKind
		data.Reason = jr.FailureReason
	}
	event := events.Event{
		Type:      eventType,
		RunID:     r.ID(),
		Job:       job,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.bus.Publish(ctx, event); err != nil {
		c.logger.Warn("event handlers reported errors", "event", string(eventType), "runId", r.ID(), "job", job, "error", err)
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
