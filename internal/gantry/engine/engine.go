// Package engine is the composition root of the orchestrator. It wires
// the run store, scheduler, coordinator, artifact manager, archive and
// watch stream together and exposes the operations the HTTP layer calls:
// run creation, cancellation, manual play, explicit retry, and the
// status-query surface.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/gantryci/gantry/internal/gantry/archive"
	"github.com/gantryci/gantry/internal/gantry/artifact"
	"github.com/gantryci/gantry/internal/gantry/coordinator"
	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/events"
	"github.com/gantryci/gantry/internal/gantry/graph"
	"github.com/gantryci/gantry/internal/gantry/ids"
	"github.com/gantryci/gantry/internal/gantry/pubsub"
	"github.com/gantryci/gantry/internal/gantry/run"
	"github.com/gantryci/gantry/internal/gantry/scheduler"
	"github.com/gantryci/gantry/internal/gantry/store"
	"github.com/gantryci/gantry/pkg/config"
	"github.com/gantryci/gantry/pkg/errors"
	"github.com/gantryci/gantry/pkg/logger"
)

// Engine owns the live orchestrator state and its background loops
type Engine struct {
	cfg    *config.Config
	logger *logger.Logger

	bus       events.EventBus
	runs      store.RunStorer
	workers   store.WorkerStorer
	artifacts *artifact.Manager
	sched     *scheduler.Scheduler
	coord     *coordinator.Coordinator
	arch      archive.Backend
	watch     pubsub.PubSub[WatchEvent]
	archiver  *archiveWriter

	runIDs *ids.Generator
}

// RunFilter narrows ListRuns results
type RunFilter struct {
	State string // Run state (CREATED, RUNNING, SUCCESS, FAILED, CANCELED)
	Limit int    // Max results (0 = unlimited)
}

// New builds a fully wired engine from configuration. The archive backend
// is the only component whose construction can fail. Call Start to launch
// the background loops.
func New(cfg *config.Config, log *logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.New()
	}

	arch, err := archive.New(cfg.Archive, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		logger:  log.WithField("component", "engine"),
		bus:     events.NewInMemoryEventBus(),
		runs:    store.NewRunStore(log),
		workers: store.NewWorkerStore(log),
		arch:    arch,
		watch:   pubsub.NewPubSub(pubsub.WithBufferSize[WatchEvent](cfg.Buffers.PubsubBufferSize)),
		runIDs:  ids.New(ids.RunPrefix),
	}

	e.artifacts = artifact.NewManager(cfg.Artifacts.DefaultExpiry, cfg.Artifacts.SweepInterval, e.artifactInUse, log)
	e.sched = scheduler.New(cfg.Scheduler, e.runs, e.artifacts, e.bus, log)
	e.coord = coordinator.New(cfg.Coordinator, cfg.Scheduler.DefaultJobTimeout,
		e.workers, e.runs, e.sched, e.artifacts, e.bus, log)

	e.archiver = newArchiveWriter(arch, e.runs, cfg.Buffers.SubscriberBufferSize, log)
	if err := e.bus.Subscribe(events.RunFinished, e.archiver); err != nil {
		return nil, err
	}

	bridge := &watchBridge{watch: e.watch, logger: log.WithField("component", "watch-bridge")}
	for _, eventType := range bridge.SupportedEvents() {
		if err := e.bus.Subscribe(eventType, bridge); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Start launches the background loops: the artifact sweeper, the
// delayed-job release loop and the worker monitor
func (e *Engine) Start() {
	e.artifacts.Start()
	e.sched.Start()
	e.coord.Start()
	e.logger.Info("engine started", "archive", e.cfg.Archive.Backend)
}

// Shutdown stops the background loops, drains the async archiver, flushes
// terminal runs still in the live store to the archive, and closes every
// backend. Idempotent.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.coord.Stop()
	e.sched.Stop()
	e.artifacts.Stop()
	e.archiver.Close()

	errs := make([]error, 0)
	if err := e.exportTerminal(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.watch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.arch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.runs.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.workers.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.JoinErrors(errs...)
	}

	e.logger.Info("engine stopped")
	return nil
}

// Health verifies the archive backend and the watch stream are usable
func (e *Engine) Health(ctx context.Context) error {
	if err := e.arch.HealthCheck(ctx); err != nil {
		return err
	}
	return e.watch.Health(ctx)
}

// Coordinator exposes the worker-facing API for the HTTP layer
func (e *Engine) Coordinator() *coordinator.Coordinator {
	return e.coord
}

// CreateRun ingests a parsed definition, builds its dependency graph and
// starts the run. Graph errors (cycles, dangling needs) abort creation
// before anything is stored.
func (e *Engine) CreateRun(ctx context.Context, def *domain.PipelineDefinition, trigger domain.TriggerContext) (*domain.PipelineRun, error) {
	g, err := graph.Build(def)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if trigger.TriggeredAt.IsZero() {
		trigger.TriggeredAt = now
	}

	r := run.New(e.runIDs.Next(), def, g, trigger, e.cfg.Scheduler.MaxRetryLimit, now)
	if err := e.runs.Add(r); err != nil {
		return nil, err
	}

	e.logger.Info("run created",
		"runId", r.ID(), "pipeline", def.Name, "jobs", len(def.Jobs),
		"ref", trigger.Ref, "source", trigger.Source)
	e.publishRun(ctx, events.RunCreated, r)

	ch, err := r.Begin(now)
	if err != nil {
		return nil, err
	}
	e.sched.Apply(ctx, r, ch)

	return r.Snapshot(), nil
}

// CancelRun stops a run: unstarted jobs finish as canceled immediately,
// running jobs get stop notices and the cancel-grace force-finish.
// Canceling an already finished run is a no-op reporting its state.
func (e *Engine) CancelRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	r, ok := e.runs.Get(runID)
	if !ok {
		return nil, errors.NewRunNotFoundError(runID)
	}

	ch := r.Cancel(time.Now())
	if len(ch.AbortWorkers) > 0 {
		e.coord.AbortJobs(ctx, ch.AbortWorkers)
	}
	e.sched.Apply(ctx, r, ch)

	return r.Snapshot(), nil
}

// PlayJob releases a job holding for a manual trigger
func (e *Engine) PlayJob(ctx context.Context, runID, jobName string) (*domain.JobRun, error) {
	r, ok := e.runs.Get(runID)
	if !ok {
		return nil, errors.NewRunNotFoundError(runID)
	}

	ch, err := r.Play(jobName, time.Now())
	if err != nil {
		return nil, err
	}

	e.logger.Info("manual job played", "runId", runID, "job", jobName)
	e.sched.Apply(ctx, r, ch)

	return r.JobSnapshot(jobName)
}

// RetryJob re-runs a terminally failed job. A finished run resumes while
// the new attempt is in flight; its archive record is rewritten when the
// run reaches its final state again.
func (e *Engine) RetryJob(ctx context.Context, runID, jobName string) (*domain.JobRun, error) {
	r, ok := e.runs.Get(runID)
	if !ok {
		return nil, errors.NewRunNotFoundError(runID)
	}

	ch, err := r.RetryJob(jobName, time.Now())
	if err != nil {
		return nil, err
	}

	e.logger.Info("job retried", "runId", runID, "job", jobName)
	e.sched.Apply(ctx, r, ch)

	return r.JobSnapshot(jobName)
}

// RunStatus returns a detached snapshot of a live run. Runs finished
// before the last restart resolve through ArchivedRun instead.
func (e *Engine) RunStatus(runID string) (*domain.PipelineRun, error) {
	r, ok := e.runs.Get(runID)
	if !ok {
		return nil, errors.NewRunNotFoundError(runID)
	}
	return r.Snapshot(), nil
}

// ArchivedRun fetches the flattened archive record of a finished run
func (e *Engine) ArchivedRun(ctx context.Context, runID string) (*archive.RunRecord, error) {
	return e.arch.Get(ctx, runID)
}

// ListRuns returns detached snapshots of live runs, newest first
func (e *Engine) ListRuns(filter RunFilter) []*domain.PipelineRun {
	result := make([]*domain.PipelineRun, 0)
	for _, r := range e.runs.List() {
		snap := r.Snapshot()
		if filter.State != "" && string(snap.State) != filter.State {
			continue
		}
		result = append(result, snap)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

// ListArchivedRuns queries the archive backend
func (e *Engine) ListArchivedRuns(ctx context.Context, filter *archive.Filter) ([]*archive.RunRecord, error) {
	return e.arch.List(ctx, filter)
}

// ListWorkers returns detached copies of the worker registry
func (e *Engine) ListWorkers() []*domain.Worker {
	return e.coord.Workers()
}

// JobArtifacts lists the artifact references the named job's current
// attempt produced
func (e *Engine) JobArtifacts(runID, jobName string) ([]*domain.Artifact, error) {
	r, ok := e.runs.Get(runID)
	if !ok {
		return nil, errors.NewRunNotFoundError(runID)
	}
	if _, err := r.JobSnapshot(jobName); err != nil {
		return nil, err
	}
	return e.artifacts.ListByProducer(runID, jobName), nil
}

// Watch subscribes to one run's live event stream. The returned channel
// closes when ctx ends; cancel releases the subscription early. Events
// published before the subscription are not replayed.
func (e *Engine) Watch(ctx context.Context, runID string) (<-chan pubsub.Message[WatchEvent], func(), error) {
	if _, ok := e.runs.Get(runID); !ok {
		return nil, nil, errors.NewRunNotFoundError(runID)
	}
	return e.watch.Subscribe(ctx, watchTopic(runID))
}

// artifactInUse pins artifacts whose run is still live: the sweeper keeps
// expired records until no pending consumer can need them
func (e *Engine) artifactInUse(a *domain.Artifact) bool {
	r, ok := e.runs.Get(a.RunID)
	if !ok {
		return false
	}
	switch r.State() {
	case domain.RunSuccess, domain.RunFailed, domain.RunCanceled:
		return false
	}
	return true
}

// exportTerminal flushes terminal runs still in the live store so history
// survives a restart even when the async archiver lagged behind
func (e *Engine) exportTerminal(ctx context.Context) error {
	records := make([]*archive.RunRecord, 0)
	for _, r := range e.runs.List() {
		snap := r.Snapshot()
		if snap.IsTerminal() {
			records = append(records, archive.Summarize(snap))
		}
	}
	if len(records) == 0 {
		return nil
	}

	e.logger.Info("exporting terminal runs", "count", len(records))
	return e.arch.Export(ctx, records)
}

func (e *Engine) publishRun(ctx context.Context, eventType events.EventType, r *run.Run) {
	event := events.Event{
		Type:      eventType,
		RunID:     r.ID(),
		Data:      events.RunEventData{Pipeline: r.Definition().Name, State: r.State()},
		Timestamp: time.Now().Unix(),
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		e.logger.Warn("event handlers reported errors",
			"event", string(eventType), "runId", r.ID(), "error", err)
	}
}
