// Package scheduler moves jobs the run aggregates declare eligible onto
// the dispatch queue, parks delayed jobs until their start time, and
// publishes the job lifecycle events the rest of the system reacts to.
// The worker-facing side of dispatch lives in the coordinator; the
// scheduler only decides what is allowed to run next.
package scheduler

import (
	"context"
	"time"

	"github.com/gantryci/gantry/internal/gantry/artifact"
	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/events"
	"github.com/gantryci/gantry/internal/gantry/run"
	"github.com/gantryci/gantry/internal/gantry/store"
	"github.com/gantryci/gantry/pkg/config"
	"github.com/gantryci/gantry/pkg/logger"
)

// Scheduler feeds the dispatch and delay queues from run state changes
type Scheduler struct {
	queue     *DispatchQueue
	delay     *DelayQueue
	artifacts *artifact.Manager
	runs      store.RunStorer
	bus       events.EventBus
	logger    *logger.Logger
}

// New creates a scheduler wired to the run store, artifact manager and
// event bus. Call Start to launch the delay loop.
func New(cfg config.SchedulerConfig, runs store.RunStorer, artifacts *artifact.Manager, bus events.EventBus, log *logger.Logger) *Scheduler {
	s := &Scheduler{
		queue:     NewDispatchQueue(cfg.MaxConcurrentPerRun),
		artifacts: artifacts,
		runs:      runs,
		bus:       bus,
		logger:    log.WithField("component", "scheduler"),
	}
	s.delay = NewDelayQueue(s.releaseDelayed)
	return s
}

// Queue exposes the dispatch queue for the coordinator's poll loop
func (s *Scheduler) Queue() *DispatchQueue {
	return s.queue
}

// Start launches the delayed-job release loop
func (s *Scheduler) Start() {
	s.delay.Start()
}

// Stop terminates the delayed-job release loop
func (s *Scheduler) Stop() {
	s.delay.Stop()
}

// Apply routes one mutation's observable changes: ready jobs enter the
// dispatch queue (after the artifact gate), delayed jobs park, and every
// lifecycle event is published. Safe to call from any goroutine; the run
// aggregate serializes the underlying state.
func (s *Scheduler) Apply(ctx context.Context, r *run.Run, ch run.Changes) {
	now := time.Now()

	for _, name := range ch.Skipped {
		s.publishJob(ctx, events.JobSkipped, r, name)
	}
	for _, name := range ch.Retried {
		s.publishJob(ctx, events.JobRetried, r, name)
	}
	for _, name := range ch.Manual {
		s.publishJob(ctx, events.JobManual, r, name)
	}
	for _, d := range ch.Delayed {
		s.delay.Park(r.ID(), d.Name, d.Until)
		s.publishJob(ctx, events.JobDelayed, r, d.Name)
	}
	for _, name := range ch.Ready {
		s.enqueue(ctx, r, name, now)
	}

	if ch.RunFinished {
		s.finishRun(ctx, r, ch.RunState)
	}
}

// enqueue admits one dispatch-ready job to the queue. A job whose
// declared artifact inputs cannot be resolved fails here with
// missing_artifact instead of reaching a worker.
func (s *Scheduler) enqueue(ctx context.Context, r *run.Run, name string, now time.Time) {
	if _, err := s.artifacts.Resolve(r.Snapshot(), name, now); err != nil {
		s.logger.Warn("job failed at artifact gate", "runId", r.ID(), "job", name, "error", err)

		ch, ferr := r.FailJob(name, domain.FailureMissingArtifact, err.Error(), now)
		if ferr != nil {
			s.logger.Warn("artifact gate failure not recorded", "runId", r.ID(), "job", name, "error", ferr)
			return
		}
		s.publishJob(ctx, events.JobFinished, r, name)
		s.Apply(ctx, r, ch)
		return
	}

	jr, err := r.JobSnapshot(name)
	if err != nil {
		s.logger.Error("eligible job missing from run", "runId", r.ID(), "job", name, "error", err)
		return
	}

	s.queue.Enqueue(&Item{
		RunID:      r.ID(),
		JobRunID:   jr.ID,
		Job:        jr.Name,
		Attempt:    jr.Attempt,
		Tags:       jr.Tags,
		EnqueuedAt: now,
	})
	s.publishJob(ctx, events.JobEligible, r, name)
}

// finishRun clears both queues for the run and announces the terminal
// state. Archival happens in the run.finished subscriber.
func (s *Scheduler) finishRun(ctx context.Context, r *run.Run, state domain.RunState) {
	s.queue.PurgeRun(r.ID())
	s.delay.Drop(r.ID())

	s.logger.Info("run finished", "runId", r.ID(), "state", state)

	event := events.Event{
		Type:      events.RunFinished,
		RunID:     r.ID(),
		Data:      events.RunEventData{Pipeline: r.Definition().Name, State: state},
		Timestamp: time.Now().Unix(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("run.finished handlers reported errors", "runId", r.ID(), "error", err)
	}
}

// releaseDelayed is the delay loop's callback: the parked job becomes
// dispatch-ready unless the run finished or was canceled in the meantime
func (s *Scheduler) releaseDelayed(runID, job string) {
	r, ok := s.runs.Get(runID)
	if !ok {
		return
	}

	ch, err := r.ReleaseDelay(job, time.Now())
	if err != nil {
		s.logger.Debug("parked job no longer releasable", "runId", runID, "job", job, "error", err)
		return
	}
	s.Apply(context.Background(), r, ch)
}

func (s *Scheduler) publishJob(ctx context.Context, eventType events.EventType, r *run.Run, name string) {
	data := events.JobEventData{}
	if jr, err := r.JobSnapshot(name); err == nil {
		data.State = jr.State
		data.Attempt = jr.Attempt
		data.FailureKind = jr.FailureKind
		data.Reason = jr.FailureReason
		if jr.State == domain.JobSkipped {
			data.Reason = string(jr.SkipOrigin)
		}
	}

	event := events.Event{
		Type:      eventType,
		RunID:     r.ID(),
		Job:       name,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers reported errors", "event", string(eventType), "runId", r.ID(), "job", name, "error", err)
	}
}
