package run

import (
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/pkg/errors"
)

// Outcome is a worker-reported result for one job attempt
type Outcome struct {
	Success       bool
	ExitCode      int
	FailureReason string
}

// MarkDispatched records the hand-off of an eligible job to a worker.
// Fails with InvalidTransition when the job is not dispatch-ready, which
// the scheduler treats as "drop the queue entry".
func (r *Run) MarkDispatched(name, workerID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr := r.pr.Job(name)
	if jr == nil {
		return errors.NewJobNotFoundError(name)
	}
	if jr.State != domain.JobEligible || jr.ManualHold || jr.DelayedUntil != nil {
		return errors.WrapJobError(name, "dispatch", errors.ErrInvalidTransition)
	}

	jr.State = domain.JobRunning
	jr.WorkerID = workerID
	startedAt := now
	jr.StartedAt = &startedAt
	return nil
}

// ReportResult records a worker's terminal outcome for a running job.
// A failure the retry policy covers resets the job for another attempt
// instead of cascading; the reset shows up in Changes.Retried.
func (r *Run) ReportResult(name string, oc Outcome, now time.Time) (Changes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr := r.pr.Job(name)
	if jr == nil {
		return Changes{RunState: r.pr.State}, errors.NewJobNotFoundError(name)
	}
	if jr.State != domain.JobRunning {
		return Changes{RunState: r.pr.State}, errors.WrapJobError(name, "report", errors.ErrInvalidTransition)
	}

	var ch Changes
	if oc.Success {
		jr.State = domain.JobSuccess
		jr.ExitCode = oc.ExitCode
		finishedAt := now
		jr.FinishedAt = &finishedAt
	} else {
		jr.ExitCode = oc.ExitCode
		r.failAttempt(jr, domain.FailureScript, oc.FailureReason, now, &ch)
	}

	r.sweep(now, &ch)
	return ch, nil
}

// AttachArtifacts records registered artifact IDs against the attempt that
// produced them. A stale attempt number means the job has already been
// reset; the references are dropped by returning InvalidTransition.
func (r *Run) AttachArtifacts(name string, attempt int, artifactIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr := r.pr.Job(name)
	if jr == nil {
		return errors.NewJobNotFoundError(name)
	}
	if jr.Attempt != attempt {
		return errors.WrapJobError(name, "attach artifacts", errors.ErrInvalidTransition)
	}

	jr.ArtifactIDs = append(jr.ArtifactIDs, artifactIDs...)
	return nil
}

// FailJob records a platform-originated failure: worker_lost and timeout
// against a running job, missing_artifact against an eligible one at the
// dispatch gate. Retry policy applies except for missing_artifact, which
// is never retried automatically.
func (r *Run) FailJob(name string, kind domain.FailureKind, reason string, now time.Time) (Changes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr := r.pr.Job(name)
	if jr == nil {
		return Changes{RunState: r.pr.State}, errors.NewJobNotFoundError(name)
	}
	if jr.State != domain.JobRunning && jr.State != domain.JobEligible {
		return Changes{RunState: r.pr.State}, errors.WrapJobError(name, "fail", errors.ErrInvalidTransition)
	}

	var ch Changes
	r.failAttempt(jr, kind, reason, now, &ch)
	r.sweep(now, &ch)
	return ch, nil
}

// failAttempt finishes one attempt as failed, or resets it when the retry
// policy still has attempts to spend
func (r *Run) failAttempt(jr *domain.JobRun, kind domain.FailureKind, reason string, now time.Time, ch *Changes) {
	if r.autoRetryAllowed(jr, kind) {
		r.resetAttempt(jr, now)
		ch.Retried = append(ch.Retried, jr.Name)
		ch.Ready = append(ch.Ready, jr.Name)
		return
	}

	jr.State = domain.JobFailed
	jr.FailureKind = kind
	jr.FailureReason = reason
	finishedAt := now
	jr.FinishedAt = &finishedAt
}

// autoRetryAllowed consults the job's retry policy for the failed attempt.
// Only script and infrastructure failures ever qualify: missing_artifact
// and canceled attempts stay final.
func (r *Run) autoRetryAllowed(jr *domain.JobRun, kind domain.FailureKind) bool {
	if kind != domain.FailureScript && !kind.IsInfrastructure() {
		return false
	}

	def := r.pr.Pipeline.Job(jr.Name)
	if def == nil || !def.Retry.Allows(kind) {
		return false
	}

	max := def.Retry.Max
	if max > r.retryCap {
		max = r.retryCap
	}
	return jr.Attempt-1 < max
}

// resetAttempt returns a job to the dispatch-ready eligible state for its
// next attempt, clearing everything the previous attempt recorded
func (r *Run) resetAttempt(jr *domain.JobRun, now time.Time) {
	jr.State = domain.JobEligible
	jr.Attempt++
	jr.WorkerID = ""
	jr.QueuedAt = now
	jr.StartedAt = nil
	jr.FinishedAt = nil
	jr.ExitCode = 0
	jr.FailureKind = ""
	jr.FailureReason = ""
	jr.SkipOrigin = ""
	jr.ArtifactIDs = nil
	jr.DelayedUntil = nil
	jr.ManualHold = false
}

// Play releases a manual job's hold. The job must already be eligible:
// playing a job whose predecessors have not finished is rejected.
func (r *Run) Play(name string, now time.Time) (Changes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pr.IsTerminal() {
		return Changes{RunState: r.pr.State}, errors.WrapRunError(r.pr.ID, "play", errors.ErrRunFinished)
	}

	jr := r.pr.Job(name)
	if jr == nil {
		return Changes{RunState: r.pr.State}, errors.NewJobNotFoundError(name)
	}
	if jr.State != domain.JobEligible || !jr.ManualHold {
		return Changes{RunState: r.pr.State}, errors.WrapJobError(name, "play", errors.ErrJobNotManual)
	}

	jr.ManualHold = false
	jr.QueuedAt = now

	ch := Changes{Ready: []string{name}, RunState: r.pr.State}
	return ch, nil
}

// ReleaseDelay clears a delayed job's park time once it elapses, making
// the job dispatch-ready. Called by the scheduler's delay loop.
func (r *Run) ReleaseDelay(name string, now time.Time) (Changes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr := r.pr.Job(name)
	if jr == nil {
		return Changes{RunState: r.pr.State}, errors.NewJobNotFoundError(name)
	}
	if jr.State != domain.JobEligible || jr.DelayedUntil == nil {
		return Changes{RunState: r.pr.State}, errors.WrapJobError(name, "release", errors.ErrInvalidTransition)
	}

	jr.DelayedUntil = nil
	jr.QueuedAt = now

	ch := Changes{Ready: []string{name}, RunState: r.pr.State}
	return ch, nil
}

// RetryJob is the explicit re-run of a terminally failed job. Unlike
// automatic retries it ignores the retry policy's count and kind filter,
// and it revives dependents that were skipped by the failure cascade so
// the downstream graph can complete on success.
func (r *Run) RetryJob(name string, now time.Time) (Changes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pr.State == domain.RunCanceled {
		return Changes{RunState: r.pr.State}, errors.WrapRunError(r.pr.ID, "retry", errors.ErrRunFinished)
	}

	jr := r.pr.Job(name)
	if jr == nil {
		return Changes{RunState: r.pr.State}, errors.NewJobNotFoundError(name)
	}
	if jr.State != domain.JobFailed {
		return Changes{RunState: r.pr.State}, errors.WrapJobError(name, "retry", errors.ErrJobNotRetryable)
	}

	r.resetAttempt(jr, now)

	// Cascade skips downstream of the failure get another chance
	for _, dep := range r.graph.TransitiveDependents(name) {
		djr := r.pr.Job(dep)
		if djr.State == domain.JobSkipped && djr.SkipOrigin == domain.SkipByDependency {
			djr.State = domain.JobPending
			djr.SkipOrigin = ""
			djr.FinishedAt = nil
		}
	}

	// A finished run resumes while the new attempt is in flight
	if r.pr.IsTerminal() {
		r.pr.State = domain.RunRunning
		r.pr.FinishedAt = nil
	}

	var ch Changes
	ch.Retried = append(ch.Retried, name)
	ch.Ready = append(ch.Ready, name)
	r.sweep(now, &ch)
	return ch, nil
}

// Cancel marks every non-terminal job canceled and finishes the run.
// Idempotent: cancelling a finished run reports its state unchanged.
// AbortWorkers lists the job runs whose workers still hold a lease.
func (r *Run) Cancel(now time.Time) Changes {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pr.IsTerminal() {
		return Changes{RunState: r.pr.State}
	}

	var ch Changes
	for _, jr := range r.pr.Jobs {
		if jr.IsTerminal() {
			continue
		}
		if jr.State == domain.JobRunning {
			jr.FailureKind = domain.FailureCanceled
			jr.FailureReason = "pipeline run canceled"
			ch.AbortWorkers = append(ch.AbortWorkers, jr.ID)
		}
		jr.State = domain.JobCanceled
		finishedAt := now
		jr.FinishedAt = &finishedAt
	}

	r.pr.State = domain.RunCanceled
	finishedAt := now
	r.pr.FinishedAt = &finishedAt

	ch.RunState = domain.RunCanceled
	ch.RunFinished = true
	return ch
}
