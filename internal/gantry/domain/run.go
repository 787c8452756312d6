package domain

import (
	"time"
)

// JobState represents the current state of a job run
type JobState string

const (
	JobPending  JobState = "PENDING"  // Created, eligibility not yet evaluated
	JobBlocked  JobState = "BLOCKED"  // Waiting on unfinished predecessors
	JobEligible JobState = "ELIGIBLE" // Ready to dispatch (or held for manual/delay)
	JobRunning  JobState = "RUNNING"  // Leased to a worker
	JobSuccess  JobState = "SUCCESS"
	JobFailed   JobState = "FAILED"
	JobSkipped  JobState = "SKIPPED"
	JobCanceled JobState = "CANCELED"
)

// RunState represents the rolled-up state of a pipeline run
type RunState string

const (
	RunCreated  RunState = "CREATED"
	RunRunning  RunState = "RUNNING"
	RunSuccess  RunState = "SUCCESS"
	RunFailed   RunState = "FAILED"
	RunCanceled RunState = "CANCELED"
)

// FailureKind classifies why a job run failed
type FailureKind string

const (
	FailureScript          FailureKind = "script_failure"
	FailureWorkerLost      FailureKind = "worker_lost"
	FailureTimeout         FailureKind = "timeout"
	FailureMissingArtifact FailureKind = "missing_artifact"
	FailureCanceled        FailureKind = "canceled"
)

// IsInfrastructure returns true for failures caused by the platform rather
// than the job's own script
func (k FailureKind) IsInfrastructure() bool {
	return k == FailureWorkerLost || k == FailureTimeout
}

// SkipOrigin records why a job run was skipped. Rule skips satisfy
// dependents; dependency skips cascade to them.
type SkipOrigin string

const (
	SkipByRules      SkipOrigin = "rules"
	SkipByDependency SkipOrigin = "dependency"
)

// TriggerContext captures what started a pipeline run
type TriggerContext struct {
	Ref         string            // Branch, tag, or other source reference
	Source      string            // e.g. "api", "schedule", "manual"
	Variables   map[string]string // Trigger-time overrides (highest precedence)
	TriggeredAt time.Time
}

// JobRun is one execution attempt record for a job within a pipeline run
type JobRun struct {
	ID    string
	RunID string
	Name  string // Definition job name
	Stage string
	State JobState
	Tags  []string // Copied from the definition for dispatch matching

	WorkerID string // Worker holding the current/last lease
	Attempt  int    // 1-based

	AllowFailure bool          // Effective value after rule evaluation
	Timeout      time.Duration // Effective execution deadline (0 = server default)

	QueuedAt   time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	ExitCode      int
	FailureKind   FailureKind
	FailureReason string
	SkipOrigin    SkipOrigin

	ArtifactIDs []string

	DelayedUntil *time.Time // Set while parked by a delayed rule
	ManualHold   bool       // Eligible but waiting for an explicit play
}

// IsTerminal returns true once the job run can no longer change state
func (j *JobRun) IsTerminal() bool {
	switch j.State {
	case JobSuccess, JobFailed, JobSkipped, JobCanceled:
		return true
	}
	return false
}

// Satisfied returns true if the job run counts as a fulfilled predecessor:
// it succeeded, failed with allow_failure, or was skipped by its own rules.
// Dependency-cascade skips and cancellations do not satisfy.
func (j *JobRun) Satisfied() bool {
	switch j.State {
	case JobSuccess:
		return true
	case JobFailed:
		return j.AllowFailure
	case JobSkipped:
		return j.SkipOrigin == SkipByRules
	}
	return false
}

// IsRunning returns true if the job run is currently leased to a worker
func (j *JobRun) IsRunning() bool {
	return j.State == JobRunning
}

// Duration returns how long the job run executed
func (j *JobRun) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.FinishedAt == nil {
		if j.IsRunning() {
			return time.Since(*j.StartedAt)
		}
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// DeepCopy creates a deep copy of the job run
func (j *JobRun) DeepCopy() *JobRun {
	if j == nil {
		return nil
	}

	jobCopy := &JobRun{
		ID:            j.ID,
		RunID:         j.RunID,
		Name:          j.Name,
		Stage:         j.Stage,
		State:         j.State,
		Tags:          make([]string, len(j.Tags)),
		WorkerID:      j.WorkerID,
		Attempt:       j.Attempt,
		AllowFailure:  j.AllowFailure,
		Timeout:       j.Timeout,
		QueuedAt:      j.QueuedAt,
		ExitCode:      j.ExitCode,
		FailureKind:   j.FailureKind,
		FailureReason: j.FailureReason,
		SkipOrigin:    j.SkipOrigin,
		ArtifactIDs:   make([]string, len(j.ArtifactIDs)),
		ManualHold:    j.ManualHold,
	}

	copy(jobCopy.Tags, j.Tags)
	copy(jobCopy.ArtifactIDs, j.ArtifactIDs)

	if j.StartedAt != nil {
		startedAt := *j.StartedAt
		jobCopy.StartedAt = &startedAt
	}
	if j.FinishedAt != nil {
		finishedAt := *j.FinishedAt
		jobCopy.FinishedAt = &finishedAt
	}
	if j.DelayedUntil != nil {
		delayedUntil := *j.DelayedUntil
		jobCopy.DelayedUntil = &delayedUntil
	}

	return jobCopy
}

// PipelineRun is the live aggregate for one triggered pipeline
type PipelineRun struct {
	ID         string
	Pipeline   *PipelineDefinition // Immutable, shared with other snapshots
	Trigger    TriggerContext
	State      RunState
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Jobs       map[string]*JobRun // Keyed by definition job name
}

// Job returns the run record for the named job, or nil if absent
func (r *PipelineRun) Job(name string) *JobRun {
	return r.Jobs[name]
}

// IsTerminal returns true once the run can no longer change state
func (r *PipelineRun) IsTerminal() bool {
	switch r.State {
	case RunSuccess, RunFailed, RunCanceled:
		return true
	}
	return false
}

// Duration returns how long the run has been executing
func (r *PipelineRun) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.FinishedAt == nil {
		if r.IsTerminal() {
			return 0
		}
		return time.Since(*r.StartedAt)
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// VariablesFor merges the variable scopes visible to the named job:
// pipeline defaults, then job variables, then trigger overrides.
func (r *PipelineRun) VariablesFor(job *JobDefinition) map[string]string {
	merged := make(map[string]string)
	for k, v := range r.Pipeline.Variables {
		merged[k] = v
	}
	if job != nil {
		for k, v := range job.Variables {
			merged[k] = v
		}
	}
	for k, v := range r.Trigger.Variables {
		merged[k] = v
	}
	return merged
}

// DeepCopy creates a deep copy of the run. The pipeline definition is
// shared, not copied: it is immutable after parsing.
func (r *PipelineRun) DeepCopy() *PipelineRun {
	if r == nil {
		return nil
	}

	runCopy := &PipelineRun{
		ID:        r.ID,
		Pipeline:  r.Pipeline,
		Trigger:   r.Trigger,
		State:     r.State,
		CreatedAt: r.CreatedAt,
		Jobs:      make(map[string]*JobRun, len(r.Jobs)),
	}

	if r.Trigger.Variables != nil {
		vars := make(map[string]string, len(r.Trigger.Variables))
		for k, v := range r.Trigger.Variables {
			vars[k] = v
		}
		runCopy.Trigger.Variables = vars
	}

	for name, job := range r.Jobs {
		runCopy.Jobs[name] = job.DeepCopy()
	}

	if r.StartedAt != nil {
		startedAt := *r.StartedAt
		runCopy.StartedAt = &startedAt
	}
	if r.FinishedAt != nil {
		finishedAt := *r.FinishedAt
		runCopy.FinishedAt = &finishedAt
	}

	return runCopy
}
