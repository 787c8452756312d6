package domain

import (
	"time"
)

// RunWhen controls when a job becomes eligible relative to its predecessors
type RunWhen string

const (
	WhenOnSuccess RunWhen = "on_success"
	WhenOnFailure RunWhen = "on_failure"
	WhenAlways    RunWhen = "always"
	WhenNever     RunWhen = "never"
	WhenManual    RunWhen = "manual"
	WhenDelayed   RunWhen = "delayed"
)

// ArtifactWhen controls which outcomes publish a job's artifacts
type ArtifactWhen string

const (
	ArtifactOnSuccess ArtifactWhen = "on_success"
	ArtifactOnFailure ArtifactWhen = "on_failure"
	ArtifactAlways    ArtifactWhen = "always"
)

// Rule is a single run-condition clause. Rules are evaluated in order and
// the first matching rule decides the job's when/allow_failure.
type Rule struct {
	If           string        // Variable expression; empty matches unconditionally
	When         RunWhen       // Outcome when the rule matches
	StartIn      time.Duration // Delay before eligibility (delayed only)
	AllowFailure *bool         // Optional allow_failure override
}

// RetryPolicy bounds automatic re-execution after failure
type RetryPolicy struct {
	Max  int           // Additional attempts beyond the first (0 = no retry)
	When []FailureKind // Failure kinds that qualify (empty = any kind)
}

// Allows returns true if the policy permits retrying the given failure kind
func (p RetryPolicy) Allows(kind FailureKind) bool {
	if len(p.When) == 0 {
		return true
	}
	for _, k := range p.When {
		if k == kind {
			return true
		}
	}
	return false
}

// NeverExpire marks artifacts exempt from retention sweeps
const NeverExpire = time.Duration(-1)

// ArtifactDecl declares the files a job publishes and their retention
type ArtifactDecl struct {
	Paths    []string      // Path patterns relative to the job workspace
	ExpireIn time.Duration // Retention period (0 = server default, NeverExpire = keep forever)
	When     ArtifactWhen  // Which outcomes publish (default on_success)
}

// JobDefinition is the static description of one job in a pipeline
type JobDefinition struct {
	Name         string
	Stage        string
	Script       []string          // Opaque command payload handed to workers
	Needs        []string          // Explicit predecessors; empty means stage-implied
	Tags         []string          // Capabilities a worker must advertise
	Variables    map[string]string // Job-level variables, merged over pipeline defaults
	Rules        []Rule            // First-match run conditions; empty means on_success
	Manual       bool              // Hold eligibility until explicitly played
	AllowFailure bool
	Timeout      time.Duration // 0 = server default
	Retry        RetryPolicy
	Artifacts    ArtifactDecl
	Dependencies []string // Artifact inputs; nil = all needs producers, empty = none
}

// HasNeeds returns true if the job declares explicit predecessors
func (j *JobDefinition) HasNeeds() bool {
	return len(j.Needs) > 0
}

// HasArtifacts returns true if the job publishes artifacts
func (j *JobDefinition) HasArtifacts() bool {
	return len(j.Artifacts.Paths) > 0
}

// ConstantlySkipped returns true if no rule can ever match with an outcome
// other than never, regardless of variables. Jobs in this state can never
// run, and depending on one is a graph error.
func (j *JobDefinition) ConstantlySkipped() bool {
	if len(j.Rules) == 0 {
		return false
	}
	for _, r := range j.Rules {
		if r.When != WhenNever {
			return false
		}
	}
	return true
}

// EffectiveWhen returns the job's run condition in the absence of rules
func (j *JobDefinition) EffectiveWhen() RunWhen {
	if j.Manual {
		return WhenManual
	}
	return WhenOnSuccess
}

// PipelineDefinition is a parsed, validated pipeline: ordered stages and
// the jobs that populate them. Definitions are immutable after parsing and
// safe to share across runs.
type PipelineDefinition struct {
	Name      string
	Stages    []string
	Jobs      []*JobDefinition
	Variables map[string]string // Pipeline-level variable defaults
}

// Job returns the named job definition, or nil if absent
func (p *PipelineDefinition) Job(name string) *JobDefinition {
	for _, j := range p.Jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

// StageIndex returns the position of the named stage, or -1 if absent
func (p *PipelineDefinition) StageIndex(name string) int {
	for i, s := range p.Stages {
		if s == name {
			return i
		}
	}
	return -1
}

// JobsInStage returns the jobs declared in the named stage, in definition order
func (p *PipelineDefinition) JobsInStage(stage string) []*JobDefinition {
	var jobs []*JobDefinition
	for _, j := range p.Jobs {
		if j.Stage == stage {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Predecessors returns the jobs that must finish before the given job can
// become eligible: its needs when declared, otherwise every job of the
// nearest preceding non-empty stage.
func (p *PipelineDefinition) Predecessors(job *JobDefinition) []string {
	if job.HasNeeds() {
		return append([]string(nil), job.Needs...)
	}
	for i := p.StageIndex(job.Stage) - 1; i >= 0; i-- {
		stageJobs := p.JobsInStage(p.Stages[i])
		if len(stageJobs) == 0 {
			continue
		}
		names := make([]string, 0, len(stageJobs))
		for _, j := range stageJobs {
			names = append(names, j.Name)
		}
		return names
	}
	return nil
}
