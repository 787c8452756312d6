// Package api defines the JSON wire types of the orchestrator's HTTP
// API, shared by the server and the Go client.
package api

import "time"

// CreateRunRequest carries a flattened pipeline definition in YAML plus
// its trigger context
type CreateRunRequest struct {
	Definition string            `json:"definition"`
	Ref        string            `json:"ref,omitempty"`
	Source     string            `json:"source,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// RegisterWorkerRequest announces a new execution agent
type RegisterWorkerRequest struct {
	Name     string   `json:"name"`
	Tags     []string `json:"tags,omitempty"`
	Capacity int      `json:"capacity,omitempty"`
}

// PollRequest bounds one long-poll
type PollRequest struct {
	Max int `json:"max,omitempty"`
}

// ReportRequest is a worker's terminal outcome for one leased attempt
type ReportRequest struct {
	RunID          string             `json:"runId"`
	Job            string             `json:"job"`
	JobRunID       string             `json:"jobRunId"`
	LeaseID        string             `json:"leaseId"`
	IdempotencyKey string             `json:"idempotencyKey,omitempty"`
	Success        bool               `json:"success"`
	ExitCode       int                `json:"exitCode,omitempty"`
	FailureReason  string             `json:"failureReason,omitempty"`
	Artifacts      []ProducedArtifact `json:"artifacts,omitempty"`
}

// ProducedArtifact describes files a worker uploaded for one attempt
type ProducedArtifact struct {
	Paths    []string `json:"paths"`
	Size     int64    `json:"size,omitempty"`
	StoreKey string   `json:"storeKey"`
}

// Run is a pipeline run snapshot
type Run struct {
	ID         string     `json:"id"`
	Pipeline   string     `json:"pipeline"`
	State      string     `json:"state"`
	Ref        string     `json:"ref,omitempty"`
	Source     string     `json:"source,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Jobs       []JobRun   `json:"jobs"`
}

// JobRun is one job's current attempt within a run
type JobRun struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Stage         string     `json:"stage"`
	State         string     `json:"state"`
	Attempt       int        `json:"attempt"`
	WorkerID      string     `json:"workerId,omitempty"`
	AllowFailure  bool       `json:"allowFailure,omitempty"`
	ManualHold    bool       `json:"manualHold,omitempty"`
	DelayedUntil  *time.Time `json:"delayedUntil,omitempty"`
	QueuedAt      time.Time  `json:"queuedAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	ExitCode      int        `json:"exitCode,omitempty"`
	FailureKind   string     `json:"failureKind,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	SkipOrigin    string     `json:"skipOrigin,omitempty"`
	ArtifactIDs   []string   `json:"artifactIds,omitempty"`
}

// Worker is one registered execution agent
type Worker struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Tags          []string  `json:"tags,omitempty"`
	Capacity      int       `json:"capacity"`
	State         string    `json:"state"`
	RegisteredAt  time.Time `json:"registeredAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Running       []string  `json:"running,omitempty"`
}

// Artifact is one artifact reference. Byte storage is external;
// StoreKey locates it.
type Artifact struct {
	ID        string     `json:"id"`
	RunID     string     `json:"runId"`
	JobName   string     `json:"jobName"`
	Attempt   int        `json:"attempt"`
	Paths     []string   `json:"paths,omitempty"`
	Size      int64      `json:"size,omitempty"`
	StoreKey  string     `json:"storeKey,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ArtifactDecl tells a worker what to publish after the attempt and
// when. ExpireInSeconds -1 keeps artifacts forever, 0 applies the
// server default.
type ArtifactDecl struct {
	Paths           []string `json:"paths"`
	ExpireInSeconds int64    `json:"expireInSeconds,omitempty"`
	When            string   `json:"when,omitempty"`
}

// Assignment is one leased job attempt handed to a worker
type Assignment struct {
	JobRunID       string            `json:"jobRunId"`
	RunID          string            `json:"runId"`
	Job            string            `json:"job"`
	Attempt        int               `json:"attempt"`
	LeaseID        string            `json:"leaseId"`
	Script         []string          `json:"script,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	TimeoutSeconds int64             `json:"timeoutSeconds,omitempty"`
	Inputs         []Artifact        `json:"inputs,omitempty"`
	Collect        *ArtifactDecl     `json:"collect,omitempty"`
}

// PollResponse is the result of one long-poll
type PollResponse struct {
	Assignments []Assignment `json:"assignments"`
	Cancels     []string     `json:"cancels"`
}

// HeartbeatResponse acknowledges liveness and carries stop notices
type HeartbeatResponse struct {
	Cancels []string `json:"cancels"`
}

// ArchivedRun is a terminal run's archive record
type ArchivedRun struct {
	RunID          string     `json:"runId"`
	Pipeline       string     `json:"pipeline"`
	Ref            string     `json:"ref,omitempty"`
	Source         string     `json:"source,omitempty"`
	State          string     `json:"state"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     time.Time  `json:"finishedAt"`
	JobsTotal      int        `json:"jobsTotal"`
	JobsSucceeded  int        `json:"jobsSucceeded"`
	JobsFailed     int        `json:"jobsFailed"`
	JobsSkipped    int        `json:"jobsSkipped"`
	FailureSummary string     `json:"failureSummary,omitempty"`
}

// Event is one run lifecycle event on the watch stream
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"runId"`
	Job       string    `json:"job,omitempty"`
	State     string    `json:"state,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	WorkerID  string    `json:"workerId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports liveness and the build version
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Error is the body of every non-2xx reply
type Error struct {
	Error string `json:"error"`
}
