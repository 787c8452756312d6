// Package errors provides standardized error handling for the Gantry system.
// It implements structured error types with proper wrapping and classification
// following Go 1.20+ error handling best practices.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common error conditions
var (
	// Definition-related errors
	ErrMalformedDefinition = errors.New("malformed pipeline definition")
	ErrCyclicDependency    = errors.New("cyclic dependency")
	ErrUnreachableJob      = errors.New("unreachable job")

	// Run-related errors
	ErrRunNotFound       = errors.New("pipeline run not found")
	ErrRunFinished       = errors.New("pipeline run already finished")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotManual      = errors.New("job is not awaiting a manual trigger")
	ErrJobNotRetryable   = errors.New("job is not in a retryable state")
	ErrInvalidTransition = errors.New("invalid state transition")

	// Infrastructure failure kinds reported against job runs
	ErrWorkerLost      = errors.New("worker lost")
	ErrJobTimeout      = errors.New("job execution timeout")
	ErrMissingArtifact = errors.New("required artifact missing")

	// Worker-related errors
	ErrWorkerNotFound  = errors.New("worker not found")
	ErrWorkerOffline   = errors.New("worker is offline")
	ErrStaleLease      = errors.New("stale lease")
	ErrDuplicateReport = errors.New("result already reported")

	// Artifact-related errors
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrArtifactExpired  = errors.New("artifact expired")

	// System-related errors
	ErrTimeout       = errors.New("operation timed out")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DefinitionError represents an error in a pipeline definition
type DefinitionError struct {
	Pipeline string
	Job      string
	Err      error
}

func (e *DefinitionError) Error() string {
	if e.Job != "" {
		return fmt.Sprintf("definition %s: job %s: %v", e.Pipeline, e.Job, e.Err)
	}
	return fmt.Sprintf("definition %s: %v", e.Pipeline, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// GraphError represents an error found while resolving the dependency graph
type GraphError struct {
	Pipeline string
	Jobs     []string
	Err      error
}

func (e *GraphError) Error() string {
	if len(e.Jobs) > 0 {
		return fmt.Sprintf("graph %s: jobs %s: %v", e.Pipeline, strings.Join(e.Jobs, " -> "), e.Err)
	}
	return fmt.Sprintf("graph %s: %v", e.Pipeline, e.Err)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// RunError represents an error related to a specific pipeline run
type RunError struct {
	RunID     string
	Operation string
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: operation %s: %v", e.RunID, e.Operation, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// JobError represents an error related to a specific job run
type JobError struct {
	JobID     string
	Operation string
	Err       error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: operation %s: %v", e.JobID, e.Operation, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// WorkerError represents an error related to a worker
type WorkerError struct {
	WorkerID  string
	Operation string
	Err       error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s: operation %s: %v", e.WorkerID, e.Operation, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// ArtifactError represents an error related to artifact propagation.
// Producer is the name of the job whose artifacts were involved.
type ArtifactError struct {
	Producer  string
	Operation string
	Err       error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s: operation %s: %v", e.Producer, e.Operation, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// ConfigError represents an error related to configuration
type ConfigError struct {
	Component string
	Field     string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s.%s: %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Error wrapping constructors
func WrapDefinitionError(pipeline, job string, err error) error {
	if err == nil {
		return nil
	}
	return &DefinitionError{Pipeline: pipeline, Job: job, Err: err}
}

func WrapGraphError(pipeline string, jobs []string, err error) error {
	if err == nil {
		return nil
	}
	return &GraphError{Pipeline: pipeline, Jobs: jobs, Err: err}
}

func WrapRunError(runID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &RunError{RunID: runID, Operation: operation, Err: err}
}

func WrapJobError(jobID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &JobError{JobID: jobID, Operation: operation, Err: err}
}

func WrapWorkerError(workerID, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &WorkerError{WorkerID: workerID, Operation: operation, Err: err}
}

func WrapArtifactError(producer, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &ArtifactError{Producer: producer, Operation: operation, Err: err}
}

func WrapConfigError(component, field string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Component: component, Field: field, Err: err}
}

// Is reports whether any error in err's chain matches target.
// Re-exported so callers need only one errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target's type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Error classification functions
func IsDefinitionError(err error) bool {
	var de *DefinitionError
	return errors.As(err, &de)
}

func IsGraphError(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge)
}

func IsRunError(err error) bool {
	var re *RunError
	return errors.As(err, &re)
}

func IsJobError(err error) bool {
	var je *JobError
	return errors.As(err, &je)
}

func IsWorkerError(err error) bool {
	var we *WorkerError
	return errors.As(err, &we)
}

func IsArtifactError(err error) bool {
	var ae *ArtifactError
	return errors.As(err, &ae)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Specific error type checks
func IsDefinitionRejected(err error) bool {
	return errors.Is(err, ErrMalformedDefinition) ||
		errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrUnreachableJob)
}

func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrJobTimeout)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrWorkerNotFound) ||
		errors.Is(err, ErrArtifactNotFound)
}

func IsInfrastructureFailure(err error) bool {
	return errors.Is(err, ErrWorkerLost) || errors.Is(err, ErrJobTimeout)
}

// Error extraction helpers
func GetRunID(err error) (string, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re.RunID, true
	}
	return "", false
}

func GetJobID(err error) (string, bool) {
	var je *JobError
	if errors.As(err, &je) {
		return je.JobID, true
	}
	return "", false
}

func GetWorkerID(err error) (string, bool) {
	var we *WorkerError
	if errors.As(err, &we) {
		return we.WorkerID, true
	}
	return "", false
}

// Convenience functions for common error patterns
func NewRunNotFoundError(runID string) error {
	return WrapRunError(runID, "lookup", ErrRunNotFound)
}

func NewJobNotFoundError(jobID string) error {
	return WrapJobError(jobID, "lookup", ErrJobNotFound)
}

func NewWorkerNotFoundError(workerID string) error {
	return WrapWorkerError(workerID, "lookup", ErrWorkerNotFound)
}

func NewMissingArtifactError(producer string, err error) error {
	return WrapArtifactError(producer, "resolve", fmt.Errorf("%w: %v", ErrMissingArtifact, err))
}

func NewConfigError(component, field string, err error) error {
	return WrapConfigError(component, field, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
}

// Context-aware error handling
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// JoinErrors combines multiple errors into a single error
// Similar to errors.Join in Go 1.20+
func JoinErrors(errs ...error) error {
	var validErrs []error
	for _, err := range errs {
		if err != nil {
			validErrs = append(validErrs, err)
		}
	}

	if len(validErrs) == 0 {
		return nil
	}
	if len(validErrs) == 1 {
		return validErrs[0]
	}

	// Create a multi-error type
	return &multiError{errors: validErrs}
}

// multiError represents multiple errors
type multiError struct {
	errors []error
}

func (e *multiError) Error() string {
	if len(e.errors) == 0 {
		return ""
	}
	if len(e.errors) == 1 {
		return e.errors[0].Error()
	}

	msg := e.errors[0].Error()
	for _, err := range e.errors[1:] {
		msg += "; " + err.Error()
	}
	return msg
}

func (e *multiError) Unwrap() []error {
	return e.errors
}

// Is implements error comparison for multiError
func (e *multiError) Is(target error) bool {
	for _, err := range e.errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// As implements error conversion for multiError
func (e *multiError) As(target interface{}) bool {
	for _, err := range e.errors {
		if errors.As(err, target) {
			return true
		}
	}
	return false
}
