package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory groups errors by the kind of problem they represent.
// The API layer maps categories onto HTTP status codes.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryScheduling    ErrorCategory = "scheduling"
	CategoryWorker        ErrorCategory = "worker"
	CategoryArtifact      ErrorCategory = "artifact"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryUnknown       ErrorCategory = "unknown"
)

// ErrorSeverity ranks how serious an error is, from routine to
// wake-somebody-up.
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityHigh     ErrorSeverity = "high"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityLow      ErrorSeverity = "low"
	SeverityInfo     ErrorSeverity = "info"
)

// ClassifiedError is a regular error with extra info attached: what kind of
// error it is, how serious, and whether retrying could help.
type ClassifiedError struct {
	Err       error
	Category  ErrorCategory
	Severity  ErrorSeverity
	Retryable bool
	UserMsg   string // What we actually tell the user (without scary technical details)
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// ClassifyError automatically classifies an error based on its type and content.
// Sentinel checks run before the typed-wrapper checks so that, for example, a
// RunError wrapping ErrRunNotFound still classifies as not_found.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	// Check for already classified errors
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case IsDefinitionRejected(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryValidation,
			Severity:  SeverityHigh,
			Retryable: false,
			UserMsg:   "Pipeline definition was rejected. Fix the definition and resubmit.",
		}

	case IsNotFoundError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryNotFound,
			Severity:  SeverityLow,
			Retryable: false,
			UserMsg:   "Requested resource not found.",
		}

	case errors.Is(err, ErrStaleLease) ||
		errors.Is(err, ErrDuplicateReport) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrRunFinished) ||
		errors.Is(err, ErrJobNotManual) ||
		errors.Is(err, ErrJobNotRetryable) ||
		errors.Is(err, ErrWorkerOffline):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryConflict,
			Severity:  SeverityLow,
			Retryable: false,
			UserMsg:   "Request conflicts with the current state.",
		}

	case IsTimeoutError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryTimeout,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "Operation timed out. Please try again.",
		}

	// Timeouts matched above, so this catches worker-lost failures
	case IsInfrastructureFailure(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryWorker,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "Worker infrastructure failure. The job is retried when its policy allows.",
		}

	case errors.Is(err, ErrMissingArtifact) || errors.Is(err, ErrArtifactExpired) || IsArtifactError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryArtifact,
			Severity:  SeverityMedium,
			Retryable: false,
			UserMsg:   "A required artifact could not be resolved.",
		}

	case IsConfigError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryConfiguration,
			Severity:  SeverityHigh,
			Retryable: false,
			UserMsg:   "Configuration error. Please check your configuration settings.",
		}

	case IsDefinitionError(err) || IsGraphError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryValidation,
			Severity:  SeverityHigh,
			Retryable: false,
			UserMsg:   "Pipeline definition was rejected. Fix the definition and resubmit.",
		}

	case IsWorkerError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryWorker,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "Worker operation failed. Please try again.",
		}

	case IsRunError(err) || IsJobError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryScheduling,
			Severity:  SeverityMedium,
			Retryable: false,
			UserMsg:   "Scheduling operation failed.",
		}

	case errors.Is(err, context.Canceled):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryTimeout,
			Severity:  SeverityLow,
			Retryable: false,
			UserMsg:   "Operation was canceled.",
		}

	case errors.Is(err, context.DeadlineExceeded):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryTimeout,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "Operation timed out. Please try again.",
		}

	default:
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryUnknown,
			Severity:  SeverityMedium,
			Retryable: false,
			UserMsg:   "An unexpected error occurred. Please contact support.",
		}
	}
}

// ShouldRetry determines if an operation should be retried based on the error
func ShouldRetry(err error) bool {
	classified := ClassifyError(err)
	if classified == nil {
		return false
	}
	return classified.Retryable
}

// GetSeverity reports how serious an error is. Unknown errors are assumed
// to be medium severity.
func GetSeverity(err error) ErrorSeverity {
	classified := ClassifyError(err)
	if classified == nil {
		return SeverityLow
	}
	return classified.Severity
}

// GetCategory reports what type of error we are dealing with. When in doubt
// it says "unknown" rather than guessing.
func GetCategory(err error) ErrorCategory {
	classified := ClassifyError(err)
	if classified == nil {
		return CategoryUnknown
	}
	return classified.Category
}

// GetUserMessage returns a message safe to show to API consumers.
func GetUserMessage(err error) string {
	classified := ClassifyError(err)
	if classified == nil {
		return "An error occurred."
	}
	return classified.UserMsg
}

// IsRetryable checks if the operation deserves another shot.
// Same as ShouldRetry, just a different name because some people prefer it.
func IsRetryable(err error) bool {
	return ShouldRetry(err)
}

// IsCritical checks if an error is critical severity
func IsCritical(err error) bool {
	return GetSeverity(err) == SeverityCritical
}

// NewCriticalError creates a critical error, the kind that means something
// is seriously broken and needs attention now.
func NewCriticalError(category ErrorCategory, err error, userMsg string) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Category:  category,
		Severity:  SeverityCritical,
		Retryable: false,
		UserMsg:   userMsg,
	}
}

// NewRetryableError creates an error that might clear up on a second attempt,
// typical for transient worker or network hiccups.
func NewRetryableError(category ErrorCategory, err error, userMsg string) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Category:  category,
		Severity:  SeverityMedium,
		Retryable: true,
		UserMsg:   userMsg,
	}
}

// NewUserError creates a new error with a user-friendly message
func NewUserError(err error, userMsg string) *ClassifiedError {
	classified := ClassifyError(err)
	if classified == nil {
		classified = &ClassifiedError{
			Err:      err,
			Category: CategoryUnknown,
			Severity: SeverityMedium,
		}
	}
	classified.UserMsg = userMsg
	return classified
}

// FormatErrorForLogging formats an error for structured logging
func FormatErrorForLogging(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	classified := ClassifyError(err)
	result := map[string]interface{}{
		"error":     err.Error(),
		"category":  string(classified.Category),
		"severity":  string(classified.Severity),
		"retryable": classified.Retryable,
	}

	// Add specific error type information
	if runID, ok := GetRunID(err); ok {
		result["run_id"] = runID
	}
	if jobID, ok := GetJobID(err); ok {
		result["job_id"] = jobID
	}
	if workerID, ok := GetWorkerID(err); ok {
		result["worker_id"] = workerID
	}

	return result
}

// LogError logs an error with appropriate context and classification
func LogError(logger interface{ Error(string, ...interface{}) }, err error, msg string) {
	if err == nil {
		return
	}

	logData := FormatErrorForLogging(err)
	args := make([]interface{}, 0, len(logData)*2)
	for k, v := range logData {
		args = append(args, k, v)
	}

	logger.Error(msg, args...)
}

// WrapWithUserMessage wraps an error with a user-friendly message while preserving the original error
func WrapWithUserMessage(err error, userMsg string) error {
	if err == nil {
		return nil
	}

	classified := NewUserError(err, userMsg)
	return fmt.Errorf("%s: %w", userMsg, classified)
}
