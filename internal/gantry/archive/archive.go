// Package archive keeps flattened records of finished pipeline runs so
// history survives restarts of the in-memory run store. Backends are
// selected by configuration: a map for development and a DynamoDB table
// for durable history.
package archive

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

import (
	"context"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/pkg/config"
	"github.com/gantryci/gantry/pkg/logger"
)

//counterfeiter:generate . Backend

// Backend is the storage interface for archived run records.
type Backend interface {
	// Put archives one terminal run record. Archiving the same run twice
	// returns ErrRecordExists.
	Put(ctx context.Context, rec *RunRecord) error

	// Get returns the archived record for a run ID.
	Get(ctx context.Context, runID string) (*RunRecord, error)

	// List returns archived records matching the filter.
	List(ctx context.Context, filter *Filter) ([]*RunRecord, error)

	// Export bulk-writes records, overwriting existing ones. Used to flush
	// terminal runs still in the active store at shutdown.
	Export(ctx context.Context, records []*RunRecord) error

	// Close releases backend resources.
	Close() error

	// HealthCheck verifies backend availability.
	HealthCheck(ctx context.Context) error
}

// RunRecord is the flattened terminal snapshot of a pipeline run.
type RunRecord struct {
	RunID    string
	Pipeline string
	Ref      string
	Source   string
	State    string // terminal run state

	CreatedAt  time.Time
	StartedAt  time.Time // zero when the run never left PENDING
	FinishedAt time.Time

	JobsTotal     int
	JobsSucceeded int
	JobsFailed    int
	JobsSkipped   int

	FailureSummary string // "job: failure kind" pairs for failed jobs
}

// Filter for listing archived records
type Filter struct {
	State    string // terminal state (SUCCESS, FAILED, CANCELED)
	Pipeline string
	Limit    int    // max number of results (0 = unlimited)
	SortBy   string // sort field (createdAt, finishedAt)
	SortDesc bool
}

// Summarize flattens a run snapshot into its archive record. Job outcomes
// are counted in definition order so the failure summary is stable.
func Summarize(r *domain.PipelineRun) *RunRecord {
	rec := &RunRecord{
		RunID:     r.ID,
		Pipeline:  r.Pipeline.Name,
		Ref:       r.Trigger.Ref,
		Source:    r.Trigger.Source,
		State:     string(r.State),
		CreatedAt: r.CreatedAt,
	}
	if r.StartedAt != nil {
		rec.StartedAt = *r.StartedAt
	}
	if r.FinishedAt != nil {
		rec.FinishedAt = *r.FinishedAt
	}

	var failures []string
	for i := range r.Pipeline.Jobs {
		jr := r.Jobs[r.Pipeline.Jobs[i].Name]
		if jr == nil {
			continue
		}
		rec.JobsTotal++
		switch jr.State {
		case domain.JobSuccess:
			rec.JobsSucceeded++
		case domain.JobFailed:
			rec.JobsFailed++
			failures = append(failures, jr.Name+": "+string(jr.FailureKind))
		case domain.JobSkipped:
			rec.JobsSkipped++
		}
	}
	rec.FailureSummary = strings.Join(failures, "; ")

	return rec
}

// Error types
var (
	ErrRecordNotFound = &StorageError{Code: "RECORD_NOT_FOUND", Message: "run record not found"}
	ErrRecordExists   = &StorageError{Code: "RECORD_EXISTS", Message: "run already archived"}
	ErrInvalidBackend = &StorageError{Code: "INVALID_BACKEND", Message: "invalid archive backend"}
)

// StorageError represents an archive operation error
type StorageError struct {
	Code    string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// New creates an archive backend based on configuration.
func New(cfg config.ArchiveConfig, log *logger.Logger) (Backend, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryBackend(), nil
	case "dynamodb":
		return NewDynamoDBBackend(cfg.DynamoDB, log)
	default:
		return nil, ErrInvalidBackend
	}
}
