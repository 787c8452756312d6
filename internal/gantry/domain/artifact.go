package domain

import (
	"time"
)

// Artifact is an immutable record of files published by one job run attempt.
// Byte storage is external; StoreKey references it.
type Artifact struct {
	ID        string
	RunID     string
	JobRunID  string
	JobName   string // Producing job's definition name
	Attempt   int
	Paths     []string
	Size      int64
	StoreKey  string
	CreatedAt time.Time
	ExpiresAt time.Time // Zero means the artifact never expires
}

// IsExpired returns true if the artifact's retention has lapsed at the given time
func (a *Artifact) IsExpired(now time.Time) bool {
	if a.ExpiresAt.IsZero() {
		return false
	}
	return now.After(a.ExpiresAt)
}

// DeepCopy creates a deep copy of the artifact
func (a *Artifact) DeepCopy() *Artifact {
	if a == nil {
		return nil
	}

	artifactCopy := &Artifact{
		ID:        a.ID,
		RunID:     a.RunID,
		JobRunID:  a.JobRunID,
		JobName:   a.JobName,
		Attempt:   a.Attempt,
		Paths:     make([]string, len(a.Paths)),
		Size:      a.Size,
		StoreKey:  a.StoreKey,
		CreatedAt: a.CreatedAt,
		ExpiresAt: a.ExpiresAt,
	}

	copy(artifactCopy.Paths, a.Paths)

	return artifactCopy
}
