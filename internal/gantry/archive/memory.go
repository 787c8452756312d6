package archive

import (
	"context"
	"sort"
	"sync"
)

// memoryBackend is an in-memory implementation of Backend. Records are
// lost on restart, which is acceptable for development and tests.
type memoryBackend struct {
	mu      sync.RWMutex
	records map[string]*RunRecord
}

// NewMemoryBackend creates a new in-memory archive backend
func NewMemoryBackend() Backend {
	return &memoryBackend{
		records: make(map[string]*RunRecord),
	}
}

func (m *memoryBackend) Put(ctx context.Context, rec *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.RunID]; exists {
		return ErrRecordExists
	}

	// Store a copy to avoid external mutations
	cp := *rec
	m.records[rec.RunID] = &cp
	return nil
}

func (m *memoryBackend) Get(ctx context.Context, runID string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.records[runID]
	if !exists {
		return nil, ErrRecordNotFound
	}

	cp := *rec
	return &cp, nil
}

func (m *memoryBackend) List(ctx context.Context, filter *Filter) ([]*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*RunRecord
	for _, rec := range m.records {
		if matchesFilter(rec, filter) {
			cp := *rec
			result = append(result, &cp)
		}
	}

	if filter != nil && filter.SortBy != "" {
		sortRecords(result, filter.SortBy, filter.SortDesc)
	}

	if filter != nil && filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (m *memoryBackend) Export(ctx context.Context, records []*RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		cp := *rec
		m.records[rec.RunID] = &cp
	}

	return nil
}

func (m *memoryBackend) Close() error {
	return nil
}

func (m *memoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// Helper functions

func matchesFilter(rec *RunRecord, filter *Filter) bool {
	if filter == nil {
		return true
	}

	if filter.State != "" && rec.State != filter.State {
		return false
	}

	if filter.Pipeline != "" && rec.Pipeline != filter.Pipeline {
		return false
	}

	return true
}

func sortRecords(records []*RunRecord, sortBy string, descending bool) {
	sort.Slice(records, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "createdAt":
			less = records[i].CreatedAt.Before(records[j].CreatedAt)
		default:
			less = records[i].FinishedAt.Before(records[j].FinishedAt)
		}

		if descending {
			return !less
		}
		return less
	})
}
