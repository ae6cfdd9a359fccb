package analysis

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo stores runs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu        sync.RWMutex
	byID      map[string]Run
	bySession map[string]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:      make(map[string]Run),
		bySession: make(map[string]string),
	}
}

// CreateOrReset inserts a fresh run or resets the existing run for the same key.
func (r *MemoryRepo) CreateOrReset(ctx context.Context, run Run) (Run, bool, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existingID := ""
	if run.ReviewSessionID != "" {
		existingID = r.bySession[run.ReviewSessionID]
	} else if _, ok := r.byID[run.ID]; ok {
		existingID = run.ID
	}

	if existingID != "" {
		existing := r.byID[existingID]
		existing.Status = StatusPending
		existing.RawAnswers = run.RawAnswers
		existing.RawResponse = ""
		existing.Dashboard = nil
		existing.Error = nil
		existing.Generation++
		existing.UpdatedAt = time.Now().UTC()
		r.byID[existingID] = existing
		return existing, false, nil
	}

	run.Status = StatusPending
	run.Generation = 1
	run.UpdatedAt = run.CreatedAt
	r.byID[run.ID] = run
	if run.ReviewSessionID != "" {
		r.bySession[run.ReviewSessionID] = run.ID
	}
	return run, true, nil
}

// GetByID returns a run by its id.
func (r *MemoryRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// GetByCorrelationKey resolves a run by review session id first, then by run id.
func (r *MemoryRepo) GetByCorrelationKey(ctx context.Context, key string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.bySession[key]; ok {
		return r.byID[id], nil
	}
	run, ok := r.byID[key]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// SetRunning marks a run as running if its generation still matches.
func (r *MemoryRepo) SetRunning(ctx context.Context, runID string, generation int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok || run.Generation != generation {
		return ErrStaleGeneration
	}
	if run.Status != StatusPending && run.Status != StatusRunning {
		return ErrStaleGeneration
	}
	run.Status = StatusRunning
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// SaveResult stores the validated dashboard and flips the run to succeeded.
func (r *MemoryRepo) SaveResult(ctx context.Context, runID string, generation int64, rawResponse string, dashboard *Dashboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok || run.Generation != generation {
		return ErrStaleGeneration
	}
	run.Status = StatusSucceeded
	run.RawResponse = rawResponse
	run.Dashboard = dashboard
	run.Error = nil
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// SaveFailure records the failure message and flips the run to failed.
func (r *MemoryRepo) SaveFailure(ctx context.Context, runID string, generation int64, rawResponse, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok || run.Generation != generation {
		return ErrStaleGeneration
	}
	run.Status = StatusFailed
	run.RawResponse = rawResponse
	run.Dashboard = nil
	run.Error = &message
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
