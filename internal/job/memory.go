package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// errDuplicateID is returned by Put when the ID is already stored.
var errDuplicateID = errors.New("job id already exists")

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Records live for the lifetime of the process.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
	}
}

// Put stores a clone of job.
func (r *MemoryRepository) Put(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", errDuplicateID, job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// Get retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns all jobs in the repository.
// Returns clones to prevent external mutations.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job.Clone())
	}
	return result, nil
}

// Delete removes a terminal job.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !job.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	delete(r.jobs, id)
	return nil
}

// UpdateProgress sets the stage and raises the progress of a running job.
func (r *MemoryRepository) UpdateProgress(_ context.Context, id, stage string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusRunning {
		return ErrInvalidTransition
	}
	if p := clampProgress(progress); p > job.Progress {
		job.Progress = p
	}
	if stage != "" {
		job.Stage = stage
	}
	job.UpdatedAt = time.Now()
	return nil
}

// CompareAndSwapStatus atomically transitions a job and applies mutate.
func (r *MemoryRepository) CompareAndSwapStatus(_ context.Context, id string, from, to Status, mutate func(*Job)) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != from {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrInvalidTransition, id, job.Status, from)
	}

	next := job.Clone()
	if err := next.transitionTo(to); err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, from, to)
	}
	if mutate != nil {
		mutate(next)
	}
	// Identity, ownership and monotonic progress survive any mutation.
	next.ID, next.Owner, next.DisplayName = job.ID, job.Owner, job.DisplayName
	if next.Progress < job.Progress {
		next.Progress = job.Progress
	}
	next.Progress = clampProgress(next.Progress)

	r.jobs[id] = next
	return next.Clone(), nil
}

// ClaimSettlement marks the job as settled once.
func (r *MemoryRepository) ClaimSettlement(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusRunning {
		return ErrInvalidTransition
	}
	if job.settlementClaimed {
		return ErrAlreadySettled
	}
	job.settlementClaimed = true
	return nil
}
