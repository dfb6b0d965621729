package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository defines the interface for job persistence.
// It acts as a port in the hexagonal architecture pattern.
// Implementations must be safe for concurrent use and must never hand out
// references to stored records.
type Repository interface {
	// Put stores a new job. Returns an error if the ID is already taken.
	Put(ctx context.Context, job *Job) error

	// Get retrieves a copy of a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns copies of all jobs.
	List(ctx context.Context) ([]*Job, error)

	// UpdateProgress replaces the stage label and raises progress to
	// max(current, progress). Only RUNNING jobs accept updates; others
	// return ErrInvalidTransition.
	UpdateProgress(ctx context.Context, id, stage string, progress int) error

	// CompareAndSwapStatus moves the job from `from` to `to` if its status is
	// still `from`, applying mutate to the stored record under the same lock.
	// Returns ErrInvalidTransition otherwise, leaving the record unchanged.
	CompareAndSwapStatus(ctx context.Context, id string, from, to Status, mutate func(*Job)) (*Job, error)

	// Delete removes a job in a terminal state. Returns ErrJobNotFound if the
	// job does not exist and ErrInvalidTransition if it is still active.
	Delete(ctx context.Context, id string) error

	// ClaimSettlement marks a RUNNING job as settled. It succeeds at most once
	// per job; later calls return ErrAlreadySettled.
	ClaimSettlement(ctx context.Context, id string) error
}
