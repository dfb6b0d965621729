// Package job provides the Job aggregate for stem separation requests, the
// registry that stores job records, and the orchestrator that drives a job
// from submission to a terminal state.
package job

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/stemsplit-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job was accepted and is waiting for its worker.
	StatusQueued Status = "QUEUED"
	// StatusRunning indicates the worker is separating or post-processing.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished and was settled.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job ended with an error.
	StatusFailed Status = "FAILED"
)

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	// KindEngineFailure means the engine process exited unsuccessfully.
	KindEngineFailure ErrorKind = "engine_failure"
	// KindMissingOutput means the engine succeeded but wrote no stems.
	KindMissingOutput ErrorKind = "missing_output"
	// KindSettlementFailed means the owner could not be charged.
	KindSettlementFailed ErrorKind = "settlement_failed"
	// KindAcquisitionFailed means a remote source could not be downloaded.
	KindAcquisitionFailed ErrorKind = "acquisition_failed"
	// KindInterrupted means the worker was cancelled by shutdown.
	KindInterrupted ErrorKind = "interrupted"
	// KindInternal covers post-processing and storage errors.
	KindInternal ErrorKind = "internal"
)

// failureMessages are the user-visible messages per kind. Diagnostic detail
// goes to the logs only.
var failureMessages = map[ErrorKind]string{
	KindEngineFailure:     "The separation engine failed to process this file.",
	KindMissingOutput:     "The separation engine produced no output.",
	KindSettlementFailed:  "The job finished but credits could not be settled.",
	KindAcquisitionFailed: "The remote media could not be downloaded.",
	KindInterrupted:       "The job was interrupted by a service shutdown.",
	KindInternal:          "An internal error occurred while processing the job.",
}

// Message returns the fixed user-visible message for the kind.
func (k ErrorKind) Message() string {
	if msg, ok := failureMessages[k]; ok {
		return msg
	}
	return failureMessages[KindInternal]
}

// Stage labels reported while a job runs.
const (
	StageQueued          = "queued"
	StageInitializing    = "initializing"
	StageDownloading     = "downloading"
	StageFormattingAudio = "formatting audio"
	StageSeparating      = "separating stems"
	StagePostProcessing  = "post-processing"
	StageSettling        = "settling"
	StageCompleted       = "completed"
	StageFailed          = "failed"
)

// Sentinel errors for job state handling.
var (
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the job's current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadySettled is returned when settlement was already claimed for a job.
	ErrAlreadySettled = errors.New("job settlement already claimed")
)

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Result is the outcome of a completed job.
type Result struct {
	// ProjectID identifies the output set; it is the input file's base name.
	ProjectID string
	// ProjectName is the caller-facing name (upload name or media title).
	ProjectName string
	// Stems maps stem names to their access locations.
	Stems map[string]string
	// ThumbnailURL is set for remote jobs whose source had a thumbnail.
	ThumbnailURL string
	// CreditsLeft is the owner's balance observed at settlement.
	CreditsLeft int
}

// Files are the local paths a job consumed or produced. They are recorded
// when the job reaches a terminal state.
type Files struct {
	Input     string
	Thumbnail string
	OutputDir string
}

// Failure describes why a job failed.
type Failure struct {
	Kind    ErrorKind
	Message string
}

// Job is one separation request. Records are owned by a Repository; callers
// only ever see copies.
type Job struct {
	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Stage is a human-readable label for the current step.
	Stage string
	// Progress is the percentage of completion (0-100). It never decreases.
	Progress int
	// Owner is the account the job is billed to.
	Owner string
	// DisplayName is the caller's label for the input.
	DisplayName string
	// Source is the local input path, or the remote locator for remote jobs.
	Source string
	// Remote reports that Source is a remote locator.
	Remote bool
	// Result is set only when Status is COMPLETED.
	Result *Result
	// Failure is set only when Status is FAILED.
	Failure *Failure
	// Files locates the job's local artifacts.
	Files Files

	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time

	settlementClaimed bool
}

// New creates a queued Job with a generated ID.
func New(owner, displayName, source string) *Job {
	return NewWithID(id.Generate(), owner, displayName, source)
}

// NewWithID creates a queued Job with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID, owner, displayName, source string) *Job {
	now := time.Now()
	return &Job{
		ID:          jobID,
		Status:      StatusQueued,
		Stage:       StageQueued,
		Owner:       owner,
		DisplayName: displayName,
		Source:      source,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// SettlementClaimed reports whether settlement was claimed for the job.
func (j *Job) SettlementClaimed() bool {
	return j.settlementClaimed
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		r.Stems = make(map[string]string, len(j.Result.Stems))
		for k, v := range j.Result.Stems {
			r.Stems[k] = v
		}
		c.Result = &r
	}
	if j.Failure != nil {
		f := *j.Failure
		c.Failure = &f
	}
	return &c
}

// transitionTo changes the status and stamps timestamps. Callers hold the
// registry lock.
func (j *Job) transitionTo(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	if status == StatusCompleted || status == StatusFailed {
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// clampProgress bounds p to 0..100.
func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// StemPaths returns the local files behind the published stems of a
// completed job, keyed by stem name.
func (j *Job) StemPaths() (map[string]string, error) {
	if j.Status != StatusCompleted || j.Result == nil {
		return nil, fmt.Errorf("job %s is %s: %w", j.ID, j.Status, ErrInvalidTransition)
	}
	stems, err := listStems(j.Files.OutputDir)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]string, len(j.Result.Stems))
	for _, p := range stems {
		file := filepath.Base(p)
		name := strings.TrimSuffix(file, filepath.Ext(file))
		if _, ok := j.Result.Stems[name]; ok {
			paths[name] = p
		}
	}
	return paths, nil
}
