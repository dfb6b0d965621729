// Package events publishes job completion events to interested consumers.
package events

import (
	"context"
	"time"

	"github.com/maauso/stemsplit-api/internal/job"
)

// DefaultSubject is the subject terminal job events are published on.
const DefaultSubject = "jobs.complete"

// Event is the wire form of a terminal job.
type Event struct {
	JobID       string            `json:"job_id"`
	Owner       string            `json:"owner"`
	Status      string            `json:"status"`
	ProjectID   string            `json:"project_id,omitempty"`
	Stems       map[string]string `json:"stems,omitempty"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// NewEvent builds the event for a terminal job.
func NewEvent(j *job.Job) Event {
	e := Event{
		JobID:       j.ID,
		Owner:       j.Owner,
		Status:      string(j.Status),
		CompletedAt: j.CompletedAt,
	}
	if j.Result != nil {
		e.ProjectID = j.Result.ProjectID
		e.Stems = j.Result.Stems
	}
	if j.Failure != nil {
		e.ErrorKind = string(j.Failure.Kind)
	}
	return e
}

// NoopNotifier discards events. It is used when no broker is configured.
type NoopNotifier struct{}

// Notify implements job.Notifier.
func (NoopNotifier) Notify(context.Context, *job.Job) error { return nil }

// Compile-time checks.
var (
	_ job.Notifier = NoopNotifier{}
	_ job.Notifier = (*NATSNotifier)(nil)
)
