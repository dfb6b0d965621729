// Package server provides the HTTP server for the stem separation API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/stemsplit-api/internal/job"
)

// CreateRemoteJobRequest is the HTTP request body for separating a remote source.
type CreateRemoteJobRequest struct {
	// URL is the page or media locator handed to the acquirer.
	URL string `json:"url" validate:"required,url"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Stage       string         `json:"stage"`
	Progress    int            `json:"progress"`
	Name        string         `json:"name"`
	Remote      bool           `json:"remote,omitempty"`
	Result      *ResultPayload `json:"result,omitempty"`
	Error       *ErrorPayload  `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ResultPayload is the outcome of a completed job.
type ResultPayload struct {
	ProjectID    string            `json:"project_id"`
	ProjectName  string            `json:"project_name"`
	Stems        map[string]string `json:"stems"`
	ThumbnailURL string            `json:"thumbnail_url,omitempty"`
	CreditsLeft  int               `json:"credits_left"`
}

// ErrorPayload describes why a job failed.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// JobListResponse is the HTTP response for listing the caller's jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// newJobResponse maps a domain job to its HTTP representation.
func newJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Stage:     j.Stage,
		Progress:  j.Progress,
		Name:      j.DisplayName,
		Remote:    j.Remote,
		StartedAt: j.StartedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	if j.Result != nil {
		stems := j.Result.Stems
		if stems == nil {
			stems = map[string]string{}
		}
		resp.Result = &ResultPayload{
			ProjectID:    j.Result.ProjectID,
			ProjectName:  j.Result.ProjectName,
			Stems:        stems,
			ThumbnailURL: j.Result.ThumbnailURL,
			CreditsLeft:  j.Result.CreditsLeft,
		}
	}
	if j.Failure != nil {
		resp.Error = &ErrorPayload{
			Kind:    string(j.Failure.Kind),
			Message: j.Failure.Message,
		}
	}
	return resp
}
