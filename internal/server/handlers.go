package server

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/stemsplit-api/internal/job"
	"github.com/maauso/stemsplit-api/internal/job/id"
	"github.com/maauso/stemsplit-api/internal/ledger"
)

// defaultMaxUploadBytes caps multipart uploads.
const defaultMaxUploadBytes int64 = 512 << 20

// JobService is the job lifecycle surface the handlers drive.
type JobService interface {
	Submit(ctx context.Context, in job.SubmitInput) (*job.Job, error)
	SubmitRemote(ctx context.Context, in job.RemoteInput) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, owner string) ([]*job.Job, error)
	Delete(ctx context.Context, id string) error
}

// InputStore persists uploaded media before it is handed to a job.
type InputStore interface {
	SaveInput(ctx context.Context, ext string, data io.Reader) (string, error)
	Cleanup(ctx context.Context, paths []string) error
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        JobService
	inputs         InputStore
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of uploaded media files.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service JobService, inputs InputStore, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		inputs:         inputs,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs multipart uploads. The media file is read
// from the "file" field.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	owner := accountFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "uploaded file is too large", "FILE_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to read upload",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	inputPath, err := h.inputs.SaveInput(r.Context(), filepath.Ext(header.Filename), file)
	if err != nil {
		h.logger.Error("failed to save upload",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
		return
	}

	created, err := h.service.Submit(r.Context(), job.SubmitInput{
		InputPath:   inputPath,
		DisplayName: filepath.Base(header.Filename),
		Owner:       owner,
	})
	if err != nil {
		if cleanupErr := h.inputs.Cleanup(context.WithoutCancel(r.Context()), []string{inputPath}); cleanupErr != nil {
			h.logger.Warn("failed to remove rejected upload",
				slog.String("path", inputPath),
				slog.String("error", cleanupErr.Error()),
			)
		}
		h.writeSubmitError(w, err)
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("owner", owner),
		slog.String("name", created.DisplayName),
		slog.Int64("size", header.Size),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// CreateRemoteJob handles POST /jobs/remote requests.
func (h *Handlers) CreateRemoteJob(w http.ResponseWriter, r *http.Request) {
	owner := accountFrom(r.Context())

	var req CreateRemoteJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, err := h.service.SubmitRemote(r.Context(), job.RemoteInput{URL: req.URL, Owner: owner})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	h.logger.Info("remote job created",
		slog.String("job_id", created.ID),
		slog.String("owner", owner),
		slog.String("url", req.URL),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	owner := accountFrom(r.Context())

	jobs, err := h.service.List(r.Context(), owner)
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	foundJob, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(foundJob))
}

// GetArchive handles GET /jobs/{id}/archive requests. The stems of a
// completed job are streamed as an uncompressed zip.
func (h *Handlers) GetArchive(w http.ResponseWriter, r *http.Request) {
	foundJob, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	if foundJob.Status != job.StatusCompleted {
		writeError(w, http.StatusConflict, "job has not completed", "JOB_NOT_COMPLETED")
		return
	}

	paths, err := foundJob.StemPaths()
	if err != nil {
		h.logger.Error("failed to locate stems",
			slog.String("job_id", foundJob.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusGone, "job artifacts are no longer available", "ARTIFACTS_GONE")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", foundJob.Result.ProjectID+".zip"))
	w.WriteHeader(http.StatusOK)
	if err := writeArchive(w, paths); err != nil {
		h.logger.Warn("archive stream aborted",
			slog.String("job_id", foundJob.ID),
			slog.String("error", err.Error()),
		)
	}
}

// DeleteJob handles DELETE /jobs/{id} requests. Only finished jobs can be
// deleted.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	foundJob, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), foundJob.ID); err != nil {
		switch {
		case errors.Is(err, job.ErrJobActive):
			writeError(w, http.StatusConflict, "job is still running", "JOB_ACTIVE")
		case errors.Is(err, job.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		default:
			h.logger.Error("failed to delete job",
				slog.String("job_id", foundJob.ID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ownedJob resolves the {id} path value to a job owned by the caller. It
// writes the error response and returns false otherwise. Jobs owned by
// another account are reported as not found.
func (h *Handlers) ownedJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return nil, false
	}
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "malformed job ID", "INVALID_JOB_ID")
		return nil, false
	}

	foundJob, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return nil, false
	}
	if foundJob.Owner != accountFrom(r.Context()) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return nil, false
	}
	return foundJob, true
}

// writeArchive streams the files in paths into a zip, one stored entry per
// stem, in name order.
func writeArchive(w io.Writer, paths map[string]string) error {
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(w)
	for _, name := range names {
		if err := addArchiveEntry(zw, paths[name]); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	return zw.Close()
}

func addArchiveEntry(zw *zip.Writer, path string) error {
	// #nosec G304 - path comes from the job record, not from the request
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Method = zip.Store

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}

// writeSubmitError maps submission errors to HTTP responses.
func (h *Handlers) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient credits", "INSUFFICIENT_CREDITS")
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeError(w, http.StatusForbidden, "account not found", "ACCOUNT_NOT_FOUND")
	case errors.Is(err, job.ErrRemoteUnsupported):
		writeError(w, http.StatusNotImplemented, "remote sources are not enabled", "REMOTE_UNSUPPORTED")
	case errors.Is(err, job.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down", "SHUTTING_DOWN")
	case errors.Is(err, job.ErrInputRequired), errors.Is(err, job.ErrOwnerRequired):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
