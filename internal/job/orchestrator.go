package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maauso/stemsplit-api/internal/acquire"
	"github.com/maauso/stemsplit-api/internal/audio"
	"github.com/maauso/stemsplit-api/internal/progress"
	"github.com/maauso/stemsplit-api/internal/supervisor"
)

// Progress windows for each stage of a job.
const (
	progressInitializing = 10
	progressDownloadEnd  = 35
	progressSeparateFrom = 20
	progressSeparateTo   = 80
	progressPostProcess  = 80
	progressSettling     = 95
	progressCompleted    = 100
)

// Static errors for job submission.
var (
	// ErrInsufficientBalance is returned when the owner cannot pay for a job.
	ErrInsufficientBalance = errors.New("insufficient credit balance")
	// ErrOwnerRequired is returned when a submission has no owning account.
	ErrOwnerRequired = errors.New("owner is required")
	// ErrInputRequired is returned when a submission has no input.
	ErrInputRequired = errors.New("input is required")
	// ErrRemoteUnsupported is returned when no acquirer is configured.
	ErrRemoteUnsupported = errors.New("remote sources are not supported")
	// ErrShuttingDown is returned for submissions after Shutdown was called.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
	// ErrJobActive is returned when deleting a job that has not finished.
	ErrJobActive = errors.New("job is still active")
	// ErrNoStems is returned when the engine output directory holds no stems.
	ErrNoStems = errors.New("engine produced no stems")
)

// Separator runs the separation engine on one input.
type Separator interface {
	Separate(ctx context.Context, inputPath string, onProgress func(percent int)) error
	// OutputDir returns where stems for inputPath are written.
	OutputDir(inputPath string) string
	// Model returns the engine model name.
	Model() string
}

// OutputVerifier confirms the engine's output directory exists.
type OutputVerifier interface {
	Verify(ctx context.Context, dir string) error
}

// StemClassifier decides whether a stem is silent.
type StemClassifier interface {
	Classify(ctx context.Context, stem audio.Stem) audio.Verdict
}

// Publisher makes a local artifact reachable and returns its access location.
type Publisher interface {
	Publish(ctx context.Context, key, localPath string) (string, error)
}

// Ledger holds account credit balances.
type Ledger interface {
	Balance(ctx context.Context, account string) (int, error)
	Decrement(ctx context.Context, account string) (int, error)
}

// Acquirer materializes a remote locator as a local input.
type Acquirer interface {
	Acquire(ctx context.Context, url string, onProgress func(percent int)) (acquire.Source, error)
}

// Notifier is told about every job that reaches a terminal state.
type Notifier interface {
	Notify(ctx context.Context, j *Job) error
}

// Deps holds the collaborators of an Orchestrator. Acquirer, Notifier and
// Logger are optional.
type Deps struct {
	Repo       Repository
	Separator  Separator
	Verifier   OutputVerifier
	Classifier StemClassifier
	Publisher  Publisher
	Ledger     Ledger
	Acquirer   Acquirer
	Notifier   Notifier
	Logger     *slog.Logger
}

// SubmitInput describes a job for a file already on local disk.
type SubmitInput struct {
	// InputPath is the media file to separate.
	InputPath string
	// DisplayName is the caller's label, typically the uploaded file name.
	DisplayName string
	// Owner is the account the job is billed to.
	Owner string
}

// RemoteInput describes a job whose media must first be acquired.
type RemoteInput struct {
	URL   string
	Owner string
}

// Orchestrator drives jobs from QUEUED to COMPLETED or FAILED. Each job runs
// on its own goroutine.
type Orchestrator struct {
	repo       Repository
	separator  Separator
	verifier   OutputVerifier
	classifier StemClassifier
	publisher  Publisher
	ledger     Ledger
	acquirer   Acquirer
	notifier   Notifier
	logger     *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator from deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		repo:       deps.Repo,
		separator:  deps.Separator,
		verifier:   deps.Verifier,
		classifier: deps.Classifier,
		publisher:  deps.Publisher,
		ledger:     deps.Ledger,
		acquirer:   deps.Acquirer,
		notifier:   notifier,
		logger:     logger,
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Submit accepts a local input, records a QUEUED job and starts its worker.
// It returns ErrInsufficientBalance, without creating a record, when the
// owner cannot pay for one job.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) (*Job, error) {
	if strings.TrimSpace(in.Owner) == "" {
		return nil, ErrOwnerRequired
	}
	if strings.TrimSpace(in.InputPath) == "" {
		return nil, ErrInputRequired
	}
	name := in.DisplayName
	if name == "" {
		name = filepath.Base(in.InputPath)
	}
	return o.enqueue(ctx, New(in.Owner, name, in.InputPath))
}

// SubmitRemote accepts a remote locator. The worker acquires it before
// separation.
func (o *Orchestrator) SubmitRemote(ctx context.Context, in RemoteInput) (*Job, error) {
	if o.acquirer == nil {
		return nil, ErrRemoteUnsupported
	}
	if strings.TrimSpace(in.Owner) == "" {
		return nil, ErrOwnerRequired
	}
	url := strings.TrimSpace(in.URL)
	if url == "" {
		return nil, ErrInputRequired
	}
	j := New(in.Owner, url, url)
	j.Remote = true
	return o.enqueue(ctx, j)
}

func (o *Orchestrator) enqueue(ctx context.Context, j *Job) (*Job, error) {
	balance, err := o.ledger.Balance(ctx, j.Owner)
	if err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	if balance < 1 {
		return nil, ErrInsufficientBalance
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if err := o.repo.Put(ctx, j); err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("store job: %w", err)
	}
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("job queued",
		slog.String("job_id", j.ID),
		slog.String("owner", j.Owner),
		slog.String("name", j.DisplayName),
		slog.Bool("remote", j.Remote),
	)

	snapshot := j.Clone()
	go func() {
		defer o.wg.Done()
		o.run(o.baseCtx, snapshot)
	}()
	return j.Clone(), nil
}

// Get retrieves a job by ID.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Job, error) {
	return o.repo.Get(ctx, id)
}

// List returns the owner's jobs, newest first. An empty owner lists all jobs.
func (o *Orchestrator) List(ctx context.Context, owner string) ([]*Job, error) {
	all, err := o.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(all))
	for _, j := range all {
		if owner == "" || j.Owner == owner {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].StartedAt.Equal(jobs[b].StartedAt) {
			return jobs[a].ID > jobs[b].ID
		}
		return jobs[a].StartedAt.After(jobs[b].StartedAt)
	})
	return jobs, nil
}

// Delete removes a finished job together with its input, thumbnail and
// output directory. Active jobs are refused with ErrJobActive. Published
// copies in remote storage are left in place.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	j, err := o.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !j.IsTerminal() {
		return ErrJobActive
	}

	if dir := j.Files.OutputDir; dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove output: %w", err)
		}
	}
	for _, p := range []string{j.Files.Input, j.Files.Thumbnail} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove input: %w", err)
		}
	}

	if err := o.repo.Delete(ctx, id); err != nil {
		return err
	}
	o.logger.Info("job deleted", slog.String("job_id", id), slog.String("owner", j.Owner))
	return nil
}

// Wait blocks until every started worker has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting jobs, cancels running workers (terminating their
// engine processes) and waits for them until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// run is the worker procedure for one job.
func (o *Orchestrator) run(ctx context.Context, j *Job) {
	log := o.logger.With(slog.String("job_id", j.ID))

	if _, err := o.repo.CompareAndSwapStatus(ctx, j.ID, StatusQueued, StatusRunning, func(r *Job) {
		r.Stage = StageInitializing
		r.Progress = progressInitializing
	}); err != nil {
		log.Error("failed to start job", slog.String("error", err.Error()))
		return
	}

	projectName := j.DisplayName
	var files Files
	if !j.Remote {
		files.Input = j.Source
	}

	if j.Remote {
		o.report(ctx, j.ID, StageDownloading, progressInitializing)
		src, err := o.acquirer.Acquire(ctx, j.Source, func(p int) {
			o.report(ctx, j.ID, StageDownloading, progress.Scale(p, progressInitializing, progressDownloadEnd))
		})
		if err != nil {
			o.fail(ctx, log, j.ID, files, KindAcquisitionFailed, err)
			return
		}
		o.report(ctx, j.ID, StageFormattingAudio, progressDownloadEnd)
		files.Input = src.Path
		files.Thumbnail = src.ThumbnailPath
		if src.Title != "" {
			projectName = src.Title
		}
	}

	outDir := o.separator.OutputDir(files.Input)
	files.OutputDir = outDir

	o.report(ctx, j.ID, StageSeparating, progressSeparateFrom)
	err := o.separator.Separate(ctx, files.Input, func(p int) {
		o.report(ctx, j.ID, StageSeparating, progress.Scale(p, progressSeparateFrom, progressSeparateTo))
	})
	if err != nil {
		o.removePartial(log, outDir)
		o.fail(ctx, log, j.ID, files, KindEngineFailure, err)
		return
	}

	if err := o.verifier.Verify(ctx, outDir); err != nil {
		o.fail(ctx, log, j.ID, files, KindMissingOutput, err)
		return
	}

	stems, err := listStems(outDir)
	if err == nil && len(stems) == 0 {
		err = fmt.Errorf("%w: %s", ErrNoStems, outDir)
	}
	if err != nil {
		o.fail(ctx, log, j.ID, files, KindMissingOutput, err)
		return
	}

	o.report(ctx, j.ID, StagePostProcessing, progressPostProcess)
	result, err := o.postProcess(ctx, log, outDir, stems, files.Thumbnail)
	if err != nil {
		o.fail(ctx, log, j.ID, files, KindInternal, err)
		return
	}
	result.ProjectName = projectName

	if ctx.Err() != nil {
		o.fail(ctx, log, j.ID, files, KindInterrupted, ctx.Err())
		return
	}

	o.report(ctx, j.ID, StageSettling, progressSettling)
	o.settle(ctx, log, j, files, result)
}

// postProcess classifies the stems found in outDir, deletes the silent ones
// and publishes the rest.
func (o *Orchestrator) postProcess(ctx context.Context, log *slog.Logger, outDir string, stems []string, thumbnail string) (*Result, error) {
	projectID := filepath.Base(outDir)
	result := &Result{
		ProjectID: projectID,
		Stems:     make(map[string]string, len(stems)),
	}

	for _, p := range stems {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file := filepath.Base(p)
		name := strings.TrimSuffix(file, filepath.Ext(file))

		verdict := o.classifier.Classify(ctx, audio.Stem{Name: name, Path: p})
		if verdict.Silent {
			log.Info("removing silent stem", slog.String("stem", name))
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				log.Warn("failed to remove silent stem",
					slog.String("stem", name),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		url, err := o.publisher.Publish(ctx, o.artifactKey(projectID, file), p)
		if err != nil {
			return nil, fmt.Errorf("publish stem %s: %w", name, err)
		}
		result.Stems[name] = url
	}

	if thumbnail != "" {
		url, err := o.publisher.Publish(ctx, o.artifactKey(projectID, "thumbnail"+filepath.Ext(thumbnail)), thumbnail)
		if err != nil {
			log.Warn("failed to publish thumbnail", slog.String("error", err.Error()))
		} else {
			result.ThumbnailURL = url
		}
	}

	return result, nil
}

// settle charges the owner once and completes the job.
func (o *Orchestrator) settle(ctx context.Context, log *slog.Logger, j *Job, files Files, result *Result) {
	// Once claimed, settlement runs to completion regardless of shutdown.
	sctx := context.WithoutCancel(ctx)

	if err := o.repo.ClaimSettlement(sctx, j.ID); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			log.Warn("settlement already claimed, skipping")
			return
		}
		o.fail(sctx, log, j.ID, files, KindSettlementFailed, err)
		return
	}

	left, err := o.ledger.Decrement(sctx, j.Owner)
	if err != nil {
		o.fail(sctx, log, j.ID, files, KindSettlementFailed, err)
		return
	}
	result.CreditsLeft = left

	done, err := o.repo.CompareAndSwapStatus(sctx, j.ID, StatusRunning, StatusCompleted, func(r *Job) {
		r.Stage = StageCompleted
		r.Progress = progressCompleted
		r.Result = result
		r.Files = files
	})
	if err != nil {
		log.Error("failed to complete job", slog.String("error", err.Error()))
		return
	}

	log.Info("job completed",
		slog.Int("stems", len(result.Stems)),
		slog.Int("credits_left", left),
		slog.Duration("duration", done.CompletedAt.Sub(done.StartedAt)),
	)
	o.notify(sctx, log, done)
}

// fail moves a running job to FAILED. Cancellation of the worker context
// turns any kind except settlement into KindInterrupted.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, jobID string, files Files, kind ErrorKind, cause error) {
	if ctx.Err() != nil && kind != KindSettlementFailed {
		kind = KindInterrupted
	}

	attrs := []any{
		slog.String("kind", string(kind)),
		slog.String("error", cause.Error()),
	}
	var failure *supervisor.EngineFailure
	if errors.As(cause, &failure) {
		attrs = append(attrs,
			slog.Int("exit_code", failure.ExitCode),
			slog.String("excerpt", failure.Excerpt),
		)
	}
	log.Error("job failed", attrs...)

	done, err := o.repo.CompareAndSwapStatus(context.WithoutCancel(ctx), jobID, StatusRunning, StatusFailed, func(r *Job) {
		r.Stage = StageFailed
		r.Failure = &Failure{Kind: kind, Message: kind.Message()}
		r.Files = files
	})
	if err != nil {
		log.Warn("failure not recorded", slog.String("error", err.Error()))
		return
	}
	o.notify(context.WithoutCancel(ctx), log, done)
}

// report applies a progress update; rejected updates are only logged.
func (o *Orchestrator) report(ctx context.Context, jobID, stage string, p int) {
	if err := o.repo.UpdateProgress(ctx, jobID, stage, p); err != nil {
		o.logger.Debug("progress update rejected",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) notify(ctx context.Context, log *slog.Logger, j *Job) {
	nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := o.notifier.Notify(nctx, j); err != nil {
		log.Warn("completion notification failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) removePartial(log *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to remove partial output",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}

// artifactKey is the publish key {model}/{projectID}/{file}.
func (o *Orchestrator) artifactKey(projectID, file string) string {
	return path.Join(o.separator.Model(), projectID, file)
}

// listStems returns the WAV files in dir sorted by name.
func listStems(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list stems: %w", err)
	}

	var stems []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			stems = append(stems, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(stems)
	return stems, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, *Job) error { return nil }
