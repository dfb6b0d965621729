// Package bootstrap provides dependency initialization for the stem separation API.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/stemsplit-api/internal/acquire"
	"github.com/maauso/stemsplit-api/internal/audio"
	"github.com/maauso/stemsplit-api/internal/config"
	"github.com/maauso/stemsplit-api/internal/engine"
	"github.com/maauso/stemsplit-api/internal/events"
	"github.com/maauso/stemsplit-api/internal/job"
	"github.com/maauso/stemsplit-api/internal/ledger"
	"github.com/maauso/stemsplit-api/internal/storage"
	"github.com/maauso/stemsplit-api/internal/supervisor"
)

// Dependencies holds all initialized dependencies for the HTTP server and CLI.
type Dependencies struct {
	Orchestrator *job.Orchestrator
	Storage      storage.Storage
	Ledger       ledger.Ledger
	// StemsDir is the directory served under /stems/. It is empty when
	// stems are published to S3.
	StemsDir string

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize storage
	store, stemsDir, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Storage = store
	deps.StemsDir = stemsDir

	// Initialize credit ledger
	led, err := OpenLedger(cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Ledger = led
	if c, ok := led.(interface{ Close() error }); ok {
		deps.closers = append(deps.closers, c.Close)
	}

	// Initialize completion notifier
	notifier, err := initNotifier(cfg, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	if n, ok := notifier.(*events.NATSNotifier); ok {
		deps.closers = append(deps.closers, n.Close)
	}

	// Initialize engine adapter
	sup := supervisor.New(logger)
	separator := engine.NewDemucs(engine.Config{
		Executable: cfg.EnginePath,
		Module:     cfg.EngineModule,
		Model:      cfg.EngineModel,
		Shifts:     cfg.EngineShifts,
		Overlap:    cfg.EngineOverlap,
		OutputRoot: cfg.OutputDir,
		Threads:    cfg.EngineThreads,
	}, sup, logger)

	// Initialize stem classifier, optionally with ffmpeg cleaning
	var cleaner audio.Cleaner
	if cfg.CleaningEnabled {
		cleaner = audio.NewFFmpegCleaner(cfg.FFmpegPath)
	}
	classifier := audio.NewClassifier(audio.ClassifyOpts{
		Threshold:     cfg.SilenceThreshold,
		WindowSec:     cfg.SilenceWindowSec,
		ReferenceRate: audio.DefaultClassifyOpts().ReferenceRate,
	}, cleaner, logger)

	deps.Orchestrator = job.NewOrchestrator(job.Deps{
		Repo:       job.NewMemoryRepository(),
		Separator:  separator,
		Verifier:   engine.NewVerifier(cfg.VerifyRetryDelay),
		Classifier: classifier,
		Publisher:  store,
		Ledger:     led,
		Acquirer:   acquire.NewYtDlp(cfg.YtDlpPath, inputDir(store, cfg), sup, logger),
		Notifier:   notifier,
		Logger:     logger,
	})

	logger.Info("dependencies initialized",
		slog.String("engine_model", separator.Model()),
		slog.Bool("cleaning_enabled", cfg.CleaningEnabled),
		slog.Bool("events_enabled", cfg.EventsEnabled()),
	)

	return deps, nil
}

// Close releases the ledger database and the broker connection.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// OpenLedger opens the SQLite ledger when LEDGER_DSN is set and falls back to
// an in-memory ledger otherwise.
func OpenLedger(cfg *config.Config, logger *slog.Logger) (ledger.Ledger, error) {
	if cfg.LedgerDSN == "" {
		logger.Info("in-memory ledger configured",
			slog.Int("default_credits", cfg.DefaultCredits),
		)
		return ledger.NewMemoryLedger(cfg.DefaultCredits), nil
	}

	led, err := ledger.OpenSQLite(cfg.LedgerDSN, cfg.DefaultCredits)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	logger.Info("sqlite ledger configured",
		slog.Int("default_credits", cfg.DefaultCredits),
	)
	return led, nil
}

// initStorage creates the appropriate storage backend based on configuration.
// It also returns the directory to serve stems from, if any.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, string, error) {
	local := storage.LocalConfig{
		InputDir:      cfg.InputDir,
		OutputDir:     cfg.OutputDir,
		PublicBaseURL: cfg.PublicBaseURL,
	}

	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(local, s3Cfg)
		if err != nil {
			return nil, "", fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, "", nil
	}

	localStore, err := storage.NewLocalStorage(local)
	if err != nil {
		return nil, "", fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("input_dir", localStore.InputDir()),
		slog.String("output_dir", localStore.OutputDir()),
	)
	return localStore, localStore.OutputDir(), nil
}

// inputDir returns the directory the store keeps inputs in.
func inputDir(store storage.Storage, cfg *config.Config) string {
	if d, ok := store.(interface{ InputDir() string }); ok {
		return d.InputDir()
	}
	return cfg.InputDir
}

// initNotifier connects to NATS when configured.
func initNotifier(cfg *config.Config, logger *slog.Logger) (job.Notifier, error) {
	if !cfg.EventsEnabled() {
		return events.NoopNotifier{}, nil
	}
	n, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSSubject, logger)
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}
	logger.Info("completion events configured",
		slog.String("subject", cfg.NATSSubject),
	)
	return n, nil
}
