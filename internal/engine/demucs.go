// Package engine adapts the demucs separation engine: it builds the canonical
// invocation, caps the engine's internal thread pools, maps raw progress into
// callbacks, and knows where the engine writes its stems.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maauso/stemsplit-api/internal/progress"
	"github.com/maauso/stemsplit-api/internal/supervisor"
)

// ErrInputRequired is returned when Separate is called without an input path.
var ErrInputRequired = errors.New("engine: input path is required")

// threadEnvVars are the knobs honoured by torch/numpy backends for their
// internal parallelism.
var threadEnvVars = []string{
	"OMP_NUM_THREADS",
	"MKL_NUM_THREADS",
	"OPENBLAS_NUM_THREADS",
	"NUMEXPR_NUM_THREADS",
}

// Config holds the fixed demucs invocation parameters.
type Config struct {
	// Executable is the interpreter or binary to launch. Defaults to "python3".
	Executable string
	// Module is passed as "-m <module>" when non-empty, e.g. "demucs.separate".
	Module string
	// Model is the demucs model name. Defaults to "htdemucs_6s".
	Model string
	// Shifts trades speed for quality. Defaults to 1.
	Shifts int
	// Overlap between prediction windows. Defaults to 0.25.
	Overlap float64
	// OutputRoot is the destination root passed as "-o".
	OutputRoot string
	// Threads caps the engine's internal parallelism. Defaults to 2.
	Threads int
}

// Runner executes a supervised command.
type Runner interface {
	Run(ctx context.Context, cmd supervisor.Command, onLine func(line string)) (supervisor.Outcome, error)
}

// Demucs runs the demucs separation engine through a Runner.
type Demucs struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// NewDemucs creates a Demucs adapter, filling unset Config fields with defaults.
func NewDemucs(cfg Config, runner Runner, logger *slog.Logger) *Demucs {
	if cfg.Executable == "" {
		cfg.Executable = "python3"
	}
	if cfg.Model == "" {
		cfg.Model = "htdemucs_6s"
	}
	if cfg.Shifts <= 0 {
		cfg.Shifts = 1
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = 0.25
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Demucs{cfg: cfg, runner: runner, logger: logger}
}

// Model returns the configured model name.
func (d *Demucs) Model() string {
	return d.cfg.Model
}

// OutputDir returns the directory demucs writes the stems of inputPath to:
// {outputRoot}/{model}/{input base name without extension}.
func (d *Demucs) OutputDir(inputPath string) string {
	return filepath.Join(d.cfg.OutputRoot, d.cfg.Model, InputStem(inputPath))
}

// Command builds the supervised invocation for inputPath.
func (d *Demucs) Command(inputPath string) supervisor.Command {
	var args []string
	if d.cfg.Module != "" {
		args = append(args, "-m", d.cfg.Module)
	}
	args = append(args,
		"-n", d.cfg.Model,
		"--shifts", strconv.Itoa(d.cfg.Shifts),
		"--overlap", strconv.FormatFloat(d.cfg.Overlap, 'f', -1, 64),
		"-o", d.cfg.OutputRoot,
		inputPath,
	)

	env := make([]string, 0, len(threadEnvVars))
	for _, name := range threadEnvVars {
		env = append(env, fmt.Sprintf("%s=%d", name, d.cfg.Threads))
	}

	return supervisor.Command{
		Path:   d.cfg.Executable,
		Args:   args,
		Env:    env,
		Stream: supervisor.Stderr,
	}
}

// Separate runs the engine on inputPath and reports each parsed stage
// percentage to onProgress. Failures are returned as produced by the Runner
// (*supervisor.EngineFailure for a non-zero exit).
func (d *Demucs) Separate(ctx context.Context, inputPath string, onProgress func(percent int)) error {
	if strings.TrimSpace(inputPath) == "" {
		return ErrInputRequired
	}

	cmd := d.Command(inputPath)
	d.logger.Info("starting separation engine",
		slog.String("input", inputPath),
		slog.String("model", d.cfg.Model),
		slog.Int("threads", d.cfg.Threads),
	)

	out, err := d.runner.Run(ctx, cmd, func(line string) {
		if p, ok := progress.Parse(line); ok && onProgress != nil {
			onProgress(p)
		}
	})
	if err != nil {
		return err
	}

	d.logger.Info("separation engine finished",
		slog.String("input", inputPath),
		slog.Bool("saw_output", out.SawOutput),
	)
	return nil
}

// InputStem returns the base name of path without its extension.
func InputStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
