// Package supervisor runs one external process at a time on behalf of a job,
// streaming its progress output line by line while it runs and guaranteeing
// the process has exited before Run returns.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

const (
	// maxLineBytes bounds a single framed line; longer runs are split.
	maxLineBytes = 64 * 1024
	// excerptBytes is how much trailing output is kept for operator logs.
	excerptBytes = 2 * 1024
	// waitDelay bounds how long Wait blocks on I/O after the process is killed.
	waitDelay = 5 * time.Second
)

// Stream selects which process output stream is framed into lines.
type Stream int

const (
	// Stderr frames the diagnostic stream. This is the default.
	Stderr Stream = iota
	// Stdout frames standard output.
	Stdout
)

// Command describes one external process invocation.
type Command struct {
	// Path is the executable to run.
	Path string
	// Args are the arguments, excluding the executable itself.
	Args []string
	// Env entries are appended to the host environment; later entries win.
	Env []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Stream selects the output stream delivered to the line callback.
	// The other stream is discarded.
	Stream Stream
}

// Outcome describes how a process ended.
type Outcome struct {
	// ExitCode is the process exit status, or -1 if it never started or was killed.
	ExitCode int
	// SawOutput reports whether at least one line was read.
	SawOutput bool
	// Excerpt holds the trailing part of the framed output.
	Excerpt string
}

// EngineFailure is returned when the process exits with a non-zero status
// or cannot be started at all.
type EngineFailure struct {
	ExitCode int
	Excerpt  string
	Err      error
}

func (e *EngineFailure) Error() string {
	return fmt.Sprintf("engine exited with code %d", e.ExitCode)
}

func (e *EngineFailure) Unwrap() error {
	return e.Err
}

// Supervisor launches and supervises external processes.
type Supervisor struct {
	logger *slog.Logger
}

// New creates a Supervisor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{logger: logger}
}

// Run starts cmd and blocks until it exits. onLine is called synchronously
// for every non-empty line read from the selected stream, as it is produced.
//
// A non-zero exit returns *EngineFailure. If ctx is cancelled the process
// group is killed and the returned error wraps ctx.Err().
func (s *Supervisor) Run(ctx context.Context, cmd Command, onLine func(line string)) (Outcome, error) {
	// #nosec G204 - executable and arguments come from server configuration
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.WaitDelay = waitDelay
	configureProcessGroup(c)

	// The unselected stream is not framed but its tail still feeds the
	// excerpt, so diagnostics on stderr survive when progress is on stdout.
	side := newTailBuffer(excerptBytes)
	var (
		pipe io.ReadCloser
		err  error
	)
	if cmd.Stream == Stdout {
		c.Stderr = side
		pipe, err = c.StdoutPipe()
	} else {
		c.Stdout = side
		pipe, err = c.StderrPipe()
	}
	if err != nil {
		return Outcome{ExitCode: -1}, fmt.Errorf("attach output pipe: %w", err)
	}

	if err := c.Start(); err != nil {
		return Outcome{ExitCode: -1}, &EngineFailure{ExitCode: -1, Excerpt: err.Error(), Err: err}
	}

	s.logger.Debug("process started",
		slog.String("path", cmd.Path),
		slog.Int("pid", c.Process.Pid),
	)

	tail := newTailBuffer(excerptBytes)
	out := Outcome{}

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		out.SawOutput = true
		tail.WriteLine(line)
		if onLine != nil {
			onLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("output stream read failed",
			slog.String("path", cmd.Path),
			slog.String("error", err.Error()),
		)
		// Keep draining so the process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, pipe)
	}

	waitErr := c.Wait()
	if cmd.Stream == Stdout {
		out.Excerpt = mergeExcerpts(excerptBytes, tail, side)
	} else {
		out.Excerpt = mergeExcerpts(excerptBytes, side, tail)
	}
	out.ExitCode = -1
	if c.ProcessState != nil {
		out.ExitCode = c.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		return out, fmt.Errorf("process interrupted: %w", ctx.Err())
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return out, &EngineFailure{ExitCode: out.ExitCode, Excerpt: out.Excerpt, Err: waitErr}
		}
		return out, fmt.Errorf("wait for process: %w", waitErr)
	}

	return out, nil
}
