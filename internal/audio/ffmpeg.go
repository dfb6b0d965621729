package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// cleanedSuffix replaces the stem's extension for the cleaned copy.
const cleanedSuffix = ".polished.wav"

// FFmpegCleaner implements Cleaner using the ffmpeg CLI. It applies loudness
// normalisation and, for stems other than bass and drums, a 50 Hz high-pass
// filter to remove rumble.
type FFmpegCleaner struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegCleaner creates a new FFmpegCleaner.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegCleaner(ffmpegPath string) *FFmpegCleaner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegCleaner{ffmpegPath: ffmpegPath}
}

// Clean writes a cleaned copy of stem next to it and returns its path.
// The original file is never modified.
func (c *FFmpegCleaner) Clean(ctx context.Context, stem Stem) (string, error) {
	out := CleanedPath(stem.Path)

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", stem.Path,
		"-af", FilterChain(stem.Name),
		"-ar", "44100",
		"-c:a", "pcm_s16le",
		out,
	}

	if err := c.runFFmpeg(ctx, args); err != nil {
		_ = os.Remove(out)
		return "", err
	}
	return out, nil
}

// FilterChain returns the ffmpeg audio filter graph for a stem label.
// Low-frequency stems keep their sub-bass.
func FilterChain(label string) string {
	chain := "loudnorm=I=-16:TP=-1.5:LRA=11"
	l := strings.ToLower(label)
	if !strings.Contains(l, "bass") && !strings.Contains(l, "drums") {
		chain += ",highpass=f=50"
	}
	return chain
}

// CleanedPath returns where the cleaned copy of path is written.
func CleanedPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + cleanedSuffix
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (c *FFmpegCleaner) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Verify interface implementation at compile time.
var _ Cleaner = (*FFmpegCleaner)(nil)
