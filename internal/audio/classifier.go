// Package audio provides stem classification (silence detection) and optional
// cleaning of separated stems.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// minCleanedBytes is the smallest cleaned file that will replace a stem.
const minCleanedBytes = 1024

// ErrCleanRejected is returned when a cleaned file fails the adoption checks.
var ErrCleanRejected = errors.New("audio: cleaned file rejected")

// Stem is one file produced by the separation engine.
type Stem struct {
	// Name is the source-track label, e.g. "vocals" or "bass".
	Name string
	// Path is the stem file location.
	Path string
}

// Verdict is the outcome of classifying one stem.
type Verdict struct {
	// Silent reports that the stem should be discarded.
	Silent bool
	// Cleaned reports that the stem file was replaced by a cleaned version.
	Cleaned bool
	// Err records a decode or cleaning problem that was absorbed.
	// A stem that could not be decoded is reported as non-silent.
	Err error
}

// ClassifyOpts configures silence detection.
type ClassifyOpts struct {
	// Threshold is the peak magnitude, on a 16-bit scale, at or below which
	// a stem is silent.
	// Default: 150 (of 32768).
	Threshold int

	// WindowSec bounds how much of the stem is inspected.
	// Default: 30 seconds.
	WindowSec int

	// ReferenceRate is the sample rate used to turn WindowSec into frames.
	// Default: 48000 Hz.
	ReferenceRate int
}

// DefaultClassifyOpts returns the default silence detection options.
func DefaultClassifyOpts() ClassifyOpts {
	return ClassifyOpts{
		Threshold:     150,
		WindowSec:     30,
		ReferenceRate: 48000,
	}
}

// Cleaner produces a cleaned copy of a stem and returns its path.
type Cleaner interface {
	Clean(ctx context.Context, stem Stem) (string, error)
}

// Classifier decides whether stems are silent and optionally cleans the rest.
type Classifier struct {
	opts    ClassifyOpts
	cleaner Cleaner
	logger  *slog.Logger
}

// NewClassifier creates a Classifier. A nil cleaner disables cleaning.
func NewClassifier(opts ClassifyOpts, cleaner Cleaner, logger *slog.Logger) *Classifier {
	def := DefaultClassifyOpts()
	if opts.Threshold < 0 {
		opts.Threshold = def.Threshold
	}
	if opts.WindowSec <= 0 {
		opts.WindowSec = def.WindowSec
	}
	if opts.ReferenceRate <= 0 {
		opts.ReferenceRate = def.ReferenceRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{opts: opts, cleaner: cleaner, logger: logger}
}

// Classify inspects the leading window of stem and reports whether it is
// silent. Stems that cannot be decoded are kept (fail open). Non-silent
// stems are cleaned when a Cleaner is configured; a failed or rejected
// cleaning leaves the original file untouched.
func (c *Classifier) Classify(ctx context.Context, stem Stem) Verdict {
	peak, err := PeakAmplitude(stem.Path, c.opts.WindowSec*c.opts.ReferenceRate)
	if err != nil {
		c.logger.Warn("stem could not be decoded, keeping it",
			slog.String("stem", stem.Name),
			slog.String("path", stem.Path),
			slog.String("error", err.Error()),
		)
		return Verdict{Err: err}
	}

	if peak <= c.opts.Threshold {
		c.logger.Debug("stem is silent",
			slog.String("stem", stem.Name),
			slog.Int("peak", peak),
		)
		return Verdict{Silent: true}
	}

	if c.cleaner == nil {
		return Verdict{}
	}

	if err := c.clean(ctx, stem); err != nil {
		c.logger.Warn("stem cleaning failed, keeping original",
			slog.String("stem", stem.Name),
			slog.String("error", err.Error()),
		)
		return Verdict{Err: err}
	}
	return Verdict{Cleaned: true}
}

// clean runs the cleaner and swaps the result in only if it is a valid,
// non-trivial WAV file.
func (c *Classifier) clean(ctx context.Context, stem Stem) error {
	cleaned, err := c.cleaner.Clean(ctx, stem)
	if err != nil {
		return fmt.Errorf("clean %s: %w", stem.Name, err)
	}

	info, statErr := os.Stat(cleaned)
	if statErr != nil || info.Size() <= minCleanedBytes || !IsValidWAV(cleaned) {
		_ = os.Remove(cleaned)
		return fmt.Errorf("%w: %s", ErrCleanRejected, cleaned)
	}

	if err := os.Rename(cleaned, stem.Path); err != nil {
		_ = os.Remove(cleaned)
		return fmt.Errorf("replace stem with cleaned file: %w", err)
	}
	return nil
}
