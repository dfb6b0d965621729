// Package acquire downloads remote media into a local WAV file that the
// separation engine can consume.
package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/maauso/stemsplit-api/internal/progress"
	"github.com/maauso/stemsplit-api/internal/supervisor"
)

// Static errors for acquisition.
var (
	// ErrURLRequired is returned when Acquire is called without a locator.
	ErrURLRequired = errors.New("acquire: url is required")
	// ErrNoAudio is returned when the downloader exits cleanly but no WAV was written.
	ErrNoAudio = errors.New("acquire: downloader produced no audio file")
)

// thumbnailExts are the image formats yt-dlp may write, in preference order.
var thumbnailExts = []string{".jpg", ".jpeg", ".png", ".webp"}

// Source is a locally materialized remote input.
type Source struct {
	// Path is the WAV file to separate.
	Path string
	// Title is the media title reported by the remote site, if any.
	Title string
	// ThumbnailPath is the downloaded cover image, if any.
	ThumbnailPath string
}

// Runner executes a supervised command.
type Runner interface {
	Run(ctx context.Context, cmd supervisor.Command, onLine func(line string)) (supervisor.Outcome, error)
}

// YtDlp acquires remote media with the yt-dlp CLI.
type YtDlp struct {
	path   string
	dir    string
	runner Runner
	logger *slog.Logger
}

// NewYtDlp creates a YtDlp acquirer writing into dir.
// If path is empty, it defaults to "yt-dlp" (found via PATH).
func NewYtDlp(path, dir string, runner Runner, logger *slog.Logger) *YtDlp {
	if path == "" {
		path = "yt-dlp"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YtDlp{path: path, dir: dir, runner: runner, logger: logger}
}

// Command builds the yt-dlp invocation that writes <dir>/<base>.wav plus its
// info JSON and thumbnail.
func (y *YtDlp) Command(url, base string) supervisor.Command {
	return supervisor.Command{
		Path: y.path,
		Args: []string{
			"-f", "bestaudio/best",
			"-x", "--audio-format", "wav",
			"--write-info-json",
			"--write-thumbnail",
			"--newline",
			"--no-playlist",
			"-o", filepath.Join(y.dir, base+".%(ext)s"),
			url,
		},
		Stream: supervisor.Stdout,
	}
}

// Acquire downloads url and reports download percentages to onProgress.
func (y *YtDlp) Acquire(ctx context.Context, url string, onProgress func(percent int)) (Source, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Source{}, ErrURLRequired
	}
	if err := os.MkdirAll(y.dir, 0o750); err != nil {
		return Source{}, fmt.Errorf("create download directory: %w", err)
	}

	base := uuid.NewString()
	y.logger.Info("downloading remote media",
		slog.String("url", url),
		slog.String("base", base),
	)

	_, err := y.runner.Run(ctx, y.Command(url, base), func(line string) {
		if p, ok := progress.Parse(line); ok && onProgress != nil {
			onProgress(p)
		}
	})
	if err != nil {
		y.cleanup(base)
		return Source{}, fmt.Errorf("yt-dlp: %w", err)
	}

	src := Source{Path: filepath.Join(y.dir, base+".wav")}
	if info, statErr := os.Stat(src.Path); statErr != nil || info.Size() == 0 {
		y.cleanup(base)
		return Source{}, ErrNoAudio
	}

	src.Title = readTitle(filepath.Join(y.dir, base+".info.json"))
	src.ThumbnailPath = findThumbnail(y.dir, base)
	_ = os.Remove(filepath.Join(y.dir, base+".info.json"))

	return src, nil
}

// cleanup removes every file written for base.
func (y *YtDlp) cleanup(base string) {
	matches, _ := filepath.Glob(filepath.Join(y.dir, base+".*"))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// readTitle returns the "title" field of a yt-dlp info JSON file, or "".
func readTitle(path string) string {
	data, err := os.ReadFile(path) // #nosec G304 - path is derived from a generated name
	if err != nil {
		return ""
	}
	var info struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return ""
	}
	return strings.TrimSpace(info.Title)
}

// findThumbnail returns the first thumbnail written for base, or "".
func findThumbnail(dir, base string) string {
	for _, ext := range thumbnailExts {
		p := filepath.Join(dir, base+ext)
		if info, err := os.Stat(p); err == nil && info.Size() > 0 {
			return p
		}
	}
	return ""
}
