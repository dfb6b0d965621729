package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned when a publish key is empty or escapes the
// output root.
var ErrInvalidKey = errors.New("invalid artifact key")

// LocalConfig holds the directories and public prefix for LocalStorage.
type LocalConfig struct {
	// InputDir receives uploaded and downloaded inputs.
	InputDir string
	// OutputDir is the separation output root, served as static files.
	OutputDir string
	// PublicBaseURL prefixes published keys, e.g. "http://localhost:8080/stems".
	PublicBaseURL string
}

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements the Storage interface using local disk.
// Published artifacts stay under OutputDir and are addressed through
// PublicBaseURL.
type LocalStorage struct {
	inputDir  string
	outputDir string
	baseURL   string
}

// NewLocalStorage creates a new LocalStorage instance.
// Empty directories default to subdirectories of os.TempDir().
// The directories are created if they don't exist.
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if cfg.InputDir == "" {
		cfg.InputDir = filepath.Join(os.TempDir(), "stemsplit", "input")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "stemsplit", "output")
	}

	for _, dir := range []string{cfg.InputDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	return &LocalStorage{
		inputDir:  cfg.InputDir,
		outputDir: cfg.OutputDir,
		baseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// InputDir returns the input directory path.
func (s *LocalStorage) InputDir() string {
	return s.inputDir
}

// OutputDir returns the output root path.
func (s *LocalStorage) OutputDir() string {
	return s.outputDir
}

// SaveInput writes data to {inputDir}/{uuid}{ext}.
func (s *LocalStorage) SaveInput(ctx context.Context, ext string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	name := filepath.Join(s.inputDir, uuid.NewString()+sanitizeExt(ext))
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) // #nosec G304 - name is generated
	if err != nil {
		return "", fmt.Errorf("create input file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("write input file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close input file: %w", err)
	}

	return name, nil
}

// Publish places localPath at {outputDir}/{key} (copying only when it lives
// elsewhere) and returns {PublicBaseURL}/{key}.
func (s *LocalStorage) Publish(ctx context.Context, key, localPath string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.outputDir, filepath.FromSlash(clean))
	if !samePath(dest, localPath) {
		if err := copyFile(localPath, dest); err != nil {
			return "", err
		}
	}

	return s.URL(clean), nil
}

// URL returns the public address of key.
func (s *LocalStorage) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}

// Cleanup removes the specified files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) Cleanup(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// cleanKey normalizes key and rejects keys that leave the output root.
func cleanKey(key string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(key))[1:]
	if clean == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

// sanitizeExt keeps a short alphanumeric extension and drops anything else.
func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || len(ext) > 8 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// copyFile copies src to dst, creating parent directories.
func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src is produced by the pipeline
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640) // #nosec G304 - dst is under the output root
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	return out.Close()
}
