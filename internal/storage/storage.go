// Package storage persists uploaded inputs and publishes separated stems.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3.
package storage

import (
	"context"
	"io"
)

// Storage defines where inputs are kept and how artifacts are exposed.
type Storage interface {
	// SaveInput writes data to a new uniquely named file in the input
	// directory and returns its path. ext includes the leading dot.
	SaveInput(ctx context.Context, ext string, data io.Reader) (path string, err error)

	// Publish makes the local file reachable under key
	// ({model}/{project}/{file}) and returns its access URL.
	Publish(ctx context.Context, key, localPath string) (url string, err error)

	// Cleanup removes the specified local files.
	// It continues cleanup even if some files fail to delete.
	Cleanup(ctx context.Context, paths []string) error
}
