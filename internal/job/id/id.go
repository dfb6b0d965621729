// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix is prepended to every job ID.
const Prefix = "job-"

// Generate creates a new unique job ID.
// Format: job-<uuid>
// Example: job-5f0c6a0e-3c1b-4d7e-9a55-2b7c7f0c9b11
func Generate() string {
	return Prefix + uuid.NewString()
}

// Valid reports whether s has the shape of a generated job ID.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return false
	}
	return uuid.Validate(rest) == nil
}
