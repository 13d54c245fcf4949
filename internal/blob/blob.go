// Package blob stores staged uploads and generated artifacts.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value object store. Keys use forward slashes.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// UploadKey returns a unique staging key that keeps the original file name,
// and therefore its extension.
func UploadKey(filename string) string {
	return fmt.Sprintf("uploads/%s_%s", uuid.NewString(), sanitize(filename))
}

// ResultKey is where the results artifact of a job is written.
func ResultKey(jobID uuid.UUID) string {
	return fmt.Sprintf("results/%s.csv", jobID)
}

// FailureKey is where the failures artifact of a job is written.
func FailureKey(jobID uuid.UUID) string {
	return fmt.Sprintf("failures/%s.csv", jobID)
}

// FailureFilename is the download name of a job's failures artifact.
func FailureFilename(jobID uuid.UUID) string {
	return fmt.Sprintf("failed_%s.csv", jobID)
}

// sanitize strips directories and characters that are awkward in object keys.
func sanitize(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '/', r == '\\', r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			return '_'
		}
		return r
	}, name)
}

// validKey rejects empty keys and keys that could escape a root directory.
func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("blob key is required")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("blob key %q must be relative", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "" {
			return fmt.Errorf("blob key %q is not clean", key)
		}
	}
	return nil
}
