// Package storage provides the blob store used as the source and destination
// of batch items. It defines the BlobStore interface (port) and
// implementations backed by S3 and by a local directory.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned when a key does not exist in the store.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore addresses objects by a flat string key within one bucket.
type BlobStore interface {
	// Download writes the object stored under key to destPath,
	// truncating any existing content.
	// Returns ErrObjectNotFound if the key does not exist.
	Download(ctx context.Context, key, destPath string) error

	// Upload stores the file at srcPath under key.
	// An existing object with the same key is overwritten.
	Upload(ctx context.Context, srcPath, key string) error

	// List returns the keys ending with suffix, sorted lexically.
	// An empty suffix matches every key.
	List(ctx context.Context, suffix string) ([]string, error)
}
