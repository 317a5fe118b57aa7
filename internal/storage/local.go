package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidKey is returned when a key is empty or escapes the store root.
var ErrInvalidKey = errors.New("invalid object key")

// Compile-time check that LocalStorage implements BlobStore.
var _ BlobStore = (*LocalStorage)(nil)

// LocalStorage implements BlobStore on top of a local directory.
// Each key maps to a file under the root directory. It stands in for
// S3 in development and tests.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a new LocalStorage instance rooted at dir.
// If dir is empty, a "videobatch-blobs" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "videobatch-blobs")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}

	return &LocalStorage{root: dir}, nil
}

// Root returns the directory backing the store.
func (s *LocalStorage) Root() string {
	return s.root
}

// Download copies the object stored under key to destPath.
func (s *LocalStorage) Download(ctx context.Context, key, destPath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	src, err := s.path(key)
	if err != nil {
		return err
	}

	in, err := os.Open(src) // #nosec G304 - path is confined to the store root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = in.Close() }()

	return writeFile(destPath, in)
}

// Upload copies the file at srcPath into the store under key.
func (s *LocalStorage) Upload(ctx context.Context, srcPath, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	dst, err := s.path(key)
	if err != nil {
		return err
	}

	in, err := os.Open(srcPath) // #nosec G304 - srcPath is a scratch file owned by the caller
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	return writeFile(dst, in)
}

// List walks the root directory and returns matching keys.
func (s *LocalStorage) List(ctx context.Context, suffix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasSuffix(key, suffix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// path resolves key to a file under the root, rejecting traversal.
func (s *LocalStorage) path(key string) (string, error) {
	cleaned := strings.TrimLeft(strings.ReplaceAll(strings.TrimSpace(key), "\\", "/"), "/")
	cleaned = filepath.ToSlash(filepath.Clean(cleaned))
	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// writeFile truncates dst and copies r into it.
func writeFile(dst string, r io.Reader) error {
	out, err := os.Create(dst) // #nosec G304 - dst is a scratch file or confined to the store root
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}

	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("write destination file: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination file: %w", err)
	}
	return nil
}
