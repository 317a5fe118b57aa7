// Package scratch hands out uniquely named local staging files bound to
// the lifetime of one pipeline item.
package scratch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrNilFile is returned when Release is called with a nil handle.
var ErrNilFile = errors.New("scratch: nil file")

// Manager creates scratch files in a single directory and tracks how many
// are still held.
type Manager struct {
	dir         string
	outstanding atomic.Int64
}

// NewManager creates a Manager rooted at dir.
// If dir is empty, a "videobatch" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "videobatch")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	return &Manager{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (m *Manager) Dir() string {
	return m.dir
}

// Outstanding returns the number of acquired files not yet released.
func (m *Manager) Outstanding() int64 {
	return m.outstanding.Load()
}

// Acquire creates a new, empty file whose name ends with suffix.
// Names are unique across concurrent callers.
func (m *Manager) Acquire(ctx context.Context, suffix string) (*File, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if strings.ContainsAny(suffix, `/\`) {
		suffix = ""
	}

	f, err := os.CreateTemp(m.dir, "item_*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}

	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close scratch file: %w", err)
	}

	m.outstanding.Add(1)
	return &File{path: path, owner: m}, nil
}

// Release deletes f. See File.Release.
func (m *Manager) Release(f *File) error {
	if f == nil {
		return ErrNilFile
	}
	return f.Release()
}

// File is a handle to one scratch file.
type File struct {
	path  string
	owner *Manager
	once  sync.Once
	err   error
}

// Path returns the file's location on disk.
func (f *File) Path() string {
	return f.path
}

// Release deletes the file. A file that is already gone is not an error.
// Only the first call does any work; later calls return its result.
func (f *File) Release() error {
	f.once.Do(func() {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			f.err = fmt.Errorf("remove scratch file %s: %w", f.path, err)
		}
		f.owner.outstanding.Add(-1)
	})
	return f.err
}
