package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videobatch-api/internal/media"
	"github.com/maauso/videobatch-api/internal/scratch"
	"github.com/maauso/videobatch-api/internal/sink"
	"github.com/maauso/videobatch-api/internal/storage"
)

// videoMagic marks fixture content the fake extractor accepts as decodable.
const videoMagic = "VIDEO:"

var errNotVideo = errors.New("moov atom not found")

// fakeExtractor accepts files starting with videoMagic.
type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, path, filename string) (media.Metadata, error) {
	data, err := os.ReadFile(path) // #nosec G304 - test fixture
	if err != nil {
		return media.Metadata{}, err
	}
	if !bytes.HasPrefix(data, []byte(videoMagic)) {
		return media.Metadata{}, errNotVideo
	}
	return media.Metadata{
		Filename:   filename,
		Duration:   float64(len(data)) / 10,
		FPS:        29.97,
		Resolution: &media.Resolution{Width: 640, Height: 480},
	}, nil
}

// fakeTransformer prefixes the input bytes with the effect name.
type fakeTransformer struct {
	err   error
	block bool // wait for ctx cancellation
	panic bool
}

func (f fakeTransformer) Transform(ctx context.Context, src, dst, effect string) error {
	if f.panic {
		panic("encoder exploded")
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(src) // #nosec G304 - test fixture
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append([]byte(effect+":"), data...), 0600)
}

// mockSink is a mock implementation of sink.Sink.
type mockSink struct {
	mock.Mock
}

func (m *mockSink) Record(ctx context.Context, md media.Metadata) error {
	args := m.Called(ctx, md)
	return args.Error(0)
}

// recordingSink stores every record it receives.
type recordingSink struct {
	mu      sync.Mutex
	records []media.Metadata
}

func (s *recordingSink) Record(_ context.Context, md media.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, md)
	return nil
}

// failingUploadStore rejects every upload.
type failingUploadStore struct {
	*storage.LocalStorage
	err error
}

func (s failingUploadStore) Upload(context.Context, string, string) error {
	return s.err
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	store   *storage.LocalStorage
	scratch *scratch.Manager
	logs    *syncBuffer
	logger  *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "bucket"))
	require.NoError(t, err)
	mgr, err := scratch.NewManager(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)

	logs := &syncBuffer{}
	return &fixture{
		store:   store,
		scratch: mgr,
		logs:    logs,
		logger:  slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

// put stores content under key in the fixture bucket.
func (f *fixture) put(t *testing.T, key, content string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(src, []byte(content), 0600))
	require.NoError(t, f.store.Upload(context.Background(), src, key))
}

// get reads the object stored under key.
func (f *fixture) get(t *testing.T, key string) (string, error) {
	t.Helper()
	dst := filepath.Join(t.TempDir(), "download")
	if err := f.store.Download(context.Background(), key, dst); err != nil {
		return "", err
	}
	data, err := os.ReadFile(dst) // #nosec G304 - test fixture
	require.NoError(t, err)
	return string(data), nil
}

func (f *fixture) item(store storage.BlobStore, tr media.Transformer, s sink.Sink, opts Options) *Item {
	if opts.Logger == nil {
		opts.Logger = f.logger
	}
	if store == nil {
		store = f.store
	}
	if s == nil {
		s = &recordingSink{}
	}
	return NewItem(store, f.scratch, fakeExtractor{}, tr, s, opts)
}

// requireNoScratch asserts every scratch file was released and removed.
func (f *fixture) requireNoScratch(t *testing.T) {
	t.Helper()
	require.Zero(t, f.scratch.Outstanding(), "scratch files still held")
	entries, err := os.ReadDir(f.scratch.Dir())
	require.NoError(t, err)
	require.Empty(t, entries, "scratch directory not empty")
}
