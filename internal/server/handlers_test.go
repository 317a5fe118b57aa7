package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videobatch-api/internal/batch"
	"github.com/maauso/videobatch-api/internal/media"
	"github.com/maauso/videobatch-api/internal/pipeline"
	"github.com/maauso/videobatch-api/internal/scratch"
	"github.com/maauso/videobatch-api/internal/sink"
	"github.com/maauso/videobatch-api/internal/storage"
)

// mockRunner implements BatchRunner for testing.
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, rows []json.RawMessage) *pipeline.Response {
	args := m.Called(ctx, rows)
	return args.Get(0).(*pipeline.Response)
}

// mockLister implements ObjectLister for testing.
type mockLister struct {
	mock.Mock
}

func (m *mockLister) List(ctx context.Context, suffix string) ([]string, error) {
	args := m.Called(ctx, suffix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T) (*Handlers, *mockRunner, *mockLister, *batch.MemoryRepository) {
	t.Helper()
	runner := &mockRunner{}
	lister := &mockLister{}
	history := batch.NewMemoryRepository(10)
	h := NewHandlers(runner, lister, testLogger(), WithHistory(history))
	return h, runner, lister, history
}

func TestHealth(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestProcessVideo_InvalidJSON(t *testing.T) {
	h, runner, _, _ := newTestHandlers(t)

	for _, body := range []string{`{invalid json}`, ``, `{"data":[`, `{"data":[]} garbage`, `{"data":[]} {}`} {
		req := httptest.NewRequest(http.MethodPost, "/process-video", strings.NewReader(body))
		rec := httptest.NewRecorder()

		h.ProcessVideo(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"Invalid JSON payload"}`, rec.Body.String(), body)
	}
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestProcessVideo_EmptyBatch(t *testing.T) {
	h, runner, _, _ := newTestHandlers(t)

	bodies := []string{
		`{}`, `{"data":[]}`, `{"data":null}`, `{"data":"a.mp4"}`, `{"other":1}`,
		`[[0,"a.mp4"]]`, `"hello"`, `42`, `null`, "{\"data\":[]}\n",
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/process-video", strings.NewReader(body))
		rec := httptest.NewRecorder()

		h.ProcessVideo(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, body)
		assert.JSONEq(t, `{"data":[]}`, rec.Body.String(), body)
	}
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestProcessVideo_Success(t *testing.T) {
	h, runner, _, _ := newTestHandlers(t)

	resp := &pipeline.Response{
		BatchID: "batch-123",
		Outcomes: []pipeline.Outcome{
			{RowID: json.RawMessage(`0`), Message: "Processed: a.mp4, duration: 1.00s, fps: 25.00, resolution: (64, 48)"},
			{RowID: json.RawMessage(`1`), Message: "Error downloading video from S3: object not found", Stage: pipeline.StageDownload, Err: errors.New("x")},
		},
	}
	runner.On("Run", mock.Anything, mock.MatchedBy(func(rows []json.RawMessage) bool {
		return len(rows) == 2 && string(rows[1]) == `[1,"missing.mp4"]`
	})).Return(resp)

	body := `{"data":[[0,"a.mp4"],[1,"missing.mp4"]]}`
	req := httptest.NewRequest(http.MethodPost, "/process-video", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ProcessVideo(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "batch-123", rec.Header().Get("X-Batch-ID"))
	assert.JSONEq(t,
		`{"data":[[0,"Processed: a.mp4, duration: 1.00s, fps: 25.00, resolution: (64, 48)"],[1,"Error downloading video from S3: object not found"]]}`,
		rec.Body.String())
	runner.AssertExpectations(t)
}

func TestProcessVideo_DetachesFromClientCancellation(t *testing.T) {
	h, runner, _, _ := newTestHandlers(t)

	var runCtx context.Context
	runner.On("Run", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		runCtx = args.Get(0).(context.Context)
	}).Return(&pipeline.Response{BatchID: "b", Outcomes: []pipeline.Outcome{{RowID: json.RawMessage(`0`), Message: "ok"}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/process-video", strings.NewReader(`{"data":[[0,"a.mp4"]]}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.ProcessVideo(rec, req)

	require.NotNil(t, runCtx)
	assert.NoError(t, runCtx.Err(), "batch context must not inherit client cancellation")
}

func TestIndex(t *testing.T) {
	t.Run("lists videos", func(t *testing.T) {
		h, _, lister, _ := newTestHandlers(t)
		lister.On("List", mock.Anything, ".mp4").Return([]string{"a.mp4", "<script>.mp4"}, nil)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		h.Index(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "<li>a.mp4</li>")
		assert.Contains(t, rec.Body.String(), "&lt;script&gt;.mp4")
		assert.NotContains(t, rec.Body.String(), "<script>")
	})

	t.Run("listing failure renders empty page", func(t *testing.T) {
		h, _, lister, _ := newTestHandlers(t)
		lister.On("List", mock.Anything, ".mp4").Return(nil, errors.New("access denied"))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		h.Index(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "No videos found.")
	})

	t.Run("custom suffix", func(t *testing.T) {
		lister := &mockLister{}
		lister.On("List", mock.Anything, ".mov").Return([]string{"clip.mov"}, nil)
		h := NewHandlers(&mockRunner{}, lister, testLogger(), WithListSuffix(".mov"))

		rec := httptest.NewRecorder()
		h.Index(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Contains(t, rec.Body.String(), "clip.mov")
		lister.AssertExpectations(t)
	})
}

func TestGetBatch(t *testing.T) {
	h, _, _, history := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	b := batch.NewWithID("batch-abc", 1)
	require.NoError(t, b.Complete([]batch.Result{{RowID: json.RawMessage(`0`), Message: "ok"}}))
	require.NoError(t, history.Save(context.Background(), b))

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches/batch-abc", nil))

		assert.Equal(t, http.StatusOK, rec.Code)

		var got batch.Batch
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, "batch-abc", got.ID)
		assert.Equal(t, batch.StatusCompleted, got.Status)
		require.Len(t, got.Results, 1)
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "BATCH_NOT_FOUND", resp.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches", nil))

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp BatchListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Batches, 1)
		assert.Nil(t, resp.Batches[0].Results, "list returns summaries")
	})
}

func TestBatches_HistoryDisabled(t *testing.T) {
	h := NewHandlers(&mockRunner{}, &mockLister{}, testLogger())
	router := NewRouter(h, testLogger(), DefaultConfig())

	for _, path := range []string{"/batches", "/batches/x"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestRouter_Integration(t *testing.T) {
	h, runner, _, _ := newTestHandlers(t)
	runner.On("Run", mock.Anything, mock.Anything).Return(&pipeline.Response{
		BatchID:  "batch-1",
		Outcomes: []pipeline.Outcome{{RowID: json.RawMessage(`0`), Message: "ok"}},
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "test"}))
	cfg := DefaultConfig()
	cfg.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	router := NewRouter(h, testLogger(), cfg)

	// Health
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Process
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process-video", strings.NewReader(`{"data":[[0,"a.mp4"]]}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[[0,"ok"]]}`, rec.Body.String())

	// Metrics
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_counter_total")

	// Wrong method
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/process-video", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// Unknown route
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Batch-ID", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	// Disallowed origin gets no CORS headers
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/process-video", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/process-video", nil))

	out := buf.String()
	assert.Contains(t, out, "method=POST")
	assert.Contains(t, out, "path=/process-video")
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "level=INFO")
}

func TestLoggingMiddleware_ServerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusBadGateway, "upstream", "UPSTREAM")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches", nil))

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "status=502")
	assert.Contains(t, out, fmt.Sprintf("bytes=%d", rec.Body.Len()))
}

// videoExtractor reports fixed metadata for files whose content starts
// with "VIDEO" and fails otherwise.
type videoExtractor struct{}

func (videoExtractor) Extract(_ context.Context, path, filename string) (media.Metadata, error) {
	data, err := os.ReadFile(path) // #nosec G304 - test fixture
	if err != nil {
		return media.Metadata{}, err
	}
	if !bytes.HasPrefix(data, []byte("VIDEO")) {
		return media.Metadata{}, errors.New("invalid data found when processing input")
	}
	return media.Metadata{Filename: filename, Duration: 4.5, FPS: 30, Resolution: &media.Resolution{Width: 320, Height: 240}}, nil
}

// copyTransformer copies src to dst unchanged.
type copyTransformer struct{}

func (copyTransformer) Transform(_ context.Context, src, dst, _ string) error {
	data, err := os.ReadFile(src) // #nosec G304 - test fixture
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}

func TestProcessVideo_EndToEnd(t *testing.T) {
	store, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "bucket"))
	require.NoError(t, err)
	mgr, err := scratch.NewManager(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(src, []byte("VIDEO data"), 0600))
	require.NoError(t, store.Upload(context.Background(), src, "a.mp4"))

	item := pipeline.NewItem(store, mgr, videoExtractor{}, copyTransformer{}, sink.NewLogSink(testLogger()), pipeline.Options{Logger: testLogger()})
	history := batch.NewMemoryRepository(10)
	coord := pipeline.NewCoordinator(item, pipeline.CoordinatorOptions{MaxParallel: 2, History: history, Logger: testLogger()})

	router := NewRouter(NewHandlers(coord, store, testLogger(), WithHistory(history)), testLogger(), DefaultConfig())

	body := `{"data":[[0,"a.mp4"],[1,"missing.mp4"]]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process-video", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data [][2]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data, 2)

	var first, second string
	require.NoError(t, json.Unmarshal(resp.Data[0][1], &first))
	require.NoError(t, json.Unmarshal(resp.Data[1][1], &second))
	assert.Equal(t, "Processed: a.mp4, duration: 4.50s, fps: 30.00, resolution: (320, 240)", first)
	assert.True(t, strings.HasPrefix(second, "Error downloading video from S3: "), second)

	// Output stored under the derived key and listed on the index page
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "bw_a.mp4")

	// Batch recorded in history
	list, err := history.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Succeeded)
	assert.Equal(t, 1, list[0].Failed)

	assert.Zero(t, mgr.Outstanding())
}
