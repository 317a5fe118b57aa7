package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maauso/videobatch-api/internal/batch"
	"github.com/maauso/videobatch-api/internal/pipeline"
)

// maxRequestBytes caps the POST /process-video body.
const maxRequestBytes = 10 << 20

var errTrailingData = errors.New("unexpected data after JSON value")

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// BatchRunner runs a batch of raw rows.
type BatchRunner interface {
	Run(ctx context.Context, rows []json.RawMessage) *pipeline.Response
}

// ObjectLister lists keys in the blob store.
type ObjectLister interface {
	List(ctx context.Context, suffix string) ([]string, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	runner     BatchRunner
	history    batch.Repository
	lister     ObjectLister
	listSuffix string
	logger     *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithHistory enables the /batches endpoints backed by repo.
func WithHistory(repo batch.Repository) HandlerOption {
	return func(h *Handlers) {
		h.history = repo
	}
}

// WithListSuffix sets the key suffix shown on the index page.
func WithListSuffix(suffix string) HandlerOption {
	return func(h *Handlers) {
		h.listSuffix = suffix
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(runner BatchRunner, lister ObjectLister, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		runner:     runner,
		lister:     lister,
		listSuffix: ".mp4",
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ProcessVideo handles POST /process-video requests.
// The batch runs to completion even if the client disconnects.
func (h *Handlers) ProcessVideo(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "Invalid JSON payload", "")
		return
	}

	// Well-formed JSON without a row list is an empty batch, not an error.
	var req BatchRequest
	var rows []json.RawMessage
	if json.Unmarshal(body, &req) != nil || json.Unmarshal(req.Data, &rows) != nil || len(rows) == 0 {
		writeJSON(w, http.StatusOK, BatchResponse{Data: []pipeline.Outcome{}})
		return
	}

	resp := h.runner.Run(context.WithoutCancel(r.Context()), rows)

	w.Header().Set("X-Batch-ID", resp.BatchID)
	writeJSON(w, http.StatusOK, BatchResponse{Data: resp.Outcomes})
}

// Index handles GET / requests with an HTML listing of source videos.
// A listing failure is logged and renders an empty list.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	videos, err := h.lister.List(r.Context(), h.listSuffix)
	if err != nil {
		h.logger.Error("failed to list videos",
			slog.String("error", err.Error()),
		)
		videos = nil
	}

	example := "video" + h.listSuffix
	if len(videos) > 0 {
		example = videos[0]
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, struct {
		Videos  []string
		Example string
	}{videos, example}); err != nil {
		h.logger.Error("failed to render index", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to render page", "RENDER_FAILED")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// ListBatches handles GET /batches requests.
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "batch history is disabled", "HISTORY_DISABLED")
		return
	}

	batches, err := h.history.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list batches", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list batches", "BATCH_LIST_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, BatchListResponse{Batches: batches})
}

// GetBatch handles GET /batches/{id} requests.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "batch history is disabled", "HISTORY_DISABLED")
		return
	}

	batchID := chi.URLParam(r, "id")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "batch ID is required", "MISSING_BATCH_ID")
		return
	}

	found, err := h.history.FindByID(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, batch.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "batch not found", "BATCH_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get batch",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get batch", "BATCH_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, found)
}

// decodeBody reads exactly one JSON value from r.
func decodeBody(r io.Reader) (json.RawMessage, error) {
	dec := json.NewDecoder(r)

	var body json.RawMessage
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errTrailingData
		}
		return nil, err
	}
	return body, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
