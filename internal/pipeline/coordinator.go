package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/videobatch-api/internal/batch"
)

// Processor runs one row. Implementations report failures in the Outcome.
type Processor interface {
	Process(ctx context.Context, raw json.RawMessage) Outcome
}

// Response is the ordered result of a batch, one Outcome per request row.
type Response struct {
	BatchID  string
	Outcomes []Outcome
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// MaxParallel bounds how many rows run at once. Values below 1 mean 1.
	MaxParallel int
	// History, when set, receives a record of every batch.
	History batch.Repository
	Logger  *slog.Logger
	Metrics *Metrics
}

// Coordinator fans a batch out over a bounded worker pool and collects
// outcomes in request order.
type Coordinator struct {
	items       Processor
	maxParallel int
	history     batch.Repository
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

// NewCoordinator creates a Coordinator that runs rows through items.
func NewCoordinator(items Processor, opts CoordinatorOptions) *Coordinator {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		items:       items,
		maxParallel: opts.MaxParallel,
		history:     opts.History,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer(tracerName),
	}
}

// Run processes every row exactly once. The response has one outcome per
// row, in row order, whatever happens to individual rows. An empty
// request yields an empty response.
func (c *Coordinator) Run(ctx context.Context, rows []json.RawMessage) *Response {
	b := batch.New(len(rows))
	resp := &Response{BatchID: b.ID, Outcomes: make([]Outcome, len(rows))}
	if len(rows) == 0 {
		return resp
	}

	ctx, span := c.tracer.Start(ctx, "pipeline.batch", trace.WithAttributes(
		attribute.String("batch.id", b.ID),
		attribute.Int("batch.rows", len(rows)),
	))
	defer span.End()

	logger := c.logger.With(slog.String("batch_id", b.ID))
	logger.InfoContext(ctx, "batch started",
		slog.Int("rows", len(rows)),
		slog.Int("max_parallel", c.maxParallel),
	)
	c.metrics.observeBatch(len(rows))
	c.save(ctx, logger, b)

	start := time.Now()

	// A plain Group: no row may cancel its siblings.
	var g errgroup.Group
	g.SetLimit(c.maxParallel)
	for i, raw := range rows {
		g.Go(func() error {
			resp.Outcomes[i] = c.processRow(ctx, logger, raw)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]batch.Result, len(resp.Outcomes))
	for i, o := range resp.Outcomes {
		results[i] = o.Result()
	}
	if err := b.Complete(results); err != nil {
		logger.ErrorContext(ctx, "failed to complete batch record", slog.String("error", err.Error()))
	}
	c.save(ctx, logger, b)

	span.SetAttributes(
		attribute.Int("batch.succeeded", b.Succeeded),
		attribute.Int("batch.failed", b.Failed),
	)
	logger.InfoContext(ctx, "batch completed",
		slog.Int("succeeded", b.Succeeded),
		slog.Int("failed", b.Failed),
		slog.Duration("elapsed", time.Since(start)),
	)
	return resp
}

// processRow converts a panic inside the processor into a StageRow failure.
func (c *Coordinator) processRow(ctx context.Context, logger *slog.Logger, raw json.RawMessage) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "panic processing row",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out = failure(rowIDOf(raw), &StageError{Stage: StageRow, Err: fmt.Errorf("%v", r)})
			c.metrics.observeOutcome(out)
		}
	}()
	return c.items.Process(ctx, raw)
}

func (c *Coordinator) save(ctx context.Context, logger *slog.Logger, b *batch.Batch) {
	if c.history == nil {
		return
	}
	if err := c.history.Save(ctx, b); err != nil {
		logger.WarnContext(ctx, "failed to save batch record", slog.String("error", err.Error()))
	}
}
