package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/videobatch-api/internal/media"
	"github.com/maauso/videobatch-api/internal/scratch"
	"github.com/maauso/videobatch-api/internal/sink"
	"github.com/maauso/videobatch-api/internal/storage"
)

const tracerName = "github.com/maauso/videobatch-api/internal/pipeline"

// DefaultOutputPrefix is prepended to the source key to form the upload key.
const DefaultOutputPrefix = "bw_"

// Options configures an Item.
type Options struct {
	// Effect is the transform applied to every frame. Defaults to media.DefaultEffect.
	Effect string
	// OutputPrefix is prepended to the source key to derive the destination key.
	// Defaults to DefaultOutputPrefix. Existing objects are overwritten.
	OutputPrefix string
	// StageTimeout bounds each external stage when positive.
	StageTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *Metrics
}

// Item runs a single row through the pipeline. It holds no per-row state,
// so one Item may serve any number of concurrent rows.
type Item struct {
	store       storage.BlobStore
	scratch     *scratch.Manager
	extractor   media.Extractor
	transformer media.Transformer
	sink        sink.Sink

	effect       string
	prefix       string
	stageTimeout time.Duration
	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
}

// NewItem creates an Item from its collaborators.
func NewItem(
	store storage.BlobStore,
	scratchMgr *scratch.Manager,
	extractor media.Extractor,
	transformer media.Transformer,
	metadataSink sink.Sink,
	opts Options,
) *Item {
	if opts.Effect == "" {
		opts.Effect = media.DefaultEffect
	}
	if opts.OutputPrefix == "" {
		opts.OutputPrefix = DefaultOutputPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Item{
		store:        store,
		scratch:      scratchMgr,
		extractor:    extractor,
		transformer:  transformer,
		sink:         metadataSink,
		effect:       opts.Effect,
		prefix:       opts.OutputPrefix,
		stageTimeout: opts.StageTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		tracer:       otel.Tracer(tracerName),
	}
}

// OutputKey returns the destination key for sourceKey.
func (p *Item) OutputKey(sourceKey string) string {
	return p.prefix + sourceKey
}

// Process runs raw through every stage and returns its outcome. Failures
// never escape as errors or panics from modeled stages; scratch files are
// released on every path.
func (p *Item) Process(ctx context.Context, raw json.RawMessage) Outcome {
	p.metrics.itemStarted()
	defer p.metrics.itemFinished()

	ctx, span := p.tracer.Start(ctx, "pipeline.item")
	defer span.End()

	out := p.process(ctx, raw)

	if !out.Succeeded() {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, string(out.Stage))
	}
	p.metrics.observeOutcome(out)
	return out
}

func (p *Item) process(ctx context.Context, raw json.RawMessage) Outcome {
	row, err := ParseRow(raw)
	if err != nil {
		return p.fail(ctx, row, err)
	}

	logger := p.logger.With(slog.String("row_id", string(row.ID)), slog.String("source_key", row.SourceKey))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("video.source_key", row.SourceKey),
		attribute.String("video.effect", p.effect),
	)

	var files []*scratch.File
	released := false
	defer func() {
		if !released {
			p.release(ctx, logger, files)
		}
	}()

	input, err := p.scratch.Acquire(ctx, path.Ext(row.SourceKey))
	if err != nil {
		return p.fail(ctx, row, &StageError{Stage: StageDownload, Err: err})
	}
	files = append(files, input)

	err = p.runStage(ctx, StageDownload, func(ctx context.Context) error {
		return p.store.Download(ctx, row.SourceKey, input.Path())
	})
	if err != nil {
		return p.fail(ctx, row, err)
	}

	var md media.Metadata
	err = p.runStage(ctx, StageLoad, func(ctx context.Context) (err error) {
		md, err = p.extractor.Extract(ctx, input.Path(), row.SourceKey)
		return err
	})
	if err != nil {
		return p.fail(ctx, row, err)
	}

	output, err := p.scratch.Acquire(ctx, ".mp4")
	if err != nil {
		return p.fail(ctx, row, &StageError{Stage: StageProcess, Err: err})
	}
	files = append(files, output)

	err = p.runStage(ctx, StageProcess, func(ctx context.Context) error {
		return p.transformer.Transform(ctx, input.Path(), output.Path(), p.effect)
	})
	if err != nil {
		return p.fail(ctx, row, err)
	}

	outputKey := p.OutputKey(row.SourceKey)
	err = p.runStage(ctx, StageUpload, func(ctx context.Context) error {
		return p.store.Upload(ctx, output.Path(), outputKey)
	})
	if err != nil {
		return p.fail(ctx, row, err)
	}

	// The row has succeeded; cleanup and metadata failures are only logged.
	released = true
	p.release(ctx, logger, files)

	err = p.runStage(ctx, StageMetadataSink, func(ctx context.Context) error {
		return p.sink.Record(ctx, md)
	})
	if err != nil {
		p.metrics.observeNonFatal(StageMetadataSink)
		logger.WarnContext(ctx, "metadata sink failed",
			slog.String("stage", string(StageMetadataSink)),
			slog.String("error", err.Error()),
		)
	}

	logger.InfoContext(ctx, "item processed",
		slog.String("output_key", outputKey),
		slog.Float64("duration", md.Duration),
		slog.Float64("fps", md.FPS),
		slog.String("resolution", md.ResolutionString()),
	)
	return success(row.ID, md)
}

// runStage runs fn under a child span and the optional stage timeout, and
// tags any error with stage.
func (p *Item) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()

	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	p.metrics.observeStage(stage, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// release deletes every scratch file, logging failures.
func (p *Item) release(ctx context.Context, logger *slog.Logger, files []*scratch.File) {
	for _, f := range files {
		if err := f.Release(); err != nil {
			p.metrics.observeNonFatal(StageCleanup)
			logger.WarnContext(ctx, "scratch cleanup failed",
				slog.String("stage", string(StageCleanup)),
				slog.String("path", f.Path()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Item) fail(ctx context.Context, row InputRow, err error) Outcome {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: StageRow, Err: err}
	}

	p.logger.WarnContext(ctx, "item failed",
		slog.String("row_id", string(row.ID)),
		slog.String("source_key", row.SourceKey),
		slog.String("stage", string(se.Stage)),
		slog.String("error", se.Err.Error()),
	)
	return failure(row.ID, se)
}
