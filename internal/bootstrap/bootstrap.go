// Package bootstrap provides dependency initialization for the video batch API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/maauso/videobatch-api/internal/batch"
	"github.com/maauso/videobatch-api/internal/config"
	"github.com/maauso/videobatch-api/internal/media"
	"github.com/maauso/videobatch-api/internal/pipeline"
	"github.com/maauso/videobatch-api/internal/scratch"
	"github.com/maauso/videobatch-api/internal/sink"
	"github.com/maauso/videobatch-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Store       storage.BlobStore
	Coordinator *pipeline.Coordinator
	History     *batch.MemoryRepository
	Registry    *prometheus.Registry

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
// Call Close to release sink connections.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if err := media.ValidateEffect(cfg.Effect); err != nil {
		return nil, err
	}

	deps := &Dependencies{}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Store = store

	scratchMgr, err := scratch.NewManager(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create scratch manager: %w", err)
	}

	metadataSink, err := deps.initSink(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pipeline.NewMetrics(deps.Registry)

	item := pipeline.NewItem(
		store,
		scratchMgr,
		media.NewProber(cfg.FFprobePath),
		media.NewFFmpegTransformer(cfg.FFmpegPath),
		metadataSink,
		pipeline.Options{
			Effect:       cfg.Effect,
			OutputPrefix: cfg.OutputPrefix,
			StageTimeout: cfg.StageTimeout,
			Logger:       logger,
			Metrics:      metrics,
		},
	)

	deps.History = batch.NewMemoryRepository(batch.DefaultCapacity)
	deps.Coordinator = pipeline.NewCoordinator(item, pipeline.CoordinatorOptions{
		MaxParallel: cfg.MaxParallelItems,
		History:     deps.History,
		Logger:      logger,
		Metrics:     metrics,
	})

	return deps, nil
}

// Close releases sink resources in reverse order of creation.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.BlobStore, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("blob_dir", localStore.Root()),
	)
	return localStore, nil
}

// initSink creates the metadata sink selected by cfg.MetadataSink.
func (d *Dependencies) initSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sink.Sink, error) {
	switch cfg.MetadataSink {
	case config.SinkPostgres:
		pool, err := sink.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error {
			pool.Close()
			return nil
		})

		pg, err := sink.NewPostgresSink(pool, cfg.MetadataTable)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureTable(ctx); err != nil {
			return nil, err
		}
		logger.Info("postgres metadata sink configured",
			slog.String("table", cfg.MetadataTable),
		)
		return pg, nil

	case config.SinkKafka:
		writer := sink.NewKafkaWriter(sink.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		ks := sink.NewKafkaSink(writer)
		d.closers = append(d.closers, ks.Close)
		logger.Info("kafka metadata sink configured",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
		return ks, nil

	default:
		return sink.NewLogSink(logger), nil
	}
}

// LogBucketContents logs every key in the blob store at startup. It lists
// without a suffix filter and reports an empty store explicitly. Failures
// are logged and never stop startup.
func (d *Dependencies) LogBucketContents(ctx context.Context, logger *slog.Logger) {
	keys, err := d.Store.List(ctx, "")
	if err != nil {
		logger.Warn("failed to list blob store contents", slog.String("error", err.Error()))
		return
	}
	if len(keys) == 0 {
		logger.Info("blob store is empty")
		return
	}

	logger.Info("blob store contents", slog.Int("count", len(keys)))
	for _, key := range keys {
		logger.Info("blob store object", slog.String("key", key))
	}
}
