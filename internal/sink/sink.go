// Package sink persists video metadata records. Backends are a Postgres
// table, a Kafka topic, or the application log.
package sink

import (
	"context"
	"log/slog"

	"github.com/maauso/videobatch-api/internal/media"
)

// Sink appends one metadata record to a durable store.
// Delivery is at-least-once; implementations need not be idempotent.
type Sink interface {
	Record(ctx context.Context, md media.Metadata) error
}

// Compile-time check that LogSink implements Sink.
var _ Sink = (*LogSink)(nil)

// LogSink writes each record to the logger. It never fails.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. If logger is nil, slog.Default() is used.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Record logs md at info level.
func (s *LogSink) Record(ctx context.Context, md media.Metadata) error {
	attrs := []slog.Attr{
		slog.String("filename", md.Filename),
		slog.Float64("duration", md.Duration),
		slog.Float64("fps", md.FPS),
	}
	if md.Resolution != nil {
		attrs = append(attrs,
			slog.Int("width", md.Resolution.Width),
			slog.Int("height", md.Resolution.Height),
		)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "video metadata recorded", attrs...)
	return nil
}
