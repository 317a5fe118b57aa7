package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/maauso/videobatch-api/internal/media"
)

// MessageWriter is the subset of *kafkago.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaConfig holds producer settings for the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	MaxAttempts  int
}

// NewKafkaWriter builds a kafka-go Writer. Records are keyed by filename,
// so the hash balancer keeps one file's records on one partition.
func NewKafkaWriter(cfg KafkaConfig) *kafkago.Writer {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafkago.RequireAll,
		Compression:  kafkago.Snappy,
		MaxAttempts:  cfg.MaxAttempts,
	}
}

// MetadataEvent is the JSON payload published for each record.
type MetadataEvent struct {
	Filename   string    `json:"filename"`
	Duration   float64   `json:"duration"`
	FPS        float64   `json:"fps"`
	Width      *int      `json:"width"`
	Height     *int      `json:"height"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Compile-time check that KafkaSink implements Sink.
var _ Sink = (*KafkaSink)(nil)

// KafkaSink publishes one MetadataEvent per record.
type KafkaSink struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaSink creates a KafkaSink publishing through w.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, now: time.Now}
}

// Record publishes md keyed by filename.
func (s *KafkaSink) Record(ctx context.Context, md media.Metadata) error {
	now := s.now().UTC()
	payload, err := json.Marshal(MetadataEvent{
		Filename:   md.Filename,
		Duration:   md.Duration,
		FPS:        md.FPS,
		Width:      md.Width(),
		Height:     md.Height(),
		RecordedAt: now,
	})
	if err != nil {
		return fmt.Errorf("encode metadata event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(md.Filename),
		Value: payload,
		Time:  now,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish metadata event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
