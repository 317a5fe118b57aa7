// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Metadata sink backends.
const (
	SinkLog      = "log"
	SinkPostgres = "postgres"
	SinkKafka    = "kafka"
)

// Static errors for configuration validation.
var (
	// ErrDatabaseURLRequired is returned when METADATA_SINK=postgres and DATABASE_URL is not set.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required for the postgres metadata sink")
	// ErrKafkaBrokersRequired is returned when METADATA_SINK=kafka and KAFKA_BROKERS is not set.
	ErrKafkaBrokersRequired = errors.New("config: KAFKA_BROKERS is required for the kafka metadata sink")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Scratch space for in-flight items
	TempDir string `env:"TEMP_DIR, default=/tmp/videobatch" json:"temp_dir" validate:"required"`

	// Processing settings
	MaxParallelItems int           `env:"MAX_PARALLEL_ITEMS, default=1" json:"max_parallel_items" validate:"min=1"`
	StageTimeout     time.Duration `env:"STAGE_TIMEOUT, default=0s" json:"stage_timeout" validate:"min=0s"`
	Effect           string        `env:"EFFECT, default=blackwhite" json:"effect" validate:"required"`
	OutputPrefix     string        `env:"OUTPUT_PREFIX, default=bw_" json:"output_prefix" validate:"required"`
	ListSuffix       string        `env:"LIST_SUFFIX, default=.mp4" json:"list_suffix"`
	FFmpegPath       string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath      string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Blob store settings. S3 is used when bucket and region are set,
	// otherwise objects are read from and written to BlobDir.
	BlobDir            string `env:"BLOB_DIR, default=/tmp/videobatch/blobs" json:"blob_dir"`
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Metadata sink settings
	MetadataSink  string   `env:"METADATA_SINK, default=log" json:"metadata_sink" validate:"oneof=log postgres kafka"`
	DatabaseURL   string   `env:"DATABASE_URL" json:"-"` // Masked in JSON
	MetadataTable string   `env:"METADATA_TABLE, default=video_metadata" json:"metadata_table" validate:"required"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" json:"kafka_brokers,omitempty"`
	KafkaTopic    string   `env:"KAFKA_TOPIC, default=video.metadata" json:"kafka_topic"`

	// Tracing settings
	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" json:"otlp_endpoint,omitempty"`
	OTLPInsecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE, default=true" json:"otlp_insecure"`
	TraceSampleRatio float64 `env:"OTEL_TRACES_SAMPLER_RATIO, default=1.0" json:"trace_sample_ratio" validate:"min=0,max=1"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints and backend-specific requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.MetadataSink {
	case SinkPostgres:
		if c.DatabaseURL == "" {
			return ErrDatabaseURLRequired
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return ErrKafkaBrokersRequired
		}
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, MaxParallelItems: %d, StageTimeout: %s, Effect: %s, OutputPrefix: %s, S3Bucket: %s, S3Region: %s, BlobDir: %s, MetadataSink: %s, MetadataTable: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.MaxParallelItems,
		c.StageTimeout,
		c.Effect,
		c.OutputPrefix,
		c.S3Bucket,
		c.S3Region,
		c.BlobDir,
		c.MetadataSink,
		c.MetadataTable,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
