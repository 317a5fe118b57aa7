package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maauso/videobatch-api/internal/media"
)

// ErrTableRequired is returned when no table name is configured.
var ErrTableRequired = errors.New("sink: table name is required")

// Execer is the subset of *pgxpool.Pool used by PostgresSink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewDBPool opens a pgx connection pool for databaseURL.
func NewDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Compile-time check that PostgresSink implements Sink.
var _ Sink = (*PostgresSink)(nil)

// PostgresSink inserts one row per record into a metadata table with
// columns (filename, duration, fps, width, height).
type PostgresSink struct {
	db    Execer
	table string // sanitized, possibly schema-qualified
}

// NewPostgresSink creates a PostgresSink writing to table.
// table may be schema-qualified ("analytics.video_metadata").
func NewPostgresSink(db Execer, table string) (*PostgresSink, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, ErrTableRequired
	}
	return &PostgresSink{
		db:    db,
		table: pgx.Identifier(strings.Split(table, ".")).Sanitize(),
	}, nil
}

// EnsureTable creates the metadata table if it does not exist.
func (s *PostgresSink) EnsureTable(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	id BIGSERIAL PRIMARY KEY,
	filename TEXT NOT NULL,
	duration DOUBLE PRECISION NOT NULL,
	fps DOUBLE PRECISION NOT NULL,
	width INTEGER,
	height INTEGER,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create metadata table: %w", err)
	}
	return nil
}

// Record inserts md. Width and height are NULL when the resolution is unknown.
func (s *PostgresSink) Record(ctx context.Context, md media.Metadata) error {
	query := `INSERT INTO ` + s.table + ` (filename, duration, fps, width, height) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.Exec(ctx, query, md.Filename, md.Duration, md.FPS, md.Width(), md.Height()); err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	return nil
}
