package watermark

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPostgresName is the row name used when none is configured.
const DefaultPostgresName = "velib_station_information"

const createTable = `
CREATE TABLE IF NOT EXISTS harvester_watermarks (
	name       TEXT PRIMARY KEY,
	value      BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const selectWatermark = `SELECT value FROM harvester_watermarks WHERE name = $1`

const upsertWatermark = `
INSERT INTO harvester_watermarks (name, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

// PostgresStore keeps the watermark as one row of harvester_watermarks.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresStore connects to dsn and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn, name string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create watermark table: %w", err)
	}
	if name == "" {
		name = DefaultPostgresName
	}
	return &PostgresStore{pool: pool, name: name}, nil
}

// Read implements Store.Read.
func (s *PostgresStore) Read(ctx context.Context) (int64, bool, error) {
	var v int64
	err := s.pool.QueryRow(ctx, selectWatermark, s.name).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Write implements Store.Write.
func (s *PostgresStore) Write(ctx context.Context, value int64) error {
	_, err := s.pool.Exec(ctx, upsertWatermark, s.name, value)
	return err
}

// Ping checks the database connection. Used for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
