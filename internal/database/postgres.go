package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	MaxConns        = 10
	MinConns        = 2
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

func NewPostgresPool(ctx context.Context, databaseURL string, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing postgres config: %w", err)
	}

	// Configure the pool
	config.MaxConns = MaxConns
	config.MinConns = MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging postgres pool: %w", err)
	}

	logger.Info("Postgres pool created",
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database),
		zap.Int32("max_conns", config.MaxConns),
	)

	return pool, nil
}

// schema holds the tables backing device stores. Statements are idempotent
// so EnsureSchema can run on every start. Sensor values are stored as sent;
// the *_level, *_count, *_value and *_detected columns hold the parsed value
// or NULL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name         TEXT NOT NULL UNIQUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS telemetry_rows (
		id              BIGSERIAL PRIMARY KEY,
		device_id       UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		raw_timestamp   TEXT NOT NULL,
		recorded_at     TIMESTAMPTZ,
		reported_device TEXT NOT NULL,
		status          TEXT NOT NULL,
		battery         TEXT NOT NULL,
		steps           TEXT NOT NULL,
		max_g           TEXT NOT NULL,
		fall            TEXT NOT NULL,
		battery_level   DOUBLE PRECISION,
		step_count      BIGINT,
		max_g_value     DOUBLE PRECISION,
		fall_detected   BOOLEAN,
		ctx_user        TEXT NOT NULL DEFAULT '',
		ctx_device      TEXT NOT NULL DEFAULT '',
		ctx_event       TEXT NOT NULL DEFAULT '',
		ctx_note        TEXT NOT NULL DEFAULT '',
		server_time     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS telemetry_rows_device_id_idx ON telemetry_rows (device_id, id)`,
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
