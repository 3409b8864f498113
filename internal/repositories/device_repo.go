package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/wearsync/internal/models"
)

type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

// GetOrCreate upserts the device row and marks it as seen.
func (r *PostgresDeviceRepository) GetOrCreate(ctx context.Context, name string) (*models.Device, error) {
	query := `INSERT INTO devices (name, last_seen_at)
	          VALUES ($1, NOW())
	          ON CONFLICT (name) DO UPDATE SET last_seen_at = NOW()
	          RETURNING id, name, created_at, last_seen_at`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, models.DeviceName(name)).Scan(
		&device.ID,
		&device.Name,
		&device.CreatedAt,
		&device.LastSeenAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create device: %w", err)
	}
	return &device, nil
}

func (r *PostgresDeviceRepository) GetByName(ctx context.Context, name string) (*models.Device, error) {
	query := `SELECT id, name, created_at, last_seen_at
	          FROM devices
	          WHERE name = $1`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, name).Scan(
		&device.ID,
		&device.Name,
		&device.CreatedAt,
		&device.LastSeenAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}
