package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/wearsync/internal/models"
)

var telemetryColumns = []string{
	"device_id",
	"raw_timestamp",
	"recorded_at",
	"reported_device",
	"status",
	"battery",
	"steps",
	"max_g",
	"fall",
	"battery_level",
	"step_count",
	"max_g_value",
	"fall_detected",
	"ctx_user",
	"ctx_device",
	"ctx_event",
	"ctx_note",
	"server_time",
}

const selectTelemetry = `SELECT raw_timestamp, recorded_at, reported_device, status, battery, steps,
	                 max_g, fall, ctx_user, ctx_device, ctx_event, ctx_note, server_time
	          FROM telemetry_rows`

type PostgresTelemetryRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresTelemetryRepository(pool *pgxpool.Pool) *PostgresTelemetryRepository {
	return &PostgresTelemetryRepository{pool: pool}
}

// AppendRows streams the batch with a single COPY, which Postgres applies
// atomically.
func (r *PostgresTelemetryRepository) AppendRows(ctx context.Context, deviceID uuid.UUID, rows []models.EnrichedRow) error {
	if len(rows) == 0 {
		return nil
	}

	source := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		row := rows[i]
		return []any{
			deviceID,
			row.Timestamp,
			row.RecordedAt,
			row.DeviceID,
			row.Status,
			row.Battery,
			row.Steps,
			row.MaxG,
			row.Fall,
			row.BatteryLevel(),
			row.StepCount(),
			row.MaxGValue(),
			row.FallDetected(),
			row.MatchedUser,
			row.MatchedDevice,
			row.MatchedEvent,
			row.MatchedNote,
			row.ServerTime,
		}, nil
	})

	copied, err := r.pool.CopyFrom(ctx, pgx.Identifier{"telemetry_rows"}, telemetryColumns, source)
	if err != nil {
		return fmt.Errorf("failed to append telemetry rows: %w", err)
	}
	if copied != int64(len(rows)) {
		return fmt.Errorf("failed to append telemetry rows: wrote %d of %d", copied, len(rows))
	}
	return nil
}

// GetLatest returns the most recently appended row for the device.
func (r *PostgresTelemetryRepository) GetLatest(ctx context.Context, deviceID uuid.UUID) (*models.EnrichedRow, error) {
	query := selectTelemetry + `
	          WHERE device_id = $1
	          ORDER BY id DESC
	          LIMIT 1`

	row, err := scanTelemetry(r.pool.QueryRow(ctx, query, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest telemetry row: %w", err)
	}
	return row, nil
}

// ListRecent returns up to limit of the newest rows in insertion order.
func (r *PostgresTelemetryRepository) ListRecent(ctx context.Context, deviceID uuid.UUID, limit int) ([]models.EnrichedRow, error) {
	// The inner ORDER BY picks the newest window; the outer one restores
	// insertion order.
	query := `SELECT raw_timestamp, recorded_at, reported_device, status, battery, steps,
	                 max_g, fall, ctx_user, ctx_device, ctx_event, ctx_note, server_time
	          FROM (SELECT * FROM telemetry_rows
	                WHERE device_id = $1
	                ORDER BY id DESC
	                LIMIT $2) recent
	          ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry rows: %w", err)
	}
	defer rows.Close()

	var result []models.EnrichedRow
	for rows.Next() {
		row, err := scanTelemetry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		result = append(result, *row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry rows: %w", err)
	}

	return result, nil
}

func scanTelemetry(row pgx.Row) (*models.EnrichedRow, error) {
	var r models.EnrichedRow
	err := row.Scan(
		&r.Timestamp,
		&r.RecordedAt,
		&r.DeviceID,
		&r.Status,
		&r.Battery,
		&r.Steps,
		&r.MaxG,
		&r.Fall,
		&r.MatchedUser,
		&r.MatchedDevice,
		&r.MatchedEvent,
		&r.MatchedNote,
		&r.ServerTime,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
