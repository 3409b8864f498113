package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prudhvinik1/wearsync/internal/models"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrLockTimeout = errors.New("timed out waiting for device lock")
)

type DeviceRepository interface {
	// GetOrCreate resolves the store for a device name, creating it on first use.
	GetOrCreate(ctx context.Context, name string) (*models.Device, error)
	GetByName(ctx context.Context, name string) (*models.Device, error)
}

type TelemetryRepository interface {
	// AppendRows writes the whole batch in one order-preserving operation.
	// Either every row is stored or none is.
	AppendRows(ctx context.Context, deviceID uuid.UUID, rows []models.EnrichedRow) error
	GetLatest(ctx context.Context, deviceID uuid.UUID) (*models.EnrichedRow, error)
	ListRecent(ctx context.Context, deviceID uuid.UUID, limit int) ([]models.EnrichedRow, error)
}

type AnnotationRepository interface {
	GetPending(ctx context.Context, deviceName string) (models.PendingAnnotation, error)
	SavePending(ctx context.Context, deviceName string, annotation models.PendingAnnotation) error
}

type PresenceRepository interface {
	Touch(ctx context.Context, presence models.Presence) error
	Get(ctx context.Context, deviceName string) (models.Presence, error)
	GetBulk(ctx context.Context, deviceNames []string) (map[string]models.Presence, error)
}

// UnlockFunc releases a device lock. It is safe to call more than once.
type UnlockFunc func(ctx context.Context) error

type DeviceLocker interface {
	Lock(ctx context.Context, deviceName string) (UnlockFunc, error)
}
