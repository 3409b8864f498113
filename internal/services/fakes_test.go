package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/prudhvinik1/wearsync/internal/models"
	"github.com/prudhvinik1/wearsync/internal/repositories"
)

var errStoreDown = errors.New("connection refused")

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*models.Device
	err     error
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[string]*models.Device)}
}

func (f *fakeDeviceRepo) GetOrCreate(_ context.Context, name string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if d, ok := f.devices[name]; ok {
		return d, nil
	}
	d := &models.Device{ID: uuid.New(), Name: name}
	f.devices[name] = d
	return d, nil
}

func (f *fakeDeviceRepo) GetByName(_ context.Context, name string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.devices[name]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return d, nil
}

type fakeTelemetryRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID][]models.EnrichedRow
	appends int
	err     error
}

func newFakeTelemetryRepo() *fakeTelemetryRepo {
	return &fakeTelemetryRepo{rows: make(map[uuid.UUID][]models.EnrichedRow)}
}

func (f *fakeTelemetryRepo) AppendRows(_ context.Context, deviceID uuid.UUID, rows []models.EnrichedRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.appends++
	f.rows[deviceID] = append(f.rows[deviceID], rows...)
	return nil
}

func (f *fakeTelemetryRepo) GetLatest(_ context.Context, deviceID uuid.UUID) (*models.EnrichedRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rows[deviceID]
	if len(rows) == 0 {
		return nil, repositories.ErrNotFound
	}
	latest := rows[len(rows)-1]
	return &latest, nil
}

func (f *fakeTelemetryRepo) ListRecent(_ context.Context, deviceID uuid.UUID, limit int) ([]models.EnrichedRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rows[deviceID]
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return append([]models.EnrichedRow(nil), rows...), nil
}

type fakeAnnotationRepo struct {
	mu      sync.Mutex
	slots   map[string]models.PendingAnnotation
	writes  int
	getErr  error
	saveErr error
}

func newFakeAnnotationRepo() *fakeAnnotationRepo {
	return &fakeAnnotationRepo{slots: make(map[string]models.PendingAnnotation)}
}

func (f *fakeAnnotationRepo) GetPending(_ context.Context, deviceName string) (models.PendingAnnotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return models.PendingAnnotation{}, f.getErr
	}
	if a, ok := f.slots[deviceName]; ok {
		return a, nil
	}
	return models.ClearedAnnotation(deviceName), nil
}

func (f *fakeAnnotationRepo) SavePending(_ context.Context, deviceName string, annotation models.PendingAnnotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.writes++
	f.slots[deviceName] = annotation
	return nil
}

type fakeLocker struct {
	mu      sync.Mutex
	held    map[string]bool
	locks   int
	unlocks int
	err     error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Lock(_ context.Context, deviceName string) (repositories.UnlockFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.locks++
	f.held[deviceName] = true
	return func(context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unlocks++
		delete(f.held, deviceName)
		return nil
	}, nil
}

func (f *fakeLocker) isHeld(deviceName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[deviceName]
}

type fakePresenceRepo struct {
	mu      sync.Mutex
	entries map[string]models.Presence
	err     error
}

func newFakePresenceRepo() *fakePresenceRepo {
	return &fakePresenceRepo{entries: make(map[string]models.Presence)}
}

func (f *fakePresenceRepo) Touch(_ context.Context, presence models.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	presence.Status = string(models.StatusOnline)
	f.entries[presence.Device] = presence
	return nil
}

func (f *fakePresenceRepo) Get(_ context.Context, deviceName string) (models.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Presence{}, f.err
	}
	if p, ok := f.entries[deviceName]; ok {
		return p, nil
	}
	return models.OfflinePresence(deviceName), nil
}

func (f *fakePresenceRepo) GetBulk(ctx context.Context, deviceNames []string) (map[string]models.Presence, error) {
	out := make(map[string]models.Presence, len(deviceNames))
	for _, name := range deviceNames {
		p, err := f.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}
