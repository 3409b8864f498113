package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prudhvinik1/wearsync/internal/ingest"
	"github.com/prudhvinik1/wearsync/internal/models"
	"github.com/prudhvinik1/wearsync/internal/repositories"
	"go.uber.org/zap"
)

var (
	ErrStoreUnavailable  = errors.New("backing store unavailable")
	ErrInvalidAnnotation = errors.New("invalid annotation")
	ErrDeviceNotFound    = errors.New("device not found")
)

// unlockTimeout bounds lock release, which runs even when the request
// context is already cancelled.
const unlockTimeout = 5 * time.Second

type IngestService struct {
	devices     repositories.DeviceRepository
	telemetry   repositories.TelemetryRepository
	annotations repositories.AnnotationRepository
	locker      repositories.DeviceLocker
	presence    repositories.PresenceRepository
	correlator  *ingest.Correlator
	logger      *zap.Logger
	now         func() time.Time
}

type IngestResult struct {
	Device         string `json:"device"`
	RowsWritten    int    `json:"rows_written"`
	Dropped        int    `json:"dropped"`
	Matched        bool   `json:"matched"`
	MatchedRows    int    `json:"matched_rows"`
	PendingCleared bool   `json:"pending_cleared"`
	Empty          bool   `json:"empty"`
}

// DeviceLog is a device's stored rows plus its pending-annotation slot.
type DeviceLog struct {
	Device  *models.Device
	Rows    []models.EnrichedRow
	Pending models.PendingAnnotation
}

func NewIngestService(
	devices repositories.DeviceRepository,
	telemetry repositories.TelemetryRepository,
	annotations repositories.AnnotationRepository,
	locker repositories.DeviceLocker,
	presence repositories.PresenceRepository,
	correlator *ingest.Correlator,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		devices:     devices,
		telemetry:   telemetry,
		annotations: annotations,
		locker:      locker,
		presence:    presence,
		correlator:  correlator,
		logger:      logger,
		now:         time.Now,
	}
}

// RegisterAnnotation overwrites the device's pending annotation.
func (s *IngestService) RegisterAnnotation(ctx context.Context, req models.AnnotationRequest) (*models.PendingAnnotation, error) {
	req.User = strings.TrimSpace(req.User)
	req.Device = strings.TrimSpace(req.Device)
	req.Timestamp = strings.TrimSpace(req.Timestamp)

	if req.User == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidAnnotation)
	}
	if req.Device == "" {
		return nil, fmt.Errorf("%w: device is required", ErrInvalidAnnotation)
	}
	if _, err := ingest.ParseTimestamp(req.Timestamp, s.correlator.Location); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnnotation, err)
	}

	unlock, err := s.lock(ctx, req.Device)
	if err != nil {
		return nil, err
	}
	defer s.unlock(unlock, req.Device)

	if _, err := s.devices.GetOrCreate(ctx, req.Device); err != nil {
		return nil, storeError("failed to resolve device", err)
	}

	pending := req.ToPending()
	if err := s.annotations.SavePending(ctx, req.Device, pending); err != nil {
		return nil, storeError("failed to save annotation", err)
	}

	s.logger.Info("Annotation registered",
		zap.String("device", req.Device),
		zap.String("user", pending.User),
		zap.String("event", pending.Event),
		zap.String("event_timestamp", pending.EventTimestamp),
	)

	return &pending, nil
}

// Ingest parses a raw batch, stamps rows that fall near the device's pending
// annotation, appends the batch in one write and clears the annotation when
// it matched or went stale.
func (s *IngestService) Ingest(ctx context.Context, raw string) (*IngestResult, error) {
	batch := ingest.ParseBatch(raw)
	result := &IngestResult{Device: batch.DeviceID, Dropped: batch.Dropped}

	if batch.Empty() {
		result.Empty = true
		s.logger.Debug("Empty telemetry batch", zap.Int("dropped", batch.Dropped))
		return result, nil
	}

	unlock, err := s.lock(ctx, batch.DeviceID)
	if err != nil {
		return nil, err
	}
	defer s.unlock(unlock, batch.DeviceID)

	device, err := s.devices.GetOrCreate(ctx, batch.DeviceID)
	if err != nil {
		return nil, storeError("failed to resolve device", err)
	}

	pending, err := s.annotations.GetPending(ctx, device.Name)
	if err != nil {
		return nil, storeError("failed to load pending annotation", err)
	}
	if pending.IsPending() {
		if _, err := ingest.ParseTimestamp(pending.EventTimestamp, s.correlator.Location); err != nil {
			s.logger.Warn("Pending annotation has unreadable timestamp; ignoring it",
				zap.String("device", device.Name),
				zap.String("event_timestamp", pending.EventTimestamp),
			)
		}
	}

	serverTime := s.now().UTC()
	correlated := s.correlator.Correlate(batch.Rows, pending, serverTime)

	if err := s.telemetry.AppendRows(ctx, device.ID, correlated.Rows); err != nil {
		return nil, storeError("failed to append telemetry", err)
	}

	result.RowsWritten = len(correlated.Rows)
	result.Matched = correlated.Matched
	result.MatchedRows = correlated.MatchedRows()

	if correlated.ClearPending() {
		if err := s.annotations.SavePending(ctx, device.Name, models.ClearedAnnotation(device.Name)); err != nil {
			return nil, storeError("failed to clear pending annotation", err)
		}
		result.PendingCleared = true
	}

	s.touchPresence(ctx, device.Name, correlated.Rows, serverTime)

	s.logger.Info("Telemetry batch ingested",
		zap.String("device", device.Name),
		zap.Int("rows_written", result.RowsWritten),
		zap.Int("dropped", result.Dropped),
		zap.Bool("matched", result.Matched),
		zap.Int("matched_rows", result.MatchedRows),
		zap.Bool("stale", correlated.Stale),
		zap.Bool("pending_cleared", result.PendingCleared),
	)

	return result, nil
}

// GetPending returns the device's pending-annotation slot.
func (s *IngestService) GetPending(ctx context.Context, deviceName string) (models.PendingAnnotation, error) {
	pending, err := s.annotations.GetPending(ctx, models.DeviceName(deviceName))
	if err != nil {
		return models.PendingAnnotation{}, storeError("failed to load pending annotation", err)
	}
	return pending, nil
}

// GetDevicePresence reports whether one device uploaded within the presence
// TTL.
func (s *IngestService) GetDevicePresence(ctx context.Context, deviceName string) (models.Presence, error) {
	deviceName = models.DeviceName(strings.TrimSpace(deviceName))

	presence, err := s.presence.Get(ctx, deviceName)
	if err != nil {
		return models.Presence{}, storeError("failed to read presence", err)
	}
	return presence, nil
}

// GetPresence reports whether each named device uploaded within the presence
// TTL.
func (s *IngestService) GetPresence(ctx context.Context, deviceNames ...string) (map[string]models.Presence, error) {
	names := make([]string, 0, len(deviceNames))
	for _, name := range deviceNames {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	presence, err := s.presence.GetBulk(ctx, names)
	if err != nil {
		return nil, storeError("failed to read presence", err)
	}
	return presence, nil
}

// GetBattery returns the latest summary row of a device, or the "No Data"
// status when the device or its rows do not exist.
func (s *IngestService) GetBattery(ctx context.Context, deviceName string) (models.BatteryStatus, error) {
	if deviceName == "" {
		return models.NoBatteryData(), nil
	}

	device, err := s.devices.GetByName(ctx, deviceName)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.NoBatteryData(), nil
	}
	if err != nil {
		return models.BatteryStatus{}, storeError("failed to resolve device", err)
	}

	latest, err := s.telemetry.GetLatest(ctx, device.ID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.NoBatteryData(), nil
	}
	if err != nil {
		return models.BatteryStatus{}, storeError("failed to read latest row", err)
	}

	return models.BatteryStatus{
		Timestamp: latest.Timestamp,
		Device:    latest.DeviceID,
		Status:    latest.Status,
		Battery:   models.BatteryOf(latest.SensorRow),
	}, nil
}

// DeviceLog returns up to limit of the newest rows of a device together with
// its pending annotation.
func (s *IngestService) DeviceLog(ctx context.Context, deviceName string, limit int) (*DeviceLog, error) {
	device, err := s.devices.GetByName(ctx, deviceName)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceName)
	}
	if err != nil {
		return nil, storeError("failed to resolve device", err)
	}

	rows, err := s.telemetry.ListRecent(ctx, device.ID, limit)
	if err != nil {
		return nil, storeError("failed to list telemetry", err)
	}

	pending, err := s.annotations.GetPending(ctx, device.Name)
	if err != nil {
		return nil, storeError("failed to load pending annotation", err)
	}

	return &DeviceLog{Device: device, Rows: rows, Pending: pending}, nil
}

// touchPresence is best effort: the batch is already stored.
func (s *IngestService) touchPresence(ctx context.Context, deviceName string, rows []models.EnrichedRow, serverTime time.Time) {
	last := rows[len(rows)-1]
	err := s.presence.Touch(ctx, models.Presence{
		Device:   deviceName,
		LastSeen: serverTime,
		Activity: last.Status,
		Battery:  models.BatteryOf(last.SensorRow),
	})
	if err != nil {
		s.logger.Warn("Failed to update device presence", zap.String("device", deviceName), zap.Error(err))
	}
}

func (s *IngestService) lock(ctx context.Context, deviceName string) (repositories.UnlockFunc, error) {
	unlock, err := s.locker.Lock(ctx, deviceName)
	if err != nil {
		return nil, storeError("failed to lock device", err)
	}
	return unlock, nil
}

func (s *IngestService) unlock(unlock repositories.UnlockFunc, deviceName string) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	if err := unlock(ctx); err != nil {
		s.logger.Warn("Failed to release device lock", zap.String("device", deviceName), zap.Error(err))
	}
}

func storeError(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, ErrStoreUnavailable, err)
}
