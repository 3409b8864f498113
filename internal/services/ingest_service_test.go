package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prudhvinik1/wearsync/internal/ingest"
	"github.com/prudhvinik1/wearsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)

type testEnv struct {
	svc         *IngestService
	devices     *fakeDeviceRepo
	telemetry   *fakeTelemetryRepo
	annotations *fakeAnnotationRepo
	locker      *fakeLocker
	presence    *fakePresenceRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		devices:     newFakeDeviceRepo(),
		telemetry:   newFakeTelemetryRepo(),
		annotations: newFakeAnnotationRepo(),
		locker:      newFakeLocker(),
		presence:    newFakePresenceRepo(),
	}
	env.svc = NewIngestService(env.devices, env.telemetry, env.annotations, env.locker, env.presence, ingest.DefaultCorrelator(), zap.NewNop())
	env.svc.now = func() time.Time { return fixedNow }
	return env
}

func (e *testEnv) storedRows(t *testing.T, device string) []models.EnrichedRow {
	t.Helper()
	d, err := e.devices.GetByName(context.Background(), device)
	require.NoError(t, err)
	rows, err := e.telemetry.ListRecent(context.Background(), d.ID, 1000)
	require.NoError(t, err)
	return rows
}

func aliceRequest() models.AnnotationRequest {
	return models.AnnotationRequest{
		User:      "alice",
		Device:    "D1",
		Event:     "fall_test",
		Context:   "off the couch",
		Timestamp: "2024-01-01 10:00:00",
	}
}

func TestRegisterAnnotation_StoresSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending, err := env.svc.RegisterAnnotation(ctx, aliceRequest())

	require.NoError(t, err)
	assert.Equal(t, models.PendingAnnotation{
		User:           "alice",
		DeviceID:       "D1",
		Event:          "fall_test",
		Note:           "off the couch",
		EventTimestamp: "2024-01-01 10:00:00",
	}, *pending)
	assert.Equal(t, *pending, env.annotations.slots["D1"])
	assert.Equal(t, 1, env.locker.locks)
	assert.Equal(t, 1, env.locker.unlocks)

	_, err = env.devices.GetByName(ctx, "D1")
	assert.NoError(t, err, "registering creates the device store")
}

func TestRegisterAnnotation_Overwrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.RegisterAnnotation(ctx, aliceRequest())
	require.NoError(t, err)

	req := aliceRequest()
	req.User = "bob"
	req.Event = ""
	req.Context = ""
	_, err = env.svc.RegisterAnnotation(ctx, req)
	require.NoError(t, err)

	got := env.annotations.slots["D1"]
	assert.Equal(t, "bob", got.User)
	assert.Empty(t, got.Event)
	assert.Empty(t, got.Note)
}

func TestRegisterAnnotation_Validation(t *testing.T) {
	cases := map[string]func(r *models.AnnotationRequest){
		"missing user":      func(r *models.AnnotationRequest) { r.User = " " },
		"missing device":    func(r *models.AnnotationRequest) { r.Device = "" },
		"missing timestamp": func(r *models.AnnotationRequest) { r.Timestamp = "" },
		"bad timestamp":     func(r *models.AnnotationRequest) { r.Timestamp = "soon" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			req := aliceRequest()
			mutate(&req)

			_, err := env.svc.RegisterAnnotation(context.Background(), req)

			assert.ErrorIs(t, err, ErrInvalidAnnotation)
			assert.Zero(t, env.annotations.writes)
			assert.Zero(t, env.locker.locks)
		})
	}
}

func TestIngest_MatchStampsRowsAndClearsPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.RegisterAnnotation(ctx, aliceRequest())
	require.NoError(t, err)

	result, err := env.svc.Ingest(ctx, "2024-01-01 10:00:02,D1,OK,87,120,1.2,0\n")

	require.NoError(t, err)
	assert.Equal(t, &IngestResult{
		Device:         "D1",
		RowsWritten:    1,
		Matched:        true,
		MatchedRows:    1,
		PendingCleared: true,
	}, result)

	rows := env.storedRows(t, "D1")
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].MatchedUser)
	assert.Equal(t, "D1", rows[0].MatchedDevice)
	assert.Equal(t, "fall_test", rows[0].MatchedEvent)
	assert.Equal(t, "off the couch", rows[0].MatchedNote)
	assert.Equal(t, fixedNow, rows[0].ServerTime)

	assert.Equal(t, models.ClearedAnnotation("D1"), env.annotations.slots["D1"])
	assert.False(t, env.locker.isHeld("D1"))
}

func TestIngest_SingleAppendPerBatch(t *testing.T) {
	env := newTestEnv(t)
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString(time.Date(2024, 1, 1, 12, 0, i, 0, time.UTC).Format("2006-01-02 15:04:05"))
		b.WriteString(",Device_Watchc01,RESTING,80,10,1.00,0\n")
	}

	result, err := env.svc.Ingest(context.Background(), b.String())

	require.NoError(t, err)
	assert.Equal(t, 30, result.RowsWritten)
	assert.Equal(t, 1, env.telemetry.appends)
	assert.Zero(t, env.annotations.writes, "no pending annotation, nothing to clear")
	assert.Len(t, env.storedRows(t, "Device_Watchc01"), 30)
}

func TestIngest_RowsWrittenCountsWellFormedLines(t *testing.T) {
	env := newTestEnv(t)
	raw := "2024-01-01 10:00:00,D1,OK,87,120,1.2,0\n" +
		"\n" +
		"junk\n" +
		"2024-01-01 10:00:01,D1,OK\n" +
		"Time_Syncing,D1,OK,87,120,1.2,0\n"

	result, err := env.svc.Ingest(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsWritten)
	assert.Equal(t, 1, result.Dropped)
	rows := env.storedRows(t, "D1")
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1].RecordedAt, "unparseable timestamp is stored but not interpreted")
}

func TestIngest_StaleAnnotationCleared(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.RegisterAnnotation(ctx, aliceRequest())
	require.NoError(t, err)

	result, err := env.svc.Ingest(ctx, "2024-01-01 10:00:15,D1,OK,87,120,1.2,0\n")

	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.True(t, result.PendingCleared)
	assert.False(t, env.annotations.slots["D1"].IsPending())
	assert.False(t, env.storedRows(t, "D1")[0].IsMatched())
}

func TestIngest_RecentAnnotationKept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registered, err := env.svc.RegisterAnnotation(ctx, aliceRequest())
	require.NoError(t, err)

	result, err := env.svc.Ingest(ctx, "2024-01-01 10:00:05,D1,OK,87,120,1.2,0\n")

	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.False(t, result.PendingCleared)
	assert.Equal(t, *registered, env.annotations.slots["D1"])
	assert.Equal(t, 1, env.annotations.writes, "only the registration wrote the slot")
}

func TestIngest_BoundaryNeedsTrailingRowForStaleness(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.RegisterAnnotation(ctx, aliceRequest())
	require.NoError(t, err)

	result, err := env.svc.Ingest(ctx, "2024-01-01 10:00:10,D1,OK,87,120,1.2,0\n")
	require.NoError(t, err)
	assert.False(t, result.PendingCleared)

	result, err = env.svc.Ingest(ctx, "2024-01-01 10:00:10,D1,OK,87,120,1.2,0\n2024-01-01 10:00:20,D1,OK,87,121,1.2,0\n")
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.True(t, result.PendingCleared)
}

func TestIngest_EmptyBatchTouchesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.RegisterAnnotation(ctx, aliceRequest())
	require.NoError(t, err)
	locksBefore := env.locker.locks

	result, err := env.svc.Ingest(ctx, "\n  \nabc\n")

	require.NoError(t, err)
	assert.True(t, result.Empty)
	assert.Zero(t, result.RowsWritten)
	assert.Equal(t, models.UnknownDevice, result.Device)
	assert.Zero(t, env.telemetry.appends)
	assert.Equal(t, 1, env.annotations.writes)
	assert.Equal(t, locksBefore, env.locker.locks)
}

func TestIngest_UnknownDeviceFallback(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.Ingest(context.Background(), "2024-01-01 10:00:00,,OK,87,120,1.2,0\n")

	require.NoError(t, err)
	assert.Equal(t, models.UnknownDevice, result.Device)
	assert.Len(t, env.storedRows(t, models.UnknownDevice), 1)
}

func TestIngest_StoreFailures(t *testing.T) {
	raw := "2024-01-01 10:00:02,D1,OK,87,120,1.2,0\n"

	t.Run("lock", func(t *testing.T) {
		env := newTestEnv(t)
		env.locker.err = errStoreDown

		_, err := env.svc.Ingest(context.Background(), raw)

		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.ErrorIs(t, err, errStoreDown)
	})

	t.Run("device", func(t *testing.T) {
		env := newTestEnv(t)
		env.devices.err = errStoreDown

		_, err := env.svc.Ingest(context.Background(), raw)

		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.Equal(t, 1, env.locker.unlocks)
	})

	t.Run("pending read", func(t *testing.T) {
		env := newTestEnv(t)
		env.annotations.getErr = errStoreDown

		_, err := env.svc.Ingest(context.Background(), raw)

		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.Zero(t, env.telemetry.appends)
	})

	t.Run("append keeps pending", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		_, err := env.svc.RegisterAnnotation(ctx, aliceRequest())
		require.NoError(t, err)
		env.telemetry.err = errStoreDown

		_, err = env.svc.Ingest(ctx, raw)

		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.True(t, env.annotations.slots["D1"].IsPending(), "pending must survive a failed append")
		assert.Equal(t, 1, env.annotations.writes)
	})

	t.Run("clear", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		_, err := env.svc.RegisterAnnotation(ctx, aliceRequest())
		require.NoError(t, err)
		env.annotations.saveErr = errStoreDown

		_, err = env.svc.Ingest(ctx, raw)

		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestGetBattery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status, err := env.svc.GetBattery(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, models.NoBatteryData(), status)

	_, err = env.svc.Ingest(ctx, "2024-01-01 10:00:00,D1,RESTING,87,120,1.0,0\n2024-01-01 10:00:01,D1,MOVING,86,121,1.4,0\n")
	require.NoError(t, err)

	status, err = env.svc.GetBattery(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, models.BatteryStatus{
		Timestamp: "2024-01-01 10:00:01",
		Device:    "D1",
		Status:    "MOVING",
		Battery:   86,
	}, status)

	status, err = env.svc.GetBattery(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "No Data", status.Status)
}

func TestGetBattery_StoreDown(t *testing.T) {
	env := newTestEnv(t)
	env.devices.err = errStoreDown

	_, err := env.svc.GetBattery(context.Background(), "D1")

	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestDeviceLog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.DeviceLog(ctx, "D1", 10)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = env.svc.Ingest(ctx, "2024-01-01 10:00:00,D1,RESTING,87,120,1.0,0\n2024-01-01 10:00:01,D1,MOVING,86,121,1.4,0\n")
	require.NoError(t, err)
	_, err = env.svc.RegisterAnnotation(ctx, aliceRequest())
	require.NoError(t, err)

	log, err := env.svc.DeviceLog(ctx, "D1", 1)

	require.NoError(t, err)
	assert.Equal(t, "D1", log.Device.Name)
	require.Len(t, log.Rows, 1)
	assert.Equal(t, "2024-01-01 10:00:01", log.Rows[0].Timestamp)
	assert.Equal(t, "alice", log.Pending.User)
}

func TestIngest_RefreshesPresence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before, err := env.svc.GetPresence(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusOffline), before["D1"].Status)

	_, err = env.svc.Ingest(ctx, "2024-01-01 10:00:00,D1,RESTING,87,120,1.0,0\n2024-01-01 10:00:01,D1,MOVING,86,121,1.4,0\n")
	require.NoError(t, err)

	after, err := env.svc.GetPresence(ctx, "D1", " ", "D2")
	require.NoError(t, err)
	assert.Len(t, after, 2)
	assert.Equal(t, models.Presence{
		Device:   "D1",
		Status:   string(models.StatusOnline),
		LastSeen: fixedNow,
		Activity: "MOVING",
		Battery:  86,
	}, after["D1"])
	assert.Equal(t, models.OfflinePresence("D2"), after["D2"])
}

func TestIngest_PresenceFailureDoesNotFailBatch(t *testing.T) {
	env := newTestEnv(t)
	env.presence.err = errStoreDown

	result, err := env.svc.Ingest(context.Background(), "2024-01-01 10:00:00,D1,RESTING,87,120,1.0,0\n")

	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsWritten)
	assert.Len(t, env.storedRows(t, "D1"), 1)

	_, err = env.svc.GetPresence(context.Background(), "D1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestIngest_KeepsRowsWithUnreadableValues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.RegisterAnnotation(ctx, aliceRequest())
	require.NoError(t, err)

	raw := "Timestamp,D1,Status,Battery,Steps,MaxG,Fall\n" +
		"2024-01-01 10:00:01,D1,OK,87.5,120,1.2,0\n" +
		"2024-01-01 10:00:02,D1,OK,,121,1.3,0\n" +
		"2024-01-01 10:00:03,D1,OK,86,122,1.4,NO\n"

	result, err := env.svc.Ingest(ctx, raw)

	require.NoError(t, err)
	assert.False(t, result.Empty)
	assert.Equal(t, 4, result.RowsWritten)
	assert.Zero(t, result.Dropped)
	assert.True(t, result.Matched)
	assert.Equal(t, 3, result.MatchedRows)
	assert.True(t, result.PendingCleared)

	rows := env.storedRows(t, "D1")
	require.Len(t, rows, 4)
	assert.Equal(t, "Battery", rows[0].Battery)
	assert.False(t, rows[0].IsMatched(), "unparseable timestamp never matches")
	assert.Equal(t, "87.5", rows[1].Battery)
	assert.Equal(t, "NO", rows[3].Fall)

	status, err := env.svc.GetBattery(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, 86.0, status.Battery)
}

func TestGetBattery_FractionalAndMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Ingest(ctx, "2024-01-01 10:00:00,D1,OK,87.5,120,1.0,0\n")
	require.NoError(t, err)
	status, err := env.svc.GetBattery(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, 87.5, status.Battery)

	_, err = env.svc.Ingest(ctx, "2024-01-01 10:00:01,D1,OK,,121,1.0,0\n")
	require.NoError(t, err)
	status, err = env.svc.GetBattery(ctx, "D1")
	require.NoError(t, err)
	assert.Zero(t, status.Battery)
	assert.Equal(t, "2024-01-01 10:00:01", status.Timestamp)
}

func TestGetDevicePresence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	presence, err := env.svc.GetDevicePresence(ctx, " D1 ")
	require.NoError(t, err)
	assert.Equal(t, models.OfflinePresence("D1"), presence)

	_, err = env.svc.Ingest(ctx, "2024-01-01 10:00:00,D1,RESTING,87.5,120,1.0,0\n")
	require.NoError(t, err)

	presence, err = env.svc.GetDevicePresence(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusOnline), presence.Status)
	assert.Equal(t, 87.5, presence.Battery)
	assert.Equal(t, fixedNow, presence.LastSeen)

	env.presence.err = errStoreDown
	_, err = env.svc.GetDevicePresence(ctx, "D1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
