package scheduler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/events"
	"agent-triggers/internal/locks"
	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
	"agent-triggers/internal/storage/memory"
	"agent-triggers/internal/storage/storetest"
	"agent-triggers/internal/testutil"
	"agent-triggers/internal/triggers"
)

var now = time.Date(2024, 3, 11, 14, 0, 0, 0, time.UTC)

// racingStore runs beforeClaim ahead of every claim, standing in for a
// concurrent edit or another worker
type racingStore struct {
	storage.Store
	beforeClaim func()
}

func (r *racingStore) ClaimScheduleRun(ctx context.Context, id string, expectedVersion int64, firedAt time.Time, next *time.Time) error {
	if r.beforeClaim != nil {
		r.beforeClaim()
	}
	return r.Store.ClaimScheduleRun(ctx, id, expectedVersion, firedAt, next)
}

type harness struct {
	scheduler  *Scheduler
	store      *memory.Store
	racing     *racingStore
	dispatcher *testutil.RecordingDispatcher
	locks      *locks.LocalManager
}

func newHarness(t *testing.T, opts ...testutil.FixtureOption) *harness {
	t.Helper()

	store := memory.New()
	testutil.SeedDirectory(t, store, "ops@acme.com", opts...)

	racing := &racingStore{Store: store}
	logger := logging.NewNopLogger()
	d := testutil.NewRecordingDispatcher()
	lm := locks.NewLocalManager()
	t.Cleanup(func() { _ = lm.Close() })

	s := New(racing, events.NewManager(store, logger), d, lm, Config{Tick: 10 * time.Millisecond, Batch: 10}, logger)
	s.now = func() time.Time { return now }

	return &harness{scheduler: s, store: store, racing: racing, dispatcher: d, locks: lm}
}

func (h *harness) addSchedule(t *testing.T, next time.Time) *models.Schedule {
	t.Helper()
	sch := storetest.NewSchedule("agent-1", &next)
	sch.Timezone = "UTC"
	require.NoError(t, h.store.CreateSchedule(context.Background(), sch))
	return sch
}

func (h *harness) events(t *testing.T) []*models.TriggerEvent {
	t.Helper()
	list, _, err := h.store.ListTriggerEvents(context.Background(), models.TriggerEventFilter{AgentID: "agent-1", Limit: 50})
	require.NoError(t, err)
	return list
}

func TestScheduler_FiresDueSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sch := h.addSchedule(t, now.Add(-time.Minute))

	n, err := h.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reqs := h.dispatcher.Requests()
	require.Len(t, reqs, 1)
	var input triggers.AgentInput
	require.NoError(t, json.Unmarshal(reqs[0].Payload, &input))
	assert.Equal(t, models.SourceTypeSchedule, input.Source.SourceType)
	assert.Equal(t, "schedule:"+sch.ID, input.Source.TriggerID)
	require.NotNil(t, input.Input)
	assert.Equal(t, "daily report", *input.Input)
	assert.Equal(t, "2024-03-11T13:59:00Z", input.Event["scheduledFor"])

	list := h.events(t)
	require.Len(t, list, 1)
	assert.Equal(t, models.TriggerEventFired, list[0].Status)
	assert.Equal(t, IntegrationKey, list[0].IntegrationKey)

	stored, err := h.store.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.RunCount)
	assert.Equal(t, int64(2), stored.Version)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC).Equal(*stored.NextRunAt))
	require.NotNil(t, stored.LastRunAt)
	assert.True(t, now.Equal(*stored.LastRunAt))

	n, err = h.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.dispatcher.Requests(), 1)
}

func TestScheduler_IgnoresFutureSchedules(t *testing.T) {
	h := newHarness(t)
	h.addSchedule(t, now.Add(time.Minute))

	n, err := h.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.events(t))
}

func TestScheduler_DisabledAgentIsSkipped(t *testing.T) {
	h := newHarness(t, testutil.WithDisabledAgent())
	ctx := context.Background()
	sch := h.addSchedule(t, now.Add(-time.Minute))

	n, err := h.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.dispatcher.Requests())

	list := h.events(t)
	require.Len(t, list, 1)
	assert.Equal(t, models.TriggerEventSkipped, list[0].Status)
	require.NotNil(t, list[0].ErrorMessage)
	assert.Equal(t, "agent agent-1 is disabled", *list[0].ErrorMessage)

	stored, err := h.store.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextRunAt.After(now))
}

func TestScheduler_ConcurrentEditAbandonsFiring(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sch := h.addSchedule(t, now.Add(-time.Minute))

	h.racing.beforeClaim = func() {
		edited, err := h.store.GetSchedule(ctx, sch.ID)
		require.NoError(t, err)
		edited.CronExpr = "30 10 * * *"
		require.NoError(t, h.store.UpdateSchedule(ctx, edited))
	}

	n, err := h.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.events(t))
	assert.Empty(t, h.dispatcher.Requests())
}

func TestScheduler_DispatchFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sch := h.addSchedule(t, now.Add(-time.Minute))
	h.dispatcher.SetErr(stderrors.New("runner unavailable"))

	n, err := h.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list := h.events(t)
	require.Len(t, list, 1)
	assert.Equal(t, models.TriggerEventFailed, list[0].Status)

	stored, err := h.store.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.RunCount)
}

func TestScheduler_UnevaluableScheduleIsDeactivated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	next := now.Add(-time.Minute)
	sch := storetest.NewSchedule("agent-1", &next)
	sch.Timezone = "Mars/Olympus_Mons"
	require.NoError(t, h.store.CreateSchedule(ctx, sch))

	n, err := h.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.dispatcher.Requests())

	list := h.events(t)
	require.Len(t, list, 1)
	assert.Equal(t, models.TriggerEventFailed, list[0].Status)

	stored, err := h.store.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Nil(t, stored.NextRunAt)

	n, err = h.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_TickLockHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addSchedule(t, now.Add(-time.Minute))

	lock, ok, err := h.locks.TryAcquireLock(ctx, tickLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := h.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.events(t))

	require.NoError(t, lock.Release(ctx))
	n, err = h.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScheduler_StartStop(t *testing.T) {
	h := newHarness(t)
	h.addSchedule(t, now.Add(-time.Minute))

	require.NoError(t, h.scheduler.Start(context.Background()))
	assert.ErrorIs(t, h.scheduler.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, h.scheduler.IsRunning())

	assert.Eventually(t, func() bool {
		return len(h.dispatcher.Requests()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.scheduler.Stop())
	assert.False(t, h.scheduler.IsRunning())
	assert.ErrorIs(t, h.scheduler.Stop(), ErrNotRunning)
	assert.Len(t, h.dispatcher.Requests(), 1)
}
