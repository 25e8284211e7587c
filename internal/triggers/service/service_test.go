package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/validation"
	"agent-triggers/internal/events"
	"agent-triggers/internal/models"
	"agent-triggers/internal/storage/memory"
	"agent-triggers/internal/testutil"
	"agent-triggers/internal/triggers"
)

var now = time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc        *Service
	store      *memory.Store
	dispatcher *testutil.RecordingDispatcher
}

func newFixture(t *testing.T, opts ...testutil.FixtureOption) *fixture {
	t.Helper()

	store := memory.New()
	testutil.SeedDirectory(t, store, "ops@acme.com", opts...)

	logger := logging.NewNopLogger()
	d := testutil.NewRecordingDispatcher()
	svc := New(store, events.NewManager(store, logger), d, triggers.NewFilterEvaluator(time.Minute), validation.New(), logger)
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, store: store, dispatcher: d}
}

func boolPtr(b bool) *bool { return &b }
func strPtr(s string) *string { return &s }
func raw(s string) json.RawMessage { return json.RawMessage(s) }

func nextRunAt(t *testing.T, u *models.UnifiedTrigger) time.Time {
	t.Helper()
	next, ok := u.Config["nextRunAt"].(time.Time)
	require.True(t, ok, "nextRunAt missing from %v", u.Config)
	return next
}

func (f *fixture) createSchedule(t *testing.T, active bool) *models.UnifiedTrigger {
	t.Helper()
	u, err := f.svc.CreateSchedule(context.Background(), CreateScheduleRequest{
		AgentID:       "agent-1",
		Name:          "morning digest",
		CronExpr:      "0 9 * * *",
		Timezone:      "UTC",
		InputDefaults: raw(`{"input":"summarize yesterday","maxSteps":5}`),
		IsActive:      boolPtr(active),
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) createEventTrigger(t *testing.T) *models.UnifiedTrigger {
	t.Helper()
	u, err := f.svc.CreateEventTrigger(context.Background(), CreateEventTriggerRequest{
		AgentID:      "agent-1",
		Name:         "on ticket",
		TriggerType:  models.TriggerTypeEvent,
		EventName:    "ticket.created",
		InputMapping: raw(`{"defaults":{"input":"triage the ticket"},"fields":{"title":"ticket.title"}}`),
	})
	require.NoError(t, err)
	return u
}

func TestService_CreateSchedule(t *testing.T) {
	f := newFixture(t)

	u := f.createSchedule(t, true)
	assert.Equal(t, models.SourceTypeSchedule, u.SourceType)
	assert.Equal(t, "schedule:"+u.SourceID, u.ID)
	assert.True(t, time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC).Equal(nextRunAt(t, u)))
	require.NotNil(t, u.InputDefaults.MaxSteps)
	assert.Equal(t, 5, *u.InputDefaults.MaxSteps)

	stored, err := f.store.GetSchedule(context.Background(), u.SourceID)
	require.NoError(t, err)
	assert.Equal(t, "ws-1", stored.WorkspaceID)
}

func TestService_CreateScheduleRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSchedule(ctx, CreateScheduleRequest{AgentID: "agent-1", Name: "x", CronExpr: "not a cron"})
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidScheduleConfig))

	_, err = f.svc.CreateSchedule(ctx, CreateScheduleRequest{AgentID: "agent-1", Name: "x", CronExpr: "0 9 * * *", Timezone: "Mars/Base"})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation) || errors.IsType(err, errors.ErrTypeInvalidScheduleConfig))

	_, err = f.svc.CreateSchedule(ctx, CreateScheduleRequest{AgentID: "missing", Name: "x", CronExpr: "0 9 * * *"})
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = f.svc.CreateSchedule(ctx, CreateScheduleRequest{AgentID: "agent-1", CronExpr: "0 9 * * *"})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestService_CreateEventTriggerSetsDefaultInput(t *testing.T) {
	f := newFixture(t)

	u := f.createEventTrigger(t)
	stored, err := f.store.GetEventTrigger(context.Background(), u.SourceID)
	require.NoError(t, err)
	require.NotNil(t, stored.InputMapping)
	require.NotNil(t, stored.InputMapping.DefaultInput)
	assert.Equal(t, "triage the ticket", *stored.InputMapping.DefaultInput)
	assert.Equal(t, "ticket.title", stored.InputMapping.Fields["title"])
}

func TestService_CreateWebhookTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateEventTrigger(ctx, CreateEventTriggerRequest{
		AgentID: "agent-1", Name: "hook", TriggerType: models.TriggerTypeWebhook,
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	u, err := f.svc.CreateEventTrigger(ctx, CreateEventTriggerRequest{
		AgentID: "agent-1", Name: "hook", TriggerType: models.TriggerTypeWebhook, WebhookPath: "/deploys/",
	})
	require.NoError(t, err)
	assert.Equal(t, "deploys", u.Config["webhookPath"])

	_, err = f.svc.CreateEventTrigger(ctx, CreateEventTriggerRequest{
		AgentID: "agent-1", Name: "hook again", TriggerType: models.TriggerTypeWebhook, WebhookPath: "deploys",
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))
}

func TestService_CreatedIDsRoundTrip(t *testing.T) {
	f := newFixture(t)

	for _, u := range []*models.UnifiedTrigger{f.createSchedule(t, true), f.createEventTrigger(t)} {
		sourceType, sourceID, err := triggers.DecodeID(u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.SourceType, sourceType)
		assert.Equal(t, u.SourceID, sourceID)

		encoded, err := triggers.EncodeID(sourceType, sourceID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, encoded)
	}
}

func TestService_CreateEventTriggerRejectsBadFilter(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateEventTrigger(context.Background(), CreateEventTriggerRequest{
		AgentID: "agent-1", Name: "x", TriggerType: models.TriggerTypeEvent, EventName: "a.b",
		Filter: raw(`{"expression":"event.(("}`),
	})
	require.Error(t, err)
}

func TestService_UpdateEmptyEventNameLeavesTriggerUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createEventTrigger(t)

	_, err := f.svc.Update(ctx, u.ID, UpdateRequest{Config: &UpdateConfig{EventName: strPtr("")}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidInputMapping))

	stored, err := f.store.GetEventTrigger(ctx, u.SourceID)
	require.NoError(t, err)
	assert.Equal(t, "ticket.created", stored.EventName)
	assert.Equal(t, int64(1), stored.Version)
}

func TestService_UpdateEventTriggerMergesMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createEventTrigger(t)

	updated, err := f.svc.Update(ctx, u.ID, UpdateRequest{
		Input:        strPtr("escalate the ticket"),
		InputMapping: raw(`{"fields":{"priority":"ticket.priority"}}`),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.InputDefaults.Input)
	assert.Equal(t, "escalate the ticket", *updated.InputDefaults.Input)

	stored, err := f.store.GetEventTrigger(ctx, u.SourceID)
	require.NoError(t, err)
	assert.Equal(t, "ticket.title", stored.InputMapping.Fields["title"])
	assert.Equal(t, "ticket.priority", stored.InputMapping.Fields["priority"])
	assert.Equal(t, "escalate the ticket", *stored.InputMapping.DefaultInput)
	assert.Equal(t, int64(2), stored.Version)
}

func TestService_UpdateNullClearsFilterAndMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createEventTrigger(t)

	_, err := f.svc.Update(ctx, u.ID, UpdateRequest{Filter: raw(`{"match":{"ticket.priority":"high"}}`)})
	require.NoError(t, err)
	stored, err := f.store.GetEventTrigger(ctx, u.SourceID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Filter)

	_, err = f.svc.Update(ctx, u.ID, UpdateRequest{Filter: raw(`null`), InputMapping: raw(`null`)})
	require.NoError(t, err)
	stored, err = f.store.GetEventTrigger(ctx, u.SourceID)
	require.NoError(t, err)
	assert.Empty(t, stored.Filter)
	assert.Nil(t, stored.InputMapping)
}

func TestService_UpdateScheduleActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createSchedule(t, true)

	off, err := f.svc.Update(ctx, u.ID, UpdateRequest{IsActive: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	assert.NotContains(t, off.Config, "nextRunAt")

	stored, err := f.store.GetSchedule(ctx, u.SourceID)
	require.NoError(t, err)
	assert.Nil(t, stored.NextRunAt)

	f.svc.now = func() time.Time { return now.Add(48 * time.Hour) }
	on, err := f.svc.Update(ctx, u.ID, UpdateRequest{IsActive: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC).Equal(nextRunAt(t, on)))
}

func TestService_UpdateScheduleTiming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createSchedule(t, true)

	updated, err := f.svc.Update(ctx, u.ID, UpdateRequest{Config: &UpdateConfig{
		CronExpr: strPtr("0 9 * * *"),
		Timezone: strPtr("Asia/Tokyo"),
	}})
	if err != nil && errors.IsType(err, errors.ErrTypeInvalidScheduleConfig) {
		t.Skip("tzdata not available")
	}
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC).Equal(nextRunAt(t, updated)))
}

func TestService_InvalidCronLeavesScheduleUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.createSchedule(t, true)
	before, err := f.store.GetSchedule(ctx, u.SourceID)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, u.ID, UpdateRequest{
		Name:   strPtr("renamed"),
		Config: &UpdateConfig{CronExpr: strPtr("61 * * * *")},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidScheduleConfig))

	after, err := f.store.GetSchedule(ctx, u.SourceID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestService_UpdateRejectsFieldsOfTheOtherKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sch := f.createSchedule(t, true)
	trg := f.createEventTrigger(t)

	_, err := f.svc.Update(ctx, sch.ID, UpdateRequest{Filter: raw(`{"match":{"a":"b"}}`)})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = f.svc.Update(ctx, trg.ID, UpdateRequest{Config: &UpdateConfig{CronExpr: strPtr("* * * * *")}})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestService_InvalidID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"", "schedule", "cron:" + "0f8fad5b-d9cb-469f-a165-70867728950e", "trigger:not-a-uuid"} {
		_, err := f.svc.Get(ctx, id)
		assert.True(t, errors.IsType(err, errors.ErrTypeInvalidTriggerID), id)
	}

	_, err := f.svc.Get(ctx, "trigger:0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestService_ListAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sch := f.createSchedule(t, false)
	trg := f.createEventTrigger(t)

	all, err := f.svc.List(ctx, ListFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
	}

	only, err := f.svc.List(ctx, ListFilter{SourceType: models.SourceTypeTrigger})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, trg.ID, only[0].ID)

	active, err := f.svc.List(ctx, ListFilter{IsActive: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, trg.ID, active[0].ID)

	require.NoError(t, f.svc.Delete(ctx, sch.ID))
	assert.True(t, errors.IsType(f.svc.Delete(ctx, sch.ID), errors.ErrTypeNotFound))

	all, err = f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestService_Fire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trg := f.createEventTrigger(t)

	e, err := f.svc.Fire(ctx, trg.ID, map[string]interface{}{"ticket": map[string]interface{}{"title": "printer on fire"}})
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventFired, e.Status)
	assert.Equal(t, models.TriggerTypeManual, e.TriggerType)

	reqs := f.dispatcher.Requests()
	require.Len(t, reqs, 1)
	var input triggers.AgentInput
	require.NoError(t, json.Unmarshal(reqs[0].Payload, &input))
	assert.Equal(t, "printer on fire", input.Fields["title"])
	assert.Equal(t, models.TriggerTypeManual, input.Source.TriggerType)

	list, total, err := f.svc.ListEvents(ctx, models.TriggerEventFilter{TriggerID: trg.ID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)

	got, err := f.svc.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestService_FireSkipsInactiveAndDisabled(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	sch := f.createSchedule(t, false)
	e, err := f.svc.Fire(ctx, sch.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventSkipped, e.Status)
	assert.Empty(t, f.dispatcher.Requests())

	f = newFixture(t, testutil.WithDisabledAgent())
	trg := f.createEventTrigger(t)
	e, err = f.svc.Fire(ctx, trg.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventSkipped, e.Status)
	require.NotNil(t, e.ErrorMessage)
	assert.Contains(t, *e.ErrorMessage, "disabled")
}

func TestService_Upcoming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sch := f.createSchedule(t, true)

	runs, err := f.svc.Upcoming(ctx, sch.ID, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.True(t, time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC).Equal(runs[2]))

	trg := f.createEventTrigger(t)
	_, err = f.svc.Upcoming(ctx, trg.ID, 3)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
