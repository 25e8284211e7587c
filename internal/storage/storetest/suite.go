// Package storetest holds the behavioural suite every storage.Store
// implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
)

// Factory returns a fresh, empty store for one subtest
type Factory func(t *testing.T) storage.Store

var base = time.Date(2024, 3, 8, 23, 0, 0, 0, time.UTC)

// Run executes the full suite against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("Schedules", func(t *testing.T) { testSchedules(t, newStore(t)) })
	t.Run("DueSchedulesAndClaim", func(t *testing.T) { testDueSchedules(t, newStore(t)) })
	t.Run("EventTriggers", func(t *testing.T) { testEventTriggers(t, newStore(t)) })
	t.Run("TriggerEvents", func(t *testing.T) { testTriggerEvents(t, newStore(t)) })
	t.Run("Directory", func(t *testing.T) { testDirectory(t, newStore(t)) })
	t.Run("Cursors", func(t *testing.T) { testCursors(t, newStore(t)) })
	t.Run("EmailMessages", func(t *testing.T) { testEmailMessages(t, newStore(t)) })
	t.Run("WithTx", func(t *testing.T) { testWithTx(t, newStore(t)) })
}

// NewSchedule builds an active schedule due at next
func NewSchedule(agentID string, next *time.Time) *models.Schedule {
	input := "daily report"
	return &models.Schedule{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		WorkspaceID:   "ws-1",
		Name:          "weekday report",
		CronExpr:      "0 9 * * MON-FRI",
		Timezone:      "America/New_York",
		InputDefaults: models.InputDefaults{Input: &input},
		IsActive:      next != nil,
		NextRunAt:     next,
	}
}

// NewEventTrigger builds an active event trigger listening for eventName
func NewEventTrigger(agentID, eventName string) *models.EventTrigger {
	input := "handle it"
	return &models.EventTrigger{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		WorkspaceID: "ws-1",
		Name:        "on " + eventName,
		TriggerType: models.TriggerTypeEvent,
		EventName:   eventName,
		InputMapping: &models.InputMapping{
			DefaultInput: &input,
			Fields:       map[string]string{"subject": "message.subject"},
		},
		IsActive: true,
	}
}

func at(minutes int) *time.Time {
	v := base.Add(time.Duration(minutes) * time.Minute)
	return &v
}

func testSchedules(t *testing.T, s storage.Store) {
	ctx := context.Background()

	sch := NewSchedule("agent-1", at(60))
	require.NoError(t, s.CreateSchedule(ctx, sch))
	assert.Equal(t, int64(1), sch.Version)

	got, err := s.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, sch.Name, got.Name)
	assert.Equal(t, "daily report", *got.InputDefaults.Input)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(*at(60)))
	assert.Nil(t, got.LastRunAt)

	got.Name = "renamed"
	got.IsActive = false
	got.NextRunAt = nil
	require.NoError(t, s.UpdateSchedule(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	reloaded, err := s.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", reloaded.Name)
	assert.False(t, reloaded.IsActive)
	assert.Nil(t, reloaded.NextRunAt)

	// the original copy still carries version 1
	sch.Name = "stale"
	assert.ErrorIs(t, s.UpdateSchedule(ctx, sch), storage.ErrConflict)

	other := NewSchedule("agent-2", nil)
	require.NoError(t, s.CreateSchedule(ctx, other))

	list, err := s.ListSchedules(ctx, storage.ScheduleFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sch.ID, list[0].ID)

	all, err := s.ListSchedules(ctx, storage.ScheduleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteSchedule(ctx, sch.ID))
	_, err = s.GetSchedule(ctx, sch.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteSchedule(ctx, sch.ID), storage.ErrNotFound)

	missing := NewSchedule("agent-1", nil)
	assert.ErrorIs(t, s.UpdateSchedule(ctx, missing), storage.ErrNotFound)
}

func testDueSchedules(t *testing.T, s storage.Store) {
	ctx := context.Background()

	late := NewSchedule("agent-1", at(10))
	early := NewSchedule("agent-1", at(-30))
	notYet := NewSchedule("agent-1", at(120))
	inactive := NewSchedule("agent-1", nil)
	for _, sch := range []*models.Schedule{late, early, notYet, inactive} {
		require.NoError(t, s.CreateSchedule(ctx, sch))
	}

	due, err := s.ListDueSchedules(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	limited, err := s.ListDueSchedules(ctx, base.Add(30*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, early.ID, limited[0].ID)

	firedAt := base.Add(30 * time.Minute)
	require.NoError(t, s.ClaimScheduleRun(ctx, early.ID, early.Version, firedAt, at(24*60)))

	claimed, err := s.GetSchedule(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claimed.RunCount)
	assert.Equal(t, early.Version+1, claimed.Version)
	require.NotNil(t, claimed.LastRunAt)
	assert.True(t, claimed.LastRunAt.Equal(firedAt))
	assert.True(t, claimed.NextRunAt.Equal(*at(24 * 60)))

	// a second claim with the version read before the first one loses
	assert.ErrorIs(t, s.ClaimScheduleRun(ctx, early.ID, early.Version, firedAt, at(24*60)), storage.ErrConflict)
	assert.ErrorIs(t, s.ClaimScheduleRun(ctx, uuid.NewString(), 1, firedAt, nil), storage.ErrNotFound)

	// an admin update between listing and claiming invalidates the claim
	late.CronExpr = "0 12 * * *"
	late.NextRunAt = at(300)
	require.NoError(t, s.UpdateSchedule(ctx, late))
	assert.ErrorIs(t, s.ClaimScheduleRun(ctx, late.ID, late.Version-1, firedAt, at(24*60)), storage.ErrConflict)

	due, err = s.ListDueSchedules(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// a claim without a next run deactivates the schedule
	require.NoError(t, s.ClaimScheduleRun(ctx, early.ID, claimed.Version, firedAt, nil))
	parked, err := s.GetSchedule(ctx, early.ID)
	require.NoError(t, err)
	assert.False(t, parked.IsActive)
	assert.Nil(t, parked.NextRunAt)
}

func testEventTriggers(t *testing.T, s storage.Store) {
	ctx := context.Background()

	trg := NewEventTrigger("agent-1", "gmail.message.received")
	trg.Filter = json.RawMessage(`{"expression":"event.message.isInternal == false"}`)
	require.NoError(t, s.CreateEventTrigger(ctx, trg))

	hook := NewEventTrigger("agent-1", "")
	hook.TriggerType = models.TriggerTypeWebhook
	hook.WebhookPath = "orders"
	hook.WebhookSecret = "whsec_123"
	require.NoError(t, s.CreateEventTrigger(ctx, hook))

	// triggers without a path never collide on the unique route
	require.NoError(t, s.CreateEventTrigger(ctx, NewEventTrigger("agent-2", "gmail.message.received")))

	dup := NewEventTrigger("agent-1", "")
	dup.TriggerType = models.TriggerTypeWebhook
	dup.WebhookPath = "orders"
	assert.ErrorIs(t, s.CreateEventTrigger(ctx, dup), storage.ErrDuplicate)

	got, err := s.GetEventTrigger(ctx, trg.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(trg.Filter), string(got.Filter))
	require.NotNil(t, got.InputMapping)
	assert.Equal(t, "message.subject", got.InputMapping.Fields["subject"])
	assert.Equal(t, "handle it", *got.InputMapping.DefaultInput)

	byPath, err := s.GetEventTriggerByWebhookPath(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, hook.ID, byPath.ID)
	assert.Equal(t, "whsec_123", byPath.WebhookSecret)
	_, err = s.GetEventTriggerByWebhookPath(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	active, err := s.FindActiveEventTriggers(ctx, "agent-1", "gmail.message.received")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, trg.ID, active[0].ID)

	webhooks, err := s.ListEventTriggers(ctx, storage.EventTriggerFilter{TriggerType: models.TriggerTypeWebhook})
	require.NoError(t, err)
	require.Len(t, webhooks, 1)

	require.NoError(t, s.RecordEventTriggerFired(ctx, trg.ID, base))
	fired, err := s.GetEventTrigger(ctx, trg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fired.TriggerCount)
	assert.Equal(t, trg.Version, fired.Version)
	require.NotNil(t, fired.LastTriggeredAt)
	assert.True(t, fired.LastTriggeredAt.Equal(base))

	fired.IsActive = false
	fired.InputMapping = nil
	require.NoError(t, s.UpdateEventTrigger(ctx, fired))
	active, err = s.FindActiveEventTriggers(ctx, "agent-1", "gmail.message.received")
	require.NoError(t, err)
	assert.Empty(t, active)

	reloaded, err := s.GetEventTrigger(ctx, trg.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.InputMapping)

	trg.Name = "stale"
	assert.ErrorIs(t, s.UpdateEventTrigger(ctx, trg), storage.ErrConflict)

	require.NoError(t, s.DeleteEventTrigger(ctx, trg.ID))
	assert.ErrorIs(t, s.DeleteEventTrigger(ctx, trg.ID), storage.ErrNotFound)
	assert.ErrorIs(t, s.RecordEventTriggerFired(ctx, trg.ID, base), storage.ErrNotFound)
}

func testTriggerEvents(t *testing.T, s storage.Store) {
	ctx := context.Background()

	triggerID := "trigger:" + uuid.NewString()
	integrationID := uuid.NewString()
	for i := 0; i < 5; i++ {
		e := &models.TriggerEvent{
			ID:            uuid.NewString(),
			TriggerID:     &triggerID,
			AgentID:       "agent-1",
			Status:        models.TriggerEventReceived,
			SourceType:    models.SourceTypeTrigger,
			TriggerType:   models.TriggerTypeEvent,
			IntegrationID: &integrationID,
			EventName:     "gmail.message.received",
			Payload:       json.RawMessage(`{"input":"hello"}`),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateTriggerEvent(ctx, e))
	}
	msg := "agent is disabled"
	skipped := &models.TriggerEvent{
		ID:           uuid.NewString(),
		AgentID:      "agent-2",
		Status:       models.TriggerEventSkipped,
		SourceType:   models.SourceTypeTrigger,
		TriggerType:  models.TriggerTypeEvent,
		ErrorMessage: &msg,
		CreatedAt:    base.Add(time.Hour),
	}
	require.NoError(t, s.CreateTriggerEvent(ctx, skipped))

	got, err := s.GetTriggerEvent(ctx, skipped.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TriggerID)
	assert.Equal(t, "agent is disabled", *got.ErrorMessage)
	assert.JSONEq(t, `{}`, string(got.Payload))

	page, total, err := s.ListTriggerEvents(ctx, models.TriggerEventFilter{TriggerID: triggerID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	page, _, err = s.ListTriggerEvents(ctx, models.TriggerEventFilter{TriggerID: triggerID, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	bySkipped, total, err := s.ListTriggerEvents(ctx, models.TriggerEventFilter{Status: models.TriggerEventSkipped})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, skipped.ID, bySkipped[0].ID)

	byIntegration, total, err := s.ListTriggerEvents(ctx, models.TriggerEventFilter{IntegrationID: integrationID, AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, byIntegration, 5)

	target := byIntegration[0].ID
	require.NoError(t, s.TransitionTriggerEvent(ctx, target, models.TriggerEventReceived, models.TriggerEventProcessing, nil, base))
	failure := "dispatch failed"
	require.NoError(t, s.TransitionTriggerEvent(ctx, target, models.TriggerEventProcessing, models.TriggerEventFailed, &failure, base))

	// a second writer that still believes the event is processing loses
	err = s.TransitionTriggerEvent(ctx, target, models.TriggerEventProcessing, models.TriggerEventFired, nil, base)
	assert.ErrorIs(t, err, storage.ErrConflict)
	err = s.TransitionTriggerEvent(ctx, uuid.NewString(), models.TriggerEventReceived, models.TriggerEventFired, nil, base)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	final, err := s.GetTriggerEvent(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventFailed, final.Status)
	assert.Equal(t, "dispatch failed", *final.ErrorMessage)
}

func testDirectory(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.UpsertWorkspace(ctx, &models.Workspace{ID: "ws-1", Name: "Acme", Domains: []string{"acme.com"}}))
	require.NoError(t, s.UpsertWorkspace(ctx, &models.Workspace{ID: "ws-1", Name: "Acme Inc", Domains: []string{"acme.com", "acme.io"}, Timezone: "Europe/Berlin"}))
	ws, err := s.GetWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", ws.Name)
	assert.Equal(t, []string{"acme.com", "acme.io"}, ws.Domains)
	assert.Equal(t, "Europe/Berlin", ws.Timezone)

	require.NoError(t, s.UpsertAgent(ctx, &models.Agent{ID: "agent-1", WorkspaceID: "ws-1", Name: "inbox", IsEnabled: true}))
	require.NoError(t, s.UpsertAgent(ctx, &models.Agent{ID: "agent-1", WorkspaceID: "ws-1", Name: "inbox", IsEnabled: false}))
	agent, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, agent.IsEnabled)

	_, err = s.GetAgent(ctx, "agent-404")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	integ := &models.Integration{
		ID:              uuid.NewString(),
		Provider:        models.ProviderGmail,
		ExternalAccount: "Ops@Acme.com",
		AgentID:         "agent-1",
		WorkspaceID:     "ws-1",
		IsActive:        true,
	}
	require.NoError(t, s.UpsertIntegration(ctx, integ))

	found, err := s.GetIntegrationByAccount(ctx, models.ProviderGmail, "ops@acme.com")
	require.NoError(t, err)
	assert.Equal(t, integ.ID, found.ID)

	_, err = s.GetIntegrationByAccount(ctx, "outlook", "ops@acme.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	byID, err := s.GetIntegration(ctx, integ.ID)
	require.NoError(t, err)
	assert.Equal(t, "gmail:"+integ.ID, byID.ConnectionKey())
}

func testCursors(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "gmail:" + uuid.NewString()

	_, err := s.GetCursor(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.CompareAndSwapCursor(ctx, key, "", "100"))
	assert.ErrorIs(t, s.CompareAndSwapCursor(ctx, key, "", "101"), storage.ErrConflict)

	require.NoError(t, s.MarkCursorPending(ctx, key, "100", "150"))
	c, err := s.GetCursor(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "100", c.Value)
	require.NotNil(t, c.PendingValue)
	assert.Equal(t, "150", *c.PendingValue)

	assert.ErrorIs(t, s.CompareAndSwapCursor(ctx, key, "99", "160"), storage.ErrConflict)
	assert.ErrorIs(t, s.MarkCursorPending(ctx, key, "99", "160"), storage.ErrConflict)

	require.NoError(t, s.CompareAndSwapCursor(ctx, key, "100", "160"))
	c, err = s.GetCursor(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "160", c.Value)
	assert.Nil(t, c.PendingValue)

	assert.ErrorIs(t, s.CompareAndSwapCursor(ctx, "gmail:missing", "1", "2"), storage.ErrConflict)
}

func testEmailMessages(t *testing.T, s storage.Store) {
	ctx := context.Background()
	integrationID := uuid.NewString()

	msg := &models.EmailMessage{
		IntegrationID:     integrationID,
		ExternalMessageID: "18c1",
		ThreadID:          "t-1",
		From:              "alice@partner.com",
		To:                []string{"ops@acme.com"},
		Subject:           "Invoice",
		Labels:            []string{"INBOX", "UNREAD"},
		ReceivedAt:        base,
	}
	inserted, err := s.UpsertEmailMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)
	firstID := msg.ID
	require.NotEmpty(t, firstID)

	again := *msg
	again.ID = ""
	again.Labels = []string{"INBOX"}
	inserted, err = s.UpsertEmailMessage(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, firstID, again.ID)

	stored, err := s.GetEmailMessage(ctx, integrationID, "18c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX"}, stored.Labels)
	assert.Equal(t, []string{"ops@acme.com"}, stored.To)
	assert.True(t, stored.ReceivedAt.Equal(base))

	list, err := s.ListEmailMessages(ctx, integrationID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testWithTx(t *testing.T, s storage.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	rolledBack := NewSchedule("agent-1", at(5))
	err := s.WithTx(ctx, func(tx storage.Store) error {
		require.NoError(t, tx.CreateSchedule(ctx, rolledBack))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = s.GetSchedule(ctx, rolledBack.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	committed := NewSchedule("agent-1", at(5))
	require.NoError(t, s.WithTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateSchedule(ctx, committed); err != nil {
			return err
		}
		return tx.CompareAndSwapCursor(ctx, "gmail:tx", "", "1")
	}))
	_, err = s.GetSchedule(ctx, committed.ID)
	require.NoError(t, err)
	c, err := s.GetCursor(ctx, "gmail:tx")
	require.NoError(t, err)
	assert.Equal(t, "1", c.Value)
}
