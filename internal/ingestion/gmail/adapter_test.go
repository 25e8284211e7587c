package gmail

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/ratelimit"
	"agent-triggers/internal/events"
	"agent-triggers/internal/locks"
	"agent-triggers/internal/models"
	"agent-triggers/internal/storage/memory"
	"agent-triggers/internal/storage/storetest"
	"agent-triggers/internal/testutil"
	"agent-triggers/internal/triggers"
)

const account = "ops@acme.com"

// fakeMailbox serves scripted deltas keyed by their start cursor
type fakeMailbox struct {
	mu       sync.Mutex
	changes  map[string]*ChangeSet
	messages map[string]*RawMessage
	listErr  error
	fetchErr map[string]error
	listed   []string
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		changes:  make(map[string]*ChangeSet),
		messages: make(map[string]*RawMessage),
		fetchErr: make(map[string]error),
	}
}

func (f *fakeMailbox) ListChanges(ctx context.Context, since string, max int) (*ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, since)
	if f.listErr != nil {
		return nil, f.listErr
	}
	cs, ok := f.changes[since]
	if !ok {
		return &ChangeSet{Cursor: since}, nil
	}
	out := *cs
	out.MessageIDs = append([]string(nil), cs.MessageIDs...)
	return &out, nil
}

func (f *fakeMailbox) FetchMessage(ctx context.Context, id string) (*RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return msg, nil
}

func (f *fakeMailbox) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeMailbox) addMessage(id, from, subject string) {
	f.messages[id] = &RawMessage{
		ID:           id,
		ThreadID:     "thread-" + id,
		LabelIDs:     []string{"INBOX"},
		InternalDate: time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC),
		Raw: testutil.RawEmail(testutil.Email{
			From:    from,
			To:      account,
			Subject: subject,
			Text:    "body of " + id,
		}),
	}
}

func (f *fakeMailbox) ClientFor(ctx context.Context, integration *models.Integration) (Provider, error) {
	return f, nil
}

type harness struct {
	adapter    *Adapter
	store      *memory.Store
	mailbox    *fakeMailbox
	dispatcher *testutil.RecordingDispatcher
	locks      *locks.LocalManager
	fixture    *testutil.Fixture
	trigger    *models.EventTrigger
}

func newHarness(t *testing.T, opts ...testutil.FixtureOption) *harness {
	t.Helper()

	store := memory.New()
	h := &harness{
		store:      store,
		mailbox:    newFakeMailbox(),
		dispatcher: testutil.NewRecordingDispatcher(),
		locks:      locks.NewLocalManager(),
		fixture:    testutil.SeedDirectory(t, store, account, opts...),
		trigger:    storetest.NewEventTrigger("agent-1", EventName),
	}
	require.NoError(t, store.CreateEventTrigger(context.Background(), h.trigger))

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{})
	require.NoError(t, err)

	logger := logging.NewNopLogger()
	h.adapter = NewAdapter(
		store,
		events.NewManager(store, logger),
		h.dispatcher,
		h.locks,
		h.mailbox,
		limiter,
		triggers.NewFilterEvaluator(time.Minute),
		Config{
			MaxMessages:      10,
			FetchConcurrency: 2,
			LockTTL:          5 * time.Second,
			BusinessHours:    BusinessHours{StartHour: 9, EndHour: 17},
		},
		logger,
	)
	return h
}

func (h *harness) notify(t *testing.T, historyID string) *Result {
	t.Helper()
	result, err := h.adapter.HandleNotification(context.Background(), &Notification{EmailAddress: account, HistoryID: historyID})
	require.NoError(t, err)
	return result
}

func (h *harness) setCursor(t *testing.T, value string) {
	t.Helper()
	require.NoError(t, h.store.CompareAndSwapCursor(context.Background(), "gmail:conn-1", "", value))
}

func (h *harness) cursor(t *testing.T) *models.IntegrationCursor {
	t.Helper()
	c, err := h.store.GetCursor(context.Background(), "gmail:conn-1")
	require.NoError(t, err)
	return c
}

func (h *harness) events(t *testing.T, status models.TriggerEventStatus) []*models.TriggerEvent {
	t.Helper()
	list, _, err := h.store.ListTriggerEvents(context.Background(), models.TriggerEventFilter{AgentID: "agent-1", Status: status, Limit: 100})
	require.NoError(t, err)
	return list
}

func TestAdapter_UnknownAccount(t *testing.T) {
	h := newHarness(t)

	result, err := h.adapter.HandleNotification(context.Background(), &Notification{EmailAddress: "nobody@else.com", HistoryID: "5"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, ReasonUnknownAccount, result.Reason)
	assert.Empty(t, h.events(t, ""))
}

func TestAdapter_FirstNotificationStoresBaseline(t *testing.T) {
	h := newHarness(t)

	result := h.notify(t, "1000")
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, ReasonBaseline, result.Reason)

	assert.Equal(t, "1000", h.cursor(t).Value)
	assert.Empty(t, h.mailbox.listed)
	assert.Empty(t, h.dispatcher.Requests())

	skipped := h.events(t, models.TriggerEventSkipped)
	require.Len(t, skipped, 1)
	assert.Contains(t, *skipped[0].ErrorMessage, "baseline")
	assert.Equal(t, "conn-1", *skipped[0].IntegrationID)
}

func TestAdapter_SkipsBeforeTouchingTheMailbox(t *testing.T) {
	tests := []struct {
		name    string
		opts    []testutil.FixtureOption
		prepare func(t *testing.T, h *harness)
		reason  string
		message string
	}{
		{
			name:    "disabled agent",
			opts:    []testutil.FixtureOption{testutil.WithDisabledAgent()},
			reason:  ReasonAgentDisabled,
			message: "agent agent-1 is disabled",
		},
		{
			name:    "inactive integration",
			opts:    []testutil.FixtureOption{testutil.WithInactiveIntegration()},
			reason:  ReasonInactive,
			message: "integration conn-1 is inactive",
		},
		{
			name: "no active trigger",
			prepare: func(t *testing.T, h *harness) {
				require.NoError(t, h.store.DeleteEventTrigger(context.Background(), h.trigger.ID))
			},
			reason:  ReasonNoTrigger,
			message: "no active trigger for email.received on agent agent-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.opts...)
			if tt.prepare != nil {
				tt.prepare(t, h)
			}
			h.setCursor(t, "1000")

			result := h.notify(t, "1005")
			assert.True(t, result.Success)
			assert.Equal(t, tt.reason, result.Reason)

			skipped := h.events(t, models.TriggerEventSkipped)
			require.Len(t, skipped, 1)
			assert.Equal(t, tt.message, *skipped[0].ErrorMessage)

			assert.Empty(t, h.mailbox.listed)
			assert.Empty(t, h.dispatcher.Requests())
			assert.Equal(t, "1000", h.cursor(t).Value)
		})
	}
}

func TestAdapter_ProcessesNewMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.addMessage("m2", "bob@acme.com", "Lunch")
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1", "m2"}, Cursor: "1005"}

	result := h.notify(t, "1005")
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, result.Failed)

	assert.Equal(t, "1005", h.cursor(t).Value)
	assert.Len(t, h.events(t, models.TriggerEventFired), 2)

	reqs := h.dispatcher.Requests()
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		assert.Equal(t, "agent-1", req.AgentID)
		assert.Equal(t, triggers.FormatID(models.SourceTypeTrigger, h.trigger.ID), req.TriggerID)

		var input triggers.AgentInput
		require.NoError(t, json.Unmarshal(req.Payload, &input))
		assert.Equal(t, "handle it", *input.Input)
		assert.Contains(t, []interface{}{"Invoice", "Lunch"}, input.Fields["subject"])
	}

	mirrored, err := h.store.GetEmailMessage(ctx, "conn-1", "m2")
	require.NoError(t, err)
	assert.True(t, mirrored.IsInternal)
	assert.True(t, mirrored.WithinBusinessHours)

	stored, err := h.store.GetEventTrigger(ctx, h.trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.TriggerCount)
}

func TestAdapter_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1"}, Cursor: "1005"}

	h.notify(t, "1005")
	require.Len(t, h.dispatcher.Requests(), 1)

	// same notification again: the cursor already covers it
	result := h.notify(t, "1005")
	assert.Equal(t, ReasonAlreadyProcessed, result.Reason)
	assert.Len(t, h.dispatcher.Requests(), 1)

	// a stale cursor replays the delta, the mirror row stops the dispatch
	require.NoError(t, h.store.CompareAndSwapCursor(context.Background(), "gmail:conn-1", "1005", "1000"))
	result = h.notify(t, "1005")
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, h.dispatcher.Requests(), 1)

	var duplicates int
	for _, e := range h.events(t, models.TriggerEventSkipped) {
		if e.ErrorMessage != nil && *e.ErrorMessage == "message m1 already processed" {
			duplicates++
		}
	}
	assert.Equal(t, 1, duplicates)
}

func TestAdapter_RateLimitDefersBatch(t *testing.T) {
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1"}, Cursor: "1005"}
	h.mailbox.setListErr(fmt.Errorf("%w: 429", ErrRateLimited))

	result := h.notify(t, "1005")
	assert.False(t, result.Success)
	assert.False(t, result.Retryable)
	assert.Equal(t, ReasonRateLimited, result.Reason)

	c := h.cursor(t)
	assert.Equal(t, "1000", c.Value)
	require.NotNil(t, c.PendingValue)
	assert.Equal(t, "1005", *c.PendingValue)
	assert.Len(t, h.events(t, models.TriggerEventSkipped), 1)
	assert.Empty(t, h.dispatcher.Requests())

	// an older notification still catches up to the pending cursor
	h.mailbox.setListErr(nil)
	result = h.notify(t, "1003")
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Processed)

	c = h.cursor(t)
	assert.Equal(t, "1005", c.Value)
	assert.Nil(t, c.PendingValue)
}

func TestAdapter_RateLimitDuringFetchDefersBatch(t *testing.T) {
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.fetchErr["m1"] = ErrRateLimited
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1"}, Cursor: "1005"}

	result := h.notify(t, "1005")
	assert.False(t, result.Success)
	assert.Equal(t, ReasonRateLimited, result.Reason)

	c := h.cursor(t)
	assert.Equal(t, "1000", c.Value)
	require.NotNil(t, c.PendingValue)
	assert.Equal(t, "1005", *c.PendingValue)
}

func TestAdapter_MessageFailureDoesNotBlockBatch(t *testing.T) {
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.fetchErr["m2"] = stderrors.New("backend error")
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1", "m2"}, Cursor: "1005"}

	result := h.notify(t, "1005")
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)

	failed := h.events(t, models.TriggerEventFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, *failed[0].ErrorMessage, "fetch message m2")
	assert.Equal(t, "1005", h.cursor(t).Value)
}

func TestAdapter_FilteredMessageIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.trigger.Filter = json.RawMessage(`{"expression":"event.message.isInternal == true"}`)
	require.NoError(t, h.store.UpdateEventTrigger(ctx, h.trigger))

	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.addMessage("m2", "bob@acme.com", "Lunch")
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1", "m2"}, Cursor: "1005"}

	result := h.notify(t, "1005")
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)

	skipped := h.events(t, models.TriggerEventSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "message did not match the trigger filter", *skipped[0].ErrorMessage)
	require.Len(t, h.dispatcher.Requests(), 1)

	_, err := h.store.GetEmailMessage(ctx, "conn-1", "m1")
	assert.NoError(t, err)
}

func TestAdapter_TruncatedBacklogLeavesPending(t *testing.T) {
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.addMessage("m2", "jane@partner.io", "Follow up")
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1"}, Cursor: "1002", Truncated: true}
	h.mailbox.changes["1002"] = &ChangeSet{MessageIDs: []string{"m2"}, Cursor: "1009"}

	result := h.notify(t, "1005")
	assert.Equal(t, 1, result.Processed)

	c := h.cursor(t)
	assert.Equal(t, "1002", c.Value)
	require.NotNil(t, c.PendingValue)
	assert.Equal(t, "1005", *c.PendingValue)

	// the next notification drains the rest
	result = h.notify(t, "1004")
	assert.Equal(t, 1, result.Processed)
	c = h.cursor(t)
	assert.Equal(t, "1009", c.Value)
	assert.Nil(t, c.PendingValue)
	assert.Len(t, h.dispatcher.Requests(), 2)
}

func TestAdapter_ExpiredCursorIsReset(t *testing.T) {
	h := newHarness(t)
	h.setCursor(t, "10")
	h.mailbox.setListErr(ErrCursorExpired)

	result := h.notify(t, "5000")
	assert.True(t, result.Success)
	assert.Equal(t, ReasonCursorExpired, result.Reason)
	assert.Equal(t, "5000", h.cursor(t).Value)
}

func TestAdapter_EmptyDeltaAdvancesCursor(t *testing.T) {
	h := newHarness(t)
	h.setCursor(t, "1000")

	result := h.notify(t, "1001")
	assert.True(t, result.Success)
	assert.Equal(t, ReasonNoChanges, result.Reason)
	assert.Equal(t, "1001", h.cursor(t).Value)
}

func TestAdapter_ProviderErrorIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.setListErr(stderrors.New("connection reset"))

	result := h.notify(t, "1005")
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
	assert.Equal(t, ReasonProviderError, result.Reason)
	assert.Len(t, h.events(t, models.TriggerEventFailed), 1)
	assert.Equal(t, "1000", h.cursor(t).Value)
}

func TestAdapter_BusyConnectionIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.setCursor(t, "1000")

	held, err := h.locks.AcquireLock(context.Background(), "gmail:conn-1", time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := h.adapter.HandleNotification(ctx, &Notification{EmailAddress: account, HistoryID: "1005"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
	assert.Equal(t, ReasonBusy, result.Reason)
	assert.Empty(t, h.mailbox.listed)

	failed := h.events(t, "")
	require.Len(t, failed, 1)
	assert.Equal(t, models.TriggerEventFailed, failed[0].Status)
	assert.Contains(t, *failed[0].ErrorMessage, "connection gmail:conn-1 busy")
	assert.Equal(t, "1000", h.cursor(t).Value)
}

func TestAdapter_InterruptedDispatchIsReplayed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1"}, Cursor: "1005"}

	// an earlier attempt recorded the event and stopped before dispatching
	stale, err := events.NewManager(h.store, logging.NewNopLogger()).Create(ctx, events.Params{
		AgentID:     "agent-1",
		WorkspaceID: h.fixture.Workspace.ID,
		SourceType:  models.SourceTypeTrigger,
		TriggerType: models.TriggerTypeEvent,
		TriggerID:   triggers.FormatID(models.SourceTypeTrigger, h.trigger.ID),
		EventName:   EventName,
		Payload:     map[string]interface{}{"messageId": "m1"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventReceived, stale.Status)

	result := h.notify(t, "1005")
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Processed)
	assert.Len(t, h.dispatcher.Requests(), 1)
	assert.Len(t, h.events(t, models.TriggerEventFired), 1)

	_, err = h.store.GetEmailMessage(ctx, "conn-1", "m1")
	assert.NoError(t, err)
}

func TestAdapter_FailedDispatchIsStillMirrored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1"}, Cursor: "1005"}
	h.dispatcher.SetErr(stderrors.New("queue unavailable"))

	result := h.notify(t, "1005")
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, h.events(t, models.TriggerEventFailed), 1)

	_, err := h.store.GetEmailMessage(ctx, "conn-1", "m1")
	assert.NoError(t, err)
}

func TestAdapter_ConcurrentNotificationsProcessDeltaOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setCursor(t, "1000")
	h.mailbox.addMessage("m1", "jane@partner.io", "Invoice")
	h.mailbox.changes["1000"] = &ChangeSet{MessageIDs: []string{"m1"}, Cursor: "1005"}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.adapter.HandleNotification(ctx, &Notification{EmailAddress: account, HistoryID: "1005"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"1000"}, h.mailbox.listed)
	assert.Len(t, h.dispatcher.Requests(), 1)
	assert.Len(t, h.events(t, models.TriggerEventFired), 1)

	mirrored, err := h.store.ListEmailMessages(ctx, "conn-1", 10)
	require.NoError(t, err)
	assert.Len(t, mirrored, 1)
	assert.Equal(t, "1005", h.cursor(t).Value)
}
