package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/ratelimit"
	"agent-triggers/internal/events"
	"agent-triggers/internal/models"
	"agent-triggers/internal/signature"
	"agent-triggers/internal/storage/memory"
	"agent-triggers/internal/storage/storetest"
	"agent-triggers/internal/testutil"
	"agent-triggers/internal/triggers"
)

type fixture struct {
	adapter    *Adapter
	store      *memory.Store
	dispatcher *testutil.RecordingDispatcher
	trigger    *models.EventTrigger
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter, opts ...testutil.FixtureOption) *fixture {
	t.Helper()

	store := memory.New()
	testutil.SeedDirectory(t, store, "ops@acme.com", opts...)

	trigger := storetest.NewEventTrigger("agent-1", "order.created")
	trigger.TriggerType = models.TriggerTypeWebhook
	trigger.WebhookPath = "orders/new"
	trigger.WebhookSecret = "s3cret"
	trigger.InputMapping.Fields = map[string]string{"orderId": "body.order.id"}
	require.NoError(t, store.CreateEventTrigger(context.Background(), trigger))

	logger := logging.NewNopLogger()
	d := testutil.NewRecordingDispatcher()
	return &fixture{
		adapter: NewAdapter(
			store,
			events.NewManager(store, logger),
			d,
			signature.NewHMACVerifier(5*time.Minute),
			triggers.NewFilterEvaluator(time.Minute),
			limiter,
			Config{},
			logger,
		),
		store:      store,
		dispatcher: d,
		trigger:    trigger,
	}
}

func (f *fixture) deliver(t *testing.T, path, body, secret string) (*Result, error) {
	t.Helper()
	r := httptest.NewRequest("POST", "/webhooks/triggers/"+path, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	if secret != "" {
		r.Header.Set(signature.SignatureHeader, "sha256="+signature.Sign(secret, []byte(body)))
	}
	return f.adapter.Handle(context.Background(), r, path, []byte(body))
}

func (f *fixture) events(t *testing.T) []*models.TriggerEvent {
	t.Helper()
	list, _, err := f.store.ListTriggerEvents(context.Background(), models.TriggerEventFilter{AgentID: "agent-1", Limit: 50})
	require.NoError(t, err)
	return list
}

func TestAdapter_DispatchesSignedDelivery(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.deliver(t, "/orders/new/", `{"order":{"id":"o-42"}}`, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventFired, result.Status)

	reqs := f.dispatcher.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, result.TriggerEventID, reqs[0].TriggerEventID)

	var input triggers.AgentInput
	require.NoError(t, json.Unmarshal(reqs[0].Payload, &input))
	assert.Equal(t, "o-42", input.Fields["orderId"])
	assert.Equal(t, models.TriggerTypeWebhook, input.Source.TriggerType)

	stored, err := f.store.GetEventTrigger(context.Background(), f.trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TriggerCount)
}

func TestAdapter_RejectsBadSignatureWithoutAudit(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.deliver(t, "orders/new", `{"order":{"id":"o-42"}}`, "wrong")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
	assert.Empty(t, f.events(t))
	assert.Empty(t, f.dispatcher.Requests())
}

func TestAdapter_UnknownPath(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.deliver(t, "nope", `{}`, "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestAdapter_SkipsWithReason(t *testing.T) {
	tests := []struct {
		name    string
		opts    []testutil.FixtureOption
		mutate  func(tr *models.EventTrigger)
		body    string
		message string
	}{
		{
			name:    "disabled agent",
			opts:    []testutil.FixtureOption{testutil.WithDisabledAgent()},
			body:    `{}`,
			message: "agent agent-1 is disabled",
		},
		{
			name:   "inactive trigger",
			mutate: func(tr *models.EventTrigger) { tr.IsActive = false },
			body:   `{}`,
		},
		{
			name:    "filtered out",
			mutate:  func(tr *models.EventTrigger) { tr.Filter = json.RawMessage(`{"match":{"body.status":"paid"}}`) },
			body:    `{"status":"pending"}`,
			message: "delivery did not match the trigger filter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, tt.opts...)
			if tt.mutate != nil {
				tt.mutate(f.trigger)
				require.NoError(t, f.store.UpdateEventTrigger(context.Background(), f.trigger))
			}

			result, err := f.deliver(t, "orders/new", tt.body, "s3cret")
			require.NoError(t, err)
			assert.Equal(t, models.TriggerEventSkipped, result.Status)

			list := f.events(t)
			require.Len(t, list, 1)
			assert.Equal(t, models.TriggerEventSkipped, list[0].Status)
			message := tt.message
			if message == "" {
				message = "trigger " + f.trigger.ID + " is inactive"
			}
			assert.Equal(t, message, *list[0].ErrorMessage)
			assert.Empty(t, f.dispatcher.Requests())
		})
	}
}

func TestAdapter_DispatchFailureIsRecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.SetErr(stderrors.New("queue down"))

	result, err := f.deliver(t, "orders/new", `{"order":{"id":"o-1"}}`, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventFailed, result.Status)

	list := f.events(t)
	require.Len(t, list, 1)
	assert.Contains(t, *list[0].ErrorMessage, "queue down")
}

func TestAdapter_NonJSONBody(t *testing.T) {
	f := newFixture(t, nil)
	f.trigger.Filter = json.RawMessage(`{"expression":"event.body contains \"deploy\""}`)
	require.NoError(t, f.store.UpdateEventTrigger(context.Background(), f.trigger))

	result, err := f.deliver(t, "orders/new", `deploy finished`, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventFired, result.Status)
}

func TestAdapter_XMLBody(t *testing.T) {
	f := newFixture(t, nil)

	body := `<order><id>o-7</id><total>12.50</total></order>`
	r := httptest.NewRequest("POST", "/webhooks/triggers/orders/new", bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/xml")
	r.Header.Set(signature.SignatureHeader, "sha256="+signature.Sign("s3cret", []byte(body)))

	result, err := f.adapter.Handle(context.Background(), r, "orders/new", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, models.TriggerEventFired, result.Status)

	reqs := f.dispatcher.Requests()
	require.Len(t, reqs, 1)
	var input triggers.AgentInput
	require.NoError(t, json.Unmarshal(reqs[0].Payload, &input))
	assert.Equal(t, "o-7", input.Fields["orderId"])
}

func TestDecodeBody(t *testing.T) {
	assert.Nil(t, decodeBody("application/json", []byte("  ")))
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, decodeBody("application/json", []byte(`{"a":1}`)))
	assert.Equal(t, "plain text", decodeBody("text/plain", []byte("plain text")))
	assert.Equal(t, "<broken", decodeBody("application/xml", []byte("<broken")))

	xml, ok := decodeBody("", []byte(`<event><type>push</type></event>`)).(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"type": "push"}, xml["event"])
}

func TestAdapter_RateLimited(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.Config{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 1, MaxKeys: 10, CleanupPeriod: time.Minute})
	require.NoError(t, err)
	f := newFixture(t, limiter)

	_, err = f.deliver(t, "orders/new", `{}`, "s3cret")
	require.NoError(t, err)

	_, err = f.deliver(t, "orders/new", `{}`, "s3cret")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	assert.Len(t, f.events(t), 1)
}
