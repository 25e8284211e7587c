package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/common/logging"
)

func testRequest() *Request {
	return &Request{
		TriggerID:      "trigger:6f1c2a52-6c1e-4a53-9a57-0f5b0c7b0a11",
		AgentID:        "agent-1",
		TriggerEventID: "evt-1",
		Payload:        json.RawMessage(`{"input":"hello"}`),
	}
}

func TestEncodeDecode(t *testing.T) {
	now := time.Date(2024, 3, 11, 13, 0, 0, 0, time.UTC)
	body, err := Encode(testRequest(), now)
	require.NoError(t, err)

	env, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", env.AgentID)
	assert.Equal(t, "evt-1", env.TriggerEventID)
	assert.JSONEq(t, `{"input":"hello"}`, string(env.Payload))
	assert.True(t, env.EnqueuedAt.Equal(now))
}

func TestEncode_EmptyPayloadBecomesObject(t *testing.T) {
	req := testRequest()
	req.Payload = nil
	body, err := Encode(req, time.Now())
	require.NoError(t, err)

	env, err := Decode(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(env.Payload))
}

func TestRequestValidate(t *testing.T) {
	var nilReq *Request
	assert.Error(t, nilReq.Validate())
	assert.Error(t, (&Request{TriggerEventID: "e"}).Validate())
	assert.Error(t, (&Request{AgentID: "a"}).Validate())
	assert.NoError(t, testRequest().Validate())
}

func TestLogDispatcher(t *testing.T) {
	d := NewLogDispatcher(logging.NewNopLogger())
	assert.Equal(t, "log", d.Name())
	assert.NoError(t, d.Dispatch(context.Background(), testRequest()))
	assert.Error(t, d.Dispatch(context.Background(), &Request{}))
	assert.NoError(t, d.Health(context.Background()))
	assert.NoError(t, d.Close())
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewNopLogger()

	d, err := New(ctx, Options{}, logger)
	require.NoError(t, err)
	assert.Equal(t, "log", d.Name())

	_, err = New(ctx, Options{Backend: "redis"}, logger)
	assert.Error(t, err)

	_, err = New(ctx, Options{Backend: "kafka"}, logger)
	assert.Error(t, err, "kafka needs brokers")

	_, err = New(ctx, Options{Backend: "nats"}, logger)
	assert.Error(t, err)

	d, err = New(ctx, Options{Backend: "rabbitmq", RabbitMQURL: "amqp://localhost:1"}, logger)
	require.NoError(t, err)
	_, guarded := d.(*Guarded)
	assert.True(t, guarded)
	assert.Equal(t, "rabbitmq", d.Name())
}
