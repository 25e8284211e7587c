package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "agent-triggers/internal/common/errors"
)

type fakeProducer struct {
	produced   []*kafka.Message
	produceErr error
	deliverErr error
	hold       bool
	closed     bool
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if f.produceErr != nil {
		return f.produceErr
	}
	f.produced = append(f.produced, msg)
	if !f.hold {
		ack := *msg
		ack.TopicPartition.Error = f.deliverErr
		deliveryChan <- &ack
	}
	return nil
}

func (f *fakeProducer) GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error) {
	return &kafka.Metadata{}, f.produceErr
}

func (f *fakeProducer) Flush(timeoutMs int) int { return 0 }

func (f *fakeProducer) Close() { f.closed = true }

func TestKafkaDispatcher_Produce(t *testing.T) {
	fake := &fakeProducer{}
	d := NewKafkaDispatcher(fake, "agent-runs")

	require.NoError(t, d.Dispatch(context.Background(), testRequest()))
	require.Len(t, fake.produced, 1)

	msg := fake.produced[0]
	assert.Equal(t, "agent-runs", *msg.TopicPartition.Topic)
	assert.Equal(t, "agent-1", string(msg.Key))

	env, err := Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", env.TriggerEventID)
}

func TestKafkaDispatcher_DeliveryError(t *testing.T) {
	fake := &fakeProducer{deliverErr: kafka.NewError(kafka.ErrMsgTimedOut, "timed out", false)}
	d := NewKafkaDispatcher(fake, "")

	err := d.Dispatch(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTypeConnection, apperrors.GetType(err))
}

func TestKafkaDispatcher_ProduceError(t *testing.T) {
	fake := &fakeProducer{produceErr: errors.New("queue full")}
	d := NewKafkaDispatcher(fake, "")

	assert.Error(t, d.Dispatch(context.Background(), testRequest()))
	assert.Error(t, d.Health(context.Background()))
}

func TestKafkaDispatcher_ContextEndsWait(t *testing.T) {
	fake := &fakeProducer{hold: true}
	d := NewKafkaDispatcher(fake, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Dispatch(ctx, testRequest())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTypeTimeout, apperrors.GetType(err))
}

func TestKafkaDispatcher_Close(t *testing.T) {
	fake := &fakeProducer{}
	require.NoError(t, NewKafkaDispatcher(fake, "").Close())
	assert.True(t, fake.closed)
}
