package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	published []*sns.PublishInput
	err       error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, params)
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSNS) GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error) {
	return &sns.GetTopicAttributesOutput{}, f.err
}

func TestSNSDispatcher_Publish(t *testing.T) {
	fake := &fakeSNS{}
	d := NewSNSDispatcher(fake, "arn:aws:sns:us-east-1:123:agent-runs")

	require.NoError(t, d.Dispatch(context.Background(), testRequest()))
	require.Len(t, fake.published, 1)

	in := fake.published[0]
	assert.Nil(t, in.MessageGroupId)
	assert.Equal(t, "evt-1", aws.ToString(in.MessageAttributes["triggerEventId"].StringValue))

	env, err := Decode([]byte(aws.ToString(in.Message)))
	require.NoError(t, err)
	assert.Equal(t, "agent-1", env.AgentID)
}

func TestSNSDispatcher_FIFO(t *testing.T) {
	fake := &fakeSNS{}
	d := NewSNSDispatcher(fake, "arn:aws:sns:us-east-1:123:agent-runs.fifo")

	require.NoError(t, d.Dispatch(context.Background(), testRequest()))
	assert.Equal(t, "agent-1", aws.ToString(fake.published[0].MessageGroupId))
	assert.Equal(t, "evt-1", aws.ToString(fake.published[0].MessageDeduplicationId))
}

func TestSNSDispatcher_Error(t *testing.T) {
	fake := &fakeSNS{err: errors.New("not authorized")}
	d := NewSNSDispatcher(fake, "arn:aws:sns:us-east-1:123:agent-runs")

	assert.Error(t, d.Dispatch(context.Background(), testRequest()))
	assert.Error(t, d.Health(context.Background()))
}
