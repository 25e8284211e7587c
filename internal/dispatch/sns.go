package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"agent-triggers/internal/common/errors"
)

// SNSAPI is the subset of the SNS client the dispatcher uses
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

// SNSDispatcher publishes requests to an SNS topic, for runtimes that fan out
// through subscriptions
type SNSDispatcher struct {
	client   SNSAPI
	topicARN string
	fifo     bool
	now      func() time.Time
}

// NewSNSClient builds an SNS client with the same credential rules as SQS
func NewSNSClient(ctx context.Context, cfg SQSConfig) (*sns.Client, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(awsCfg), nil
}

// NewSNSDispatcher creates a dispatcher for topicARN. FIFO topics are grouped
// per agent.
func NewSNSDispatcher(client SNSAPI, topicARN string) *SNSDispatcher {
	return &SNSDispatcher{
		client:   client,
		topicARN: topicARN,
		fifo:     strings.HasSuffix(topicARN, ".fifo"),
		now:      time.Now,
	}
}

func (d *SNSDispatcher) Name() string { return "sns" }

func (d *SNSDispatcher) Dispatch(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return errors.ValidationError(err.Error())
	}
	body, err := Encode(req, d.now())
	if err != nil {
		return errors.InternalError("failed to encode dispatch request", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(d.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"agentId":        {DataType: aws.String("String"), StringValue: aws.String(req.AgentID)},
			"triggerEventId": {DataType: aws.String("String"), StringValue: aws.String(req.TriggerEventID)},
		},
	}
	if d.fifo {
		input.MessageGroupId = aws.String(req.AgentID)
		input.MessageDeduplicationId = aws.String(req.TriggerEventID)
	}

	if _, err := d.client.Publish(ctx, input); err != nil {
		return errors.ConnectionError("failed to publish to SNS", err)
	}
	return nil
}

func (d *SNSDispatcher) Health(ctx context.Context) error {
	_, err := d.client.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(d.topicARN)})
	return err
}

func (d *SNSDispatcher) Close() error { return nil }
