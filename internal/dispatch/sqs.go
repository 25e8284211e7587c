package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"agent-triggers/internal/common/errors"
)

// SQSAPI is the subset of the SQS client the dispatcher uses
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSConfig configures the AWS client. It is shared by the SQS and SNS
// backends; TopicARN is only read by SNS.
type SQSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	QueueURL        string
	TopicARN        string
}

// SQSDispatcher sends requests to an SQS queue
type SQSDispatcher struct {
	client   SQSAPI
	queueURL string
	fifo     bool
	now      func() time.Time
}

// NewSQSClient builds an SQS client. Static credentials are used when given,
// otherwise the default AWS credential chain applies.
func NewSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg), nil
}

func loadAWSConfig(ctx context.Context, cfg SQSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, errors.ConnectionError("failed to load AWS config", err)
	}
	return awsCfg, nil
}

// NewSQSDispatcher creates a dispatcher for queueURL. FIFO queues are
// detected by their ".fifo" suffix and grouped per agent.
func NewSQSDispatcher(client SQSAPI, queueURL string) *SQSDispatcher {
	return &SQSDispatcher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		now:      time.Now,
	}
}

func (d *SQSDispatcher) Name() string { return "sqs" }

func (d *SQSDispatcher) Dispatch(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return errors.ValidationError(err.Error())
	}
	body, err := Encode(req, d.now())
	if err != nil {
		return errors.InternalError("failed to encode dispatch request", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"agentId":        {DataType: aws.String("String"), StringValue: aws.String(req.AgentID)},
			"triggerEventId": {DataType: aws.String("String"), StringValue: aws.String(req.TriggerEventID)},
		},
	}
	if d.fifo {
		input.MessageGroupId = aws.String(req.AgentID)
		input.MessageDeduplicationId = aws.String(req.TriggerEventID)
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return errors.ConnectionError("failed to send message to SQS", err)
	}
	return nil
}

func (d *SQSDispatcher) Health(ctx context.Context) error {
	_, err := d.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(d.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	return err
}

func (d *SQSDispatcher) Close() error { return nil }
