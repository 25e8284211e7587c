package dispatch

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/go-redis/redis/v8"
	"google.golang.org/api/option"

	"agent-triggers/internal/circuitbreaker"
	"agent-triggers/internal/common/logging"
)

// Options selects and configures a backend
type Options struct {
	Backend string

	RedisClient *redis.Client
	RedisStream string

	PubSubProject   string
	PubSubTopic     string
	CredentialsFile string

	SQS SQSConfig

	RabbitMQURL   string
	RabbitMQQueue string

	Kafka KafkaConfig

	Breaker circuitbreaker.Config
}

// New builds the configured dispatcher. Every backend except "log" is
// wrapped in a circuit breaker.
func New(ctx context.Context, opts Options, logger logging.Logger) (Dispatcher, error) {
	var (
		d   Dispatcher
		err error
	)

	switch opts.Backend {
	case "", "log":
		return NewLogDispatcher(logger), nil

	case "redis":
		if opts.RedisClient == nil {
			return nil, fmt.Errorf("redis dispatch backend requires a redis client")
		}
		d = NewRedisStreamDispatcher(opts.RedisClient, opts.RedisStream, 0)

	case "pubsub":
		var clientOpts []option.ClientOption
		if opts.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
		}
		client, cerr := pubsub.NewClient(ctx, opts.PubSubProject, clientOpts...)
		if cerr != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", cerr)
		}
		d, err = NewPubSubDispatcher(ctx, client, opts.PubSubTopic, true)
		if err != nil {
			client.Close()
			return nil, err
		}

	case "sqs":
		client, cerr := NewSQSClient(ctx, opts.SQS)
		if cerr != nil {
			return nil, cerr
		}
		d = NewSQSDispatcher(client, opts.SQS.QueueURL)

	case "sns":
		client, cerr := NewSNSClient(ctx, opts.SQS)
		if cerr != nil {
			return nil, cerr
		}
		d = NewSNSDispatcher(client, opts.SQS.TopicARN)

	case "kafka":
		producer, cerr := NewKafkaProducer(opts.Kafka)
		if cerr != nil {
			return nil, cerr
		}
		d = NewKafkaDispatcher(producer, opts.Kafka.Topic)

	case "rabbitmq":
		d = NewRabbitMQDispatcher(NewAMQPConnector(opts.RabbitMQURL), opts.RabbitMQQueue)

	default:
		return nil, fmt.Errorf("unknown dispatch backend %q", opts.Backend)
	}

	logger.Info("Dispatch backend configured", logging.String("backend", d.Name()))
	return NewGuarded(d, opts.Breaker, logger), nil
}
