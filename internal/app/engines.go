package app

import (
	"context"
	"time"

	"agent-triggers/internal/circuitbreaker"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/dispatch"
	"agent-triggers/internal/events"
	"agent-triggers/internal/triggers"
)

// filterCacheTTL bounds how long compiled trigger filters are reused
const filterCacheTTL = 10 * time.Minute

func (app *App) initializeDispatch(ctx context.Context) error {
	opts := dispatch.Options{
		Backend:         app.Config.DispatchBackend,
		RedisStream:     app.Config.DispatchRedisStream,
		PubSubProject:   app.Config.DispatchPubSubProject,
		PubSubTopic:     app.Config.DispatchPubSubTopic,
		CredentialsFile: app.Config.GoogleCredentialsFile,
		SQS: dispatch.SQSConfig{
			Region:          app.Config.AWSRegion,
			AccessKeyID:     app.Config.AWSAccessKeyID,
			SecretAccessKey: app.Config.AWSSecretAccessKey,
			QueueURL:        app.Config.DispatchSQSQueueURL,
			TopicARN:        app.Config.DispatchSNSTopicARN,
		},
		Kafka: dispatch.KafkaConfig{
			Brokers:          app.Config.DispatchKafkaBrokers,
			Topic:            app.Config.DispatchKafkaTopic,
			SecurityProtocol: app.Config.KafkaSecurityProtocol,
			SASLMechanism:    app.Config.KafkaSASLMechanism,
			SASLUsername:     app.Config.KafkaSASLUsername,
			SASLPassword:     app.Config.KafkaSASLPassword,
		},
		RabbitMQURL:   app.Config.DispatchRabbitMQURL,
		RabbitMQQueue: app.Config.DispatchRabbitMQQueue,
		Breaker: circuitbreaker.Config{
			MaxFailures:           app.Config.DispatchBreakerMaxFailures,
			Timeout:               app.Config.DispatchBreakerTimeout,
			MaxConcurrentRequests: circuitbreaker.DefaultConfig().MaxConcurrentRequests,
		},
	}
	if app.RedisClient != nil {
		opts.RedisClient = app.RedisClient.Redis()
	}

	d, err := dispatch.New(ctx, opts, app.Logger)
	if err != nil {
		return err
	}
	app.Dispatcher = d
	app.onClose(d.Close)
	app.Logger.Info("Dispatch: Ready", logging.String("backend", d.Name()))

	app.Events = events.NewManager(app.Store, app.Logger)
	app.Filters = triggers.NewFilterEvaluator(filterCacheTTL)
	return nil
}
