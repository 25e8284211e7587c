package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"agent-triggers/internal/common/errors"
)

// KafkaConfig configures the Kafka producer
type KafkaConfig struct {
	Brokers          []string
	Topic            string
	ClientID         string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
}

// KafkaProducer is the subset of the confluent producer the dispatcher uses
type KafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	Flush(timeoutMs int) int
	Close()
}

// KafkaDispatcher produces requests to a topic keyed by agent, so one
// agent's runs stay ordered within a partition
type KafkaDispatcher struct {
	producer KafkaProducer
	topic    string
	now      func() time.Time
}

// NewKafkaProducer creates a confluent producer from cfg
func NewKafkaProducer(cfg KafkaConfig) (*kafka.Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.ConfigError("at least one Kafka broker is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "agent-triggers"
	}

	configMap := kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(cfg.Brokers, ","),
		"client.id":          clientID,
		"acks":               "all",
		"enable.idempotence": true,
	}
	if cfg.SecurityProtocol != "" && cfg.SecurityProtocol != "PLAINTEXT" {
		configMap["security.protocol"] = cfg.SecurityProtocol
	}
	if strings.HasPrefix(cfg.SecurityProtocol, "SASL_") {
		configMap["sasl.mechanism"] = cfg.SASLMechanism
		configMap["sasl.username"] = cfg.SASLUsername
		configMap["sasl.password"] = cfg.SASLPassword
	}

	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return nil, errors.ConnectionError("failed to create Kafka producer", err)
	}
	return producer, nil
}

// NewKafkaDispatcher creates a dispatcher producing to topic
func NewKafkaDispatcher(producer KafkaProducer, topic string) *KafkaDispatcher {
	if topic == "" {
		topic = "agent-runs"
	}
	return &KafkaDispatcher{producer: producer, topic: topic, now: time.Now}
}

func (d *KafkaDispatcher) Name() string { return "kafka" }

// Dispatch waits for the broker acknowledgement or ctx
func (d *KafkaDispatcher) Dispatch(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return errors.ValidationError(err.Error())
	}
	now := d.now()
	body, err := Encode(req, now)
	if err != nil {
		return errors.InternalError("failed to encode dispatch request", err)
	}

	topic := d.topic
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(req.AgentID),
		Value:          body,
		Timestamp:      now,
		Headers: []kafka.Header{
			{Key: "triggerEventId", Value: []byte(req.TriggerEventID)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}

	delivery := make(chan kafka.Event, 1)
	if err := d.producer.Produce(msg, delivery); err != nil {
		return errors.ConnectionError("failed to produce to Kafka topic "+topic, err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return errors.ConnectionError("unexpected Kafka delivery event", fmt.Errorf("%v", e))
		}
		if m.TopicPartition.Error != nil {
			return errors.ConnectionError("Kafka delivery failed", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return errors.TimeoutError("kafka delivery").WithCause(ctx.Err())
	}
}

func (d *KafkaDispatcher) Health(ctx context.Context) error {
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	topic := d.topic
	_, err := d.producer.GetMetadata(&topic, false, int(timeout.Milliseconds()))
	return err
}

// Close flushes outstanding messages for up to five seconds
func (d *KafkaDispatcher) Close() error {
	if remaining := d.producer.Flush(5000); remaining > 0 {
		d.producer.Close()
		return fmt.Errorf("%d Kafka messages not delivered before close", remaining)
	}
	d.producer.Close()
	return nil
}
