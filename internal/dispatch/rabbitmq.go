package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"agent-triggers/internal/common/errors"
)

// AMQPChannel is the subset of *amqp.Channel the dispatcher uses
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ChannelSource opens AMQP channels
type ChannelSource interface {
	Channel() (AMQPChannel, error)
	Close() error
}

// AMQPConnector keeps one connection open and redials once it drops
type AMQPConnector struct {
	url  string
	mu   sync.Mutex
	conn *amqp.Connection
}

// NewAMQPConnector creates a connector for url; it dials lazily
func NewAMQPConnector(url string) *AMQPConnector {
	return &AMQPConnector{url: url}
}

// Channel opens a channel on the current connection
func (c *AMQPConnector) Channel() (AMQPChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
		}
		c.conn = conn
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// Close closes the connection
func (c *AMQPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// RabbitMQDispatcher publishes persistent messages to a durable queue
type RabbitMQDispatcher struct {
	source ChannelSource
	queue  string
	now    func() time.Time

	mu sync.Mutex
	ch AMQPChannel
}

// NewRabbitMQDispatcher creates a dispatcher publishing to queue via the default exchange
func NewRabbitMQDispatcher(source ChannelSource, queue string) *RabbitMQDispatcher {
	if queue == "" {
		queue = "agent-runs"
	}
	return &RabbitMQDispatcher{source: source, queue: queue, now: time.Now}
}

func (d *RabbitMQDispatcher) Name() string { return "rabbitmq" }

func (d *RabbitMQDispatcher) channel() (AMQPChannel, error) {
	if d.ch != nil {
		return d.ch, nil
	}
	ch, err := d.source.Channel()
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(d.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", d.queue, err)
	}
	d.ch = ch
	return ch, nil
}

func (d *RabbitMQDispatcher) Dispatch(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return errors.ValidationError(err.Error())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := d.now()
	body, err := Encode(req, now)
	if err != nil {
		return errors.InternalError("failed to encode dispatch request", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ch, err := d.channel()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ channel", err)
	}

	err = ch.Publish("", d.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    req.TriggerEventID,
		Timestamp:    now,
		Body:         body,
	})
	if err != nil {
		// a failed publish usually means the channel is dead
		ch.Close()
		d.ch = nil
		return errors.ConnectionError("failed to publish to RabbitMQ queue "+d.queue, err)
	}
	return nil
}

func (d *RabbitMQDispatcher) Health(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.channel()
	return err
}

func (d *RabbitMQDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch != nil {
		d.ch.Close()
		d.ch = nil
	}
	return d.source.Close()
}
