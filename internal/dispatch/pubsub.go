package dispatch

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"agent-triggers/internal/common/errors"
)

// PubSubDispatcher publishes requests to a Google Cloud Pub/Sub topic and
// waits for the server to acknowledge each publish
type PubSubDispatcher struct {
	client     *pubsub.Client
	topic      *pubsub.Topic
	ownsClient bool
	now        func() time.Time
}

// NewPubSubDispatcher publishes to topicID through client. The topic must exist.
func NewPubSubDispatcher(ctx context.Context, client *pubsub.Client, topicID string, ownsClient bool) (*PubSubDispatcher, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, errors.ConnectionError("failed to check topic existence", err)
	}
	if !exists {
		return nil, errors.ConfigError(fmt.Sprintf("topic %s does not exist", topicID))
	}

	// one request per publish call; batching would delay acknowledgement
	topic.PublishSettings.CountThreshold = 1
	topic.PublishSettings.DelayThreshold = 10 * time.Millisecond

	return &PubSubDispatcher{client: client, topic: topic, ownsClient: ownsClient, now: time.Now}, nil
}

func (d *PubSubDispatcher) Name() string { return "pubsub" }

func (d *PubSubDispatcher) Dispatch(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return errors.ValidationError(err.Error())
	}
	body, err := Encode(req, d.now())
	if err != nil {
		return errors.InternalError("failed to encode dispatch request", err)
	}

	result := d.topic.Publish(ctx, &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"agentId":        req.AgentID,
			"triggerId":      req.TriggerID,
			"triggerEventId": req.TriggerEventID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return errors.ConnectionError("failed to publish to pubsub topic "+d.topic.ID(), err)
	}
	return nil
}

func (d *PubSubDispatcher) Health(ctx context.Context) error {
	_, err := d.topic.Exists(ctx)
	return err
}

func (d *PubSubDispatcher) Close() error {
	d.topic.Stop()
	if d.ownsClient {
		return d.client.Close()
	}
	return nil
}
