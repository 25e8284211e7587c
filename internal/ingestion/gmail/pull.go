package gmail

import (
	"context"

	"cloud.google.com/go/pubsub"

	"agent-triggers/internal/common/logging"
)

// NotificationHandler processes one decoded notification
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n *Notification) (*Result, error)
}

// Subscriber pulls mailbox notifications from a Pub/Sub subscription as an
// alternative to the push endpoint
type Subscriber struct {
	subscription *pubsub.Subscription
	handler      NotificationHandler
	logger       logging.Logger
}

// NewSubscriber creates a pull subscriber
func NewSubscriber(client *pubsub.Client, subscriptionID string, handler NotificationHandler, maxOutstanding int, logger logging.Logger) *Subscriber {
	sub := client.Subscription(subscriptionID)
	if maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	return &Subscriber{subscription: sub, handler: handler, logger: logger}
}

// Run receives until ctx is cancelled. Undecodable messages are acknowledged
// and dropped; a handler error nacks the message for redelivery.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.Info("Started Pub/Sub subscription", logging.String("subscription", s.subscription.ID()))

	err := s.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		log := s.logger.WithContext(ctx).WithFields(logging.String("pubsub_message_id", msg.ID))

		n, err := DecodeNotification(msg.Data)
		if err != nil {
			log.Warn("Dropping undecodable notification", logging.Err(err))
			msg.Ack()
			return
		}
		n.MessageID = msg.ID

		result, err := s.handler.HandleNotification(ctx, n)
		if err != nil {
			log.Warn("Notification not accounted for, requesting redelivery", logging.Err(err))
			msg.Nack()
			return
		}

		log.Debug("Notification handled",
			logging.Bool("success", result.Success),
			logging.String("reason", result.Reason),
		)
		msg.Ack()
	})

	if err != nil && ctx.Err() == nil {
		s.logger.Error("Pub/Sub subscription error", err, logging.String("subscription", s.subscription.ID()))
		return err
	}
	return nil
}
