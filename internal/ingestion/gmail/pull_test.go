package gmail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"agent-triggers/internal/common/logging"
)

type recordingHandler struct {
	mu    sync.Mutex
	seen  []*Notification
	err   error
	calls chan struct{}
}

func (h *recordingHandler) HandleNotification(ctx context.Context, n *Notification) (*Result, error) {
	h.mu.Lock()
	h.seen = append(h.seen, n)
	err := h.err
	h.mu.Unlock()
	select {
	case h.calls <- struct{}{}:
	default:
	}
	if err != nil {
		return nil, err
	}
	return &Result{Success: true}, nil
}

func newSubscription(t *testing.T) (*pstest.Server, *pubsub.Client, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "gmail-push")
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, "gmail-pull", pubsub.SubscriptionConfig{Topic: topic, AckDeadline: 10 * time.Second})
	require.NoError(t, err)
	return srv, client, topic
}

func TestSubscriber_AcksHandledNotifications(t *testing.T) {
	srv, client, topic := newSubscription(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &recordingHandler{calls: make(chan struct{}, 4)}
	sub := NewSubscriber(client, "gmail-pull", handler, 1, logging.NewNopLogger())

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(`not json`)}).Get(ctx)
	require.NoError(t, err)
	_, err = topic.Publish(ctx, &pubsub.Message{Data: []byte(`{"emailAddress":"Ops@acme.com","historyId":"42"}`)}).Get(ctx)
	require.NoError(t, err)

	select {
	case <-handler.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("notification was not delivered")
	}

	require.Eventually(t, func() bool {
		for _, m := range srv.Messages() {
			if m.Acks == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.seen, 1)
	assert.Equal(t, "ops@acme.com", handler.seen[0].EmailAddress)
	assert.Equal(t, "42", handler.seen[0].HistoryID)
	assert.NotEmpty(t, handler.seen[0].MessageID)
}

func TestSubscriber_NacksFailedNotifications(t *testing.T) {
	_, client, topic := newSubscription(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &recordingHandler{err: errors.New("lock busy"), calls: make(chan struct{}, 16)}
	sub := NewSubscriber(client, "gmail-pull", handler, 1, logging.NewNopLogger())

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(`{"emailAddress":"ops@acme.com","historyId":"42"}`)}).Get(ctx)
	require.NoError(t, err)

	// a nacked message comes back
	for i := 0; i < 2; i++ {
		select {
		case <-handler.calls:
		case <-time.After(10 * time.Second):
			t.Fatal("notification was not redelivered")
		}
	}

	cancel()
	require.NoError(t, <-done)
}
