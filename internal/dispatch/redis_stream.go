package dispatch

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"agent-triggers/internal/common/errors"
)

// RedisStreamDispatcher appends requests to a Redis stream with XADD
type RedisStreamDispatcher struct {
	client *redis.Client
	stream string
	maxLen int64
	now    func() time.Time
}

// NewRedisStreamDispatcher creates a dispatcher writing to stream. A positive
// maxLen trims the stream approximately.
func NewRedisStreamDispatcher(client *redis.Client, stream string, maxLen int64) *RedisStreamDispatcher {
	if stream == "" {
		stream = "agent:runs"
	}
	return &RedisStreamDispatcher{client: client, stream: stream, maxLen: maxLen, now: time.Now}
}

func (d *RedisStreamDispatcher) Name() string { return "redis" }

func (d *RedisStreamDispatcher) Dispatch(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return errors.ValidationError(err.Error())
	}
	body, err := Encode(req, d.now())
	if err != nil {
		return errors.InternalError("failed to encode dispatch request", err)
	}

	args := &redis.XAddArgs{
		Stream: d.stream,
		ID:     "*",
		Values: map[string]interface{}{
			"body":             string(body),
			"agent_id":         req.AgentID,
			"trigger_id":       req.TriggerID,
			"trigger_event_id": req.TriggerEventID,
		},
	}
	if d.maxLen > 0 {
		args.MaxLen = d.maxLen
		args.Approx = true
	}

	if err := d.client.XAdd(ctx, args).Err(); err != nil {
		return errors.ConnectionError("failed to append to redis stream "+d.stream, err)
	}
	return nil
}

func (d *RedisStreamDispatcher) Health(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close leaves the shared client open; its owner closes it
func (d *RedisStreamDispatcher) Close() error { return nil }
