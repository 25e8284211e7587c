package dispatch

import (
	"context"

	"agent-triggers/internal/common/logging"
)

// LogDispatcher only logs requests. It is the default backend for local runs.
type LogDispatcher struct {
	logger logging.Logger
}

// NewLogDispatcher creates a logging dispatcher
func NewLogDispatcher(logger logging.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Name() string { return "log" }

func (d *LogDispatcher) Dispatch(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	d.logger.WithContext(ctx).Info("Agent run requested",
		logging.String("trigger_id", req.TriggerID),
		logging.String("agent_id", req.AgentID),
		logging.String("trigger_event_id", req.TriggerEventID),
		logging.Int("payload_bytes", len(req.Payload)),
	)
	return nil
}

func (d *LogDispatcher) Health(ctx context.Context) error { return nil }

func (d *LogDispatcher) Close() error { return nil }
