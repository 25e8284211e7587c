// Package dispatch hands fire requests to the agent execution runtime.
//
// A Dispatcher only enqueues: a nil error means the request was accepted by
// the backend, not that the agent ran. Backends publish the same JSON
// Envelope so the runtime can consume from any of them.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Request is one agent fire request
type Request struct {
	TriggerID      string
	AgentID        string
	TriggerEventID string
	Payload        json.RawMessage
}

// Validate checks the fields every backend relies on
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("dispatch request is nil")
	}
	if r.AgentID == "" {
		return fmt.Errorf("dispatch request has no agent id")
	}
	if r.TriggerEventID == "" {
		return fmt.Errorf("dispatch request has no trigger event id")
	}
	return nil
}

// Dispatcher enqueues fire requests
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, req *Request) error
	Health(ctx context.Context) error
	Close() error
}

// Envelope is the wire format published by every backend
type Envelope struct {
	TriggerID      string          `json:"triggerId,omitempty"`
	AgentID        string          `json:"agentId"`
	TriggerEventID string          `json:"triggerEventId"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueuedAt"`
}

// Encode builds the wire body of req
func Encode(req *Request, now time.Time) ([]byte, error) {
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return json.Marshal(Envelope{
		TriggerID:      req.TriggerID,
		AgentID:        req.AgentID,
		TriggerEventID: req.TriggerEventID,
		Payload:        payload,
		EnqueuedAt:     now.UTC(),
	})
}

// Decode parses a wire body produced by Encode
func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode dispatch envelope: %w", err)
	}
	return &env, nil
}
