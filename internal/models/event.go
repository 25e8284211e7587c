package models

import (
	"encoding/json"
	"time"
)

// TriggerEventStatus is the lifecycle state of a trigger event
type TriggerEventStatus string

const (
	TriggerEventReceived   TriggerEventStatus = "RECEIVED"
	TriggerEventSkipped    TriggerEventStatus = "SKIPPED"
	TriggerEventProcessing TriggerEventStatus = "PROCESSING"
	TriggerEventFired      TriggerEventStatus = "FIRED"
	TriggerEventFailed     TriggerEventStatus = "FAILED"
)

// Valid reports whether s is a known lifecycle state
func (s TriggerEventStatus) Valid() bool {
	switch s {
	case TriggerEventReceived, TriggerEventSkipped, TriggerEventProcessing, TriggerEventFired, TriggerEventFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s
func (s TriggerEventStatus) Terminal() bool {
	return s == TriggerEventSkipped || s == TriggerEventFired || s == TriggerEventFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next
func (s TriggerEventStatus) CanTransition(next TriggerEventStatus) bool {
	switch s {
	case TriggerEventReceived:
		return next == TriggerEventProcessing || next.Terminal()
	case TriggerEventProcessing:
		return next == TriggerEventFired || next == TriggerEventFailed || next == TriggerEventSkipped
	default:
		return false
	}
}

// TriggerEvent is the durable audit record of one candidate firing
type TriggerEvent struct {
	ID             string             `json:"id"`
	TriggerID      *string            `json:"triggerId,omitempty"`
	AgentID        string             `json:"agentId"`
	WorkspaceID    string             `json:"workspaceId"`
	Status         TriggerEventStatus `json:"status"`
	SourceType     SourceType         `json:"sourceType"`
	TriggerType    TriggerType        `json:"triggerType"`
	IntegrationKey string             `json:"integrationKey,omitempty"`
	IntegrationID  *string            `json:"integrationId,omitempty"`
	EventName      string             `json:"eventName,omitempty"`
	Payload        json.RawMessage    `json:"payload"`
	ErrorMessage   *string            `json:"errorMessage,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// TriggerEventFilter narrows a trigger event listing
type TriggerEventFilter struct {
	TriggerID     string
	AgentID       string
	IntegrationID string
	Status        TriggerEventStatus
	Limit         int
	Offset        int
}
