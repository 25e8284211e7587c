// Package models holds the persisted domain records shared by the trigger,
// event, ingestion and storage packages.
package models

import (
	"encoding/json"
	"time"
)

// SourceType names which kind of record backs a unified trigger
type SourceType string

const (
	SourceTypeSchedule SourceType = "schedule"
	SourceTypeTrigger  SourceType = "trigger"
)

// Valid reports whether s is a known source type
func (s SourceType) Valid() bool {
	return s == SourceTypeSchedule || s == SourceTypeTrigger
}

// TriggerType classifies an event trigger source
type TriggerType string

const (
	TriggerTypeEvent   TriggerType = "event"
	TriggerTypeWebhook TriggerType = "webhook"
	TriggerTypeAPI     TriggerType = "api"
	TriggerTypeManual  TriggerType = "manual"
	TriggerTypeTest    TriggerType = "test"
	TriggerTypeMCP     TriggerType = "mcp"

	// TriggerTypeSchedule only appears on trigger events produced by schedules
	TriggerTypeSchedule TriggerType = "schedule"
)

// Valid reports whether t may be stored on an event trigger source
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerTypeEvent, TriggerTypeWebhook, TriggerTypeAPI, TriggerTypeManual, TriggerTypeTest, TriggerTypeMCP:
		return true
	}
	return false
}

// RequiresDefaultInput reports whether the trigger type fires unattended and
// therefore needs a literal default input on its mapping.
func (t TriggerType) RequiresDefaultInput() bool {
	return t == TriggerTypeEvent || t == TriggerTypeWebhook
}

// InputDefaults is the canonical agent input a trigger starts an execution with
type InputDefaults struct {
	Input       *string                `json:"input,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	MaxSteps    *int                   `json:"maxSteps,omitempty"`
	Environment *string                `json:"environment,omitempty"`
}

// IsZero reports whether no default is set
func (d InputDefaults) IsZero() bool {
	return d.Input == nil && len(d.Context) == 0 && d.MaxSteps == nil && d.Environment == nil
}

// InputMapping describes how an inbound event payload becomes agent input.
// Fields maps a target input field to a dotted path inside the event payload.
type InputMapping struct {
	Defaults     *InputDefaults    `json:"defaults,omitempty"`
	Environment  *string           `json:"environment,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	DefaultInput *string           `json:"defaultInput,omitempty"`
}

// Schedule is a trigger source fired by time
type Schedule struct {
	ID            string        `json:"id"`
	AgentID       string        `json:"agentId"`
	WorkspaceID   string        `json:"workspaceId"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	CronExpr      string        `json:"cronExpr"`
	Timezone      string        `json:"timezone"`
	InputDefaults InputDefaults `json:"inputDefaults"`
	IsActive      bool          `json:"isActive"`
	LastRunAt     *time.Time    `json:"lastRunAt,omitempty"`
	NextRunAt     *time.Time    `json:"nextRunAt,omitempty"`
	RunCount      int64         `json:"runCount"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// EventTrigger is a trigger source fired by an external or internal event
type EventTrigger struct {
	ID              string          `json:"id"`
	AgentID         string          `json:"agentId"`
	WorkspaceID     string          `json:"workspaceId"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	TriggerType     TriggerType     `json:"triggerType"`
	EventName       string          `json:"eventName,omitempty"`
	WebhookPath     string          `json:"webhookPath,omitempty"`
	WebhookSecret   string          `json:"-"`
	Filter          json.RawMessage `json:"filter,omitempty"`
	InputMapping    *InputMapping   `json:"inputMapping,omitempty"`
	IsActive        bool            `json:"isActive"`
	LastTriggeredAt *time.Time      `json:"lastTriggeredAt,omitempty"`
	TriggerCount    int64           `json:"triggerCount"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// TriggerStats summarises how often a unified trigger has fired
type TriggerStats struct {
	FireCount int64 `json:"fireCount"`
}

// UnifiedTrigger is the read projection over both source kinds. It is
// composed at read time and never stored.
type UnifiedTrigger struct {
	ID            string                 `json:"id"`
	SourceID      string                 `json:"sourceId"`
	SourceType    SourceType             `json:"sourceType"`
	Kind          string                 `json:"kind"`
	AgentID       string                 `json:"agentId"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	IsActive      bool                   `json:"isActive"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	Config        map[string]interface{} `json:"config"`
	InputDefaults InputDefaults          `json:"inputDefaults"`
	Stats         TriggerStats           `json:"stats"`
	LastRun       *time.Time             `json:"lastRun,omitempty"`
}
