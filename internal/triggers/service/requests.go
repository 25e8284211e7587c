package service

import (
	"encoding/json"

	"agent-triggers/internal/models"
)

// ListFilter narrows the unified listing
type ListFilter struct {
	AgentID    string
	SourceType models.SourceType
	IsActive   *bool
}

// CreateScheduleRequest creates a schedule source
type CreateScheduleRequest struct {
	AgentID       string          `json:"agentId" validate:"required,max=100"`
	Name          string          `json:"name" validate:"required,max=200"`
	Description   string          `json:"description" validate:"max=2000"`
	CronExpr      string          `json:"cronExpr" validate:"required,max=200"`
	Timezone      string          `json:"timezone" validate:"max=64"`
	InputDefaults json.RawMessage `json:"inputDefaults,omitempty"`
	IsActive      *bool           `json:"isActive,omitempty"`
}

// CreateEventTriggerRequest creates an event trigger source
type CreateEventTriggerRequest struct {
	AgentID       string             `json:"agentId" validate:"required,max=100"`
	Name          string             `json:"name" validate:"required,max=200"`
	Description   string             `json:"description" validate:"max=2000"`
	TriggerType   models.TriggerType `json:"triggerType" validate:"required,trigger_type"`
	EventName     string             `json:"eventName" validate:"max=200"`
	WebhookPath   string             `json:"webhookPath" validate:"omitempty,webhook_path"`
	WebhookSecret string             `json:"webhookSecret" validate:"max=256"`
	Filter        json.RawMessage    `json:"filter,omitempty"`
	InputMapping  json.RawMessage    `json:"inputMapping,omitempty"`
	IsActive      *bool              `json:"isActive,omitempty"`
}

// UpdateRequest is a partial update of either source kind. Absent fields are
// left untouched. Filter and InputMapping distinguish absent from an explicit
// JSON null, which clears them.
type UpdateRequest struct {
	Name        *string       `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string       `json:"description,omitempty" validate:"omitempty,max=2000"`
	IsActive    *bool         `json:"isActive,omitempty"`
	Config      *UpdateConfig `json:"config,omitempty"`

	Input       *string                `json:"input,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	MaxSteps    *int                   `json:"maxSteps,omitempty" validate:"omitempty,min=1,max=1000"`
	Environment *string                `json:"environment,omitempty"`

	Filter       json.RawMessage `json:"filter,omitempty"`
	InputMapping json.RawMessage `json:"inputMapping,omitempty"`
}

// UpdateConfig holds the source specific part of an update
type UpdateConfig struct {
	CronExpr      *string `json:"cronExpr,omitempty" validate:"omitempty,max=200"`
	Timezone      *string `json:"timezone,omitempty" validate:"omitempty,max=64"`
	EventName     *string `json:"eventName,omitempty" validate:"omitempty,max=200"`
	WebhookPath   *string `json:"webhookPath,omitempty"`
	WebhookSecret *string `json:"webhookSecret,omitempty" validate:"omitempty,max=256"`
}

func (r *UpdateRequest) defaults() models.InputDefaults {
	return models.InputDefaults{
		Input:       r.Input,
		Context:     r.Context,
		MaxSteps:    r.MaxSteps,
		Environment: r.Environment,
	}
}

func (r *UpdateRequest) touchesEventFields() bool {
	return len(r.Filter) > 0 || len(r.InputMapping) > 0 ||
		(r.Config != nil && (r.Config.EventName != nil || r.Config.WebhookPath != nil || r.Config.WebhookSecret != nil))
}

func (r *UpdateRequest) touchesScheduleFields() bool {
	return r.Config != nil && (r.Config.CronExpr != nil || r.Config.Timezone != nil)
}
