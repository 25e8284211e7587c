package triggers

import (
	"encoding/json"
	"strings"

	"agent-triggers/internal/models"
)

// AgentInput is the payload handed to the dispatcher for one firing
type AgentInput struct {
	Input       *string                `json:"input,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	MaxSteps    *int                   `json:"maxSteps,omitempty"`
	Environment *string                `json:"environment,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Event       map[string]interface{} `json:"event,omitempty"`
	Source      AgentInputSource       `json:"source"`
}

// AgentInputSource tells the agent what fired it
type AgentInputSource struct {
	TriggerID   string             `json:"triggerId,omitempty"`
	SourceType  models.SourceType  `json:"sourceType"`
	TriggerType models.TriggerType `json:"triggerType"`
	EventName   string             `json:"eventName,omitempty"`
}

// ScheduleInput builds the agent input for a schedule firing
func ScheduleInput(s *models.Schedule) AgentInput {
	d := MergeDefaults(s.InputDefaults, models.InputDefaults{})
	return AgentInput{
		Input:       d.Input,
		Context:     d.Context,
		MaxSteps:    d.MaxSteps,
		Environment: d.Environment,
		Source: AgentInputSource{
			TriggerID:   FormatID(models.SourceTypeSchedule, s.ID),
			SourceType:  models.SourceTypeSchedule,
			TriggerType: models.TriggerTypeSchedule,
		},
	}
}

// EventInput builds the agent input for an event trigger firing. Mapped fields
// are resolved from event; unresolved paths are left out.
func EventInput(t *models.EventTrigger, event map[string]interface{}) AgentInput {
	d := EffectiveDefaults(t.InputMapping)

	in := AgentInput{
		Input:       d.Input,
		Context:     d.Context,
		MaxSteps:    d.MaxSteps,
		Environment: d.Environment,
		Event:       event,
		Source: AgentInputSource{
			TriggerID:   FormatID(models.SourceTypeTrigger, t.ID),
			SourceType:  models.SourceTypeTrigger,
			TriggerType: t.TriggerType,
			EventName:   t.EventName,
		},
	}

	if t.InputMapping != nil && len(t.InputMapping.Fields) > 0 {
		in.Fields = make(map[string]interface{}, len(t.InputMapping.Fields))
		for target, source := range t.InputMapping.Fields {
			if v, ok := LookupPath(event, source); ok {
				setPath(in.Fields, target, v)
			}
		}
	}

	return in
}

// ToMap converts a JSON-shaped value into a generic object
func ToMap(v interface{}) map[string]interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func setPath(obj map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := obj[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			obj[part] = next
		}
		obj = next
	}
	obj[parts[len(parts)-1]] = value
}
