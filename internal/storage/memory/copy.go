package memory

import (
	"encoding/json"
	"time"

	"agent-triggers/internal/models"
)

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// copyMap round-trips through JSON, which is the only form the store
// ever persists free-form maps in
func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return m
	}
	return out
}

func copyDefaults(d models.InputDefaults) models.InputDefaults {
	out := models.InputDefaults{
		Input:       copyString(d.Input),
		Context:     copyMap(d.Context),
		Environment: copyString(d.Environment),
	}
	if d.MaxSteps != nil {
		v := *d.MaxSteps
		out.MaxSteps = &v
	}
	return out
}

func copySchedule(s *models.Schedule) *models.Schedule {
	out := *s
	out.InputDefaults = copyDefaults(s.InputDefaults)
	out.LastRunAt = copyTime(s.LastRunAt)
	out.NextRunAt = copyTime(s.NextRunAt)
	out.CreatedAt = s.CreatedAt.UTC()
	out.UpdatedAt = s.UpdatedAt.UTC()
	return &out
}

func copyMapping(m *models.InputMapping) *models.InputMapping {
	if m == nil {
		return nil
	}
	out := models.InputMapping{
		Environment:  copyString(m.Environment),
		DefaultInput: copyString(m.DefaultInput),
	}
	if m.Defaults != nil {
		d := copyDefaults(*m.Defaults)
		out.Defaults = &d
	}
	if m.Fields != nil {
		out.Fields = make(map[string]string, len(m.Fields))
		for k, v := range m.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}

func copyEventTrigger(t *models.EventTrigger) *models.EventTrigger {
	out := *t
	out.Filter = copyRaw(t.Filter)
	out.InputMapping = copyMapping(t.InputMapping)
	out.LastTriggeredAt = copyTime(t.LastTriggeredAt)
	out.CreatedAt = t.CreatedAt.UTC()
	out.UpdatedAt = t.UpdatedAt.UTC()
	return &out
}

func copyTriggerEvent(e *models.TriggerEvent) *models.TriggerEvent {
	out := *e
	out.TriggerID = copyString(e.TriggerID)
	out.IntegrationID = copyString(e.IntegrationID)
	out.ErrorMessage = copyString(e.ErrorMessage)
	out.Payload = copyRaw(e.Payload)
	out.CreatedAt = e.CreatedAt.UTC()
	out.UpdatedAt = e.UpdatedAt.UTC()
	return &out
}

func copyWorkspace(w *models.Workspace) *models.Workspace {
	out := *w
	out.Domains = append([]string(nil), w.Domains...)
	return &out
}

func copyCursor(c *models.IntegrationCursor) *models.IntegrationCursor {
	out := *c
	out.PendingValue = copyString(c.PendingValue)
	return &out
}

func copyMessage(m *models.EmailMessage) *models.EmailMessage {
	out := *m
	out.To = append([]string(nil), m.To...)
	out.Labels = append([]string(nil), m.Labels...)
	out.ReceivedAt = m.ReceivedAt.UTC()
	return &out
}
