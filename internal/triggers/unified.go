package triggers

import (
	"sort"

	"agent-triggers/internal/models"
)

// ProjectSchedule builds the unified view of a schedule
func ProjectSchedule(s *models.Schedule) models.UnifiedTrigger {
	config := map[string]interface{}{
		"cronExpr": s.CronExpr,
		"timezone": s.Timezone,
	}
	if s.NextRunAt != nil {
		config["nextRunAt"] = s.NextRunAt.UTC()
	}

	return models.UnifiedTrigger{
		ID:            FormatID(models.SourceTypeSchedule, s.ID),
		SourceID:      s.ID,
		SourceType:    models.SourceTypeSchedule,
		Kind:          string(models.TriggerTypeSchedule),
		AgentID:       s.AgentID,
		Name:          s.Name,
		Description:   s.Description,
		IsActive:      s.IsActive,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Config:        config,
		InputDefaults: s.InputDefaults,
		Stats:         models.TriggerStats{FireCount: s.RunCount},
		LastRun:       s.LastRunAt,
	}
}

// ProjectEventTrigger builds the unified view of an event trigger
func ProjectEventTrigger(t *models.EventTrigger) models.UnifiedTrigger {
	config := map[string]interface{}{
		"triggerType": t.TriggerType,
	}
	if t.EventName != "" {
		config["eventName"] = t.EventName
	}
	if t.WebhookPath != "" {
		config["webhookPath"] = t.WebhookPath
		config["hasWebhookSecret"] = t.WebhookSecret != ""
	}
	if len(t.Filter) > 0 {
		config["filter"] = t.Filter
	}
	if t.InputMapping != nil {
		config["inputMapping"] = t.InputMapping
	}

	return models.UnifiedTrigger{
		ID:            FormatID(models.SourceTypeTrigger, t.ID),
		SourceID:      t.ID,
		SourceType:    models.SourceTypeTrigger,
		Kind:          string(t.TriggerType),
		AgentID:       t.AgentID,
		Name:          t.Name,
		Description:   t.Description,
		IsActive:      t.IsActive,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		Config:        config,
		InputDefaults: EffectiveDefaults(t.InputMapping),
		Stats:         models.TriggerStats{FireCount: t.TriggerCount},
		LastRun:       t.LastTriggeredAt,
	}
}

// SortUnified orders triggers newest first, breaking ties by id
func SortUnified(list []models.UnifiedTrigger) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
