package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/common/errors"
)

type scheduleDTO struct {
	Name     string `json:"name" validate:"required,max=10"`
	CronExpr string `json:"cronExpr" validate:"required,cron_expression"`
	Timezone string `json:"timezone" validate:"omitempty,timezone"`
}

type triggerDTO struct {
	TriggerType string `json:"triggerType" validate:"required,trigger_type"`
	WebhookPath string `json:"webhookPath" validate:"omitempty,webhook_path"`
}

func TestValidator_Struct(t *testing.T) {
	v := New()

	assert.NoError(t, v.Struct(scheduleDTO{Name: "daily", CronExpr: "0 9 * * MON-FRI", Timezone: "Europe/Berlin"}))
	assert.NoError(t, v.Struct(triggerDTO{TriggerType: "webhook", WebhookPath: "/github/push"}))

	err := v.Struct(scheduleDTO{Name: "a very long name", CronExpr: "61 * * * *", Timezone: "Mars/Olympus"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Contains(t, err.Error(), "field 'name' must be at most 10")
	assert.Contains(t, err.Error(), "field 'cronExpr' must be a five-field cron expression")
	assert.Contains(t, err.Error(), "field 'timezone' must be an IANA timezone")
}

func TestValidator_CustomTags(t *testing.T) {
	v := New()

	tests := []struct {
		name string
		dto  triggerDTO
		ok   bool
	}{
		{"event", triggerDTO{TriggerType: "event"}, true},
		{"unknown type", triggerDTO{TriggerType: "schedule"}, false},
		{"path with space", triggerDTO{TriggerType: "webhook", WebhookPath: "a b"}, false},
		{"double slash", triggerDTO{TriggerType: "webhook", WebhookPath: "a//b"}, false},
		{"nested path", triggerDTO{TriggerType: "webhook", WebhookPath: "team-1/deploy_v2"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.dto)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
