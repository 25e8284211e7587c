// Package service is the administrative surface over both trigger sources.
// Every operation addresses a trigger by its composite id and returns the
// unified projection.
package service

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/validation"
	"agent-triggers/internal/dispatch"
	"agent-triggers/internal/events"
	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
	"agent-triggers/internal/triggers"
	"agent-triggers/internal/triggers/schedule"
)

// maxUpdateAttempts bounds re-applying a patch after losing a version race
const maxUpdateAttempts = 3

// Service administers schedules and event triggers
type Service struct {
	store      storage.Store
	events     *events.Manager
	dispatcher dispatch.Dispatcher
	filters    *triggers.FilterEvaluator
	validator  *validation.Validator
	logger     logging.Logger
	now        func() time.Time
}

// New creates a trigger service
func New(
	store storage.Store,
	eventManager *events.Manager,
	dispatcher dispatch.Dispatcher,
	filters *triggers.FilterEvaluator,
	validator *validation.Validator,
	logger logging.Logger,
) *Service {
	return &Service{
		store:      store,
		events:     eventManager,
		dispatcher: dispatcher,
		filters:    filters,
		validator:  validator,
		logger:     logger,
		now:        time.Now,
	}
}

// List returns both source kinds as unified triggers, newest first
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.UnifiedTrigger, error) {
	var out []models.UnifiedTrigger

	if filter.SourceType == "" || filter.SourceType == models.SourceTypeSchedule {
		schedules, err := s.store.ListSchedules(ctx, storage.ScheduleFilter{AgentID: filter.AgentID, IsActive: filter.IsActive})
		if err != nil {
			return nil, errors.InternalError("failed to list schedules", err)
		}
		for _, sch := range schedules {
			out = append(out, triggers.ProjectSchedule(sch))
		}
	}

	if filter.SourceType == "" || filter.SourceType == models.SourceTypeTrigger {
		list, err := s.store.ListEventTriggers(ctx, storage.EventTriggerFilter{AgentID: filter.AgentID, IsActive: filter.IsActive})
		if err != nil {
			return nil, errors.InternalError("failed to list event triggers", err)
		}
		for _, t := range list {
			out = append(out, triggers.ProjectEventTrigger(t))
		}
	}

	triggers.SortUnified(out)
	if out == nil {
		out = []models.UnifiedTrigger{}
	}
	return out, nil
}

// Get returns one unified trigger
func (s *Service) Get(ctx context.Context, id string) (*models.UnifiedTrigger, error) {
	sourceType, sourceID, err := triggers.DecodeID(id)
	if err != nil {
		return nil, err
	}

	var u models.UnifiedTrigger
	switch sourceType {
	case models.SourceTypeSchedule:
		sch, err := s.loadSchedule(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		u = triggers.ProjectSchedule(sch)
	default:
		t, err := s.loadEventTrigger(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		u = triggers.ProjectEventTrigger(t)
	}
	return &u, nil
}

// CreateSchedule validates and stores a new schedule. An active schedule gets
// its first nextRunAt computed from now.
func (s *Service) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*models.UnifiedTrigger, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	agent, err := s.loadAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	expr, err := schedule.Parse(req.CronExpr, req.Timezone)
	if err != nil {
		return nil, err
	}
	next, err := schedule.NextRunAt(expr.String(), expr.Timezone(), s.now())
	if err != nil {
		return nil, err
	}

	sch := &models.Schedule{
		ID:            uuid.NewString(),
		AgentID:       agent.ID,
		WorkspaceID:   agent.WorkspaceID,
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		CronExpr:      expr.String(),
		Timezone:      expr.Timezone(),
		InputDefaults: triggers.ExtractDefaults(req.InputDefaults),
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if sch.IsActive {
		sch.NextRunAt = &next
	}
	id, err := triggers.EncodeID(models.SourceTypeSchedule, sch.ID)
	if err != nil {
		return nil, errors.InternalError("failed to build schedule id", err)
	}

	if err := s.store.CreateSchedule(ctx, sch); err != nil {
		return nil, errors.InternalError("failed to create schedule", err)
	}

	s.logger.WithContext(ctx).Info("Schedule created",
		logging.String("id", id),
		logging.String("agent_id", sch.AgentID),
		logging.String("cron", sch.CronExpr),
		logging.String("timezone", sch.Timezone),
	)
	u := triggers.ProjectSchedule(sch)
	return &u, nil
}

// CreateEventTrigger validates and stores a new event trigger
func (s *Service) CreateEventTrigger(ctx context.Context, req CreateEventTriggerRequest) (*models.UnifiedTrigger, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	agent, err := s.loadAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	mapping, err := triggers.ExtractInputMapping(req.InputMapping)
	if err != nil {
		return nil, err
	}
	if req.TriggerType.RequiresDefaultInput() {
		mapping = triggers.MergeInputMapping(nil, mapping, triggers.MergeOptions{SetDefaultField: true})
	}

	t := &models.EventTrigger{
		ID:            uuid.NewString(),
		AgentID:       agent.ID,
		WorkspaceID:   agent.WorkspaceID,
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		TriggerType:   req.TriggerType,
		EventName:     strings.TrimSpace(req.EventName),
		WebhookPath:   triggers.NormalizeWebhookPath(req.WebhookPath),
		WebhookSecret: req.WebhookSecret,
		InputMapping:  mapping,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if filter := bytes.TrimSpace(req.Filter); len(filter) > 0 && !bytes.Equal(filter, []byte("null")) {
		t.Filter = filter
	}

	if err := s.validateEventTrigger(t); err != nil {
		return nil, err
	}
	id, err := triggers.EncodeID(models.SourceTypeTrigger, t.ID)
	if err != nil {
		return nil, errors.InternalError("failed to build trigger id", err)
	}

	err = s.store.CreateEventTrigger(ctx, t)
	if stderrors.Is(err, storage.ErrDuplicate) {
		return nil, errors.ConflictError(fmt.Sprintf("webhook path %q is already in use", t.WebhookPath))
	}
	if err != nil {
		return nil, errors.InternalError("failed to create event trigger", err)
	}

	s.logger.WithContext(ctx).Info("Event trigger created",
		logging.String("id", id),
		logging.String("agent_id", t.AgentID),
		logging.String("trigger_type", string(t.TriggerType)),
	)
	u := triggers.ProjectEventTrigger(t)
	return &u, nil
}

// Update applies a partial update. The patch is computed in memory and written
// in one version-guarded statement; a lost race re-reads and re-applies it.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*models.UnifiedTrigger, error) {
	sourceType, sourceID, err := triggers.DecodeID(id)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		var u models.UnifiedTrigger
		switch sourceType {
		case models.SourceTypeSchedule:
			sch, err := s.updateSchedule(ctx, sourceID, &req)
			if err == nil {
				u = triggers.ProjectSchedule(sch)
			}
			if !stderrors.Is(err, storage.ErrConflict) || attempt == maxUpdateAttempts {
				return s.updateResult(u, err)
			}
		default:
			t, err := s.updateEventTrigger(ctx, sourceID, &req)
			if err == nil {
				u = triggers.ProjectEventTrigger(t)
			}
			if !stderrors.Is(err, storage.ErrConflict) || attempt == maxUpdateAttempts {
				return s.updateResult(u, err)
			}
		}
		s.logger.WithContext(ctx).Debug("Trigger changed concurrently, re-applying update",
			logging.String("trigger_id", id),
			logging.Int("attempt", attempt),
		)
	}
}

func (s *Service) updateResult(u models.UnifiedTrigger, err error) (*models.UnifiedTrigger, error) {
	switch {
	case err == nil:
		return &u, nil
	case stderrors.Is(err, storage.ErrConflict):
		return nil, errors.ConflictError("trigger was modified concurrently; retry the update")
	case stderrors.Is(err, storage.ErrDuplicate):
		return nil, errors.ConflictError("webhook path is already in use")
	}
	return nil, err
}

func (s *Service) updateSchedule(ctx context.Context, id string, req *UpdateRequest) (*models.Schedule, error) {
	if req.touchesEventFields() {
		return nil, errors.ValidationError("filter, inputMapping, eventName and webhook settings do not apply to schedules")
	}

	sch, err := s.loadSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	wasActive := sch.IsActive
	if req.Name != nil {
		sch.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		sch.Description = *req.Description
	}
	if req.IsActive != nil {
		sch.IsActive = *req.IsActive
	}
	sch.InputDefaults = triggers.MergeDefaults(sch.InputDefaults, req.defaults())

	timingChanged := false
	if req.Config != nil {
		if req.Config.CronExpr != nil && *req.Config.CronExpr != sch.CronExpr {
			sch.CronExpr = *req.Config.CronExpr
			timingChanged = true
		}
		if req.Config.Timezone != nil && *req.Config.Timezone != sch.Timezone {
			sch.Timezone = *req.Config.Timezone
			timingChanged = true
		}
	}

	switch {
	case !sch.IsActive:
		if timingChanged {
			if err := schedule.Validate(sch.CronExpr, sch.Timezone, s.now()); err != nil {
				return nil, err
			}
		}
		sch.NextRunAt = nil
	case timingChanged || !wasActive || sch.NextRunAt == nil:
		expr, err := schedule.Parse(sch.CronExpr, sch.Timezone)
		if err != nil {
			return nil, err
		}
		next, err := schedule.NextRunAt(expr.String(), expr.Timezone(), s.now())
		if err != nil {
			return nil, err
		}
		sch.CronExpr, sch.Timezone = expr.String(), expr.Timezone()
		sch.NextRunAt = &next
	}

	if err := s.store.UpdateSchedule(ctx, sch); err != nil {
		if stderrors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFoundError("schedule")
		}
		return nil, errors.InternalError("failed to update schedule", err)
	}

	s.logger.WithContext(ctx).Info("Schedule updated",
		logging.String("schedule_id", sch.ID),
		logging.Bool("active", sch.IsActive),
		logging.Bool("timing_changed", timingChanged),
	)
	return sch, nil
}

func (s *Service) updateEventTrigger(ctx context.Context, id string, req *UpdateRequest) (*models.EventTrigger, error) {
	if req.touchesScheduleFields() {
		return nil, errors.ValidationError("cronExpr and timezone only apply to schedules")
	}

	t, err := s.loadEventTrigger(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	if c := req.Config; c != nil {
		if c.EventName != nil {
			t.EventName = strings.TrimSpace(*c.EventName)
		}
		if c.WebhookPath != nil {
			t.WebhookPath = triggers.NormalizeWebhookPath(*c.WebhookPath)
		}
		if c.WebhookSecret != nil {
			t.WebhookSecret = *c.WebhookSecret
		}
	}

	if raw := bytes.TrimSpace(req.Filter); len(raw) > 0 {
		if bytes.Equal(raw, []byte("null")) {
			t.Filter = nil
		} else {
			t.Filter = raw
		}
	}

	opts := triggers.MergeOptions{SetDefaultField: t.TriggerType.RequiresDefaultInput()}
	if len(bytes.TrimSpace(req.InputMapping)) > 0 {
		overrides, err := triggers.ExtractInputMapping(req.InputMapping)
		if err != nil {
			return nil, err
		}
		if overrides == nil {
			t.InputMapping = nil
		} else {
			t.InputMapping = triggers.MergeInputMapping(t.InputMapping, overrides, opts)
		}
	}
	if d := req.defaults(); !d.IsZero() {
		t.InputMapping = triggers.MergeInputMapping(t.InputMapping, &models.InputMapping{Defaults: &d}, opts)
	}

	if err := s.validateEventTrigger(t); err != nil {
		return nil, err
	}

	if err := s.store.UpdateEventTrigger(ctx, t); err != nil {
		switch {
		case stderrors.Is(err, storage.ErrConflict), stderrors.Is(err, storage.ErrDuplicate):
			return nil, err
		case stderrors.Is(err, storage.ErrNotFound):
			return nil, errors.NotFoundError("trigger")
		}
		return nil, errors.InternalError("failed to update event trigger", err)
	}

	s.logger.WithContext(ctx).Info("Event trigger updated",
		logging.String("trigger_id", t.ID),
		logging.Bool("active", t.IsActive),
	)
	return t, nil
}

func (s *Service) validateEventTrigger(t *models.EventTrigger) error {
	if err := triggers.ValidateInputMapping(t.TriggerType, t.EventName, t.InputMapping).Err(); err != nil {
		return err
	}
	if t.TriggerType == models.TriggerTypeWebhook && t.WebhookPath == "" {
		return errors.ValidationError("webhookPath is required for webhook triggers")
	}
	if t.WebhookPath != "" {
		if err := s.validator.Struct(struct {
			WebhookPath string `json:"webhookPath" validate:"webhook_path"`
		}{t.WebhookPath}); err != nil {
			return err
		}
	}
	return s.filters.Validate(t.Filter)
}

// Delete removes a trigger source
func (s *Service) Delete(ctx context.Context, id string) error {
	sourceType, sourceID, err := triggers.DecodeID(id)
	if err != nil {
		return err
	}

	resource := "schedule"
	if sourceType == models.SourceTypeSchedule {
		err = s.store.DeleteSchedule(ctx, sourceID)
	} else {
		resource = "trigger"
		err = s.store.DeleteEventTrigger(ctx, sourceID)
	}
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return errors.NotFoundError(resource)
	case err != nil:
		return errors.InternalError("failed to delete "+resource, err)
	}

	s.logger.WithContext(ctx).Info("Trigger deleted", logging.String("trigger_id", id))
	return nil
}

// Upcoming previews the next n fire instants of a schedule
func (s *Service) Upcoming(ctx context.Context, id string, n int) ([]time.Time, error) {
	sourceType, sourceID, err := triggers.DecodeID(id)
	if err != nil {
		return nil, err
	}
	if sourceType != models.SourceTypeSchedule {
		return nil, errors.ValidationError("only schedules have upcoming runs")
	}
	sch, err := s.loadSchedule(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > 50 {
		n = 5
	}
	return schedule.Upcoming(sch.CronExpr, sch.Timezone, s.now(), n)
}

// Fire records and dispatches a manual firing. A disabled agent or inactive
// trigger yields a SKIPPED event rather than an error; a dispatch failure
// yields a FAILED event.
func (s *Service) Fire(ctx context.Context, id string, payload map[string]interface{}) (*models.TriggerEvent, error) {
	sourceType, sourceID, err := triggers.DecodeID(id)
	if err != nil {
		return nil, err
	}

	var (
		params events.Params
		input  triggers.AgentInput
		active bool
	)
	switch sourceType {
	case models.SourceTypeSchedule:
		sch, err := s.loadSchedule(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		input = triggers.ScheduleInput(sch)
		input.Event = payload
		active = sch.IsActive
		params = events.Params{AgentID: sch.AgentID, WorkspaceID: sch.WorkspaceID}
	default:
		t, err := s.loadEventTrigger(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		input = triggers.EventInput(t, payload)
		active = t.IsActive
		params = events.Params{AgentID: t.AgentID, WorkspaceID: t.WorkspaceID, EventName: t.EventName}
	}
	input.Source.TriggerType = models.TriggerTypeManual

	params.TriggerID = id
	params.SourceType = sourceType
	params.TriggerType = models.TriggerTypeManual
	params.IntegrationKey = string(models.TriggerTypeManual)
	params.Payload = input

	if !active {
		return s.events.Skip(ctx, params, fmt.Sprintf("trigger %s is inactive", id))
	}

	agent, err := s.store.GetAgent(ctx, params.AgentID)
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return s.events.Skip(ctx, params, fmt.Sprintf("agent %s not found", params.AgentID))
	case err != nil:
		return nil, errors.InternalError("failed to load agent", err)
	case !agent.IsEnabled:
		return s.events.Skip(ctx, params, fmt.Sprintf("agent %s is disabled", agent.ID))
	}

	e, err := s.events.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := s.events.Deliver(ctx, s.dispatcher, e); err != nil {
		s.logger.WithContext(ctx).Warn("Manual fire recorded but not dispatched",
			logging.String("trigger_id", id),
			logging.String("trigger_event_id", e.ID),
			logging.Err(err),
		)
	}
	return e, nil
}

// ListEvents lists trigger events. A TriggerID filter must be a composite id.
func (s *Service) ListEvents(ctx context.Context, filter models.TriggerEventFilter) ([]*models.TriggerEvent, int, error) {
	if filter.TriggerID != "" {
		if _, _, err := triggers.DecodeID(filter.TriggerID); err != nil {
			return nil, 0, err
		}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, errors.ValidationError(fmt.Sprintf("unknown status %q", filter.Status))
	}

	list, total, err := s.store.ListTriggerEvents(ctx, filter)
	if err != nil {
		return nil, 0, errors.InternalError("failed to list trigger events", err)
	}
	if list == nil {
		list = []*models.TriggerEvent{}
	}
	return list, total, nil
}

// GetEvent returns one trigger event
func (s *Service) GetEvent(ctx context.Context, id string) (*models.TriggerEvent, error) {
	e, err := s.store.GetTriggerEvent(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundError("trigger event")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load trigger event", err)
	}
	return e, nil
}

func (s *Service) loadSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	sch, err := s.store.GetSchedule(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundError("schedule")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load schedule", err)
	}
	return sch, nil
}

func (s *Service) loadEventTrigger(ctx context.Context, id string) (*models.EventTrigger, error) {
	t, err := s.store.GetEventTrigger(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundError("trigger")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load event trigger", err)
	}
	return t, nil
}

func (s *Service) loadAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := s.store.GetAgent(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundError("agent")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load agent", err)
	}
	return agent, nil
}
