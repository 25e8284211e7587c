// Package events owns the trigger event lifecycle: every candidate firing is
// recorded once with a payload snapshot and then moved through guarded
// status transitions until it is fired, failed or skipped.
package events

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/dispatch"
	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
	"agent-triggers/internal/triggers"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids
var ErrInvalidTransition = stderrors.New("invalid trigger event status transition")

// Store is the persistence the manager needs
type Store interface {
	storage.TriggerEventStore
	RecordEventTriggerFired(ctx context.Context, id string, at time.Time) error
}

// Params describes the event to record
type Params struct {
	TriggerID      string
	AgentID        string
	WorkspaceID    string
	SourceType     models.SourceType
	TriggerType    models.TriggerType
	IntegrationKey string
	IntegrationID  string
	EventName      string
	Payload        interface{}
}

// Manager creates and transitions trigger events
type Manager struct {
	store  Store
	logger logging.Logger
	limits SnapshotLimits
	now    func() time.Time
}

// NewManager creates a lifecycle manager
func NewManager(store Store, logger logging.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		limits: DefaultSnapshotLimits,
		now:    time.Now,
	}
}

// WithLimits overrides the snapshot limits
func (m *Manager) WithLimits(limits SnapshotLimits) *Manager {
	m.limits = limits
	return m
}

// Create records a RECEIVED event
func (m *Manager) Create(ctx context.Context, p Params) (*models.TriggerEvent, error) {
	return m.record(ctx, p, models.TriggerEventReceived, "")
}

// Skip records an event that is SKIPPED at creation, with the reason as its error message
func (m *Manager) Skip(ctx context.Context, p Params, reason string) (*models.TriggerEvent, error) {
	e, err := m.record(ctx, p, models.TriggerEventSkipped, reason)
	if err == nil {
		m.logger.WithContext(ctx).Info("Trigger event skipped",
			logging.String("trigger_event_id", e.ID),
			logging.String("agent_id", e.AgentID),
			logging.String("reason", reason),
		)
	}
	return e, err
}

// Fail records an event that is FAILED at creation, such as a message that could not be fetched
func (m *Manager) Fail(ctx context.Context, p Params, cause error) (*models.TriggerEvent, error) {
	return m.record(ctx, p, models.TriggerEventFailed, errorText(cause))
}

func (m *Manager) record(ctx context.Context, p Params, status models.TriggerEventStatus, message string) (*models.TriggerEvent, error) {
	if p.AgentID == "" {
		return nil, errors.ValidationError("trigger event requires an agent id")
	}

	payload, err := BuildPayloadSnapshot(p.Payload, m.limits)
	if err != nil {
		return nil, errors.InternalError("failed to snapshot trigger event payload", err)
	}

	now := m.now().UTC()
	e := &models.TriggerEvent{
		ID:             uuid.NewString(),
		AgentID:        p.AgentID,
		WorkspaceID:    p.WorkspaceID,
		Status:         status,
		SourceType:     p.SourceType,
		TriggerType:    p.TriggerType,
		IntegrationKey: p.IntegrationKey,
		EventName:      p.EventName,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.TriggerID != "" {
		id := p.TriggerID
		e.TriggerID = &id
	}
	if p.IntegrationID != "" {
		id := p.IntegrationID
		e.IntegrationID = &id
	}
	if message != "" {
		e.ErrorMessage = &message
	}

	if err := m.store.CreateTriggerEvent(ctx, e); err != nil {
		return nil, errors.InternalError("failed to record trigger event", err)
	}
	return e, nil
}

// MarkProcessing moves a RECEIVED event to PROCESSING
func (m *Manager) MarkProcessing(ctx context.Context, e *models.TriggerEvent) error {
	return m.transition(ctx, e, models.TriggerEventProcessing, nil)
}

// MarkFired moves an event to FIRED
func (m *Manager) MarkFired(ctx context.Context, e *models.TriggerEvent) error {
	return m.transition(ctx, e, models.TriggerEventFired, nil)
}

// MarkFailed moves an event to FAILED with the cause as its error message
func (m *Manager) MarkFailed(ctx context.Context, e *models.TriggerEvent, cause error) error {
	msg := errorText(cause)
	return m.transition(ctx, e, models.TriggerEventFailed, &msg)
}

// MarkSkipped moves an event to SKIPPED with reason as its error message
func (m *Manager) MarkSkipped(ctx context.Context, e *models.TriggerEvent, reason string) error {
	return m.transition(ctx, e, models.TriggerEventSkipped, &reason)
}

func (m *Manager) transition(ctx context.Context, e *models.TriggerEvent, to models.TriggerEventStatus, message *string) error {
	if !e.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}

	now := m.now().UTC()
	err := m.store.TransitionTriggerEvent(ctx, e.ID, e.Status, to, message, now)
	switch {
	case err == nil:
	case stderrors.Is(err, storage.ErrConflict):
		return errors.ConflictError(fmt.Sprintf("trigger event %s is no longer %s", e.ID, e.Status)).WithCause(err)
	case stderrors.Is(err, storage.ErrNotFound):
		return errors.NotFoundError("trigger event")
	default:
		return errors.InternalError("failed to update trigger event status", err)
	}

	e.Status = to
	e.UpdatedAt = now
	if message != nil {
		e.ErrorMessage = message
	}
	return nil
}

// Deliver claims a RECEIVED event as PROCESSING, hands it to the dispatcher
// and records the outcome. A concurrent claim returns a conflict error.
// A synchronous dispatch error marks the event FAILED and is returned.
func (m *Manager) Deliver(ctx context.Context, d dispatch.Dispatcher, e *models.TriggerEvent) error {
	log := m.logger.WithContext(ctx).WithFields(
		logging.String("trigger_event_id", e.ID),
		logging.String("agent_id", e.AgentID),
	)

	req := &dispatch.Request{
		AgentID:        e.AgentID,
		TriggerEventID: e.ID,
		Payload:        e.Payload,
	}
	if e.TriggerID != nil {
		req.TriggerID = *e.TriggerID
	}

	if e.Status == models.TriggerEventReceived {
		if err := m.MarkProcessing(ctx, e); err != nil {
			return err
		}
	}

	if err := d.Dispatch(ctx, req); err != nil {
		log.Warn("Dispatch failed", logging.Err(err))
		if markErr := m.MarkFailed(ctx, e, fmt.Errorf("dispatch failed: %w", err)); markErr != nil {
			log.Error("Failed to mark trigger event failed", markErr)
		}
		return err
	}

	if err := m.MarkFired(ctx, e); err != nil {
		return err
	}

	if e.SourceType == models.SourceTypeTrigger && e.TriggerID != nil {
		if _, sourceID, err := triggers.DecodeID(*e.TriggerID); err == nil {
			if err := m.store.RecordEventTriggerFired(ctx, sourceID, e.UpdatedAt); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
				log.Warn("Failed to record trigger statistics", logging.Err(err))
			}
		}
	}

	log.Debug("Trigger event fired", logging.String("dispatcher", d.Name()))
	return nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
