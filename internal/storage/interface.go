// Package storage declares the persistence contract for triggers, trigger
// events, integrations and ingestion cursors. Implementations live in
// storage/sqlstore (sqlite and postgres) and storage/memory.
package storage

import (
	"context"
	"errors"
	"time"

	"agent-triggers/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write lost a race
	ErrConflict = errors.New("conflict")

	// ErrDuplicate is returned when a natural key is already taken
	ErrDuplicate = errors.New("duplicate")
)

// ScheduleFilter narrows a schedule listing
type ScheduleFilter struct {
	AgentID  string
	IsActive *bool
}

// EventTriggerFilter narrows an event trigger listing
type EventTriggerFilter struct {
	AgentID     string
	TriggerType models.TriggerType
	IsActive    *bool
}

// ScheduleStore persists schedule sources
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*models.Schedule, error)
	// UpdateSchedule writes the mutable configuration and next_run_at of s in one
	// statement, only if the stored version still equals s.Version. On success
	// s.Version is advanced.
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	// ListDueSchedules returns active schedules with next_run_at <= now, oldest first
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error)
	// ClaimScheduleRun records a firing at firedAt and stores next as the new
	// next_run_at, only if the stored version still equals expectedVersion.
	// A nil next deactivates the schedule.
	ClaimScheduleRun(ctx context.Context, id string, expectedVersion int64, firedAt time.Time, next *time.Time) error
}

// EventTriggerStore persists event trigger sources
type EventTriggerStore interface {
	CreateEventTrigger(ctx context.Context, t *models.EventTrigger) error
	GetEventTrigger(ctx context.Context, id string) (*models.EventTrigger, error)
	GetEventTriggerByWebhookPath(ctx context.Context, path string) (*models.EventTrigger, error)
	ListEventTriggers(ctx context.Context, filter EventTriggerFilter) ([]*models.EventTrigger, error)
	// FindActiveEventTriggers returns active event triggers of agentID listening for eventName
	FindActiveEventTriggers(ctx context.Context, agentID, eventName string) ([]*models.EventTrigger, error)
	// UpdateEventTrigger has the same version guard as UpdateSchedule
	UpdateEventTrigger(ctx context.Context, t *models.EventTrigger) error
	DeleteEventTrigger(ctx context.Context, id string) error
	RecordEventTriggerFired(ctx context.Context, id string, at time.Time) error
}

// TriggerEventStore persists the trigger event audit trail
type TriggerEventStore interface {
	CreateTriggerEvent(ctx context.Context, e *models.TriggerEvent) error
	GetTriggerEvent(ctx context.Context, id string) (*models.TriggerEvent, error)
	ListTriggerEvents(ctx context.Context, filter models.TriggerEventFilter) ([]*models.TriggerEvent, int, error)
	// TransitionTriggerEvent moves an event from status from to status to. It
	// returns ErrConflict when the stored status is no longer from.
	TransitionTriggerEvent(ctx context.Context, id string, from, to models.TriggerEventStatus, errorMessage *string, at time.Time) error
}

// DirectoryStore resolves workspaces, agents and integrations
type DirectoryStore interface {
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	UpsertWorkspace(ctx context.Context, w *models.Workspace) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	UpsertAgent(ctx context.Context, a *models.Agent) error
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	GetIntegrationByAccount(ctx context.Context, provider, account string) (*models.Integration, error)
	UpsertIntegration(ctx context.Context, i *models.Integration) error
}

// CursorStore persists one provider cursor per connection
type CursorStore interface {
	GetCursor(ctx context.Context, connectionKey string) (*models.IntegrationCursor, error)
	// CompareAndSwapCursor sets the cursor to next and clears any pending value,
	// only if the stored value equals expected. An empty expected inserts a new
	// row and fails with ErrConflict if one already exists.
	CompareAndSwapCursor(ctx context.Context, connectionKey, expected, next string) error
	// MarkCursorPending records a deferred notification cursor, only if the
	// stored value still equals expected.
	MarkCursorPending(ctx context.Context, connectionKey, expected, pending string) error
}

// EmailMessageStore mirrors provider messages by natural key
type EmailMessageStore interface {
	// UpsertEmailMessage inserts or refreshes the mirror row keyed by
	// (IntegrationID, ExternalMessageID) and reports whether it was inserted.
	UpsertEmailMessage(ctx context.Context, m *models.EmailMessage) (bool, error)
	GetEmailMessage(ctx context.Context, integrationID, externalMessageID string) (*models.EmailMessage, error)
	ListEmailMessages(ctx context.Context, integrationID string, limit int) ([]*models.EmailMessage, error)
}

// Store is the full persistence contract
type Store interface {
	ScheduleStore
	EventTriggerStore
	TriggerEventStore
	DirectoryStore
	CursorStore
	EmailMessageStore

	// WithTx runs fn against a store bound to one transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Health(ctx context.Context) error
	Close() error
}
