// Package memory is an in-process storage.Store used by tests and by the
// service when no database is configured for local development.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
)

// Store keeps every record in maps guarded by one mutex. Records are copied
// on the way in and out so callers never share memory with the store.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	now  func() time.Time
	data state
}

type state struct {
	schedules     map[string]*models.Schedule
	eventTriggers map[string]*models.EventTrigger
	triggerEvents map[string]*models.TriggerEvent
	workspaces    map[string]*models.Workspace
	agents        map[string]*models.Agent
	integrations  map[string]*models.Integration
	cursors       map[string]*models.IntegrationCursor
	messages      map[string]*models.EmailMessage
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{now: time.Now, data: newState()}
}

func newState() state {
	return state{
		schedules:     make(map[string]*models.Schedule),
		eventTriggers: make(map[string]*models.EventTrigger),
		triggerEvents: make(map[string]*models.TriggerEvent),
		workspaces:    make(map[string]*models.Workspace),
		agents:        make(map[string]*models.Agent),
		integrations:  make(map[string]*models.Integration),
		cursors:       make(map[string]*models.IntegrationCursor),
		messages:      make(map[string]*models.EmailMessage),
	}
}

func (st state) clone() state {
	out := newState()
	for k, v := range st.schedules {
		out.schedules[k] = copySchedule(v)
	}
	for k, v := range st.eventTriggers {
		out.eventTriggers[k] = copyEventTrigger(v)
	}
	for k, v := range st.triggerEvents {
		out.triggerEvents[k] = copyTriggerEvent(v)
	}
	for k, v := range st.workspaces {
		out.workspaces[k] = copyWorkspace(v)
	}
	for k, v := range st.agents {
		a := *v
		out.agents[k] = &a
	}
	for k, v := range st.integrations {
		i := *v
		out.integrations[k] = &i
	}
	for k, v := range st.cursors {
		out.cursors[k] = copyCursor(v)
	}
	for k, v := range st.messages {
		out.messages[k] = copyMessage(v)
	}
	return out
}

// WithTx runs fn and restores the previous state when it fails. Transactions
// are serialized with each other but not with plain writes.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(txStore{s}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

type txStore struct {
	*Store
}

func (t txStore) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return fn(t)
}

// Health always succeeds
func (s *Store) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// CreateSchedule stores a new schedule at version 1
func (s *Store) CreateSchedule(ctx context.Context, sch *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.schedules[sch.ID]; ok {
		return storage.ErrDuplicate
	}
	now := s.now().UTC()
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = now
	}
	sch.UpdatedAt = now
	if sch.Version == 0 {
		sch.Version = 1
	}
	s.data.schedules[sch.ID] = copySchedule(sch)
	return nil
}

// GetSchedule returns a copy of one schedule
func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sch, ok := s.data.schedules[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySchedule(sch), nil
}

// ListSchedules returns schedules matching filter, newest first
func (s *Store) ListSchedules(ctx context.Context, filter storage.ScheduleFilter) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Schedule
	for _, sch := range s.data.schedules {
		if filter.AgentID != "" && sch.AgentID != filter.AgentID {
			continue
		}
		if filter.IsActive != nil && sch.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, copySchedule(sch))
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

// UpdateSchedule replaces the mutable fields when the version still matches
func (s *Store) UpdateSchedule(ctx context.Context, sch *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data.schedules[sch.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != sch.Version {
		return storage.ErrConflict
	}

	next := copySchedule(cur)
	next.Name = sch.Name
	next.Description = sch.Description
	next.CronExpr = sch.CronExpr
	next.Timezone = sch.Timezone
	next.InputDefaults = copyDefaults(sch.InputDefaults)
	next.IsActive = sch.IsActive
	next.NextRunAt = copyTime(sch.NextRunAt)
	next.Version++
	next.UpdatedAt = s.now().UTC()
	s.data.schedules[sch.ID] = next

	sch.Version = next.Version
	sch.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteSchedule removes one schedule
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.schedules[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data.schedules, id)
	return nil
}

// ListDueSchedules returns active schedules due at now, oldest first
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var out []*models.Schedule
	for _, sch := range s.data.schedules {
		if sch.IsActive && sch.NextRunAt != nil && !sch.NextRunAt.After(now) {
			out = append(out, copySchedule(sch))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(*out[j].NextRunAt) {
			return out[i].NextRunAt.Before(*out[j].NextRunAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimScheduleRun records a firing when the version still matches
func (s *Store) ClaimScheduleRun(ctx context.Context, id string, expectedVersion int64, firedAt time.Time, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data.schedules[id]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != expectedVersion || !cur.IsActive {
		return storage.ErrConflict
	}

	fired := firedAt.UTC()
	cur.LastRunAt = &fired
	cur.NextRunAt = copyTime(next)
	cur.IsActive = next != nil
	cur.RunCount++
	cur.Version++
	cur.UpdatedAt = s.now().UTC()
	return nil
}

// CreateEventTrigger stores a new event trigger at version 1
func (s *Store) CreateEventTrigger(ctx context.Context, t *models.EventTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.eventTriggers[t.ID]; ok {
		return storage.ErrDuplicate
	}
	if s.pathTakenLocked(t.WebhookPath, t.ID) {
		return storage.ErrDuplicate
	}
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Version == 0 {
		t.Version = 1
	}
	s.data.eventTriggers[t.ID] = copyEventTrigger(t)
	return nil
}

func (s *Store) pathTakenLocked(path, exceptID string) bool {
	if path == "" {
		return false
	}
	for id, t := range s.data.eventTriggers {
		if id != exceptID && t.WebhookPath == path {
			return true
		}
	}
	return false
}

// GetEventTrigger returns a copy of one event trigger
func (s *Store) GetEventTrigger(ctx context.Context, id string) (*models.EventTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data.eventTriggers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyEventTrigger(t), nil
}

// GetEventTriggerByWebhookPath resolves a webhook route
func (s *Store) GetEventTriggerByWebhookPath(ctx context.Context, path string) (*models.EventTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if path == "" {
		return nil, storage.ErrNotFound
	}
	for _, t := range s.data.eventTriggers {
		if t.WebhookPath == path {
			return copyEventTrigger(t), nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListEventTriggers returns event triggers matching filter, newest first
func (s *Store) ListEventTriggers(ctx context.Context, filter storage.EventTriggerFilter) ([]*models.EventTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.EventTrigger
	for _, t := range s.data.eventTriggers {
		if filter.AgentID != "" && t.AgentID != filter.AgentID {
			continue
		}
		if filter.TriggerType != "" && t.TriggerType != filter.TriggerType {
			continue
		}
		if filter.IsActive != nil && t.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, copyEventTrigger(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

// FindActiveEventTriggers returns the active triggers of agentID for eventName
func (s *Store) FindActiveEventTriggers(ctx context.Context, agentID, eventName string) ([]*models.EventTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.EventTrigger
	for _, t := range s.data.eventTriggers {
		if t.IsActive && t.AgentID == agentID && t.EventName == eventName {
			out = append(out, copyEventTrigger(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateEventTrigger replaces the mutable fields when the version still matches
func (s *Store) UpdateEventTrigger(ctx context.Context, t *models.EventTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data.eventTriggers[t.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != t.Version {
		return storage.ErrConflict
	}
	if s.pathTakenLocked(t.WebhookPath, t.ID) {
		return storage.ErrDuplicate
	}

	in := copyEventTrigger(t)
	next := copyEventTrigger(cur)
	next.Name = in.Name
	next.Description = in.Description
	next.EventName = in.EventName
	next.WebhookPath = in.WebhookPath
	next.WebhookSecret = in.WebhookSecret
	next.Filter = in.Filter
	next.InputMapping = in.InputMapping
	next.IsActive = in.IsActive
	next.Version++
	next.UpdatedAt = s.now().UTC()
	s.data.eventTriggers[t.ID] = next

	t.Version = next.Version
	t.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteEventTrigger removes one event trigger
func (s *Store) DeleteEventTrigger(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.eventTriggers[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data.eventTriggers, id)
	return nil
}

// RecordEventTriggerFired bumps the fire statistics
func (s *Store) RecordEventTriggerFired(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.eventTriggers[id]
	if !ok {
		return storage.ErrNotFound
	}
	fired := at.UTC()
	t.LastTriggeredAt = &fired
	t.TriggerCount++
	return nil
}

// CreateTriggerEvent stores one audit record
func (s *Store) CreateTriggerEvent(ctx context.Context, e *models.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.triggerEvents[e.ID]; ok {
		return storage.ErrDuplicate
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	stored := copyTriggerEvent(e)
	if len(stored.Payload) == 0 {
		stored.Payload = json.RawMessage(`{}`)
	}
	s.data.triggerEvents[e.ID] = stored
	return nil
}

// GetTriggerEvent returns a copy of one trigger event
func (s *Store) GetTriggerEvent(ctx context.Context, id string) (*models.TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data.triggerEvents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTriggerEvent(e), nil
}

// ListTriggerEvents returns one page of events and the total match count
func (s *Store) ListTriggerEvents(ctx context.Context, filter models.TriggerEventFilter) ([]*models.TriggerEvent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.TriggerEvent
	for _, e := range s.data.triggerEvents {
		if filter.TriggerID != "" && (e.TriggerID == nil || *e.TriggerID != filter.TriggerID) {
			continue
		}
		if filter.AgentID != "" && e.AgentID != filter.AgentID {
			continue
		}
		if filter.IntegrationID != "" && (e.IntegrationID == nil || *e.IntegrationID != filter.IntegrationID) {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]*models.TriggerEvent, 0, end-offset)
	for _, e := range matched[offset:end] {
		out = append(out, copyTriggerEvent(e))
	}
	return out, total, nil
}

// TransitionTriggerEvent moves an event from one status to another
func (s *Store) TransitionTriggerEvent(ctx context.Context, id string, from, to models.TriggerEventStatus, errorMessage *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data.triggerEvents[id]
	if !ok {
		return storage.ErrNotFound
	}
	if e.Status != from {
		return storage.ErrConflict
	}
	e.Status = to
	if errorMessage != nil {
		msg := *errorMessage
		e.ErrorMessage = &msg
	}
	e.UpdatedAt = at.UTC()
	return nil
}

// GetWorkspace returns a copy of one workspace
func (s *Store) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.data.workspaces[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyWorkspace(w), nil
}

// UpsertWorkspace creates or replaces a workspace
func (s *Store) UpsertWorkspace(ctx context.Context, w *models.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.workspaces[w.ID] = copyWorkspace(w)
	return nil
}

// GetAgent returns a copy of one agent
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data.agents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *a
	return &out, nil
}

// UpsertAgent creates or replaces an agent
func (s *Store) UpsertAgent(ctx context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *a
	s.data.agents[a.ID] = &stored
	return nil
}

// GetIntegration returns a copy of one integration
func (s *Store) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.data.integrations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *i
	return &out, nil
}

// GetIntegrationByAccount resolves a provider account, case-insensitively
func (s *Store) GetIntegrationByAccount(ctx context.Context, provider, account string) (*models.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, i := range s.data.integrations {
		if i.Provider == provider && strings.EqualFold(i.ExternalAccount, account) {
			out := *i
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

// UpsertIntegration creates or replaces an integration
func (s *Store) UpsertIntegration(ctx context.Context, i *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, other := range s.data.integrations {
		if id != i.ID && other.Provider == i.Provider && other.ExternalAccount == i.ExternalAccount {
			return storage.ErrDuplicate
		}
	}
	now := s.now().UTC()
	if existing, ok := s.data.integrations[i.ID]; ok {
		i.CreatedAt = existing.CreatedAt
	} else if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	stored := *i
	s.data.integrations[i.ID] = &stored
	return nil
}

// GetCursor returns a copy of the connection's cursor
func (s *Store) GetCursor(ctx context.Context, connectionKey string) (*models.IntegrationCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data.cursors[connectionKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyCursor(c), nil
}

// CompareAndSwapCursor advances a cursor only from the expected value
func (s *Store) CompareAndSwapCursor(ctx context.Context, connectionKey, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data.cursors[connectionKey]
	if expected == "" {
		if ok {
			return storage.ErrConflict
		}
		s.data.cursors[connectionKey] = &models.IntegrationCursor{
			ConnectionKey: connectionKey,
			Value:         next,
			UpdatedAt:     s.now().UTC(),
		}
		return nil
	}
	if !ok || cur.Value != expected {
		return storage.ErrConflict
	}
	cur.Value = next
	cur.PendingValue = nil
	cur.UpdatedAt = s.now().UTC()
	return nil
}

// MarkCursorPending records a deferred notification cursor
func (s *Store) MarkCursorPending(ctx context.Context, connectionKey, expected, pending string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data.cursors[connectionKey]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Value != expected {
		return storage.ErrConflict
	}
	p := pending
	cur.PendingValue = &p
	cur.UpdatedAt = s.now().UTC()
	return nil
}

func messageKey(integrationID, externalID string) string {
	return integrationID + "\x00" + externalID
}

// UpsertEmailMessage inserts the mirror row or refreshes it in place
func (s *Store) UpsertEmailMessage(ctx context.Context, m *models.EmailMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := messageKey(m.IntegrationID, m.ExternalMessageID)
	if existing, ok := s.data.messages[key]; ok {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
		m.UpdatedAt = now
		s.data.messages[key] = copyMessage(m)
		return false, nil
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.data.messages[key] = copyMessage(m)
	return true, nil
}

// GetEmailMessage returns one mirror row by natural key
func (s *Store) GetEmailMessage(ctx context.Context, integrationID, externalMessageID string) (*models.EmailMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data.messages[messageKey(integrationID, externalMessageID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyMessage(m), nil
}

// ListEmailMessages returns the newest mirrored messages of an integration
func (s *Store) ListEmailMessages(ctx context.Context, integrationID string, limit int) ([]*models.EmailMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.EmailMessage
	for _, m := range s.data.messages {
		if m.IntegrationID == integrationID {
			out = append(out, copyMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].ReceivedAt, out[j].ReceivedAt, out[i].ID, out[j].ID)
	})
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// newerFirst orders by time descending and then by id ascending
func newerFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA < idB
}
