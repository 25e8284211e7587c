package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
)

// CreateEventTrigger inserts a new event trigger at version 1
func (s *Store) CreateEventTrigger(ctx context.Context, t *models.EventTrigger) error {
	secret, mapping, err := s.encodeEventTrigger(t)
	if err != nil {
		return err
	}

	now := utc(s.now())
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Version == 0 {
		t.Version = 1
	}

	_, err = s.exec(ctx, insertEventTriggerQuery,
		t.ID, t.AgentID, t.WorkspaceID, t.Name, t.Description, string(t.TriggerType), t.EventName,
		emptyAsNull(t.WebhookPath), secret, nullJSON(t.Filter), mapping, t.IsActive,
		nullTime(t.LastTriggeredAt), t.TriggerCount, t.Version, utc(t.CreatedAt), t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

// GetEventTrigger loads one event trigger
func (s *Store) GetEventTrigger(ctx context.Context, id string) (*models.EventTrigger, error) {
	t, err := s.scanEventTrigger(s.queryRow(ctx, getEventTriggerQuery, id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// GetEventTriggerByWebhookPath resolves a webhook route to its trigger
func (s *Store) GetEventTriggerByWebhookPath(ctx context.Context, path string) (*models.EventTrigger, error) {
	if path == "" {
		return nil, storage.ErrNotFound
	}
	t, err := s.scanEventTrigger(s.queryRow(ctx, getEventTriggerByPathQuery, path))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// ListEventTriggers returns event triggers matching filter, newest first
func (s *Store) ListEventTriggers(ctx context.Context, filter storage.EventTriggerFilter) ([]*models.EventTrigger, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.TriggerType != "" {
		where = append(where, "trigger_type = ?")
		args = append(args, string(filter.TriggerType))
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.IsActive)
	}

	query := `SELECT ` + eventTriggerColumns + ` FROM event_triggers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.collectEventTriggers(rows)
}

// FindActiveEventTriggers returns the active triggers of an agent listening for eventName
func (s *Store) FindActiveEventTriggers(ctx context.Context, agentID, eventName string) ([]*models.EventTrigger, error) {
	rows, err := s.query(ctx, findActiveEventTriggersQuery, agentID, eventName, true)
	if err != nil {
		return nil, err
	}
	return s.collectEventTriggers(rows)
}

// UpdateEventTrigger writes the mutable fields guarded by version
func (s *Store) UpdateEventTrigger(ctx context.Context, t *models.EventTrigger) error {
	secret, mapping, err := s.encodeEventTrigger(t)
	if err != nil {
		return err
	}

	now := utc(s.now())
	err = s.execExpectOne(ctx, eventTriggerExistsQuery, t.ID, updateEventTriggerQuery,
		t.Name, t.Description, t.EventName, emptyAsNull(t.WebhookPath), secret, nullJSON(t.Filter),
		mapping, t.IsActive, now,
		t.ID, t.Version,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return err
	}

	t.Version++
	t.UpdatedAt = now
	return nil
}

// DeleteEventTrigger removes one event trigger
func (s *Store) DeleteEventTrigger(ctx context.Context, id string) error {
	res, err := s.exec(ctx, deleteEventTriggerQuery, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// RecordEventTriggerFired bumps the fire statistics without touching the version
func (s *Store) RecordEventTriggerFired(ctx context.Context, id string, at time.Time) error {
	res, err := s.exec(ctx, recordEventTriggerFiredQuery, utc(at), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) encodeEventTrigger(t *models.EventTrigger) (string, interface{}, error) {
	var secret string
	if t.WebhookSecret != "" {
		sealed, err := s.cipher.Seal(t.WebhookSecret)
		if err != nil {
			return "", nil, fmt.Errorf("seal webhook secret: %w", err)
		}
		secret = sealed
	}

	var mapping interface{}
	if t.InputMapping != nil {
		encoded, err := toJSON(t.InputMapping)
		if err != nil {
			return "", nil, fmt.Errorf("encode input mapping: %w", err)
		}
		mapping = encoded
	}
	return secret, mapping, nil
}

func (s *Store) scanEventTrigger(row scanner) (*models.EventTrigger, error) {
	var (
		t           models.EventTrigger
		triggerType string
		webhookPath sql.NullString
		secret      string
		filter      sql.NullString
		mapping     sql.NullString
		lastFired   sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.AgentID, &t.WorkspaceID, &t.Name, &t.Description, &triggerType, &t.EventName,
		&webhookPath, &secret, &filter, &mapping, &t.IsActive, &lastFired, &t.TriggerCount, &t.Version,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.TriggerType = models.TriggerType(triggerType)
	t.WebhookPath = webhookPath.String
	t.LastTriggeredAt = timePtr(lastFired)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()

	if secret != "" {
		plain, err := s.cipher.Open(secret)
		if err != nil {
			return nil, fmt.Errorf("event trigger %s: %w", t.ID, err)
		}
		t.WebhookSecret = plain
	}
	if filter.Valid && filter.String != "" {
		t.Filter = json.RawMessage(filter.String)
	}
	if mapping.Valid && mapping.String != "" && mapping.String != "null" {
		var m models.InputMapping
		if err := json.Unmarshal([]byte(mapping.String), &m); err != nil {
			return nil, fmt.Errorf("decode input mapping of event trigger %s: %w", t.ID, err)
		}
		t.InputMapping = &m
	}
	return &t, nil
}

func (s *Store) collectEventTriggers(rows *sql.Rows) ([]*models.EventTrigger, error) {
	defer rows.Close()

	var out []*models.EventTrigger
	for rows.Next() {
		t, err := s.scanEventTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
