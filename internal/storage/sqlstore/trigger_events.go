package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
)

const defaultTriggerEventLimit = 50

// CreateTriggerEvent inserts one audit record
func (s *Store) CreateTriggerEvent(ctx context.Context, e *models.TriggerEvent) error {
	now := utc(s.now())
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}

	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := s.exec(ctx, insertTriggerEventQuery,
		e.ID, nullString(e.TriggerID), e.AgentID, e.WorkspaceID, string(e.Status), string(e.SourceType),
		string(e.TriggerType), e.IntegrationKey, nullString(e.IntegrationID), e.EventName, payload,
		nullString(e.ErrorMessage), utc(e.CreatedAt), utc(e.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

// GetTriggerEvent loads one trigger event
func (s *Store) GetTriggerEvent(ctx context.Context, id string) (*models.TriggerEvent, error) {
	e, err := scanTriggerEvent(s.queryRow(ctx, getTriggerEventQuery, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// ListTriggerEvents returns one page of events, newest first, and the total match count
func (s *Store) ListTriggerEvents(ctx context.Context, filter models.TriggerEventFilter) ([]*models.TriggerEvent, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.TriggerID != "" {
		where = append(where, "trigger_id = ?")
		args = append(args, filter.TriggerID)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.IntegrationID != "" {
		where = append(where, "integration_id = ?")
		args = append(args, filter.IntegrationID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM trigger_events`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTriggerEventLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + triggerEventColumns + ` FROM trigger_events` + clause +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*models.TriggerEvent
	for rows.Next() {
		e, err := scanTriggerEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// TransitionTriggerEvent moves an event between statuses if it is still in from
func (s *Store) TransitionTriggerEvent(ctx context.Context, id string, from, to models.TriggerEventStatus, errorMessage *string, at time.Time) error {
	return s.execExpectOne(ctx, triggerEventExistsQuery, id, transitionTriggerEventQuery,
		string(to), nullString(errorMessage), utc(at),
		id, string(from),
	)
}

func scanTriggerEvent(row scanner) (*models.TriggerEvent, error) {
	var (
		e             models.TriggerEvent
		triggerID     sql.NullString
		integrationID sql.NullString
		errorMessage  sql.NullString
		status        string
		sourceType    string
		triggerType   string
		payload       string
	)
	err := row.Scan(
		&e.ID, &triggerID, &e.AgentID, &e.WorkspaceID, &status, &sourceType, &triggerType,
		&e.IntegrationKey, &integrationID, &e.EventName, &payload, &errorMessage,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.TriggerID = stringPtr(triggerID)
	e.IntegrationID = stringPtr(integrationID)
	e.ErrorMessage = stringPtr(errorMessage)
	e.Status = models.TriggerEventStatus(status)
	e.SourceType = models.SourceType(sourceType)
	e.TriggerType = models.TriggerType(triggerType)
	e.Payload = json.RawMessage(payload)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
