package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"agent-triggers/internal/models"
)

// UpsertEmailMessage inserts the mirror row or refreshes it in place
func (s *Store) UpsertEmailMessage(ctx context.Context, m *models.EmailMessage) (bool, error) {
	to, err := stringSliceJSON(m.To)
	if err != nil {
		return false, fmt.Errorf("encode recipients: %w", err)
	}
	labels, err := stringSliceJSON(m.Labels)
	if err != nil {
		return false, fmt.Errorf("encode labels: %w", err)
	}

	now := utc(s.now())
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	res, err := s.exec(ctx, insertEmailMessageQuery,
		m.ID, m.IntegrationID, m.ExternalMessageID, m.ThreadID, m.From, to, m.Subject, m.Snippet, labels,
		utc(m.ReceivedAt), m.IsInternal, m.IsForwarded, m.IsImportant, m.WithinBusinessHours,
		utc(m.CreatedAt), m.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	_, err = s.exec(ctx, refreshEmailMessageQuery,
		m.ThreadID, m.From, to, m.Subject, m.Snippet, labels,
		utc(m.ReceivedAt), m.IsInternal, m.IsForwarded, m.IsImportant, m.WithinBusinessHours, now,
		m.IntegrationID, m.ExternalMessageID,
	)
	if err != nil {
		return false, err
	}

	// the caller's copy keeps the id of the row that already existed
	stored, err := s.GetEmailMessage(ctx, m.IntegrationID, m.ExternalMessageID)
	if err != nil {
		return false, err
	}
	m.ID = stored.ID
	m.CreatedAt = stored.CreatedAt
	return false, nil
}

// GetEmailMessage loads one mirror row by natural key
func (s *Store) GetEmailMessage(ctx context.Context, integrationID, externalMessageID string) (*models.EmailMessage, error) {
	m, err := scanEmailMessage(s.queryRow(ctx, getEmailMessageQuery, integrationID, externalMessageID))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// ListEmailMessages returns the newest mirrored messages of an integration
func (s *Store) ListEmailMessages(ctx context.Context, integrationID string, limit int) ([]*models.EmailMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, listEmailMessagesQuery, integrationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.EmailMessage
	for rows.Next() {
		m, err := scanEmailMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanEmailMessage(row scanner) (*models.EmailMessage, error) {
	var (
		m      models.EmailMessage
		to     string
		labels string
	)
	err := row.Scan(
		&m.ID, &m.IntegrationID, &m.ExternalMessageID, &m.ThreadID, &m.From, &to, &m.Subject, &m.Snippet,
		&labels, &m.ReceivedAt, &m.IsInternal, &m.IsForwarded, &m.IsImportant, &m.WithinBusinessHours,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.To = parseStringSlice(to)
	m.Labels = parseStringSlice(labels)
	m.ReceivedAt = m.ReceivedAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}
