package sqlstore

import (
	"context"
	"database/sql"

	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
)

// GetCursor loads the cursor of a connection
func (s *Store) GetCursor(ctx context.Context, connectionKey string) (*models.IntegrationCursor, error) {
	var (
		c       models.IntegrationCursor
		pending sql.NullString
	)
	err := s.queryRow(ctx, getCursorQuery, connectionKey).Scan(&c.ConnectionKey, &c.Value, &pending, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	c.PendingValue = stringPtr(pending)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// CompareAndSwapCursor advances a cursor only from the expected value
func (s *Store) CompareAndSwapCursor(ctx context.Context, connectionKey, expected, next string) error {
	now := utc(s.now())

	if expected == "" {
		res, err := s.exec(ctx, insertCursorQuery, connectionKey, next, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrConflict
		}
		return nil
	}

	err := s.execExpectOne(ctx, cursorExistsQuery, connectionKey, swapCursorQuery, next, now, connectionKey, expected)
	if err == storage.ErrNotFound {
		// a missing row cannot hold the expected value
		return storage.ErrConflict
	}
	return err
}

// MarkCursorPending records a deferred notification cursor
func (s *Store) MarkCursorPending(ctx context.Context, connectionKey, expected, pending string) error {
	if expected == "" {
		return storage.ErrNotFound
	}
	return s.execExpectOne(ctx, cursorExistsQuery, connectionKey, markCursorPendingQuery,
		pending, utc(s.now()), connectionKey, expected,
	)
}
