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

// CreateSchedule inserts a new schedule at version 1
func (s *Store) CreateSchedule(ctx context.Context, sch *models.Schedule) error {
	defaults, err := toJSON(sch.InputDefaults)
	if err != nil {
		return fmt.Errorf("encode input defaults: %w", err)
	}

	now := utc(s.now())
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = now
	}
	sch.UpdatedAt = now
	if sch.Version == 0 {
		sch.Version = 1
	}

	_, err = s.exec(ctx, insertScheduleQuery,
		sch.ID, sch.AgentID, sch.WorkspaceID, sch.Name, sch.Description, sch.CronExpr, sch.Timezone, defaults,
		sch.IsActive, nullTime(sch.LastRunAt), nullTime(sch.NextRunAt), sch.RunCount, sch.Version,
		utc(sch.CreatedAt), sch.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

// GetSchedule loads one schedule
func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	sch, err := scanSchedule(s.queryRow(ctx, getScheduleQuery, id))
	if err != nil {
		return nil, notFound(err)
	}
	return sch, nil
}

// ListSchedules returns schedules matching filter, newest first
func (s *Store) ListSchedules(ctx context.Context, filter storage.ScheduleFilter) ([]*models.Schedule, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.IsActive)
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// UpdateSchedule writes the mutable fields guarded by version
func (s *Store) UpdateSchedule(ctx context.Context, sch *models.Schedule) error {
	defaults, err := toJSON(sch.InputDefaults)
	if err != nil {
		return fmt.Errorf("encode input defaults: %w", err)
	}

	now := utc(s.now())
	err = s.execExpectOne(ctx, scheduleExistsQuery, sch.ID, updateScheduleQuery,
		sch.Name, sch.Description, sch.CronExpr, sch.Timezone, defaults,
		sch.IsActive, nullTime(sch.NextRunAt), now,
		sch.ID, sch.Version,
	)
	if err != nil {
		return err
	}

	sch.Version++
	sch.UpdatedAt = now
	return nil
}

// DeleteSchedule removes one schedule
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.exec(ctx, deleteScheduleQuery, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// ListDueSchedules returns active schedules whose next run is at or before now
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, listDueSchedulesQuery, true, utc(now), limit)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// ClaimScheduleRun records a firing if nobody changed the schedule since it was read
func (s *Store) ClaimScheduleRun(ctx context.Context, id string, expectedVersion int64, firedAt time.Time, next *time.Time) error {
	return s.execExpectOne(ctx, scheduleExistsQuery, id, claimScheduleRunQuery,
		utc(firedAt), nullTime(next), next != nil, utc(s.now()),
		id, expectedVersion, true,
	)
}

func scanSchedule(row scanner) (*models.Schedule, error) {
	var (
		sch       models.Schedule
		defaults  string
		lastRunAt sql.NullTime
		nextRunAt sql.NullTime
	)
	err := row.Scan(
		&sch.ID, &sch.AgentID, &sch.WorkspaceID, &sch.Name, &sch.Description, &sch.CronExpr, &sch.Timezone,
		&defaults, &sch.IsActive, &lastRunAt, &nextRunAt, &sch.RunCount, &sch.Version,
		&sch.CreatedAt, &sch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if defaults != "" {
		if err := json.Unmarshal([]byte(defaults), &sch.InputDefaults); err != nil {
			return nil, fmt.Errorf("decode input defaults of schedule %s: %w", sch.ID, err)
		}
	}
	sch.LastRunAt = timePtr(lastRunAt)
	sch.NextRunAt = timePtr(nextRunAt)
	sch.CreatedAt = sch.CreatedAt.UTC()
	sch.UpdatedAt = sch.UpdatedAt.UTC()
	return &sch, nil
}

func collectSchedules(rows *sql.Rows) ([]*models.Schedule, error) {
	defer rows.Close()

	var out []*models.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
