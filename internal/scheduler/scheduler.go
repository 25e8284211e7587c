// Package scheduler fires due schedules. One process at a time runs a tick,
// elected through the "scheduler:tick" lock; every firing is claimed against
// the schedule version before any event is recorded, so a schedule edited or
// fired elsewhere in the meantime is never fired with stale configuration.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/dispatch"
	"agent-triggers/internal/events"
	"agent-triggers/internal/locks"
	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
	"agent-triggers/internal/triggers"
	"agent-triggers/internal/triggers/schedule"
)

// IntegrationKey marks trigger events produced by the scheduler
const IntegrationKey = "schedule"

const tickLockKey = "scheduler:tick"

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler
	ErrAlreadyRunning = stderrors.New("scheduler already running")
	// ErrNotRunning is returned by Stop on a stopped scheduler
	ErrNotRunning = stderrors.New("scheduler not running")
)

// Config tunes the tick loop
type Config struct {
	Tick    time.Duration
	Batch   int
	LockTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.Tick <= 0 {
		c.Tick = 15 * time.Second
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * c.Tick
	}
}

// Scheduler polls for due schedules and fires them
type Scheduler struct {
	store      storage.Store
	events     *events.Manager
	dispatcher dispatch.Dispatcher
	locks      locks.Manager
	config     Config
	logger     logging.Logger
	now        func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a scheduler
func New(
	store storage.Store,
	eventManager *events.Manager,
	dispatcher dispatch.Dispatcher,
	lockManager locks.Manager,
	config Config,
	logger logging.Logger,
) *Scheduler {
	config.setDefaults()
	return &Scheduler{
		store:      store,
		events:     eventManager,
		dispatcher: dispatcher,
		locks:      lockManager,
		config:     config,
		logger:     logger.WithFields(logging.String("component", "scheduler")),
		now:        time.Now,
	}
}

// Start runs the tick loop in the background until Stop or ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.isRunning = true

	go s.loop(loopCtx, s.done)

	s.logger.Info("Scheduler started",
		logging.Duration("tick", s.config.Tick),
		logging.Int("batch", s.config.Batch),
	)
	return nil
}

// Stop cancels the loop and waits for an in-flight tick to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.isRunning = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("Scheduler stopped")
	return nil
}

// IsRunning reports whether the loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Scheduler tick failed", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Tick fires every schedule due now, up to the batch size, and returns how
// many were claimed. It does nothing when another process holds the tick lock.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	lock, ok, err := s.locks.TryAcquireLock(ctx, tickLockKey, s.config.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire tick lock: %w", err)
	}
	if !ok {
		s.logger.Debug("Scheduler tick held elsewhere")
		return 0, nil
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release tick lock", logging.Err(err))
		}
	}()

	now := s.now().UTC()
	due, err := s.store.ListDueSchedules(ctx, now, s.config.Batch)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}

	claimed := 0
	for _, sch := range due {
		if ctx.Err() != nil {
			break
		}
		if s.fire(ctx, sch, now) {
			claimed++
		}
	}
	return claimed, nil
}

// fire claims one due schedule and records and dispatches its firing. Runs
// missed while the service was down collapse into this single firing.
func (s *Scheduler) fire(ctx context.Context, sch *models.Schedule, now time.Time) bool {
	logger := s.logger.WithFields(
		logging.String("schedule_id", sch.ID),
		logging.String("agent_id", sch.AgentID),
	)

	scheduledFor := *sch.NextRunAt
	var next *time.Time
	nextAt, nextErr := schedule.NextRunAt(sch.CronExpr, sch.Timezone, now)
	if nextErr == nil {
		next = &nextAt
	}

	err := s.store.ClaimScheduleRun(ctx, sch.ID, sch.Version, now, next)
	switch {
	case stderrors.Is(err, storage.ErrConflict), stderrors.Is(err, storage.ErrNotFound):
		logger.Debug("Schedule changed before it could be claimed, not firing")
		return false
	case err != nil:
		logger.Error("Failed to claim schedule run", err)
		return false
	}

	input := triggers.ScheduleInput(sch)
	input.Event = map[string]interface{}{
		"scheduledFor": scheduledFor.UTC().Format(time.RFC3339),
		"firedAt":      now.Format(time.RFC3339),
	}
	params := events.Params{
		TriggerID:      triggers.FormatID(models.SourceTypeSchedule, sch.ID),
		AgentID:        sch.AgentID,
		WorkspaceID:    sch.WorkspaceID,
		SourceType:     models.SourceTypeSchedule,
		TriggerType:    models.TriggerTypeSchedule,
		IntegrationKey: IntegrationKey,
		Payload:        input,
	}

	if nextErr != nil {
		logger.Warn("Schedule can no longer be evaluated, deactivated", logging.Err(nextErr))
		if _, err := s.events.Fail(ctx, params, nextErr); err != nil {
			logger.Error("Failed to record trigger event", err)
		}
		return true
	}

	agent, err := s.store.GetAgent(ctx, sch.AgentID)
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		s.skip(ctx, logger, params, fmt.Sprintf("agent %s not found", sch.AgentID))
		return true
	case err != nil:
		if _, ferr := s.events.Fail(ctx, params, err); ferr != nil {
			logger.Error("Failed to record trigger event", ferr)
		}
		return true
	case !agent.IsEnabled:
		s.skip(ctx, logger, params, fmt.Sprintf("agent %s is disabled", agent.ID))
		return true
	}

	e, err := s.events.Create(ctx, params)
	if err != nil {
		logger.Error("Failed to record trigger event", err)
		return true
	}
	if err := s.events.Deliver(ctx, s.dispatcher, e); err != nil {
		logger.Warn("Schedule fired but dispatch failed",
			logging.String("trigger_event_id", e.ID),
			logging.Err(err),
		)
		return true
	}

	logger.Info("Schedule fired",
		logging.String("trigger_event_id", e.ID),
		logging.Time("next_run_at", nextAt),
	)
	return true
}

func (s *Scheduler) skip(ctx context.Context, logger logging.Logger, params events.Params, reason string) {
	if _, err := s.events.Skip(ctx, params, reason); err != nil {
		logger.Error("Failed to record trigger event", err)
		return
	}
	logger.Info("Schedule firing skipped", logging.String("reason", reason))
}
