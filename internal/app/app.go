package app

import (
	"context"
	"sync"

	"agent-triggers/internal/auth"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/ratelimit"
	"agent-triggers/internal/config"
	"agent-triggers/internal/dispatch"
	"agent-triggers/internal/events"
	"agent-triggers/internal/ingestion/gmail"
	"agent-triggers/internal/ingestion/webhook"
	"agent-triggers/internal/locks"
	"agent-triggers/internal/redis"
	"agent-triggers/internal/scheduler"
	"agent-triggers/internal/signature"
	"agent-triggers/internal/storage"
	"agent-triggers/internal/triggers"
	"agent-triggers/internal/triggers/service"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Logger      logging.Logger
	Store       storage.Store
	RedisClient *redis.Client
	Locks       locks.Manager
	Dispatcher  dispatch.Dispatcher
	Events      *events.Manager
	Filters     *triggers.FilterEvaluator
	Triggers    *service.Service
	Webhooks    *webhook.Adapter
	Gmail       *gmail.Adapter
	Push        *signature.PushAuthenticator
	Subscriber  *gmail.Subscriber
	Scheduler   *scheduler.Scheduler
	Auth        *auth.Auth
	APILimiter  *ratelimit.Limiter

	IngestLimiter *ratelimit.Limiter

	closers []func() error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger.WithFields(logging.String("component", "app")),
	}

	// Initialize components in order of dependency
	if err := app.initializeStorage(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeRedis(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeDispatch(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeRateLimiters(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeTriggers(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeIngestion(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// onClose registers a release function run by Cleanup in reverse order
func (app *App) onClose(fn func() error) {
	app.closers = append(app.closers, fn)
}

// Start launches the background workers: the scheduler loop and the
// optional Pub/Sub pull subscriber
func (app *App) Start(ctx context.Context) error {
	ctx, app.cancel = context.WithCancel(ctx)

	if app.Scheduler != nil {
		if err := app.Scheduler.Start(ctx); err != nil {
			return err
		}
	}

	if app.Subscriber != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.Subscriber.Run(ctx); err != nil {
				app.Logger.Error("Pub/Sub subscriber stopped", err)
			}
		}()
	}
	return nil
}

// Shutdown stops the background workers and waits for in-flight work
func (app *App) Shutdown(ctx context.Context) error {
	if app.cancel != nil {
		app.cancel()
	}
	if app.Scheduler != nil && app.Scheduler.IsRunning() {
		if err := app.Scheduler.Stop(); err != nil {
			app.Logger.Warn("Error stopping scheduler", logging.Err(err))
		}
	}

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.Logger.Warn("Error releasing resource", logging.Err(err))
		}
	}
	app.closers = nil
}
