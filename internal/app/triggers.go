package app

import (
	"time"

	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/validation"
	"agent-triggers/internal/ingestion/webhook"
	"agent-triggers/internal/scheduler"
	"agent-triggers/internal/signature"
	"agent-triggers/internal/triggers/service"
)

// webhookTimestampTolerance bounds the age of a signed webhook delivery
const webhookTimestampTolerance = 5 * time.Minute

func (app *App) initializeTriggers() error {
	app.Triggers = service.New(app.Store, app.Events, app.Dispatcher, app.Filters, validation.New(), app.Logger)

	app.Webhooks = webhook.NewAdapter(
		app.Store,
		app.Events,
		app.Dispatcher,
		signature.NewHMACVerifier(webhookTimestampTolerance),
		app.Filters,
		app.IngestLimiter,
		webhook.Config{StoreTimeout: app.Config.StoreTimeout},
		app.Logger,
	)

	if !app.Config.SchedulerEnabled {
		app.Logger.Info("Scheduler: Disabled in this process")
		return nil
	}
	app.Scheduler = scheduler.New(app.Store, app.Events, app.Dispatcher, app.Locks, scheduler.Config{
		Tick:  app.Config.SchedulerTick,
		Batch: app.Config.SchedulerBatch,
	}, app.Logger)
	app.Logger.Info("Scheduler: Enabled",
		logging.Duration("tick", app.Config.SchedulerTick),
		logging.Int("batch", app.Config.SchedulerBatch),
	)
	return nil
}
