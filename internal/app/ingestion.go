package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/ingestion/gmail"
	"agent-triggers/internal/signature"
)

// gmailClientTTL bounds how long an impersonating mailbox client is reused
const gmailClientTTL = 30 * time.Minute

func (app *App) initializeIngestion(ctx context.Context) error {
	app.Push = signature.NewPushAuthenticator(signature.PushConfig{
		SharedToken:    app.Config.GmailPushToken,
		Audience:       app.Config.GmailPushAudience,
		ServiceAccount: app.Config.GmailPushServiceAccount,
	}, app.Logger)

	if app.Config.GmailCredentialsFile == "" {
		app.Logger.Warn("Gmail ingestion disabled: GMAIL_CREDENTIALS_FILE not set")
		return nil
	}

	credentials, err := os.ReadFile(app.Config.GmailCredentialsFile)
	if err != nil {
		return fmt.Errorf("failed to read gmail credentials: %w", err)
	}

	loc, err := time.LoadLocation(app.Config.BusinessTimezone)
	if err != nil {
		return fmt.Errorf("invalid business timezone: %w", err)
	}

	app.Gmail = gmail.NewAdapter(
		app.Store,
		app.Events,
		app.Dispatcher,
		app.Locks,
		gmail.NewClientCache(gmail.ServiceAccountBuilder(credentials), gmailClientTTL),
		app.IngestLimiter,
		app.Filters,
		gmail.Config{
			MaxMessages:      app.Config.IngestMaxMessages,
			FetchConcurrency: app.Config.IngestFetchConcurrency,
			ProviderTimeout:  app.Config.ProviderTimeout,
			StoreTimeout:     app.Config.StoreTimeout,
			LockTTL:          app.Config.LockTTL,
			BusinessHours: gmail.BusinessHours{
				Location:  loc,
				StartHour: app.Config.BusinessHoursStart,
				EndHour:   app.Config.BusinessHoursEnd,
			},
			OrgDomains: app.Config.OrgDomains,
		},
		app.Logger,
	)
	app.Logger.Info("Gmail ingestion: Enabled",
		logging.Int("max_messages", app.Config.IngestMaxMessages),
		logging.Int("fetch_concurrency", app.Config.IngestFetchConcurrency),
	)

	if app.Config.GmailPubSubSubscription == "" {
		return nil
	}

	var clientOpts []option.ClientOption
	if app.Config.GoogleCredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(app.Config.GoogleCredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, app.Config.GmailPubSubProject, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create pubsub client: %w", err)
	}
	app.onClose(client.Close)

	app.Subscriber = gmail.NewSubscriber(client, app.Config.GmailPubSubSubscription, app.Gmail, app.Config.IngestFetchConcurrency, app.Logger)
	app.Logger.Info("Gmail ingestion: Pull subscription enabled",
		logging.String("subscription", app.Config.GmailPubSubSubscription),
	)
	return nil
}
