package handlers

import (
	"context"
	"net/http"

	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/ingestion/gmail"
	"agent-triggers/internal/ingestion/webhook"
	"agent-triggers/internal/triggers/service"
)

// maxBodyBytes caps request bodies on every route
const maxBodyBytes = 1 << 20

// PushAuthenticator authenticates provider push deliveries
type PushAuthenticator interface {
	Authenticate(ctx context.Context, r *http.Request) error
}

// HealthChecker is a dependency reported by /health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers serves the admin API and the inbound webhook routes
type Handlers struct {
	triggers *service.Service
	webhooks *webhook.Adapter
	gmail    gmail.NotificationHandler
	push     PushAuthenticator
	health   map[string]HealthChecker
	logger   logging.Logger
}

// New creates the handler set. gmail and push may be nil when mailbox
// ingestion is not configured.
func New(
	triggers *service.Service,
	webhooks *webhook.Adapter,
	gmailHandler gmail.NotificationHandler,
	push PushAuthenticator,
	health map[string]HealthChecker,
	logger logging.Logger,
) *Handlers {
	return &Handlers{
		triggers: triggers,
		webhooks: webhooks,
		gmail:    gmailHandler,
		push:     push,
		health:   health,
		logger:   logger,
	}
}
