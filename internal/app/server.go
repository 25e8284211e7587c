package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"agent-triggers/internal/handlers"
	"agent-triggers/internal/ingestion/gmail"
	"agent-triggers/internal/server"
)

// RunServer builds the HTTP server with all handlers configured
func (app *App) RunServer() (*server.Server, http.Handler) {
	health := map[string]handlers.HealthChecker{
		"storage":  app.Store,
		"dispatch": app.Dispatcher,
	}
	if app.RedisClient != nil {
		health["redis"] = app.RedisClient
	}

	// a nil *gmail.Adapter must stay an untyped nil for the handler check
	var gmailHandler gmail.NotificationHandler
	if app.Gmail != nil {
		gmailHandler = app.Gmail
	}

	h := handlers.New(app.Triggers, app.Webhooks, gmailHandler, app.Push, health, app.Logger)

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Auth.RequireAuth, app.APILimiter, app.Logger)

	srv := server.New(router, app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile, app.Logger)
	return srv, router
}
