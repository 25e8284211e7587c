package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/ratelimit"
	"agent-triggers/internal/handlers"
	"agent-triggers/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler, rateLimiter *ratelimit.Limiter, logger logging.Logger) {
	router.Use(middleware.Recover(logger), middleware.RequestID, middleware.Logging(logger))

	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Inbound deliveries authenticate themselves
	router.HandleFunc("/webhooks/gmail", h.HandleGmailPush).Methods("POST")
	router.HandleFunc("/webhooks/triggers/{path:.+}", h.HandleWebhookTrigger).Methods("POST")

	// Protected routes - require authentication and rate limiting
	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)
	if rateLimiter != nil {
		api.Use(ratelimit.HTTPMiddleware(rateLimiter, subjectKey))
	}

	// Trigger management endpoints (protected)
	api.HandleFunc("/triggers", h.ListTriggers).Methods("GET")
	api.HandleFunc("/triggers/schedules", h.CreateSchedule).Methods("POST")
	api.HandleFunc("/triggers/events", h.CreateEventTrigger).Methods("POST")
	api.HandleFunc("/triggers/{id}", h.GetTrigger).Methods("GET")
	api.HandleFunc("/triggers/{id}", h.UpdateTrigger).Methods("PATCH")
	api.HandleFunc("/triggers/{id}", h.DeleteTrigger).Methods("DELETE")
	api.HandleFunc("/triggers/{id}/fire", h.FireTrigger).Methods("POST")
	api.HandleFunc("/triggers/{id}/upcoming", h.GetUpcomingRuns).Methods("GET")

	// Trigger event audit trail (protected)
	api.HandleFunc("/trigger-events", h.ListTriggerEvents).Methods("GET")
	api.HandleFunc("/trigger-events/{id}", h.GetTriggerEvent).Methods("GET")
}
