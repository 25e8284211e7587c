package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/ingestion/gmail"
)

// HandleWebhookTrigger delivers an inbound request to the webhook trigger
// registered on its path
// @Summary Deliver webhook
// @Description Verifies the X-Webhook-Signature HMAC when the trigger has a secret
// @Tags webhooks
// @Accept json,plain
// @Produce json
// @Param path path string true "Webhook path"
// @Success 202 {object} webhook.Result
// @Failure 401 {object} ErrorResponse "Signature verification failed"
// @Failure 404 {object} ErrorResponse "No trigger on this path"
// @Failure 429 {object} ErrorResponse "Rate limited"
// @Router /webhooks/triggers/{path} [post]
func (h *Handlers) HandleWebhookTrigger(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.webhooks.Handle(r.Context(), r, mux.Vars(r)["path"], body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// HandleGmailPush receives a Pub/Sub push envelope carrying a mailbox
// notification. Any non-2xx response makes Pub/Sub redeliver.
// @Summary Gmail push notification
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} gmail.Result
// @Failure 400 {object} ErrorResponse "Malformed envelope"
// @Failure 401 {object} ErrorResponse "Push authentication failed"
// @Failure 503 {object} ErrorResponse "Not processed; redeliver"
// @Router /webhooks/gmail [post]
func (h *Handlers) HandleGmailPush(w http.ResponseWriter, r *http.Request) {
	if h.gmail == nil || h.push == nil {
		http.NotFound(w, r)
		return
	}

	if err := h.push.Authenticate(r.Context(), r); err != nil {
		h.logger.WithContext(r.Context()).Warn("Push authentication failed", logging.Err(err))
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   string(errors.ErrTypeAuth),
			Message: "push authentication failed",
		})
		return
	}

	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := gmail.DecodeEnvelope(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.gmail.HandleNotification(r.Context(), n)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("Notification not processed, requesting redelivery",
			logging.String("email_address", n.EmailAddress),
			logging.String("history_id", n.HistoryID),
			logging.Err(err),
		)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   string(errors.GetType(err)),
			Message: errors.PublicMessage(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HealthCheck reports the status of every registered dependency
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, checker := range h.health {
		if err := checker.Health(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{"status": overall, "checks": checks})
}
