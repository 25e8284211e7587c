package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/pagination"
	"agent-triggers/internal/models"
	"agent-triggers/internal/triggers/service"
)

// Trigger management handlers

// ListTriggers returns schedules and event triggers as one list
// @Summary List triggers
// @Description Returns both source kinds in the unified shape, newest first
// @Tags triggers
// @Produce json
// @Security BearerAuth
// @Param agentId query string false "Filter by agent"
// @Param sourceType query string false "schedule or trigger"
// @Param isActive query boolean false "Filter by active flag"
// @Param page query int false "Page number"
// @Param perPage query int false "Page size"
// @Success 200 {object} pagination.Response[models.UnifiedTrigger]
// @Router /api/triggers [get]
func (h *Handlers) ListTriggers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := service.ListFilter{
		AgentID:    q.Get("agentId"),
		SourceType: models.SourceType(q.Get("sourceType")),
	}
	if filter.SourceType != "" && !filter.SourceType.Valid() {
		h.writeError(w, r, errors.ValidationError("sourceType must be schedule or trigger"))
		return
	}
	if v := q.Get("isActive"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, errors.ValidationError("isActive must be a boolean"))
			return
		}
		filter.IsActive = &active
	}

	list, err := h.triggers.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pagination.Slice(list, pagination.ParseParams(r)))
}

// GetTrigger returns one trigger by composite id
// @Summary Get trigger
// @Tags triggers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Composite trigger id"
// @Success 200 {object} models.UnifiedTrigger
// @Failure 400 {object} ErrorResponse "Invalid trigger id"
// @Failure 404 {object} ErrorResponse "Trigger not found"
// @Router /api/triggers/{id} [get]
func (h *Handlers) GetTrigger(w http.ResponseWriter, r *http.Request) {
	u, err := h.triggers.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CreateSchedule creates a schedule source
// @Summary Create schedule
// @Tags triggers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param schedule body service.CreateScheduleRequest true "Schedule"
// @Success 201 {object} models.UnifiedTrigger
// @Router /api/triggers/schedules [post]
func (h *Handlers) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req service.CreateScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	u, err := h.triggers.CreateSchedule(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// CreateEventTrigger creates an event or webhook trigger source
// @Summary Create event trigger
// @Tags triggers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param trigger body service.CreateEventTriggerRequest true "Event trigger"
// @Success 201 {object} models.UnifiedTrigger
// @Router /api/triggers/events [post]
func (h *Handlers) CreateEventTrigger(w http.ResponseWriter, r *http.Request) {
	var req service.CreateEventTriggerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	u, err := h.triggers.CreateEventTrigger(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// UpdateTrigger applies a partial update
// @Summary Update trigger
// @Description Absent fields are left unchanged; filter and inputMapping accept null to clear
// @Tags triggers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Composite trigger id"
// @Param patch body service.UpdateRequest true "Partial update"
// @Success 200 {object} models.UnifiedTrigger
// @Failure 409 {object} ErrorResponse "Concurrent modification"
// @Router /api/triggers/{id} [patch]
func (h *Handlers) UpdateTrigger(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	u, err := h.triggers.Update(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DeleteTrigger removes a trigger source
// @Summary Delete trigger
// @Tags triggers
// @Security BearerAuth
// @Param id path string true "Composite trigger id"
// @Success 204
// @Router /api/triggers/{id} [delete]
func (h *Handlers) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := h.triggers.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FireTrigger fires a trigger manually with an optional event payload
// @Summary Fire trigger
// @Tags triggers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Composite trigger id"
// @Success 202 {object} models.TriggerEvent
// @Router /api/triggers/{id}/fire [post]
func (h *Handlers) FireTrigger(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.triggers.Fire(r.Context(), mux.Vars(r)["id"], payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, e)
}

// GetUpcomingRuns previews the next fire instants of a schedule
// @Summary Upcoming schedule runs
// @Tags triggers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Composite schedule id"
// @Param count query int false "Number of instants (default 5, max 50)"
// @Router /api/triggers/{id}/upcoming [get]
func (h *Handlers) GetUpcomingRuns(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("count"))
	runs, err := h.triggers.Upcoming(r.Context(), mux.Vars(r)["id"], n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// ListTriggerEvents returns the audit trail, newest first
// @Summary List trigger events
// @Tags trigger-events
// @Produce json
// @Security BearerAuth
// @Param triggerId query string false "Composite trigger id"
// @Param agentId query string false "Filter by agent"
// @Param integrationId query string false "Filter by integration"
// @Param status query string false "RECEIVED, PROCESSING, FIRED, SKIPPED or FAILED"
// @Router /api/trigger-events [get]
func (h *Handlers) ListTriggerEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := pagination.ParseParams(r)
	filter := models.TriggerEventFilter{
		TriggerID:     q.Get("triggerId"),
		AgentID:       q.Get("agentId"),
		IntegrationID: q.Get("integrationId"),
		Status:        models.TriggerEventStatus(strings.ToUpper(q.Get("status"))),
		Limit:         p.Limit,
		Offset:        p.Offset,
	}

	list, total, err := h.triggers.ListEvents(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewResponse(list, p, total))
}

// GetTriggerEvent returns one audit record
// @Summary Get trigger event
// @Tags trigger-events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trigger event id"
// @Router /api/trigger-events/{id} [get]
func (h *Handlers) GetTriggerEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.triggers.GetEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
