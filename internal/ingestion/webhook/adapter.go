// Package webhook ingests deliveries to per-trigger webhook paths. Each
// delivery is verified against the trigger's secret, recorded as a trigger
// event and dispatched when the trigger's filter accepts it.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clbanning/mxj/v2"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/ratelimit"
	"agent-triggers/internal/dispatch"
	"agent-triggers/internal/events"
	"agent-triggers/internal/models"
	"agent-triggers/internal/signature"
	"agent-triggers/internal/storage"
	"agent-triggers/internal/triggers"
)

// IntegrationKey marks trigger events produced by this adapter
const IntegrationKey = "webhook"

// forwardedHeaders are copied into the event body filters and mappings see
var forwardedHeaders = []string{
	"Content-Type", "User-Agent", "X-Request-Id", "X-Event-Type", "X-Delivery-Id",
}

// Result describes what happened to one delivery
type Result struct {
	TriggerEventID string                    `json:"triggerEventId"`
	Status         models.TriggerEventStatus `json:"status"`
	Reason         string                    `json:"reason,omitempty"`
}

// Config tunes the adapter
type Config struct {
	StoreTimeout    time.Duration
	DispatchTimeout time.Duration
}

// Adapter handles webhook deliveries
type Adapter struct {
	store      storage.Store
	events     *events.Manager
	dispatcher dispatch.Dispatcher
	verifier   *signature.HMACVerifier
	filters    *triggers.FilterEvaluator
	limiter    *ratelimit.Limiter
	config     Config
	logger     logging.Logger
}

// NewAdapter wires a webhook adapter. limiter may be nil.
func NewAdapter(
	store storage.Store,
	eventManager *events.Manager,
	dispatcher dispatch.Dispatcher,
	verifier *signature.HMACVerifier,
	filters *triggers.FilterEvaluator,
	limiter *ratelimit.Limiter,
	config Config,
	logger logging.Logger,
) *Adapter {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = 10 * time.Second
	}
	return &Adapter{
		store:      store,
		events:     eventManager,
		dispatcher: dispatcher,
		verifier:   verifier,
		filters:    filters,
		limiter:    limiter,
		config:     config,
		logger:     logger,
	}
}

// Handle processes one delivery to path. Unknown paths and bad signatures
// return an error and leave no trace; every other delivery is recorded.
func (a *Adapter) Handle(ctx context.Context, r *http.Request, path string, body []byte) (*Result, error) {
	path = triggers.NormalizeWebhookPath(path)
	log := a.logger.WithContext(ctx).WithFields(logging.String("webhook_path", path))

	sctx, cancel := context.WithTimeout(ctx, a.config.StoreTimeout)
	trigger, err := a.store.GetEventTriggerByWebhookPath(sctx, path)
	cancel()
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundError("webhook")
	}
	if err != nil {
		return nil, errors.InternalError("failed to resolve webhook", err)
	}

	if err := a.verifier.Verify(r, body, trigger.WebhookSecret); err != nil {
		log.Warn("Webhook signature rejected", logging.String("trigger_id", trigger.ID), logging.Err(err))
		return nil, errors.AuthError("invalid webhook signature").WithCause(err)
	}

	if a.limiter != nil && !a.limiter.TryAcquireForKey(IntegrationKey+":"+trigger.ID) {
		return nil, errors.RateLimitError("webhook " + path)
	}

	event := buildEvent(r, path, body)
	params := events.Params{
		TriggerID:      triggers.FormatID(models.SourceTypeTrigger, trigger.ID),
		AgentID:        trigger.AgentID,
		WorkspaceID:    trigger.WorkspaceID,
		SourceType:     models.SourceTypeTrigger,
		TriggerType:    trigger.TriggerType,
		IntegrationKey: IntegrationKey,
		EventName:      trigger.EventName,
		Payload:        triggers.EventInput(trigger, event),
	}

	// records survive a client that hangs up mid-delivery
	actx, cancelAudit := context.WithTimeout(context.WithoutCancel(ctx), a.config.StoreTimeout+a.config.DispatchTimeout)
	defer cancelAudit()

	if !trigger.IsActive {
		return a.skip(actx, params, fmt.Sprintf("trigger %s is inactive", trigger.ID))
	}

	sctx, cancel = context.WithTimeout(actx, a.config.StoreTimeout)
	agent, err := a.store.GetAgent(sctx, trigger.AgentID)
	cancel()
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return a.skip(actx, params, fmt.Sprintf("agent %s not found", trigger.AgentID))
	case err != nil:
		return nil, errors.InternalError("failed to load agent", err)
	case !agent.IsEnabled:
		return a.skip(actx, params, fmt.Sprintf("agent %s is disabled", agent.ID))
	}

	matched, err := a.filters.Matches(trigger.Filter, event)
	if err != nil {
		e, ferr := a.events.Fail(actx, params, fmt.Errorf("filter evaluation failed: %w", err))
		if ferr != nil {
			return nil, ferr
		}
		return &Result{TriggerEventID: e.ID, Status: e.Status, Reason: *e.ErrorMessage}, nil
	}
	if !matched {
		return a.skip(actx, params, "delivery did not match the trigger filter")
	}

	e, err := a.events.Create(actx, params)
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(actx, a.config.DispatchTimeout)
	defer cancel()
	if err := a.events.Deliver(dctx, a.dispatcher, e); err != nil {
		log.Warn("Webhook delivery recorded but not dispatched", logging.String("trigger_event_id", e.ID), logging.Err(err))
		return &Result{TriggerEventID: e.ID, Status: e.Status, Reason: "dispatch failed"}, nil
	}

	log.Info("Webhook delivery dispatched",
		logging.String("trigger_id", trigger.ID),
		logging.String("trigger_event_id", e.ID),
	)
	return &Result{TriggerEventID: e.ID, Status: e.Status}, nil
}

func (a *Adapter) skip(ctx context.Context, params events.Params, reason string) (*Result, error) {
	e, err := a.events.Skip(ctx, params, reason)
	if err != nil {
		return nil, err
	}
	return &Result{TriggerEventID: e.ID, Status: e.Status, Reason: reason}, nil
}

// buildEvent exposes the delivery to filters as {webhook, headers, body}
func buildEvent(r *http.Request, path string, body []byte) map[string]interface{} {
	headers := make(map[string]interface{})
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			headers[h] = v
		}
	}

	return triggers.ToMap(map[string]interface{}{
		"webhook": map[string]interface{}{
			"path":       path,
			"method":     r.Method,
			"query":      r.URL.Query(),
			"receivedAt": time.Now().UTC().Format(time.RFC3339),
		},
		"headers": headers,
		"body":    decodeBody(r.Header.Get("Content-Type"), body),
	})
}

// decodeBody turns a JSON or XML body into a value filters can walk. Anything
// else is kept as text.
func decodeBody(contentType string, body []byte) interface{} {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if strings.Contains(contentType, "xml") || trimmed[0] == '<' {
		if m, err := mxj.NewMapXml(trimmed); err == nil {
			return map[string]interface{}(m)
		}
		return string(body)
	}

	var decoded interface{}
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return string(body)
	}
	return decoded
}
