// Package gmail ingests Gmail push notifications. A notification only carries
// the mailbox's new history id; the adapter derives the messages added since
// the stored cursor, records a trigger event for each one, and advances the
// cursor once the whole batch is accounted for.
package gmail

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/ratelimit"
	"agent-triggers/internal/dispatch"
	"agent-triggers/internal/events"
	"agent-triggers/internal/locks"
	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
	"agent-triggers/internal/triggers"
)

const (
	// ProviderName is the integration provider handled here
	ProviderName = "gmail"
	// EventName is the event triggers subscribe to for new mail
	EventName = "email.received"
)

// Result reasons
const (
	ReasonUnknownAccount   = "unknown_account"
	ReasonInactive         = "integration_inactive"
	ReasonAgentMissing     = "agent_not_found"
	ReasonAgentDisabled    = "agent_disabled"
	ReasonNoTrigger        = "no_trigger"
	ReasonBaseline         = "baseline_stored"
	ReasonAlreadyProcessed = "already_processed"
	ReasonRateLimited      = "rate_limited"
	ReasonCursorExpired    = "cursor_expired"
	ReasonClientError      = "client_unavailable"
	ReasonProviderError    = "provider_error"
	ReasonNoChanges        = "no_changes"
	ReasonBusy             = "connection_busy"
)

// Result is the outcome reported to the notification transport
type Result struct {
	Success   bool   `json:"success"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Retryable bool   `json:"retryable"`
	Reason    string `json:"reason,omitempty"`
}

// Config tunes the adapter
type Config struct {
	MaxMessages      int
	FetchConcurrency int
	ProviderTimeout  time.Duration
	StoreTimeout     time.Duration
	LockTTL          time.Duration
	BusinessHours    BusinessHours
	// OrgDomains are the internal domains used when the workspace lists none
	OrgDomains []string
}

// Adapter turns notifications into trigger events
type Adapter struct {
	store      storage.Store
	events     *events.Manager
	dispatcher dispatch.Dispatcher
	locks      locks.Manager
	clients    ClientProvider
	limiter    *ratelimit.Limiter
	filters    *triggers.FilterEvaluator
	config     Config
	logger     logging.Logger
}

// NewAdapter wires an adapter
func NewAdapter(
	store storage.Store,
	eventManager *events.Manager,
	dispatcher dispatch.Dispatcher,
	lockManager locks.Manager,
	clients ClientProvider,
	limiter *ratelimit.Limiter,
	filters *triggers.FilterEvaluator,
	config Config,
	logger logging.Logger,
) *Adapter {
	if config.MaxMessages <= 0 {
		config.MaxMessages = 50
	}
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = 5
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 15 * time.Second
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}
	if config.LockTTL <= 0 {
		config.LockTTL = time.Minute
	}

	return &Adapter{
		store:      store,
		events:     eventManager,
		dispatcher: dispatcher,
		locks:      lockManager,
		clients:    clients,
		limiter:    limiter,
		filters:    filters,
		config:     config,
		logger:     logger,
	}
}

// connection carries what one notification resolved to
type connection struct {
	integration *models.Integration
	agent       *models.Agent
	triggers    []*models.EventTrigger
	domains     []string
	n           *Notification
	base        events.Params
	log         logging.Logger
}

// HandleNotification processes one mailbox notification. A nil error means
// the notification is accounted for and must be acknowledged; an error means
// nothing durable happened and the transport should redeliver.
func (a *Adapter) HandleNotification(ctx context.Context, n *Notification) (*Result, error) {
	log := a.logger.WithContext(ctx).WithFields(
		logging.String("email_address", n.EmailAddress),
		logging.String("history_id", n.HistoryID),
	)

	sctx, cancel := a.storeCtx(ctx)
	integration, err := a.store.GetIntegrationByAccount(sctx, ProviderName, n.EmailAddress)
	cancel()
	if stderrors.Is(err, storage.ErrNotFound) {
		log.Info("Notification for unknown account acknowledged")
		return &Result{Success: true, Reason: ReasonUnknownAccount}, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to resolve integration", err)
	}

	c := &connection{
		integration: integration,
		n:           n,
		log: log.WithFields(
			logging.String("connection_key", integration.ConnectionKey()),
			logging.String("integration_id", integration.ID),
		),
		base: events.Params{
			AgentID:        integration.AgentID,
			WorkspaceID:    integration.WorkspaceID,
			SourceType:     models.SourceTypeTrigger,
			TriggerType:    models.TriggerTypeEvent,
			IntegrationKey: ProviderName,
			IntegrationID:  integration.ID,
			EventName:      EventName,
			Payload:        notificationPayload(n),
		},
	}

	if !integration.IsActive {
		return a.skip(ctx, c, ReasonInactive, fmt.Sprintf("integration %s is inactive", integration.ID))
	}

	sctx, cancel = a.storeCtx(ctx)
	agent, err := a.store.GetAgent(sctx, integration.AgentID)
	cancel()
	if stderrors.Is(err, storage.ErrNotFound) {
		return a.skip(ctx, c, ReasonAgentMissing, fmt.Sprintf("agent %s not found", integration.AgentID))
	}
	if err != nil {
		return nil, errors.InternalError("failed to load agent", err)
	}
	c.agent = agent
	if !agent.IsEnabled {
		return a.skip(ctx, c, ReasonAgentDisabled, fmt.Sprintf("agent %s is disabled", agent.ID))
	}

	sctx, cancel = a.storeCtx(ctx)
	c.triggers, err = a.store.FindActiveEventTriggers(sctx, agent.ID, EventName)
	cancel()
	if err != nil {
		return nil, errors.InternalError("failed to load event triggers", err)
	}
	if len(c.triggers) == 0 {
		return a.skip(ctx, c, ReasonNoTrigger, fmt.Sprintf("no active trigger for %s on agent %s", EventName, agent.ID))
	}

	sctx, cancel = a.storeCtx(ctx)
	if ws, err := a.store.GetWorkspace(sctx, integration.WorkspaceID); err == nil {
		c.domains = ws.Domains
	}
	cancel()
	if len(c.domains) == 0 {
		c.domains = a.config.OrgDomains
	}

	lockCtx, cancelLock := context.WithTimeout(ctx, a.config.LockTTL)
	lock, err := a.locks.AcquireLock(lockCtx, integration.ConnectionKey(), a.config.LockTTL)
	cancelLock()
	if err != nil {
		// the lock holder lists everything after the stored cursor, which
		// covers this notification's history
		c.log.Warn("Connection busy, notification recorded as failed", logging.Err(err))
		return a.fail(ctx, c, ReasonBusy, fmt.Errorf("connection %s busy: %w", integration.ConnectionKey(), err))
	}
	defer lock.Release(context.Background())

	// work never outlives the lock
	workCtx, cancelWork := context.WithTimeout(ctx, a.config.LockTTL)
	defer cancelWork()

	return a.process(workCtx, c)
}

func (a *Adapter) process(ctx context.Context, c *connection) (*Result, error) {
	key := c.integration.ConnectionKey()

	sctx, cancel := a.storeCtx(ctx)
	cursor, err := a.store.GetCursor(sctx, key)
	cancel()

	if stderrors.Is(err, storage.ErrNotFound) {
		sctx, cancel = a.storeCtx(ctx)
		err = a.store.CompareAndSwapCursor(sctx, key, "", c.n.HistoryID)
		cancel()
		switch {
		case err == nil:
			c.log.Info("Baseline cursor stored")
			return a.skip(ctx, c, ReasonBaseline, fmt.Sprintf("baseline cursor %s stored; no earlier history to process", c.n.HistoryID))
		case stderrors.Is(err, storage.ErrConflict):
			sctx, cancel = a.storeCtx(ctx)
			cursor, err = a.store.GetCursor(sctx, key)
			cancel()
		}
	}
	if err != nil {
		return nil, errors.InternalError("failed to read cursor", err)
	}

	target := c.n.HistoryID
	if cursor.PendingValue != nil {
		target = maxCursor(target, *cursor.PendingValue)
	}
	if compareCursors(target, cursor.Value) <= 0 {
		return a.skip(ctx, c, ReasonAlreadyProcessed,
			fmt.Sprintf("history %s already processed (cursor %s)", c.n.HistoryID, cursor.Value))
	}

	provider, err := a.clients.ClientFor(ctx, c.integration)
	if err != nil {
		c.log.Error("Mailbox client unavailable", err)
		return a.fail(ctx, c, ReasonClientError, fmt.Errorf("mailbox client unavailable: %w", err))
	}

	changes, err := a.listChanges(ctx, provider, key, cursor.Value)
	switch {
	case stderrors.Is(err, ErrRateLimited):
		return a.deferBatch(ctx, c, cursor.Value, target, &Result{})
	case stderrors.Is(err, ErrCursorExpired):
		sctx, cancel = a.storeCtx(ctx)
		casErr := a.store.CompareAndSwapCursor(sctx, key, cursor.Value, target)
		cancel()
		if casErr != nil && !stderrors.Is(casErr, storage.ErrConflict) {
			return nil, errors.InternalError("failed to reset expired cursor", casErr)
		}
		c.log.Warn("History expired, cursor reset", logging.String("cursor", cursor.Value))
		return a.skip(ctx, c, ReasonCursorExpired,
			fmt.Sprintf("history after %s is no longer available; cursor reset to %s", cursor.Value, target))
	case err != nil:
		if stderrors.Is(err, ErrUnauthorized) {
			a.dropClient(c.integration)
		}
		c.log.Error("Failed to list mailbox changes", err)
		return a.fail(ctx, c, ReasonProviderError, fmt.Errorf("list history: %w", err))
	}

	c.log.Debug("Mailbox delta fetched",
		logging.String("cursor", cursor.Value),
		logging.Int("messages", len(changes.MessageIDs)),
		logging.Bool("truncated", changes.Truncated),
	)

	result, rateLimited := a.processBatch(ctx, provider, c, changes.MessageIDs)
	if rateLimited {
		return a.deferBatch(ctx, c, cursor.Value, target, result)
	}

	next := changes.Cursor
	if !changes.Truncated {
		next = maxCursor(target, changes.Cursor)
	}

	sctx, cancel = a.storeCtx(ctx)
	err = a.store.CompareAndSwapCursor(sctx, key, cursor.Value, next)
	cancel()
	switch {
	case stderrors.Is(err, storage.ErrConflict):
		c.log.Warn("Cursor advanced concurrently; keeping the newer value", logging.String("cursor", next))
	case err != nil:
		return nil, errors.InternalError("failed to advance cursor", err)
	}

	if changes.Truncated && compareCursors(target, next) > 0 {
		sctx, cancel = a.storeCtx(ctx)
		if err := a.store.MarkCursorPending(sctx, key, next, target); err != nil {
			c.log.Warn("Failed to record pending cursor", logging.Err(err))
		}
		cancel()
		c.log.Info("Backlog truncated, remainder pending", logging.String("cursor", next), logging.String("pending", target))
	}

	if len(changes.MessageIDs) == 0 {
		return a.skip(ctx, c, ReasonNoChanges, fmt.Sprintf("no new messages between %s and %s", cursor.Value, next))
	}

	result.Success = true
	c.log.Info("Mailbox batch processed",
		logging.Int("processed", result.Processed),
		logging.Int("skipped", result.Skipped),
		logging.Int("failed", result.Failed),
		logging.String("cursor", next),
	)
	return result, nil
}

// dropClient forgets a cached client whose credentials were rejected, so the
// next notification builds a fresh one
func (a *Adapter) dropClient(integration *models.Integration) {
	if inv, ok := a.clients.(interface{ Invalidate(*models.Integration) }); ok {
		inv.Invalidate(integration)
	}
}

func (a *Adapter) listChanges(ctx context.Context, provider Provider, key, since string) (*ChangeSet, error) {
	if err := a.limiter.WaitForKey(ctx, key); err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, a.config.ProviderTimeout)
	defer cancel()
	return provider.ListChanges(pctx, since, a.config.MaxMessages)
}

// deferBatch leaves the cursor where it is and records target as pending so
// the next notification catches up. The transport is told not to retry.
func (a *Adapter) deferBatch(ctx context.Context, c *connection, current, target string, result *Result) (*Result, error) {
	key := c.integration.ConnectionKey()

	sctx, cancel := a.storeCtx(ctx)
	err := a.store.MarkCursorPending(sctx, key, current, target)
	cancel()
	if err != nil {
		c.log.Warn("Failed to record pending cursor", logging.Err(err))
	}

	c.log.Warn("Provider rate limit hit, batch deferred",
		logging.String("cursor", current),
		logging.String("pending", target),
	)

	actx, cancelAudit := a.auditCtx(ctx, a.config.StoreTimeout)
	defer cancelAudit()
	if _, err := a.events.Skip(actx, c.base, "provider rate limit exceeded; batch deferred until the next notification"); err != nil {
		return nil, errors.InternalError("failed to record deferred notification", err)
	}

	result.Success = false
	result.Retryable = false
	result.Skipped++
	result.Reason = ReasonRateLimited
	return result, nil
}

func (a *Adapter) skip(ctx context.Context, c *connection, reason, message string) (*Result, error) {
	actx, cancel := a.auditCtx(ctx, a.config.StoreTimeout)
	defer cancel()
	if _, err := a.events.Skip(actx, c.base, message); err != nil {
		return nil, errors.InternalError("failed to record skipped notification", err)
	}
	return &Result{Success: true, Skipped: 1, Reason: reason}, nil
}

func (a *Adapter) fail(ctx context.Context, c *connection, reason string, cause error) (*Result, error) {
	actx, cancel := a.auditCtx(ctx, a.config.StoreTimeout)
	defer cancel()
	if _, err := a.events.Fail(actx, c.base, cause); err != nil {
		return nil, errors.InternalError("failed to record failed notification", err)
	}
	return &Result{Success: false, Failed: 1, Retryable: true, Reason: reason}, nil
}

// processBatch handles every message id concurrently. It reports whether a
// provider rate limit cut the batch short.
func (a *Adapter) processBatch(ctx context.Context, provider Provider, c *connection, ids []string) (*Result, bool) {
	var (
		mu     sync.Mutex
		result = &Result{}
	)
	count := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeProcessed:
			result.Processed++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.FetchConcurrency)

	key := c.integration.ConnectionKey()
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			raw, err := a.fetch(gctx, provider, key, id)
			if stderrors.Is(err, ErrRateLimited) {
				return err
			}
			if err != nil {
				if gctx.Err() != nil && ctx.Err() == nil {
					// the batch was aborted by a sibling
					return nil
				}
				c.log.Warn("Failed to fetch message", logging.String("message_id", id), logging.Err(err))
				params := c.base
				params.Payload = map[string]interface{}{"provider": ProviderName, "historyId": c.n.HistoryID, "messageId": id}
				actx, cancel := a.auditCtx(ctx, a.config.StoreTimeout)
				if _, ferr := a.events.Fail(actx, params, fmt.Errorf("fetch message %s: %w", id, err)); ferr != nil {
					c.log.Error("Failed to record message failure", ferr)
				}
				cancel()
				count(outcomeFailed)
				return nil
			}

			count(a.handleMessage(ctx, c, raw))
			return nil
		})
	}

	err := g.Wait()
	return result, stderrors.Is(err, ErrRateLimited)
}

func (a *Adapter) fetch(ctx context.Context, provider Provider, key, id string) (*RawMessage, error) {
	if err := a.limiter.WaitForKey(ctx, key); err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, a.config.ProviderTimeout)
	defer cancel()
	return provider.FetchMessage(pctx, id)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeProcessed
	outcomeFailed
)

// handleMessage records one RECEIVED event per matching trigger, dispatches
// unless the message is already mirrored, then mirrors it
func (a *Adapter) handleMessage(ctx context.Context, c *connection, raw *RawMessage) outcome {
	log := c.log.WithFields(logging.String("message_id", raw.ID))
	dctx, cancelMessage := a.auditCtx(ctx, 2*a.config.StoreTimeout+a.config.ProviderTimeout)
	defer cancelMessage()

	parsed, err := ParseMessage(raw.Raw)
	if err != nil {
		params := c.base
		params.Payload = map[string]interface{}{"provider": ProviderName, "historyId": c.n.HistoryID, "messageId": raw.ID}
		if _, ferr := a.events.Fail(dctx, params, fmt.Errorf("parse message %s: %w", raw.ID, err)); ferr != nil {
			log.Error("Failed to record message failure", ferr)
		}
		return outcomeFailed
	}

	enrichment := Enrich(parsed, raw, c.domains, a.config.BusinessHours)
	event := triggers.ToMap(newMessageEvent(c, raw, parsed, enrichment))

	var (
		received []*models.TriggerEvent
		failed   bool
	)
	for _, t := range c.triggers {
		params := c.base
		params.TriggerID = triggers.FormatID(models.SourceTypeTrigger, t.ID)
		params.TriggerType = t.TriggerType
		params.Payload = triggers.EventInput(t, event)

		matched, err := a.filters.Matches(t.Filter, event)
		switch {
		case err != nil:
			failed = true
			if _, ferr := a.events.Fail(dctx, params, fmt.Errorf("filter evaluation failed: %w", err)); ferr != nil {
				log.Error("Failed to record filter failure", ferr)
			}
		case !matched:
			if _, serr := a.events.Skip(dctx, params, "message did not match the trigger filter"); serr != nil {
				log.Error("Failed to record filtered message", serr)
			}
		default:
			e, cerr := a.events.Create(dctx, params)
			if cerr != nil {
				failed = true
				log.Error("Failed to record trigger event", cerr)
				continue
			}
			received = append(received, e)
		}
	}

	// a mirror row is only written once dispatch has been attempted, so a
	// message whose events never left RECEIVED is dispatched on redelivery
	sctx, cancel := a.storeCtx(dctx)
	_, err = a.store.GetEmailMessage(sctx, c.integration.ID, raw.ID)
	cancel()
	switch {
	case err == nil:
		for _, e := range received {
			if err := a.events.MarkSkipped(dctx, e, fmt.Sprintf("message %s already processed", raw.ID)); err != nil {
				log.Warn("Failed to mark duplicate skipped", logging.Err(err))
			}
		}
		a.mirror(dctx, log, c, raw, parsed, enrichment)
		log.Debug("Duplicate message skipped")
		return outcomeSkipped
	case !stderrors.Is(err, storage.ErrNotFound):
		log.Error("Failed to look up mirrored message", err)
		for _, e := range received {
			a.markFailed(dctx, log, e, fmt.Errorf("look up mirrored message: %w", err))
		}
		return outcomeFailed
	}

	delivered := false
	for _, e := range received {
		pctx, cancel := context.WithTimeout(dctx, a.config.ProviderTimeout)
		if err := a.events.Deliver(pctx, a.dispatcher, e); err != nil {
			failed = true
		} else {
			delivered = true
		}
		cancel()
	}
	a.mirror(dctx, log, c, raw, parsed, enrichment)

	switch {
	case delivered:
		return outcomeProcessed
	case failed:
		return outcomeFailed
	}
	return outcomeSkipped
}

// mirror upserts the message row. A failure only costs deduplication: a
// replayed delta dispatches the message again.
func (a *Adapter) mirror(ctx context.Context, log logging.Logger, c *connection, raw *RawMessage, parsed *ParsedMessage, e Enrichment) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	if _, err := a.store.UpsertEmailMessage(sctx, newMirror(c, raw, parsed, e)); err != nil {
		log.Error("Failed to mirror message", err)
	}
}

func (a *Adapter) markFailed(ctx context.Context, log logging.Logger, e *models.TriggerEvent, cause error) {
	if err := a.events.MarkFailed(ctx, e, cause); err != nil {
		log.Warn("Failed to mark trigger event failed", logging.Err(err))
	}
}

func (a *Adapter) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.config.StoreTimeout)
}

// auditCtx survives cancellation of ctx, so audit records are written even
// after the work deadline has passed
func (a *Adapter) auditCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
