package gmail

import (
	"time"

	"agent-triggers/internal/models"
)

// messageEvent is the event body trigger filters and input mappings see
type messageEvent struct {
	Provider  string       `json:"provider"`
	Account   string       `json:"account"`
	HistoryID string       `json:"historyId"`
	Message   eventMessage `json:"message"`
}

type eventMessage struct {
	ID         string   `json:"id"`
	ThreadID   string   `json:"threadId"`
	MessageID  string   `json:"messageId,omitempty"`
	From       string   `json:"from"`
	FromName   string   `json:"fromName,omitempty"`
	To         []string `json:"to"`
	Cc         []string `json:"cc,omitempty"`
	Subject    string   `json:"subject"`
	Snippet    string   `json:"snippet"`
	Labels     []string `json:"labels"`
	ReceivedAt string   `json:"receivedAt"`
	Enrichment
}

func newMessageEvent(c *connection, raw *RawMessage, parsed *ParsedMessage, e Enrichment) messageEvent {
	return messageEvent{
		Provider:  ProviderName,
		Account:   c.integration.ExternalAccount,
		HistoryID: c.n.HistoryID,
		Message: eventMessage{
			ID:         raw.ID,
			ThreadID:   raw.ThreadID,
			MessageID:  parsed.MessageID,
			From:       parsed.From,
			FromName:   parsed.FromName,
			To:         nonNil(parsed.To),
			Cc:         parsed.Cc,
			Subject:    parsed.Subject,
			Snippet:    parsed.Snippet,
			Labels:     nonNil(raw.LabelIDs),
			ReceivedAt: receivedAt(raw, parsed).Format(time.RFC3339),
			Enrichment: e,
		},
	}
}

func newMirror(c *connection, raw *RawMessage, parsed *ParsedMessage, e Enrichment) *models.EmailMessage {
	return &models.EmailMessage{
		IntegrationID:       c.integration.ID,
		ExternalMessageID:   raw.ID,
		ThreadID:            raw.ThreadID,
		From:                parsed.From,
		To:                  nonNil(parsed.To),
		Subject:             parsed.Subject,
		Snippet:             parsed.Snippet,
		Labels:              nonNil(raw.LabelIDs),
		ReceivedAt:          receivedAt(raw, parsed),
		IsInternal:          e.IsInternal,
		IsForwarded:         e.IsForwarded,
		IsImportant:         e.IsImportant,
		WithinBusinessHours: e.WithinBusinessHours,
	}
}

func notificationPayload(n *Notification) map[string]interface{} {
	payload := map[string]interface{}{
		"provider":     ProviderName,
		"emailAddress": n.EmailAddress,
		"historyId":    n.HistoryID,
	}
	if n.MessageID != "" {
		payload["notificationId"] = n.MessageID
	}
	return payload
}

func receivedAt(raw *RawMessage, parsed *ParsedMessage) time.Time {
	if !raw.InternalDate.IsZero() {
		return raw.InternalDate
	}
	return parsed.Date
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
