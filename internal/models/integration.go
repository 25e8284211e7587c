package models

import "time"

// ProviderGmail identifies the Gmail push integration
const ProviderGmail = "gmail"

// Workspace is the organization that owns agents and integrations
type Workspace struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Domains  []string `json:"domains"`
	Timezone string   `json:"timezone,omitempty"`
}

// Agent is the execution target of triggers
type Agent struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
	IsEnabled   bool   `json:"isEnabled"`
}

// Integration is a connected upstream account attached to an agent
type Integration struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	ExternalAccount string    `json:"externalAccount"`
	AgentID         string    `json:"agentId"`
	WorkspaceID     string    `json:"workspaceId"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ConnectionKey names the cursor and lock scope of the integration
func (i *Integration) ConnectionKey() string {
	return i.Provider + ":" + i.ID
}

// IntegrationCursor is the last fully processed provider position for a connection.
// PendingValue records a notification cursor whose batch was deferred by a rate limit.
type IntegrationCursor struct {
	ConnectionKey string    `json:"connectionKey"`
	Value         string    `json:"value"`
	PendingValue  *string   `json:"pendingValue,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// EmailMessage mirrors one provider message, keyed by (IntegrationID, ExternalMessageID)
type EmailMessage struct {
	ID                  string    `json:"id"`
	IntegrationID       string    `json:"integrationId"`
	ExternalMessageID   string    `json:"externalMessageId"`
	ThreadID            string    `json:"threadId"`
	From                string    `json:"from"`
	To                  []string  `json:"to"`
	Subject             string    `json:"subject"`
	Snippet             string    `json:"snippet"`
	Labels              []string  `json:"labels"`
	ReceivedAt          time.Time `json:"receivedAt"`
	IsInternal          bool      `json:"isInternal"`
	IsForwarded         bool      `json:"isForwarded"`
	IsImportant         bool      `json:"isImportant"`
	WithinBusinessHours bool      `json:"withinBusinessHours"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}
