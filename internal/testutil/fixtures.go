package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
)

// Fixture is a seeded workspace with one agent and one Gmail integration
type Fixture struct {
	Workspace   *models.Workspace
	Agent       *models.Agent
	Integration *models.Integration
}

// FixtureOption adjusts a fixture before it is stored
type FixtureOption func(*Fixture)

// WithDisabledAgent stores the agent with IsEnabled false
func WithDisabledAgent() FixtureOption {
	return func(f *Fixture) { f.Agent.IsEnabled = false }
}

// WithInactiveIntegration stores the integration with IsActive false
func WithInactiveIntegration() FixtureOption {
	return func(f *Fixture) { f.Integration.IsActive = false }
}

// SeedDirectory stores a workspace owning acme.com, an enabled agent and an
// active Gmail integration for account.
func SeedDirectory(t *testing.T, s storage.DirectoryStore, account string, opts ...FixtureOption) *Fixture {
	t.Helper()

	f := &Fixture{
		Workspace: &models.Workspace{
			ID:       "ws-1",
			Name:     "Acme",
			Domains:  []string{"acme.com"},
			Timezone: "UTC",
		},
		Agent: &models.Agent{
			ID:          "agent-1",
			WorkspaceID: "ws-1",
			Name:        "inbox triage",
			IsEnabled:   true,
		},
		Integration: &models.Integration{
			ID:              "conn-1",
			Provider:        models.ProviderGmail,
			ExternalAccount: strings.ToLower(account),
			AgentID:         "agent-1",
			WorkspaceID:     "ws-1",
			IsActive:        true,
		},
	}
	for _, opt := range opts {
		opt(f)
	}

	ctx := context.Background()
	require.NoError(t, s.UpsertWorkspace(ctx, f.Workspace))
	require.NoError(t, s.UpsertAgent(ctx, f.Agent))
	require.NoError(t, s.UpsertIntegration(ctx, f.Integration))
	return f
}

// Email describes an RFC 822 message for RawEmail
type Email struct {
	From      string
	To        string
	Subject   string
	Date      time.Time
	MessageID string
	Headers   map[string]string
	Text      string
	HTML      string
}

// RawEmail renders e as an RFC 822 message. A message with both Text and
// HTML becomes multipart/alternative.
func RawEmail(e Email) []byte {
	if e.Date.IsZero() {
		e.Date = time.Date(2024, 3, 11, 14, 30, 0, 0, time.UTC)
	}

	var b strings.Builder
	header := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	header("From", e.From)
	header("To", e.To)
	header("Subject", e.Subject)
	header("Date", e.Date.Format(time.RFC1123Z))
	header("Message-ID", e.MessageID)

	keys := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		header(k, e.Headers[k])
	}
	header("MIME-Version", "1.0")

	switch {
	case e.Text != "" && e.HTML != "":
		boundary := "b1_alternative"
		header("Content-Type", `multipart/alternative; boundary="`+boundary+`"`)
		b.WriteString("\r\n")
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, e.Text)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, e.HTML)
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case e.HTML != "":
		header("Content-Type", "text/html; charset=utf-8")
		b.WriteString("\r\n" + e.HTML + "\r\n")
	default:
		header("Content-Type", "text/plain; charset=utf-8")
		b.WriteString("\r\n" + e.Text + "\r\n")
	}
	return []byte(b.String())
}
