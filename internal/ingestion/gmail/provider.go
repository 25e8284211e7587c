package gmail

import (
	"context"
	stderrors "errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"agent-triggers/internal/models"
)

var (
	// ErrRateLimited reports a provider quota or rate-limit response
	ErrRateLimited = stderrors.New("provider rate limit exceeded")
	// ErrCursorExpired reports a start cursor the provider no longer retains
	ErrCursorExpired = stderrors.New("provider cursor expired")
	// ErrUnauthorized reports credentials the provider no longer accepts
	ErrUnauthorized = stderrors.New("provider rejected mailbox credentials")
)

// ChangeSet is the bounded delta between two cursors
type ChangeSet struct {
	MessageIDs []string
	// Cursor is the position the delta reaches. When Truncated is set it is
	// the last history record consumed, otherwise the mailbox's latest.
	Cursor    string
	Truncated bool
}

// RawMessage is one provider message with its RFC 822 source
type RawMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate time.Time
	Raw          []byte
}

// Provider is a mailbox client bound to one connection
type Provider interface {
	// ListChanges returns ids of messages added after since, at most max
	ListChanges(ctx context.Context, since string, max int) (*ChangeSet, error)
	FetchMessage(ctx context.Context, id string) (*RawMessage, error)
}

// ClientProvider returns a working provider client for a connection
type ClientProvider interface {
	ClientFor(ctx context.Context, integration *models.Integration) (Provider, error)
}

// BuildFunc creates a provider client for an integration
type BuildFunc func(ctx context.Context, integration *models.Integration) (Provider, error)

// ClientCache memoizes clients per integration
type ClientCache struct {
	build   BuildFunc
	clients *gocache.Cache
}

// NewClientCache caches clients produced by build for ttl
func NewClientCache(build BuildFunc, ttl time.Duration) *ClientCache {
	return &ClientCache{build: build, clients: gocache.New(ttl, 2*ttl)}
}

func (c *ClientCache) ClientFor(ctx context.Context, integration *models.Integration) (Provider, error) {
	key := integration.ConnectionKey()
	if cached, ok := c.clients.Get(key); ok {
		return cached.(Provider), nil
	}

	client, err := c.build(ctx, integration)
	if err != nil {
		return nil, err
	}
	c.clients.SetDefault(key, client)
	return client, nil
}

// Invalidate drops the cached client of an integration
func (c *ClientCache) Invalidate(integration *models.Integration) {
	c.clients.Delete(integration.ConnectionKey())
}
