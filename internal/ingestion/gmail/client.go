package gmail

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/models"
)

const userID = "me"

// Client reads one mailbox through the Gmail API
type Client struct {
	svc *gmailapi.Service
}

// NewClient wraps a configured Gmail service
func NewClient(svc *gmailapi.Service) *Client {
	return &Client{svc: svc}
}

// ServiceAccountBuilder builds clients that impersonate the integration's
// mailbox with a domain-wide delegated service account key
func ServiceAccountBuilder(credentialsJSON []byte, opts ...option.ClientOption) BuildFunc {
	return func(ctx context.Context, integration *models.Integration) (Provider, error) {
		conf, err := google.JWTConfigFromJSON(credentialsJSON, gmailapi.GmailReadonlyScope)
		if err != nil {
			return nil, errors.ConfigError("invalid gmail service account credentials").WithCause(err)
		}
		conf.Subject = integration.ExternalAccount

		// the token source outlives the request that first builds the client
		clientOpts := append([]option.ClientOption{option.WithTokenSource(conf.TokenSource(context.Background()))}, opts...)
		svc, err := gmailapi.NewService(context.Background(), clientOpts...)
		if err != nil {
			return nil, errors.ConnectionError("failed to create gmail service", err)
		}
		return NewClient(svc), nil
	}
}

// ListChanges pages through messageAdded history after since. Records are
// consumed whole, so a truncated delta ends on a record boundary.
func (c *Client) ListChanges(ctx context.Context, since string, max int) (*ChangeSet, error) {
	start, err := strconv.ParseUint(since, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid start history id %q: %w", since, err)
	}

	var (
		out       = &ChangeSet{Cursor: since}
		seen      = make(map[string]struct{})
		pageToken string
	)

	for {
		call := c.svc.Users.History.List(userID).
			StartHistoryId(start).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			var gerr *googleapi.Error
			if stderrors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %v", ErrCursorExpired, err)
			}
			return nil, classify(err)
		}

		for _, h := range resp.History {
			added := make([]string, 0, len(h.MessagesAdded))
			for _, ma := range h.MessagesAdded {
				if ma.Message == nil {
					continue
				}
				if _, dup := seen[ma.Message.Id]; dup {
					continue
				}
				added = append(added, ma.Message.Id)
			}

			if max > 0 && len(out.MessageIDs)+len(added) > max && len(out.MessageIDs) > 0 {
				out.Truncated = true
				return out, nil
			}

			for _, id := range added {
				seen[id] = struct{}{}
			}
			out.MessageIDs = append(out.MessageIDs, added...)
			out.Cursor = strconv.FormatUint(h.Id, 10)
		}

		if resp.NextPageToken == "" {
			if resp.HistoryId > 0 {
				out.Cursor = maxCursor(out.Cursor, strconv.FormatUint(resp.HistoryId, 10))
			}
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

// FetchMessage returns the raw RFC 822 form of one message
func (c *Client) FetchMessage(ctx context.Context, id string) (*RawMessage, error) {
	msg, err := c.svc.Users.Messages.Get(userID, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}

	return &RawMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     msg.LabelIds,
		Snippet:      msg.Snippet,
		InternalDate: time.UnixMilli(msg.InternalDate).UTC(),
		Raw:          raw,
	}, nil
}

func decodeRaw(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

// classify maps Gmail quota responses onto ErrRateLimited and rejected
// credentials onto ErrUnauthorized
func classify(err error) error {
	var gerr *googleapi.Error
	if !stderrors.As(err, &gerr) {
		return err
	}

	switch gerr.Code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case http.StatusForbidden:
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
				return fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
		}
	}
	return err
}
