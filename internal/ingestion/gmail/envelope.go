package gmail

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"agent-triggers/internal/common/errors"
)

// PushEnvelope is the body Pub/Sub posts to a push endpoint
type PushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime time.Time         `json:"publishTime"`
		Attributes  map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Notification is the decoded mailbox change notice
type Notification struct {
	EmailAddress string
	HistoryID    string
	MessageID    string
}

// DecodeEnvelope parses a push envelope and its base64 inner notification
func DecodeEnvelope(body []byte) (*Notification, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.ValidationError("malformed push envelope").WithCause(err)
	}
	if len(env.Message.Data) == 0 {
		return nil, errors.ValidationError("push envelope has no message data")
	}

	n, err := DecodeNotification(env.Message.Data)
	if err != nil {
		return nil, err
	}
	n.MessageID = env.Message.MessageID
	return n, nil
}

// DecodeNotification parses the inner notification JSON. The history id may
// arrive as a JSON number or string.
func DecodeNotification(data []byte) (*Notification, error) {
	var inner struct {
		EmailAddress string          `json:"emailAddress"`
		HistoryID    json.RawMessage `json:"historyId"`
	}
	if err := json.Unmarshal(data, &inner); err != nil {
		return nil, errors.ValidationError("malformed mailbox notification").WithCause(err)
	}

	historyID := strings.Trim(string(bytes.TrimSpace(inner.HistoryID)), `"`)
	if _, err := strconv.ParseUint(historyID, 10, 64); err != nil {
		return nil, errors.ValidationError("notification history id must be a positive integer")
	}

	email := strings.TrimSpace(inner.EmailAddress)
	if email == "" {
		return nil, errors.ValidationError("notification has no email address")
	}

	return &Notification{EmailAddress: strings.ToLower(email), HistoryID: historyID}, nil
}

// compareCursors orders two history ids numerically, falling back to a string
// comparison when either is not numeric
func compareCursors(a, b string) int {
	ai, errA := strconv.ParseUint(a, 10, 64)
	bi, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func maxCursor(a, b string) string {
	if compareCursors(a, b) >= 0 {
		return a
	}
	return b
}
