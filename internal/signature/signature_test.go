package signature

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"

	"agent-triggers/internal/common/logging"
)

func TestHMACVerifier(t *testing.T) {
	body := []byte(`{"event":"deploy.finished"}`)
	secret := "whsec_test"
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	v := NewHMACVerifier(5 * time.Minute)
	v.now = func() time.Time { return now }

	newRequest := func(headers map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/webhooks/triggers/deploys", strings.NewReader(string(body)))
		for k, val := range headers {
			r.Header.Set(k, val)
		}
		return r
	}

	t.Run("prefixed signature", func(t *testing.T) {
		r := newRequest(map[string]string{SignatureHeader: "sha256=" + Sign(secret, body)})
		assert.NoError(t, v.Verify(r, body, secret))
	})

	t.Run("bare uppercase signature", func(t *testing.T) {
		r := newRequest(map[string]string{SignatureHeader: strings.ToUpper(Sign(secret, body))})
		assert.NoError(t, v.Verify(r, body, secret))
	})

	t.Run("timestamped signature", func(t *testing.T) {
		ts := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
		r := newRequest(map[string]string{
			SignatureHeader: Sign(secret, append([]byte(ts+"."), body...)),
			TimestampHeader: ts,
		})
		assert.NoError(t, v.Verify(r, body, secret))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		ts := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
		r := newRequest(map[string]string{
			SignatureHeader: Sign(secret, append([]byte(ts+"."), body...)),
			TimestampHeader: ts,
		})
		err := v.Verify(r, body, secret)
		require.Error(t, err)
		assert.True(t, IsVerificationError(err))
	})

	t.Run("wrong secret", func(t *testing.T) {
		r := newRequest(map[string]string{SignatureHeader: Sign("other", body)})
		assert.True(t, IsVerificationError(v.Verify(r, body, secret)))
	})

	t.Run("missing header", func(t *testing.T) {
		err := v.Verify(newRequest(nil), body, secret)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing signature header")
	})

	t.Run("no secret configured", func(t *testing.T) {
		assert.NoError(t, v.Verify(newRequest(nil), body, ""))
	})
}

func TestPreserveRequestBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("payload"))

	body, err := PreserveRequestBody(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	again, err := PreserveRequestBody(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(again))
}

func fakeValidator(claims map[string]interface{}) TokenValidator {
	return func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
		if token != "good-token" || audience != "https://triggers.example.com/webhooks/gmail" {
			return nil, stderrors.New("idtoken: invalid token")
		}
		return &idtoken.Payload{Audience: audience, Claims: claims}, nil
	}
}

func TestPushAuthenticator(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewNopLogger()
	audience := "https://triggers.example.com/webhooks/gmail"
	account := "gmail-push@project.iam.gserviceaccount.com"

	t.Run("shared token", func(t *testing.T) {
		a := NewPushAuthenticator(PushConfig{SharedToken: "s3cret"}, logger)

		r := httptest.NewRequest(http.MethodPost, "/webhooks/gmail?token=s3cret", nil)
		assert.NoError(t, a.Authenticate(ctx, r))

		r = httptest.NewRequest(http.MethodPost, "/webhooks/gmail?token=wrong", nil)
		assert.True(t, IsVerificationError(a.Authenticate(ctx, r)))

		r = httptest.NewRequest(http.MethodPost, "/webhooks/gmail", nil)
		assert.True(t, IsVerificationError(a.Authenticate(ctx, r)))
	})

	t.Run("oidc bearer token", func(t *testing.T) {
		a := NewPushAuthenticator(PushConfig{Audience: audience, ServiceAccount: account}, logger).
			WithValidator(fakeValidator(map[string]interface{}{"email": account, "email_verified": true}))

		r := httptest.NewRequest(http.MethodPost, "/webhooks/gmail", nil)
		r.Header.Set("Authorization", "Bearer good-token")
		assert.NoError(t, a.Authenticate(ctx, r))

		r.Header.Set("Authorization", "Bearer forged")
		assert.True(t, IsVerificationError(a.Authenticate(ctx, r)))

		r.Header.Del("Authorization")
		assert.True(t, IsVerificationError(a.Authenticate(ctx, r)))
	})

	t.Run("oidc token for another account", func(t *testing.T) {
		a := NewPushAuthenticator(PushConfig{Audience: audience, ServiceAccount: account}, logger).
			WithValidator(fakeValidator(map[string]interface{}{"email": "intruder@example.com", "email_verified": true}))

		r := httptest.NewRequest(http.MethodPost, "/webhooks/gmail", nil)
		r.Header.Set("Authorization", "Bearer good-token")
		assert.True(t, IsVerificationError(a.Authenticate(ctx, r)))
	})

	t.Run("not configured", func(t *testing.T) {
		a := NewPushAuthenticator(PushConfig{}, logger)
		r := httptest.NewRequest(http.MethodPost, "/webhooks/gmail?token=anything", nil)
		assert.True(t, IsVerificationError(a.Authenticate(ctx, r)))
	})
}
