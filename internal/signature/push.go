package signature

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"google.golang.org/api/idtoken"

	"agent-triggers/internal/common/logging"
)

// TokenValidator validates a Google-signed ID token for audience
type TokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// PushConfig configures push notification authentication. At least one of
// SharedToken and Audience must be set.
type PushConfig struct {
	SharedToken    string
	Audience       string
	ServiceAccount string
}

// PushAuthenticator authenticates provider push deliveries
type PushAuthenticator struct {
	config   PushConfig
	validate TokenValidator
	logger   logging.Logger
}

// NewPushAuthenticator creates an authenticator validating OIDC tokens with idtoken.Validate
func NewPushAuthenticator(config PushConfig, logger logging.Logger) *PushAuthenticator {
	return &PushAuthenticator{
		config:   config,
		validate: idtoken.Validate,
		logger:   logger,
	}
}

// WithValidator replaces the OIDC token validator
func (a *PushAuthenticator) WithValidator(v TokenValidator) *PushAuthenticator {
	a.validate = v
	return a
}

// Authenticate accepts the request if the shared token matches or the bearer
// token is a valid assertion for the configured audience and service account
func (a *PushAuthenticator) Authenticate(ctx context.Context, r *http.Request) error {
	if a.config.SharedToken == "" && a.config.Audience == "" {
		return NewVerificationError("", "push authentication is not configured")
	}

	if a.config.SharedToken != "" {
		if token := r.URL.Query().Get("token"); token != "" {
			if subtle.ConstantTimeCompare([]byte(token), []byte(a.config.SharedToken)) == 1 {
				return nil
			}
			return NewVerificationError("", "invalid push token")
		}
	}

	if a.config.Audience == "" {
		return NewVerificationError("", "missing push token")
	}

	bearer, ok := bearerToken(r)
	if !ok {
		return NewVerificationError("Authorization", "missing bearer token")
	}

	payload, err := a.validate(ctx, bearer, a.config.Audience)
	if err != nil {
		a.logger.Debug("Push token rejected", logging.Err(err))
		return NewVerificationError("Authorization", "invalid identity token")
	}

	if a.config.ServiceAccount != "" {
		email, _ := payload.Claims["email"].(string)
		verified, _ := payload.Claims["email_verified"].(bool)
		if !verified || !strings.EqualFold(email, a.config.ServiceAccount) {
			return NewVerificationError("Authorization", "identity token issued to unexpected account")
		}
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}
