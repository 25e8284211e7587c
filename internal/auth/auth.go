// Package auth authenticates admin API callers with HS256 bearer tokens
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
)

// Issuer is the iss claim of every token this service issues and accepts
const Issuer = "agent-triggers"

// MinSecretLength is the shortest HS256 secret accepted
const MinSecretLength = 32

type contextKey string

const claimsKey contextKey = "claims"

// Claims are the JWT claims of an admin token
type Claims struct {
	WorkspaceID string `json:"workspaceId,omitempty"`
	jwt.RegisteredClaims
}

// Auth issues and validates admin tokens
type Auth struct {
	secret []byte
	ttl    time.Duration
	logger logging.Logger
}

// New creates an authenticator for secret
func New(secret string, ttl time.Duration, logger logging.Logger) (*Auth, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.ConfigError(fmt.Sprintf("JWT secret must be at least %d characters", MinSecretLength))
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl, logger: logger}, nil
}

// GenerateJWT issues a token for subject, optionally scoped to a workspace
func (a *Auth) GenerateJWT(subject, workspaceID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateJWT parses token and checks its signature, issuer and expiry
func (a *Auth) ValidateJWT(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.AuthError("invalid token").WithCause(err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.AuthError("invalid token")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token and stores the
// claims on the request context
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			a.unauthorized(w, "authentication required")
			return
		}

		claims, err := a.ValidateJWT(strings.TrimSpace(token))
		if err != nil {
			a.logger.WithContext(r.Context()).Debug("Rejected admin token", logging.Err(err))
			a.unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = logging.ContextWithSubject(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="agent-triggers"`)
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q,"message":%q}`, errors.ErrTypeAuth, message)
}

// ClaimsFromContext returns the claims RequireAuth stored on ctx
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
