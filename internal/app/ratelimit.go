package app

import (
	"net/http"

	"agent-triggers/internal/auth"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/common/ratelimit"
)

// initializeRateLimiters builds the per-connection ingestion budget shared by
// the Gmail and webhook adapters, and the per-subject admin API budget
func (app *App) initializeRateLimiters() error {
	ingest, err := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: app.Config.ProviderRPS,
		BurstSize:         app.Config.ProviderBurst,
		Enabled:           app.Config.ProviderRPS > 0,
	})
	if err != nil {
		return err
	}
	app.IngestLimiter = ingest

	if app.Config.APIRateLimitRPS <= 0 {
		app.Logger.Info("Rate Limiting: Admin API disabled")
		return nil
	}
	api, err := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: app.Config.APIRateLimitRPS,
		BurstSize:         app.Config.APIRateLimitBurst,
		Enabled:           true,
	})
	if err != nil {
		return err
	}
	app.APILimiter = api
	app.Logger.Info("Rate Limiting: Enabled",
		logging.Any("requests_per_second", app.Config.APIRateLimitRPS),
		logging.Int("burst", app.Config.APIRateLimitBurst),
	)
	return nil
}

// subjectKey charges admin requests to the token subject, falling back to
// the client address
func subjectKey(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return "sub:" + claims.Subject
	}
	return "ip:" + ratelimit.RemoteIPKey(r)
}
