package app

import (
	"agent-triggers/internal/auth"
)

func (app *App) initializeAuth() error {
	authInstance, err := auth.New(app.Config.JWTSecret, app.Config.JWTTTL, app.Logger)
	if err != nil {
		return err
	}
	app.Auth = authInstance
	return nil
}
