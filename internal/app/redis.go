package app

import (
	"context"

	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/locks"
	"agent-triggers/internal/redis"
)

func (app *App) initializeRedis(ctx context.Context) error {
	if !app.Config.RedisEnabled() {
		app.Logger.Info("Redis: Not configured (using in-process locks, single replica only)")
		app.Locks = locks.NewLocalManager()
		app.onClose(app.Locks.Close)
		return nil
	}

	redisClient, err := redis.NewClient(ctx, redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
	})
	if err != nil {
		return err
	}
	app.RedisClient = redisClient
	app.onClose(redisClient.Close)
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))

	manager, err := locks.NewRedsyncManager(redisClient, app.Logger)
	if err != nil {
		return err
	}
	app.Locks = manager
	app.onClose(manager.Close)
	app.Logger.Info("Distributed Locks: Enabled")

	return nil
}
